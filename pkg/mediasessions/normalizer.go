package mediasessions

import (
	"strings"
	"time"
)

// smtcPlaybackStatus values from the WinRT
// GlobalSystemMediaTransportControlsSessionPlaybackStatus enum.
const (
	smtcStatusClosed = iota
	smtcStatusOpened
	smtcStatusChanging
	smtcStatusStopped
	smtcStatusPlaying
	smtcStatusPaused
)

// MediaRemote kMRPlaybackState values.
const (
	mrStateUnknown = iota
	mrStatePlaying
	mrStatePaused
	mrStateStopped
)

// normalize converts a raw platform snapshot into the canonical MediaInfo.
// It is a pure function: unit conversion, status mapping and absence policy
// only. Artwork bytes are copied, never aliased to backend-owned memory.
func normalize(raw *RawSnapshot, backend string) MediaInfo {
	info := MediaInfo{
		Title:        raw.Title,
		Artist:       raw.Artist,
		Album:        raw.Album,
		Genre:        raw.Genre,
		SourceURL:    raw.SourceURL,
		ThumbnailURL: raw.ThumbnailURL,
		MediaType:    raw.MediaTypeHint,
		Status:       normalizeStatus(raw, backend),
	}

	if raw.HasDuration {
		info.Duration = ticksToDuration(raw.DurationTicks, raw.TicksPerSecond)
	}
	if raw.HasPosition {
		info.Position = ticksToDuration(raw.PositionTicks, raw.TicksPerSecond)
	}

	// clamp position into the known duration; some players keep ticking
	// past the end of the track during gapless transitions
	if info.Duration != nil && info.Position != nil && *info.Position > *info.Duration {
		info.Position = cloneDuration(info.Duration)
	}

	if raw.TrackNumber > 0 {
		info.TrackNumber = cloneUint32(&raw.TrackNumber)
	}
	if raw.DiscNumber > 0 {
		info.DiscNumber = cloneUint32(&raw.DiscNumber)
	}
	if raw.HasYear {
		info.Year = cloneInt32(&raw.Year)
	}

	if len(raw.Artwork) > 0 {
		info.Artwork = append([]byte(nil), raw.Artwork...)
	}

	return info
}

func normalizeStatus(raw *RawSnapshot, backend string) PlaybackStatus {
	if raw.StatusText != "" {
		// MPRIS reports strings
		switch strings.ToLower(raw.StatusText) {
		case "playing":
			return StatusPlaying
		case "paused":
			return StatusPaused
		default:
			return StatusStopped
		}
	}

	switch backend {
	case backendNameSMTC:
		switch raw.StatusCode {
		case smtcStatusPlaying:
			return StatusPlaying
		case smtcStatusPaused:
			return StatusPaused
		case smtcStatusChanging, smtcStatusOpened:
			return StatusTransitioning
		default:
			return StatusStopped
		}
	case backendNameMediaRemote:
		switch raw.StatusCode {
		case mrStatePlaying:
			return StatusPlaying
		case mrStatePaused:
			return StatusPaused
		default:
			return StatusStopped
		}
	default:
		return StatusStopped
	}
}

// ticksToDuration converts backend-native ticks into a duration. Negative
// tick counts (seen from misbehaving MPRIS players) normalize to absent.
func ticksToDuration(ticks, perSecond int64) *time.Duration {
	if ticks < 0 || perSecond <= 0 {
		return nil
	}

	secs := ticks / perSecond
	frac := ticks % perSecond
	d := time.Duration(secs)*time.Second +
		time.Duration(frac*int64(time.Second)/perSecond)

	return &d
}
