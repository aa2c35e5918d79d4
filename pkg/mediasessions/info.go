package mediasessions

import (
	"bytes"
	"fmt"
	"time"
)

// PlaybackStatus describes the playback state of a media session.
type PlaybackStatus int

const (
	StatusPlaying PlaybackStatus = iota
	StatusPaused
	StatusStopped
	StatusTransitioning
)

func (s PlaybackStatus) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	case StatusTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}

// IsPlaying returns true if the status is StatusPlaying.
func (s PlaybackStatus) IsPlaying() bool {
	return s == StatusPlaying
}

// IsPaused returns true if the status is StatusPaused.
func (s PlaybackStatus) IsPaused() bool {
	return s == StatusPaused
}

// arbitrationRank orders statuses for active-session selection. Lower wins.
func (s PlaybackStatus) arbitrationRank() int {
	switch s {
	case StatusPlaying:
		return 0
	case StatusTransitioning:
		return 1
	case StatusPaused:
		return 2
	default:
		return 3
	}
}

// RepeatMode describes the repeat behavior of a session.
type RepeatMode int

const (
	RepeatNone RepeatMode = iota
	RepeatOne
	RepeatAll
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "none"
	}
}

// MediaType is a hint about the kind of content a session carries.
// Not every backend reports one; MediaTypeUnknown is the default.
type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeMusic
	MediaTypeVideo
	MediaTypePodcast
	MediaTypeAudiobook
	MediaTypeRadio
	MediaTypeMovie
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeMusic:
		return "music"
	case MediaTypeVideo:
		return "video"
	case MediaTypePodcast:
		return "podcast"
	case MediaTypeAudiobook:
		return "audiobook"
	case MediaTypeRadio:
		return "radio"
	case MediaTypeMovie:
		return "movie"
	default:
		return "unknown"
	}
}

// MediaInfo is one normalized, immutable snapshot of a media session.
//
// Optional fields use pointers (or nil slices) so that "not reported by the
// backend" stays distinct from a legitimate zero value: an unknown release
// year is nil, never 0. Text fields use the empty string for absence.
type MediaInfo struct {
	Title  string
	Artist string
	Album  string

	// Duration and Position are nil when the backend cannot report them.
	Duration *time.Duration
	Position *time.Duration

	Status PlaybackStatus

	// Artwork holds raw image bytes (PNG/JPEG/GIF), always an owned copy,
	// never aliased to backend memory. nil or empty means no artwork.
	Artwork []byte

	TrackNumber *uint32
	DiscNumber  *uint32
	Genre       string
	Year        *int32

	SourceURL    string
	ThumbnailURL string

	MediaType MediaType
}

// HasArtwork reports whether the snapshot carries artwork bytes.
func (i *MediaInfo) HasArtwork() bool {
	return len(i.Artwork) > 0
}

// DisplayString returns "Artist - Title", degrading gracefully when
// either side is missing.
func (i *MediaInfo) DisplayString() string {
	switch {
	case i.Artist == "":
		return i.Title
	case i.Title == "":
		return i.Artist
	default:
		return fmt.Sprintf("%s - %s", i.Artist, i.Title)
	}
}

// Progress returns the playback progress in [0.0, 1.0], or 0 when either
// duration or position is unknown.
func (i *MediaInfo) Progress() float64 {
	if i.Duration == nil || i.Position == nil || *i.Duration <= 0 {
		return 0
	}

	p := i.Position.Seconds() / i.Duration.Seconds()
	if p > 1 {
		p = 1
	}
	return p
}

// ArtworkFormat sniffs the artwork magic bytes and returns "PNG", "JPEG"
// or "GIF", or the empty string when artwork is absent or unrecognized.
func (i *MediaInfo) ArtworkFormat() string {
	switch {
	case bytes.HasPrefix(i.Artwork, []byte{0x89, 0x50, 0x4E, 0x47}):
		return "PNG"
	case bytes.HasPrefix(i.Artwork, []byte{0xFF, 0xD8, 0xFF}):
		return "JPEG"
	case bytes.HasPrefix(i.Artwork, []byte{0x47, 0x49, 0x46, 0x38}):
		return "GIF"
	default:
		return ""
	}
}

// Clone returns a deep copy of the snapshot. Artwork bytes and pointer
// fields are duplicated so the copy never shares memory with the engine's
// cached state.
func (i *MediaInfo) Clone() MediaInfo {
	out := *i

	if i.Artwork != nil {
		out.Artwork = append([]byte(nil), i.Artwork...)
	}
	out.Duration = cloneDuration(i.Duration)
	out.Position = cloneDuration(i.Position)
	out.TrackNumber = cloneUint32(i.TrackNumber)
	out.DiscNumber = cloneUint32(i.DiscNumber)
	out.Year = cloneInt32(i.Year)

	return out
}

// sameContent reports whether two snapshots differ only in position and
// duration. This is the debouncer's definition of "pure playhead advance":
// anything else is a material change.
func (i *MediaInfo) sameContent(other *MediaInfo) bool {
	return i.Title == other.Title &&
		i.Artist == other.Artist &&
		i.Album == other.Album &&
		i.Status == other.Status &&
		bytes.Equal(i.Artwork, other.Artwork) &&
		equalUint32(i.TrackNumber, other.TrackNumber) &&
		equalUint32(i.DiscNumber, other.DiscNumber) &&
		i.Genre == other.Genre &&
		equalInt32(i.Year, other.Year) &&
		i.SourceURL == other.SourceURL &&
		i.ThumbnailURL == other.ThumbnailURL &&
		i.MediaType == other.MediaType
}

func (i *MediaInfo) String() string {
	s := i.DisplayString()
	if i.Album != "" {
		s = fmt.Sprintf("%s (%s)", s, i.Album)
	}
	if i.Year != nil {
		s = fmt.Sprintf("%s [%d]", s, *i.Year)
	}
	return s
}

func cloneDuration(d *time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneUint32(n *uint32) *uint32 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func cloneInt32(n *int32) *int32 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func equalUint32(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalInt32(a, b *int32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
