package mediasessions

import "time"

// EventKind tags an engine event.
type EventKind int

const (
	// EventMetadataChanged fires when any metadata field of the active
	// session's track changes. Event.Info carries the full snapshot.
	EventMetadataChanged EventKind = iota

	// EventPlaybackStatusChanged fires on play/pause/stop transitions.
	EventPlaybackStatusChanged

	// EventPositionChanged fires on accepted playhead movement (seeks, or
	// ticks that survive the debounce window).
	EventPositionChanged

	// EventSessionOpened fires when a backend first reports a session key.
	EventSessionOpened

	// EventSessionClosed fires when a session disappears.
	EventSessionClosed

	// EventArtworkChanged fires when the album art bytes change.
	EventArtworkChanged

	// EventVolumeChanged fires on player volume changes.
	EventVolumeChanged

	// EventRepeatModeChanged fires on repeat/shuffle mode changes.
	EventRepeatModeChanged
)

func (k EventKind) String() string {
	switch k {
	case EventMetadataChanged:
		return "metadata_changed"
	case EventPlaybackStatusChanged:
		return "playback_status_changed"
	case EventPositionChanged:
		return "position_changed"
	case EventSessionOpened:
		return "session_opened"
	case EventSessionClosed:
		return "session_closed"
	case EventArtworkChanged:
		return "artwork_changed"
	case EventVolumeChanged:
		return "volume_changed"
	case EventRepeatModeChanged:
		return "repeat_mode_changed"
	default:
		return "unknown"
	}
}

// Event is one engine notification. Only the fields relevant to Kind are
// set; Info is always a caller-owned copy, safe to hold after the event.
type Event struct {
	Kind EventKind
	Key  string

	// Info is set for EventMetadataChanged.
	Info *MediaInfo

	// Status is set for EventPlaybackStatusChanged.
	Status PlaybackStatus

	// Position and OldPosition are set for EventPositionChanged.
	// OldPosition may be nil when the previous position was unknown.
	Position    *time.Duration
	OldPosition *time.Duration

	// AppName is set for EventSessionOpened.
	AppName string

	// Volume is set for EventVolumeChanged.
	Volume float64

	// Repeat and Shuffle are set for EventRepeatModeChanged.
	Repeat  RepeatMode
	Shuffle bool
}
