package mediasessions

import "time"

// Canonical backend names, also used by the normalizer's status mapping.
const (
	backendNameMPRIS       = "mpris"
	backendNameSMTC        = "smtc"
	backendNameMediaRemote = "mediaremote"
)

// Capability is a bitmask of control operations a session supports.
type Capability uint32

const (
	CanPlay Capability = 1 << iota
	CanPause
	CanStop
	CanNext
	CanPrevious
	CanSeek
	CanSetVolume
	CanSetRepeat
	CanSetShuffle
)

// Has reports whether all bits in c are present.
func (caps Capability) Has(c Capability) bool {
	return caps&c == c
}

// RawSnapshot is a platform snapshot of one session, in the backend's own
// units and enum values. The normalizer turns it into a MediaInfo.
//
// Numeric absence is encoded explicitly (Has* flags, zero PositionTicks with
// HasPosition false) so that backends never have to smuggle sentinels.
type RawSnapshot struct {
	// Key identifies the session, stable for the session's lifetime.
	// MPRIS: the well-known bus name suffix; SMTC: the AUMID;
	// MediaRemote: the owning bundle identifier.
	Key string

	// AppName is the human-readable name of the owning application.
	AppName string

	Title  string
	Artist string
	Album  string

	// Position/duration in backend-native ticks. TicksPerSecond declares
	// the unit: 1e7 for SMTC, 1e6 for MPRIS and MediaRemote
	// (microseconds).
	PositionTicks  int64
	DurationTicks  int64
	TicksPerSecond int64
	HasPosition    bool
	HasDuration    bool

	// StatusText carries string statuses (MPRIS "Playing"/"Paused"/...).
	// StatusCode carries integer statuses (SMTC playback status enum).
	// A backend fills exactly one of the two.
	StatusText string
	StatusCode int

	// Artwork points at backend-owned bytes; the normalizer copies them.
	Artwork []byte

	TrackNumber uint32
	DiscNumber  uint32
	Genre       string
	Year        int32
	HasYear     bool

	SourceURL    string
	ThumbnailURL string

	MediaTypeHint MediaType
}

// BackendEventKind tags a backend notification.
type BackendEventKind int

const (
	// BackendSessionChanged carries a fresh snapshot for a known or new key.
	BackendSessionChanged BackendEventKind = iota
	// BackendSessionClosed reports that the session for Key is gone.
	BackendSessionClosed
	// BackendVolumeChanged reports a player volume change.
	BackendVolumeChanged
	// BackendRepeatModeChanged reports a repeat/shuffle mode change.
	BackendRepeatModeChanged
)

// BackendEvent is one notification from a backend's watcher.
type BackendEvent struct {
	Kind BackendEventKind
	Key  string

	// Snapshot is set for BackendSessionChanged.
	Snapshot *RawSnapshot

	// Volume is set for BackendVolumeChanged, in [0.0, 1.0].
	Volume float64

	// Repeat and Shuffle are set for BackendRepeatModeChanged.
	Repeat  RepeatMode
	Shuffle bool
}

// Backend represents one OS media-session facility (MPRIS, SMTC,
// MediaRemote). Implementations deliver events for a single key in order on
// the Updates channel and must stop delivering after Release returns.
type Backend interface {
	// Name returns the backend identifier, e.g. "mpris" or "smtc".
	Name() string

	// Start begins watching the OS facility. Must be called before Updates.
	Start() error

	// GetAllSessions enumerates the currently known sessions.
	GetAllSessions() ([]RawSnapshot, error)

	// Updates returns the backend's notification channel. The channel is
	// closed by Release.
	Updates() <-chan BackendEvent

	// Capabilities reports the controls the session for key supports.
	Capabilities(key string) Capability

	Play(key string) error
	Pause(key string) error
	PlayPause(key string) error
	Stop(key string) error
	Next(key string) error
	Previous(key string) error
	Seek(key string, position time.Duration) error
	SetVolume(key string, level float64) error
	SetRepeatMode(key string, mode RepeatMode) error
	SetShuffle(key string, enabled bool) error

	// Release tears down subscriptions and closes the Updates channel.
	// No event may be delivered after Release returns.
	Release() error
}
