// Package mediasessions exposes a unified, cross-platform view of what media
// is currently playing on this machine, and lets callers control it. One
// engine normalizes the OS-native media-session facilities (SMTC on Windows,
// MPRIS on Linux, MediaRemote on macOS) into a single polling/event model
// with debouncing and deterministic multi-session arbitration.
package mediasessions

import (
	"bytes"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Version is the library version, surfaced verbatim at the C boundary.
const Version = "0.2.0"

const (
	// DefaultDebounceWindow suppresses position-tick spam from the OS.
	DefaultDebounceWindow = 800 * time.Millisecond

	// DefaultOperationTimeout bounds the wait for backend acknowledgment
	// of a control call.
	DefaultOperationTimeout = 5 * time.Second

	eventChannelBuffer = 16
)

// Platform returns the canonical platform name for this build.
func Platform() string {
	switch runtime.GOOS {
	case "windows", "linux":
		return runtime.GOOS
	case "darwin":
		return "macos"
	default:
		return "unknown"
	}
}

// Options configures a MediaSessions engine at construction.
type Options struct {
	// DebounceWindow is the interval during which pure playhead-advance
	// updates for a session are suppressed. Zero disables debouncing.
	DebounceWindow time.Duration

	// OperationTimeout bounds control calls (Play, Seek, ...).
	OperationTimeout time.Duration

	// EnableArtwork controls whether normalized snapshots carry artwork
	// bytes. Disabling it avoids the memory cost of cover images.
	EnableArtwork bool
}

// DefaultOptions returns the options used by New.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:   DefaultDebounceWindow,
		OperationTimeout: DefaultOperationTimeout,
		EnableArtwork:    true,
	}
}

// MediaSessions is the engine facade. Each instance owns its own tracked
// sessions, debounce bookkeeping and backend subscriptions; instances are
// fully independent of each other.
//
// All methods are safe for concurrent use. Query methods (Current,
// ActiveApp) never block on backend I/O; control methods may block up to
// Options.OperationTimeout.
type MediaSessions struct {
	logger *zap.SugaredLogger
	opts   Options

	backends []Backend

	// lock serializes all engine state: the tracked-session map, debounce
	// bookkeeping and arbitration output. Backend notifications and caller
	// queries both go through it, so a reader can never observe a torn
	// snapshot.
	lock     sync.Mutex
	sessions map[string]*trackedSession
	active   string
	detector *changeDetector
	closed   bool

	consumersMutex sync.RWMutex
	eventConsumers []chan Event

	pumps   sync.WaitGroup
	closing sync.Once
}

// New creates an engine with default options and the platform's backends.
func New(logger *zap.SugaredLogger) (*MediaSessions, error) {
	return NewWithOptions(logger, DefaultOptions())
}

// NewWithOptions creates an engine with explicit options.
func NewWithOptions(logger *zap.SugaredLogger, opts Options) (*MediaSessions, error) {
	backends, err := newPlatformBackends(logger)
	if err != nil {
		logger.Errorw("Failed to create platform backends", "error", err)
		return nil, fmt.Errorf("create platform backends: %w", err)
	}

	return newWithBackends(logger, opts, backends)
}

// newWithBackends wires the engine to an explicit backend set. Tests use it
// to inject fakes.
func newWithBackends(logger *zap.SugaredLogger, opts Options, backends []Backend) (*MediaSessions, error) {
	logger = logger.Named("engine")

	if opts.DebounceWindow < 0 {
		return nil, fmt.Errorf("%w: negative debounce window", ErrInvalidArgument)
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}

	m := &MediaSessions{
		logger:   logger,
		opts:     opts,
		backends: backends,
		sessions: make(map[string]*trackedSession),
		detector: newChangeDetector(opts.DebounceWindow),
	}

	for _, b := range backends {
		if err := b.Start(); err != nil {
			logger.Errorw("Failed to start backend", "backend", b.Name(), "error", err)

			// don't leave earlier backends half-subscribed
			for _, started := range backends {
				if started == b {
					break
				}
				started.Release()
			}
			return nil, fmt.Errorf("start %s backend: %w", b.Name(), err)
		}
	}

	m.primeSessions()

	for _, b := range backends {
		m.pumps.Add(1)
		go m.pumpBackend(b)
	}

	logger.Debugw("Created media sessions engine",
		"backends", len(backends),
		"debounceWindow", opts.DebounceWindow,
		"operationTimeout", opts.OperationTimeout)

	return m, nil
}

// primeSessions seeds the tracked-session map from each backend's current
// enumeration, so Current works before the first notification arrives.
func (m *MediaSessions) primeSessions() {
	now := time.Now()

	m.lock.Lock()
	defer m.lock.Unlock()

	for _, b := range m.backends {
		snapshots, err := b.GetAllSessions()
		if err != nil {
			m.logger.Warnw("Failed to enumerate sessions during init",
				"backend", b.Name(), "error", err)
			continue
		}

		for i := range snapshots {
			raw := &snapshots[i]
			info := normalize(raw, b.Name())
			if !m.opts.EnableArtwork {
				info.Artwork = nil
			}

			m.sessions[raw.Key] = &trackedSession{
				key:           raw.Key,
				backend:       b,
				appName:       raw.AppName,
				lastEmitted:   info,
				lastEmittedAt: now,
			}
			m.detector.record(raw.Key, info, now)
		}
	}

	m.active = selectActive(m.sessions)
}

// pumpBackend applies one backend's notifications in delivery order.
// A single goroutine per backend keeps per-key ordering trivially intact.
func (m *MediaSessions) pumpBackend(b Backend) {
	defer m.pumps.Done()

	for ev := range b.Updates() {
		m.handleBackendEvent(b, ev)
	}

	m.logger.Debugw("Backend update channel closed", "backend", b.Name())
}

func (m *MediaSessions) handleBackendEvent(b Backend, ev BackendEvent) {
	var out []Event

	m.lock.Lock()

	if m.closed {
		m.lock.Unlock()
		return
	}

	switch ev.Kind {
	case BackendSessionChanged:
		if ev.Snapshot != nil {
			out = m.applySnapshot(b, ev.Key, ev.Snapshot)
		}

	case BackendSessionClosed:
		out = m.closeSession(ev.Key)

	case BackendVolumeChanged:
		out = append(out, Event{Kind: EventVolumeChanged, Key: ev.Key, Volume: ev.Volume})

	case BackendRepeatModeChanged:
		out = append(out, Event{
			Kind:    EventRepeatModeChanged,
			Key:     ev.Key,
			Repeat:  ev.Repeat,
			Shuffle: ev.Shuffle,
		})
	}

	m.lock.Unlock()

	// fan out after releasing the engine lock so a slow consumer can't
	// stall notification processing
	for _, e := range out {
		m.emit(e)
	}
}

// applySnapshot runs one raw snapshot through normalize → debounce →
// arbitrate and returns the events to fan out. Caller holds m.lock.
func (m *MediaSessions) applySnapshot(b Backend, key string, raw *RawSnapshot) []Event {
	now := time.Now()

	info := normalize(raw, b.Name())
	if !m.opts.EnableArtwork {
		info.Artwork = nil
	}

	ts, known := m.sessions[key]
	if !known {
		ts = &trackedSession{
			key:     key,
			backend: b,
			appName: raw.AppName,
		}
		m.sessions[key] = ts
	}

	var out []Event
	if !known {
		out = append(out, Event{Kind: EventSessionOpened, Key: key, AppName: raw.AppName})
	} else if !m.detector.shouldEmit(key, &info, now) {
		m.logger.Debugw("Debounced playhead tick", "key", key)
		return nil
	}

	prev := ts.lastEmitted
	ts.lastEmitted = info
	ts.lastEmittedAt = now
	if raw.AppName != "" {
		ts.appName = raw.AppName
	}
	m.detector.record(key, info, now)
	m.active = selectActive(m.sessions)

	out = append(out, diffEvents(key, known, &prev, &info)...)
	return out
}

// closeSession removes a tracked session and re-arbitrates. Caller holds
// m.lock.
func (m *MediaSessions) closeSession(key string) []Event {
	if _, ok := m.sessions[key]; !ok {
		return nil
	}

	delete(m.sessions, key)
	m.detector.forget(key)
	m.active = selectActive(m.sessions)

	m.logger.Debugw("Session closed", "key", key, "active", m.active)

	return []Event{{Kind: EventSessionClosed, Key: key}}
}

// diffEvents derives the event set for an accepted snapshot change.
func diffEvents(key string, known bool, prev, next *MediaInfo) []Event {
	var out []Event

	metadataChanged := !known ||
		prev.Title != next.Title ||
		prev.Artist != next.Artist ||
		prev.Album != next.Album ||
		prev.Genre != next.Genre ||
		!equalUint32(prev.TrackNumber, next.TrackNumber) ||
		!equalUint32(prev.DiscNumber, next.DiscNumber) ||
		!equalInt32(prev.Year, next.Year) ||
		prev.SourceURL != next.SourceURL

	if metadataChanged {
		clone := next.Clone()
		out = append(out, Event{Kind: EventMetadataChanged, Key: key, Info: &clone})
	}

	if !known || prev.Status != next.Status {
		out = append(out, Event{Kind: EventPlaybackStatusChanged, Key: key, Status: next.Status})
	}

	if known && !bytes.Equal(prev.Artwork, next.Artwork) {
		out = append(out, Event{Kind: EventArtworkChanged, Key: key})
	}

	if next.Position != nil && (!known || prev.Position == nil || *prev.Position != *next.Position) {
		ev := Event{
			Kind:     EventPositionChanged,
			Key:      key,
			Position: cloneDuration(next.Position),
		}
		if known {
			ev.OldPosition = cloneDuration(prev.Position)
		}
		out = append(out, ev)
	}

	return out
}

// Current returns a copy of the active session's snapshot, or nil when no
// session is active. Never blocks on backend I/O.
func (m *MediaSessions) Current() *MediaInfo {
	m.lock.Lock()
	defer m.lock.Unlock()

	ts, ok := m.sessions[m.active]
	if m.active == "" || !ok {
		return nil
	}

	clone := ts.lastEmitted.Clone()
	return &clone
}

// ActiveApp returns the display name of the application owning the active
// session, or the empty string when no session is active.
func (m *MediaSessions) ActiveApp() string {
	m.lock.Lock()
	defer m.lock.Unlock()

	ts, ok := m.sessions[m.active]
	if m.active == "" || !ok {
		return ""
	}

	if ts.appName != "" {
		return ts.appName
	}
	return ts.key
}

// Play starts or resumes playback on the active session.
func (m *MediaSessions) Play() error {
	return m.routeControl("play", CanPlay, func(b Backend, key string) error {
		return b.Play(key)
	})
}

// Pause pauses playback on the active session.
func (m *MediaSessions) Pause() error {
	return m.routeControl("pause", CanPause, func(b Backend, key string) error {
		return b.Pause(key)
	})
}

// PlayPause toggles between play and pause on the active session.
func (m *MediaSessions) PlayPause() error {
	return m.routeControl("play_pause", CanPlay|CanPause, func(b Backend, key string) error {
		return b.PlayPause(key)
	})
}

// Stop stops playback on the active session.
func (m *MediaSessions) Stop() error {
	return m.routeControl("stop", CanStop, func(b Backend, key string) error {
		return b.Stop(key)
	})
}

// Next skips to the next track on the active session.
func (m *MediaSessions) Next() error {
	return m.routeControl("next", CanNext, func(b Backend, key string) error {
		return b.Next(key)
	})
}

// Previous skips to the previous track on the active session.
func (m *MediaSessions) Previous() error {
	return m.routeControl("previous", CanPrevious, func(b Backend, key string) error {
		return b.Previous(key)
	})
}

// Seek moves the playhead of the active session. A position beyond the
// session's known duration fails with ErrInvalidArgument before any backend
// call; with an unknown duration the backend decides.
func (m *MediaSessions) Seek(position time.Duration) error {
	if position < 0 {
		return fmt.Errorf("%w: negative seek position", ErrInvalidArgument)
	}

	m.lock.Lock()
	if ts, ok := m.sessions[m.active]; ok && m.active != "" {
		if d := ts.lastEmitted.Duration; d != nil && position > *d {
			m.lock.Unlock()
			return fmt.Errorf("%w: seek position %v beyond duration %v",
				ErrInvalidArgument, position, *d)
		}
	}
	m.lock.Unlock()

	return m.routeControl("seek", CanSeek, func(b Backend, key string) error {
		return b.Seek(key, position)
	})
}

// SetVolume sets the active session's volume. Values outside [0.0, 1.0]
// fail with ErrInvalidArgument without mutating any state.
func (m *MediaSessions) SetVolume(level float64) error {
	if math.IsNaN(level) || level < 0.0 || level > 1.0 {
		return fmt.Errorf("%w: volume %v outside [0.0, 1.0]", ErrInvalidArgument, level)
	}

	return m.routeControl("set_volume", CanSetVolume, func(b Backend, key string) error {
		return b.SetVolume(key, level)
	})
}

// SetRepeatMode sets the active session's repeat mode.
func (m *MediaSessions) SetRepeatMode(mode RepeatMode) error {
	if mode != RepeatNone && mode != RepeatOne && mode != RepeatAll {
		return fmt.Errorf("%w: unknown repeat mode %d", ErrInvalidArgument, mode)
	}

	return m.routeControl("set_repeat_mode", CanSetRepeat, func(b Backend, key string) error {
		return b.SetRepeatMode(key, mode)
	})
}

// SetShuffle toggles shuffle on the active session.
func (m *MediaSessions) SetShuffle(enabled bool) error {
	return m.routeControl("set_shuffle", CanSetShuffle, func(b Backend, key string) error {
		return b.SetShuffle(key, enabled)
	})
}

// routeControl resolves the active session, checks the capability flag and
// runs the backend call with a bounded wait. The engine's cached state is
// not touched here: state changes arrive later as backend notifications.
func (m *MediaSessions) routeControl(op string, required Capability, call func(Backend, string) error) error {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return ErrClosed
	}

	ts, ok := m.sessions[m.active]
	if m.active == "" || !ok {
		m.lock.Unlock()
		return ErrNoSession
	}

	key, backend := ts.key, ts.backend
	m.lock.Unlock()

	if !backend.Capabilities(key).Has(required) {
		m.logger.Debugw("Control not supported by session",
			"op", op, "key", key, "backend", backend.Name())
		return ErrNotSupported
	}

	errs := make(chan error, 1)
	go func() {
		errs <- call(backend, key)
	}()

	select {
	case err := <-errs:
		if err != nil {
			m.logger.Warnw("Backend control call failed",
				"op", op, "key", key, "backend", backend.Name(), "error", err)
			return fmt.Errorf("%s %s: %w", backend.Name(), op, err)
		}
		return nil

	case <-time.After(m.opts.OperationTimeout):
		m.logger.Warnw("Backend control call timed out",
			"op", op, "key", key, "backend", backend.Name(),
			"timeout", m.opts.OperationTimeout)
		return ErrTimeout
	}
}

// Subscribe returns a buffered channel receiving engine events. A consumer
// that falls behind misses events rather than stalling the notification
// pump. The channel is closed by Unsubscribe or Close.
func (m *MediaSessions) Subscribe() chan Event {
	ch := make(chan Event, eventChannelBuffer)

	m.consumersMutex.Lock()
	m.eventConsumers = append(m.eventConsumers, ch)
	m.consumersMutex.Unlock()

	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe. Once it
// returns, no further events are delivered on the channel.
func (m *MediaSessions) Unsubscribe(ch chan Event) {
	m.consumersMutex.Lock()
	defer m.consumersMutex.Unlock()

	for i, c := range m.eventConsumers {
		if c == ch {
			m.eventConsumers = append(m.eventConsumers[:i], m.eventConsumers[i+1:]...)
			close(c)
			return
		}
	}
}

func (m *MediaSessions) emit(ev Event) {
	m.consumersMutex.RLock()
	defer m.consumersMutex.RUnlock()

	for _, c := range m.eventConsumers {
		select {
		case c <- ev:
		default:
			// consumer buffer full, drop
		}
	}
}

// Close releases every backend subscription and all tracked sessions. It
// returns only after the notification pumps have drained, so no event is
// delivered after Close returns. Safe to call once per engine; the handle
// contract at the C boundary forbids further use afterwards.
func (m *MediaSessions) Close() error {
	var firstErr error

	m.closing.Do(func() {
		m.lock.Lock()
		m.closed = true
		m.lock.Unlock()

		for _, b := range m.backends {
			if err := b.Release(); err != nil {
				m.logger.Warnw("Failed to release backend", "backend", b.Name(), "error", err)
				if firstErr == nil {
					firstErr = fmt.Errorf("release %s backend: %w", b.Name(), err)
				}
			}
		}

		// backends closed their update channels; wait for pumps to drain
		m.pumps.Wait()

		m.consumersMutex.Lock()
		for _, c := range m.eventConsumers {
			close(c)
		}
		m.eventConsumers = nil
		m.consumersMutex.Unlock()

		m.lock.Lock()
		m.sessions = make(map[string]*trackedSession)
		m.active = ""
		m.lock.Unlock()

		m.logger.Debug("Engine closed")
	})

	return firstErr
}
