package mediasessions

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeBackend is a scriptable in-memory backend.
type fakeBackend struct {
	name string
	caps Capability

	mu       sync.Mutex
	sessions []RawSnapshot
	calls    []string

	controlDelay time.Duration
	controlErr   error

	updates     chan BackendEvent
	releaseOnce sync.Once
}

func newFakeBackend(sessions ...RawSnapshot) *fakeBackend {
	return &fakeBackend{
		name:     backendNameMPRIS,
		caps:     CanPlay | CanPause | CanStop | CanNext | CanPrevious | CanSeek | CanSetVolume | CanSetRepeat | CanSetShuffle,
		sessions: sessions,
		updates:  make(chan BackendEvent, 16),
	}
}

func (f *fakeBackend) Name() string  { return f.name }
func (f *fakeBackend) Start() error  { return nil }
func (f *fakeBackend) Updates() <-chan BackendEvent { return f.updates }

func (f *fakeBackend) GetAllSessions() ([]RawSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RawSnapshot(nil), f.sessions...), nil
}

func (f *fakeBackend) Capabilities(key string) Capability { return f.caps }

func (f *fakeBackend) control(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	delay, err := f.controlDelay, f.controlErr
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *fakeBackend) recordedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) Play(key string) error      { return f.control("play:" + key) }
func (f *fakeBackend) Pause(key string) error     { return f.control("pause:" + key) }
func (f *fakeBackend) PlayPause(key string) error { return f.control("play_pause:" + key) }
func (f *fakeBackend) Stop(key string) error      { return f.control("stop:" + key) }
func (f *fakeBackend) Next(key string) error      { return f.control("next:" + key) }
func (f *fakeBackend) Previous(key string) error  { return f.control("previous:" + key) }

func (f *fakeBackend) Seek(key string, position time.Duration) error {
	return f.control("seek:" + key)
}

func (f *fakeBackend) SetVolume(key string, level float64) error {
	return f.control("set_volume:" + key)
}

func (f *fakeBackend) SetRepeatMode(key string, mode RepeatMode) error {
	return f.control("set_repeat_mode:" + key)
}

func (f *fakeBackend) SetShuffle(key string, enabled bool) error {
	return f.control("set_shuffle:" + key)
}

func (f *fakeBackend) Release() error {
	f.releaseOnce.Do(func() { close(f.updates) })
	return nil
}

func playerSnap(key, app, title, status string, position time.Duration) RawSnapshot {
	return RawSnapshot{
		Key:            key,
		AppName:        app,
		Title:          title,
		StatusText:     status,
		PositionTicks:  position.Microseconds(),
		TicksPerSecond: 1_000_000,
		HasPosition:    true,
	}
}

func newTestEngine(t *testing.T, opts Options, backends ...Backend) *MediaSessions {
	t.Helper()

	m, err := newWithBackends(zap.NewNop().Sugar(), opts, backends)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	return m
}

func waitForEvent(t *testing.T, ch chan Event, kind EventKind) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %v", kind)
		}
	}
}

func expectNoEvent(t *testing.T, ch chan Event, kind EventKind, within time.Duration) {
	t.Helper()

	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind == kind {
				t.Fatalf("unexpected event %v: %+v", kind, ev)
			}
		case <-deadline:
			return
		}
	}
}

func TestEnginePrimesExistingSessions(t *testing.T) {
	fake := newFakeBackend(playerSnap("spotify", "Spotify", "Track A", "Playing", 10*time.Second))
	m := newTestEngine(t, DefaultOptions(), fake)

	info := m.Current()
	if info == nil {
		t.Fatal("expected a current session after init")
	}
	if info.Title != "Track A" {
		t.Errorf("got title %q, want %q", info.Title, "Track A")
	}
	if m.ActiveApp() != "Spotify" {
		t.Errorf("got active app %q, want Spotify", m.ActiveApp())
	}
}

func TestEngineRejectsNegativeDebounce(t *testing.T) {
	opts := DefaultOptions()
	opts.DebounceWindow = -time.Second

	_, err := newWithBackends(zap.NewNop().Sugar(), opts, []Backend{newFakeBackend()})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestEngineSuppressesPositionSpam(t *testing.T) {
	fake := newFakeBackend()
	opts := DefaultOptions()
	opts.DebounceWindow = time.Hour // suppression must hold for the whole test
	m := newTestEngine(t, opts, fake)

	events := m.Subscribe()
	defer m.Unsubscribe(events)

	snap := playerSnap("spotify", "Spotify", "Track A", "Playing", 10*time.Second)
	fake.updates <- BackendEvent{Kind: BackendSessionChanged, Key: "spotify", Snapshot: &snap}
	waitForEvent(t, events, EventSessionOpened)
	// the opening snapshot also carries an initial position event
	waitForEvent(t, events, EventPositionChanged)

	// a burst of pure playhead ticks stays invisible
	for i := 1; i <= 5; i++ {
		tick := playerSnap("spotify", "Spotify", "Track A", "Playing",
			10*time.Second+time.Duration(i)*200*time.Millisecond)
		fake.updates <- BackendEvent{Kind: BackendSessionChanged, Key: "spotify", Snapshot: &tick}
	}
	expectNoEvent(t, events, EventPositionChanged, 200*time.Millisecond)

	// a title change inside the window still goes through immediately
	change := playerSnap("spotify", "Spotify", "Track B", "Playing", 12*time.Second)
	fake.updates <- BackendEvent{Kind: BackendSessionChanged, Key: "spotify", Snapshot: &change}

	ev := waitForEvent(t, events, EventMetadataChanged)
	if ev.Info == nil || ev.Info.Title != "Track B" {
		t.Fatalf("metadata event missing new title: %+v", ev)
	}
}

func TestEngineArbitration(t *testing.T) {
	fake := newFakeBackend(
		playerSnap("spotify", "Spotify", "Track A", "Paused", 10*time.Second),
	)
	m := newTestEngine(t, DefaultOptions(), fake)

	events := m.Subscribe()
	defer m.Unsubscribe(events)

	// a playing session beats the paused one
	chrome := playerSnap("chrome", "Chrome", "Some Video", "Playing", time.Second)
	fake.updates <- BackendEvent{Kind: BackendSessionChanged, Key: "chrome", Snapshot: &chrome}
	waitForEvent(t, events, EventSessionOpened)

	if m.ActiveApp() != "Chrome" {
		t.Errorf("playing session should be active, got %q", m.ActiveApp())
	}

	// when it closes, the paused one takes over
	fake.updates <- BackendEvent{Kind: BackendSessionClosed, Key: "chrome"}
	waitForEvent(t, events, EventSessionClosed)

	if m.ActiveApp() != "Spotify" {
		t.Errorf("paused session should become active, got %q", m.ActiveApp())
	}
}

func TestEngineSessionClosedClearsCurrent(t *testing.T) {
	fake := newFakeBackend(playerSnap("spotify", "Spotify", "Track A", "Playing", 0))
	m := newTestEngine(t, DefaultOptions(), fake)

	events := m.Subscribe()
	defer m.Unsubscribe(events)

	fake.updates <- BackendEvent{Kind: BackendSessionClosed, Key: "spotify"}
	waitForEvent(t, events, EventSessionClosed)

	if m.Current() != nil {
		t.Error("Current should be nil after the only session closed")
	}
	if m.ActiveApp() != "" {
		t.Errorf("ActiveApp should be empty, got %q", m.ActiveApp())
	}
}

func TestEngineControlsWithoutSession(t *testing.T) {
	m := newTestEngine(t, DefaultOptions(), newFakeBackend())

	controls := map[string]func() error{
		"play":            m.Play,
		"pause":           m.Pause,
		"play_pause":      m.PlayPause,
		"stop":            m.Stop,
		"next":            m.Next,
		"previous":        m.Previous,
		"seek":            func() error { return m.Seek(time.Second) },
		"set_volume":      func() error { return m.SetVolume(0.5) },
		"set_repeat_mode": func() error { return m.SetRepeatMode(RepeatAll) },
		"set_shuffle":     func() error { return m.SetShuffle(true) },
	}

	for name, call := range controls {
		if err := call(); !errors.Is(err, ErrNoSession) {
			t.Errorf("%s without session: got %v, want ErrNoSession", name, err)
		}
	}
}

func TestEngineSetVolumeValidation(t *testing.T) {
	fake := newFakeBackend(playerSnap("spotify", "Spotify", "Track A", "Playing", 0))
	m := newTestEngine(t, DefaultOptions(), fake)

	for _, level := range []float64{-0.1, 1.1, math.NaN()} {
		if err := m.SetVolume(level); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SetVolume(%v): got %v, want ErrInvalidArgument", level, err)
		}
	}
	if len(fake.recordedCalls()) != 0 {
		t.Error("invalid volume must not reach the backend")
	}

	for _, level := range []float64{0.0, 0.5, 1.0} {
		if err := m.SetVolume(level); err != nil {
			t.Errorf("SetVolume(%v): unexpected error %v", level, err)
		}
	}
}

func TestEngineSeekValidation(t *testing.T) {
	snap := playerSnap("spotify", "Spotify", "Track A", "Playing", 10*time.Second)
	snap.DurationTicks = (3 * time.Minute).Microseconds()
	snap.HasDuration = true

	fake := newFakeBackend(snap)
	m := newTestEngine(t, DefaultOptions(), fake)

	if err := m.Seek(-time.Second); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative seek: got %v, want ErrInvalidArgument", err)
	}

	if err := m.Seek(10 * time.Minute); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("seek beyond duration: got %v, want ErrInvalidArgument", err)
	}
	if len(fake.recordedCalls()) != 0 {
		t.Error("rejected seeks must not reach the backend")
	}

	if err := m.Seek(time.Minute); err != nil {
		t.Errorf("valid seek failed: %v", err)
	}
	if calls := fake.recordedCalls(); len(calls) != 1 || calls[0] != "seek:spotify" {
		t.Errorf("expected one seek call, got %v", calls)
	}
}

func TestEngineUnsupportedCapability(t *testing.T) {
	fake := newFakeBackend(playerSnap("spotify", "Spotify", "Track A", "Playing", 0))
	fake.caps = CanPlay | CanPause

	m := newTestEngine(t, DefaultOptions(), fake)

	if err := m.Next(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Next without CanNext: got %v, want ErrNotSupported", err)
	}
	if err := m.Play(); err != nil {
		t.Errorf("Play with CanPlay failed: %v", err)
	}
}

func TestEngineControlTimeout(t *testing.T) {
	fake := newFakeBackend(playerSnap("spotify", "Spotify", "Track A", "Playing", 0))
	fake.controlDelay = 500 * time.Millisecond

	opts := DefaultOptions()
	opts.OperationTimeout = 50 * time.Millisecond
	m := newTestEngine(t, opts, fake)

	if err := m.Play(); !errors.Is(err, ErrTimeout) {
		t.Errorf("slow backend: got %v, want ErrTimeout", err)
	}
}

func TestEngineBackendErrorsAreWrapped(t *testing.T) {
	fake := newFakeBackend(playerSnap("spotify", "Spotify", "Track A", "Playing", 0))
	fake.controlErr = ErrNotSupported

	m := newTestEngine(t, DefaultOptions(), fake)

	if err := m.Play(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("backend error should survive wrapping, got %v", err)
	}
}

func TestEngineUnsubscribeClosesChannel(t *testing.T) {
	m := newTestEngine(t, DefaultOptions(), newFakeBackend())

	events := m.Subscribe()
	m.Unsubscribe(events)

	if _, ok := <-events; ok {
		t.Error("unsubscribed channel should be closed")
	}

	// unsubscribing twice is harmless
	m.Unsubscribe(events)
}

func TestEngineClose(t *testing.T) {
	fake := newFakeBackend(playerSnap("spotify", "Spotify", "Track A", "Playing", 0))
	m := newTestEngine(t, DefaultOptions(), fake)

	events := m.Subscribe()

	if err := m.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// consumers are drained and closed
	for range events {
	}

	if err := m.Play(); !errors.Is(err, ErrClosed) {
		t.Errorf("control after close: got %v, want ErrClosed", err)
	}
	if m.Current() != nil {
		t.Error("Current should be nil after close")
	}
}

func TestEngineInstancesAreIndependent(t *testing.T) {
	first := newTestEngine(t, DefaultOptions(),
		newFakeBackend(playerSnap("spotify", "Spotify", "Track A", "Playing", 0)))
	second := newTestEngine(t, DefaultOptions(),
		newFakeBackend(playerSnap("vlc", "VLC", "Track B", "Playing", 0)))

	if err := first.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	info := second.Current()
	if info == nil || info.Title != "Track B" {
		t.Errorf("second engine affected by closing the first: %+v", info)
	}
}

func TestEngineArtworkDisabled(t *testing.T) {
	snap := playerSnap("spotify", "Spotify", "Track A", "Playing", 0)
	snap.Artwork = []byte{0x89, 0x50, 0x4E, 0x47}

	opts := DefaultOptions()
	opts.EnableArtwork = false

	m := newTestEngine(t, opts, newFakeBackend(snap))

	info := m.Current()
	if info == nil {
		t.Fatal("expected a current session")
	}
	if info.HasArtwork() {
		t.Error("artwork should be stripped when disabled")
	}
}
