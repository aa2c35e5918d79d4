//go:build linux

package mediasessions

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	ps "github.com/mitchellh/go-ps"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

const (
	mprisPrefix = "org.mpris.MediaPlayer2."
	mprisPath   = dbus.ObjectPath("/org/mpris/MediaPlayer2")

	mprisRootInterface   = "org.mpris.MediaPlayer2"
	mprisPlayerInterface = "org.mpris.MediaPlayer2.Player"
	dbusPropsInterface   = "org.freedesktop.DBus.Properties"

	// microseconds, per the MPRIS spec
	mprisTicksPerSecond = 1_000_000
)

// mprisBackend speaks MPRIS over the session bus. Each player registers a
// well-known name under org.mpris.MediaPlayer2.*; the suffix is our session
// key.
type mprisBackend struct {
	logger *zap.SugaredLogger

	conn    *dbus.Conn
	signals chan *dbus.Signal
	updates chan BackendEvent

	pa *paVolumeFallback // nil when PulseAudio is unreachable

	mu sync.Mutex
	// well-known player name per session key, and the reverse lookup from
	// the unique owner names that signals carry
	players map[string]string
	owners  map[string]string

	stopOnce sync.Once
	done     chan struct{}
	watcher  sync.WaitGroup
}

func newPlatformBackends(logger *zap.SugaredLogger) ([]Backend, error) {
	b, err := newMPRISBackend(logger)
	if err != nil {
		return nil, err
	}
	return []Backend{b}, nil
}

func newMPRISBackend(logger *zap.SugaredLogger) (*mprisBackend, error) {
	logger = logger.Named("backend.mpris")

	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		logger.Warnw("Failed to open session bus connection", "error", err)
		return nil, fmt.Errorf("open session bus: %w", err)
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("authenticate on session bus: %w", err)
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send bus hello: %w", err)
	}

	b := &mprisBackend{
		logger:  logger,
		conn:    conn,
		signals: make(chan *dbus.Signal, 64),
		updates: make(chan BackendEvent, 64),
		players: make(map[string]string),
		owners:  make(map[string]string),
		done:    make(chan struct{}),
	}

	// volume fallback for players without a controllable MPRIS Volume
	if pa, err := newPAVolumeFallback(logger); err == nil {
		b.pa = pa
	} else {
		logger.Debugw("PulseAudio unavailable, no volume fallback", "error", err)
	}

	logger.Debug("Created MPRIS backend instance")

	return b, nil
}

func (b *mprisBackend) Name() string { return backendNameMPRIS }

func (b *mprisBackend) Start() error {
	if err := b.conn.AddMatchSignal(
		dbus.WithMatchInterface(dbusPropsInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(mprisPath),
	); err != nil {
		return fmt.Errorf("match PropertiesChanged: %w", err)
	}

	if err := b.conn.AddMatchSignal(
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return fmt.Errorf("match NameOwnerChanged: %w", err)
	}

	b.conn.Signal(b.signals)

	b.watcher.Add(1)
	go b.watchSignals()

	b.logger.Debug("Started MPRIS signal watcher")

	return nil
}

func (b *mprisBackend) Updates() <-chan BackendEvent { return b.updates }

func (b *mprisBackend) GetAllSessions() ([]RawSnapshot, error) {
	var names []string
	if err := b.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		b.logger.Warnw("Failed to list bus names", "error", err)
		return nil, fmt.Errorf("list bus names: %w", err)
	}

	playerNames := funk.FilterString(names, func(name string) bool {
		return strings.HasPrefix(name, mprisPrefix)
	})

	snapshots := []RawSnapshot{}
	for _, name := range funk.UniqString(playerNames) {
		key := strings.TrimPrefix(name, mprisPrefix)
		b.trackPlayer(key, name)

		raw, err := b.snapshotPlayer(key, name)
		if err != nil {
			b.logger.Warnw("Failed to snapshot player", "player", name, "error", err)
			continue
		}

		snapshots = append(snapshots, *raw)
	}

	return snapshots, nil
}

func (b *mprisBackend) watchSignals() {
	defer b.watcher.Done()

	for {
		select {
		case <-b.done:
			return

		case sig, ok := <-b.signals:
			if !ok {
				return
			}
			b.handleSignal(sig)
		}
	}
}

func (b *mprisBackend) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case "org.freedesktop.DBus.NameOwnerChanged":
		if len(sig.Body) != 3 {
			return
		}
		name, _ := sig.Body[0].(string)
		oldOwner, _ := sig.Body[1].(string)
		newOwner, _ := sig.Body[2].(string)

		if !strings.HasPrefix(name, mprisPrefix) {
			return
		}
		key := strings.TrimPrefix(name, mprisPrefix)

		switch {
		case newOwner == "":
			b.untrackPlayer(key)
			b.deliver(BackendEvent{Kind: BackendSessionClosed, Key: key})

		case oldOwner == "":
			b.trackPlayer(key, name)
			if raw, err := b.snapshotPlayer(key, name); err == nil {
				b.deliver(BackendEvent{Kind: BackendSessionChanged, Key: key, Snapshot: raw})
			} else {
				b.logger.Debugw("Failed to snapshot newly opened player",
					"player", name, "error", err)
			}
		}

	case dbusPropsInterface + ".PropertiesChanged":
		key, name, ok := b.lookupOwner(sig.Sender)
		if !ok {
			return
		}

		if len(sig.Body) >= 2 {
			if changed, ok := sig.Body[1].(map[string]dbus.Variant); ok {
				b.deliverSideChannelChanges(key, changed)
			}
		}

		raw, err := b.snapshotPlayer(key, name)
		if err != nil {
			b.logger.Debugw("Failed to snapshot player on change", "player", name, "error", err)
			return
		}
		b.deliver(BackendEvent{Kind: BackendSessionChanged, Key: key, Snapshot: raw})
	}
}

// deliverSideChannelChanges emits volume and repeat/shuffle events, which
// have no home in the snapshot model.
func (b *mprisBackend) deliverSideChannelChanges(key string, changed map[string]dbus.Variant) {
	if v, ok := changed["Volume"]; ok {
		if level, ok := v.Value().(float64); ok {
			b.deliver(BackendEvent{Kind: BackendVolumeChanged, Key: key, Volume: level})
		}
	}

	_, loopChanged := changed["LoopStatus"]
	_, shuffleChanged := changed["Shuffle"]
	if loopChanged || shuffleChanged {
		name, ok := b.playerName(key)
		if !ok {
			return
		}
		obj := b.conn.Object(name, mprisPath)

		ev := BackendEvent{Kind: BackendRepeatModeChanged, Key: key}
		if v, err := obj.GetProperty(mprisPlayerInterface + ".LoopStatus"); err == nil {
			if s, ok := v.Value().(string); ok {
				ev.Repeat = loopStatusToRepeatMode(s)
			}
		}
		if v, err := obj.GetProperty(mprisPlayerInterface + ".Shuffle"); err == nil {
			if s, ok := v.Value().(bool); ok {
				ev.Shuffle = s
			}
		}

		b.deliver(ev)
	}
}

func (b *mprisBackend) deliver(ev BackendEvent) {
	select {
	case b.updates <- ev:
	case <-b.done:
	}
}

func (b *mprisBackend) trackPlayer(key, name string) {
	var owner string
	if err := b.conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner); err != nil {
		b.logger.Debugw("Failed to resolve player owner", "player", name, "error", err)
	}

	b.mu.Lock()
	b.players[key] = name
	if owner != "" {
		b.owners[owner] = key
	}
	b.mu.Unlock()
}

func (b *mprisBackend) untrackPlayer(key string) {
	b.mu.Lock()
	delete(b.players, key)
	for owner, k := range b.owners {
		if k == key {
			delete(b.owners, owner)
		}
	}
	b.mu.Unlock()
}

func (b *mprisBackend) playerName(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name, ok := b.players[key]
	return name, ok
}

func (b *mprisBackend) lookupOwner(sender string) (key, name string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key, ok = b.owners[sender]
	if !ok {
		return "", "", false
	}
	name, ok = b.players[key]
	return key, name, ok
}

// snapshotPlayer fetches the player's full state in one GetAll round-trip.
func (b *mprisBackend) snapshotPlayer(key, name string) (*RawSnapshot, error) {
	obj := b.conn.Object(name, mprisPath)

	var props map[string]dbus.Variant
	if err := obj.Call(dbusPropsInterface+".GetAll", 0, mprisPlayerInterface).Store(&props); err != nil {
		return nil, fmt.Errorf("get player properties: %w", err)
	}

	raw := &RawSnapshot{
		Key:            key,
		AppName:        b.resolveAppName(name),
		TicksPerSecond: mprisTicksPerSecond,
	}

	if v, ok := props["PlaybackStatus"]; ok {
		raw.StatusText, _ = v.Value().(string)
	}

	if v, ok := props["Position"]; ok {
		if pos, ok := v.Value().(int64); ok {
			raw.PositionTicks = pos
			raw.HasPosition = true
		}
	}

	if v, ok := props["Metadata"]; ok {
		if meta, ok := v.Value().(map[string]dbus.Variant); ok {
			b.applyMetadata(raw, meta)
		}
	}

	return raw, nil
}

func (b *mprisBackend) applyMetadata(raw *RawSnapshot, meta map[string]dbus.Variant) {
	raw.Title = metaString(meta, "xesam:title")
	raw.Album = metaString(meta, "xesam:album")
	raw.Artist = strings.Join(metaStrings(meta, "xesam:artist"), ", ")
	raw.Genre = strings.Join(metaStrings(meta, "xesam:genre"), ", ")
	raw.SourceURL = metaString(meta, "xesam:url")

	if v, ok := meta["mpris:length"]; ok {
		switch length := v.Value().(type) {
		case int64:
			raw.DurationTicks = length
			raw.HasDuration = true
		case uint64:
			raw.DurationTicks = int64(length)
			raw.HasDuration = true
		}
	}

	if n := metaInt(meta, "xesam:trackNumber"); n > 0 {
		raw.TrackNumber = uint32(n)
	}
	if n := metaInt(meta, "xesam:discNumber"); n > 0 {
		raw.DiscNumber = uint32(n)
	}

	// xesam:contentCreated is an ISO 8601 date; the year is its prefix
	if created := metaString(meta, "xesam:contentCreated"); len(created) >= 4 {
		if t, err := time.Parse("2006", created[:4]); err == nil {
			raw.Year = int32(t.Year())
			raw.HasYear = true
		}
	}

	if artURL := metaString(meta, "mpris:artUrl"); artURL != "" {
		raw.ThumbnailURL = artURL
		raw.Artwork = readArtworkFile(artURL)
	}
}

// readArtworkFile loads art bytes for file:// URLs. Remote art stays a URL;
// callers can fetch it themselves if they want the bytes.
func readArtworkFile(artURL string) []byte {
	u, err := url.Parse(artURL)
	if err != nil || u.Scheme != "file" {
		return nil
	}

	data, err := os.ReadFile(u.Path)
	if err != nil {
		return nil
	}
	return data
}

func (b *mprisBackend) resolveAppName(name string) string {
	obj := b.conn.Object(name, mprisPath)

	if v, err := obj.GetProperty(mprisRootInterface + ".Identity"); err == nil {
		if identity, ok := v.Value().(string); ok && identity != "" {
			return identity
		}
	}

	// no Identity; fall back to the owning process executable
	if pid, err := b.playerPID(name); err == nil {
		if process, err := ps.FindProcess(pid); err == nil && process != nil {
			return process.Executable()
		}
	}

	return strings.TrimPrefix(name, mprisPrefix)
}

func (b *mprisBackend) playerPID(name string) (int, error) {
	var pid uint32
	if err := b.conn.BusObject().Call(
		"org.freedesktop.DBus.GetConnectionUnixProcessID", 0, name,
	).Store(&pid); err != nil {
		return 0, fmt.Errorf("get player pid: %w", err)
	}
	return int(pid), nil
}

func (b *mprisBackend) Capabilities(key string) Capability {
	name, ok := b.playerName(key)
	if !ok {
		return 0
	}

	obj := b.conn.Object(name, mprisPath)
	var caps Capability

	boolProp := func(prop string) bool {
		v, err := obj.GetProperty(mprisPlayerInterface + "." + prop)
		if err != nil {
			return false
		}
		val, _ := v.Value().(bool)
		return val
	}

	if boolProp("CanPlay") {
		caps |= CanPlay
	}
	if boolProp("CanPause") {
		caps |= CanPause
	}
	if boolProp("CanGoNext") {
		caps |= CanNext
	}
	if boolProp("CanGoPrevious") {
		caps |= CanPrevious
	}
	if boolProp("CanSeek") {
		caps |= CanSeek
	}
	if boolProp("CanControl") {
		caps |= CanStop | CanSetVolume | CanSetRepeat | CanSetShuffle
	} else if b.pa != nil {
		// uncontrollable player, but we can still drive its stream volume
		caps |= CanSetVolume
	}

	return caps
}

func (b *mprisBackend) call(key, method string, args ...interface{}) error {
	name, ok := b.playerName(key)
	if !ok {
		return ErrNoSession
	}

	obj := b.conn.Object(name, mprisPath)
	if call := obj.Call(mprisPlayerInterface+"."+method, 0, args...); call.Err != nil {
		return fmt.Errorf("call %s on %s: %w", method, name, call.Err)
	}
	return nil
}

func (b *mprisBackend) Play(key string) error      { return b.call(key, "Play") }
func (b *mprisBackend) Pause(key string) error     { return b.call(key, "Pause") }
func (b *mprisBackend) PlayPause(key string) error { return b.call(key, "PlayPause") }
func (b *mprisBackend) Stop(key string) error      { return b.call(key, "Stop") }
func (b *mprisBackend) Next(key string) error      { return b.call(key, "Next") }
func (b *mprisBackend) Previous(key string) error  { return b.call(key, "Previous") }

func (b *mprisBackend) Seek(key string, position time.Duration) error {
	name, ok := b.playerName(key)
	if !ok {
		return ErrNoSession
	}
	obj := b.conn.Object(name, mprisPath)

	target := position.Microseconds()

	// SetPosition needs the current track id; prefer it, fall back to a
	// relative Seek from the current position
	if v, err := obj.GetProperty(mprisPlayerInterface + ".Metadata"); err == nil {
		if meta, ok := v.Value().(map[string]dbus.Variant); ok {
			if tid, ok := meta["mpris:trackid"]; ok {
				if trackID, ok := tid.Value().(dbus.ObjectPath); ok {
					return b.call(key, "SetPosition", trackID, target)
				}
			}
		}
	}

	var current int64
	if v, err := obj.GetProperty(mprisPlayerInterface + ".Position"); err == nil {
		current, _ = v.Value().(int64)
	}
	return b.call(key, "Seek", target-current)
}

func (b *mprisBackend) SetVolume(key string, level float64) error {
	name, ok := b.playerName(key)
	if !ok {
		return ErrNoSession
	}

	obj := b.conn.Object(name, mprisPath)
	err := obj.SetProperty(mprisPlayerInterface+".Volume", dbus.MakeVariant(level))
	if err == nil {
		return nil
	}

	if b.pa != nil {
		b.logger.Debugw("MPRIS volume rejected, using PulseAudio fallback",
			"player", name, "error", err)

		pid, pidErr := b.playerPID(name)
		if pidErr == nil {
			return b.pa.SetProcessVolume(pid, level)
		}
	}

	return fmt.Errorf("set player volume: %w", err)
}

func (b *mprisBackend) SetRepeatMode(key string, mode RepeatMode) error {
	name, ok := b.playerName(key)
	if !ok {
		return ErrNoSession
	}

	obj := b.conn.Object(name, mprisPath)
	if err := obj.SetProperty(
		mprisPlayerInterface+".LoopStatus",
		dbus.MakeVariant(repeatModeToLoopStatus(mode)),
	); err != nil {
		return fmt.Errorf("set loop status: %w", err)
	}
	return nil
}

func (b *mprisBackend) SetShuffle(key string, enabled bool) error {
	name, ok := b.playerName(key)
	if !ok {
		return ErrNoSession
	}

	obj := b.conn.Object(name, mprisPath)
	if err := obj.SetProperty(mprisPlayerInterface+".Shuffle", dbus.MakeVariant(enabled)); err != nil {
		return fmt.Errorf("set shuffle: %w", err)
	}
	return nil
}

func (b *mprisBackend) Release() error {
	var err error

	b.stopOnce.Do(func() {
		close(b.done)
		b.conn.RemoveSignal(b.signals)

		if closeErr := b.conn.Close(); closeErr != nil {
			b.logger.Warnw("Failed to close session bus connection", "error", closeErr)
			err = fmt.Errorf("close session bus: %w", closeErr)
		}

		b.watcher.Wait()
		close(b.updates)

		if b.pa != nil {
			b.pa.Release()
		}

		b.logger.Debug("Released MPRIS backend instance")
	})

	return err
}

func loopStatusToRepeatMode(s string) RepeatMode {
	switch s {
	case "Track":
		return RepeatOne
	case "Playlist":
		return RepeatAll
	default:
		return RepeatNone
	}
}

func repeatModeToLoopStatus(mode RepeatMode) string {
	switch mode {
	case RepeatOne:
		return "Track"
	case RepeatAll:
		return "Playlist"
	default:
		return "None"
	}
}

func metaString(meta map[string]dbus.Variant, key string) string {
	v, ok := meta[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func metaStrings(meta map[string]dbus.Variant, key string) []string {
	v, ok := meta[key]
	if !ok {
		return nil
	}
	ss, _ := v.Value().([]string)
	return ss
}

func metaInt(meta map[string]dbus.Variant, key string) int64 {
	v, ok := meta[key]
	if !ok {
		return 0
	}
	switch n := v.Value().(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case uint32:
		return int64(n)
	default:
		return 0
	}
}
