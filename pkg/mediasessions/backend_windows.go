//go:build windows

package mediasessions

import (
	"fmt"
	"strings"
	"sync"
	"time"

	ole "github.com/go-ole/go-ole"
	wca "github.com/moutend/go-wca"
	"go.uber.org/zap"
)

// Vtable slots, after the six IUnknown/IInspectable slots. WinRT orders
// properties alphabetically within an interface.
const (
	// IGlobalSystemMediaTransportControlsSessionManager
	slotManagerGetCurrentSession = 6
	slotManagerGetSessions       = 7

	// IGlobalSystemMediaTransportControlsSession
	slotSessionGetAumid              = 6
	slotSessionTryGetMediaProperties = 7
	slotSessionGetTimelineProperties = 8
	slotSessionGetPlaybackInfo       = 9
	slotSessionTryPlay               = 10
	slotSessionTryPause              = 11
	slotSessionTryStop               = 12
	slotSessionTrySkipNext           = 16
	slotSessionTrySkipPrevious       = 17
	slotSessionTryTogglePlayPause    = 20
	slotSessionTryChangeRepeatMode   = 21
	slotSessionTryChangeShuffle      = 22
	slotSessionTryChangePosition     = 24

	// IGlobalSystemMediaTransportControlsSessionPlaybackInfo
	slotPlaybackInfoAutoRepeatMode = 6
	slotPlaybackInfoControls       = 7
	slotPlaybackInfoStatus         = 9
	slotPlaybackInfoType           = 10
	slotPlaybackInfoShuffleActive  = 11

	// IGlobalSystemMediaTransportControlsSessionPlaybackControls
	slotControlsIsNextEnabled       = 9
	slotControlsIsPauseEnabled      = 10
	slotControlsIsPositionEnabled   = 11
	slotControlsIsPlayEnabled       = 13
	slotControlsIsPreviousEnabled   = 15
	slotControlsIsRepeatEnabled     = 17
	slotControlsIsShuffleEnabled    = 19
	slotControlsIsStopEnabled       = 20

	// IGlobalSystemMediaTransportControlsSessionTimelineProperties
	slotTimelineEndTime  = 6
	slotTimelinePosition = 10

	// IGlobalSystemMediaTransportControlsSessionMediaProperties
	slotMediaPropsAlbumTitle  = 7
	slotMediaPropsArtist      = 9
	slotMediaPropsGenres      = 10
	slotMediaPropsTitle       = 14
	slotMediaPropsTrackNumber = 15

	// IReference<T>
	slotReferenceValue = 6
)

const (
	// SMTC timeline ticks are 100ns units
	smtcTicksPerSecond = 10_000_000

	smtcPollInterval = time.Millisecond * 250
	smtcAwaitTimeout = time.Second * 2
)

// smtcBackend exposes Windows System Media Transport Controls sessions.
// SMTC has no change-notification surface we can reach without COM delegate
// objects, so the watcher polls the session manager instead; the engine's
// change detection keeps the poll noise out of the event stream.
type smtcBackend struct {
	logger *zap.SugaredLogger

	manager        *winrtObject
	endpointVolume *wca.IAudioEndpointVolume

	updates chan BackendEvent

	mu sync.Mutex
	// last seen raw snapshots and side-channel state per AUMID
	seen    map[string]*RawSnapshot
	repeat  map[string]RepeatMode
	shuffle map[string]bool

	stopOnce sync.Once
	done     chan struct{}
	watcher  sync.WaitGroup
}

func newPlatformBackends(logger *zap.SugaredLogger) ([]Backend, error) {
	b, err := newSMTCBackend(logger)
	if err != nil {
		return nil, err
	}
	return []Backend{b}, nil
}

func newSMTCBackend(logger *zap.SugaredLogger) (*smtcBackend, error) {
	logger = logger.Named("backend.smtc")

	if err := ole.RoInitialize(1); err != nil {
		oleErr, ok := err.(*ole.OleError)

		// S_FALSE means the apartment was already initialized
		if !ok || oleErr.Code() != 1 {
			logger.Warnw("Failed to initialize WinRT runtime", "error", err)
			return nil, fmt.Errorf("initialize winrt runtime: %w", err)
		}
	}

	manager, err := requestSessionManager(smtcAwaitTimeout)
	if err != nil {
		logger.Warnw("Failed to get SMTC session manager", "error", err)
		return nil, fmt.Errorf("get smtc session manager: %w", err)
	}

	b := &smtcBackend{
		logger:  logger,
		manager: manager,
		updates: make(chan BackendEvent, 64),
		seen:    make(map[string]*RawSnapshot),
		repeat:  make(map[string]RepeatMode),
		shuffle: make(map[string]bool),
		done:    make(chan struct{}),
	}

	// master endpoint volume stands in for per-session volume, which SMTC
	// doesn't expose
	if aev, err := defaultEndpointVolume(); err == nil {
		b.endpointVolume = aev
	} else {
		logger.Debugw("Endpoint volume unavailable, volume control disabled", "error", err)
	}

	logger.Debug("Created SMTC backend instance")

	return b, nil
}

func defaultEndpointVolume() (*wca.IAudioEndpointVolume, error) {
	var mmde *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator, 0, wca.CLSCTX_ALL, wca.IID_IMMDeviceEnumerator, &mmde,
	); err != nil {
		return nil, fmt.Errorf("create device enumerator: %w", err)
	}
	defer mmde.Release()

	var mmd *wca.IMMDevice
	if err := mmde.GetDefaultAudioEndpoint(wca.ERender, wca.EConsole, &mmd); err != nil {
		return nil, fmt.Errorf("get default render endpoint: %w", err)
	}
	defer mmd.Release()

	var aev *wca.IAudioEndpointVolume
	if err := mmd.Activate(wca.IID_IAudioEndpointVolume, wca.CLSCTX_ALL, nil, &aev); err != nil {
		return nil, fmt.Errorf("activate endpoint volume: %w", err)
	}

	return aev, nil
}

func (b *smtcBackend) Name() string { return backendNameSMTC }

func (b *smtcBackend) Start() error {
	b.watcher.Add(1)
	go b.pollSessions()

	b.logger.Debug("Started SMTC session poller")

	return nil
}

func (b *smtcBackend) Updates() <-chan BackendEvent { return b.updates }

func (b *smtcBackend) GetAllSessions() ([]RawSnapshot, error) {
	sessions, err := b.enumerateSessions()
	if err != nil {
		return nil, err
	}
	defer releaseSessions(sessions)

	snapshots := []RawSnapshot{}
	for key, session := range sessions {
		raw, err := b.snapshotSession(key, session)
		if err != nil {
			b.logger.Warnw("Failed to snapshot session", "key", key, "error", err)
			continue
		}
		snapshots = append(snapshots, *raw)
	}

	return snapshots, nil
}

// enumerateSessions returns the live sessions keyed by AUMID. The caller
// owns the returned objects.
func (b *smtcBackend) enumerateSessions() (map[string]*winrtObject, error) {
	vec, err := b.manager.callObject(slotManagerGetSessions)
	if err != nil {
		return nil, fmt.Errorf("get smtc sessions: %w", err)
	}
	defer vec.Release()

	size, err := vectorSize(vec)
	if err != nil {
		return nil, err
	}

	sessions := make(map[string]*winrtObject, size)
	for i := 0; i < size; i++ {
		session, err := vectorAt(vec, i)
		if err != nil || session == nil {
			continue
		}

		key, err := session.callString(slotSessionGetAumid)
		if err != nil || key == "" {
			session.Release()
			continue
		}

		// a second session from the same app replaces the first
		if prev, ok := sessions[key]; ok {
			prev.Release()
		}
		sessions[key] = session
	}

	return sessions, nil
}

func releaseSessions(sessions map[string]*winrtObject) {
	for _, s := range sessions {
		s.Release()
	}
}

func (b *smtcBackend) pollSessions() {
	defer b.watcher.Done()

	ticker := time.NewTicker(smtcPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.pollOnce()
		}
	}
}

func (b *smtcBackend) pollOnce() {
	sessions, err := b.enumerateSessions()
	if err != nil {
		b.logger.Debugw("Failed to enumerate sessions", "error", err)
		return
	}
	defer releaseSessions(sessions)

	b.mu.Lock()
	previous := make(map[string]bool, len(b.seen))
	for key := range b.seen {
		previous[key] = true
	}
	b.mu.Unlock()

	for key, session := range sessions {
		delete(previous, key)

		raw, err := b.snapshotSession(key, session)
		if err != nil {
			b.logger.Debugw("Failed to snapshot session", "key", key, "error", err)
			continue
		}

		b.mu.Lock()
		b.seen[key] = raw
		b.mu.Unlock()

		b.deliver(BackendEvent{Kind: BackendSessionChanged, Key: key, Snapshot: raw})
		b.pollSideChannels(key, session)
	}

	// anything left in previous is gone
	for key := range previous {
		b.mu.Lock()
		delete(b.seen, key)
		delete(b.repeat, key)
		delete(b.shuffle, key)
		b.mu.Unlock()

		b.deliver(BackendEvent{Kind: BackendSessionClosed, Key: key})
	}
}

// pollSideChannels diffs repeat/shuffle state, which has no home in the
// snapshot model.
func (b *smtcBackend) pollSideChannels(key string, session *winrtObject) {
	playbackInfo, err := session.callObject(slotSessionGetPlaybackInfo)
	if err != nil || playbackInfo == nil {
		return
	}
	defer playbackInfo.Release()

	repeat := referenceRepeatMode(playbackInfo)
	shuffle := referenceBool(playbackInfo, slotPlaybackInfoShuffleActive)

	b.mu.Lock()
	prevRepeat, hadRepeat := b.repeat[key]
	prevShuffle := b.shuffle[key]
	b.repeat[key] = repeat
	b.shuffle[key] = shuffle
	b.mu.Unlock()

	if hadRepeat && prevRepeat == repeat && prevShuffle == shuffle {
		return
	}
	if !hadRepeat && repeat == RepeatNone && !shuffle {
		return
	}

	b.deliver(BackendEvent{
		Kind:    BackendRepeatModeChanged,
		Key:     key,
		Repeat:  repeat,
		Shuffle: shuffle,
	})
}

func (b *smtcBackend) deliver(ev BackendEvent) {
	select {
	case b.updates <- ev:
	case <-b.done:
	}
}

func (b *smtcBackend) snapshotSession(key string, session *winrtObject) (*RawSnapshot, error) {
	raw := &RawSnapshot{
		Key:            key,
		AppName:        aumidToAppName(key),
		TicksPerSecond: smtcTicksPerSecond,
	}

	playbackInfo, err := session.callObject(slotSessionGetPlaybackInfo)
	if err != nil {
		return nil, fmt.Errorf("get playback info: %w", err)
	}
	if playbackInfo != nil {
		status, err := playbackInfo.callInt32(slotPlaybackInfoStatus)
		if err == nil {
			raw.StatusCode = int(status)
		}
		raw.MediaTypeHint = referenceMediaType(playbackInfo)
		playbackInfo.Release()
	}

	timeline, err := session.callObject(slotSessionGetTimelineProperties)
	if err != nil {
		return nil, fmt.Errorf("get timeline properties: %w", err)
	}
	if timeline != nil {
		if pos, err := timeline.callInt64(slotTimelinePosition); err == nil && pos >= 0 {
			raw.PositionTicks = pos
			raw.HasPosition = true
		}
		if end, err := timeline.callInt64(slotTimelineEndTime); err == nil && end > 0 {
			raw.DurationTicks = end
			raw.HasDuration = true
		}
		timeline.Release()
	}

	op, err := session.callObject(slotSessionTryGetMediaProperties)
	if err != nil {
		return nil, fmt.Errorf("request media properties: %w", err)
	}
	props, err := awaitOperation(op, smtcAwaitTimeout)
	if err != nil {
		return nil, fmt.Errorf("await media properties: %w", err)
	}
	if props != nil {
		raw.Title, _ = props.callString(slotMediaPropsTitle)
		raw.Artist, _ = props.callString(slotMediaPropsArtist)
		raw.Album, _ = props.callString(slotMediaPropsAlbumTitle)

		if n, err := props.callInt32(slotMediaPropsTrackNumber); err == nil && n > 0 {
			raw.TrackNumber = uint32(n)
		}

		if genres, err := props.callObject(slotMediaPropsGenres); err == nil && genres != nil {
			raw.Genre = joinStringVector(genres)
			genres.Release()
		}

		props.Release()
	}

	return raw, nil
}

func joinStringVector(vec *winrtObject) string {
	size, err := vectorSize(vec)
	if err != nil || size == 0 {
		return ""
	}

	parts := make([]string, 0, size)
	for i := 0; i < size; i++ {
		if s, err := vectorStringAt(vec, i); err == nil && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// aumidToAppName extracts a display-friendly name from an app user model id,
// e.g. "Spotify.exe" or "SpotifyAB.SpotifyMusic_zpdnekdrzrea0!Spotify".
func aumidToAppName(aumid string) string {
	name := aumid
	if i := strings.LastIndex(name, "!"); i >= 0 && i+1 < len(name) {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".exe")
}

// referenceRepeatMode unboxes the IReference<AutoRepeatMode> property.
func referenceRepeatMode(playbackInfo *winrtObject) RepeatMode {
	ref, err := playbackInfo.callObject(slotPlaybackInfoAutoRepeatMode)
	if err != nil || ref == nil {
		return RepeatNone
	}
	defer ref.Release()

	mode, err := ref.callInt32(slotReferenceValue)
	if err != nil {
		return RepeatNone
	}

	switch mode {
	case smtcAutoRepeatTrack:
		return RepeatOne
	case smtcAutoRepeatList:
		return RepeatAll
	default:
		return RepeatNone
	}
}

func referenceBool(obj *winrtObject, slot int) bool {
	ref, err := obj.callObject(slot)
	if err != nil || ref == nil {
		return false
	}
	defer ref.Release()

	val, err := ref.callBool(slotReferenceValue)
	if err != nil {
		return false
	}
	return val
}

// referenceMediaType unboxes the IReference<MediaPlaybackType> property.
func referenceMediaType(playbackInfo *winrtObject) MediaType {
	ref, err := playbackInfo.callObject(slotPlaybackInfoType)
	if err != nil || ref == nil {
		return MediaTypeUnknown
	}
	defer ref.Release()

	val, err := ref.callInt32(slotReferenceValue)
	if err != nil {
		return MediaTypeUnknown
	}
	return mediaTypeFromPlaybackType(val)
}

// mediaTypeFromPlaybackType maps a WinRT MediaPlaybackType value
// (0 unknown, 1 music, 2 video, 3 image). Image sessions have no canonical
// media kind and stay unknown.
func mediaTypeFromPlaybackType(val int32) MediaType {
	switch val {
	case 1:
		return MediaTypeMusic
	case 2:
		return MediaTypeVideo
	default:
		return MediaTypeUnknown
	}
}

func (b *smtcBackend) Capabilities(key string) Capability {
	session, err := b.findSession(key)
	if err != nil {
		return 0
	}
	defer session.Release()

	playbackInfo, err := session.callObject(slotSessionGetPlaybackInfo)
	if err != nil || playbackInfo == nil {
		return 0
	}
	defer playbackInfo.Release()

	controls, err := playbackInfo.callObject(slotPlaybackInfoControls)
	if err != nil || controls == nil {
		return 0
	}
	defer controls.Release()

	var caps Capability

	boolSlot := func(slot int) bool {
		v, err := controls.callBool(slot)
		return err == nil && v
	}

	if boolSlot(slotControlsIsPlayEnabled) {
		caps |= CanPlay
	}
	if boolSlot(slotControlsIsPauseEnabled) {
		caps |= CanPause
	}
	if boolSlot(slotControlsIsStopEnabled) {
		caps |= CanStop
	}
	if boolSlot(slotControlsIsNextEnabled) {
		caps |= CanNext
	}
	if boolSlot(slotControlsIsPreviousEnabled) {
		caps |= CanPrevious
	}
	if boolSlot(slotControlsIsPositionEnabled) {
		caps |= CanSeek
	}
	if boolSlot(slotControlsIsRepeatEnabled) {
		caps |= CanSetRepeat
	}
	if boolSlot(slotControlsIsShuffleEnabled) {
		caps |= CanSetShuffle
	}

	if b.endpointVolume != nil {
		caps |= CanSetVolume
	}

	return caps
}

// findSession resolves a key to a live session object; the caller owns it.
func (b *smtcBackend) findSession(key string) (*winrtObject, error) {
	sessions, err := b.enumerateSessions()
	if err != nil {
		return nil, err
	}

	session, ok := sessions[key]
	if !ok {
		releaseSessions(sessions)
		return nil, ErrNoSession
	}

	delete(sessions, key)
	releaseSessions(sessions)

	return session, nil
}

func (b *smtcBackend) control(key string, slot int, args ...uintptr) error {
	session, err := b.findSession(key)
	if err != nil {
		return err
	}
	defer session.Release()

	op, err := session.callObject(slot, args...)
	if err != nil {
		return fmt.Errorf("invoke smtc control: %w", err)
	}

	accepted, err := awaitBoolOperation(op, smtcAwaitTimeout)
	if err != nil {
		return fmt.Errorf("await smtc control: %w", err)
	}
	if !accepted {
		return fmt.Errorf("smtc control rejected by session: %w", ErrNotSupported)
	}

	return nil
}

func (b *smtcBackend) Play(key string) error  { return b.control(key, slotSessionTryPlay) }
func (b *smtcBackend) Pause(key string) error { return b.control(key, slotSessionTryPause) }
func (b *smtcBackend) PlayPause(key string) error {
	return b.control(key, slotSessionTryTogglePlayPause)
}
func (b *smtcBackend) Stop(key string) error     { return b.control(key, slotSessionTryStop) }
func (b *smtcBackend) Next(key string) error     { return b.control(key, slotSessionTrySkipNext) }
func (b *smtcBackend) Previous(key string) error { return b.control(key, slotSessionTrySkipPrevious) }

func (b *smtcBackend) Seek(key string, position time.Duration) error {
	ticks := position.Nanoseconds() / 100
	return b.control(key, slotSessionTryChangePosition, uintptr(ticks))
}

func (b *smtcBackend) SetVolume(key string, level float64) error {
	// the session is only needed as a liveness check; release it right away
	session, err := b.findSession(key)
	if err != nil {
		return err
	}
	session.Release()

	if b.endpointVolume == nil {
		return ErrNotSupported
	}

	if err := b.endpointVolume.SetMasterVolumeLevelScalar(float32(level), nil); err != nil {
		b.logger.Warnw("Failed to set endpoint volume", "error", err)
		return fmt.Errorf("adjust endpoint volume: %w", err)
	}

	return nil
}

func (b *smtcBackend) SetRepeatMode(key string, mode RepeatMode) error {
	var smtcMode int32
	switch mode {
	case RepeatOne:
		smtcMode = smtcAutoRepeatTrack
	case RepeatAll:
		smtcMode = smtcAutoRepeatList
	default:
		smtcMode = smtcAutoRepeatNone
	}

	return b.control(key, slotSessionTryChangeRepeatMode, uintptr(smtcMode))
}

func (b *smtcBackend) SetShuffle(key string, enabled bool) error {
	var flag uintptr
	if enabled {
		flag = 1
	}
	return b.control(key, slotSessionTryChangeShuffle, flag)
}

func (b *smtcBackend) Release() error {
	b.stopOnce.Do(func() {
		close(b.done)
		b.watcher.Wait()
		close(b.updates)

		if b.endpointVolume != nil {
			b.endpointVolume.Release()
			b.endpointVolume = nil
		}

		b.manager.Release()

		b.logger.Debug("Released SMTC backend instance")
	})

	return nil
}
