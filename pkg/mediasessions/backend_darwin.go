//go:build darwin && cgo

package mediasessions

/*
#cgo CFLAGS: -x objective-c -fobjc-arc
#cgo LDFLAGS: -framework CoreFoundation -framework Foundation
#include <dlfcn.h>
#include <stdlib.h>
#include <string.h>
#import <Foundation/Foundation.h>

// MediaRemote is a private framework; every symbol is resolved at runtime so
// the binary still loads on systems where it is missing or renamed.

typedef void (*MRGetNowPlayingInfoFunc)(dispatch_queue_t, void (^)(CFDictionaryRef));
typedef void (*MRGetNowPlayingPIDFunc)(dispatch_queue_t, void (^)(int));
typedef Boolean (*MRSendCommandFunc)(int, CFDictionaryRef);
typedef void (*MRSetElapsedTimeFunc)(double);

static MRGetNowPlayingInfoFunc mrGetNowPlayingInfo;
static MRGetNowPlayingPIDFunc mrGetNowPlayingPID;
static MRSendCommandFunc mrSendCommand;
static MRSetElapsedTimeFunc mrSetElapsedTime;

// MRMediaRemoteCommand values
enum {
	mrCommandPlay = 0,
	mrCommandPause = 1,
	mrCommandTogglePlayPause = 2,
	mrCommandStop = 3,
	mrCommandNextTrack = 4,
	mrCommandPreviousTrack = 5,
};

typedef struct {
	char *title;
	char *artist;
	char *album;
	char *genre;
	double duration;
	double elapsed;
	int hasDuration;
	int hasElapsed;
	double playbackRate;
	int hasPlaybackRate;
	unsigned char *artwork;
	int artworkLen;
	int trackNumber;
	int pid;
} mrNowPlaying;

static int mr_load(void) {
	void *handle = dlopen(
		"/System/Library/PrivateFrameworks/MediaRemote.framework/MediaRemote",
		RTLD_LAZY);
	if (handle == NULL) {
		return -1;
	}

	mrGetNowPlayingInfo = (MRGetNowPlayingInfoFunc)dlsym(handle, "MRMediaRemoteGetNowPlayingInfo");
	mrGetNowPlayingPID = (MRGetNowPlayingPIDFunc)dlsym(handle, "MRMediaRemoteGetNowPlayingApplicationPID");
	mrSendCommand = (MRSendCommandFunc)dlsym(handle, "MRMediaRemoteSendCommand");
	mrSetElapsedTime = (MRSetElapsedTimeFunc)dlsym(handle, "MRMediaRemoteSetElapsedTime");

	if (mrGetNowPlayingInfo == NULL || mrSendCommand == NULL) {
		return -2;
	}
	return 0;
}

static char *mr_copy_string(NSDictionary *dict, NSString *key) {
	NSString *value = dict[key];
	if (value == nil || ![value isKindOfClass:[NSString class]]) {
		return NULL;
	}
	return strdup([value UTF8String]);
}

// mr_copy_now_playing fetches the now-playing dictionary synchronously. The
// caller owns every allocated field and frees it via mr_free_now_playing.
static int mr_copy_now_playing(mrNowPlaying *out) {
	memset(out, 0, sizeof(*out));
	out->pid = -1;

	if (mrGetNowPlayingInfo == NULL) {
		return -1;
	}

	__block mrNowPlaying result;
	memset(&result, 0, sizeof(result));
	result.pid = -1;
	__block int found = 0;

	dispatch_semaphore_t sem = dispatch_semaphore_create(0);
	dispatch_queue_t queue = dispatch_get_global_queue(DISPATCH_QUEUE_PRIORITY_DEFAULT, 0);

	mrGetNowPlayingInfo(queue, ^(CFDictionaryRef cfInfo) {
		if (cfInfo != NULL) {
			NSDictionary *info = (__bridge NSDictionary *)cfInfo;

			result.title = mr_copy_string(info, @"kMRMediaRemoteNowPlayingInfoTitle");
			result.artist = mr_copy_string(info, @"kMRMediaRemoteNowPlayingInfoArtist");
			result.album = mr_copy_string(info, @"kMRMediaRemoteNowPlayingInfoAlbum");
			result.genre = mr_copy_string(info, @"kMRMediaRemoteNowPlayingInfoGenre");

			NSNumber *duration = info[@"kMRMediaRemoteNowPlayingInfoDuration"];
			if (duration != nil) {
				result.duration = [duration doubleValue];
				result.hasDuration = 1;
			}

			NSNumber *elapsed = info[@"kMRMediaRemoteNowPlayingInfoElapsedTime"];
			if (elapsed != nil) {
				result.elapsed = [elapsed doubleValue];
				result.hasElapsed = 1;
			}

			NSNumber *rate = info[@"kMRMediaRemoteNowPlayingInfoPlaybackRate"];
			if (rate != nil) {
				result.playbackRate = [rate doubleValue];
				result.hasPlaybackRate = 1;
			}

			NSNumber *track = info[@"kMRMediaRemoteNowPlayingInfoTrackNumber"];
			if (track != nil) {
				result.trackNumber = [track intValue];
			}

			NSData *artwork = info[@"kMRMediaRemoteNowPlayingInfoArtworkData"];
			if (artwork != nil && [artwork isKindOfClass:[NSData class]] && [artwork length] > 0) {
				result.artworkLen = (int)[artwork length];
				result.artwork = malloc(result.artworkLen);
				memcpy(result.artwork, [artwork bytes], result.artworkLen);
			}

			found = 1;
		}
		dispatch_semaphore_signal(sem);
	});

	if (dispatch_semaphore_wait(sem, dispatch_time(DISPATCH_TIME_NOW, 2 * NSEC_PER_SEC)) != 0) {
		return -2;
	}

	if (found && mrGetNowPlayingPID != NULL) {
		dispatch_semaphore_t pidSem = dispatch_semaphore_create(0);
		mrGetNowPlayingPID(queue, ^(int pid) {
			result.pid = pid;
			dispatch_semaphore_signal(pidSem);
		});
		dispatch_semaphore_wait(pidSem, dispatch_time(DISPATCH_TIME_NOW, 1 * NSEC_PER_SEC));
	}

	*out = result;
	return found ? 0 : 1;
}

static void mr_free_now_playing(mrNowPlaying *np) {
	free(np->title);
	free(np->artist);
	free(np->album);
	free(np->genre);
	free(np->artwork);
	memset(np, 0, sizeof(*np));
}

static int mr_send_command(int command) {
	if (mrSendCommand == NULL) {
		return -1;
	}
	return mrSendCommand(command, NULL) ? 0 : 1;
}

static int mr_set_elapsed(double seconds) {
	if (mrSetElapsedTime == NULL) {
		return -1;
	}
	mrSetElapsedTime(seconds);
	return 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	ps "github.com/mitchellh/go-ps"
	"go.uber.org/zap"
)

const (
	mrTicksPerSecond = 1_000_000

	mrPollInterval = time.Millisecond * 250
)

// mediaRemoteBackend reads the system-wide now-playing state through the
// private MediaRemote framework. The framework models a single global
// session, so this backend exposes at most one key at a time.
type mediaRemoteBackend struct {
	logger *zap.SugaredLogger

	updates chan BackendEvent

	mu sync.Mutex
	// key of the session we last reported, "" when none
	currentKey string

	stopOnce sync.Once
	done     chan struct{}
	watcher  sync.WaitGroup
}

func newPlatformBackends(logger *zap.SugaredLogger) ([]Backend, error) {
	b, err := newMediaRemoteBackend(logger)
	if err != nil {
		return nil, err
	}
	return []Backend{b}, nil
}

func newMediaRemoteBackend(logger *zap.SugaredLogger) (*mediaRemoteBackend, error) {
	logger = logger.Named("backend.mediaremote")

	if rc := C.mr_load(); rc != 0 {
		logger.Warnw("MediaRemote framework unavailable", "code", int(rc))
		return nil, fmt.Errorf("load MediaRemote framework: %w", ErrNotSupported)
	}

	b := &mediaRemoteBackend{
		logger:  logger,
		updates: make(chan BackendEvent, 64),
		done:    make(chan struct{}),
	}

	logger.Debug("Created MediaRemote backend instance")

	return b, nil
}

func (b *mediaRemoteBackend) Name() string { return backendNameMediaRemote }

func (b *mediaRemoteBackend) Start() error {
	b.watcher.Add(1)
	go b.pollNowPlaying()

	b.logger.Debug("Started MediaRemote poller")

	return nil
}

func (b *mediaRemoteBackend) Updates() <-chan BackendEvent { return b.updates }

func (b *mediaRemoteBackend) GetAllSessions() ([]RawSnapshot, error) {
	raw, err := b.snapshotNowPlaying()
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return []RawSnapshot{}, nil
	}
	return []RawSnapshot{*raw}, nil
}

func (b *mediaRemoteBackend) pollNowPlaying() {
	defer b.watcher.Done()

	ticker := time.NewTicker(mrPollInterval)
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

func (b *mediaRemoteBackend) pollOnce() {
	raw, err := b.snapshotNowPlaying()
	if err != nil {
		b.logger.Debugw("Failed to snapshot now-playing state", "error", err)
		return
	}

	b.mu.Lock()
	prevKey := b.currentKey
	if raw != nil {
		b.currentKey = raw.Key
	} else {
		b.currentKey = ""
	}
	b.mu.Unlock()

	if raw == nil {
		if prevKey != "" {
			b.deliver(BackendEvent{Kind: BackendSessionClosed, Key: prevKey})
		}
		return
	}

	// the global session switched apps; close the old key first
	if prevKey != "" && prevKey != raw.Key {
		b.deliver(BackendEvent{Kind: BackendSessionClosed, Key: prevKey})
	}

	b.deliver(BackendEvent{Kind: BackendSessionChanged, Key: raw.Key, Snapshot: raw})
}

func (b *mediaRemoteBackend) deliver(ev BackendEvent) {
	select {
	case b.updates <- ev:
	case <-b.done:
	}
}

// snapshotNowPlaying returns nil without error when nothing is playing.
func (b *mediaRemoteBackend) snapshotNowPlaying() (*RawSnapshot, error) {
	var np C.mrNowPlaying

	rc := C.mr_copy_now_playing(&np)
	if rc < 0 {
		return nil, fmt.Errorf("fetch now-playing info: code %d", int(rc))
	}
	if rc == 1 {
		return nil, nil
	}
	defer C.mr_free_now_playing(&np)

	appName, key := b.resolveApp(int(np.pid))

	raw := &RawSnapshot{
		Key:            key,
		AppName:        appName,
		Title:          C.GoString(np.title),
		Artist:         C.GoString(np.artist),
		Album:          C.GoString(np.album),
		Genre:          C.GoString(np.genre),
		TicksPerSecond: mrTicksPerSecond,
		MediaTypeHint:  MediaTypeMusic,
	}

	if np.hasElapsed != 0 {
		raw.PositionTicks = int64(float64(np.elapsed) * mrTicksPerSecond)
		raw.HasPosition = true
	}
	if np.hasDuration != 0 {
		raw.DurationTicks = int64(float64(np.duration) * mrTicksPerSecond)
		raw.HasDuration = true
	}

	if np.hasPlaybackRate != 0 {
		if float64(np.playbackRate) > 0 {
			raw.StatusCode = mrStatePlaying
		} else {
			raw.StatusCode = mrStatePaused
		}
	} else {
		raw.StatusCode = mrStateStopped
	}

	if np.trackNumber > 0 {
		raw.TrackNumber = uint32(np.trackNumber)
	}

	if np.artworkLen > 0 {
		raw.Artwork = C.GoBytes(unsafe.Pointer(np.artwork), np.artworkLen)
	}

	return raw, nil
}

// resolveApp maps the now-playing PID to a display name. The executable name
// doubles as the session key since MediaRemote has one global session.
func (b *mediaRemoteBackend) resolveApp(pid int) (appName, key string) {
	if pid > 0 {
		if process, err := ps.FindProcess(pid); err == nil && process != nil {
			name := process.Executable()
			return name, name
		}
	}
	return "Now Playing", "nowplaying"
}

func (b *mediaRemoteBackend) Capabilities(key string) Capability {
	b.mu.Lock()
	defer b.mu.Unlock()

	if key != b.currentKey {
		return 0
	}

	// MediaRemote accepts transport commands for whatever holds the global
	// session; it has no volume or repeat surface
	return CanPlay | CanPause | CanStop | CanNext | CanPrevious | CanSeek
}

func (b *mediaRemoteBackend) command(key string, command C.int) error {
	b.mu.Lock()
	current := b.currentKey
	b.mu.Unlock()

	if key != current {
		return ErrNoSession
	}

	switch rc := C.mr_send_command(command); rc {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("command rejected by now-playing app: %w", ErrNotSupported)
	default:
		return fmt.Errorf("send MediaRemote command: code %d", int(rc))
	}
}

func (b *mediaRemoteBackend) Play(key string) error  { return b.command(key, C.mrCommandPlay) }
func (b *mediaRemoteBackend) Pause(key string) error { return b.command(key, C.mrCommandPause) }
func (b *mediaRemoteBackend) PlayPause(key string) error {
	return b.command(key, C.mrCommandTogglePlayPause)
}
func (b *mediaRemoteBackend) Stop(key string) error { return b.command(key, C.mrCommandStop) }
func (b *mediaRemoteBackend) Next(key string) error { return b.command(key, C.mrCommandNextTrack) }
func (b *mediaRemoteBackend) Previous(key string) error {
	return b.command(key, C.mrCommandPreviousTrack)
}

func (b *mediaRemoteBackend) Seek(key string, position time.Duration) error {
	b.mu.Lock()
	current := b.currentKey
	b.mu.Unlock()

	if key != current {
		return ErrNoSession
	}

	if rc := C.mr_set_elapsed(C.double(position.Seconds())); rc != 0 {
		return fmt.Errorf("set elapsed time: %w", ErrNotSupported)
	}
	return nil
}

func (b *mediaRemoteBackend) SetVolume(key string, level float64) error {
	return ErrNotSupported
}

func (b *mediaRemoteBackend) SetRepeatMode(key string, mode RepeatMode) error {
	return ErrNotSupported
}

func (b *mediaRemoteBackend) SetShuffle(key string, enabled bool) error {
	return ErrNotSupported
}

func (b *mediaRemoteBackend) Release() error {
	b.stopOnce.Do(func() {
		close(b.done)
		b.watcher.Wait()
		close(b.updates)

		b.logger.Debug("Released MediaRemote backend instance")
	})

	return nil
}
