// Shared-library boundary for the mediasessions engine. Build with
// go build -buildmode=c-shared; media_sessions.h declares the surface.
package main

/*
#include <stdlib.h>
#include <string.h>
#include "media_sessions.h"
*/
import "C"

import (
	"errors"
	"runtime/cgo"
	"sync"
	"time"
	"unsafe"

	"github.com/krosov/mediasessions/pkg/mediasessions"
)

var (
	staticsOnce     sync.Once
	versionCString  *C.char
	platformCString *C.char
)

//export media_sessions_c_new
func media_sessions_c_new() *C.MediaSessionsHandle {
	return newEngine(mediasessions.DefaultOptions())
}

//export media_sessions_c_new_with_debounce
func media_sessions_c_new_with_debounce(debounceMs C.uint64_t) *C.MediaSessionsHandle {
	opts := mediasessions.DefaultOptions()
	opts.DebounceWindow = time.Duration(debounceMs) * time.Millisecond

	return newEngine(opts)
}

func newEngine(opts mediasessions.Options) *C.MediaSessionsHandle {
	logger, err := mediasessions.NewLogger(false)
	if err != nil {
		return nil
	}

	engine, err := mediasessions.NewWithOptions(logger, opts)
	if err != nil {
		logger.Errorw("Failed to create engine", "error", err)
		return nil
	}

	h := cgo.NewHandle(engine)
	return (*C.MediaSessionsHandle)(unsafe.Pointer(uintptr(h)))
}

//export media_sessions_c_free
func media_sessions_c_free(handle *C.MediaSessionsHandle) {
	if handle == nil {
		return
	}

	h := cgo.Handle(uintptr(unsafe.Pointer(handle)))
	engine := h.Value().(*mediasessions.MediaSessions)

	engine.Close()
	h.Delete()
}

func engineFor(handle *C.MediaSessionsHandle) *mediasessions.MediaSessions {
	if handle == nil {
		return nil
	}
	return cgo.Handle(uintptr(unsafe.Pointer(handle))).Value().(*mediasessions.MediaSessions)
}

//export media_sessions_c_current
func media_sessions_c_current(handle *C.MediaSessionsHandle) *C.CMediaInfo {
	engine := engineFor(handle)
	if engine == nil {
		return nil
	}

	info := engine.Current()
	if info == nil {
		return nil
	}

	return marshalMediaInfo(info)
}

//export media_sessions_c_free_info
func media_sessions_c_free_info(info *C.CMediaInfo) {
	freeMediaInfo(info)
}

//export media_sessions_c_free_string
func media_sessions_c_free_string(s *C.char) {
	C.free(unsafe.Pointer(s))
}

//export media_sessions_c_free_artwork
func media_sessions_c_free_artwork(data *C.uint8_t, _ C.size_t) {
	C.free(unsafe.Pointer(data))
}

//export media_sessions_c_active_app
func media_sessions_c_active_app(handle *C.MediaSessionsHandle) *C.char {
	engine := engineFor(handle)
	if engine == nil {
		return nil
	}

	app := engine.ActiveApp()
	if app == "" {
		return nil
	}

	return C.CString(app)
}

//export media_sessions_c_play
func media_sessions_c_play(handle *C.MediaSessionsHandle) C.MediaResult {
	return resultOf(handle, (*mediasessions.MediaSessions).Play)
}

//export media_sessions_c_pause
func media_sessions_c_pause(handle *C.MediaSessionsHandle) C.MediaResult {
	return resultOf(handle, (*mediasessions.MediaSessions).Pause)
}

//export media_sessions_c_play_pause
func media_sessions_c_play_pause(handle *C.MediaSessionsHandle) C.MediaResult {
	return resultOf(handle, (*mediasessions.MediaSessions).PlayPause)
}

//export media_sessions_c_stop
func media_sessions_c_stop(handle *C.MediaSessionsHandle) C.MediaResult {
	return resultOf(handle, (*mediasessions.MediaSessions).Stop)
}

//export media_sessions_c_next
func media_sessions_c_next(handle *C.MediaSessionsHandle) C.MediaResult {
	return resultOf(handle, (*mediasessions.MediaSessions).Next)
}

//export media_sessions_c_previous
func media_sessions_c_previous(handle *C.MediaSessionsHandle) C.MediaResult {
	return resultOf(handle, (*mediasessions.MediaSessions).Previous)
}

//export media_sessions_c_seek
func media_sessions_c_seek(handle *C.MediaSessionsHandle, positionSecs C.uint64_t) C.MediaResult {
	engine := engineFor(handle)
	if engine == nil {
		return C.MEDIA_RESULT_INVALID_ARG
	}

	return resultFromError(engine.Seek(time.Duration(positionSecs) * time.Second))
}

//export media_sessions_c_set_volume
func media_sessions_c_set_volume(handle *C.MediaSessionsHandle, volume C.double) C.MediaResult {
	engine := engineFor(handle)
	if engine == nil {
		return C.MEDIA_RESULT_INVALID_ARG
	}

	return resultFromError(engine.SetVolume(float64(volume)))
}

//export media_sessions_c_set_repeat_mode
func media_sessions_c_set_repeat_mode(handle *C.MediaSessionsHandle, mode C.MediaRepeatMode) C.MediaResult {
	engine := engineFor(handle)
	if engine == nil {
		return C.MEDIA_RESULT_INVALID_ARG
	}

	return resultFromError(engine.SetRepeatMode(mediasessions.RepeatMode(mode)))
}

//export media_sessions_c_set_shuffle
func media_sessions_c_set_shuffle(handle *C.MediaSessionsHandle, enabled C.bool) C.MediaResult {
	engine := engineFor(handle)
	if engine == nil {
		return C.MEDIA_RESULT_INVALID_ARG
	}

	return resultFromError(engine.SetShuffle(bool(enabled)))
}

//export media_sessions_c_version
func media_sessions_c_version() *C.char {
	initStatics()
	return versionCString
}

//export media_sessions_c_platform
func media_sessions_c_platform() *C.char {
	initStatics()
	return platformCString
}

//export media_sessions_c_register_callback
func media_sessions_c_register_callback(
	handle *C.MediaSessionsHandle,
	callback C.MediaEventCallback,
	userData unsafe.Pointer,
) *C.EventCallbackHandle {
	engine := engineFor(handle)
	if engine == nil || callback == nil {
		return nil
	}

	cs := newCallbackState(engine, callback, userData)

	h := cgo.NewHandle(cs)
	return (*C.EventCallbackHandle)(unsafe.Pointer(uintptr(h)))
}

//export media_sessions_c_free_callback
func media_sessions_c_free_callback(handle *C.EventCallbackHandle) {
	if handle == nil {
		return
	}

	h := cgo.Handle(uintptr(unsafe.Pointer(handle)))
	cs := h.Value().(*callbackState)

	cs.stop()
	h.Delete()
}

func initStatics() {
	staticsOnce.Do(func() {
		versionCString = C.CString(mediasessions.Version)
		platformCString = C.CString(mediasessions.Platform())
	})
}

func resultOf(handle *C.MediaSessionsHandle, op func(*mediasessions.MediaSessions) error) C.MediaResult {
	engine := engineFor(handle)
	if engine == nil {
		return C.MEDIA_RESULT_INVALID_ARG
	}

	return resultFromError(op(engine))
}

func resultFromError(err error) C.MediaResult {
	switch {
	case err == nil:
		return C.MEDIA_RESULT_OK
	case errors.Is(err, mediasessions.ErrNoSession):
		return C.MEDIA_RESULT_NO_SESSION
	case errors.Is(err, mediasessions.ErrNotSupported):
		return C.MEDIA_RESULT_NOT_SUPPORTED
	case errors.Is(err, mediasessions.ErrTimeout):
		return C.MEDIA_RESULT_TIMEOUT
	case errors.Is(err, mediasessions.ErrInvalidArgument), errors.Is(err, mediasessions.ErrClosed):
		return C.MEDIA_RESULT_INVALID_ARG
	default:
		return C.MEDIA_RESULT_ERROR
	}
}

// marshalMediaInfo deep-copies a snapshot into C-owned memory. Empty strings
// become NULL so callers can tell absence from empty.
func marshalMediaInfo(info *mediasessions.MediaInfo) *C.CMediaInfo {
	out := (*C.CMediaInfo)(C.calloc(1, C.sizeof_CMediaInfo))

	out.title = cStringOrNil(info.Title)
	out.artist = cStringOrNil(info.Artist)
	out.album = cStringOrNil(info.Album)
	out.genre = cStringOrNil(info.Genre)
	out.url = cStringOrNil(info.SourceURL)
	out.thumbnail_url = cStringOrNil(info.ThumbnailURL)

	if info.Duration != nil {
		out.duration_secs = C.uint64_t(info.Duration.Seconds())
	}
	if info.Position != nil {
		out.position_secs = C.uint64_t(info.Position.Seconds())
	}

	out.playback_status = C.MediaPlaybackStatus(info.Status)

	if info.HasArtwork() {
		out.has_artwork = C.bool(true)
		out.artwork_len = C.size_t(len(info.Artwork))
		out.artwork = (*C.uint8_t)(C.CBytes(info.Artwork))
	}

	if info.TrackNumber != nil {
		out.track_number = C.uint32_t(*info.TrackNumber)
	}
	if info.DiscNumber != nil {
		out.disc_number = C.uint32_t(*info.DiscNumber)
	}
	if info.Year != nil {
		out.year = C.int32_t(*info.Year)
	}

	return out
}

func freeMediaInfo(info *C.CMediaInfo) {
	if info == nil {
		return
	}

	C.free(unsafe.Pointer(info.title))
	C.free(unsafe.Pointer(info.artist))
	C.free(unsafe.Pointer(info.album))
	C.free(unsafe.Pointer(info.genre))
	C.free(unsafe.Pointer(info.url))
	C.free(unsafe.Pointer(info.thumbnail_url))
	C.free(unsafe.Pointer(info.artwork))
	C.free(unsafe.Pointer(info))
}

func cStringOrNil(s string) *C.char {
	if s == "" {
		return nil
	}
	return C.CString(s)
}

func main() {}
