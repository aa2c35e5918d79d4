package main

/*
#include "media_sessions.h"

// cgo cannot call C function pointers directly; this trampoline does it.
static void invoke_media_event_callback(MediaEventCallback cb, int32_t event_type,
		const void *data, void *user_data) {
	cb(event_type, data, user_data);
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/krosov/mediasessions/pkg/mediasessions"
)

// callbackState drives one registered C callback from the engine's event
// channel. The dispatch goroutine is the only caller of the C function
// pointer, so free_callback just has to stop it and wait.
type callbackState struct {
	engine   *mediasessions.MediaSessions
	events   chan mediasessions.Event
	callback C.MediaEventCallback
	userData unsafe.Pointer

	done sync.WaitGroup
}

func newCallbackState(
	engine *mediasessions.MediaSessions,
	callback C.MediaEventCallback,
	userData unsafe.Pointer,
) *callbackState {
	cs := &callbackState{
		engine:   engine,
		events:   engine.Subscribe(),
		callback: callback,
		userData: userData,
	}

	cs.done.Add(1)
	go cs.dispatch()

	return cs
}

func (cs *callbackState) dispatch() {
	defer cs.done.Done()

	for ev := range cs.events {
		var data unsafe.Pointer

		if ev.Kind == mediasessions.EventMetadataChanged && ev.Info != nil {
			info := marshalMediaInfo(ev.Info)
			data = unsafe.Pointer(info)

			C.invoke_media_event_callback(cs.callback, C.int32_t(ev.Kind), data, cs.userData)
			freeMediaInfo(info)
			continue
		}

		C.invoke_media_event_callback(cs.callback, C.int32_t(ev.Kind), nil, cs.userData)
	}
}

// stop unsubscribes and blocks until the dispatch goroutine has exited, so
// the callback cannot fire after stop returns.
func (cs *callbackState) stop() {
	cs.engine.Unsubscribe(cs.events)
	cs.done.Wait()
}
