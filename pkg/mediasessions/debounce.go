package mediasessions

import "time"

// emittedState is the last snapshot the engine accepted for one session key.
type emittedState struct {
	info MediaInfo
	at   time.Time
}

// changeDetector suppresses pure playhead-advance updates that arrive within
// the configured window. Material changes (title, artist, album, status,
// artwork, anything except position/duration) always pass: debouncing must
// never hide a real state transition, only ticking noise.
//
// Callers hold the engine lock; changeDetector itself is not synchronized.
type changeDetector struct {
	window time.Duration
	last   map[string]emittedState
}

func newChangeDetector(window time.Duration) *changeDetector {
	return &changeDetector{
		window: window,
		last:   make(map[string]emittedState),
	}
}

// shouldEmit reports whether the snapshot for key is worth emitting at now.
// A zero window disables suppression entirely.
func (d *changeDetector) shouldEmit(key string, info *MediaInfo, now time.Time) bool {
	if d.window <= 0 {
		return true
	}

	prev, ok := d.last[key]
	if !ok {
		return true
	}

	if !info.sameContent(&prev.info) {
		return true
	}

	// only position/duration moved; suppress inside the window
	return now.Sub(prev.at) >= d.window
}

// record stores an accepted snapshot as the new last-emitted state for key.
func (d *changeDetector) record(key string, info MediaInfo, now time.Time) {
	d.last[key] = emittedState{info: info, at: now}
}

// forget drops debounce bookkeeping for a closed session.
func (d *changeDetector) forget(key string) {
	delete(d.last, key)
}
