package mediasessions

import (
	"testing"
	"time"
)

func infoAt(title string, status PlaybackStatus, position time.Duration) MediaInfo {
	p := position
	return MediaInfo{Title: title, Status: status, Position: &p}
}

func TestChangeDetectorSuppressesPlayheadTicks(t *testing.T) {
	d := newChangeDetector(800 * time.Millisecond)
	base := time.Now()

	first := infoAt("Track", StatusPlaying, 10*time.Second)
	if !d.shouldEmit("spotify", &first, base) {
		t.Fatal("first snapshot for a key must always emit")
	}
	d.record("spotify", first, base)

	// pure position advance 200ms later stays suppressed
	tick := infoAt("Track", StatusPlaying, 10200*time.Millisecond)
	if d.shouldEmit("spotify", &tick, base.Add(200*time.Millisecond)) {
		t.Error("position-only change within the window should be suppressed")
	}

	// same tick after the window has elapsed goes through
	if !d.shouldEmit("spotify", &tick, base.Add(time.Second)) {
		t.Error("position change after the window should emit")
	}
}

func TestChangeDetectorMaterialChangesBypassWindow(t *testing.T) {
	d := newChangeDetector(800 * time.Millisecond)
	base := time.Now()

	first := infoAt("Track A", StatusPlaying, 10*time.Second)
	d.record("spotify", first, base)

	// title change 50ms later must not be debounced
	titleChange := infoAt("Track B", StatusPlaying, 10050*time.Millisecond)
	if !d.shouldEmit("spotify", &titleChange, base.Add(50*time.Millisecond)) {
		t.Error("title change must bypass the debounce window")
	}

	// status change likewise
	statusChange := infoAt("Track A", StatusPaused, 10050*time.Millisecond)
	if !d.shouldEmit("spotify", &statusChange, base.Add(50*time.Millisecond)) {
		t.Error("status change must bypass the debounce window")
	}
}

func TestChangeDetectorZeroWindowDisablesSuppression(t *testing.T) {
	d := newChangeDetector(0)
	base := time.Now()

	first := infoAt("Track", StatusPlaying, 10*time.Second)
	d.record("spotify", first, base)

	tick := infoAt("Track", StatusPlaying, 10001*time.Millisecond)
	if !d.shouldEmit("spotify", &tick, base.Add(time.Millisecond)) {
		t.Error("zero window should emit every update")
	}
}

func TestChangeDetectorIsolatesKeys(t *testing.T) {
	d := newChangeDetector(800 * time.Millisecond)
	base := time.Now()

	first := infoAt("Track", StatusPlaying, 10*time.Second)
	d.record("spotify", first, base)

	// another key with identical content is still a first sighting
	if !d.shouldEmit("chrome", &first, base.Add(time.Millisecond)) {
		t.Error("unknown key should always emit")
	}
}

func TestChangeDetectorForget(t *testing.T) {
	d := newChangeDetector(800 * time.Millisecond)
	base := time.Now()

	first := infoAt("Track", StatusPlaying, 10*time.Second)
	d.record("spotify", first, base)
	d.forget("spotify")

	tick := infoAt("Track", StatusPlaying, 10100*time.Millisecond)
	if !d.shouldEmit("spotify", &tick, base.Add(100*time.Millisecond)) {
		t.Error("forgotten key should emit like a new session")
	}
}
