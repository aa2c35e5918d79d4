package mediasessions

import (
	"testing"
	"time"
)

func tracked(key string, status PlaybackStatus, at time.Time) *trackedSession {
	return &trackedSession{
		key:           key,
		lastEmitted:   MediaInfo{Status: status},
		lastEmittedAt: at,
	}
}

func TestSelectActiveEmpty(t *testing.T) {
	if got := selectActive(map[string]*trackedSession{}); got != "" {
		t.Errorf("empty session map should select nothing, got %q", got)
	}
}

func TestSelectActiveStatusRank(t *testing.T) {
	now := time.Now()
	sessions := map[string]*trackedSession{
		"stopped":       tracked("stopped", StatusStopped, now),
		"paused":        tracked("paused", StatusPaused, now),
		"transitioning": tracked("transitioning", StatusTransitioning, now),
		"playing":       tracked("playing", StatusPlaying, now),
	}

	if got := selectActive(sessions); got != "playing" {
		t.Errorf("playing session should win, got %q", got)
	}

	delete(sessions, "playing")
	if got := selectActive(sessions); got != "transitioning" {
		t.Errorf("transitioning should rank above paused, got %q", got)
	}

	delete(sessions, "transitioning")
	if got := selectActive(sessions); got != "paused" {
		t.Errorf("paused should rank above stopped, got %q", got)
	}
}

func TestSelectActiveNewestWinsWithinRank(t *testing.T) {
	now := time.Now()
	sessions := map[string]*trackedSession{
		"older": tracked("older", StatusPlaying, now.Add(-time.Minute)),
		"newer": tracked("newer", StatusPlaying, now),
	}

	if got := selectActive(sessions); got != "newer" {
		t.Errorf("newest emission should win within a rank, got %q", got)
	}
}

func TestSelectActiveLexicographicTieBreak(t *testing.T) {
	now := time.Now()
	sessions := map[string]*trackedSession{
		"chrome":  tracked("chrome", StatusPaused, now),
		"spotify": tracked("spotify", StatusPaused, now),
	}

	if got := selectActive(sessions); got != "chrome" {
		t.Errorf("exact ties should break on the smaller key, got %q", got)
	}
}

func TestSelectActiveDeterministic(t *testing.T) {
	now := time.Now()
	sessions := map[string]*trackedSession{
		"a": tracked("a", StatusPaused, now),
		"b": tracked("b", StatusPaused, now),
		"c": tracked("c", StatusPlaying, now),
		"d": tracked("d", StatusPlaying, now),
	}

	// map iteration order varies; the winner must not
	first := selectActive(sessions)
	for i := 0; i < 50; i++ {
		if got := selectActive(sessions); got != first {
			t.Fatalf("selection not deterministic: %q vs %q", got, first)
		}
	}
	if first != "c" {
		t.Errorf("expected c (playing, smaller key), got %q", first)
	}
}
