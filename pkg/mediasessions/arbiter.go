package mediasessions

import "time"

// trackedSession is the engine's record of one OS-level session.
type trackedSession struct {
	key           string
	backend       Backend
	appName       string
	lastEmitted   MediaInfo
	lastEmittedAt time.Time
}

// selectActive picks the single session the engine treats as authoritative.
//
// The order is a deterministic total order: rank by playback status
// (playing < transitioning < paused < stopped), newest lastEmittedAt wins
// ties, and the lexicographically smaller key breaks exact timestamp ties so
// repeated calls over the same input always agree. Returns "" when sessions
// is empty.
func selectActive(sessions map[string]*trackedSession) string {
	var best *trackedSession

	for _, candidate := range sessions {
		if best == nil || ranksBefore(candidate, best) {
			best = candidate
		}
	}

	if best == nil {
		return ""
	}
	return best.key
}

// ranksBefore reports whether a should be preferred over b.
func ranksBefore(a, b *trackedSession) bool {
	ra, rb := a.lastEmitted.Status.arbitrationRank(), b.lastEmitted.Status.arbitrationRank()
	if ra != rb {
		return ra < rb
	}

	if !a.lastEmittedAt.Equal(b.lastEmittedAt) {
		return a.lastEmittedAt.After(b.lastEmittedAt)
	}

	return a.key < b.key
}
