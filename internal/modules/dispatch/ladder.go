// Package dispatch submits transfer requests one at a time against a run-owned quota book
// and hands accepted transfers to the in-transit recorder.
package dispatch

import "time"

// Ladder is an escalating cooldown sequence that wraps once exhausted
type Ladder struct {
	steps []time.Duration
	idx   int
}

// NewLadder creates a ladder over the given steps
func NewLadder(steps []time.Duration) *Ladder {
	cp := make([]time.Duration, len(steps))
	copy(cp, steps)
	return &Ladder{steps: cp}
}

// Next returns the current cooldown and advances the ladder
func (l *Ladder) Next() time.Duration {
	if len(l.steps) == 0 {
		return 0
	}
	d := l.steps[l.idx]
	l.idx = (l.idx + 1) % len(l.steps)
	return d
}

// Reset moves the ladder back to its first step
func (l *Ladder) Reset() {
	l.idx = 0
}

// Index returns the position of the next cooldown
func (l *Ladder) Index() int {
	return l.idx
}
