// Package window tracks the active 5-minute market window and the time left
// until it resolves.
//
// Deadlines are estimated from the local wall clock at the moment a new
// market is seen. They are an approximation of the venue's resolution time,
// not ground truth.
package window

import (
	"sync"
	"time"
)

// Length of one market window. Windows are aligned to absolute wall-clock
// boundaries (:00, :05, :10, ...).
const Length = 5 * time.Minute

// Start returns the beginning of the window containing now.
func Start(now time.Time) time.Time {
	return now.Truncate(Length)
}

// Deadline returns the end of the window containing now. At an exact
// boundary the next full window is returned.
func Deadline(now time.Time) time.Time {
	return Start(now).Add(Length)
}

// SecondsRemaining returns max(0, deadline-now) in seconds.
func SecondsRemaining(deadline, now time.Time) float64 {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}

// Tracker holds the currently active market and its estimated deadline.
// It is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	marketID string
	deadline time.Time
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Rollover replaces the tracked market when marketID differs from the
// current one. The deadline is recomputed from now. It reports whether a
// rollover happened.
func (t *Tracker) Rollover(marketID string, now time.Time) bool {
	if marketID == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if marketID == t.marketID {
		return false
	}
	t.marketID = marketID
	t.deadline = Deadline(now)
	return true
}

func (t *Tracker) MarketID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.marketID
}

func (t *Tracker) Deadline() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.deadline
}

// SecondsRemaining reports the time left in the tracked window. Before any
// market has been seen it reports a full window.
func (t *Tracker) SecondsRemaining(now time.Time) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.deadline.IsZero() {
		return Length.Seconds()
	}
	return SecondsRemaining(t.deadline, now)
}
