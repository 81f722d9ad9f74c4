package order

import (
	"sync"
	"time"
)

// trackerState holds per-order execution bookkeeping that doesn't belong
// on types.Order itself: whether the partial-fill-stall alert already
// fired once, so the watchdog doesn't re-publish every tick.
type trackerState struct {
	lastFillTS   time.Time
	stalledFired bool
}

// Tracker watches every non-terminal order's time-since-last-fill and
// flags (then cancels) partial fills that stall too long (spec §4.H.4).
type Tracker struct {
	mu    sync.Mutex
	state map[string]*trackerState
}

// NewTracker builds an empty execution tracker.
func NewTracker() *Tracker { return &Tracker{state: make(map[string]*trackerState)} }

// RecordFill stamps orderID's last-fill time, starting its stall clock
// over.
func (t *Tracker) RecordFill(orderID string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state[orderID] = &trackerState{lastFillTS: ts}
}

// Forget drops orderID's tracked state once the order reaches a terminal
// state.
func (t *Tracker) Forget(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, orderID)
}

// StallStage reports how far past the partial-fill watchdog threshold
// orderID is, given its order-level LastFillTS as the fallback reference
// (used when no fill has landed on the tracker since the order resumed
// from a crash-recovery reload).
type StallStage int

const (
	StallNone StallStage = iota
	StallWarn
	StallCancel
)

// Check reports orderID's stall stage against since (its order-level
// LastFillTS) and marks the warn stage as fired so it isn't re-raised.
func (t *Tracker) Check(orderID string, since time.Time, warnAfter, cancelAfter time.Duration, now time.Time) StallStage {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.state[orderID]
	last := since
	if ok && st.lastFillTS.After(last) {
		last = st.lastFillTS
	}
	elapsed := now.Sub(last)

	switch {
	case elapsed > cancelAfter:
		return StallCancel
	case elapsed > warnAfter:
		if ok && st.stalledFired {
			return StallNone
		}
		if !ok {
			st = &trackerState{lastFillTS: since}
			t.state[orderID] = st
		}
		st.stalledFired = true
		return StallWarn
	default:
		return StallNone
	}
}
