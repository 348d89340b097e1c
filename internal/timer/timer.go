// Package timer tracks per-trip response deadlines. Each armed timer fires
// its callback at most once; whichever side removes the map entry first
// (Cancel or the expiry itself) owns the trip's outcome, which is what
// makes the accept-versus-timeout race decidable.
package timer

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyArmed reports a programming error: callers must Cancel a
// pending timer before arming the same trip again.
var ErrAlreadyArmed = errors.New("response timer already armed for trip")

// entry is the identity handle for one armed deadline. The expiry closure
// captures the entry pointer, never the time.Timer, so every read of the
// timer itself happens under the Timers mutex.
type entry struct {
	tm *time.Timer
}

type Timers struct {
	mu      sync.Mutex
	pending map[string]*entry
}

func New() *Timers {
	return &Timers{pending: make(map[string]*entry)}
}

// Arm starts a one-shot countdown for the trip. onExpire runs on the
// timer's goroutine only if the entry is still present when it fires.
func (t *Timers) Arm(tripID string, d time.Duration, onExpire func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[tripID]; ok {
		return ErrAlreadyArmed
	}
	e := &entry{}
	e.tm = time.AfterFunc(d, func() {
		if t.take(tripID, e) {
			onExpire()
		}
	})
	t.pending[tripID] = e
	return nil
}

// Cancel stops a pending timer. It returns false when the timer already
// fired or was never armed, which callers use to discard late resolutions.
func (t *Timers) Cancel(tripID string) bool {
	t.mu.Lock()
	e, ok := t.pending[tripID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.pending, tripID)
	t.mu.Unlock()
	// Stop may report false if the expiry goroutine already started, but
	// the entry is gone so take() will suppress onExpire either way.
	e.tm.Stop()
	return true
}

// Pending reports whether a timer is currently armed for the trip.
func (t *Timers) Pending(tripID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[tripID]
	return ok
}

func (t *Timers) take(tripID string, e *entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.pending[tripID]
	if !ok || cur != e {
		return false
	}
	delete(t.pending, tripID)
	return true
}
