package timer

import (
	"sync"
	"time"
)

// Real is a Facility backed by time.AfterFunc.
type Real struct {
	mu     sync.Mutex
	next   Handle
	timers map[Handle]*time.Timer
}

// NewReal creates a wall-clock facility.
func NewReal() *Real {
	return &Real{timers: make(map[Handle]*time.Timer)}
}

// Schedule implements Facility.
func (r *Real) Schedule(kind Kind, d time.Duration, fire func()) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := r.next
	r.timers[h] = time.AfterFunc(d, func() {
		r.mu.Lock()
		_, pending := r.timers[h]
		delete(r.timers, h)
		r.mu.Unlock()
		if pending {
			fire()
		}
	})
	return h
}

// Cancel implements Facility.
func (r *Real) Cancel(h Handle) bool {
	r.mu.Lock()
	t, ok := r.timers[h]
	delete(r.timers, h)
	r.mu.Unlock()

	if !ok {
		return false
	}
	return t.Stop()
}

// Pending returns the number of scheduled timers that have neither fired
// nor been cancelled.
func (r *Real) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Now implements Facility.
func (r *Real) Now() time.Time {
	return time.Now()
}
