package timer

import (
	"sort"
	"sync"
	"time"
)

// Manual is a virtual-time Facility for tests and simulations. Time only
// moves when Advance is called; due callbacks then run in deadline order
// on the caller's goroutine.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	next  Handle
	queue []*entry // ascending by deadline, then by handle
}

type entry struct {
	handle Handle
	kind   Kind
	when   time.Time
	fire   func()
}

// NewManual creates a virtual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Schedule implements Facility.
func (m *Manual) Schedule(kind Kind, d time.Duration, fire func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	e := &entry{handle: m.next, kind: kind, when: m.now.Add(d), fire: fire}
	i := sort.Search(len(m.queue), func(i int) bool {
		return m.queue[i].when.After(e.when)
	})
	m.queue = append(m.queue, nil)
	copy(m.queue[i+1:], m.queue[i:])
	m.queue[i] = e
	return e.handle
}

// Cancel implements Facility.
func (m *Manual) Cancel(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.queue {
		if e.handle == h {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Now implements Facility.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d, firing every timer that becomes
// due. Timers scheduled by a callback fire in the same call if their
// deadline is still within the window. It returns the number of callbacks
// run.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	fired := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 || m.queue[0].when.After(target) {
			m.now = target
			m.mu.Unlock()
			return fired
		}
		e := m.queue[0]
		m.queue = m.queue[1:]
		m.now = e.when
		m.mu.Unlock()

		e.fire()
		fired++
	}
}

// Pending returns the number of scheduled timers of the given kind.
func (m *Manual) Pending(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.queue {
		if e.kind == kind {
			n++
		}
	}
	return n
}

// NextDeadline returns the deadline of the earliest pending timer.
func (m *Manual) NextDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return time.Time{}, false
	}
	return m.queue[0].when, true
}
