// Package timer provides the timer facility the DTCP engine schedules its
// retransmission, rate-unit and idle timers on.
//
// Callbacks run on a goroutine owned by the facility (Real) or on the
// goroutine calling Advance (Manual). They must re-validate whatever state
// they act on: a callback may race with Cancel and fire anyway.
package timer

import (
	"fmt"
	"time"
)

// Kind classifies a timer for logging and inspection.
type Kind int

const (
	KindRetransmission Kind = iota
	KindRateUnit
	KindIdle
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRetransmission:
		return "retransmission"
	case KindRateUnit:
		return "rate-unit"
	case KindIdle:
		return "idle"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Handle names a scheduled timer. The zero Handle is never issued.
type Handle uint64

// Facility schedules one-shot callbacks.
type Facility interface {
	// Schedule arranges for fire to run once after d.
	Schedule(kind Kind, d time.Duration, fire func()) Handle
	// Cancel stops the timer and reports whether it was still pending.
	Cancel(h Handle) bool
	// Now returns the facility's current time.
	Now() time.Time
}
