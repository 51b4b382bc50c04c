package dtcp

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats counts protocol events for one connection. Counters are updated
// atomically and may be read without the connection lock.
type Stats struct {
	controlSent      atomic.Uint64
	controlReceived  atomic.Uint64
	duplicateControl atomic.Uint64
	lostControl      atomic.Uint64
	structuralErrors atomic.Uint64
	staleAcks        atomic.Uint64

	admitted       atomic.Uint64
	withheldRate   atomic.Uint64
	withheldWindow atomic.Uint64
	dataReceived   atomic.Uint64
	duplicateData  atomic.Uint64
	rejectedData   atomic.Uint64

	retransmissions atomic.Uint64
	exhausted       atomic.Uint64
	staleTimers     atomic.Uint64

	policyFailures atomic.Uint64
	overruns       atomic.Uint64
	conflicts      atomic.Uint64
	detaches       atomic.Uint64

	// RTT samples in microseconds
	minRTT     atomic.Uint64
	maxRTT     atomic.Uint64
	avgRTT     atomic.Uint64
	rttSamples atomic.Uint64
}

func (s *Stats) recordRTT(sample time.Duration) {
	us := uint64(sample / time.Microsecond)

	for {
		current := s.minRTT.Load()
		if current != 0 && current <= us {
			break
		}
		if s.minRTT.CompareAndSwap(current, us) {
			break
		}
	}

	for {
		current := s.maxRTT.Load()
		if current >= us {
			break
		}
		if s.maxRTT.CompareAndSwap(current, us) {
			break
		}
	}

	// EMA with alpha=1/8, seeded by the first sample
	if s.rttSamples.Add(1) == 1 {
		s.avgRTT.Store(us)
		return
	}
	current := s.avgRTT.Load()
	s.avgRTT.Store((current*7 + us) / 8)
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	ControlSent      uint64
	ControlReceived  uint64
	DuplicateControl uint64
	LostControl      uint64
	StructuralErrors uint64
	StaleAcks        uint64

	Admitted       uint64
	WithheldRate   uint64
	WithheldWindow uint64
	DataReceived   uint64
	DuplicateData  uint64
	RejectedData   uint64

	Retransmissions uint64
	Exhausted       uint64
	StaleTimers     uint64

	PolicyFailures uint64
	Overruns       uint64
	Conflicts      uint64
	Detaches       uint64

	MinRTT     time.Duration
	AvgRTT     time.Duration
	MaxRTT     time.Duration
	RTTSamples uint64
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		ControlSent:      s.controlSent.Load(),
		ControlReceived:  s.controlReceived.Load(),
		DuplicateControl: s.duplicateControl.Load(),
		LostControl:      s.lostControl.Load(),
		StructuralErrors: s.structuralErrors.Load(),
		StaleAcks:        s.staleAcks.Load(),

		Admitted:       s.admitted.Load(),
		WithheldRate:   s.withheldRate.Load(),
		WithheldWindow: s.withheldWindow.Load(),
		DataReceived:   s.dataReceived.Load(),
		DuplicateData:  s.duplicateData.Load(),
		RejectedData:   s.rejectedData.Load(),

		Retransmissions: s.retransmissions.Load(),
		Exhausted:       s.exhausted.Load(),
		StaleTimers:     s.staleTimers.Load(),

		PolicyFailures: s.policyFailures.Load(),
		Overruns:       s.overruns.Load(),
		Conflicts:      s.conflicts.Load(),
		Detaches:       s.detaches.Load(),

		MinRTT:     time.Duration(s.minRTT.Load()) * time.Microsecond,
		AvgRTT:     time.Duration(s.avgRTT.Load()) * time.Microsecond,
		MaxRTT:     time.Duration(s.maxRTT.Load()) * time.Microsecond,
		RTTSamples: s.rttSamples.Load(),
	}
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	for _, c := range []*atomic.Uint64{
		&s.controlSent, &s.controlReceived, &s.duplicateControl, &s.lostControl,
		&s.structuralErrors, &s.staleAcks, &s.admitted, &s.withheldRate,
		&s.withheldWindow, &s.dataReceived, &s.duplicateData, &s.rejectedData,
		&s.retransmissions, &s.exhausted, &s.staleTimers, &s.policyFailures,
		&s.overruns, &s.conflicts, &s.detaches,
		&s.minRTT, &s.maxRTT, &s.avgRTT, &s.rttSamples,
	} {
		c.Store(0)
	}
}

// String returns a multi-line report.
func (ss Snapshot) String() string {
	return fmt.Sprintf(`DTCP Connection Stats:
  Control:
    Sent:               %d
    Received:           %d
    Duplicates:         %d
    Lost (gaps):        %d
    Malformed:          %d
    Stale acks:         %d

  Data:
    Admitted:           %d
    Withheld (rate):    %d
    Withheld (window):  %d
    Received:           %d
    Duplicates:         %d
    Rejected:           %d

  Retransmission:
    Retransmissions:    %d
    Exhausted units:    %d
    Stale timers:       %d

  Policies:
    Failures:           %d
    Overruns:           %d
    Conflicts:          %d
    Detaches:           %d

  RTT (%d samples):
    Min:  %v
    Avg:  %v
    Max:  %v`,
		ss.ControlSent, ss.ControlReceived, ss.DuplicateControl, ss.LostControl,
		ss.StructuralErrors, ss.StaleAcks,
		ss.Admitted, ss.WithheldRate, ss.WithheldWindow, ss.DataReceived,
		ss.DuplicateData, ss.RejectedData,
		ss.Retransmissions, ss.Exhausted, ss.StaleTimers,
		ss.PolicyFailures, ss.Overruns, ss.Conflicts, ss.Detaches,
		ss.RTTSamples, ss.MinRTT, ss.AvgRTT, ss.MaxRTT,
	)
}
