package dtcp

import (
	"sort"
	"time"

	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
	"github.com/therealutkarshpriyadarshi/rina/pkg/timer"
)

// trackedUnit is an admitted unit awaiting acknowledgment. Only the
// sequence number and timing are kept: the payload is regenerated by the
// data-transfer layer on demand.
type trackedUnit struct {
	Seq        seqnum.Value
	SentTime   time.Time
	RetryCount int
	Timer      timer.Handle
}

// retransmitTracker keeps admitted units ordered by sequence number.
// It is guarded by the connection lock.
type retransmitTracker struct {
	units []*trackedUnit
}

func (rt *retransmitTracker) index(seq seqnum.Value) int {
	return sort.Search(len(rt.units), func(i int) bool {
		return seqnum.LessThanEq(seq, rt.units[i].Seq)
	})
}

// Add tracks seq. A unit already tracked is replaced.
func (rt *retransmitTracker) Add(u *trackedUnit) (replaced *trackedUnit) {
	i := rt.index(u.Seq)
	if i < len(rt.units) && rt.units[i].Seq == u.Seq {
		replaced = rt.units[i]
		rt.units[i] = u
		return replaced
	}
	rt.units = append(rt.units, nil)
	copy(rt.units[i+1:], rt.units[i:])
	rt.units[i] = u
	return nil
}

// Get returns the unit tracked for seq, or nil.
func (rt *retransmitTracker) Get(seq seqnum.Value) *trackedUnit {
	i := rt.index(seq)
	if i < len(rt.units) && rt.units[i].Seq == seq {
		return rt.units[i]
	}
	return nil
}

// Remove stops tracking seq and returns the unit, or nil.
func (rt *retransmitTracker) Remove(seq seqnum.Value) *trackedUnit {
	i := rt.index(seq)
	if i < len(rt.units) && rt.units[i].Seq == seq {
		u := rt.units[i]
		rt.units = append(rt.units[:i], rt.units[i+1:]...)
		return u
	}
	return nil
}

// RemoveBefore stops tracking every unit below seq and returns them in
// ascending order.
func (rt *retransmitTracker) RemoveBefore(seq seqnum.Value) []*trackedUnit {
	i := rt.index(seq)
	if i == 0 {
		return nil
	}
	removed := make([]*trackedUnit, i)
	copy(removed, rt.units[:i])
	rt.units = append(rt.units[:0], rt.units[i:]...)
	return removed
}

func (rt *retransmitTracker) Len() int {
	return len(rt.units)
}

// Clear stops tracking everything and returns what was tracked.
func (rt *retransmitTracker) Clear() []*trackedUnit {
	units := rt.units
	rt.units = nil
	return units
}
