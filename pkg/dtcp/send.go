package dtcp

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
	"github.com/therealutkarshpriyadarshi/rina/pkg/timer"
)

// Reason explains why a unit was withheld.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonRate
	ReasonWindow
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonRate:
		return "rate"
	case ReasonWindow:
		return "window"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Admission is the verdict on an outbound unit. A withheld unit is not
// dropped: the data path keeps it and retries after WindowOpened.
type Admission struct {
	Admitted bool
	Reason   Reason
}

func (a Admission) String() string {
	if a.Admitted {
		return "admitted"
	}
	return "withheld(" + a.Reason.String() + ")"
}

// AdmitOutbound decides whether data unit seq may be sent now. Admitted
// units count against the current time unit and, with retransmission
// control, are tracked until acknowledged.
func (d *DTCP) AdmitOutbound(seq seqnum.Value) (Admission, error) {
	d.mu.Lock()
	defer d.unlock()

	if err := d.ensureActive(); err != nil {
		return Admission{}, err
	}
	d.touch()

	dt := &d.inst
	sv := dt.sv
	if dt.cfg.RateBased && sv.PDUsSentInTimeUnit >= sv.SenderRate {
		dt.rateWithheld = true
		dt.stats.withheldRate.Add(1)
		return Admission{Reason: ReasonRate}, nil
	}
	if dt.cfg.WindowBased && !seqnum.InWindow(seq, sv.SendLeftWindowEdge, sv.SendRightWindowEdge) {
		dt.windowWithheld = true
		dt.stats.withheldWindow.Add(1)
		return Admission{Reason: ReasonWindow}, nil
	}

	sv.PDUsSentInTimeUnit++
	if seqnum.LessThanEq(sv.NextSendDataSeq, seq) {
		sv.NextSendDataSeq = seq + 1
	}
	dt.stats.admitted.Add(1)

	if dt.cfg.RetransmissionControl {
		d.track(seq)
	}
	return Admission{Admitted: true}, nil
}

// UpdateLeftWindowEdge acknowledges every unit below seq on behalf of the
// data path. Repeating the current edge is a no-op; moving it backward
// returns ErrStaleAck.
func (d *DTCP) UpdateLeftWindowEdge(seq seqnum.Value) error {
	d.mu.Lock()
	defer d.unlock()

	if err := d.ensureActive(); err != nil {
		return err
	}

	sv := d.inst.sv
	switch {
	case seq == sv.SendLeftWindowEdge:
		return nil
	case seqnum.LessThan(seq, sv.SendLeftWindowEdge):
		d.inst.stats.staleAcks.Add(1)
		return sv.UpdateSendWindow(seq)
	}
	d.advanceLeftEdge(seq)
	return nil
}

func (d *DTCP) track(seq seqnum.Value) {
	dt := &d.inst
	u := &trackedUnit{Seq: seq, SentTime: dt.Now()}
	u.Timer = d.scheduleRetransmission(seq)
	if old := dt.tracker.Add(u); old != nil {
		dt.timers.Cancel(old.Timer)
	}
}

func (d *DTCP) scheduleRetransmission(seq seqnum.Value) timer.Handle {
	return d.schedule(timer.KindRetransmission, d.inst.sv.RetransmissionTimeout, func() {
		d.onRetransmissionTimer(seq)
	})
}

// onRetransmissionTimer handles expiry for unit seq. Firing after the unit
// was acknowledged is harmless.
func (d *DTCP) onRetransmissionTimer(seq seqnum.Value) {
	dt := &d.inst
	sv := dt.sv
	log := dt.log.With().Uint64("seq", uint64(seq)).Logger()

	u := dt.tracker.Get(seq)
	if u == nil || seqnum.LessThan(seq, sv.SendLeftWindowEdge) {
		if u != nil {
			dt.tracker.Remove(seq)
		}
		dt.stats.staleTimers.Add(1)
		log.Debug().Msg("retransmission timer for acknowledged unit")
		return
	}

	if u.RetryCount >= sv.MaxRetransmissions {
		dt.tracker.Remove(seq)
		dt.stats.exhausted.Add(1)
		log.Error().Int("retries", u.RetryCount).Msg("retransmissions exhausted, abandoning unit")
		id := dt.id
		dt.notify(func(n Notifier) {
			n.DeliveryFailed(id, seq, ErrRetransmissionsExhausted)
		})
		return
	}

	u.RetryCount++
	dt.stats.retransmissions.Add(1)
	log.Debug().Int("retry", u.RetryCount).Dur("rto", sv.RetransmissionTimeout).Msg("retransmission timer expired")
	dt.invoke(PolicyRetransmissionTimerExpiry, dt.policies.retransmissionTimerExpiry(dt, seq))

	u.SentTime = dt.Now()
	u.Timer = d.scheduleRetransmission(seq)
}
