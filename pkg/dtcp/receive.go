package dtcp

import (
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

// OnInboundControl processes one control PDU from the peer. Malformed
// messages return a *StructuralError and are dropped. Stale or duplicate
// messages and policy failures are logged and counted but not returned.
func (d *DTCP) OnInboundControl(p *pdu.PDU) error {
	msg, err := ParseControl(p)
	if err != nil {
		d.inst.stats.structuralErrors.Add(1)
		d.inst.log.Debug().Err(err).Msg("dropping control message")
		return err
	}

	d.mu.Lock()
	defer d.unlock()

	if err := d.ensureActive(); err != nil {
		return err
	}
	d.touch()
	d.inst.stats.controlReceived.Add(1)
	d.receiveControl(msg)
	return nil
}

func (d *DTCP) receiveControl(msg ControlMessage) {
	dt := &d.inst
	sv := dt.sv
	log := dt.log.With().Stringer("kind", msg.Kind).Uint64("ctrl_seq", uint64(msg.Seq)).Logger()

	switch reset, stale := dt.peerRestarted(msg); {
	case stale:
		dt.stats.duplicateControl.Add(1)
		log.Debug().Uint32("run", msg.Run).Uint32("peer_run", dt.peerRun).Msg("ignoring control message from an earlier run")
		return
	case reset:
		log.Debug().Uint32("run", msg.Run).Msg("peer reset its state vector")
		dt.peerRun, dt.peerRunSeen = msg.Run, true
		sv.resetControlSeq()
		dt.resetReceiver()
	}

	duplicate, expected, gap := sv.observeControlSeq(msg.Seq)
	if duplicate {
		dt.stats.duplicateControl.Add(1)
		log.Debug().Uint64("last", uint64(sv.LastReceivedControlSeq)).Msg("ignoring duplicate control message")
		return
	}
	// A failed policy stops the remaining policies for this message. The
	// window bookkeeping below still applies.
	ok := true
	if gap {
		dt.stats.lostControl.Add(1)
		log.Debug().Uint64("expected", uint64(expected)).Msg("control sequence gap")
		ok = dt.invoke(PolicyLostControlPDU, dt.policies.lostControlPDU(dt, expected, msg.Seq))
	}

	// Acks first so the right edge below is computed from the new ack.
	if msg.HasAck() {
		if seqnum.LessThan(sv.SendLeftWindowEdge, msg.Ack) {
			acked := d.advanceLeftEdge(msg.Ack)
			if sample, timed := rttSample(acked, dt.Now()); timed {
				dt.stats.recordRTT(sample)
				ok = ok && dt.invoke(PolicyRTTEstimator, dt.policies.rttEstimator(dt, sample))
			}
		} else {
			dt.stats.staleAcks.Add(1)
			log.Debug().Uint64("ack", uint64(msg.Ack)).
				Uint64("left_edge", uint64(sv.SendLeftWindowEdge)).
				Msg("stale acknowledgment")
		}
	}

	if msg.HasFlowControl() {
		before := sv.SendRightWindowEdge
		sv.SetSenderCredit(msg.NewCredit)
		if dt.cfg.RateBased {
			sv.SenderRate = msg.NewRate
		}

		if sv.SendRightWindowEdge != msg.NewRightWindowEdge {
			dt.stats.conflicts.Add(1)
			ok = ok && dt.invoke(PolicyReconcileFlowConflict,
				dt.policies.reconcileFlowConflict(dt, sv.SendRightWindowEdge, msg.NewRightWindowEdge))
		}
		if inFlight := sv.InFlight(); inFlight > msg.NewCredit {
			dt.stats.overruns.Add(1)
			ok = ok && dt.invoke(PolicyFlowControlOverrun, dt.policies.flowControlOverrun(dt, inFlight, msg.NewCredit))
		}
		if ok {
			dt.invoke(PolicySVUpdate, dt.policies.svUpdate(dt, sv.LastSendDataAck))
		}

		if dt.windowWithheld && seqnum.LessThan(before, sv.SendRightWindowEdge) {
			dt.NotifyWindowOpened()
		}
	}

	if err := sv.Check(); err != nil {
		log.Error().Err(err).Msg("state vector inconsistent after control message")
	}
}

// peerRestarted decides whether msg starts a new peer run. A run is
// applied once: a repeated DRF of the current run, or anything from an
// older run, is stale. A newer run resets even when its DRF was lost.
func (dt *Instance) peerRestarted(msg ControlMessage) (reset, stale bool) {
	switch {
	case dt.peerRunSeen && msg.Run < dt.peerRun:
		return false, true
	case dt.peerRunSeen && msg.Run == dt.peerRun:
		return false, msg.Reset
	}
	return msg.Reset || msg.Run > dt.peerRun, false
}

// advanceLeftEdge moves the send left window edge forward to ack, stops
// tracking the acknowledged units and returns them.
func (d *DTCP) advanceLeftEdge(ack seqnum.Value) []*trackedUnit {
	dt := &d.inst
	if err := dt.sv.UpdateSendWindow(ack); err != nil {
		return nil
	}

	acked := dt.tracker.RemoveBefore(ack)
	for _, u := range acked {
		dt.timers.Cancel(u.Timer)
	}
	id := dt.id
	dt.notify(func(n Notifier) { n.Acknowledged(id, ack) })
	return acked
}

// rttSample times the newest acknowledged unit. Retransmitted units give
// no sample (Karn's algorithm).
func rttSample(acked []*trackedUnit, now time.Time) (time.Duration, bool) {
	if len(acked) == 0 {
		return 0, false
	}
	u := acked[len(acked)-1]
	if u.RetryCount > 0 {
		return 0, false
	}
	return now.Sub(u.SentTime), true
}

// OnInboundData accounts for a data unit received from the peer and
// drives the acknowledgment policies. It returns ErrRateExceeded or
// ErrOutsideWindow when the unit should be discarded.
func (d *DTCP) OnInboundData(seq seqnum.Value) error {
	d.mu.Lock()
	defer d.unlock()

	if err := d.ensureActive(); err != nil {
		return err
	}
	d.touch()

	dt := &d.inst
	sv := dt.sv
	if dt.cfg.RateBased && sv.PDUsReceivedInTimeUnit >= sv.ReceiverRate {
		dt.stats.rejectedData.Add(1)
		return fmt.Errorf("%w: %d units this time unit", ErrRateExceeded, sv.PDUsReceivedInTimeUnit)
	}
	sv.PDUsReceivedInTimeUnit++

	_, seen := dt.outOfOrder[seq]
	if seen || seqnum.LessThan(seq, sv.ReceiveLeftWindowEdge) {
		dt.stats.duplicateData.Add(1)
		dt.log.Debug().Uint64("seq", uint64(seq)).Msg("received retransmission")
		dt.invoke(PolicyReceivedRetransmission, dt.policies.receivedRetransmission(dt, seq))
		return nil
	}
	if dt.cfg.WindowBased && seqnum.LessThan(sv.ReceiverRightWindowEdge, seq) {
		dt.stats.rejectedData.Add(1)
		return fmt.Errorf("%w: %d beyond right edge %d", ErrOutsideWindow, seq, sv.ReceiverRightWindowEdge)
	}
	dt.stats.dataReceived.Add(1)

	if seq == sv.ReceiveLeftWindowEdge {
		next := seq + 1
		for {
			if _, ok := dt.outOfOrder[next]; !ok {
				break
			}
			delete(dt.outOfOrder, next)
			next++
		}
		sv.ReceiveLeftWindowEdge = next
		sv.LastReceiveDataAck = next
		// Credit is a window size: the right edge slides with the left.
		sv.SetReceiverCredit(sv.ReceiverCredit)
	} else {
		dt.outOfOrder[seq] = struct{}{}
	}

	switch {
	case dt.cfg.RetransmissionControl:
		dt.invoke(PolicyRcvrAck, dt.policies.rcvrAck(dt, seq))
	case dt.cfg.FlowControl:
		dt.invoke(PolicyRcvrFlowControl, dt.policies.rcvrFlowControl(dt, sv.ReceiveLeftWindowEdge))
	}
	return nil
}

// UpdateCredit recomputes the credit granted to the peer through
// update_credit and advertises it with rcvr_flow_control.
func (d *DTCP) UpdateCredit() error {
	d.mu.Lock()
	defer d.unlock()

	if err := d.ensureActive(); err != nil {
		return err
	}

	dt := &d.inst
	if !dt.invoke(PolicyUpdateCredit, dt.policies.updateCredit(dt)) {
		return nil
	}
	if dt.cfg.FlowControl {
		dt.invoke(PolicyRcvrFlowControl, dt.policies.rcvrFlowControl(dt, dt.sv.ReceiveLeftWindowEdge))
	}
	return nil
}
