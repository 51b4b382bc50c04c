package dtcp

import (
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

// Default policies. They are deliberately simple; pkg/policy has
// alternatives for the points where production use needs more.

func defaultFlowInit(dt *Instance) error {
	cfg, sv := dt.Config(), dt.SV()
	if cfg.WindowBased {
		credit := dt.InitialCredit()
		sv.SetSenderCredit(credit)
		sv.SetReceiverCredit(credit)
	}
	if cfg.RateBased {
		rate := dt.InitialRate()
		sv.SenderRate = rate
		sv.ReceiverRate = rate
		sv.PDUsPerTimeUnit = rate
	}
	return nil
}

// defaultSVUpdate only handles flow control without retransmission
// control and reports failure otherwise.
func defaultSVUpdate(dt *Instance, seq seqnum.Value) error {
	cfg := dt.Config()
	if cfg.FlowControl && !cfg.RetransmissionControl {
		return dt.ReceivingFlowControl(seq)
	}
	return fmt.Errorf("%w: sv_update: no default with retransmission control", ErrPolicyFailed)
}

// defaultLostControlPDU re-advertises the local receive state so the peer
// recovers whatever the lost message carried.
func defaultLostControlPDU(dt *Instance, expected, received seqnum.Value) error {
	ack := dt.SV().ReceiveLeftWindowEdge
	if dt.Config().FlowControl {
		return dt.RcvrFlowControl(ack)
	}
	return dt.SendingAck(ack)
}

// defaultRTTEstimator keeps an EWMA (gain 1/8) of the samples and sets the
// retransmission timeout to twice the smoothed RTT.
func defaultRTTEstimator(dt *Instance, sample time.Duration) error {
	cfg, sv := dt.Config(), dt.SV()
	if sv.SmoothedRTT == 0 {
		sv.SmoothedRTT = sample
	} else {
		sv.SmoothedRTT += (sample - sv.SmoothedRTT) / 8
	}

	rto := 2 * sv.SmoothedRTT
	if rto < cfg.MinRetransmissionTimeout {
		rto = cfg.MinRetransmissionTimeout
	}
	if cfg.MaxRetransmissionTimeout > 0 && rto > cfg.MaxRetransmissionTimeout {
		rto = cfg.MaxRetransmissionTimeout
	}
	sv.RetransmissionTimeout = rto
	return nil
}

func defaultRetransmissionTimerExpiry(dt *Instance, seq seqnum.Value) error {
	p, err := dt.Regenerate(seq)
	if err != nil {
		return fmt.Errorf("%w: regenerate unit %d: %v", ErrPolicyFailed, seq, err)
	}
	dt.Transmit(p)
	return nil
}

func defaultReceivedRetransmission(dt *Instance, seq seqnum.Value) error {
	return dt.SendingAck(dt.SV().ReceiveLeftWindowEdge)
}

func defaultRcvrAck(dt *Instance, seq seqnum.Value) error {
	// TODO: flush partial batches from an ack timer instead of waiting
	// for the list to fill.
	if size := dt.Config().AckListSize; size > 1 {
		if batch, full := dt.BatchAck(seq, size); full {
			return dt.SendingAckList(batch)
		}
		return nil
	}
	return dt.SendingAck(dt.SV().ReceiveLeftWindowEdge)
}

func defaultSendingAck(dt *Instance, ack seqnum.Value) error {
	kind := KindAck
	if dt.Config().FlowControl {
		kind = KindAckFlowControl
	}
	p, err := dt.BuildControl(kind, ack)
	if err != nil {
		return err
	}
	dt.Transmit(p)
	return nil
}

// defaultSendingAckList acknowledges the batch cumulatively.
func defaultSendingAckList(dt *Instance, seqs []seqnum.Value) error {
	return dt.SendingAck(dt.SV().ReceiveLeftWindowEdge)
}

func defaultInitialCredit(dt *Instance) seqnum.Size {
	return dt.Config().InitialCredit
}

func defaultInitialRate(dt *Instance) uint32 {
	return dt.Config().InitialRate
}

func defaultReceivingFlowControl(dt *Instance, seq seqnum.Value) error {
	dt.NotifyWindowOpened()
	return nil
}

func defaultUpdateCredit(dt *Instance) error {
	sv := dt.SV()
	sv.SetReceiverCredit(sv.ReceiverCredit)
	return nil
}

func defaultFlowControlOverrun(dt *Instance, inFlight, credit seqnum.Size) error {
	dt.Logger().Warn().
		Uint64("in_flight", uint64(inFlight)).
		Uint64("credit", uint64(credit)).
		Msg("peer reduced credit below units in flight")
	return nil
}

// defaultReconcileFlowConflict keeps the locally computed edge.
func defaultReconcileFlowConflict(dt *Instance, local, remote seqnum.Value) error {
	dt.Logger().Debug().
		Uint64("local", uint64(local)).
		Uint64("remote", uint64(remote)).
		Msg("right window edge disagrees with peer, keeping local")
	return nil
}

func defaultRcvrFlowControl(dt *Instance, ack seqnum.Value) error {
	p, err := dt.BuildControl(KindAckFlowControl, ack)
	if err != nil {
		return err
	}
	dt.Transmit(p)
	return nil
}
