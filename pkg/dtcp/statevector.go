package dtcp

import (
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

// StateVector is the per-connection record of sequencing, flow control
// and rate control. It is owned by one connection and only touched with
// that connection's lock held; policies receive it through Instance.SV.
type StateVector struct {
	MaxPDUSize            int
	RetransmissionTimeout time.Duration
	PDUsPerTimeUnit       uint32
	TimeUnit              time.Duration

	NextSendControlSeq     seqnum.Value
	LastReceivedControlSeq seqnum.Value

	// Sender side. LastSendDataAck and SendLeftWindowEdge move together:
	// the lowest sequence number not yet acknowledged.
	LastSendDataAck     seqnum.Value
	SendLeftWindowEdge  seqnum.Value
	SendRightWindowEdge seqnum.Value
	SenderCredit        seqnum.Size
	SenderRate          uint32
	PDUsSentInTimeUnit  uint32
	NextSendDataSeq     seqnum.Value
	MaxRetransmissions  int
	SmoothedRTT         time.Duration

	// Receiver side.
	LastReceiveDataAck      seqnum.Value
	ReceiveLeftWindowEdge   seqnum.Value
	ReceiverRightWindowEdge seqnum.Value
	ReceiverCredit          seqnum.Size
	ReceiverRate            uint32
	PDUsReceivedInTimeUnit  uint32

	// ResetFlag makes the next control message carry DRF. Run counts the
	// vectors this connection has started with DRF and is sent in every
	// control message.
	ResetFlag bool
	Run       uint32

	controlSeen bool
}

// NewStateVector returns a fresh vector seeded from cfg. Credits and rates
// are left for the flow_init policy.
func NewStateVector(cfg Config) *StateVector {
	return &StateVector{
		MaxPDUSize:            cfg.MaxPDUSize,
		RetransmissionTimeout: cfg.RetransmissionTimeout,
		PDUsPerTimeUnit:       cfg.InitialRate,
		TimeUnit:              cfg.TimeUnit,
		MaxRetransmissions:    cfg.MaxRetransmissions,
	}
}

// UpdateSendWindow moves the send left window edge to seq. Moving it
// backward returns ErrStaleAck and leaves the vector untouched; applying
// the current edge again is a no-op.
func (sv *StateVector) UpdateSendWindow(seq seqnum.Value) error {
	if seqnum.LessThan(seq, sv.SendLeftWindowEdge) {
		return fmt.Errorf("%w: %d below left edge %d", ErrStaleAck, seq, sv.SendLeftWindowEdge)
	}

	sv.SendLeftWindowEdge = seq
	sv.LastSendDataAck = seq
	if seqnum.LessThan(sv.NextSendDataSeq, seq) {
		sv.NextSendDataSeq = seq
	}
	// A pure ack never grants credit, it only keeps the edges ordered.
	sv.SendRightWindowEdge = seqnum.Max(sv.SendRightWindowEdge, seq)
	return nil
}

// SetSenderCredit applies credit granted by the peer:
// SendRightWindowEdge = LastSendDataAck + c.
func (sv *StateVector) SetSenderCredit(c seqnum.Size) {
	sv.SenderCredit = c
	sv.SendRightWindowEdge = seqnum.Add(sv.LastSendDataAck, c)
}

// SetReceiverCredit sets the credit granted to the peer and recomputes
// the receiver right window edge from the receive left window edge.
func (sv *StateVector) SetReceiverCredit(c seqnum.Size) {
	sv.ReceiverCredit = c
	sv.ReceiverRightWindowEdge = seqnum.Add(sv.ReceiveLeftWindowEdge, c)
}

// NextControlSeq returns the sequence number for the next outbound
// control message and advances the counter.
func (sv *StateVector) NextControlSeq() seqnum.Value {
	seq := sv.NextSendControlSeq
	sv.NextSendControlSeq++
	return seq
}

// InFlight returns the number of admitted units not yet acknowledged.
func (sv *StateVector) InFlight() seqnum.Size {
	return seqnum.Sizeof(sv.SendLeftWindowEdge, sv.NextSendDataSeq)
}

// Check verifies the sender window invariant.
func (sv *StateVector) Check() error {
	if seqnum.LessThan(sv.SendRightWindowEdge, sv.SendLeftWindowEdge) {
		return fmt.Errorf("%w: send left edge %d beyond right edge %d",
			ErrInvariant, sv.SendLeftWindowEdge, sv.SendRightWindowEdge)
	}
	return nil
}

// observeControlSeq records an inbound control sequence number. It reports
// whether seq is a duplicate and, if not, the first missing number when a
// gap precedes it.
func (sv *StateVector) observeControlSeq(seq seqnum.Value) (duplicate bool, gapFrom seqnum.Value, gap bool) {
	if sv.controlSeen && seqnum.LessThanEq(seq, sv.LastReceivedControlSeq) {
		return true, 0, false
	}

	expected := seqnum.Value(0)
	if sv.controlSeen {
		expected = sv.LastReceivedControlSeq + 1
	}
	sv.LastReceivedControlSeq = seq
	sv.controlSeen = true
	if seqnum.LessThan(expected, seq) {
		return false, expected, true
	}
	return false, 0, false
}

// resetControlSeq forgets the peer's control numbering after it signalled
// DRF.
func (sv *StateVector) resetControlSeq() {
	sv.controlSeen = false
	sv.LastReceivedControlSeq = 0
}
