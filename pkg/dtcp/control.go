package dtcp

import (
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/rina/pkg/common"
	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

// ControlKind is the logical kind of a control message.
type ControlKind int

const (
	KindAck ControlKind = iota
	KindFlowControl
	KindAckFlowControl
)

// String returns the kind name.
func (k ControlKind) String() string {
	switch k {
	case KindAck:
		return "ACK"
	case KindFlowControl:
		return "FC"
	case KindAckFlowControl:
		return "ACK_AND_FC"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(k))
	}
}

func (k ControlKind) pduType() (pdu.Type, bool) {
	switch k {
	case KindAck:
		return pdu.TypeAck, true
	case KindFlowControl:
		return pdu.TypeFlowControl, true
	case KindAckFlowControl:
		return pdu.TypeAckAndFlowControl, true
	}
	return 0, false
}

// ControlMessage is the logical content of an inbound control PDU.
type ControlMessage struct {
	Kind               ControlKind
	Seq                seqnum.Value
	Ack                seqnum.Value
	NewCredit          seqnum.Size
	NewRightWindowEdge seqnum.Value
	NewRate            uint32
	TimeUnit           time.Duration
	Reset              bool
	Run                uint32

	LastControlSeqReceived seqnum.Value
	MyLeftWindowEdge       seqnum.Value
	MyRightWindowEdge      seqnum.Value
	MyRate                 uint32
}

// HasAck reports whether the message acknowledges data.
func (m ControlMessage) HasAck() bool {
	return m.Kind == KindAck || m.Kind == KindAckFlowControl
}

// HasFlowControl reports whether the message carries a credit update.
func (m ControlMessage) HasFlowControl() bool {
	return m.Kind == KindFlowControl || m.Kind == KindAckFlowControl
}

// BuildControl builds a control PDU of the given kind from sv. It consumes
// a control sequence number and, if sv.ResetFlag is set, marks the PDU
// with DRF and clears the flag.
//
// The advertised right window edge is ack + ReceiverCredit for
// ack-bearing kinds and ReceiverRightWindowEdge otherwise.
func BuildControl(sv *StateVector, id common.ConnectionID, kind ControlKind, ack seqnum.Value) (*pdu.PDU, error) {
	typ, ok := kind.pduType()
	if !ok {
		return nil, fmt.Errorf("dtcp: cannot build control message of kind %s", kind)
	}

	c := &pdu.ControlFields{
		LastControlSeqReceived: sv.LastReceivedControlSeq,
		NewCredit:              sv.ReceiverCredit,
		NewRightWindowEdge:     sv.ReceiverRightWindowEdge,
		NewRate:                sv.ReceiverRate,
		TimeUnit:               uint32(sv.TimeUnit / time.Millisecond),
		MyLeftWindowEdge:       sv.SendLeftWindowEdge,
		MyRightWindowEdge:      sv.SendRightWindowEdge,
		MyRate:                 sv.SenderRate,
		Run:                    sv.Run,
	}
	if typ.HasAck() {
		c.Ack = ack
		c.NewRightWindowEdge = seqnum.Add(ack, sv.ReceiverCredit)
	}

	p := &pdu.PDU{
		PCI: pdu.PCI{
			Version: pdu.Version,
			Type:    typ,
			Conn:    id,
			Seq:     sv.NextControlSeq(),
		},
		Control: c,
	}
	if sv.ResetFlag {
		p.Flags |= pdu.FlagDataRun
		sv.ResetFlag = false
	}
	return p, nil
}

// ParseControl extracts the control fields of p. It returns a
// *StructuralError when p is nil, not an ACK/FC type, or lacks its
// control fields.
func ParseControl(p *pdu.PDU) (ControlMessage, error) {
	if p == nil {
		return ControlMessage{}, &StructuralError{Reason: "nil PDU"}
	}

	var kind ControlKind
	switch p.Type {
	case pdu.TypeAck:
		kind = KindAck
	case pdu.TypeFlowControl:
		kind = KindFlowControl
	case pdu.TypeAckAndFlowControl:
		kind = KindAckFlowControl
	default:
		if p.Type.IsControl() {
			return ControlMessage{}, &StructuralError{Type: p.Type, Reason: "unsupported control type"}
		}
		return ControlMessage{}, &StructuralError{Type: p.Type, Reason: "not a control message"}
	}

	c := p.Control
	if c == nil {
		return ControlMessage{}, &StructuralError{Type: p.Type, Reason: "missing control fields"}
	}

	return ControlMessage{
		Kind:                   kind,
		Seq:                    p.Seq,
		Ack:                    c.Ack,
		NewCredit:              c.NewCredit,
		NewRightWindowEdge:     c.NewRightWindowEdge,
		NewRate:                c.NewRate,
		TimeUnit:               time.Duration(c.TimeUnit) * time.Millisecond,
		Reset:                  p.DataRun(),
		Run:                    c.Run,
		LastControlSeqReceived: c.LastControlSeqReceived,
		MyLeftWindowEdge:       c.MyLeftWindowEdge,
		MyRightWindowEdge:      c.MyRightWindowEdge,
		MyRate:                 c.MyRate,
	}, nil
}
