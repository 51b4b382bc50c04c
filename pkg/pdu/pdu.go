// Package pdu defines the EFCP protocol data units exchanged between two
// connection endpoints and their binary encoding.
//
// The DTCP engine works on decoded *PDU values only. Links call Marshal and
// Unmarshal at the edge.
package pdu

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/therealutkarshpriyadarshi/rina/pkg/common"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

// Version is the only PCI version understood by this codec.
const Version = 1

// Type identifies the kind of PDU. Control types have both high bits set.
type Type uint8

const (
	TypeDT                Type = 0x80 // data transfer
	TypeAck               Type = 0xC1
	TypeNack              Type = 0xC2
	TypeFlowControl       Type = 0xC4
	TypeAckAndFlowControl Type = 0xC5
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeDT:
		return "DT"
	case TypeAck:
		return "ACK"
	case TypeNack:
		return "NACK"
	case TypeFlowControl:
		return "FC"
	case TypeAckAndFlowControl:
		return "ACK_AND_FC"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// IsControl reports whether t is one of the DTCP control types.
func (t Type) IsControl() bool {
	return t&0xC0 == 0xC0
}

// HasAck reports whether a control PDU of type t acknowledges data.
func (t Type) HasAck() bool {
	return t == TypeAck || t == TypeAckAndFlowControl
}

// HasFlowControl reports whether a control PDU of type t carries a window
// or rate update.
func (t Type) HasFlowControl() bool {
	return t == TypeFlowControl || t == TypeAckAndFlowControl
}

func (t Type) valid() bool {
	switch t {
	case TypeDT, TypeAck, TypeNack, TypeFlowControl, TypeAckAndFlowControl:
		return true
	}
	return false
}

// Flags is the PCI flag byte.
type Flags uint8

const (
	// FlagDataRun marks the first PDU after the sender reset its state
	// (DRF). The receiver must reinitialise its expectations.
	FlagDataRun Flags = 0x80
)

// PCI is the protocol control information common to every PDU.
type PCI struct {
	Version     uint8
	Type        Type
	Flags       Flags
	Source      common.Address
	Destination common.Address
	Conn        common.ConnectionID
	Seq         seqnum.Value
}

// ControlFields are the DTCP fields carried by control PDUs. Ack is the
// first sequence number the receiver has not yet accepted: everything below
// it is acknowledged. LastControlSeqReceived echoes the highest control
// sequence number seen from the peer. Run numbers the sender's state
// vectors: it grows each time the sender starts over with DRF.
type ControlFields struct {
	LastControlSeqReceived seqnum.Value
	Ack                    seqnum.Value
	NewCredit              seqnum.Size
	NewRightWindowEdge     seqnum.Value
	NewRate                uint32
	TimeUnit               uint32 // milliseconds
	MyLeftWindowEdge       seqnum.Value
	MyRightWindowEdge      seqnum.Value
	MyRate                 uint32
	Run                    uint32
}

// PDU is a decoded protocol data unit. Control is set for control types
// and nil for data transfer PDUs.
type PDU struct {
	PCI
	Control *ControlFields
	Payload []byte
}

// DataRun reports whether the DRF flag is set.
func (p *PDU) DataRun() bool {
	return p.Flags&FlagDataRun != 0
}

// String returns a one-line summary for debugging.
func (p *PDU) String() string {
	if p == nil {
		return "<nil>"
	}
	if p.Control != nil {
		return fmt.Sprintf("%s conn=%s seq=%d ack=%d rwe=%d credit=%d rate=%d",
			p.Type, p.Conn, p.Seq, p.Control.Ack, p.Control.NewRightWindowEdge,
			p.Control.NewCredit, p.Control.NewRate)
	}
	return fmt.Sprintf("%s conn=%s seq=%d len=%d", p.Type, p.Conn, p.Seq, len(p.Payload))
}

// MarshalZerologObject lets a PDU be logged with Object("pdu", p).
func (p *PDU) MarshalZerologObject(e *zerolog.Event) {
	e.Stringer("type", p.Type).
		Stringer("conn", p.Conn).
		Uint64("seq", uint64(p.Seq))
	if p.DataRun() {
		e.Bool("drf", true)
	}
	if p.Control != nil {
		e.Uint64("ack", uint64(p.Control.Ack)).
			Uint64("rwe", uint64(p.Control.NewRightWindowEdge)).
			Uint64("credit", uint64(p.Control.NewCredit)).
			Uint32("rate", p.Control.NewRate).
			Uint32("run", p.Control.Run)
	} else {
		e.Int("len", len(p.Payload))
	}
}
