package pdu

import (
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/rina/pkg/common"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

const (
	// HeaderLength is the encoded PCI length.
	HeaderLength = 28

	// ControlLength is the encoded length of ControlFields.
	ControlLength = 64

	// ChecksumLength is the length of the trailing Internet checksum.
	ChecksumLength = 2

	// MaxPayload bounds the data carried by one DT PDU.
	MaxPayload = common.LargeBufferSize - HeaderLength - 2 - 1 - ChecksumLength
)

var (
	ErrTruncated   = errors.New("pdu: truncated")
	ErrChecksum    = errors.New("pdu: checksum mismatch")
	ErrVersion     = errors.New("pdu: unsupported version")
	ErrUnknownType = errors.New("pdu: unknown type")
	ErrNoControl   = errors.New("pdu: control type without control fields")
	ErrTooLarge    = errors.New("pdu: payload too large")
)

// Len returns the encoded size of p, checksum included.
func (p *PDU) Len() int {
	if p.Type.IsControl() {
		return HeaderLength + ControlLength + ChecksumLength
	}
	n := HeaderLength + 2 + len(p.Payload)
	// keep the checksum on a 16-bit boundary
	if n%2 == 1 {
		n++
	}
	return n + ChecksumLength
}

// Serialize encodes p into a newly allocated frame.
func (p *PDU) Serialize() ([]byte, error) {
	buf := make([]byte, p.Len())
	if _, err := p.SerializeTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SerializeTo encodes p into buf, which must hold at least p.Len() bytes,
// and returns the number of bytes written.
func (p *PDU) SerializeTo(buf []byte) (int, error) {
	if !p.Type.valid() {
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownType, uint8(p.Type))
	}
	if p.Type.IsControl() && p.Control == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoControl, p.Type)
	}
	if !p.Type.IsControl() && len(p.Payload) > MaxPayload {
		return 0, fmt.Errorf("%w: %d bytes (maximum %d)", ErrTooLarge, len(p.Payload), MaxPayload)
	}

	n := p.Len()
	if len(buf) < n {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, len(buf))
	}

	pb := common.NewPacketBufferFromBytes(buf[:n-ChecksumLength])
	version := p.Version
	if version == 0 {
		version = Version
	}
	pb.WriteByte(version)
	pb.WriteByte(byte(p.Type))
	pb.WriteByte(byte(p.Flags))
	pb.WriteByte(byte(p.Conn.QoS))
	pb.WriteUint32(uint32(p.Source))
	pb.WriteUint32(uint32(p.Destination))
	pb.WriteUint32(uint32(p.Conn.SourceCEP))
	pb.WriteUint32(uint32(p.Conn.DestCEP))
	pb.WriteUint64(uint64(p.Seq))

	if c := p.Control; p.Type.IsControl() {
		pb.WriteUint64(uint64(c.LastControlSeqReceived))
		pb.WriteUint64(uint64(c.Ack))
		pb.WriteUint64(uint64(c.NewCredit))
		pb.WriteUint64(uint64(c.NewRightWindowEdge))
		pb.WriteUint32(c.NewRate)
		pb.WriteUint32(c.TimeUnit)
		pb.WriteUint64(uint64(c.MyLeftWindowEdge))
		pb.WriteUint64(uint64(c.MyRightWindowEdge))
		pb.WriteUint32(c.MyRate)
		pb.WriteUint32(c.Run)
	} else {
		pb.WriteUint16(uint16(len(p.Payload)))
		pb.WriteBytes(p.Payload)
		if pb.Remaining() == 1 {
			pb.WriteByte(0)
		}
	}

	common.PutChecksum(buf[:n])
	return n, nil
}

// Parse decodes a frame produced by Serialize. The payload is copied so
// the caller may reuse data.
func Parse(data []byte) (*PDU, error) {
	if len(data) < HeaderLength+ChecksumLength {
		return nil, fmt.Errorf("%w: %d bytes (minimum %d)", ErrTruncated, len(data), HeaderLength+ChecksumLength)
	}
	if !common.VerifyChecksum(data) {
		return nil, ErrChecksum
	}

	pb := common.NewPacketBufferFromBytes(data[:len(data)-ChecksumLength])
	p := &PDU{}
	p.Version, _ = pb.ReadByte()
	if p.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, p.Version)
	}
	t, _ := pb.ReadByte()
	p.Type = Type(t)
	if !p.Type.valid() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, t)
	}
	flags, _ := pb.ReadByte()
	p.Flags = Flags(flags)
	qos, _ := pb.ReadByte()
	src, _ := pb.ReadUint32()
	dst, _ := pb.ReadUint32()
	srcCEP, _ := pb.ReadUint32()
	dstCEP, _ := pb.ReadUint32()
	seq, _ := pb.ReadUint64()
	p.Source = common.Address(src)
	p.Destination = common.Address(dst)
	p.Conn = common.ConnectionID{
		QoS:       common.QoSID(qos),
		SourceCEP: common.CEPID(srcCEP),
		DestCEP:   common.CEPID(dstCEP),
	}
	p.Seq = seqnum.Value(seq)

	if p.Type.IsControl() {
		c, err := parseControl(pb)
		if err != nil {
			return nil, err
		}
		p.Control = c
		return p, nil
	}

	length, err := pb.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("%w: missing payload length", ErrTruncated)
	}
	payload, err := pb.ReadBytes(int(length))
	if err != nil {
		return nil, fmt.Errorf("%w: payload length %d exceeds frame", ErrTruncated, length)
	}
	if length > 0 {
		p.Payload = make([]byte, length)
		copy(p.Payload, payload)
	}
	return p, nil
}

func parseControl(pb *common.PacketBuffer) (*ControlFields, error) {
	if pb.Remaining() < ControlLength {
		return nil, fmt.Errorf("%w: control fields need %d bytes, have %d", ErrTruncated, ControlLength, pb.Remaining())
	}

	c := &ControlFields{}
	v, _ := pb.ReadUint64()
	c.LastControlSeqReceived = seqnum.Value(v)
	v, _ = pb.ReadUint64()
	c.Ack = seqnum.Value(v)
	v, _ = pb.ReadUint64()
	c.NewCredit = seqnum.Size(v)
	v, _ = pb.ReadUint64()
	c.NewRightWindowEdge = seqnum.Value(v)
	c.NewRate, _ = pb.ReadUint32()
	c.TimeUnit, _ = pb.ReadUint32()
	v, _ = pb.ReadUint64()
	c.MyLeftWindowEdge = seqnum.Value(v)
	v, _ = pb.ReadUint64()
	c.MyRightWindowEdge = seqnum.Value(v)
	c.MyRate, _ = pb.ReadUint32()
	c.Run, _ = pb.ReadUint32()
	return c, nil
}
