package common

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// PacketBuffer is a cursor over a fixed byte slice used by the PDU codec.
// Reads and writes share one position and fail with io.EOF instead of
// growing the slice. Integers are big endian.
type PacketBuffer struct {
	data []byte
	pos  int
}

// NewPacketBuffer returns a zeroed buffer of size bytes.
func NewPacketBuffer(size int) *PacketBuffer {
	return &PacketBuffer{data: make([]byte, size)}
}

// NewPacketBufferFromBytes wraps data without copying it.
func NewPacketBufferFromBytes(data []byte) *PacketBuffer {
	return &PacketBuffer{data: data}
}

// Bytes returns the whole underlying slice.
func (pb *PacketBuffer) Bytes() []byte { return pb.data }

// Data returns the unread tail, or nil at the end.
func (pb *PacketBuffer) Data() []byte {
	if pb.pos >= len(pb.data) {
		return nil
	}
	return pb.data[pb.pos:]
}

// Remaining returns the bytes left after the cursor.
func (pb *PacketBuffer) Remaining() int { return len(pb.data) - pb.pos }

// Reset moves the cursor back to the start.
func (pb *PacketBuffer) Reset() { pb.pos = 0 }

// SetPosition moves the cursor to pos.
func (pb *PacketBuffer) SetPosition(pos int) error {
	if pos < 0 || pos > len(pb.data) {
		return fmt.Errorf("position %d out of range [0, %d]", pos, len(pb.data))
	}
	pb.pos = pos
	return nil
}

// span claims the next n bytes and advances the cursor past them.
func (pb *PacketBuffer) span(n int) ([]byte, error) {
	if n > pb.Remaining() {
		return nil, io.EOF
	}
	b := pb.data[pb.pos : pb.pos+n]
	pb.pos += n
	return b, nil
}

// Skip advances the cursor by n bytes.
func (pb *PacketBuffer) Skip(n int) error {
	_, err := pb.span(n)
	return err
}

func (pb *PacketBuffer) ReadByte() (byte, error) {
	b, err := pb.span(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBytes returns the next n bytes. The result aliases the buffer.
func (pb *PacketBuffer) ReadBytes(n int) ([]byte, error) {
	return pb.span(n)
}

func (pb *PacketBuffer) ReadUint16() (uint16, error) {
	b, err := pb.span(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (pb *PacketBuffer) ReadUint32() (uint32, error) {
	b, err := pb.span(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (pb *PacketBuffer) ReadUint64() (uint64, error) {
	b, err := pb.span(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (pb *PacketBuffer) WriteByte(v byte) error {
	b, err := pb.span(1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

func (pb *PacketBuffer) WriteBytes(data []byte) error {
	b, err := pb.span(len(data))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

func (pb *PacketBuffer) WriteUint16(v uint16) error {
	b, err := pb.span(2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b, v)
	return nil
}

func (pb *PacketBuffer) WriteUint32(v uint32) error {
	b, err := pb.span(4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b, v)
	return nil
}

func (pb *PacketBuffer) WriteUint64(v uint64) error {
	b, err := pb.span(8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b, v)
	return nil
}

// HexDump formats data sixteen bytes per line with offsets and an ASCII
// column, e.g. "0010  48 65 6c 6c 6f ... |Hello|".
func HexDump(data []byte) string {
	const width = 16
	var sb strings.Builder

	for off := 0; off < len(data); off += width {
		line := data[off:min(off+width, len(data))]
		fmt.Fprintf(&sb, "%04x  ", off)
		for i := 0; i < width; i++ {
			if i < len(line) {
				fmt.Fprintf(&sb, "%02x ", line[i])
			} else {
				sb.WriteString("   ")
			}
			if i == width/2-1 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(" |")
		for _, b := range line {
			if b < 32 || b > 126 {
				b = '.'
			}
			sb.WriteByte(b)
		}
		sb.WriteString("|\n")
	}
	return sb.String()
}
