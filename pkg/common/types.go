// Package common provides identifiers and byte-level helpers shared by the
// DTCP engine, the PDU codec and the links.
package common

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is the IPC process address carried in every PDU.
type Address uint32

// String returns the address in decimal.
func (a Address) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// CEPID identifies a connection endpoint inside an IPC process.
type CEPID uint32

// QoSID selects the QoS cube a connection belongs to.
type QoSID uint8

// ConnectionID identifies one EFCP connection. The zero value is valid
// and names the connection between endpoints 0 and 0 on QoS cube 0.
type ConnectionID struct {
	QoS       QoSID
	SourceCEP CEPID
	DestCEP   CEPID
}

// String returns the connection in "qos/src->dst" form (e.g., "1/10->20").
func (c ConnectionID) String() string {
	return fmt.Sprintf("%d/%d->%d", c.QoS, c.SourceCEP, c.DestCEP)
}

// Reverse returns the identifier as seen by the peer endpoint.
func (c ConnectionID) Reverse() ConnectionID {
	return ConnectionID{QoS: c.QoS, SourceCEP: c.DestCEP, DestCEP: c.SourceCEP}
}

// ParseConnectionID parses the form produced by String.
func ParseConnectionID(s string) (ConnectionID, error) {
	qos, rest, ok := strings.Cut(s, "/")
	if !ok {
		return ConnectionID{}, fmt.Errorf("invalid connection id: %q", s)
	}
	src, dst, ok := strings.Cut(rest, "->")
	if !ok {
		return ConnectionID{}, fmt.Errorf("invalid connection id: %q", s)
	}

	q, err := strconv.ParseUint(qos, 10, 8)
	if err != nil {
		return ConnectionID{}, fmt.Errorf("invalid qos id %q: %w", qos, err)
	}
	sc, err := strconv.ParseUint(src, 10, 32)
	if err != nil {
		return ConnectionID{}, fmt.Errorf("invalid source cep %q: %w", src, err)
	}
	dc, err := strconv.ParseUint(dst, 10, 32)
	if err != nil {
		return ConnectionID{}, fmt.Errorf("invalid destination cep %q: %w", dst, err)
	}

	return ConnectionID{QoS: QoSID(q), SourceCEP: CEPID(sc), DestCEP: CEPID(dc)}, nil
}

// TOS maps a QoS cube to the IPv4 type-of-service byte used when the
// connection is carried over UDP. Cube 0 is best effort.
func (q QoSID) TOS() int {
	switch {
	case q == 0:
		return 0x00
	case q < 4:
		return int(q) << 5
	default:
		return 0xB8 // EF
	}
}
