// Package dtp is a minimal data-transfer path on top of a DTCP engine:
// it numbers and sends units, keeps what it sent until acknowledged so the
// engine can ask for it again, and reorders what it receives.
package dtp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/therealutkarshpriyadarshi/rina/pkg/common"
	"github.com/therealutkarshpriyadarshi/rina/pkg/dtcp"
	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

var (
	ErrUnknownUnit = errors.New("dtp: no record of unit")
	ErrTooLarge    = errors.New("dtp: payload exceeds maximum PDU size")
	ErrNotBound    = errors.New("dtp: sender not bound to a connection")
)

// Admitter is the part of a DTCP engine a Sender needs.
type Admitter interface {
	AdmitOutbound(seq seqnum.Value) (dtcp.Admission, error)
}

type unit struct {
	seq     seqnum.Value
	payload []byte
}

// Sender numbers outbound payloads, asks the engine to admit them and keeps
// every admitted unit until it is acknowledged. It is the engine's
// Regenerator and Notifier.
type Sender struct {
	mu       sync.Mutex
	id       common.ConnectionID
	src, dst common.Address
	maxSize  int
	tx       dtcp.Transmitter
	admit    Admitter
	log      zerolog.Logger

	next    seqnum.Value
	pending []unit
	sent    map[seqnum.Value][]byte
	failed  int

	// draining is set while one goroutine pushes pending units; rerun asks
	// it to go around again because the window may have opened meanwhile.
	draining bool
	rerun    bool
}

// NewSender creates a sender for connection id. Bind must be called before
// the first Write.
func NewSender(id common.ConnectionID, src, dst common.Address, maxSize int, tx dtcp.Transmitter, log zerolog.Logger) *Sender {
	return &Sender{
		id:      id,
		src:     src,
		dst:     dst,
		maxSize: maxSize,
		tx:      tx,
		log:     log,
		sent:    make(map[seqnum.Value][]byte),
	}
}

// Bind attaches the engine that admits this sender's units.
func (s *Sender) Bind(a Admitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admit = a
}

// Write queues a copy of payload and sends whatever the engine admits.
// It returns the sequence number assigned to the unit.
func (s *Sender) Write(payload []byte) (seqnum.Value, error) {
	if len(payload) > s.maxSize || len(payload) > pdu.MaxPayload {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}

	s.mu.Lock()
	if s.admit == nil {
		s.mu.Unlock()
		return 0, ErrNotBound
	}
	seq := s.next
	s.next++
	s.pending = append(s.pending, unit{seq: seq, payload: append([]byte(nil), payload...)})
	s.mu.Unlock()

	return seq, s.drain()
}

// drain sends pending units until the engine withholds one. Only one
// goroutine drains at a time; a concurrent caller makes it run again.
func (s *Sender) drain() error {
	s.mu.Lock()
	if s.draining {
		s.rerun = true
		s.mu.Unlock()
		return nil
	}
	s.draining = true
	defer func() {
		s.draining = false
		s.mu.Unlock()
	}()

	for {
		s.rerun = false
		for len(s.pending) > 0 {
			u := s.pending[0]
			s.sent[u.seq] = u.payload

			s.mu.Unlock()
			a, err := s.admit.AdmitOutbound(u.seq)
			s.mu.Lock()

			if err != nil {
				delete(s.sent, u.seq)
				return err
			}
			if !a.Admitted {
				delete(s.sent, u.seq)
				s.log.Debug().Uint64("seq", uint64(u.seq)).Stringer("reason", a.Reason).Msg("unit withheld")
				break
			}
			s.pending = s.pending[1:]

			p := s.build(u.seq, u.payload)
			s.mu.Unlock()
			s.tx.Transmit(s.id, p)
			s.mu.Lock()
		}
		if !s.rerun {
			return nil
		}
	}
}

func (s *Sender) build(seq seqnum.Value, payload []byte) *pdu.PDU {
	return &pdu.PDU{
		PCI: pdu.PCI{
			Version:     pdu.Version,
			Type:        pdu.TypeDT,
			Source:      s.src,
			Destination: s.dst,
			Conn:        s.id,
			Seq:         seq,
		},
		Payload: payload,
	}
}

// RegenerateUnit rebuilds an unacknowledged unit for retransmission.
func (s *Sender) RegenerateUnit(id common.ConnectionID, seq seqnum.Value) (*pdu.PDU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, ok := s.sent[seq]
	if !ok {
		return nil, fmt.Errorf("%w %d on %s", ErrUnknownUnit, seq, id)
	}
	return s.build(seq, payload), nil
}

// Acknowledged releases every unit below leftEdge.
func (s *Sender) Acknowledged(id common.ConnectionID, leftEdge seqnum.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for seq := range s.sent {
		if seqnum.LessThan(seq, leftEdge) {
			delete(s.sent, seq)
		}
	}
}

// WindowOpened retries the withheld units.
func (s *Sender) WindowOpened(id common.ConnectionID) {
	if err := s.drain(); err != nil {
		s.log.Warn().Err(err).Msg("retrying withheld units")
	}
}

// DeliveryFailed drops the record of an abandoned unit.
func (s *Sender) DeliveryFailed(id common.ConnectionID, seq seqnum.Value, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sent, seq)
	s.failed++
	s.log.Error().Err(err).Uint64("seq", uint64(seq)).Msg("unit abandoned")
}

// Unacknowledged returns the number of admitted units still kept.
func (s *Sender) Unacknowledged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// Pending returns the number of units waiting for admission.
func (s *Sender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Failed returns the number of abandoned units.
func (s *Sender) Failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}
