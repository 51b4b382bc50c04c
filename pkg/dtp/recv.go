package dtp

import (
	"sync"

	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

// Acceptor is the part of a DTCP engine a Receiver needs.
type Acceptor interface {
	OnInboundData(seq seqnum.Value) error
	UpdateCredit() error
}

// Receiver reorders inbound units and hands them out in sequence. Its
// capacity, in units, drives the credit granted to the peer.
type Receiver struct {
	mu       sync.Mutex
	capacity int
	next     seqnum.Value
	held     map[seqnum.Value][]byte
	ready    [][]byte
	engine   Acceptor
}

// NewReceiver creates a receive buffer holding up to capacity units.
func NewReceiver(capacity int) *Receiver {
	return &Receiver{
		capacity: capacity,
		held:     make(map[seqnum.Value][]byte),
	}
}

// Bind attaches the engine that polices this receiver's traffic.
func (r *Receiver) Bind(a Acceptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine = a
}

// Accept runs the engine's checks on a data PDU and buffers its payload.
// Units the engine rejects are dropped and the error returned. Duplicates
// are dropped silently.
func (r *Receiver) Accept(p *pdu.PDU) error {
	r.mu.Lock()
	engine := r.engine
	r.mu.Unlock()

	if engine != nil {
		if err := engine.OnInboundData(p.Seq); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.held[p.Seq]; dup || seqnum.LessThan(p.Seq, r.next) {
		return nil
	}
	if p.Seq != r.next {
		r.held[p.Seq] = p.Payload
		return nil
	}

	r.ready = append(r.ready, p.Payload)
	r.next++
	for {
		payload, ok := r.held[r.next]
		if !ok {
			break
		}
		delete(r.held, r.next)
		r.ready = append(r.ready, payload)
		r.next++
	}
	return nil
}

// Read returns the next in-order payload, if any. Reading frees buffer
// space, which is advertised to the peer.
func (r *Receiver) Read() ([]byte, bool) {
	r.mu.Lock()
	if len(r.ready) == 0 {
		r.mu.Unlock()
		return nil, false
	}
	data := r.ready[0]
	r.ready[0] = nil
	r.ready = r.ready[1:]
	engine := r.engine
	r.mu.Unlock()

	if engine != nil {
		engine.UpdateCredit()
	}
	return data, true
}

// Free returns the number of units the buffer can still take.
func (r *Receiver) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	free := r.capacity - len(r.ready) - len(r.held)
	if free < 0 {
		return 0
	}
	return free
}

// Len returns the number of units ready to read.
func (r *Receiver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready)
}

// Held returns the number of out-of-order units waiting for a gap to fill.
func (r *Receiver) Held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}
