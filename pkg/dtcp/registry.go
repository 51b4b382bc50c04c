package dtcp

import (
	"fmt"
	"sync"

	"github.com/pborman/uuid"
	"github.com/rs/zerolog"

	"github.com/therealutkarshpriyadarshi/rina/pkg/common"
	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

// Handle refers to a connection owned by a Registry. Handles are random
// UUIDs and are never reused.
type Handle string

// Registry owns the control engines of an IPC process and routes traffic
// to them by handle or by connection identifier.
type Registry struct {
	mu      sync.RWMutex
	engines map[Handle]*DTCP
	byConn  map[common.ConnectionID]Handle
	log     zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		engines: make(map[Handle]*DTCP),
		byConn:  make(map[common.ConnectionID]Handle),
		log:     log,
	}
}

// Create builds and activates an engine for ctx and returns its handle.
// Engines log through the registry logger.
func (r *Registry) Create(ctx Context) (Handle, error) {
	ctx.Logger = r.log

	d, err := New(ctx)
	if err != nil {
		return "", err
	}

	h := Handle(uuid.New())
	r.mu.Lock()
	if _, dup := r.byConn[ctx.ID]; dup {
		r.mu.Unlock()
		return "", &ConfigError{Field: "ID", Reason: fmt.Sprintf("connection %s already registered", ctx.ID)}
	}
	r.engines[h] = d
	r.byConn[ctx.ID] = h
	r.mu.Unlock()

	d.alive = func() bool {
		_, ok := r.get(h)
		return ok
	}
	if err := d.Activate(); err != nil {
		r.remove(h)
		if derr := d.Destroy(); derr != nil {
			r.log.Warn().Err(derr).Stringer("conn", ctx.ID).Msg("cannot destroy connection that failed to activate")
		}
		return "", err
	}

	r.log.Debug().Str("handle", string(h)).Stringer("conn", ctx.ID).Msg("connection registered")
	return h, nil
}

// Destroy removes the engine and destroys it.
func (r *Registry) Destroy(h Handle) error {
	d, ok := r.remove(h)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return d.Destroy()
}

// Lookup returns the engine for h.
func (r *Registry) Lookup(h Handle) (*DTCP, error) {
	d, ok := r.get(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return d, nil
}

// LookupConn returns the handle registered for id.
func (r *Registry) LookupConn(id common.ConnectionID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byConn[id]
	return h, ok
}

// OnInboundControlMessage hands a control PDU to the engine for h.
func (r *Registry) OnInboundControlMessage(h Handle, p *pdu.PDU) error {
	d, err := r.Lookup(h)
	if err != nil {
		return err
	}
	return d.OnInboundControl(p)
}

// AdmitOutboundUnit asks the engine for h whether seq may be sent.
func (r *Registry) AdmitOutboundUnit(h Handle, seq seqnum.Value) (Admission, error) {
	d, err := r.Lookup(h)
	if err != nil {
		return Admission{}, err
	}
	return d.AdmitOutbound(seq)
}

// UpdateLeftWindowEdge acknowledges units below seq on the engine for h.
func (r *Registry) UpdateLeftWindowEdge(h Handle, seq seqnum.Value) error {
	d, err := r.Lookup(h)
	if err != nil {
		return err
	}
	return d.UpdateLeftWindowEdge(seq)
}

// Deliver routes a PDU received from the peer to the local engine. The
// PDU names the connection from the sender's side, so it is looked up
// reversed.
func (r *Registry) Deliver(p *pdu.PDU) error {
	if p == nil {
		return &StructuralError{Reason: "nil PDU"}
	}

	h, ok := r.LookupConn(p.Conn.Reverse())
	if !ok {
		return fmt.Errorf("%w: no connection for %s", ErrUnknownHandle, p.Conn.Reverse())
	}
	d, err := r.Lookup(h)
	if err != nil {
		return err
	}

	if p.Type.IsControl() {
		return d.OnInboundControl(p)
	}
	return d.OnInboundData(p.Seq)
}

// Len returns the number of registered engines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}

// Close destroys every engine.
func (r *Registry) Close() {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[Handle]*DTCP)
	r.byConn = make(map[common.ConnectionID]Handle)
	r.mu.Unlock()

	for _, d := range engines {
		d.Destroy()
	}
}

func (r *Registry) get(h Handle) (*DTCP, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.engines[h]
	return d, ok
}

func (r *Registry) remove(h Handle) (*DTCP, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.engines[h]
	if !ok {
		return nil, false
	}
	delete(r.engines, h)
	delete(r.byConn, d.ID())
	return d, true
}
