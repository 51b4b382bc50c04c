package dtp

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/rina/pkg/dtcp"
	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
	"github.com/therealutkarshpriyadarshi/rina/pkg/policy"
)

// Flow is one end of a connection: a DTCP engine registered in a Registry
// plus the sender and receiver around it.
type Flow struct {
	Handle   dtcp.Handle
	Engine   *dtcp.DTCP
	Sender   *Sender
	Receiver *Receiver
}

// NewFlow creates and activates a flow. ctx supplies the identifiers,
// configuration, transmitter and timers; the flow provides the
// regenerator and notifier. Without ctx.Policies the flow uses
// policy.Recommended with credit following a receive buffer of capacity
// units.
//
// Flows number units for the lifetime of the connection, so idle detach,
// which restarts numbering, is refused.
func NewFlow(r *dtcp.Registry, ctx dtcp.Context, capacity int) (*Flow, error) {
	if ctx.Config.IdleTimeout > 0 {
		return nil, &dtcp.ConfigError{Field: "IdleTimeout", Reason: "not supported by dtp flows"}
	}
	if capacity <= 0 {
		return nil, &dtcp.ConfigError{Field: "capacity", Reason: "must be positive"}
	}

	f := &Flow{
		Sender:   NewSender(ctx.ID, ctx.Source, ctx.Destination, ctx.Config.MaxPDUSize, ctx.Transmitter, ctx.Logger),
		Receiver: NewReceiver(capacity),
	}
	ctx.Regenerator = f.Sender
	ctx.Notifier = f.Sender

	if ctx.Policies == nil {
		cfg := ctx.Config
		est := policy.NewRTTEstimator(cfg.MinRetransmissionTimeout, cfg.MaxRetransmissionTimeout)
		table, err := policy.Recommended(est, f.Receiver).Build()
		if err != nil {
			return nil, err
		}
		ctx.Policies = table
	}

	h, err := r.Create(ctx)
	if err != nil {
		return nil, err
	}
	d, err := r.Lookup(h)
	if err != nil {
		return nil, err
	}

	f.Handle, f.Engine = h, d
	f.Sender.Bind(d)
	f.Receiver.Bind(d)
	return f, nil
}

// Deliver hands a PDU from the peer to the engine or the receiver.
func (f *Flow) Deliver(p *pdu.PDU) error {
	switch {
	case p.Type == pdu.TypeDT:
		return f.Receiver.Accept(p)
	case p.Type.IsControl():
		return f.Engine.OnInboundControl(p)
	default:
		return fmt.Errorf("dtp: unexpected %s PDU", p.Type)
	}
}
