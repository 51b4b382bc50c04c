package dtcp

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/therealutkarshpriyadarshi/rina/pkg/common"
	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
	"github.com/therealutkarshpriyadarshi/rina/pkg/timer"
)

// Config selects the control mechanisms of a connection and seeds its
// state vector.
type Config struct {
	// FlowControl enables flow control. WindowBased and RateBased pick
	// the mechanisms and require it.
	FlowControl bool
	WindowBased bool
	RateBased   bool

	RetransmissionControl bool

	MaxPDUSize    int
	InitialCredit seqnum.Size
	InitialRate   uint32 // PDUs per TimeUnit
	TimeUnit      time.Duration

	RetransmissionTimeout    time.Duration
	MinRetransmissionTimeout time.Duration
	MaxRetransmissionTimeout time.Duration
	MaxRetransmissions       int

	// AckListSize > 1 makes the default rcvr_ack policy batch that many
	// units into one acknowledgment.
	AckListSize int

	// IdleTimeout > 0 detaches the state vector after that long without
	// traffic.
	IdleTimeout time.Duration
}

// DefaultConfig returns window-based flow control with retransmission
// control, no rate limit and no idle detach.
func DefaultConfig() Config {
	return Config{
		FlowControl:              true,
		WindowBased:              true,
		RetransmissionControl:    true,
		MaxPDUSize:               common.MediumBufferSize,
		InitialCredit:            16,
		TimeUnit:                 time.Second,
		RetransmissionTimeout:    time.Second,
		MinRetransmissionTimeout: 200 * time.Millisecond,
		MaxRetransmissionTimeout: 60 * time.Second,
		MaxRetransmissions:       5,
		AckListSize:              1,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	switch {
	case (c.WindowBased || c.RateBased) && !c.FlowControl:
		return &ConfigError{Field: "FlowControl", Reason: "window or rate based control requires flow control"}
	case c.FlowControl && !c.WindowBased && !c.RateBased:
		return &ConfigError{Field: "FlowControl", Reason: "neither window nor rate based"}
	case c.MaxPDUSize <= 0:
		return &ConfigError{Field: "MaxPDUSize", Reason: "must be positive"}
	case c.RateBased && c.TimeUnit <= 0:
		return &ConfigError{Field: "TimeUnit", Reason: "must be positive with rate based control"}
	case c.MaxRetransmissions < 0:
		return &ConfigError{Field: "MaxRetransmissions", Reason: "must not be negative"}
	case c.AckListSize < 0:
		return &ConfigError{Field: "AckListSize", Reason: "must not be negative"}
	case c.IdleTimeout < 0:
		return &ConfigError{Field: "IdleTimeout", Reason: "must not be negative"}
	}

	if c.RetransmissionControl {
		if c.RetransmissionTimeout <= 0 {
			return &ConfigError{Field: "RetransmissionTimeout", Reason: "must be positive with retransmission control"}
		}
		if c.MinRetransmissionTimeout > c.MaxRetransmissionTimeout {
			return &ConfigError{Field: "MinRetransmissionTimeout", Reason: "exceeds MaxRetransmissionTimeout"}
		}
	}
	return nil
}

// Transmitter hands PDUs to the transport. Transmit must not block on
// delivery and is never called with the connection lock held.
type Transmitter interface {
	Transmit(id common.ConnectionID, p *pdu.PDU)
}

// Regenerator rebuilds a data unit from the data-transfer layer's own
// record. No payload is queued by this package.
type Regenerator interface {
	RegenerateUnit(id common.ConnectionID, seq seqnum.Value) (*pdu.PDU, error)
}

// Notifier receives per-connection events for the data path. Methods are
// called without the connection lock held and may call back into the
// connection.
type Notifier interface {
	// Acknowledged reports that every unit below leftEdge is acknowledged.
	Acknowledged(id common.ConnectionID, leftEdge seqnum.Value)
	// WindowOpened reports that withheld units may be retried.
	WindowOpened(id common.ConnectionID)
	// DeliveryFailed reports an abandoned unit, exactly once per unit.
	DeliveryFailed(id common.ConnectionID, seq seqnum.Value, err error)
}

// Context carries everything a connection needs at creation.
type Context struct {
	ID          common.ConnectionID
	Source      common.Address
	Destination common.Address
	Config      Config
	Policies    *PolicyTable

	Transmitter Transmitter
	Regenerator Regenerator // required with retransmission control
	Notifier    Notifier
	Timers      timer.Facility

	// Logger defaults to the zero Logger, which discards everything.
	Logger zerolog.Logger
}

func (ctx *Context) validate() error {
	if err := ctx.Config.Validate(); err != nil {
		return err
	}
	switch {
	case ctx.Transmitter == nil:
		return &ConfigError{Field: "Transmitter", Reason: "required"}
	case ctx.Notifier == nil:
		return &ConfigError{Field: "Notifier", Reason: "required"}
	case ctx.Timers == nil:
		return &ConfigError{Field: "Timers", Reason: "required"}
	case ctx.Config.RetransmissionControl && ctx.Regenerator == nil:
		return &ConfigError{Field: "Regenerator", Reason: "required with retransmission control"}
	}
	return ctx.Policies.Validate()
}
