// Package dtcp implements the per-connection engine of the Data Transfer
// Control Protocol: window and rate based flow control, acknowledgment
// and retransmission control driven by a substitutable policy table.
//
// A DTCP never buffers payload. When a unit must be retransmitted it asks
// the data-transfer layer to regenerate it through a Regenerator.
package dtcp

import (
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/rina/pkg/common"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
	"github.com/therealutkarshpriyadarshi/rina/pkg/timer"
)

// DTCP is the control engine of one connection. All methods are safe for
// concurrent use.
type DTCP struct {
	mu        sync.Mutex
	inst      Instance
	lifecycle *StateMachine

	// gen changes whenever the state vector is replaced or dropped.
	// Timers carry the generation they were scheduled in.
	gen          uint64
	runs         uint32
	rateTimer    timer.Handle
	idleTimer    timer.Handle
	lastActivity time.Time

	// alive reports whether the owner still knows this engine. Timer
	// callbacks consult it before taking the lock.
	alive func() bool
}

// New creates an engine in StateCreated. It fails with a *ConfigError if
// a collaborator is missing, the configuration is inconsistent or the
// policy table is incomplete.
func New(ctx Context) (*DTCP, error) {
	if err := ctx.validate(); err != nil {
		return nil, err
	}

	d := &DTCP{
		inst: Instance{
			id:       ctx.ID,
			src:      ctx.Source,
			dst:      ctx.Destination,
			cfg:      ctx.Config,
			policies: ctx.Policies,
			timers:   ctx.Timers,
			tx:       ctx.Transmitter,
			regen:    ctx.Regenerator,
			notifier: ctx.Notifier,
			log:      ctx.Logger.With().Stringer("conn", ctx.ID).Logger(),
			stats:    &Stats{},
		},
		lifecycle: NewStateMachine(),
	}
	d.inst.log.Debug().Msg("connection created")
	return d, nil
}

// ID returns the connection identifier.
func (d *DTCP) ID() common.ConnectionID {
	return d.inst.id
}

// Stats returns the connection counters.
func (d *DTCP) Stats() *Stats {
	return d.inst.stats
}

// State returns the lifecycle state.
func (d *DTCP) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lifecycle.GetState()
}

// StateVector returns a copy of the state vector, or false when the
// connection has none.
func (d *DTCP) StateVector() (StateVector, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inst.sv == nil {
		return StateVector{}, false
	}
	return *d.inst.sv, true
}

// InFlight returns the number of tracked, unacknowledged units.
func (d *DTCP) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inst.tracker.Len()
}

// SetPolicies replaces the policy table. Only allowed before activation
// or while detached.
func (d *DTCP) SetPolicies(t *PolicyTable) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s := d.lifecycle.GetState(); !s.CanSwapPolicies() {
		return fmt.Errorf("dtcp: cannot replace policies in state %s", s)
	}
	if err := t.Validate(); err != nil {
		return err
	}
	d.inst.policies = t
	return nil
}

// Activate creates the state vector, runs flow_init and starts the
// connection timers.
func (d *DTCP) Activate() error {
	d.mu.Lock()
	defer d.unlock()

	if !d.lifecycle.Can(EventActivate) {
		return d.lifecycle.Transition(EventActivate)
	}
	if err := d.attach(false); err != nil {
		return err
	}
	d.lifecycle.Transition(EventActivate)
	d.inst.log.Info().Msg("connection activated")
	return nil
}

// Detach discards the state vector of an active connection. It returns
// ErrBusy while units are in flight. A unit abandoned after exhausting its
// retransmissions still counts until the data path moves the left window
// edge past it with UpdateLeftWindowEdge.
func (d *DTCP) Detach() error {
	d.mu.Lock()
	defer d.unlock()

	if !d.lifecycle.Can(EventDetach) {
		return d.lifecycle.Transition(EventDetach)
	}
	if n := d.inst.sv.InFlight(); n > 0 || d.inst.tracker.Len() > 0 {
		return fmt.Errorf("%w: %d units, %d awaiting retransmission", ErrBusy, n, d.inst.tracker.Len())
	}
	d.detach()
	return nil
}

// Destroy cancels every timer and drops the state vector. Later calls on
// the connection return ErrDestroyed.
func (d *DTCP) Destroy() error {
	d.mu.Lock()
	defer d.unlock()

	if err := d.lifecycle.Transition(EventDestroy); err != nil {
		return err
	}
	d.cancelTimers()
	d.inst.sv = nil
	d.gen++
	d.inst.log.Info().Msg("connection destroyed")
	return nil
}

// unlock releases the lock and then runs the transmissions and
// notifications queued while it was held.
func (d *DTCP) unlock() {
	effects := d.inst.effects
	d.inst.effects = nil
	d.mu.Unlock()

	for _, f := range effects {
		f()
	}
}

// ensureActive reattaches a detached connection and rejects traffic on a
// connection that was never activated or is destroyed.
func (d *DTCP) ensureActive() error {
	switch s := d.lifecycle.GetState(); s {
	case StateActive:
		return nil
	case StateDetached:
		if err := d.attach(true); err != nil {
			return err
		}
		d.lifecycle.Transition(EventReattach)
		d.inst.log.Debug().Msg("connection reattached with fresh state vector")
		return nil
	case StateDestroyed:
		return ErrDestroyed
	default:
		return ErrNotActive
	}
}

func (d *DTCP) attach(reset bool) error {
	dt := &d.inst
	d.gen++
	dt.sv = NewStateVector(dt.cfg)
	if reset {
		d.runs++
	}
	dt.sv.ResetFlag = reset
	dt.sv.Run = d.runs
	dt.outOfOrder = make(map[seqnum.Value]struct{})
	dt.ackBatch = nil
	dt.windowWithheld = false
	dt.rateWithheld = false

	if err := dt.policies.flowInit(dt); err != nil {
		dt.invoke(PolicyFlowInit, err)
		dt.sv = nil
		return fmt.Errorf("dtcp: flow_init: %w", err)
	}

	if dt.cfg.RateBased {
		d.scheduleRateUnit()
	}
	d.touch()
	return nil
}

func (d *DTCP) detach() {
	d.cancelTimers()
	d.inst.sv = nil
	d.inst.outOfOrder = nil
	d.gen++
	d.lifecycle.Transition(EventDetach)
	d.inst.stats.detaches.Add(1)
	d.inst.log.Info().Msg("connection detached")
}

func (d *DTCP) cancelTimers() {
	timers := d.inst.timers
	for _, u := range d.inst.tracker.Clear() {
		timers.Cancel(u.Timer)
	}
	if d.rateTimer != 0 {
		timers.Cancel(d.rateTimer)
		d.rateTimer = 0
	}
	if d.idleTimer != 0 {
		timers.Cancel(d.idleTimer)
		d.idleTimer = 0
	}
}

// schedule arms a timer that runs fn under the lock, unless the state
// vector it was armed for is gone by then.
func (d *DTCP) schedule(kind timer.Kind, after time.Duration, fn func()) timer.Handle {
	gen := d.gen
	return d.inst.timers.Schedule(kind, after, func() {
		if d.alive != nil && !d.alive() {
			return
		}
		d.mu.Lock()
		defer d.unlock()

		if gen != d.gen || d.lifecycle.GetState() != StateActive {
			d.inst.stats.staleTimers.Add(1)
			d.inst.log.Debug().Stringer("timer", kind).Msg("ignoring stale timer")
			return
		}
		fn()
	})
}

// touch records activity and arms the idle timer if needed.
func (d *DTCP) touch() {
	d.lastActivity = d.inst.timers.Now()
	if d.inst.cfg.IdleTimeout > 0 && d.idleTimer == 0 {
		d.idleTimer = d.schedule(timer.KindIdle, d.inst.cfg.IdleTimeout, d.onIdle)
	}
}

func (d *DTCP) onIdle() {
	d.idleTimer = 0
	timeout := d.inst.cfg.IdleTimeout
	idle := d.inst.timers.Now().Sub(d.lastActivity)

	busy := d.inst.sv.InFlight() > 0 || d.inst.tracker.Len() > 0
	if idle >= timeout && !busy {
		d.detach()
		return
	}

	if busy && d.inst.tracker.Len() == 0 {
		d.inst.log.Debug().
			Uint64("left_edge", uint64(d.inst.sv.SendLeftWindowEdge)).
			Msg("abandoned units below the next sequence number keep the connection attached")
	}
	wait := timeout - idle
	if busy || wait <= 0 {
		wait = timeout
	}
	d.idleTimer = d.schedule(timer.KindIdle, wait, d.onIdle)
}

func (d *DTCP) scheduleRateUnit() {
	d.rateTimer = d.schedule(timer.KindRateUnit, d.inst.sv.TimeUnit, d.onRateUnit)
}

func (d *DTCP) onRateUnit() {
	sv := d.inst.sv
	sv.PDUsSentInTimeUnit = 0
	sv.PDUsReceivedInTimeUnit = 0
	if d.inst.rateWithheld {
		d.inst.NotifyWindowOpened()
	}
	d.scheduleRateUnit()
}
