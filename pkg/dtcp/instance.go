package dtcp

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/therealutkarshpriyadarshi/rina/pkg/common"
	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
	"github.com/therealutkarshpriyadarshi/rina/pkg/timer"
)

// Instance is the view of a connection handed to policies. Its methods
// assume the connection lock is held, which is always the case while a
// policy runs. Transmissions and notifications requested through it are
// carried out after the lock is released.
type Instance struct {
	id       common.ConnectionID
	src, dst common.Address
	cfg      Config
	policies *PolicyTable
	timers   timer.Facility
	tx       Transmitter
	regen    Regenerator
	notifier Notifier
	log      zerolog.Logger
	stats    *Stats

	sv         *StateVector
	tracker    retransmitTracker
	outOfOrder map[seqnum.Value]struct{}
	ackBatch   []seqnum.Value

	windowWithheld bool
	rateWithheld   bool

	// Highest peer run applied through DRF. Kept across detach.
	peerRun     uint32
	peerRunSeen bool

	effects []func()
}

// ID returns the connection identifier.
func (dt *Instance) ID() common.ConnectionID { return dt.id }

// Config returns the connection configuration.
func (dt *Instance) Config() Config { return dt.cfg }

// SV returns the live state vector.
func (dt *Instance) SV() *StateVector { return dt.sv }

// Now returns the timer facility's clock.
func (dt *Instance) Now() time.Time { return dt.timers.Now() }

// Logger returns the connection logger.
func (dt *Instance) Logger() *zerolog.Logger { return &dt.log }

// Stats returns the connection counters.
func (dt *Instance) Stats() *Stats { return dt.stats }

// BuildControl builds a control PDU addressed to the peer.
func (dt *Instance) BuildControl(kind ControlKind, ack seqnum.Value) (*pdu.PDU, error) {
	p, err := BuildControl(dt.sv, dt.id, kind, ack)
	if err != nil {
		return nil, err
	}
	p.Source = dt.src
	p.Destination = dt.dst
	return p, nil
}

// Transmit queues p for the Transmitter.
func (dt *Instance) Transmit(p *pdu.PDU) {
	if p.Type.IsControl() {
		dt.stats.controlSent.Add(1)
	}
	id, tx := dt.id, dt.tx
	dt.effects = append(dt.effects, func() { tx.Transmit(id, p) })
}

// Regenerate asks the data-transfer layer to rebuild unit seq.
func (dt *Instance) Regenerate(seq seqnum.Value) (*pdu.PDU, error) {
	if dt.regen == nil {
		return nil, fmt.Errorf("%w: no regenerator", ErrPolicyFailed)
	}
	return dt.regen.RegenerateUnit(dt.id, seq)
}

// NotifyWindowOpened tells the data path to retry withheld units.
func (dt *Instance) NotifyWindowOpened() {
	dt.windowWithheld = false
	dt.rateWithheld = false
	id, n := dt.id, dt.notifier
	dt.effects = append(dt.effects, func() { n.WindowOpened(id) })
}

// BatchAck adds seq to the pending acknowledgment list and returns the
// list once it holds size entries.
func (dt *Instance) BatchAck(seq seqnum.Value, size int) ([]seqnum.Value, bool) {
	dt.ackBatch = append(dt.ackBatch, seq)
	if len(dt.ackBatch) < size {
		return nil, false
	}
	batch := dt.ackBatch
	dt.ackBatch = nil
	return batch, true
}

// The methods below let one policy defer to another bound decision point.

func (dt *Instance) InitialCredit() seqnum.Size { return dt.policies.initialCredit(dt) }

func (dt *Instance) InitialRate() uint32 { return dt.policies.initialRate(dt) }

func (dt *Instance) SendingAck(ack seqnum.Value) error { return dt.policies.sendingAck(dt, ack) }

func (dt *Instance) SendingAckList(seqs []seqnum.Value) error {
	return dt.policies.sendingAckList(dt, seqs)
}

func (dt *Instance) ReceivingFlowControl(seq seqnum.Value) error {
	return dt.policies.receivingFlowControl(dt, seq)
}

func (dt *Instance) RcvrFlowControl(ack seqnum.Value) error {
	return dt.policies.rcvrFlowControl(dt, ack)
}

// invoke records the outcome of a policy call. Failures are logged and
// counted; the triggering event stays processed.
func (dt *Instance) invoke(name PolicyName, err error) bool {
	if err == nil {
		return true
	}
	dt.stats.policyFailures.Add(1)
	dt.log.Warn().Err(err).Str("policy", string(name)).Msg("policy failed")
	return false
}

func (dt *Instance) notify(f func(n Notifier)) {
	n := dt.notifier
	dt.effects = append(dt.effects, func() { f(n) })
}

// resetReceiver forgets receive-side progress after the peer restarted
// its numbering.
func (dt *Instance) resetReceiver() {
	sv := dt.sv
	sv.ReceiveLeftWindowEdge = 0
	sv.LastReceiveDataAck = 0
	sv.SetReceiverCredit(sv.ReceiverCredit)
	clear(dt.outOfOrder)
	dt.ackBatch = nil
}
