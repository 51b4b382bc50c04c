package dtcp

import (
	"time"

	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

// PolicyName names a decision point of the policy table.
type PolicyName string

const (
	PolicyFlowInit                  PolicyName = "flow_init"
	PolicySVUpdate                  PolicyName = "sv_update"
	PolicyLostControlPDU            PolicyName = "lost_control_pdu"
	PolicyRTTEstimator              PolicyName = "rtt_estimator"
	PolicyRetransmissionTimerExpiry PolicyName = "retransmission_timer_expiry"
	PolicyReceivedRetransmission    PolicyName = "received_retransmission"
	PolicyRcvrAck                   PolicyName = "rcvr_ack"
	PolicySendingAck                PolicyName = "sending_ack"
	PolicySendingAckList            PolicyName = "sending_ack_list"
	PolicyInitialCredit             PolicyName = "initial_credit"
	PolicyInitialRate               PolicyName = "initial_rate"
	PolicyReceivingFlowControl      PolicyName = "receiving_flow_control"
	PolicyUpdateCredit              PolicyName = "update_credit"
	PolicyFlowControlOverrun        PolicyName = "flow_control_overrun"
	PolicyReconcileFlowConflict     PolicyName = "reconcile_flow_conflict"
	PolicyRcvrFlowControl           PolicyName = "rcvr_flow_control"
)

// Decision point signatures. Every function runs with the connection lock
// held and must not block.
type (
	FlowInitFunc                  func(dt *Instance) error
	SVUpdateFunc                  func(dt *Instance, seq seqnum.Value) error
	LostControlPDUFunc            func(dt *Instance, expected, received seqnum.Value) error
	RTTEstimatorFunc              func(dt *Instance, sample time.Duration) error
	RetransmissionTimerExpiryFunc func(dt *Instance, seq seqnum.Value) error
	ReceivedRetransmissionFunc    func(dt *Instance, seq seqnum.Value) error
	RcvrAckFunc                   func(dt *Instance, seq seqnum.Value) error
	SendingAckFunc                func(dt *Instance, ack seqnum.Value) error
	SendingAckListFunc            func(dt *Instance, seqs []seqnum.Value) error
	InitialCreditFunc             func(dt *Instance) seqnum.Size
	InitialRateFunc               func(dt *Instance) uint32
	ReceivingFlowControlFunc      func(dt *Instance, seq seqnum.Value) error
	UpdateCreditFunc              func(dt *Instance) error
	FlowControlOverrunFunc        func(dt *Instance, inFlight, credit seqnum.Size) error
	ReconcileFlowConflictFunc     func(dt *Instance, local, remote seqnum.Value) error
	RcvrFlowControlFunc           func(dt *Instance, ack seqnum.Value) error
)

// PolicyTable binds every decision point to a function. Tables come from
// a PolicyBuilder and cannot be modified afterwards.
type PolicyTable struct {
	flowInit                  FlowInitFunc
	svUpdate                  SVUpdateFunc
	lostControlPDU            LostControlPDUFunc
	rttEstimator              RTTEstimatorFunc
	retransmissionTimerExpiry RetransmissionTimerExpiryFunc
	receivedRetransmission    ReceivedRetransmissionFunc
	rcvrAck                   RcvrAckFunc
	sendingAck                SendingAckFunc
	sendingAckList            SendingAckListFunc
	initialCredit             InitialCreditFunc
	initialRate               InitialRateFunc
	receivingFlowControl      ReceivingFlowControlFunc
	updateCredit              UpdateCreditFunc
	flowControlOverrun        FlowControlOverrunFunc
	reconcileFlowConflict     ReconcileFlowConflictFunc
	rcvrFlowControl           RcvrFlowControlFunc
}

// Missing returns the decision points left unbound, in table order.
func (t *PolicyTable) Missing() []PolicyName {
	if t == nil {
		t = &PolicyTable{}
	}

	bound := []struct {
		name PolicyName
		ok   bool
	}{
		{PolicyFlowInit, t.flowInit != nil},
		{PolicySVUpdate, t.svUpdate != nil},
		{PolicyLostControlPDU, t.lostControlPDU != nil},
		{PolicyRTTEstimator, t.rttEstimator != nil},
		{PolicyRetransmissionTimerExpiry, t.retransmissionTimerExpiry != nil},
		{PolicyReceivedRetransmission, t.receivedRetransmission != nil},
		{PolicyRcvrAck, t.rcvrAck != nil},
		{PolicySendingAck, t.sendingAck != nil},
		{PolicySendingAckList, t.sendingAckList != nil},
		{PolicyInitialCredit, t.initialCredit != nil},
		{PolicyInitialRate, t.initialRate != nil},
		{PolicyReceivingFlowControl, t.receivingFlowControl != nil},
		{PolicyUpdateCredit, t.updateCredit != nil},
		{PolicyFlowControlOverrun, t.flowControlOverrun != nil},
		{PolicyReconcileFlowConflict, t.reconcileFlowConflict != nil},
		{PolicyRcvrFlowControl, t.rcvrFlowControl != nil},
	}

	var missing []PolicyName
	for _, b := range bound {
		if !b.ok {
			missing = append(missing, b.name)
		}
	}
	return missing
}

// Validate returns a *ConfigError naming every unbound decision point.
// A nil table has every point unbound.
func (t *PolicyTable) Validate() error {
	if missing := t.Missing(); len(missing) > 0 {
		return missingPolicies(missing)
	}
	return nil
}

// PolicyBuilder assembles a PolicyTable. Start from NewPolicyBuilder to
// bind everything explicitly or from DefaultPolicies to override a few
// points.
type PolicyBuilder struct {
	t PolicyTable
}

// NewPolicyBuilder returns a builder with nothing bound.
func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{}
}

// DefaultPolicies returns a builder with every decision point bound to
// its default.
func DefaultPolicies() *PolicyBuilder {
	return &PolicyBuilder{t: PolicyTable{
		flowInit:                  defaultFlowInit,
		svUpdate:                  defaultSVUpdate,
		lostControlPDU:            defaultLostControlPDU,
		rttEstimator:              defaultRTTEstimator,
		retransmissionTimerExpiry: defaultRetransmissionTimerExpiry,
		receivedRetransmission:    defaultReceivedRetransmission,
		rcvrAck:                   defaultRcvrAck,
		sendingAck:                defaultSendingAck,
		sendingAckList:            defaultSendingAckList,
		initialCredit:             defaultInitialCredit,
		initialRate:               defaultInitialRate,
		receivingFlowControl:      defaultReceivingFlowControl,
		updateCredit:              defaultUpdateCredit,
		flowControlOverrun:        defaultFlowControlOverrun,
		reconcileFlowConflict:     defaultReconcileFlowConflict,
		rcvrFlowControl:           defaultRcvrFlowControl,
	}}
}

// Build returns the table, or a *ConfigError when a point is unbound.
func (b *PolicyBuilder) Build() (*PolicyTable, error) {
	t := b.t
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *PolicyBuilder) FlowInit(f FlowInitFunc) *PolicyBuilder {
	b.t.flowInit = f
	return b
}

func (b *PolicyBuilder) SVUpdate(f SVUpdateFunc) *PolicyBuilder {
	b.t.svUpdate = f
	return b
}

func (b *PolicyBuilder) LostControlPDU(f LostControlPDUFunc) *PolicyBuilder {
	b.t.lostControlPDU = f
	return b
}

func (b *PolicyBuilder) RTTEstimator(f RTTEstimatorFunc) *PolicyBuilder {
	b.t.rttEstimator = f
	return b
}

func (b *PolicyBuilder) RetransmissionTimerExpiry(f RetransmissionTimerExpiryFunc) *PolicyBuilder {
	b.t.retransmissionTimerExpiry = f
	return b
}

func (b *PolicyBuilder) ReceivedRetransmission(f ReceivedRetransmissionFunc) *PolicyBuilder {
	b.t.receivedRetransmission = f
	return b
}

func (b *PolicyBuilder) RcvrAck(f RcvrAckFunc) *PolicyBuilder {
	b.t.rcvrAck = f
	return b
}

func (b *PolicyBuilder) SendingAck(f SendingAckFunc) *PolicyBuilder {
	b.t.sendingAck = f
	return b
}

func (b *PolicyBuilder) SendingAckList(f SendingAckListFunc) *PolicyBuilder {
	b.t.sendingAckList = f
	return b
}

func (b *PolicyBuilder) InitialCredit(f InitialCreditFunc) *PolicyBuilder {
	b.t.initialCredit = f
	return b
}

func (b *PolicyBuilder) InitialRate(f InitialRateFunc) *PolicyBuilder {
	b.t.initialRate = f
	return b
}

func (b *PolicyBuilder) ReceivingFlowControl(f ReceivingFlowControlFunc) *PolicyBuilder {
	b.t.receivingFlowControl = f
	return b
}

func (b *PolicyBuilder) UpdateCredit(f UpdateCreditFunc) *PolicyBuilder {
	b.t.updateCredit = f
	return b
}

func (b *PolicyBuilder) FlowControlOverrun(f FlowControlOverrunFunc) *PolicyBuilder {
	b.t.flowControlOverrun = f
	return b
}

func (b *PolicyBuilder) ReconcileFlowConflict(f ReconcileFlowConflictFunc) *PolicyBuilder {
	b.t.reconcileFlowConflict = f
	return b
}

func (b *PolicyBuilder) RcvrFlowControl(f RcvrFlowControlFunc) *PolicyBuilder {
	b.t.rcvrFlowControl = f
	return b
}
