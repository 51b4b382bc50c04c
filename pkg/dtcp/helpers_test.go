package dtcp

import (
	"sync"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/rina/pkg/common"
	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
	"github.com/therealutkarshpriyadarshi/rina/pkg/timer"
)

var testConn = common.ConnectionID{QoS: 1, SourceCEP: 10, DestCEP: 20}

// recorder is a Transmitter and Regenerator that keeps what it was given.
type recorder struct {
	mu       sync.Mutex
	sent     []*pdu.PDU
	regenErr error
}

func (r *recorder) Transmit(id common.ConnectionID, p *pdu.PDU) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, p)
}

func (r *recorder) RegenerateUnit(id common.ConnectionID, seq seqnum.Value) (*pdu.PDU, error) {
	if r.regenErr != nil {
		return nil, r.regenErr
	}
	return &pdu.PDU{
		PCI:     pdu.PCI{Version: pdu.Version, Type: pdu.TypeDT, Conn: id, Seq: seq},
		Payload: []byte("regenerated"),
	}, nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recorder) last() *pdu.PDU {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}

// events is a Notifier that keeps what it was told.
type events struct {
	mu       sync.Mutex
	acked    []seqnum.Value
	opened   int
	failed   []seqnum.Value
	failures []error
}

func (e *events) Acknowledged(id common.ConnectionID, leftEdge seqnum.Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acked = append(e.acked, leftEdge)
}

func (e *events) WindowOpened(id common.ConnectionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened++
}

func (e *events) DeliveryFailed(id common.ConnectionID, seq seqnum.Value, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, seq)
	e.failures = append(e.failures, err)
}

func (e *events) openedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}

// leakyTimers never cancels, so callbacks fire after their unit is gone.
type leakyTimers struct {
	*timer.Manual
}

func (leakyTimers) Cancel(timer.Handle) bool { return false }

type harness struct {
	t      *testing.T
	d      *DTCP
	clock  *timer.Manual
	tx     *recorder
	events *events
}

func testContext(cfg Config, b *PolicyBuilder) (Context, *timer.Manual, *recorder, *events) {
	if b == nil {
		b = DefaultPolicies()
	}
	policies, err := b.Build()
	if err != nil {
		panic(err)
	}

	clock := timer.NewManual(time.Unix(1700000000, 0))
	tx := &recorder{}
	ev := &events{}
	return Context{
		ID:          testConn,
		Source:      1,
		Destination: 2,
		Config:      cfg,
		Policies:    policies,
		Transmitter: tx,
		Regenerator: tx,
		Notifier:    ev,
		Timers:      clock,
	}, clock, tx, ev
}

// newHarness creates and activates an engine. opts may adjust the context
// before creation.
func newHarness(t *testing.T, cfg Config, b *PolicyBuilder, opts ...func(*Context)) *harness {
	t.Helper()

	ctx, clock, tx, ev := testContext(cfg, b)
	for _, opt := range opts {
		opt(&ctx)
	}
	d, err := New(ctx)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Activate(); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	return &harness{t: t, d: d, clock: clock, tx: tx, events: ev}
}

func (h *harness) admit(seqs ...seqnum.Value) {
	h.t.Helper()
	for _, seq := range seqs {
		a, err := h.d.AdmitOutbound(seq)
		if err != nil {
			h.t.Fatalf("AdmitOutbound(%d) error = %v", seq, err)
		}
		if !a.Admitted {
			h.t.Fatalf("AdmitOutbound(%d) = %v, want admitted", seq, a)
		}
	}
}

func (h *harness) control(p *pdu.PDU) {
	h.t.Helper()
	if err := h.d.OnInboundControl(p); err != nil {
		h.t.Fatalf("OnInboundControl(%v) error = %v", p, err)
	}
}

func (h *harness) sv() StateVector {
	h.t.Helper()
	sv, ok := h.d.StateVector()
	if !ok {
		h.t.Fatal("connection has no state vector")
	}
	return sv
}

// controlPDU builds a peer control message as seen by the local engine.
func controlPDU(typ pdu.Type, seq, ack seqnum.Value, credit seqnum.Size, rwe seqnum.Value) *pdu.PDU {
	return &pdu.PDU{
		PCI: pdu.PCI{Version: pdu.Version, Type: typ, Conn: testConn.Reverse(), Seq: seq},
		Control: &pdu.ControlFields{
			Ack:                ack,
			NewCredit:          credit,
			NewRightWindowEdge: rwe,
			TimeUnit:           1000,
		},
	}
}

func seqs(from, to seqnum.Value) []seqnum.Value {
	var s []seqnum.Value
	for v := from; v < to; v++ {
		s = append(s, v)
	}
	return s
}

func noRetransmission() Config {
	cfg := DefaultConfig()
	cfg.RetransmissionControl = false
	return cfg
}
