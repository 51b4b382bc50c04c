package dtcp

import (
	"errors"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

func TestDuplicateControlIgnored(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	h.admit(0, 1, 2, 3)

	h.control(controlPDU(pdu.TypeAck, 0, 2, 0, 0))
	h.control(controlPDU(pdu.TypeAck, 0, 3, 0, 0))

	if lwe := h.sv().SendLeftWindowEdge; lwe != 2 {
		t.Errorf("SendLeftWindowEdge = %d, want 2", lwe)
	}
	snap := h.d.Stats().Snapshot()
	if snap.DuplicateControl != 1 || snap.ControlReceived != 2 {
		t.Errorf("duplicates/received = %d/%d, want 1/2", snap.DuplicateControl, snap.ControlReceived)
	}
}

func TestControlGap(t *testing.T) {
	var gotExpected, gotReceived seqnum.Value
	b := DefaultPolicies().LostControlPDU(func(dt *Instance, expected, received seqnum.Value) error {
		gotExpected, gotReceived = expected, received
		return defaultLostControlPDU(dt, expected, received)
	})
	h := newHarness(t, noRetransmission(), b)

	h.control(controlPDU(pdu.TypeFlowControl, 0, 0, 16, 16))
	h.control(controlPDU(pdu.TypeFlowControl, 3, 0, 16, 16))

	if gotExpected != 1 || gotReceived != 3 {
		t.Errorf("lost_control_pdu(%d, %d), want (1, 3)", gotExpected, gotReceived)
	}
	if got := h.d.Stats().Snapshot().LostControl; got != 1 {
		t.Errorf("LostControl = %d, want 1", got)
	}

	// The default re-advertises the receive window.
	p := h.tx.last()
	if p == nil || p.Type != pdu.TypeAckAndFlowControl {
		t.Fatalf("transmitted %v, want ACK_AND_FC", p)
	}
	if p.Control.Ack != 0 || p.Control.NewRightWindowEdge != 16 {
		t.Errorf("ack/rwe = %d/%d, want 0/16", p.Control.Ack, p.Control.NewRightWindowEdge)
	}
	if h.tx.count() != 1 {
		t.Errorf("transmitted %d PDUs, want 1", h.tx.count())
	}
}

func TestFlowControlOverrun(t *testing.T) {
	tests := []struct {
		name     string
		inFlight int
		credit   seqnum.Size
		overrun  bool
	}{
		{"credit below in flight", 8, 5, true},
		{"credit above in flight", 3, 5, false},
		{"credit equals in flight", 5, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			var gotInFlight, gotCredit seqnum.Size
			b := DefaultPolicies().FlowControlOverrun(func(dt *Instance, inFlight, credit seqnum.Size) error {
				called = true
				gotInFlight, gotCredit = inFlight, credit
				return nil
			})
			cfg := noRetransmission()
			cfg.InitialCredit = 10
			h := newHarness(t, cfg, b)

			h.admit(seqs(0, seqnum.Value(tt.inFlight))...)
			h.control(controlPDU(pdu.TypeFlowControl, 0, 0, tt.credit, seqnum.Value(tt.credit)))

			if called != tt.overrun {
				t.Fatalf("flow_control_overrun called = %v, want %v", called, tt.overrun)
			}
			if called && (gotInFlight != seqnum.Size(tt.inFlight) || gotCredit != tt.credit) {
				t.Errorf("flow_control_overrun(%d, %d), want (%d, %d)", gotInFlight, gotCredit, tt.inFlight, tt.credit)
			}
			if rwe := h.sv().SendRightWindowEdge; rwe != seqnum.Value(tt.credit) {
				t.Errorf("SendRightWindowEdge = %d, want %d", rwe, tt.credit)
			}
		})
	}
}

func TestReconcileFlowConflict(t *testing.T) {
	var local, remote seqnum.Value
	b := DefaultPolicies().ReconcileFlowConflict(func(dt *Instance, l, r seqnum.Value) error {
		local, remote = l, r
		return defaultReconcileFlowConflict(dt, l, r)
	})
	h := newHarness(t, noRetransmission(), b)

	h.control(controlPDU(pdu.TypeFlowControl, 0, 0, 5, 9))

	if local != 5 || remote != 9 {
		t.Errorf("reconcile_flow_conflict(%d, %d), want (5, 9)", local, remote)
	}
	if rwe := h.sv().SendRightWindowEdge; rwe != 5 {
		t.Errorf("SendRightWindowEdge = %d, want local edge 5", rwe)
	}
	if got := h.d.Stats().Snapshot().Conflicts; got != 1 {
		t.Errorf("Conflicts = %d, want 1", got)
	}
}

func TestStaleAckFromPeer(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	h.admit(0, 1, 2, 3)

	h.control(controlPDU(pdu.TypeAck, 0, 3, 0, 0))
	h.control(controlPDU(pdu.TypeAck, 1, 2, 0, 0))

	if lwe := h.sv().SendLeftWindowEdge; lwe != 3 {
		t.Errorf("SendLeftWindowEdge = %d, want 3", lwe)
	}
	if got := h.d.Stats().Snapshot().StaleAcks; got != 1 {
		t.Errorf("StaleAcks = %d, want 1", got)
	}
	if len(h.events.acked) != 1 {
		t.Errorf("Acknowledged called %d times, want 1", len(h.events.acked))
	}
}

func TestMalformedControl(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	for _, p := range []*pdu.PDU{
		{PCI: pdu.PCI{Type: pdu.TypeNack}, Control: &pdu.ControlFields{}},
		{PCI: pdu.PCI{Type: pdu.TypeAck}},
	} {
		if err := h.d.OnInboundControl(p); !IsStructural(err) {
			t.Errorf("OnInboundControl(%v) error = %v, want structural", p.Type, err)
		}
	}

	snap := h.d.Stats().Snapshot()
	if snap.StructuralErrors != 2 || snap.ControlReceived != 0 {
		t.Errorf("structural/received = %d/%d, want 2/0", snap.StructuralErrors, snap.ControlReceived)
	}
}

func TestOnInboundData(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialCredit = 4
	h := newHarness(t, cfg, nil)

	tests := []struct {
		seq     seqnum.Value
		wantErr error
		wantAck seqnum.Value
		wantRWE seqnum.Value
	}{
		{seq: 0, wantAck: 1, wantRWE: 5},
		{seq: 2, wantAck: 1, wantRWE: 5},
		{seq: 1, wantAck: 3, wantRWE: 7},
		{seq: 1, wantAck: 3, wantRWE: 7},
		{seq: 9, wantErr: ErrOutsideWindow},
		{seq: 7, wantAck: 3, wantRWE: 7},
	}

	for _, tt := range tests {
		before := h.tx.count()
		err := h.d.OnInboundData(tt.seq)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("OnInboundData(%d) error = %v, want %v", tt.seq, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("OnInboundData(%d) error = %v", tt.seq, err)
		}
		if h.tx.count() != before+1 {
			t.Fatalf("OnInboundData(%d) sent %d PDUs, want 1", tt.seq, h.tx.count()-before)
		}
		p := h.tx.last()
		if p.Type != pdu.TypeAckAndFlowControl || p.Control.Ack != tt.wantAck || p.Control.NewRightWindowEdge != tt.wantRWE {
			t.Errorf("OnInboundData(%d) sent %v ack %d rwe %d, want ack %d rwe %d",
				tt.seq, p.Type, p.Control.Ack, p.Control.NewRightWindowEdge, tt.wantAck, tt.wantRWE)
		}
	}

	snap := h.d.Stats().Snapshot()
	if snap.DataReceived != 4 || snap.DuplicateData != 1 || snap.RejectedData != 1 {
		t.Errorf("received/duplicate/rejected = %d/%d/%d, want 4/1/1",
			snap.DataReceived, snap.DuplicateData, snap.RejectedData)
	}
}

func TestInboundRateExceeded(t *testing.T) {
	cfg := noRetransmission()
	cfg.WindowBased = false
	cfg.RateBased = true
	cfg.InitialRate = 2
	cfg.TimeUnit = 100 * time.Millisecond
	h := newHarness(t, cfg, nil)

	for seq := seqnum.Value(0); seq < 2; seq++ {
		if err := h.d.OnInboundData(seq); err != nil {
			t.Fatalf("OnInboundData(%d) error = %v", seq, err)
		}
	}
	if err := h.d.OnInboundData(2); !errors.Is(err, ErrRateExceeded) {
		t.Errorf("OnInboundData(2) error = %v, want ErrRateExceeded", err)
	}

	h.clock.Advance(100 * time.Millisecond)
	if err := h.d.OnInboundData(2); err != nil {
		t.Errorf("OnInboundData(2) in next time unit error = %v", err)
	}
}

func TestAckListBatching(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AckListSize = 3
	var lists [][]seqnum.Value
	b := DefaultPolicies().SendingAckList(func(dt *Instance, s []seqnum.Value) error {
		lists = append(lists, s)
		return defaultSendingAckList(dt, s)
	})
	h := newHarness(t, cfg, b)

	for seq := seqnum.Value(0); seq < 4; seq++ {
		if err := h.d.OnInboundData(seq); err != nil {
			t.Fatalf("OnInboundData(%d) error = %v", seq, err)
		}
	}

	if len(lists) != 1 || len(lists[0]) != 3 {
		t.Fatalf("sending_ack_list batches = %v, want one batch of 3", lists)
	}
	if h.tx.count() != 1 || h.tx.last().Control.Ack != 3 {
		t.Errorf("sent %d PDUs, want one cumulative ack of 3", h.tx.count())
	}
}

func TestUpdateCredit(t *testing.T) {
	b := DefaultPolicies().UpdateCredit(func(dt *Instance) error {
		dt.SV().SetReceiverCredit(8)
		return nil
	})
	h := newHarness(t, noRetransmission(), b)

	if err := h.d.UpdateCredit(); err != nil {
		t.Fatalf("UpdateCredit() error = %v", err)
	}

	p := h.tx.last()
	if p == nil || p.Control.NewCredit != 8 || p.Control.NewRightWindowEdge != 8 {
		t.Fatalf("advertised %v, want credit 8 rwe 8", p)
	}
}

func TestPeerResetRestartsReceiver(t *testing.T) {
	h := newHarness(t, noRetransmission(), nil)
	for seq := seqnum.Value(0); seq < 2; seq++ {
		if err := h.d.OnInboundData(seq); err != nil {
			t.Fatalf("OnInboundData(%d) error = %v", seq, err)
		}
	}
	h.control(controlPDU(pdu.TypeFlowControl, 0, 0, 16, 16))

	reset := controlPDU(pdu.TypeFlowControl, 0, 0, 16, 16)
	reset.Flags |= pdu.FlagDataRun
	h.control(reset)

	sv := h.sv()
	if sv.ReceiveLeftWindowEdge != 0 {
		t.Errorf("ReceiveLeftWindowEdge = %d, want 0", sv.ReceiveLeftWindowEdge)
	}
	if got := h.d.Stats().Snapshot().DuplicateControl; got != 0 {
		t.Errorf("DuplicateControl = %d, want 0", got)
	}
	if err := h.d.OnInboundData(0); err != nil {
		t.Errorf("OnInboundData(0) after reset error = %v", err)
	}
	if got := h.d.Stats().Snapshot().DuplicateData; got != 0 {
		t.Errorf("DuplicateData = %d, want 0", got)
	}
}

func TestPeerResetAppliedOnce(t *testing.T) {
	h := newHarness(t, noRetransmission(), nil)
	inRun := func(p *pdu.PDU, run uint32) *pdu.PDU {
		p.Control.Run = run
		return p
	}
	receive := func(from, to seqnum.Value) {
		t.Helper()
		for seq := from; seq < to; seq++ {
			if err := h.d.OnInboundData(seq); err != nil {
				t.Fatalf("OnInboundData(%d) error = %v", seq, err)
			}
		}
	}

	reset := inRun(controlPDU(pdu.TypeFlowControl, 0, 0, 16, 16), 1)
	reset.Flags |= pdu.FlagDataRun
	h.control(reset)
	receive(0, 5)
	h.control(inRun(controlPDU(pdu.TypeFlowControl, 1, 0, 16, 16), 1))

	// A late copy of the DRF must not rewind the receiver.
	h.control(reset)
	sv := h.sv()
	if sv.ReceiveLeftWindowEdge != 5 || sv.LastReceivedControlSeq != 1 {
		t.Errorf("after replayed DRF: left edge %d, last control seq %d, want 5, 1",
			sv.ReceiveLeftWindowEdge, sv.LastReceivedControlSeq)
	}
	receive(5, 6)
	h.control(inRun(controlPDU(pdu.TypeFlowControl, 2, 0, 16, 16), 1))

	snap := h.d.Stats().Snapshot()
	if snap.DuplicateControl != 1 || snap.LostControl != 0 || snap.DuplicateData != 0 {
		t.Errorf("duplicate control/lost control/duplicate data = %d/%d/%d, want 1/0/0",
			snap.DuplicateControl, snap.LostControl, snap.DuplicateData)
	}
	if got := h.sv().ReceiveLeftWindowEdge; got != 6 {
		t.Errorf("ReceiveLeftWindowEdge = %d, want 6", got)
	}

	// A newer run resets, and the older run is stale from then on.
	next := inRun(controlPDU(pdu.TypeFlowControl, 0, 0, 16, 16), 2)
	next.Flags |= pdu.FlagDataRun
	h.control(next)
	if got := h.sv().ReceiveLeftWindowEdge; got != 0 {
		t.Errorf("ReceiveLeftWindowEdge after run 2 = %d, want 0", got)
	}
	h.control(inRun(controlPDU(pdu.TypeFlowControl, 3, 0, 16, 16), 1))
	if got := h.d.Stats().Snapshot().DuplicateControl; got != 2 {
		t.Errorf("DuplicateControl = %d, want 2", got)
	}

	// A run whose DRF was lost still resets.
	receive(0, 3)
	h.control(inRun(controlPDU(pdu.TypeFlowControl, 1, 0, 16, 16), 3))
	if got := h.sv().ReceiveLeftWindowEdge; got != 0 {
		t.Errorf("ReceiveLeftWindowEdge after run 3 = %d, want 0", got)
	}
}
