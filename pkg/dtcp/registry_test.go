package dtcp

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pborman/uuid"
	"github.com/rs/zerolog"

	"github.com/therealutkarshpriyadarshi/rina/pkg/common"
	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
	"github.com/therealutkarshpriyadarshi/rina/pkg/timer"
)

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	ctx, _, _, _ := testContext(DefaultConfig(), nil)

	h, err := r.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if uuid.Parse(string(h)) == nil {
		t.Errorf("handle %q is not a UUID", h)
	}

	d, err := r.Lookup(h)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if d.State() != StateActive {
		t.Errorf("State() = %v, want ACTIVE", d.State())
	}
	if got, ok := r.LookupConn(testConn); !ok || got != h {
		t.Errorf("LookupConn() = %q, %v", got, ok)
	}

	if _, err := r.Create(ctx); !IsConfig(err) {
		t.Errorf("Create() with duplicate connection error = %v, want *ConfigError", err)
	}

	ctx.ID = common.ConnectionID{QoS: 2, SourceCEP: 11, DestCEP: 21}
	ctx.Policies = nil
	if _, err := r.Create(ctx); !IsConfig(err) {
		t.Errorf("Create() without policies error = %v, want *ConfigError", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryUnknownHandle(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	h := Handle("7d444840-9dc0-11d1-b245-5ffdce74fad2")

	if _, err := r.AdmitOutboundUnit(h, 0); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("AdmitOutboundUnit() error = %v, want ErrUnknownHandle", err)
	}
	if err := r.UpdateLeftWindowEdge(h, 0); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("UpdateLeftWindowEdge() error = %v, want ErrUnknownHandle", err)
	}
	if err := r.OnInboundControlMessage(h, controlPDU(pdu.TypeAck, 0, 0, 0, 0)); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("OnInboundControlMessage() error = %v, want ErrUnknownHandle", err)
	}
	if err := r.Destroy(h); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("Destroy() error = %v, want ErrUnknownHandle", err)
	}
}

func TestRegistryOperations(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	ctx, _, tx, ev := testContext(DefaultConfig(), nil)
	h, err := r.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for seq := seqnum.Value(0); seq < 3; seq++ {
		a, err := r.AdmitOutboundUnit(h, seq)
		if err != nil || !a.Admitted {
			t.Fatalf("AdmitOutboundUnit(%d) = %v, %v", seq, a, err)
		}
	}
	if err := r.OnInboundControlMessage(h, controlPDU(pdu.TypeAck, 0, 2, 0, 0)); err != nil {
		t.Fatalf("OnInboundControlMessage() error = %v", err)
	}
	if err := r.UpdateLeftWindowEdge(h, 3); err != nil {
		t.Fatalf("UpdateLeftWindowEdge() error = %v", err)
	}
	if len(ev.acked) != 2 || ev.acked[1] != 3 {
		t.Errorf("Acknowledged = %v, want [2 3]", ev.acked)
	}

	// A data unit from the peer names the connection from its side.
	in := &pdu.PDU{PCI: pdu.PCI{Version: pdu.Version, Type: pdu.TypeDT, Conn: testConn.Reverse(), Seq: 0}}
	if err := r.Deliver(in); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if p := tx.last(); p == nil || p.Type != pdu.TypeAckAndFlowControl || p.Control.Ack != 1 {
		t.Errorf("Deliver() did not trigger an acknowledgment, last sent %v", p)
	}

	in.Conn = testConn
	if err := r.Deliver(in); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("Deliver() to unknown connection error = %v, want ErrUnknownHandle", err)
	}

	if err := r.Destroy(h); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	if _, ok := r.LookupConn(testConn); ok {
		t.Error("LookupConn() found destroyed connection")
	}
}

func TestRegistryTimerAfterDestroy(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	ctx, clock, tx, _ := testContext(DefaultConfig(), nil)
	ctx.Timers = leakyTimers{clock}

	h, err := r.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	d, _ := r.Lookup(h)
	if _, err := r.AdmitOutboundUnit(h, 0); err != nil {
		t.Fatalf("AdmitOutboundUnit() error = %v", err)
	}
	if err := r.Destroy(h); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}

	// The callback finds no engine behind the handle and does nothing.
	clock.Advance(time.Second)
	if tx.count() != 0 {
		t.Errorf("transmitted %d PDUs after destroy", tx.count())
	}
	if got := d.Stats().Snapshot().StaleTimers; got != 0 {
		t.Errorf("StaleTimers = %d, want 0", got)
	}
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	var engines []*DTCP
	for i := 0; i < 3; i++ {
		ctx, _, _, _ := testContext(DefaultConfig(), nil)
		ctx.ID = common.ConnectionID{QoS: 1, SourceCEP: common.CEPID(i), DestCEP: 100}
		h, err := r.Create(ctx)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		d, _ := r.Lookup(h)
		engines = append(engines, d)
	}

	r.Close()
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	for _, d := range engines {
		if d.State() != StateDestroyed {
			t.Errorf("%s: State() = %v, want DESTROYED", d.ID(), d.State())
		}
	}
}

var _ timer.Facility = leakyTimers{}

func TestRegistryCreateActivationFailure(t *testing.T) {
	var logs bytes.Buffer
	r := NewRegistry(zerolog.New(&logs))
	failing := DefaultPolicies().FlowInit(func(dt *Instance) error {
		return errors.New("no credit")
	})
	ctx, _, _, _ := testContext(DefaultConfig(), failing)

	if _, err := r.Create(ctx); err == nil {
		t.Fatal("Create() with failing flow_init succeeded")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	if _, ok := r.LookupConn(testConn); ok {
		t.Error("connection still registered after failed activation")
	}
	if out := logs.String(); !strings.Contains(out, "connection destroyed") || strings.Contains(out, "cannot destroy") {
		t.Errorf("log output = %s, want the engine destroyed cleanly", out)
	}

	ctx, _, _, _ = testContext(DefaultConfig(), nil)
	if _, err := r.Create(ctx); err != nil {
		t.Errorf("Create() after failed activation error = %v", err)
	}
}
