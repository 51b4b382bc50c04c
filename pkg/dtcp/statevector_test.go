package dtcp

import (
	"errors"
	"testing"

	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

func TestStateVectorSendWindow(t *testing.T) {
	sv := NewStateVector(DefaultConfig())
	sv.SetSenderCredit(10)
	if sv.SendRightWindowEdge != 10 {
		t.Fatalf("SendRightWindowEdge = %d, want 10", sv.SendRightWindowEdge)
	}

	if err := sv.UpdateSendWindow(4); err != nil {
		t.Fatalf("UpdateSendWindow(4) error = %v", err)
	}
	if sv.SendLeftWindowEdge != 4 || sv.LastSendDataAck != 4 {
		t.Errorf("left edge = %d, last ack = %d, want 4, 4", sv.SendLeftWindowEdge, sv.LastSendDataAck)
	}
	if sv.SendRightWindowEdge != 10 {
		t.Errorf("ack changed right edge to %d", sv.SendRightWindowEdge)
	}

	sv.SetSenderCredit(10)
	if sv.SendRightWindowEdge != 14 {
		t.Errorf("SendRightWindowEdge = %d, want LastSendDataAck+credit = 14", sv.SendRightWindowEdge)
	}

	// Applying the same edge twice changes nothing.
	before := *sv
	if err := sv.UpdateSendWindow(4); err != nil {
		t.Fatalf("repeated UpdateSendWindow(4) error = %v", err)
	}
	if *sv != before {
		t.Errorf("repeated update changed the vector: %+v -> %+v", before, *sv)
	}

	err := sv.UpdateSendWindow(3)
	if !errors.Is(err, ErrStaleAck) {
		t.Fatalf("UpdateSendWindow(3) error = %v, want ErrStaleAck", err)
	}
	if sv.SendLeftWindowEdge != 4 {
		t.Errorf("stale ack moved left edge to %d", sv.SendLeftWindowEdge)
	}
}

func TestStateVectorAckBeyondRightEdge(t *testing.T) {
	sv := NewStateVector(DefaultConfig())
	sv.SetSenderCredit(2)

	if err := sv.UpdateSendWindow(5); err != nil {
		t.Fatalf("UpdateSendWindow(5) error = %v", err)
	}
	if err := sv.Check(); err != nil {
		t.Errorf("Check() error = %v", err)
	}
	if sv.NextSendDataSeq != 5 {
		t.Errorf("NextSendDataSeq = %d, want 5", sv.NextSendDataSeq)
	}
}

func TestStateVectorReceiverCredit(t *testing.T) {
	sv := NewStateVector(DefaultConfig())
	sv.ReceiveLeftWindowEdge = 7
	sv.SetReceiverCredit(3)

	if sv.ReceiverRightWindowEdge != 10 {
		t.Errorf("ReceiverRightWindowEdge = %d, want 10", sv.ReceiverRightWindowEdge)
	}
}

func TestStateVectorControlSequence(t *testing.T) {
	sv := NewStateVector(DefaultConfig())
	for want := seqnum.Value(0); want < 3; want++ {
		if got := sv.NextControlSeq(); got != want {
			t.Errorf("NextControlSeq() = %d, want %d", got, want)
		}
	}

	tests := []struct {
		seq       seqnum.Value
		duplicate bool
		gap       bool
		gapFrom   seqnum.Value
	}{
		{seq: 0},
		{seq: 1},
		{seq: 1, duplicate: true},
		{seq: 0, duplicate: true},
		{seq: 4, gap: true, gapFrom: 2},
		{seq: 5},
	}
	for _, tt := range tests {
		dup, from, gap := sv.observeControlSeq(tt.seq)
		if dup != tt.duplicate || gap != tt.gap || (gap && from != tt.gapFrom) {
			t.Errorf("observeControlSeq(%d) = (%v, %d, %v), want (%v, %d, %v)",
				tt.seq, dup, from, gap, tt.duplicate, tt.gapFrom, tt.gap)
		}
	}

	sv.resetControlSeq()
	if dup, _, gap := sv.observeControlSeq(0); dup || gap {
		t.Errorf("after reset observeControlSeq(0) = dup %v gap %v", dup, gap)
	}
}

func TestStateVectorCheck(t *testing.T) {
	sv := NewStateVector(DefaultConfig())
	sv.SendLeftWindowEdge = 5
	sv.SendRightWindowEdge = 4

	if err := sv.Check(); !errors.Is(err, ErrInvariant) {
		t.Errorf("Check() error = %v, want ErrInvariant", err)
	}
}

func TestStateVectorInFlight(t *testing.T) {
	sv := NewStateVector(DefaultConfig())
	sv.SendLeftWindowEdge = 4
	sv.NextSendDataSeq = 7

	if got := sv.InFlight(); got != 3 {
		t.Errorf("InFlight() = %d, want 3", got)
	}
}
