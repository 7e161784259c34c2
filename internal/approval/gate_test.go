package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentdeck/agentdeck/internal/api"
)

type recordedDecision struct {
	traceID  string
	approved bool
}

type fakeSender struct {
	decisions []recordedDecision
	err       error
}

func (f *fakeSender) SendDecision(ctx context.Context, traceID string, approved bool) error {
	if f.err != nil {
		return f.err
	}
	f.decisions = append(f.decisions, recordedDecision{traceID, approved})
	return nil
}

func TestApproveRemovesAndEmitsOneFrame(t *testing.T) {
	sender := &fakeSender{}
	g := NewGate(sender, nil)
	g.Add(PendingApproval{TraceID: "t1", ActionType: "scale_up", Agent: "ops"})

	if err := g.Approve(context.Background(), "t1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(g.Pending()) != 0 {
		t.Fatal("approval still pending after decision")
	}
	if len(sender.decisions) != 1 {
		t.Fatalf("emitted %d frames, want 1", len(sender.decisions))
	}
	d := sender.decisions[0]
	if d.traceID != "t1" || !d.approved {
		t.Fatalf("decision = %+v", d)
	}
}

func TestReject(t *testing.T) {
	sender := &fakeSender{}
	g := NewGate(sender, nil)
	g.Add(PendingApproval{TraceID: "t2", ActionType: "delete_table"})

	if err := g.Reject(context.Background(), "t2"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if len(sender.decisions) != 1 || sender.decisions[0].approved {
		t.Fatalf("decisions = %+v", sender.decisions)
	}
}

func TestDecideUnknownTraceIsNotPending(t *testing.T) {
	sender := &fakeSender{}
	g := NewGate(sender, nil)

	if err := g.Approve(context.Background(), "ghost"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("err = %v, want ErrNotPending", err)
	}
	if len(sender.decisions) != 0 {
		t.Fatal("decision emitted for unknown trace id")
	}
}

func TestDecideTwiceSecondIsNotPending(t *testing.T) {
	sender := &fakeSender{}
	g := NewGate(sender, nil)
	g.Add(PendingApproval{TraceID: "t1"})

	if err := g.Approve(context.Background(), "t1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := g.Reject(context.Background(), "t1"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("second decision err = %v, want ErrNotPending", err)
	}
}

func TestRemovalIsOptimistic(t *testing.T) {
	// The record leaves the pending set even when the send fails; a backend
	// rejection would come back as a new event.
	sender := &fakeSender{err: errors.New("socket down")}
	g := NewGate(sender, nil)
	g.Add(PendingApproval{TraceID: "t1"})

	if err := g.Approve(context.Background(), "t1"); err == nil {
		t.Fatal("expected send error to surface")
	}
	if len(g.Pending()) != 0 {
		t.Fatal("record kept despite optimistic removal contract")
	}
}

func TestPendingOrderedByTimestamp(t *testing.T) {
	g := NewGate(&fakeSender{}, nil)
	now := time.Now()
	g.Add(PendingApproval{TraceID: "b", Timestamp: now.Add(time.Second)})
	g.Add(PendingApproval{TraceID: "a", Timestamp: now})

	pending := g.Pending()
	if len(pending) != 2 || pending[0].TraceID != "a" || pending[1].TraceID != "b" {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestAddDropsEmptyTraceID(t *testing.T) {
	g := NewGate(&fakeSender{}, nil)
	g.Add(PendingApproval{ActionType: "scale_up"})
	if len(g.Pending()) != 0 {
		t.Fatal("approval without trace id accepted")
	}
}

func TestFromPayload(t *testing.T) {
	p := FromPayload(api.ApprovalPayload{
		TraceID:        "t1",
		ActionType:     "scale_up",
		Agent:          "ops",
		GovernanceTier: "tier-2",
		Reason:         "cpu pressure",
	})
	if p.TraceID != "t1" || p.GovernanceTier != "tier-2" {
		t.Fatalf("converted = %+v", p)
	}
	if p.Timestamp.IsZero() {
		t.Fatal("missing timestamp not defaulted")
	}
}
