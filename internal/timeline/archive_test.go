package timeline

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/agentdeck/agentdeck/internal/approval"
	"github.com/agentdeck/agentdeck/internal/conversation"
)

func openTestArchive(t *testing.T) (*Archive, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timeline.db")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, path
}

func TestArchiveMessages(t *testing.T) {
	a, _ := openTestArchive(t)
	now := time.Now()
	msgs := []conversation.Message{
		{ID: "m1", Role: conversation.RoleUser, Content: "hello", Timestamp: now},
		{ID: "m2", Role: conversation.RoleAssistant, Content: "hi", Timestamp: now.Add(time.Second)},
		{ID: "m3", Role: conversation.RoleSystem, Content: "connected", Timestamp: now.Add(2 * time.Second)},
	}
	for _, m := range msgs {
		if err := a.ArchiveMessage(m); err != nil {
			t.Fatalf("archive %s: %v", m.ID, err)
		}
	}
	// Re-archiving the same id is a no-op, not an error.
	if err := a.ArchiveMessage(msgs[0]); err != nil {
		t.Fatalf("re-archive: %v", err)
	}

	got, err := a.RecentMessages(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].MessageID != "m2" || got[1].MessageID != "m3" {
		t.Fatalf("window = %+v, want the last two oldest-first", got)
	}

	if err := a.ClearMessages(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = a.RecentMessages(10)
	if err != nil {
		t.Fatalf("recent after clear: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d messages after clear, want 0", len(got))
	}
}

func TestApprovalLifecycle(t *testing.T) {
	a, _ := openTestArchive(t)
	p := approval.PendingApproval{
		TraceID:        "t1",
		ActionType:     "scale_up",
		Agent:          "ops",
		GovernanceTier: "tier-2",
		Params:         map[string]any{"replicas": 4},
		Reason:         "cpu pressure",
		Timestamp:      time.Now(),
	}
	if err := a.ArchiveApproval(p); err != nil {
		t.Fatalf("archive approval: %v", err)
	}

	pending, err := a.ApprovalsByStatus("pending")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].TraceID != "t1" || pending[0].RespondedAt != nil {
		t.Fatalf("pending = %+v", pending)
	}

	if err := a.SetApprovalStatus("t1", "approved"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	approved, err := a.ApprovalsByStatus("approved")
	if err != nil {
		t.Fatalf("list approved: %v", err)
	}
	if len(approved) != 1 || approved[0].RespondedAt == nil {
		t.Fatalf("approved = %+v", approved)
	}
}

func TestReopenMarksPendingStale(t *testing.T) {
	a, path := openTestArchive(t)
	if err := a.ArchiveApproval(approval.PendingApproval{TraceID: "t1", Timestamp: time.Now()}); err != nil {
		t.Fatalf("archive approval: %v", err)
	}
	a.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	stale, err := reopened.ApprovalsByStatus("stale")
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].TraceID != "t1" {
		t.Fatalf("stale = %+v", stale)
	}
}

func TestOpenReadKeepsPending(t *testing.T) {
	a, path := openTestArchive(t)
	if err := a.ArchiveApproval(approval.PendingApproval{TraceID: "t1", Timestamp: time.Now()}); err != nil {
		t.Fatalf("archive approval: %v", err)
	}

	ro, err := OpenRead(path)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	defer ro.Close()

	pending, err := ro.ApprovalsByStatus("pending")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("read-only open disturbed pending records: %+v", pending)
	}
}
