// Package approval tracks backend actions gated on human confirmation and
// emits the user's decisions back over the live connection.
package approval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/api"
)

// ErrNotPending reports a decision for a trace id that is not (or no longer)
// pending. Callers treat it as a no-op.
var ErrNotPending = errors.New("no pending approval for trace id")

// PendingApproval is an action awaiting the user's decision. The trace id is
// the sole correlation key between gate and backend.
type PendingApproval struct {
	TraceID        string         `json:"trace_id"`
	ActionType     string         `json:"action_type"`
	Agent          string         `json:"agent"`
	GovernanceTier string         `json:"governance_tier"`
	Params         map[string]any `json:"params,omitempty"`
	Reason         string         `json:"reason"`
	Timestamp      time.Time      `json:"timestamp"`
}

// FromPayload converts the wire shape into a gate record.
func FromPayload(p api.ApprovalPayload) PendingApproval {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return PendingApproval{
		TraceID:        p.TraceID,
		ActionType:     p.ActionType,
		Agent:          p.Agent,
		GovernanceTier: p.GovernanceTier,
		Params:         p.Params,
		Reason:         p.Reason,
		Timestamp:      ts,
	}
}

// DecisionSender delivers an approve/reject decision to the backend, either
// as a live socket frame or over REST.
type DecisionSender interface {
	SendDecision(ctx context.Context, traceID string, approved bool) error
}

// Archive persists approval records and their status transitions.
// Best-effort: archive failures never block a decision.
type Archive interface {
	ArchiveApproval(p PendingApproval) error
	SetApprovalStatus(traceID, status string) error
}

// Gate is the pending-approval set. States are PENDING then a terminal
// APPROVED or REJECTED; records are removed optimistically on decision,
// before any backend acknowledgement. A later backend rejection of the
// decision arrives as a new incoming event, never as an error here.
type Gate struct {
	mu      sync.Mutex
	pending map[string]PendingApproval
	sender  DecisionSender
	archive Archive
}

// NewGate creates a gate that emits decisions through sender. The archive
// may be nil.
func NewGate(sender DecisionSender, archive Archive) *Gate {
	return &Gate{
		pending: make(map[string]PendingApproval),
		sender:  sender,
		archive: archive,
	}
}

// Add registers a pending approval surfaced by a chat response or a stream
// event. Re-adding an already-pending trace id refreshes the record.
func (g *Gate) Add(p PendingApproval) {
	if p.TraceID == "" {
		slog.Warn("Dropping approval with empty trace id", "action_type", p.ActionType)
		return
	}
	g.mu.Lock()
	g.pending[p.TraceID] = p
	g.mu.Unlock()

	if g.archive != nil {
		if err := g.archive.ArchiveApproval(p); err != nil {
			slog.Debug("Archive approval failed", "trace_id", p.TraceID, "error", err)
		}
	}
}

// Pending returns the pending set ordered by creation time.
func (g *Gate) Pending() []PendingApproval {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PendingApproval, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Approve resolves the pending approval and emits an approve decision.
func (g *Gate) Approve(ctx context.Context, traceID string) error {
	return g.decide(ctx, traceID, true)
}

// Reject resolves the pending approval and emits a reject decision.
func (g *Gate) Reject(ctx context.Context, traceID string) error {
	return g.decide(ctx, traceID, false)
}

func (g *Gate) decide(ctx context.Context, traceID string, approved bool) error {
	g.mu.Lock()
	_, ok := g.pending[traceID]
	if ok {
		delete(g.pending, traceID)
	}
	g.mu.Unlock()
	if !ok {
		return ErrNotPending
	}

	status := "rejected"
	if approved {
		status = "approved"
	}
	if g.archive != nil {
		if err := g.archive.SetApprovalStatus(traceID, status); err != nil {
			slog.Debug("Archive approval status failed", "trace_id", traceID, "error", err)
		}
	}
	return g.sender.SendDecision(ctx, traceID, approved)
}
