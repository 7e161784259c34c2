package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/agentdeck/agentdeck/internal/api"
	"github.com/agentdeck/agentdeck/internal/approval"
	"github.com/agentdeck/agentdeck/internal/conversation"
)

// Channel names. The backend runs one socket for general proactive and
// cognitive events and one for subagent lifecycle.
const (
	ChannelEvents    = "events"
	ChannelSubagents = "subagents"
)

// frame is the decoded superset of inbound event shapes. The discriminant is
// either type or event_type; everything else is optional per kind.
type frame struct {
	Type      string `json:"type"`
	EventType string `json:"event_type"`

	Message string `json:"message"`
	Content string `json:"content"`
	Title   string `json:"title"`

	RequiresResponse bool     `json:"requires_response"`
	Options          []string `json:"options"`

	Cycle    string `json:"cycle,omitempty"`
	Resource string `json:"resource,omitempty"`
	Playbook string `json:"playbook,omitempty"`
	Agent    string `json:"agent,omitempty"`
	Status   string `json:"status,omitempty"`
}

func (f *frame) discriminant() string {
	if f.EventType != "" {
		return f.EventType
	}
	return f.Type
}

func (f *frame) text() string {
	if f.Message != "" {
		return f.Message
	}
	if f.Content != "" {
		return f.Content
	}
	return f.Title
}

// Merger folds events from both live channels into the single conversation
// timeline, in arrival order. There is no cross-channel sequence number; the
// only ordering guarantee is local arrival order per process.
type Merger struct {
	store *conversation.Store
	gate  *approval.Gate

	events    *Conn
	subagents *Conn

	// OnState, when set, receives connection lifecycle changes so the UI can
	// render connectivity separately from timeline content.
	OnState func(channel string, s State)

	mu        sync.Mutex
	announced map[string]bool
}

// NewMerger wires the general events channel and, when subagentsURL is
// non-empty, the subagent-status channel. Both URLs must already carry the
// auth token (see BuildURL).
func NewMerger(store *conversation.Store, gate *approval.Gate, eventsURL, subagentsURL string) *Merger {
	m := &Merger{
		store:     store,
		gate:      gate,
		announced: make(map[string]bool),
	}
	m.events = NewConn(ChannelEvents, eventsURL, m.handleFrame, m.handleState)
	if subagentsURL != "" {
		m.subagents = NewConn(ChannelSubagents, subagentsURL, m.handleFrame, m.handleState)
	}
	return m
}

// EventsConn returns the general channel connection, which doubles as the
// approval decision sender.
func (m *Merger) EventsConn() *Conn {
	return m.events
}

// Run starts both connections and blocks until the context is cancelled.
func (m *Merger) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.events.Run(ctx)
	}()
	if m.subagents != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.subagents.Run(ctx)
		}()
	}
	wg.Wait()
}

// Close shuts both connections down.
func (m *Merger) Close() {
	m.events.Close()
	if m.subagents != nil {
		m.subagents.Close()
	}
}

func (m *Merger) handleState(channel string, s State) {
	if s == StateOpen {
		// Announce connectivity once per channel per process; reconnects
		// after a drop are re-announced.
		m.mu.Lock()
		first := !m.announced[channel]
		m.announced[channel] = true
		m.mu.Unlock()
		if first {
			m.store.Append(conversation.Message{
				Role:    conversation.RoleSystem,
				Content: fmt.Sprintf("Live %s channel connected.", channel),
			})
		}
	}
	if s == StateClosed {
		m.mu.Lock()
		m.announced[channel] = false
		m.mu.Unlock()
	}
	if m.OnState != nil {
		m.OnState(channel, s)
	}
}

// handleFrame decodes, classifies and folds one inbound frame. Malformed
// frames and unknown discriminants are logged and dropped, never surfaced to
// the timeline.
func (m *Merger) handleFrame(channel string, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("Dropping malformed stream frame", "channel", channel, "error", err)
		return
	}

	switch kind := f.discriminant(); kind {
	case "notification", "proactive_notification":
		m.store.Append(conversation.Message{
			Role:    conversation.RoleNotification,
			Content: f.text(),
		})
	case "question", "user_question":
		m.store.Append(conversation.Message{
			Role:             conversation.RoleQuestion,
			Content:          f.text(),
			RequiresResponse: f.RequiresResponse,
			Options:          f.Options,
		})
	case "meta_cycle", "meta_cycle_report":
		m.store.Append(conversation.Message{
			Role:    conversation.RoleSystem,
			Content: report("Meta-cycle", f.Cycle, f.text()),
		})
	case "resource_scaling", "scaling_report":
		m.store.Append(conversation.Message{
			Role:    conversation.RoleSystem,
			Content: report("Resource scaling", f.Resource, f.text()),
		})
	case "playbook_execution", "playbook_report":
		m.store.Append(conversation.Message{
			Role:    conversation.RoleSystem,
			Content: report("Playbook", f.Playbook, f.text()),
		})
	case "subagent_status", "subagent_lifecycle":
		m.store.Append(conversation.Message{
			Role:    conversation.RoleSystem,
			Content: report("Subagent "+f.Agent, f.Status, f.text()),
		})
	case "approval_required", "approval_request":
		var payload api.ApprovalPayload
		if err := json.Unmarshal(data, &payload); err != nil || payload.TraceID == "" {
			slog.Warn("Dropping approval frame without trace id", "channel", channel, "error", err)
			return
		}
		m.gate.Add(approval.FromPayload(payload))
	default:
		slog.Warn("Dropping stream frame with unknown discriminant", "channel", channel, "kind", kind)
	}
}

func report(kind, detail, text string) string {
	parts := make([]string, 0, 3)
	parts = append(parts, kind)
	if detail != "" {
		parts = append(parts, detail)
	}
	if text != "" {
		parts = append(parts, text)
	}
	return strings.Join(parts, ": ")
}
