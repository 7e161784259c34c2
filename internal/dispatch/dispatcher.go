// Package dispatch orchestrates one send: optimistic user append, attachment
// resolution, the chat round trip, response normalization and failure
// absorption. A failed send becomes a synthetic assistant message; the
// conversation stays interactive no matter what the backend does.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/agentdeck/agentdeck/internal/api"
	"github.com/agentdeck/agentdeck/internal/approval"
	"github.com/agentdeck/agentdeck/internal/attach"
	"github.com/agentdeck/agentdeck/internal/conversation"
	"github.com/agentdeck/agentdeck/internal/normalize"
)

// ErrSendInFlight is returned when Send is called while another send is in
// flight. The optimistic append is not atomic with the network call, so two
// interleaved sends could order messages differently than the user triggered
// them; concurrent sends are rejected deterministically instead.
var ErrSendInFlight = errors.New("a send is already in flight")

// apology is the fixed assistant text appended when a send fails.
const apology = "Sorry, something went wrong while handling that message. Please try again."

// ChatCaller is the slice of the backend client the dispatcher needs.
type ChatCaller interface {
	Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)
}

// Dispatcher sends user messages and folds the replies into the store.
type Dispatcher struct {
	store    *conversation.Store
	stager   *attach.Stager
	resolver *attach.Resolver
	chat     ChatCaller
	gate     *approval.Gate

	// Context is attached verbatim to every chat request (active mission,
	// screen, selection — whatever the embedding surface supplies).
	Context map[string]any

	// OnError receives the underlying error of an absorbed dispatch failure.
	OnError func(error)

	mu           sync.Mutex
	inFlight     bool
	lastUserText string
}

// NewDispatcher wires a dispatcher. The gate may be nil when no approval
// surface exists.
func NewDispatcher(store *conversation.Store, stager *attach.Stager, resolver *attach.Resolver, chat ChatCaller, gate *approval.Gate) *Dispatcher {
	return &Dispatcher{
		store:    store,
		stager:   stager,
		resolver: resolver,
		chat:     chat,
		gate:     gate,
	}
}

// Loading reports whether a send is in flight.
func (d *Dispatcher) Loading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// Send performs one send. The only error it ever returns is ErrSendInFlight;
// every dispatch failure is absorbed into a synthetic assistant message with
// the error flag set. A send with empty text and nothing staged is a no-op.
func (d *Dispatcher) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" && d.stager.Len() == 0 {
		return nil
	}
	if !d.begin() {
		return ErrSendInFlight
	}
	defer d.end()

	d.send(ctx, text)
	return nil
}

// send runs one dispatch cycle. The caller holds the in-flight gate.
func (d *Dispatcher) send(ctx context.Context, text string) {
	d.mu.Lock()
	d.lastUserText = text
	d.mu.Unlock()

	// Optimistic append: the user sees their message before any network
	// round trip, including on total network failure.
	userMsg := d.store.Append(conversation.Message{
		Role:    conversation.RoleUser,
		Content: text,
	})

	// Snapshot then clear: the stager is free for the next compose cycle
	// the moment the send begins.
	staged := d.stager.Snapshot()
	d.stager.Clear()

	atts, err := d.resolver.ResolveAll(ctx, staged)
	if err != nil {
		d.fail(err)
		return
	}
	if len(atts) > 0 {
		d.store.SetAttachments(userMsg.ID, atts)
	}

	resp, err := d.chat.Chat(ctx, &api.ChatRequest{
		Message:     text,
		Attachments: atts,
		Context:     d.Context,
	})
	if err != nil {
		d.fail(err)
		return
	}

	d.store.Append(conversation.Message{
		Role:     conversation.RoleAssistant,
		Content:  resp.Response,
		Metadata: normalize.Normalize(resp),
	})

	if d.gate != nil {
		for _, p := range resp.PendingApprovals {
			d.gate.Add(approval.FromPayload(p))
		}
	}
}

// RegenerateLast removes the trailing assistant message and resends the last
// recorded user text. Only one text is remembered: a second regenerate in a
// row resends the same text again, a literal retry. The in-flight gate is
// taken before the drop so a regenerate racing an active send rejects
// without touching the timeline.
func (d *Dispatcher) RegenerateLast(ctx context.Context) error {
	d.mu.Lock()
	text := d.lastUserText
	d.mu.Unlock()
	if text == "" {
		return nil
	}
	if !d.begin() {
		return ErrSendInFlight
	}
	defer d.end()

	d.store.DropLastAssistant()
	d.send(ctx, text)
	return nil
}

func (d *Dispatcher) begin() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight {
		return false
	}
	d.inFlight = true
	return true
}

func (d *Dispatcher) end() {
	d.mu.Lock()
	d.inFlight = false
	d.mu.Unlock()
}

func (d *Dispatcher) fail(err error) {
	slog.Error("Dispatch failed", "error", err)
	d.store.Append(conversation.Message{
		Role:     conversation.RoleAssistant,
		Content:  apology,
		Metadata: &conversation.Metadata{Error: true},
	})
	if d.OnError != nil {
		d.OnError(err)
	}
}
