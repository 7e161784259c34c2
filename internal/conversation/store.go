package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Persister is the single injected persistence port. No component outside the
// store touches durable storage directly.
type Persister interface {
	Load() ([]Message, error)
	Save(msgs []Message) error
	Clear() error
}

// HistorySource seeds an empty store from the backend history endpoint.
type HistorySource interface {
	History(ctx context.Context) ([]Message, error)
}

// Archiver receives a best-effort copy of every appended message. Archive
// failures are logged and never block the conversation.
type Archiver interface {
	ArchiveMessage(msg Message) error
}

// Store is the ordered, persisted message sequence. Appends from the
// dispatcher and the event-stream merger both go through the same primitive,
// serialized by one mutex.
//
// Persistence is write-through: every Append and Clear re-serializes the full
// list. O(n) per append, acceptable at the dozens-to-low-hundreds of messages
// this client is designed for; do not scale it past that without moving to an
// append-log persister.
type Store struct {
	mu      sync.Mutex
	msgs    []Message
	persist Persister
	archive Archiver
	subs    []func(Message)
	lastTS  time.Time
}

// NewStore creates a store backed by the given persistence port.
func NewStore(p Persister) *Store {
	return &Store{persist: p}
}

// SetArchiver attaches an optional diagnostics archive. Call before use.
func (s *Store) SetArchiver(a Archiver) {
	s.archive = a
}

// Subscribe registers a callback invoked for every appended message, after
// it has been persisted. Callbacks run on the appender's goroutine.
func (s *Store) Subscribe(fn func(Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Load populates the store: local durable storage first; if that yields
// nothing and a history source is provided, a one-time backend fetch seeds
// the store.
func (s *Store) Load(ctx context.Context, history HistorySource) error {
	msgs, err := s.persist.Load()
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if len(msgs) == 0 && history != nil {
		msgs, err = history.History(ctx)
		if err != nil {
			// History seeding is best-effort: an unreachable backend must
			// not prevent starting an empty conversation.
			slog.Warn("History seed failed", "error", err)
			msgs = nil
		} else if len(msgs) > 0 {
			if err := s.persist.Save(msgs); err != nil {
				slog.Warn("Persist seeded history failed", "error", err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = msgs
	if n := len(msgs); n > 0 {
		s.lastTS = msgs[n-1].Timestamp
	}
	return nil
}

// Append adds a message to the end of the timeline and persists the result.
// A missing ID or timestamp is filled in; timestamps are clamped so creation
// order is monotonically non-decreasing even if the wall clock steps back.
// The stored message is returned.
func (s *Store) Append(msg Message) Message {
	s.mu.Lock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Timestamp.Before(s.lastTS) {
		msg.Timestamp = s.lastTS
	}
	s.lastTS = msg.Timestamp

	s.msgs = append(s.msgs, msg)
	s.persistLocked()

	if s.archive != nil {
		if err := s.archive.ArchiveMessage(msg); err != nil {
			slog.Debug("Archive message failed", "message_id", msg.ID, "error", err)
		}
	}
	subs := make([]func(Message), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
	return msg
}

// SetAttachments attaches the resolved attachment list to an already-appended
// message. This is one of the two sanctioned post-append mutations.
func (s *Store) SetAttachments(id string, atts []Attachment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].ID == id {
			s.msgs[i].Attachments = atts
			s.persistLocked()
			return true
		}
	}
	return false
}

// SetMetadata attaches completion metadata to an already-appended message.
func (s *Store) SetMetadata(id string, meta *Metadata) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].ID == id {
			s.msgs[i].Metadata = meta
			s.persistLocked()
			return true
		}
	}
	return false
}

// DropLastAssistant removes the trailing message if it is an assistant
// message and returns it. Used by regenerate.
func (s *Store) DropLastAssistant() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.msgs)
	if n == 0 || s.msgs[n-1].Role != RoleAssistant {
		return Message{}, false
	}
	last := s.msgs[n-1]
	s.msgs = s.msgs[:n-1]
	s.persistLocked()
	return last, true
}

// Clear removes all messages and wipes durable storage.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	s.lastTS = time.Time{}
	return s.persist.Clear()
}

// Messages returns a copy of the current timeline.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of messages in the timeline.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *Store) persistLocked() {
	if err := s.persist.Save(s.msgs); err != nil {
		slog.Warn("Persist conversation failed", "error", err)
	}
}
