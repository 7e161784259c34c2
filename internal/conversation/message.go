// Package conversation holds the ordered message timeline for one
// console session and its durable persistence.
package conversation

import (
	"fmt"
	"time"
)

// Role identifies who (or what) produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	// Roles produced by the live event stream.
	RoleNotification Role = "notification"
	RoleQuestion     Role = "question"
)

// CitationType is the closed set of backend entities a citation may point to.
type CitationType string

const (
	CitationMission  CitationType = "mission"
	CitationKPI      CitationType = "kpi"
	CitationDocument CitationType = "document"
	CitationCode     CitationType = "code"
	CitationURL      CitationType = "url"
)

// ParseCitationType validates a raw citation type string. Unknown types are
// rejected, never coerced to a default.
func ParseCitationType(s string) (CitationType, error) {
	switch t := CitationType(s); t {
	case CitationMission, CitationKPI, CitationDocument, CitationCode, CitationURL:
		return t, nil
	}
	return "", fmt.Errorf("unknown citation type %q", s)
}

// Citation is a typed pointer from a chat response to a backend entity.
type Citation struct {
	Type    CitationType `json:"type"`
	ID      string       `json:"id"`
	Title   string       `json:"title"`
	URL     string       `json:"url,omitempty"`
	Excerpt string       `json:"excerpt,omitempty"`
}

// Metadata is the optional bag attached to assistant messages by the
// dispatcher and normalizer. Never user-editable.
type Metadata struct {
	Citations   []Citation `json:"citations,omitempty"`
	Suggestions []string   `json:"suggestions,omitempty"`
	// Actions are carried through from the backend verbatim; their shape is
	// not validated beyond being list entries.
	Actions []any `json:"actions,omitempty"`
	Error   bool  `json:"error,omitempty"`
}

// Attachment is the resolved form of a file: uploaded once, carrying the
// backend-issued reference. The staged (pre-upload) form lives in
// internal/attach and is never persisted.
type Attachment struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
	Reference string `json:"reference"`
}

// Message is one entry in the timeline. Insertion order is display order;
// there is no independent sequence field. Messages are never mutated after
// append except to attach resolved attachments or completion metadata.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Metadata    *Metadata    `json:"metadata,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Set only on question-type stream events.
	RequiresResponse bool     `json:"requires_response,omitempty"`
	Options          []string `json:"options,omitempty"`
}
