// Package timeline keeps a sqlite archive of the conversation and its
// approval records. The archive is diagnostics-grade: every write is
// best-effort and a broken archive never blocks the conversation.
package timeline

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentdeck/agentdeck/internal/approval"
	"github.com/agentdeck/agentdeck/internal/conversation"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT UNIQUE NOT NULL,
	role TEXT NOT NULL,
	content TEXT,
	metadata TEXT DEFAULT '',
	attachments TEXT DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

CREATE TABLE IF NOT EXISTS approval_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT UNIQUE NOT NULL,
	action_type TEXT,
	agent TEXT,
	governance_tier TEXT,
	params TEXT DEFAULT '',
	reason TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	responded_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_approvals_status ON approval_requests(status);
`

// Archive is the sqlite-backed history of messages and approvals.
type Archive struct {
	db *sql.DB
}

// Open opens (or creates) the archive database and applies the schema.
// Approvals left pending by a previous process are marked stale: the gate
// that owned them is gone and their decisions can never be emitted.
func Open(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open timeline db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply timeline schema: %w", err)
	}
	_, _ = db.Exec(`UPDATE approval_requests SET status = 'stale', responded_at = datetime('now') WHERE status = 'pending'`)
	return &Archive{db: db}, nil
}

// OpenRead opens the archive for inspection without the stale-pending sweep,
// so inspecting from a second process does not disturb a live gate's records.
func OpenRead(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open timeline db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply timeline schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// ArchiveMessage records one appended message.
func (a *Archive) ArchiveMessage(msg conversation.Message) error {
	var metaJSON, attJSON []byte
	if msg.Metadata != nil {
		metaJSON, _ = json.Marshal(msg.Metadata)
	}
	if len(msg.Attachments) > 0 {
		attJSON, _ = json.Marshal(msg.Attachments)
	}
	_, err := a.db.Exec(`INSERT OR IGNORE INTO messages
		(message_id, role, content, metadata, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, string(msg.Role), msg.Content, string(metaJSON), string(attJSON), msg.Timestamp)
	return err
}

// ArchivedMessage is one row of the message archive.
type ArchivedMessage struct {
	MessageID string    `json:"message_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// RecentMessages returns up to limit archived messages, oldest first.
func (a *Archive) RecentMessages(limit int) ([]ArchivedMessage, error) {
	rows, err := a.db.Query(`SELECT message_id, role, COALESCE(content,''), created_at
		FROM (SELECT * FROM messages ORDER BY id DESC LIMIT ?) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedMessage
	for rows.Next() {
		var m ArchivedMessage
		if err := rows.Scan(&m.MessageID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearMessages wipes the message archive. Used by full-conversation clear.
func (a *Archive) ClearMessages() error {
	_, err := a.db.Exec(`DELETE FROM messages`)
	return err
}

// ArchiveApproval records a newly-pending approval.
func (a *Archive) ArchiveApproval(p approval.PendingApproval) error {
	paramsJSON, _ := json.Marshal(p.Params)
	_, err := a.db.Exec(`INSERT OR REPLACE INTO approval_requests
		(trace_id, action_type, agent, governance_tier, params, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)`,
		p.TraceID, p.ActionType, p.Agent, p.GovernanceTier, string(paramsJSON), p.Reason, p.Timestamp)
	return err
}

// SetApprovalStatus records the decision for a trace id.
func (a *Archive) SetApprovalStatus(traceID, status string) error {
	_, err := a.db.Exec(`UPDATE approval_requests SET status = ?, responded_at = datetime('now') WHERE trace_id = ?`,
		status, traceID)
	return err
}

// ApprovalRecord is one row of the approval archive.
type ApprovalRecord struct {
	TraceID        string     `json:"trace_id"`
	ActionType     string     `json:"action_type"`
	Agent          string     `json:"agent"`
	GovernanceTier string     `json:"governance_tier"`
	Reason         string     `json:"reason"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
}

// ApprovalsByStatus returns approval records with the given status, oldest
// first. An empty status returns everything.
func (a *Archive) ApprovalsByStatus(status string) ([]ApprovalRecord, error) {
	query := `SELECT trace_id, COALESCE(action_type,''), COALESCE(agent,''),
		COALESCE(governance_tier,''), COALESCE(reason,''), status, created_at, responded_at
		FROM approval_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApprovalRecord
	for rows.Next() {
		var r ApprovalRecord
		var respondedAt sql.NullTime
		if err := rows.Scan(&r.TraceID, &r.ActionType, &r.Agent, &r.GovernanceTier,
			&r.Reason, &r.Status, &r.CreatedAt, &respondedAt); err != nil {
			return nil, err
		}
		if respondedAt.Valid {
			r.RespondedAt = &respondedAt.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
