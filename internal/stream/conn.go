// Package stream owns the live socket connections to the backend and folds
// their events into the conversation timeline.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection lifecycle. CLOSED is reachable from any state on
// socket error; a running Conn moves back to CONNECTING when it retries.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	minBackoff       = 1 * time.Second
	maxBackoff       = 30 * time.Second
)

// Conn is one reconnecting websocket connection. Reconnects use bounded
// exponential backoff; Close stops delivery immediately.
type Conn struct {
	name    string
	url     string
	onFrame func(channel string, data []byte)
	onState func(channel string, s State)

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

// BuildURL appends the auth token query parameter to a ws:// endpoint.
func BuildURL(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// NewConn creates a connection. onFrame receives every raw inbound frame;
// onState receives lifecycle transitions, kept distinct from message
// delivery so the UI can show connectivity separately. Either may be nil.
func NewConn(name, url string, onFrame func(string, []byte), onState func(string, State)) *Conn {
	return &Conn{
		name:    name,
		url:     url,
		onFrame: onFrame,
		onState: onState,
	}
}

// Run connects and keeps the connection alive until the context is cancelled
// or Close is called. Blocks; run it as a goroutine.
func (c *Conn) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		c.setState(StateConnecting)

		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		ws, _, err := dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			slog.Warn("Stream dial failed", "channel", c.name, "error", err, "retry_in", backoff)
			c.setState(StateClosed)
			if !c.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			ws.Close()
			return
		}
		c.ws = ws
		c.mu.Unlock()

		c.setState(StateOpen)
		backoff = minBackoff

		c.readLoop(ctx, ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		c.setState(StateClosed)

		if !c.sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	// The watcher unblocks ReadMessage on context cancellation and must not
	// outlive this epoch: each reconnect runs a fresh readLoop.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !c.isClosed() {
				slog.Warn("Stream read failed", "channel", c.name, "error", err)
			}
			return
		}
		if c.onFrame != nil {
			c.onFrame(c.name, data)
		}
	}
}

// decisionFrame is the outbound approval decision.
type decisionFrame struct {
	Type     string `json:"type"`
	ActionID string `json:"action_id"`
	Approved bool   `json:"approved"`
}

// SendDecision emits an approval decision frame on this connection. A
// deadline on ctx tightens the write deadline; ctx cannot extend it.
func (c *Conn) SendDecision(ctx context.Context, traceID string, approved bool) error {
	return c.writeJSON(ctx, decisionFrame{Type: "approval", ActionID: traceID, Approved: approved})
}

func (c *Conn) writeJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stream %s: %w", c.name, err)
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("stream %s: not connected", c.name)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream %s: encode frame: %w", c.name, err)
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("stream %s: write frame: %w", c.name, err)
	}
	return nil
}

// Close stops the connection permanently. Event delivery stops immediately.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
	c.setState(StateClosed)
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) setState(s State) {
	if c.onState != nil {
		c.onState(c.name, s)
	}
}

func (c *Conn) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return !c.isClosed()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
