// Package api wraps the agent backend's HTTP contract: chat, ingest upload,
// history and governance decisions. Everything past this boundary is typed;
// the loosely-shaped parts of the chat response stay raw here and are turned
// into typed metadata by internal/normalize.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/agentdeck/agentdeck/internal/conversation"
)

// DefaultChatTimeout bounds the chat POST. The backend gives no guarantee, so
// expiry is treated as a dispatch failure by the caller.
const DefaultChatTimeout = 60 * time.Second

// Client is the backend HTTP client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for the backend at baseURL. A zero timeout falls back
// to DefaultChatTimeout.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultChatTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message     string                    `json:"message"`
	Attachments []conversation.Attachment `json:"attachments,omitempty"`
	Context     map[string]any            `json:"context,omitempty"`
}

// ChatResponse is the raw chat reply. Citations and Metadata are kept
// unparsed: the backend expresses citations in several shapes and the
// normalizer owns deciding which entries are usable.
type ChatResponse struct {
	Response          string            `json:"response"`
	Citations         json.RawMessage   `json:"citations,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	MessageID         string            `json:"message_id,omitempty"`
	FollowUpQuestions []string          `json:"follow_up_questions,omitempty"`
	PendingApprovals  []ApprovalPayload `json:"pending_approvals,omitempty"`
}

// ApprovalPayload is a backend action awaiting human confirmation, as carried
// on chat responses and stream frames.
type ApprovalPayload struct {
	TraceID        string         `json:"trace_id"`
	ActionType     string         `json:"action_type"`
	Agent          string         `json:"agent"`
	GovernanceTier string         `json:"governance_tier"`
	Params         map[string]any `json:"params,omitempty"`
	Reason         string         `json:"reason"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Chat posts one user message and returns the backend reply.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body, err := c.postJSON(ctx, "/api/chat", req)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("chat: decode response: %w", err)
	}
	return &resp, nil
}

// UploadResult is the backend reference for an ingested file.
type UploadResult struct {
	ArtifactID string `json:"artifact_id"`
	Filename   string `json:"filename"`
	URL        string `json:"url,omitempty"`
}

// Upload sends one file to the ingest endpoint and returns its durable
// reference.
func (c *Client) Upload(ctx context.Context, name, contentType string, r io.Reader) (*UploadResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("upload: create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("upload: copy file to form: %w", err)
	}
	if contentType != "" {
		_ = writer.WriteField("content_type", contentType)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("upload: close form writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ingest/upload", body)
	if err != nil {
		return nil, fmt.Errorf("upload: create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	respBody, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	var result UploadResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("upload: decode response: %w", err)
	}
	if result.ArtifactID == "" {
		return nil, fmt.Errorf("upload: backend returned no artifact id for %s", name)
	}
	return &result, nil
}

type historyResponse struct {
	Messages []conversation.Message `json:"messages"`
}

// History fetches the backend-side conversation history.
func (c *Client) History(ctx context.Context) ([]conversation.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/chat/history", nil)
	if err != nil {
		return nil, fmt.Errorf("history: create request: %w", err)
	}
	c.authorize(req)
	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("history: decode response: %w", err)
	}
	return resp.Messages, nil
}

// ClearHistory deletes the backend-side conversation history.
func (c *Client) ClearHistory(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/chat/history", nil)
	if err != nil {
		return fmt.Errorf("clear history: create request: %w", err)
	}
	c.authorize(req)
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// Approve posts a governance decision over REST. Used as the fallback when no
// live socket is up.
func (c *Client) Approve(ctx context.Context, traceID string, approved bool) error {
	payload := map[string]any{
		"trace_id": traceID,
		"approved": approved,
	}
	if _, err := c.postJSON(ctx, "/api/governance/approve", payload); err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
