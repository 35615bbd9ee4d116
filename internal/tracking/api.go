package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aura-webinar/watchtrack/internal/models"
)

var (
	// Sentinel errors for errors.Is checks by callers.
	ErrUnavailable = errors.New("tracking api: host unreachable or transport failure")
	ErrNotFound    = errors.New("tracking api: resource not found")
	ErrConflict    = errors.New("tracking api: conflicting state")
	ErrRejected    = errors.New("tracking api: request rejected")
	ErrServer      = errors.New("tracking api: internal error (5xx)")
	ErrBadResponse = errors.New("tracking api: invalid response format")
)

// APIError wraps a sentinel with the operation and HTTP details.
type APIError struct {
	Sentinel error
	Op       string
	Status   int
	Message  string
	Err      error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Sentinel, e.Err}
	}
	return []error{e.Sentinel}
}

// envelope mirrors pkg/response.Body on the wire.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client talks to the tracking backend.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
}

// NewClient creates an API client. tokens may be nil for guest-only use.
func NewClient(base string, timeout time.Duration, tokens TokenSource) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
	}
}

// WithHTTPClient replaces the underlying HTTP client (tests, custom transports).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// CreateWatchSessionRequest is the body of POST /watch-sessions.
type CreateWatchSessionRequest struct {
	VideoID             string              `json:"videoId"`
	StartTime           time.Time           `json:"startTime"`
	ActualTimeWatched   float64             `json:"actualTimeWatched"`
	PercentageWatched   float64             `json:"percentageWatched"`
	IsGuestWatchSession bool                `json:"isGuestWatchSession"`
	UserSessionID       string              `json:"userSessionId,omitempty"`
	UserMetadata        models.UserMetadata `json:"userMetadata"`
}

// CreateSession registers a session id. 200 and 201 both count as success.
func (c *Client) CreateSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, "create session", http.MethodPost, "/sessions", map[string]string{"sessionId": sessionID}, nil)
}

// Heartbeat checks and renews a session.
func (c *Client) Heartbeat(ctx context.Context, sessionID string) (models.HeartbeatResult, error) {
	var out models.HeartbeatResult
	err := c.do(ctx, "heartbeat", http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/heartbeat", nil, &out)
	return out, err
}

// MarkContentEngaged flags that the session interacted with content.
func (c *Client) MarkContentEngaged(ctx context.Context, sessionID string) error {
	return c.do(ctx, "content engaged", http.MethodPatch, "/sessions/"+url.PathEscape(sessionID)+"/content-engaged", map[string]bool{"engaged": true}, nil)
}

// CreateWatchSession opens a watch session and returns the server record.
func (c *Client) CreateWatchSession(ctx context.Context, req CreateWatchSessionRequest) (*models.WatchSession, error) {
	var out models.WatchSession
	if err := c.do(ctx, "create watch session", http.MethodPost, "/watch-sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateWatchSession sends a partial progress update and returns the updated record.
func (c *Client) UpdateWatchSession(ctx context.Context, id string, p models.WatchProgress) (*models.WatchSession, error) {
	var out models.WatchSession
	if err := c.do(ctx, "update watch session", http.MethodPatch, "/watch-sessions/"+url.PathEscape(id), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &APIError{Sentinel: ErrRejected, Op: op, Err: err}
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return &APIError{Sentinel: ErrRejected, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return &APIError{Sentinel: ErrUnavailable, Op: op, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return &APIError{Sentinel: ErrUnavailable, Op: op, Status: res.StatusCode, Err: err}
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && res.StatusCode < 300 {
			return &APIError{Sentinel: ErrBadResponse, Op: op, Status: res.StatusCode, Err: err}
		}
	}
	if res.StatusCode >= 300 {
		return &APIError{Sentinel: statusSentinel(res.StatusCode), Op: op, Status: res.StatusCode, Message: env.Error}
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 {
		return &APIError{Sentinel: ErrBadResponse, Op: op, Status: res.StatusCode, Message: "empty data"}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &APIError{Sentinel: ErrBadResponse, Op: op, Status: res.StatusCode, Err: err}
	}
	return nil
}

func statusSentinel(status int) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	case status >= 500:
		return ErrServer
	default:
		return ErrRejected
	}
}
