// Package collector is the HTTP client for the provenance collector API.
//
// The collector owns sessions and their events:
//
//	POST /sessions/start          -> {"session_id": 42}
//	POST /sessions/{id}/events    <- [{"character": "a", "timestamp": "..."}]
//	POST /sessions/{id}/finalize  -> {"success": true}
//	GET  /sessions/{id}/verify    -> {"verified": true, "message": "..."}
//	GET  /                        -> {"name": "...", "version": "...", "status": "ok"}
//
// Every call is a single request. The client never retries; callers decide
// what a failure means.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Iron-Ham/provenance/internal/capture"
	"github.com/Iron-Ham/provenance/internal/errors"
	"github.com/Iron-Ham/provenance/internal/logging"
)

// DefaultBaseURL is the collector address used when none is configured.
const DefaultBaseURL = "http://localhost:8000"

// Operation names used in *errors.CollectorError.
const (
	OpStart    = "start"
	OpEvents   = "events"
	OpFinalize = "finalize"
	OpVerify   = "verify"
	OpHealth   = "health"
)

// maxErrorBody bounds how much of an error response is read for its detail.
const maxErrorBody = 4 << 10

// VerifyResult is the collector's verdict on a finalized session.
type VerifyResult struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

// HealthStatus is the collector's root document.
type HealthStatus struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

type startResponse struct {
	SessionID json.RawMessage `json:"session_id"`
}

type finalizeResponse struct {
	Success *bool `json:"success"`
}

type errorResponse struct {
	Detail any `json:"detail"`
}

// Client talks to one collector.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(l).WithComponent("collector")
	}
}

// New creates a Client for the collector at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid collector URL %q: %w", baseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid collector URL %q: must be an absolute http(s) URL", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the collector address without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StartSession creates a session and returns its id.
func (c *Client) StartSession(ctx context.Context) (string, error) {
	var resp startResponse
	if err := c.do(ctx, OpStart, http.MethodPost, "/sessions/start", nil, &resp); err != nil {
		return "", err
	}

	id, err := parseSessionID(resp.SessionID)
	if err != nil {
		return "", errors.NewCollectorError(OpStart, http.StatusOK, err)
	}
	c.logger.Debug("session created", "session_id", id)
	return id, nil
}

// SendEvents delivers events for sessionID in a single request.
func (c *Client) SendEvents(ctx context.Context, sessionID string, events []capture.CapturedEvent) error {
	if events == nil {
		events = []capture.CapturedEvent{}
	}
	return c.do(ctx, OpEvents, http.MethodPost, sessionPath(sessionID, "events"), events, nil)
}

// FinalizeSession closes sessionID. A 2xx answer whose body reports
// success=false is treated as a rejection.
func (c *Client) FinalizeSession(ctx context.Context, sessionID string) error {
	var resp finalizeResponse
	if err := c.do(ctx, OpFinalize, http.MethodPost, sessionPath(sessionID, "finalize"), nil, &resp); err != nil {
		return err
	}
	if resp.Success != nil && !*resp.Success {
		return errors.NewCollectorError(OpFinalize, http.StatusOK,
			fmt.Errorf("%w: success=false", errors.ErrCollectorRejected))
	}
	return nil
}

// Verify asks the collector to check the signature of a finalized session.
func (c *Client) Verify(ctx context.Context, sessionID string) (*VerifyResult, error) {
	var resp VerifyResult
	if err := c.do(ctx, OpVerify, http.MethodGet, sessionPath(sessionID, "verify"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health fetches the collector's root document.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var resp HealthStatus
	if err := c.do(ctx, OpHealth, http.MethodGet, "/", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do performs one request. A non-nil body is sent as JSON; a non-nil out
// receives the decoded 2xx response. An empty 2xx body leaves out untouched.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.NewCollectorError(op, 0, fmt.Errorf("failed to marshal request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.NewCollectorError(op, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewCollectorError(op, 0, fmt.Errorf("%w: %v", errors.ErrCollectorUnavailable, err))
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("collector request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := readDetail(resp.Body)
		return errors.NewCollectorError(op, resp.StatusCode, fmt.Errorf("%w: %s", errors.ErrCollectorRejected, detail))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewCollectorError(op, resp.StatusCode, fmt.Errorf("%w: %v", errors.ErrCollectorUnavailable, err))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewCollectorError(op, resp.StatusCode, fmt.Errorf("%w: %v", errors.ErrMalformedResponse, err))
	}
	return nil
}

// parseSessionID accepts the id as a JSON string or a JSON number.
func parseSessionID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: missing session_id", errors.ErrMalformedResponse)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: %v", errors.ErrMalformedResponse, err)
		}
		if s == "" {
			return "", fmt.Errorf("%w: empty session_id", errors.ErrMalformedResponse)
		}
		return s, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("%w: session_id is neither string nor number", errors.ErrMalformedResponse)
	}
	return n.String(), nil
}

// readDetail extracts a human-readable reason from an error body. The
// collector answers errors with {"detail": ...}; anything else is returned
// as trimmed text.
func readDetail(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "empty response"
	}

	var er errorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Detail != nil {
		if s, ok := er.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(er.Detail); err == nil {
			return string(b)
		}
	}
	return text
}

func sessionPath(sessionID, action string) string {
	return "/sessions/" + url.PathEscape(sessionID) + "/" + action
}
