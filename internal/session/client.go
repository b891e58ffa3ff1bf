package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/andrewmoshu/live-transcribe/internal/metrics"
	"github.com/andrewmoshu/live-transcribe/internal/protocol"
)

// ErrUnauthorized indicates the backend rejected the request with 401.
// The client re-authenticates through its Authenticator and retries the
// original request once before surfacing this error.
var ErrUnauthorized = fmt.Errorf("backend rejected request: unauthorized")

// ErrRequestFailed is the generic backend failure. Wrapped errors carry
// the status code; operations are not retried automatically.
var ErrRequestFailed = fmt.Errorf("backend request failed")

// Authenticator re-establishes backend credentials after a 401. It blocks
// until authentication completes or fails.
type Authenticator func(ctx context.Context) error

// ClientConfig configures the session management client
type ClientConfig struct {
	// APIURL is the backend base URL, e.g. http://localhost:8000/api
	APIURL string

	// RequestTimeout bounds each HTTP request
	RequestTimeout time.Duration
}

// Session is the client-side view of a transcription session
type Session struct {
	ID        string    `json:"session_id"`
	OwnerID   string    `json:"owner_id"`
	IsActive  bool      `json:"is_active"`
	IsShared  bool      `json:"is_shared"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TranscriptInfo is one entry in the stored transcript listing
type TranscriptInfo struct {
	SessionID  string `json:"session_id"`
	Title      string `json:"title,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// AudioSummary carries the session audio returned for summarization
type AudioSummary struct {
	SessionID string `json:"session_id"`
	AudioData string `json:"audio_data"` // base64 PCM
}

// Client performs session management calls against the backend HTTP API.
// A 401 response triggers the Authenticator and one retry of the original
// request; all other failures surface immediately.
type Client struct {
	config     ClientConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics
	httpClient *http.Client
	auth       Authenticator
}

// NewClient creates a session management client. auth may be nil, in
// which case 401 responses surface as ErrUnauthorized without retry.
func NewClient(config ClientConfig, logger *slog.Logger, m *metrics.Metrics, auth Authenticator) (*Client, error) {
	if config.APIURL == "" {
		return nil, fmt.Errorf("API URL cannot be empty")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}

	return &Client{
		config:  config,
		logger:  logger,
		metrics: m,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}, nil
}

// CreateSession creates a new session owned by ownerID
func (c *Client) CreateSession(ctx context.Context, ownerID string) (*Session, error) {
	body := map[string]string{}
	if ownerID != "" {
		body["owner_id"] = ownerID
	}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/sessions", body, &session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if session.OwnerID == "" {
		session.OwnerID = ownerID
	}
	return &session, nil
}

// StartSession enables server-side recording for the session
func (c *Client) StartSession(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/sessions/%s/start", url.PathEscape(sessionID))
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("failed to start session %s: %w", sessionID, err)
	}
	return nil
}

// StopSession disables server-side recording; the session persists
func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/sessions/%s/stop", url.PathEscape(sessionID))
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("failed to stop session %s: %w", sessionID, err)
	}
	return nil
}

// DeleteSession ends the session server-side
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/sessions/%s", url.PathEscape(sessionID))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// ResumeSession authorizes resuming the session for the given owner. The
// actual session state arrives later over the event socket.
func (c *Client) ResumeSession(ctx context.Context, sessionID, ownerID string) (*protocol.SessionState, error) {
	path := fmt.Sprintf("/sessions/%s/resume", url.PathEscape(sessionID))
	body := map[string]string{"owner_id": ownerID}

	var response struct {
		SessionState protocol.SessionState `json:"session_state"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, &response); err != nil {
		return nil, fmt.Errorf("failed to resume session %s: %w", sessionID, err)
	}

	return &response.SessionState, nil
}

// EnableSharing makes the session joinable by non-owners
func (c *Client) EnableSharing(ctx context.Context, sessionID string) (*protocol.SharedSessionInfo, error) {
	path := fmt.Sprintf("/sessions/%s/share", url.PathEscape(sessionID))

	var info protocol.SharedSessionInfo
	if err := c.do(ctx, http.MethodPost, path, nil, &info); err != nil {
		return nil, fmt.Errorf("failed to enable sharing for session %s: %w", sessionID, err)
	}
	return &info, nil
}

// DisableSharing revokes shared access to the session
func (c *Client) DisableSharing(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/sessions/%s/share", url.PathEscape(sessionID))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to disable sharing for session %s: %w", sessionID, err)
	}
	return nil
}

// FindResumableSession looks up an in-progress session owned by ownerID.
// Returns (nil, nil) when no resumable session exists.
func (c *Client) FindResumableSession(ctx context.Context, ownerID string) (*protocol.SessionState, error) {
	path := fmt.Sprintf("/sessions/owner/%s/resumable", url.PathEscape(ownerID))

	var state protocol.SessionState
	err := c.do(ctx, http.MethodGet, path, nil, &state)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up resumable session: %w", err)
	}

	if state.SessionID == "" {
		return nil, nil
	}
	return &state, nil
}

// GetAudioSummary fetches the session audio for summarization
func (c *Client) GetAudioSummary(ctx context.Context, sessionID, ownerID string) (*AudioSummary, error) {
	path := fmt.Sprintf("/sessions/%s/audio-summary?owner_id=%s",
		url.PathEscape(sessionID), url.QueryEscape(ownerID))

	var summary AudioSummary
	if err := c.do(ctx, http.MethodGet, path, nil, &summary); err != nil {
		return nil, fmt.Errorf("failed to fetch audio summary for session %s: %w", sessionID, err)
	}
	return &summary, nil
}

// ListTranscripts fetches stored transcripts for the owner
func (c *Client) ListTranscripts(ctx context.Context, ownerID string) ([]TranscriptInfo, error) {
	path := "/transcripts?owner_id=" + url.QueryEscape(ownerID)

	var transcripts []TranscriptInfo
	if err := c.do(ctx, http.MethodGet, path, nil, &transcripts); err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	return transcripts, nil
}

// Health probes backend availability. Used as the manual reconnect check
// after automatic reconnection gives up.
func (c *Client) Health(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return fmt.Errorf("backend health check failed: %w", err)
	}
	return nil
}

// do performs one request with the 401 re-authentication retry
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	err := c.doOnce(ctx, method, path, body, out)
	if err == nil || !errors.Is(err, ErrUnauthorized) || c.auth == nil {
		return err
	}

	c.logger.Info("Request unauthorized, re-authenticating",
		slog.String("method", method),
		slog.String("path", path),
	)
	if authErr := c.auth(ctx); authErr != nil {
		return fmt.Errorf("re-authentication failed: %w", authErr)
	}

	return c.doOnce(ctx, method, path, body, out)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.APIURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordAPIError(method, path, "network")
		}
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.RecordAPIRequest(method, path, strconv.Itoa(resp.StatusCode), duration)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, msg: string(msg)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// statusError carries the HTTP status of a failed request and matches
// ErrRequestFailed under errors.Is
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend request failed: status %d: %s", e.code, e.msg)
}

func (e *statusError) Unwrap() error {
	return ErrRequestFailed
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}
