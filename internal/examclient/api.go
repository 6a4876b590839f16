package examclient

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
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-session/internal/model"
	wsproto "github.com/stemsi/exstem-session/internal/websocket"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAlreadySubmitted   = errors.New("submission already completed")
	ErrNotOwned           = errors.New("submission belongs to another user")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrTestNotFound       = errors.New("test not found")
	ErrTestHasNoQuestions = errors.New("test has no questions")
	ErrNotCompleted       = errors.New("submission not completed")
)

var codeErrors = map[string]error{
	"TOKEN_REQUIRED":               ErrUnauthorized,
	"TOKEN_INVALID":                ErrUnauthorized,
	"SUBMISSION_ALREADY_COMPLETED": ErrAlreadySubmitted,
	"SUBMISSION_NOT_OWNED":         ErrNotOwned,
	"SUBMISSION_NOT_FOUND":         ErrSubmissionNotFound,
	"TEST_NOT_FOUND":               ErrTestNotFound,
	"TEST_HAS_NO_QUESTIONS":        ErrTestHasNoQuestions,
	"SUBMISSION_NOT_COMPLETED":     ErrNotCompleted,
}

// APIError is a non-2xx answer from the session API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("session api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap exposes the sentinel matching the error code, if any.
func (e *APIError) Unwrap() error {
	return codeErrors[e.Code]
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

type envelope[T any] struct {
	Data  T `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// API is what an attempt needs from the server.
type API interface {
	GetSession(ctx context.Context, testID uuid.UUID) (*model.SessionEnvelope, error)
	Checkpoint(ctx context.Context, testID uuid.UUID, req model.CheckpointRequest) error
	Submit(ctx context.Context, testID uuid.UUID, req model.SubmitRequest) (*model.GradeResult, error)
	Result(ctx context.Context, testID, submissionID uuid.UUID) (*model.GradeResult, error)
}

// Client talks to the session API over HTTP.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	maxTries uint
}

// NewClient builds a client for baseURL (e.g. http://localhost:8080).
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
		maxTries: 4,
	}
}

// GetSession creates or resumes the attempt. Retries reuse one idempotency
// key so a lost response never yields a second attempt.
func (c *Client) GetSession(ctx context.Context, testID uuid.UUID) (*model.SessionEnvelope, error) {
	key := uuid.NewString()
	return do[model.SessionEnvelope](ctx, c, http.MethodGet, "/api/v1/session/"+testID.String(), nil, key)
}

// Checkpoint persists in-progress state.
func (c *Client) Checkpoint(ctx context.Context, testID uuid.UUID, req model.CheckpointRequest) error {
	_, err := do[json.RawMessage](ctx, c, http.MethodPost, "/api/v1/session/"+testID.String()+"/checkpoint", req, "")
	return err
}

// Submit finalizes the attempt.
func (c *Client) Submit(ctx context.Context, testID uuid.UUID, req model.SubmitRequest) (*model.GradeResult, error) {
	return do[model.GradeResult](ctx, c, http.MethodPost, "/api/v1/session/"+testID.String()+"/submit", req, "")
}

// Result fetches the grade of a completed attempt.
func (c *Client) Result(ctx context.Context, testID, submissionID uuid.UUID) (*model.GradeResult, error) {
	path := "/api/v1/session/" + testID.String() + "/result?submission_id=" + url.QueryEscape(submissionID.String())
	return do[model.GradeResult](ctx, c, http.MethodGet, path, nil, "")
}

func do[T any](ctx context.Context, c *Client, method, path string, body any, idemKey string) (*T, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	op := func() (*T, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept-Encoding", "br")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idemKey != "" {
			req.Header.Set("Idempotency-Key", idemKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		out, err := decode[T](resp)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Retryable() {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return out, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
}

func decode[T any](resp *http.Response) (*T, error) {
	var r io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "br" {
		r = brotli.NewReader(resp.Body)
	}

	var env envelope[T]
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 || env.Error != nil {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}
	return &env.Data, nil
}

// ─── Stream ─────────────────────────────────────────────────────────

// Reporter forwards counted violations to the server audit trail.
type Reporter interface {
	ReportViolation(ctx context.Context, submissionID uuid.UUID, kind model.ViolationKind, countAfter int) error
}

// Stream is the session WebSocket used for autosave and violation reports.
type Stream struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialStream opens the session stream for testID.
func DialStream(ctx context.Context, baseURL, token string, testID uuid.UUID) (*Stream, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws/v1/session/" + testID.String() + "/stream"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial session stream: %w", err)
	}
	s := &Stream{conn: conn}
	go s.drain()
	return s, nil
}

// drain discards acks so the server never blocks on a full socket.
func (s *Stream) drain() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) send(ctx context.Context, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteJSON(v)
}

// ReportViolation sends one violation action.
func (s *Stream) ReportViolation(ctx context.Context, submissionID uuid.UUID, kind model.ViolationKind, countAfter int) error {
	return s.send(ctx, wsproto.ViolationRequest{
		Action:       wsproto.ActionViolation,
		SubmissionID: submissionID.String(),
		Kind:         string(kind),
		CountAfter:   countAfter,
	})
}

// Autosave streams one answer ahead of the next checkpoint.
func (s *Stream) Autosave(ctx context.Context, submissionID uuid.UUID, questionID, value string) error {
	return s.send(ctx, wsproto.AutosaveRequest{
		Action:       wsproto.ActionAutosave,
		SubmissionID: submissionID.String(),
		QuestionID:   questionID,
		Value:        value,
	})
}

// Close sends a close frame and shuts the socket.
func (s *Stream) Close() error {
	s.mu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.mu.Unlock()
	return s.conn.Close()
}
