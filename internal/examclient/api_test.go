package examclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	auth   string
	idem   string
	body   map[string]any
}

type fakeServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	handle   func(w http.ResponseWriter, r *http.Request, n int)
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	s.requests = append(s.requests, recordedRequest{
		method: r.Method,
		path:   r.URL.Path,
		query:  r.URL.RawQuery,
		auth:   r.Header.Get("Authorization"),
		idem:   r.Header.Get("Idempotency-Key"),
		body:   body,
	})
	n := len(s.requests)
	s.mu.Unlock()

	s.handle(w, r, n)
}

func writeEnvelope(w http.ResponseWriter, status int, data any, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := map[string]any{"data": data, "metadata": map[string]string{"request_id": "r"}}
	if code != "" {
		env["data"] = nil
		env["error"] = map[string]string{"code": code, "message": "nope"}
	}
	_ = json.NewEncoder(w).Encode(env)
}

func TestClient_GetSession_RetriesWithSameKey(t *testing.T) {
	subID := uuid.New()
	srv := &fakeServer{handle: func(w http.ResponseWriter, r *http.Request, n int) {
		if n == 1 {
			writeEnvelope(w, http.StatusServiceUnavailable, nil, "INTERNAL_ERROR")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_ = json.NewEncoder(bw).Encode(map[string]any{
			"data": model.SessionEnvelope{Session: model.SessionDescriptor{SubmissionID: subID, Phase: model.PhaseModule1}},
		})
		_ = bw.Close()
	}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	testID := uuid.New()
	env, err := NewClient(ts.URL+"/", "tok").GetSession(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, subID, env.Session.SubmissionID)

	require.Len(t, srv.requests, 2)
	for _, r := range srv.requests {
		assert.Equal(t, "/api/v1/session/"+testID.String(), r.path)
		assert.Equal(t, "Bearer tok", r.auth)
	}
	assert.NotEmpty(t, srv.requests[0].idem)
	assert.Equal(t, srv.requests[0].idem, srv.requests[1].idem)
}

func TestClient_PermanentErrors(t *testing.T) {
	tests := []struct {
		code     string
		status   int
		expected error
	}{
		{code: "SUBMISSION_ALREADY_COMPLETED", status: http.StatusConflict, expected: ErrAlreadySubmitted},
		{code: "SUBMISSION_NOT_OWNED", status: http.StatusForbidden, expected: ErrNotOwned},
		{code: "TOKEN_INVALID", status: http.StatusUnauthorized, expected: ErrUnauthorized},
		{code: "SUBMISSION_NOT_FOUND", status: http.StatusNotFound, expected: ErrSubmissionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			srv := &fakeServer{handle: func(w http.ResponseWriter, _ *http.Request, _ int) {
				writeEnvelope(w, tt.status, nil, tt.code)
			}}
			ts := httptest.NewServer(srv)
			defer ts.Close()

			_, err := NewClient(ts.URL, "tok").Submit(context.Background(), uuid.New(), model.SubmitRequest{SubmissionID: uuid.New()})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expected)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Len(t, srv.requests, 1, "client errors are not retried")
		})
	}
}

func TestClient_CheckpointAndResult(t *testing.T) {
	subID := uuid.New()
	srv := &fakeServer{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		if r.Method == http.MethodPost {
			writeEnvelope(w, http.StatusOK, map[string]bool{"success": true}, "")
			return
		}
		writeEnvelope(w, http.StatusOK, model.GradeResult{SubmissionID: subID, Score: 5, Total: 9}, "")
	}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := NewClient(ts.URL, "tok")
	testID := uuid.New()
	require.NoError(t, c.Checkpoint(context.Background(), testID, model.CheckpointRequest{
		SubmissionID: subID,
		Answers:      map[string]string{"q1": "A"},
		TimeLeft:     90,
		Phase:        model.PhaseReview1,
	}))
	res, err := c.Result(context.Background(), testID, subID)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Score)

	require.Len(t, srv.requests, 2)
	cp := srv.requests[0]
	assert.Equal(t, "/api/v1/session/"+testID.String()+"/checkpoint", cp.path)
	assert.Equal(t, subID.String(), cp.body["submissionId"])
	assert.Equal(t, "REVIEW_1", cp.body["phase"])
	assert.Empty(t, cp.idem)
	assert.Equal(t, "submission_id="+subID.String(), srv.requests[1].query)
}
