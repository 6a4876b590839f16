package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// HeaderIdempotencyKey lets a client retry session acquisition without
// creating a second attempt.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

// SessionAcquirer is implemented by service.SessionService.
type SessionAcquirer interface {
	Acquire(ctx context.Context, userID int, testID uuid.UUID, idempotencyKey string) (*model.SessionEnvelope, error)
}

// CheckpointSaver is implemented by service.CheckpointService.
type CheckpointSaver interface {
	Save(ctx context.Context, userID int, testID uuid.UUID, req model.CheckpointRequest) error
}

// Grader is implemented by service.GradingService.
type Grader interface {
	Submit(ctx context.Context, userID int, testID uuid.UUID, req model.SubmitRequest) (*model.GradeResult, error)
	Result(ctx context.Context, userID int, testID, submissionID uuid.UUID) (*model.GradeResult, error)
}

// SessionHandler serves the attempt lifecycle endpoints.
type SessionHandler struct {
	sessions    SessionAcquirer
	checkpoints CheckpointSaver
	grader      Grader
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions SessionAcquirer, checkpoints CheckpointSaver, grader Grader) *SessionHandler {
	return &SessionHandler{
		sessions:    sessions,
		checkpoints: checkpoints,
		grader:      grader,
	}
}

// GetSession godoc
// GET /api/v1/session/:test_id
// Returns the test payload and the caller's live attempt, creating it if needed.
func (h *SessionHandler) GetSession(c *gin.Context) {
	claims, testID, ok := h.scope(c)
	if !ok {
		return
	}

	key := c.GetHeader(HeaderIdempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{HeaderIdempotencyKey: "too long"})
		return
	}

	envelope, err := h.sessions.Acquire(c.Request.Context(), claims.UserID, testID, key)
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, envelope)
}

// SaveCheckpoint godoc
// POST /api/v1/session/:test_id/checkpoint
// Persists in-progress state of a DOING attempt.
func (h *SessionHandler) SaveCheckpoint(c *gin.Context) {
	claims, testID, ok := h.scope(c)
	if !ok {
		return
	}

	var req model.CheckpointRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.checkpoints.Save(c.Request.Context(), claims.UserID, testID, req); err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"success": true})
}

// Submit godoc
// POST /api/v1/session/:test_id/submit
// Grades and completes the attempt.
func (h *SessionHandler) Submit(c *gin.Context) {
	claims, testID, ok := h.scope(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.grader.Submit(c.Request.Context(), claims.UserID, testID, req)
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GetResult godoc
// GET /api/v1/session/:test_id/result?submission_id=
// Returns the stored grade of a completed attempt.
func (h *SessionHandler) GetResult(c *gin.Context) {
	claims, testID, ok := h.scope(c)
	if !ok {
		return
	}

	submissionID, err := uuid.Parse(c.Query("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.grader.Result(c.Request.Context(), claims.UserID, testID, submissionID)
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

func (h *SessionHandler) scope(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}
	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, testID, true
}

// failService maps a service error to its status and code.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTestNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrTestNotFound)
	case errors.Is(err, service.ErrTestHasNoQuestions):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrTestHasNoQuestions)
	case errors.Is(err, service.ErrSubmissionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSubmissionNotFound)
	case errors.Is(err, service.ErrSubmissionNotOwned):
		response.Fail(c, http.StatusForbidden, response.ErrSubmissionNotOwned)
	case errors.Is(err, service.ErrSubmissionTestMismatch):
		response.Fail(c, http.StatusConflict, response.ErrSubmissionTestMismatch)
	case errors.Is(err, service.ErrSubmissionCompleted):
		response.Fail(c, http.StatusConflict, response.ErrSubmissionCompleted)
	case errors.Is(err, service.ErrSubmissionInProgress):
		response.Fail(c, http.StatusConflict, response.ErrSubmissionInProgress)
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
