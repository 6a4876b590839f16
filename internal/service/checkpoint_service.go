package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// CheckpointService persists in-progress attempt state.
type CheckpointService struct {
	store  SubmissionStore
	buffer AnswerBuffer
	log    zerolog.Logger
}

// NewCheckpointService creates a new CheckpointService.
func NewCheckpointService(store SubmissionStore, buffer AnswerBuffer, log zerolog.Logger) *CheckpointService {
	return &CheckpointService{
		store:  store,
		buffer: buffer,
		log:    log.With().Str("component", "checkpoint_service").Logger(),
	}
}

// Save writes a snapshot of the caller's DOING submission. The write is a
// single conditional update, so it cannot land after a concurrent submit.
func (s *CheckpointService) Save(ctx context.Context, userID int, testID uuid.UUID, req model.CheckpointRequest) error {
	err := s.store.SaveCheckpoint(ctx, repository.CheckpointUpdate{
		SubmissionID:         req.SubmissionID,
		UserID:               userID,
		TestID:               testID,
		Answers:              req.Answers,
		TimeLeftSeconds:      req.TimeLeft,
		CurrentQuestionIndex: req.CurrentQuestionIndex,
		ViolationCount:       req.ViolationCount,
		Phase:                req.Phase,
		Module2StartedAt:     req.Module2StartedAt,
	})
	if err != nil {
		metrics.Checkpoints.WithLabelValues("rejected").Inc()
		if errors.Is(err, repository.ErrNotActive) {
			return classifyRejection(ctx, s.store, userID, testID, req.SubmissionID)
		}
		return fmt.Errorf("save checkpoint: %w", err)
	}

	// The checkpoint is a full snapshot; streamed answers before it are superseded.
	if err := s.buffer.ClearAnswers(ctx, req.SubmissionID); err != nil {
		s.log.Warn().Err(err).Str("submission_id", req.SubmissionID.String()).Msg("Failed to clear autosave buffer")
	}

	metrics.Checkpoints.WithLabelValues("saved").Inc()
	return nil
}

// classifyRejection explains why a conditional write on a submission
// matched no row.
func classifyRejection(ctx context.Context, store SubmissionStore, userID int, testID, submissionID uuid.UUID) error {
	sub, err := store.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSubmissionNotFound
		}
		return fmt.Errorf("get submission: %w", err)
	}
	switch {
	case sub.UserID != userID:
		return ErrSubmissionNotOwned
	case sub.TestID != testID:
		return ErrSubmissionTestMismatch
	default:
		return ErrSubmissionCompleted
	}
}
