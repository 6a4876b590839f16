package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/messaging"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// expirySweepLimit caps how many abandoned attempts one sweep retires.
const expirySweepLimit = 200

// SessionOptions tunes session acquisition.
type SessionOptions struct {
	// GraceWindow is added to an EXAM deadline before an attempt is retired.
	GraceWindow time.Duration
	// IdempotencyWindow is how long a session key maps to its submission.
	IdempotencyWindow time.Duration
}

// SessionService creates, resumes and retires attempts.
type SessionService struct {
	tests  TestSource
	store  SubmissionStore
	idem   IdempotencyStore
	buffer AnswerBuffer
	events EventPublisher
	opts   SessionOptions
	now    func() time.Time
	log    zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	tests TestSource,
	store SubmissionStore,
	idem IdempotencyStore,
	buffer AnswerBuffer,
	events EventPublisher,
	opts SessionOptions,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		tests:  tests,
		store:  store,
		idem:   idem,
		buffer: buffer,
		events: events,
		opts:   opts,
		now:    time.Now,
		log:    log.With().Str("component", "session_service").Logger(),
	}
}

// Acquire returns the caller's live attempt for a test, creating one when
// none exists. An idempotency key seen within the trailing window returns
// the submission it produced before.
func (s *SessionService) Acquire(ctx context.Context, userID int, testID uuid.UUID, idempotencyKey string) (*model.SessionEnvelope, error) {
	test, err := s.tests.Get(ctx, testID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if idempotencyKey != "" {
		if sub := s.fromIdempotencyKey(ctx, userID, testID, idempotencyKey); sub != nil {
			metrics.SessionsAcquired.WithLabelValues("idempotent").Inc()
			return s.envelope(ctx, test, sub, now), nil
		}
	}

	active, err := s.store.FindActive(ctx, userID, testID)
	switch {
	case err == nil:
		if s.expired(test, active, now) {
			if err := s.retire(ctx, test, active.ID, userID, now); err != nil {
				return nil, err
			}
		} else {
			metrics.SessionsAcquired.WithLabelValues("resumed").Inc()
			return s.envelope(ctx, test, active, now), nil
		}
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, fmt.Errorf("find active submission: %w", err)
	}

	sub := &model.Submission{
		UserID:          userID,
		TestID:          testID,
		Status:          model.SubmissionStatusDoing,
		StartedAt:       now,
		TimeLeftSeconds: int(test.TotalDuration() / time.Second),
		SavedAnswers:    map[string]string{},
		Phase:           model.PhaseModule1,
	}
	outcome := "created"
	if err := s.store.Create(ctx, sub); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("create submission: %w", err)
		}
		// Concurrent create won the partial unique index.
		sub, err = s.store.FindActive(ctx, userID, testID)
		if err != nil {
			return nil, fmt.Errorf("concurrent create detected, but fetch failed: %w", err)
		}
		outcome = "raced"
	}

	if idempotencyKey != "" {
		if err := s.idem.Remember(ctx, userID, testID, idempotencyKey, sub.ID, s.opts.IdempotencyWindow); err != nil {
			s.log.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("Failed to remember idempotency key")
		}
	}

	metrics.SessionsAcquired.WithLabelValues(outcome).Inc()
	s.log.Debug().
		Int("user_id", userID).
		Str("test_id", testID.String()).
		Str("submission_id", sub.ID.String()).
		Str("outcome", outcome).
		Msg("Session acquired")
	return s.envelope(ctx, test, sub, now), nil
}

func (s *SessionService) fromIdempotencyKey(ctx context.Context, userID int, testID uuid.UUID, key string) *model.Submission {
	id, ok, err := s.idem.Lookup(ctx, userID, testID, key)
	if err != nil {
		s.log.Warn().Err(err).Msg("Idempotency lookup failed")
		return nil
	}
	if !ok {
		return nil
	}
	sub, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil
	}
	if sub.UserID != userID || sub.TestID != testID || sub.IsCompleted() {
		return nil
	}
	return sub
}

// expired reports whether an EXAM attempt has run past its deadline plus
// the grace window. PRACTICE attempts never expire.
func (s *SessionService) expired(test *model.Test, sub *model.Submission, now time.Time) bool {
	if test.Mode != model.DeliveryModeExam {
		return false
	}
	deadline := sub.StartedAt.Add(test.TotalDuration()).Add(s.opts.GraceWindow)
	return now.After(deadline)
}

func (s *SessionService) retire(ctx context.Context, test *model.Test, id uuid.UUID, userID int, now time.Time) error {
	total := test.QuestionCount()
	err := s.store.Retire(ctx, id, total, now)
	if errors.Is(err, repository.ErrNotActive) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("retire submission: %w", err)
	}

	metrics.SubmissionsRetired.Inc()
	s.log.Info().
		Str("submission_id", id.String()).
		Int("user_id", userID).
		Msg("Abandoned attempt retired")
	publishEvent(ctx, s.events, s.log, messaging.QueueSubmissionRetired, SubmissionEvent{
		SubmissionID: id,
		UserID:       userID,
		TestID:       test.ID,
		Score:        0,
		Total:        total,
		Reason:       model.TerminationExpired,
		EndTime:      now,
	})
	return nil
}

// RetireExpired retires every abandoned EXAM attempt whose deadline plus
// grace has passed. Returns the number retired.
func (s *SessionService) RetireExpired(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.store.ListExpired(ctx, now, s.opts.GraceWindow, expirySweepLimit)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	retired := 0
	for _, e := range expired {
		test, err := s.tests.Get(ctx, e.TestID)
		if err != nil {
			s.log.Warn().Err(err).Str("test_id", e.TestID.String()).Msg("Skipping expired attempt, test unavailable")
			continue
		}
		if err := s.retire(ctx, test, e.ID, e.UserID, now); err != nil {
			return retired, err
		}
		retired++
	}
	return retired, nil
}

func (s *SessionService) envelope(ctx context.Context, test *model.Test, sub *model.Submission, now time.Time) *model.SessionEnvelope {
	streamed, err := s.buffer.AutosavedAnswers(ctx, sub.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("Failed to read autosave buffer")
	}
	answers := model.OverlayAnswers(sub.SavedAnswers, streamed)

	timeLeft := sub.TimeLeftSeconds
	if test.Mode == model.DeliveryModeExam {
		remaining := sub.StartedAt.Add(test.TotalDuration()).Sub(now)
		timeLeft = max(0, int(remaining/time.Second))
	}

	phase := sub.Phase
	if !phase.Valid() {
		phase = model.PhaseModule1
	}

	return &model.SessionEnvelope{
		Test: test.ToPayload(),
		Session: model.SessionDescriptor{
			SubmissionID:         sub.ID,
			StartedAt:            sub.StartedAt,
			Status:               sub.Status,
			SavedAnswers:         answers,
			TimeLeft:             timeLeft,
			CurrentQuestionIndex: sub.CurrentQuestionIndex,
			ViolationCount:       sub.ViolationCount,
			Phase:                phase,
			Module2StartedAt:     sub.Module2StartedAt,
			ServerTime:           now,
		},
	}
}
