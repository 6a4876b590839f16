package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/messaging"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// GradingService grades and seals submissions exactly once.
type GradingService struct {
	tests  TestSource
	store  SubmissionStore
	buffer AnswerBuffer
	events EventPublisher
	now    func() time.Time
	log    zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(tests TestSource, store SubmissionStore, buffer AnswerBuffer, events EventPublisher, log zerolog.Logger) *GradingService {
	return &GradingService{
		tests:  tests,
		store:  store,
		buffer: buffer,
		events: events,
		now:    time.Now,
		log:    log.With().Str("component", "grading_service").Logger(),
	}
}

// Submit grades the caller's DOING submission and completes it. Of two
// concurrent submits exactly one succeeds; the other gets ErrSubmissionCompleted.
func (s *GradingService) Submit(ctx context.Context, userID int, testID uuid.UUID, req model.SubmitRequest) (*model.GradeResult, error) {
	start := time.Now()

	sub, err := s.owned(ctx, userID, testID, req.SubmissionID)
	if err != nil {
		return nil, err
	}
	if sub.IsCompleted() {
		return nil, ErrSubmissionCompleted
	}

	test, err := s.tests.Get(ctx, testID)
	if err != nil {
		return nil, err
	}

	answers := req.Answers
	if answers == nil {
		answers = s.storedAnswers(ctx, sub)
	}

	reason := req.Reason
	if reason == "" {
		reason = model.TerminationSubmitted
	}

	score, details, graded := Grade(test, sub.ID, answers)
	total := len(details)
	endTime := s.now()

	err = s.store.Finalize(ctx, repository.Finalization{
		SubmissionID:   sub.ID,
		UserID:         userID,
		Answers:        answers,
		ViolationCount: max(req.ViolationCount, sub.ViolationCount),
		Score:          score,
		Total:          total,
		Reason:         reason,
		EndTime:        endTime,
		Graded:         graded,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotActive) {
			return nil, ErrSubmissionCompleted
		}
		return nil, fmt.Errorf("finalize submission: %w", err)
	}

	if err := s.buffer.ClearAnswers(ctx, sub.ID); err != nil {
		s.log.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("Failed to clear autosave buffer")
	}
	publishEvent(ctx, s.events, s.log, messaging.QueueSubmissionCompleted, SubmissionEvent{
		SubmissionID: sub.ID,
		UserID:       userID,
		TestID:       testID,
		Score:        score,
		Total:        total,
		Reason:       reason,
		EndTime:      endTime,
	})

	metrics.SubmissionsGraded.WithLabelValues(string(reason)).Inc()
	metrics.GradingDuration.Observe(time.Since(start).Seconds())
	if total > 0 {
		metrics.GradeRatio.Observe(float64(score) / float64(total))
	}

	s.log.Info().
		Str("submission_id", sub.ID.String()).
		Int("user_id", userID).
		Int("score", score).
		Int("total", total).
		Str("reason", string(reason)).
		Msg("Submission graded")

	return &model.GradeResult{
		SubmissionID: sub.ID,
		Score:        score,
		Total:        total,
		Reason:       reason,
		Details:      details,
	}, nil
}

// Result rebuilds the grade of a COMPLETED submission from its stored answers.
func (s *GradingService) Result(ctx context.Context, userID int, testID, submissionID uuid.UUID) (*model.GradeResult, error) {
	sub, err := s.owned(ctx, userID, testID, submissionID)
	if err != nil {
		return nil, err
	}
	if !sub.IsCompleted() {
		return nil, ErrSubmissionInProgress
	}

	test, err := s.tests.Get(ctx, testID)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.ListAnswers(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	byQuestion := make(map[uuid.UUID]model.Answer, len(stored))
	for _, a := range stored {
		byQuestion[a.QuestionID] = a
	}

	details := make([]model.QuestionDetail, 0, test.QuestionCount())
	score := 0
	for _, sec := range test.Sections {
		for _, q := range sec.Questions {
			d := model.QuestionDetail{QuestionID: q.ID, CorrectOption: q.CorrectAnswer}
			if a, ok := byQuestion[q.ID]; ok {
				d.IsCorrect = a.IsCorrect
				d.UserSelected = a.SelectedValue
			}
			if d.IsCorrect {
				score++
			}
			details = append(details, d)
		}
	}

	result := &model.GradeResult{
		SubmissionID: sub.ID,
		Score:        score,
		Total:        len(details),
		Details:      details,
	}
	if sub.Score != nil {
		result.Score = *sub.Score
	}
	if sub.Total != nil {
		result.Total = *sub.Total
	}
	if sub.TerminationReason != nil {
		result.Reason = *sub.TerminationReason
	}
	return result, nil
}

// owned loads a submission and checks it belongs to the caller and test.
func (s *GradingService) owned(ctx context.Context, userID int, testID, submissionID uuid.UUID) (*model.Submission, error) {
	sub, err := s.store.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if sub.UserID != userID {
		return nil, ErrSubmissionNotOwned
	}
	if sub.TestID != testID {
		return nil, ErrSubmissionTestMismatch
	}
	return sub, nil
}

func (s *GradingService) storedAnswers(ctx context.Context, sub *model.Submission) map[string]string {
	streamed, err := s.buffer.AutosavedAnswers(ctx, sub.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("Failed to read autosave buffer")
	}
	return model.OverlayAnswers(sub.SavedAnswers, streamed)
}

// Grade compares every question of every section, in test order, against
// the supplied answers. Unanswered questions are incorrect with a nil
// selection.
func Grade(test *model.Test, submissionID uuid.UUID, answers map[string]string) (int, []model.QuestionDetail, []model.Answer) {
	n := test.QuestionCount()
	details := make([]model.QuestionDetail, 0, n)
	graded := make([]model.Answer, 0, n)
	score := 0

	for _, sec := range test.Sections {
		for _, q := range sec.Questions {
			var selected *string
			if v, ok := answers[q.ID.String()]; ok && strings.TrimSpace(v) != "" {
				selected = &v
			}
			correct := selected != nil && matches(q.QuestionType, *selected, q.CorrectAnswer)
			if correct {
				score++
			}
			details = append(details, model.QuestionDetail{
				QuestionID:    q.ID,
				IsCorrect:     correct,
				UserSelected:  selected,
				CorrectOption: q.CorrectAnswer,
			})
			graded = append(graded, model.Answer{
				SubmissionID:  submissionID,
				QuestionID:    q.ID,
				SelectedValue: selected,
				IsCorrect:     correct,
			})
		}
	}
	return score, details, graded
}

// matches compares a student answer to the key. Constructed responses
// ignore surrounding whitespace and letter case.
func matches(qt model.QuestionType, selected, key string) bool {
	if qt == model.QuestionTypeSPR {
		return strings.EqualFold(strings.TrimSpace(selected), strings.TrimSpace(key))
	}
	return selected == key
}
