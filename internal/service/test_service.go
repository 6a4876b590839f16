package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// TestService resolves tests through the Redis cache, falling back to
// PostgreSQL and re-warming the cache on a miss.
type TestService struct {
	loader TestLoader
	cache  TestCache
	log    zerolog.Logger
}

// NewTestService creates a new TestService.
func NewTestService(loader TestLoader, cache TestCache, log zerolog.Logger) *TestService {
	return &TestService{
		loader: loader,
		cache:  cache,
		log:    log.With().Str("component", "test_service").Logger(),
	}
}

// Get returns the test with its answer keys. Tests without any question are
// rejected with ErrTestHasNoQuestions.
func (s *TestService) Get(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	test, err := s.fromCache(ctx, testID)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Cache read failed, falling back to database")
		}
		test, err = s.loader.GetWithQuestions(ctx, testID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrTestNotFound
			}
			return nil, fmt.Errorf("load test: %w", err)
		}
		if len(test.Sections) > 0 && test.QuestionCount() > 0 {
			if err := s.cache.Put(ctx, test); err != nil {
				s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Failed to warm test cache")
			}
		}
	}

	if len(test.Sections) == 0 || test.QuestionCount() == 0 {
		return nil, ErrTestHasNoQuestions
	}
	return test, nil
}

// fromCache rebuilds a test from the cached payload and answer key. A key
// missing for any question is reported as a miss.
func (s *TestService) fromCache(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	payload, err := s.cache.GetPayload(ctx, testID)
	if err != nil {
		return nil, err
	}
	keys, err := s.cache.GetAnswerKey(ctx, testID)
	if err != nil {
		return nil, err
	}

	test := &model.Test{
		ID:       payload.TestID,
		Title:    payload.Title,
		Mode:     payload.Mode,
		Sections: make([]model.Section, len(payload.Sections)),
	}
	for i, sec := range payload.Sections {
		qs := make([]model.Question, len(sec.Questions))
		for j, q := range sec.Questions {
			key, ok := keys[q.ID.String()]
			if !ok {
				return nil, redis.Nil
			}
			qs[j] = model.Question{
				ID:            q.ID,
				SectionID:     sec.ID,
				QuestionType:  q.QuestionType,
				Content:       q.Content,
				CorrectAnswer: key,
				OrderNum:      q.OrderNum,
			}
		}
		test.Sections[i] = model.Section{
			ID:              sec.ID,
			TestID:          payload.TestID,
			Title:           sec.Title,
			OrderNum:        sec.OrderNum,
			DurationMinutes: sec.DurationMinutes,
			Questions:       qs,
		}
	}
	return test, nil
}
