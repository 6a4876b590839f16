package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// TestCacheRepository keeps the student payload and answer key of a test in Redis.
type TestCacheRepository struct {
	rdb *redis.Client
}

// NewTestCacheRepository creates a new TestCacheRepository.
func NewTestCacheRepository(rdb *redis.Client) *TestCacheRepository {
	return &TestCacheRepository{rdb: rdb}
}

// GetPayload returns the cached payload. Returns redis.Nil on a miss.
func (r *TestCacheRepository) GetPayload(ctx context.Context, testID uuid.UUID) (*model.TestPayload, error) {
	data, err := r.rdb.Get(ctx, config.CacheKey.TestPayloadKey(testID.String())).Bytes()
	if err != nil {
		return nil, err
	}
	var payload model.TestPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}

// GetAnswerKey returns question id → correct answer. Returns redis.Nil when
// the hash is absent.
func (r *TestCacheRepository) GetAnswerKey(ctx context.Context, testID uuid.UUID) (map[string]string, error) {
	result, err := r.rdb.HGetAll(ctx, config.CacheKey.TestAnswerKey(testID.String())).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, redis.Nil
	}
	return result, nil
}

// Put caches payload and answer key atomically.
func (r *TestCacheRepository) Put(ctx context.Context, test *model.Test) error {
	payloadJSON, err := json.Marshal(test.ToPayload())
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	answerKey := make(map[string]any, test.QuestionCount())
	for _, s := range test.Sections {
		for _, q := range s.Questions {
			answerKey[q.ID.String()] = q.CorrectAnswer
		}
	}

	keyHash := config.CacheKey.TestAnswerKey(test.ID.String())
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.TestPayloadKey(test.ID.String()), payloadJSON, 0)
	pipe.Del(ctx, keyHash)
	if len(answerKey) > 0 {
		pipe.HSet(ctx, keyHash, answerKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}
	return nil
}
