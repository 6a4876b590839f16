package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// StreamRepository buffers WebSocket traffic in Redis until workers persist it.
type StreamRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStreamRepository creates a new StreamRepository. Autosave hashes expire
// ttl after their last write.
func NewStreamRepository(rdb *redis.Client, ttl time.Duration) *StreamRepository {
	return &StreamRepository{rdb: rdb, ttl: ttl}
}

// SaveAnswer records the answer in the submission's autosave hash and queues
// it. An empty value is kept in the hash as a cleared answer.
func (r *StreamRepository) SaveAnswer(ctx context.Context, ev model.AutosaveEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal autosave: %w", err)
	}
	key := config.CacheKey.SubmissionAutosaveKey(ev.SubmissionID)
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, key, ev.QuestionID, ev.Value)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	pipe.RPush(ctx, config.WorkerKey.PersistAutosaveQueue, data)
	_, err = pipe.Exec(ctx)
	return err
}

// AutosavedAnswers returns answers streamed but possibly not yet persisted.
func (r *StreamRepository) AutosavedAnswers(ctx context.Context, submissionID uuid.UUID) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, config.CacheKey.SubmissionAutosaveKey(submissionID.String())).Result()
}

// ClearAnswers drops the autosave hash of a sealed submission.
func (r *StreamRepository) ClearAnswers(ctx context.Context, submissionID uuid.UUID) error {
	return r.rdb.Del(ctx, config.CacheKey.SubmissionAutosaveKey(submissionID.String())).Err()
}

// RecordViolation queues a violation for the audit trail.
func (r *StreamRepository) RecordViolation(ctx context.Context, ev model.ViolationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	return r.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err()
}
