package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
)

// IdempotencyRepository maps client-supplied session keys to the submission
// they produced, for a short trailing window.
type IdempotencyRepository struct {
	rdb *redis.Client
}

// NewIdempotencyRepository creates a new IdempotencyRepository.
func NewIdempotencyRepository(rdb *redis.Client) *IdempotencyRepository {
	return &IdempotencyRepository{rdb: rdb}
}

// Lookup returns the submission remembered for the key, if any.
func (r *IdempotencyRepository) Lookup(ctx context.Context, userID int, testID uuid.UUID, key string) (uuid.UUID, bool, error) {
	val, err := r.rdb.Get(ctx, config.CacheKey.IdempotencyKey(userID, testID.String(), key)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("invalid submission id in cache: %w", err)
	}
	return id, true, nil
}

// Remember stores the mapping unless one already exists.
func (r *IdempotencyRepository) Remember(ctx context.Context, userID int, testID uuid.UUID, key string, submissionID uuid.UUID, ttl time.Duration) error {
	return r.rdb.SetNX(ctx, config.CacheKey.IdempotencyKey(userID, testID.String(), key), submissionID.String(), ttl).Err()
}
