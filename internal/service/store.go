package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// SubmissionStore is the durable session store. Implemented by
// repository.SubmissionRepository.
type SubmissionStore interface {
	FindActive(ctx context.Context, userID int, testID uuid.UUID) (*model.Submission, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	Create(ctx context.Context, s *model.Submission) error
	Retire(ctx context.Context, id uuid.UUID, total int, at time.Time) error
	SaveCheckpoint(ctx context.Context, cp repository.CheckpointUpdate) error
	Finalize(ctx context.Context, f repository.Finalization) error
	ListAnswers(ctx context.Context, submissionID uuid.UUID) ([]model.Answer, error)
	ListExpired(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]repository.ExpiredSubmission, error)
}

// TestLoader reads a full test definition from the database.
type TestLoader interface {
	GetWithQuestions(ctx context.Context, testID uuid.UUID) (*model.Test, error)
}

// TestCache is the Redis fast lane for test content.
type TestCache interface {
	GetPayload(ctx context.Context, testID uuid.UUID) (*model.TestPayload, error)
	GetAnswerKey(ctx context.Context, testID uuid.UUID) (map[string]string, error)
	Put(ctx context.Context, test *model.Test) error
}

// TestSource resolves a test with its answer keys.
type TestSource interface {
	Get(ctx context.Context, testID uuid.UUID) (*model.Test, error)
}

// IdempotencyStore remembers which submission a session key produced.
type IdempotencyStore interface {
	Lookup(ctx context.Context, userID int, testID uuid.UUID, key string) (uuid.UUID, bool, error)
	Remember(ctx context.Context, userID int, testID uuid.UUID, key string, submissionID uuid.UUID, ttl time.Duration) error
}

// AnswerBuffer holds answers streamed over the WebSocket ahead of persistence.
type AnswerBuffer interface {
	AutosavedAnswers(ctx context.Context, submissionID uuid.UUID) (map[string]string, error)
	ClearAnswers(ctx context.Context, submissionID uuid.UUID) error
}

// EventPublisher delivers lifecycle events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}
