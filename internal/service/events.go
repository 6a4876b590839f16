package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// SubmissionEvent is published when an attempt reaches COMPLETED.
type SubmissionEvent struct {
	SubmissionID uuid.UUID               `json:"submission_id"`
	UserID       int                     `json:"user_id"`
	TestID       uuid.UUID               `json:"test_id"`
	Score        int                     `json:"score"`
	Total        int                     `json:"total"`
	Reason       model.TerminationReason `json:"reason"`
	EndTime      time.Time               `json:"end_time"`
}

// publishEvent is best effort: a broker outage never fails a completed write.
func publishEvent(ctx context.Context, pub EventPublisher, log zerolog.Logger, queue string, ev SubmissionEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Marshal event")
		return
	}
	if err := pub.Publish(ctx, queue, body); err != nil {
		log.Warn().Err(err).
			Str("queue", queue).
			Str("submission_id", ev.SubmissionID.String()).
			Msg("Failed to publish event")
	}
}
