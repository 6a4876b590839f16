package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
)

const (
	autosavePollTimeout = time.Second
	autosaveRetryDelay  = 5 * time.Second
)

// AutosaveMerger folds streamed answers into a DOING submission.
// Implemented by repository.SubmissionRepository.
type AutosaveMerger interface {
	MergeAutosave(ctx context.Context, id uuid.UUID, answers map[string]string, streamedAt time.Time) error
}

// AutosaveWorker consumes the autosave queue and merges answers into
// submissions.saved_answers.
type AutosaveWorker struct {
	merger AutosaveMerger
	rdb    *redis.Client
	log    zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(merger AutosaveMerger, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		merger: merger,
		rdb:    rdb,
		log:    log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start runs the worker loop until ctx is done, then drains the queue.
func (w *AutosaveWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return nil
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, autosavePollTimeout, config.WorkerKey.PersistAutosaveQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			time.Sleep(time.Second)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if err := w.persist(ctx, result[1]); err != nil {
		w.log.Error().Err(err).Msg("Persist error, retrying in 5s")
		w.rdb.RPush(ctx, config.WorkerKey.PersistAutosaveQueue, result[1])
		metrics.WorkerRequeued.WithLabelValues("autosave").Inc()
		time.Sleep(autosaveRetryDelay)
	}
}

// persist merges one queued answer. Malformed items are logged and dropped.
func (w *AutosaveWorker) persist(ctx context.Context, raw string) error {
	var ev model.AutosaveEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed autosave")
		return nil
	}
	submissionID, err := uuid.Parse(ev.SubmissionID)
	if err != nil {
		w.log.Error().Str("submission_id", ev.SubmissionID).Msg("Discarding autosave with invalid UUID")
		return nil
	}

	err = w.merger.MergeAutosave(ctx, submissionID,
		map[string]string{ev.QuestionID: ev.Value},
		time.UnixMilli(ev.Timestamp),
	)
	if err != nil {
		return err
	}
	metrics.WorkerPersisted.WithLabelValues("autosave").Inc()
	return nil
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAutosaveQueue).Result()
		if err != nil {
			break
		}
		if err := w.persist(ctx, raw); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistAutosaveQueue, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
