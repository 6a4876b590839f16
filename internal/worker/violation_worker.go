package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Redis BLPOP granularity is one second
)

// ViolationWorker batches queued violations into submission_violations.
type ViolationWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewViolationWorker creates a new ViolationWorker.
func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "violation_worker").Logger(),
	}
}

type violationRow struct {
	submissionID uuid.UUID
	ev           model.ViolationEvent
}

// Start runs the worker loop until ctx is done, then flushes the buffer.
func (w *ViolationWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Worker started")

	buffer := make([]violationRow, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return nil
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		row, ok := w.decode(result[1])
		if ok {
			buffer = append(buffer, row)
		}
	}
}

// decode parses a queue item. Malformed items cannot be retried and are dropped.
func (w *ViolationWorker) decode(raw string) (violationRow, bool) {
	var ev model.ViolationEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed JSON")
		return violationRow{}, false
	}
	id, err := uuid.Parse(ev.SubmissionID)
	if err != nil {
		w.log.Error().Str("submission_id", ev.SubmissionID).Msg("Discarding violation with invalid UUID")
		return violationRow{}, false
	}
	return violationRow{submissionID: id, ev: ev}, true
}

// flushSafe attempts a bulk COPY, then row-by-row inserts, then requeue.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []violationRow) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	metrics.WorkerPersisted.WithLabelValues("violation").Add(float64(len(batch)))
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []violationRow) error {
	rows := make([][]any, 0, len(batch))
	for _, r := range batch {
		rows = append(rows, []any{
			r.submissionID, r.ev.UserID, string(r.ev.Kind), r.ev.CountAfter, time.UnixMilli(r.ev.Timestamp),
		})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"submission_violations"},
		[]string{"submission_id", "user_id", "kind", "count_after", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []violationRow) {
	var requeue []violationRow

	for _, r := range batch {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO submission_violations (submission_id, user_id, kind, count_after, recorded_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			r.submissionID, r.ev.UserID, string(r.ev.Kind), r.ev.CountAfter, time.UnixMilli(r.ev.Timestamp),
		)
		if err != nil {
			w.log.Error().Err(err).Str("submission_id", r.ev.SubmissionID).Msg("Insert failed, requeueing")
			requeue = append(requeue, r)
			continue
		}
		metrics.WorkerPersisted.WithLabelValues("violation").Inc()
	}

	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []violationRow) {
	pipe := w.rdb.Pipeline()
	for _, r := range items {
		data, _ := json.Marshal(r.ev)
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	metrics.WorkerRequeued.WithLabelValues("violation").Add(float64(len(items)))
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	time.Sleep(2 * time.Second)
}

func (w *ViolationWorker) shutdown(buffer []violationRow) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
	w.log.Info().Msg("Worker stopped")
}
