package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ExpiryRetirer is implemented by service.SessionService.
type ExpiryRetirer interface {
	RetireExpired(ctx context.Context) (int, error)
}

// ExpiryWorker periodically retires abandoned EXAM attempts.
type ExpiryWorker struct {
	retirer  ExpiryRetirer
	interval time.Duration
	log      zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(retirer ExpiryRetirer, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpiryWorker{
		retirer:  retirer,
		interval: interval,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start sweeps once immediately and then on every interval until ctx is done.
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweep(ctx)
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	n, err := w.retirer.RetireExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Int("retired", n).Msg("Sweep failed")
		}
		return
	}
	if n > 0 {
		w.log.Info().Int("retired", n).Msg("Retired expired attempts")
	}
}
