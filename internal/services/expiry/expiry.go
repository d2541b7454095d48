package expiry

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/lib/logger/sl"
)

type expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Worker periodically releases spots held by abandoned checkouts.
type Worker struct {
	expirer  expirer
	interval time.Duration
	log      *slog.Logger
}

func NewWorker(e expirer, interval time.Duration, log *slog.Logger) *Worker {
	return &Worker{
		expirer:  e,
		interval: interval,
		log:      log.With(slog.String("component", "expiry")),
	}
}

// Start sweeps once immediately, then on every tick until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("expiry worker started", slog.Duration("interval", w.interval))
	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("expiry worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	n, err := w.expirer.ExpireStale(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error("expiry sweep failed", sl.Err(err))
		}
		return
	}
	if n > 0 {
		w.log.Debug("expiry sweep done", slog.Int("expired", n))
	}
}
