package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/tablestakes/platform/internal/metrics"
	"github.com/tablestakes/platform/internal/repository"
)

// LifecycleWorker promotes active bets to pending once their close time
// passes. It never sets a winning choice; resolution belongs to the queue.
type LifecycleWorker struct {
	db       repository.DBTX
	bets     repository.BetRepository
	interval time.Duration
	catchup  time.Duration
	logger   *slog.Logger
}

func NewLifecycleWorker(db repository.DBTX, bets repository.BetRepository, interval, catchup time.Duration, logger *slog.Logger) *LifecycleWorker {
	return &LifecycleWorker{
		db:       db,
		bets:     bets,
		interval: interval,
		catchup:  catchup,
		logger:   logger,
	}
}

// Run ticks until the context is cancelled. The first pass doubles as the
// restart catch-up over bets that expired while the process was down.
func (w *LifecycleWorker) Run(ctx context.Context) {
	w.logger.Info("bet lifecycle worker starting", "interval", w.interval, "catchup_horizon", w.catchup)

	w.catchUp(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("bet lifecycle worker stopping")
			return
		case now := <-ticker.C:
			w.tick(ctx, now)
		}
	}
}

func (w *LifecycleWorker) tick(ctx context.Context, now time.Time) {
	ids, err := w.bets.PromoteExpired(ctx, w.db, now)
	if err != nil {
		w.logger.Error("promote expired bets failed", "error", err)
		return
	}
	for _, id := range ids {
		w.logger.Info("bet promoted to pending", "bet_id", id)
	}

	if count, err := w.bets.CountUnsettled(ctx, w.db); err == nil {
		metrics.ActiveBetsGauge.Set(float64(count))
	}
}

// catchUp promotes bets that sat expired beyond the configured horizon
// while the process was down. Anything fresher is the ticker's job.
func (w *LifecycleWorker) catchUp(ctx context.Context) {
	horizon := time.Now().UTC().Add(-w.catchup)
	ids, err := w.bets.PromoteExpired(ctx, w.db, horizon)
	if err != nil {
		w.logger.Error("lifecycle catch-up failed", "error", err)
		return
	}
	if len(ids) > 0 {
		w.logger.Info("lifecycle catch-up promoted bets", "count", len(ids), "horizon", horizon)
	}
}
