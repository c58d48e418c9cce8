package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/modes"
	"github.com/tablestakes/platform/internal/queue"
	"github.com/tablestakes/platform/internal/repository"
)

// ResolverWorker runs every mode's validator over its unsettled bets and
// turns decisions into queue jobs. One bet's failure never blocks the rest.
type ResolverWorker struct {
	db          repository.DBTX
	bets        repository.BetRepository
	modeConfigs *repository.ModeConfigCache
	registry    *modes.Registry
	queue       *queue.Queue
	interval    time.Duration
	logger      *slog.Logger
}

func NewResolverWorker(
	db repository.DBTX,
	bets repository.BetRepository,
	modeConfigs *repository.ModeConfigCache,
	registry *modes.Registry,
	q *queue.Queue,
	interval time.Duration,
	logger *slog.Logger,
) *ResolverWorker {
	return &ResolverWorker{
		db:          db,
		bets:        bets,
		modeConfigs: modeConfigs,
		registry:    registry,
		queue:       q,
		interval:    interval,
		logger:      logger,
	}
}

// Run ticks until the context is cancelled.
func (w *ResolverWorker) Run(ctx context.Context) {
	w.logger.Info("mode resolver worker starting", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("mode resolver worker stopping")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ResolverWorker) tick(ctx context.Context) {
	for _, module := range w.registry.All() {
		validator := module.Validator()
		if validator == nil {
			continue
		}

		bets, err := w.bets.ListUnsettledByMode(ctx, w.db, module.Key())
		if err != nil {
			w.logger.Error("list unsettled bets failed", "mode_key", module.Key(), "error", err)
			continue
		}

		for i := range bets {
			if ctx.Err() != nil {
				return
			}
			w.evaluate(ctx, module, validator, &bets[i])
		}
	}
}

func (w *ResolverWorker) evaluate(ctx context.Context, module modes.Module, validator modes.Validator, bet *domain.BetProposal) {
	cfg, err := w.modeConfigs.Get(ctx, w.db, bet.ID)
	if err != nil {
		w.logger.Warn("mode config load failed", "bet_id", bet.ID, "error", err)
		return
	}
	if cfg == nil {
		// A bet without config cannot resolve fairly.
		if _, err := queue.EnqueueWash(ctx, w.queue, bet.ID, "bet has no recorded configuration", module.Label()); err != nil {
			w.logger.Error("wash enqueue failed", "bet_id", bet.ID, "error", err)
		}
		return
	}

	decision, err := validator.Evaluate(ctx, bet, cfg)
	if err != nil {
		w.logger.Warn("validator evaluation failed", "bet_id", bet.ID, "mode_key", module.Key(), "error", err)
		return
	}

	switch decision.Kind {
	case modes.DecisionResolve:
		payload, _ := json.Marshal(map[string]string{"winning_choice": decision.WinningChoice})
		enqueued, err := queue.EnqueueResolve(ctx, w.queue, bet.ID, decision.WinningChoice, &queue.HistoryEvent{
			EventType: domain.EventBetResolved,
			Payload:   payload,
		})
		if err != nil {
			w.logger.Error("resolve enqueue failed", "bet_id", bet.ID, "error", err)
			return
		}
		if enqueued {
			w.modeConfigs.Invalidate(bet.ID)
			w.logger.Info("resolve enqueued", "bet_id", bet.ID, "winning_choice", decision.WinningChoice)
		}

	case modes.DecisionWash:
		enqueued, err := queue.EnqueueWash(ctx, w.queue, bet.ID, decision.Explanation, module.Label())
		if err != nil {
			w.logger.Error("wash enqueue failed", "bet_id", bet.ID, "error", err)
			return
		}
		if enqueued {
			w.modeConfigs.Invalidate(bet.ID)
			w.logger.Info("wash enqueued", "bet_id", bet.ID, "explanation", decision.Explanation)
		}
	}
}
