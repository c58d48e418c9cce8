package livedata

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/metrics"
)

// Raw-file retention after the game leaves the live window.
const (
	postStateRetention = 10 * time.Minute
	finalRetention     = 30 * time.Minute
)

// IngestWorker polls the provider on a jittered interval, refines raw
// payloads into normalised documents, and sweeps stale files. One worker per
// league; single-flight (a tick never overlaps itself).
type IngestWorker struct {
	league    string
	provider  Provider
	store     *Store
	refiner   Refiner
	interval  time.Duration
	jitterPct int
	logger    *slog.Logger

	cron *cron.Cron

	mu        sync.Mutex
	lastState map[string]string // gameID -> scoreboard state
}

// NewIngestWorker builds an ingest worker for one league.
func NewIngestWorker(league string, provider Provider, store *Store, refiner Refiner, interval time.Duration, jitterPct int, logger *slog.Logger) *IngestWorker {
	return &IngestWorker{
		league:    league,
		provider:  provider,
		store:     store,
		refiner:   refiner,
		interval:  interval,
		jitterPct: jitterPct,
		logger:    logger.With("league", league),
		lastState: make(map[string]string),
	}
}

// Run ticks until the context is cancelled. The cleanup sweep runs on its
// own once-a-minute cron schedule so retention does not depend on ingest
// cadence.
func (w *IngestWorker) Run(ctx context.Context) {
	w.cron = cron.New(cron.WithLocation(time.UTC))
	w.cron.AddFunc("* * * * *", func() { w.cleanup() })
	w.cron.Start()
	defer w.cron.Stop()

	w.logger.Info("ingest worker starting", "interval", w.interval, "jitter_pct", w.jitterPct)

	timer := time.NewTimer(w.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ingest worker stopping")
			return
		case <-timer.C:
			w.tick(ctx)
			timer.Reset(w.nextDelay())
		}
	}
}

// nextDelay jitters the base interval by ±jitterPct% so fleets of instances
// do not thundering-herd the provider.
func (w *IngestWorker) nextDelay() time.Duration {
	jitter := float64(w.interval) * float64(w.jitterPct) / 100
	offset := (rand.Float64()*2 - 1) * jitter
	return w.interval + time.Duration(offset)
}

// tick runs one ingest cycle. Provider failures skip the event; there are no
// retries within a tick.
func (w *IngestWorker) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.IngestTickDuration.Observe(time.Since(start).Seconds())
	}()

	events, err := w.provider.Scoreboard(ctx, w.league)
	if err != nil {
		metrics.IngestTicksTotal.WithLabelValues(w.league, "scoreboard_error").Inc()
		w.logger.Warn("scoreboard fetch failed", "error", err)
		return
	}

	w.mu.Lock()
	for _, e := range events {
		w.lastState[e.ID] = e.State
	}
	w.mu.Unlock()

	refined := 0
	for _, e := range events {
		if e.State != domain.GameStateIn && e.State != domain.GameStatePre {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		raw, err := w.provider.Boxscore(ctx, w.league, e.ID)
		if err != nil {
			w.logger.Warn("boxscore fetch failed", "game_id", e.ID, "error", err)
			continue
		}
		if err := w.store.WriteRaw(w.league, e.ID, raw); err != nil {
			w.logger.Error("raw write failed", "game_id", e.ID, "error", err)
			continue
		}

		doc, err := w.refiner.Refine(raw)
		if err != nil {
			w.logger.Warn("refine failed", "game_id", e.ID, "error", err)
			continue
		}
		if err := w.store.WriteRefined(doc); err != nil {
			w.logger.Error("refined write failed", "game_id", e.ID, "error", err)
			continue
		}
		refined++
	}

	metrics.IngestTicksTotal.WithLabelValues(w.league, "ok").Inc()
	w.logger.Debug("ingest tick complete", "events", len(events), "refined", refined, "took_ms", time.Since(start).Milliseconds())
}

// cleanup enforces file retention: raw files for post-state games go 10
// minutes after their last write, STATUS_FINAL games 30 minutes after;
// refined files without a raw source are orphans and are purged.
func (w *IngestWorker) cleanup() {
	now := time.Now()

	raws, err := w.store.rawFiles(w.league)
	if err != nil {
		w.logger.Warn("cleanup raw listing failed", "error", err)
		return
	}

	w.mu.Lock()
	states := make(map[string]string, len(w.lastState))
	for id, st := range w.lastState {
		states[id] = st
	}
	w.mu.Unlock()

	for gameID, mtime := range raws {
		age := now.Sub(mtime)
		status, _ := w.store.GameStatus(w.league, gameID)

		var expired bool
		switch {
		case status == domain.GameStatusFinal && age > finalRetention:
			expired = true
		case states[gameID] == domain.GameStatePost && age > postStateRetention:
			expired = true
		}
		if expired {
			if err := w.store.RemoveRaw(w.league, gameID); err != nil {
				w.logger.Warn("raw cleanup failed", "game_id", gameID, "error", err)
			} else {
				w.logger.Info("raw file expired", "game_id", gameID, "status", status)
			}
		}
	}

	// Orphan refined files: raw source already gone.
	docs, err := w.store.ListGames(w.league)
	if err != nil {
		return
	}
	raws, err = w.store.rawFiles(w.league)
	if err != nil {
		return
	}
	for _, doc := range docs {
		if _, ok := raws[doc.GameID]; !ok {
			if err := w.store.RemoveRefined(w.league, doc.GameID); err == nil {
				w.logger.Info("orphan refined file purged", "game_id", doc.GameID)
			}
		}
	}
}
