package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/metrics"
)

// SetWinningChoicePayload resolves a bet. History, when present, is
// appended after a successful status transition.
type SetWinningChoicePayload struct {
	WinningChoice string        `json:"winning_choice"`
	History       *HistoryEvent `json:"history,omitempty"`
}

// WashBetPayload transitions a bet to washed. Wager refunds are DB-trigger
// territory; this core only flips the row.
type WashBetPayload struct {
	Explanation string          `json:"explanation"`
	EventType   string          `json:"event_type"`
	ModeLabel   string          `json:"mode_label"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// RecordHistoryPayload appends one audit event unconditionally.
type RecordHistoryPayload struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// HistoryEvent is an audit entry carried inside another job.
type HistoryEvent struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// BetStore is the slice of the repository the job handlers mutate through.
// The status updates are conditional: they only touch rows still in the
// active or pending state with no winning choice, so replays and races
// collapse to no-ops.
type BetStore interface {
	SetWinningChoice(ctx context.Context, betID uuid.UUID, choice string, at time.Time) (bool, error)
	WashBet(ctx context.Context, betID uuid.UUID, at time.Time) (bool, error)
	AppendHistory(ctx context.Context, betID uuid.UUID, eventType string, payload json.RawMessage) error
}

// SnapshotFunc persists a live_info_snapshot history event after a bet
// settles, so the UI keeps working once the game's refined file is gone.
type SnapshotFunc func(ctx context.Context, betID uuid.UUID)

// Handlers binds the three job types to the bet store.
type Handlers struct {
	Bets     BetStore
	Snapshot SnapshotFunc
	Logger   *slog.Logger
}

// Register wires the handlers into a worker.
func (h *Handlers) Register(w *Worker) {
	w.Handle(JobSetWinningChoice, h.setWinningChoice)
	w.Handle(JobWashBet, h.washBet)
	w.Handle(JobRecordHistory, h.recordHistory)
}

func (h *Handlers) setWinningChoice(ctx context.Context, job *Job) error {
	var p SetWinningChoicePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode set_winning_choice payload: %w", err)
	}

	updated, err := h.Bets.SetWinningChoice(ctx, job.BetID, p.WinningChoice, time.Now().UTC())
	if err != nil {
		return err
	}
	if !updated {
		// Already settled by a competing job; first writer won.
		h.Logger.Info("resolve skipped, bet already settled", "bet_id", job.BetID)
		return nil
	}

	metrics.BetsResolvedTotal.Inc()
	h.Logger.Info("bet resolved", "bet_id", job.BetID, "winning_choice", p.WinningChoice)

	// The bet row is already consistent; a history failure is not worth a
	// retry that would re-run the conditional update.
	if p.History != nil {
		if err := h.Bets.AppendHistory(ctx, job.BetID, p.History.EventType, p.History.Payload); err != nil {
			h.Logger.Error("resolve history write failed", "bet_id", job.BetID, "error", err)
		}
	}
	if h.Snapshot != nil {
		h.Snapshot(ctx, job.BetID)
	}
	return nil
}

func (h *Handlers) washBet(ctx context.Context, job *Job) error {
	var p WashBetPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode wash_bet payload: %w", err)
	}

	updated, err := h.Bets.WashBet(ctx, job.BetID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !updated {
		h.Logger.Info("wash skipped, bet already settled", "bet_id", job.BetID)
		return nil
	}

	metrics.BetsWashedTotal.Inc()
	h.Logger.Info("bet washed", "bet_id", job.BetID, "explanation", p.Explanation)

	eventType := p.EventType
	if eventType == "" {
		eventType = domain.EventBetWashed
	}
	payload := p.Payload
	if payload == nil {
		payload, _ = json.Marshal(map[string]string{
			"explanation": p.Explanation,
			"mode_label":  p.ModeLabel,
		})
	}
	if err := h.Bets.AppendHistory(ctx, job.BetID, eventType, payload); err != nil {
		h.Logger.Error("wash history write failed", "bet_id", job.BetID, "error", err)
	}
	if h.Snapshot != nil {
		h.Snapshot(ctx, job.BetID)
	}
	return nil
}

func (h *Handlers) recordHistory(ctx context.Context, job *Job) error {
	var p RecordHistoryPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode record_history payload: %w", err)
	}
	return h.Bets.AppendHistory(ctx, job.BetID, p.EventType, p.Payload)
}

// EnqueueResolve queues a set_winning_choice job deduplicated per bet.
func EnqueueResolve(ctx context.Context, q *Queue, betID uuid.UUID, choice string, history *HistoryEvent) (bool, error) {
	return q.Enqueue(ctx, JobSetWinningChoice, betID, DedupResolve(betID), SetWinningChoicePayload{
		WinningChoice: choice,
		History:       history,
	})
}

// EnqueueWash queues a wash_bet job deduplicated per bet.
func EnqueueWash(ctx context.Context, q *Queue, betID uuid.UUID, explanation, modeLabel string) (bool, error) {
	return q.Enqueue(ctx, JobWashBet, betID, DedupWash(betID), WashBetPayload{
		Explanation: explanation,
		EventType:   domain.EventBetWashed,
		ModeLabel:   modeLabel,
	})
}

// EnqueueHistory queues an audit write with no dedup.
func EnqueueHistory(ctx context.Context, q *Queue, betID uuid.UUID, eventType string, payload json.RawMessage) error {
	_, err := q.Enqueue(ctx, JobRecordHistory, betID, "", RecordHistoryPayload{
		EventType: eventType,
		Payload:   payload,
	})
	return err
}
