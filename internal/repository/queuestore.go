package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QueueBetStore binds a DB handle to the bet and history repositories so the
// resolution queue's handlers can settle bets without knowing about DBTX.
type QueueBetStore struct {
	db      DBTX
	bets    BetRepository
	history HistoryRepository
}

func NewQueueBetStore(db DBTX, bets BetRepository, history HistoryRepository) *QueueBetStore {
	return &QueueBetStore{db: db, bets: bets, history: history}
}

func (s *QueueBetStore) SetWinningChoice(ctx context.Context, betID uuid.UUID, choice string, at time.Time) (bool, error) {
	return s.bets.SetWinningChoice(ctx, s.db, betID, choice, at)
}

func (s *QueueBetStore) WashBet(ctx context.Context, betID uuid.UUID, at time.Time) (bool, error) {
	return s.bets.Wash(ctx, s.db, betID, at)
}

func (s *QueueBetStore) AppendHistory(ctx context.Context, betID uuid.UUID, eventType string, payload json.RawMessage) error {
	return s.history.Append(ctx, s.db, betID, eventType, payload)
}
