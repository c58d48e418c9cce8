package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/tablestakes/platform/internal/domain"
)

type historyRepo struct{}

// NewHistoryRepository returns a pgx-backed HistoryRepository.
func NewHistoryRepository() HistoryRepository {
	return &historyRepo{}
}

func (r *historyRepo) Append(ctx context.Context, db DBTX, betID uuid.UUID, eventType string, payload json.RawMessage) error {
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO resolution_history (bet_id, event_type, payload)
		VALUES ($1, $2, $3)`, betID, eventType, payload)
	if err != nil {
		return fmt.Errorf("append history for bet %s: %w", betID, err)
	}
	return nil
}

func (r *historyRepo) LatestByType(ctx context.Context, db DBTX, betID uuid.UUID, eventType string) (*domain.ResolutionHistoryEvent, error) {
	row := db.QueryRow(ctx, `
		SELECT id, bet_id, event_type, payload, created_at
		FROM resolution_history
		WHERE bet_id = $1 AND event_type = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, betID, eventType)

	var ev domain.ResolutionHistoryEvent
	err := row.Scan(&ev.ID, &ev.BetID, &ev.EventType, &ev.Payload, &ev.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan history event: %w", err)
	}
	return &ev, nil
}

// ModeConfigCache reads each bet's authoritative mode_config through a
// 5-minute in-process cache. Resolvers invalidate on history writes.
type ModeConfigCache struct {
	history HistoryRepository
	cache   *gocache.Cache
}

const modeConfigTTL = 5 * time.Minute

func NewModeConfigCache(history HistoryRepository) *ModeConfigCache {
	return &ModeConfigCache{
		history: history,
		cache:   gocache.New(modeConfigTTL, 2*modeConfigTTL),
	}
}

// Get returns the latest mode_config for a bet, or nil when none was ever
// persisted.
func (c *ModeConfigCache) Get(ctx context.Context, db DBTX, betID uuid.UUID) (domain.ModeConfig, error) {
	if v, ok := c.cache.Get(betID.String()); ok {
		return v.(domain.ModeConfig), nil
	}

	ev, err := c.history.LatestByType(ctx, db, betID, domain.EventModeConfig)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}

	var cfg domain.ModeConfig
	if err := json.Unmarshal(ev.Payload, &cfg); err != nil {
		return nil, fmt.Errorf("decode mode_config for bet %s: %w", betID, err)
	}

	c.cache.Set(betID.String(), cfg, modeConfigTTL)
	return cfg, nil
}

// Invalidate flushes the cached config for a bet.
func (c *ModeConfigCache) Invalidate(betID uuid.UUID) {
	c.cache.Delete(betID.String())
}
