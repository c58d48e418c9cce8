package modes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BaselineTTL bounds every stored baseline. Games settle well inside six
// hours; validators fall back to the copy embedded in mode_config after.
const BaselineTTL = 6 * time.Hour

// BaselineStore persists per-bet mode baselines in Redis. Baselines are
// immutable once written: a second save for the same bet is a no-op.
type BaselineStore struct {
	rdb *redis.Client
}

func NewBaselineStore(rdb *redis.Client) *BaselineStore {
	return &BaselineStore{rdb: rdb}
}

func baselineKey(modeKey string, betID uuid.UUID) string {
	return fmt.Sprintf("%s:baseline:%s", modeKey, betID)
}

// Save writes the baseline unless one already exists for the bet.
func (s *BaselineStore) Save(ctx context.Context, modeKey string, betID uuid.UUID, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	if err := s.rdb.SetNX(ctx, baselineKey(modeKey, betID), data, BaselineTTL).Err(); err != nil {
		return fmt.Errorf("store baseline for bet %s: %w", betID, err)
	}
	return nil
}

// Load reads a baseline into dest. The bool is false when no baseline is
// stored (expired or never captured).
func (s *BaselineStore) Load(ctx context.Context, modeKey string, betID uuid.UUID, dest any) (bool, error) {
	data, err := s.rdb.Get(ctx, baselineKey(modeKey, betID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load baseline for bet %s: %w", betID, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode baseline for bet %s: %w", betID, err)
	}
	return true, nil
}
