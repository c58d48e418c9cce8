package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// processingSentinel marks a claim whose original request has not completed.
const processingSentinel = "__processing__"

// idempotencyTTL keeps claims (and their stored responses) for replay.
const idempotencyTTL = 24 * time.Hour

// StoredResponse is the captured outcome of a completed idempotent request.
// Replays return it verbatim.
type StoredResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// ClaimState describes what Check found for a key.
type ClaimState int

const (
	// ClaimAcquired means this request owns the key and must complete it.
	ClaimAcquired ClaimState = iota
	// ClaimProcessing means another request holds the key and has not finished.
	ClaimProcessing
	// ClaimCompleted means a stored response exists and should be replayed.
	ClaimCompleted
)

// IdempotencyGuard deduplicates requests by idempotency key through Redis,
// so replays are caught across process instances.
type IdempotencyGuard struct {
	rdb *redis.Client
}

// NewIdempotencyGuard creates a Redis-backed idempotency guard.
func NewIdempotencyGuard(rdb *redis.Client) *IdempotencyGuard {
	return &IdempotencyGuard{rdb: rdb}
}

func claimKey(key string) string { return "idempotency:" + key }

// Check attempts to claim the key with SET NX. Exactly one concurrent caller
// acquires; the rest observe either the processing sentinel or the stored
// response.
func (ig *IdempotencyGuard) Check(ctx context.Context, key string) (ClaimState, *StoredResponse, error) {
	ok, err := ig.rdb.SetNX(ctx, claimKey(key), processingSentinel, idempotencyTTL).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("idempotency claim: %w", err)
	}
	if ok {
		return ClaimAcquired, nil, nil
	}

	val, err := ig.rdb.Get(ctx, claimKey(key)).Result()
	if err == redis.Nil {
		// Claim expired between SETNX and GET; treat as in flight and let the
		// client retry.
		return ClaimProcessing, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("idempotency read: %w", err)
	}
	if val == processingSentinel {
		return ClaimProcessing, nil, nil
	}

	var stored StoredResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return 0, nil, fmt.Errorf("idempotency decode: %w", err)
	}
	return ClaimCompleted, &stored, nil
}

// Complete replaces the processing sentinel with the captured response so
// replays return the exact same body and status.
func (ig *IdempotencyGuard) Complete(ctx context.Context, key string, status int, body []byte) error {
	stored, err := json.Marshal(StoredResponse{Status: status, Body: body})
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	return ig.rdb.Set(ctx, claimKey(key), stored, idempotencyTTL).Err()
}

// Release drops the claim after a failed request so a retry can run fresh.
func (ig *IdempotencyGuard) Release(ctx context.Context, key string) error {
	return ig.rdb.Del(ctx, claimKey(key)).Err()
}
