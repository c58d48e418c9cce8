package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnqueue_DedupIsNoOp(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()
	betID := uuid.New()

	added, err := EnqueueResolve(ctx, q, betID, "P1", nil)
	require.NoError(t, err)
	assert.True(t, added)

	// Second resolve for the same bet: first writer wins.
	added, err = EnqueueResolve(ctx, q, betID, "P2", nil)
	require.NoError(t, err)
	assert.False(t, added)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestEnqueue_ResolveAndWashDedupIndependently(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()
	betID := uuid.New()

	added, err := EnqueueResolve(ctx, q, betID, "P1", nil)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = EnqueueWash(ctx, q, betID, "game over", "Either / Or")
	require.NoError(t, err)
	assert.True(t, added, "wash carries its own dedup id")
}

func TestEnqueue_HistoryNeverDedups(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()
	betID := uuid.New()

	require.NoError(t, EnqueueHistory(ctx, q, betID, "mode_config", json.RawMessage(`{}`)))
	require.NoError(t, EnqueueHistory(ctx, q, betID, "mode_config", json.RawMessage(`{}`)))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestDequeue_RoundTrip(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()
	betID := uuid.New()

	_, err := EnqueueResolve(ctx, q, betID, "P1", nil)
	require.NoError(t, err)

	job, err := q.dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobSetWinningChoice, job.Type)
	assert.Equal(t, betID, job.BetID)

	var p SetWinningChoicePayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, "P1", p.WinningChoice)
}

func TestDedupReleasedAfterSettle(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()
	betID := uuid.New()

	_, err := EnqueueResolve(ctx, q, betID, "P1", nil)
	require.NoError(t, err)
	job, err := q.dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.settle(ctx, job, false))

	added, err := EnqueueResolve(ctx, q, betID, "P1", nil)
	require.NoError(t, err)
	assert.True(t, added, "dedup claim released once the job settled")
}

func TestPromoteDelayed(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	job := &Job{ID: uuid.NewString(), Type: JobRecordHistory, BetID: uuid.New(), Payload: json.RawMessage(`{}`)}
	require.NoError(t, q.retryLater(ctx, job, time.Now().Add(time.Hour)))

	// Not due yet.
	require.NoError(t, q.promoteDelayed(ctx, time.Now()))
	depth, _ := q.Depth(ctx)
	assert.Equal(t, int64(0), depth)

	// Past the ready time.
	require.NoError(t, q.promoteDelayed(ctx, time.Now().Add(2*time.Hour)))
	depth, _ = q.Depth(ctx)
	assert.Equal(t, int64(1), depth)
}

type fakeBetStore struct {
	mu           sync.Mutex
	resolved     map[uuid.UUID]string
	washed       map[uuid.UUID]bool
	history      []string
	failuresLeft int
}

func newFakeBetStore() *fakeBetStore {
	return &fakeBetStore{resolved: map[uuid.UUID]string{}, washed: map[uuid.UUID]bool{}}
}

func (f *fakeBetStore) SetWinningChoice(ctx context.Context, betID uuid.UUID, choice string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return false, errors.New("db unavailable")
	}
	if _, done := f.resolved[betID]; done || f.washed[betID] {
		return false, nil
	}
	f.resolved[betID] = choice
	return true, nil
}

func (f *fakeBetStore) WashBet(ctx context.Context, betID uuid.UUID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, done := f.resolved[betID]; done || f.washed[betID] {
		return false, nil
	}
	f.washed[betID] = true
	return true, nil
}

func (f *fakeBetStore) AppendHistory(ctx context.Context, betID uuid.UUID, eventType string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, eventType)
	return nil
}

func (f *fakeBetStore) winningChoice(betID uuid.UUID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.resolved[betID]
	return c, ok
}

func startWorker(t *testing.T, q *Queue, store *fakeBetStore) *Worker {
	t.Helper()
	w := NewWorker(q, 2, discardLogger())
	(&Handlers{Bets: store, Logger: discardLogger()}).Register(w)
	w.Start(context.Background())
	t.Cleanup(w.Stop)
	return w
}

func TestWorker_ResolvesBet(t *testing.T) {
	q, _ := testQueue(t)
	store := newFakeBetStore()
	startWorker(t, q, store)

	betID := uuid.New()
	_, err := EnqueueResolve(context.Background(), q, betID, "P1", &HistoryEvent{
		EventType: "bet_resolved",
		Payload:   json.RawMessage(`{"winner":"P1"}`),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c, ok := store.winningChoice(betID)
		return ok && c == "P1"
	}, 3*time.Second, 25*time.Millisecond)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.history) == 1 && store.history[0] == "bet_resolved"
	}, 3*time.Second, 25*time.Millisecond)
}

func TestWorker_WashAfterResolveIsNoOp(t *testing.T) {
	q, _ := testQueue(t)
	store := newFakeBetStore()
	startWorker(t, q, store)
	ctx := context.Background()

	betID := uuid.New()
	_, err := EnqueueResolve(ctx, q, betID, "P1", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := store.winningChoice(betID)
		return ok
	}, 3*time.Second, 25*time.Millisecond)

	_, err = EnqueueWash(ctx, q, betID, "late wash", "mode")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		depth, _ := q.Depth(ctx)
		return depth == 0
	}, 3*time.Second, 25*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.False(t, store.washed[betID], "conditional update keeps the resolved status")
}

func TestWorker_RetriesThenSucceeds(t *testing.T) {
	q, _ := testQueue(t)
	store := newFakeBetStore()
	store.failuresLeft = 1
	startWorker(t, q, store)

	betID := uuid.New()
	_, err := EnqueueResolve(context.Background(), q, betID, "P1", nil)
	require.NoError(t, err)

	// First attempt fails, backoff 1s, promoter re-admits, second succeeds.
	require.Eventually(t, func() bool {
		_, ok := store.winningChoice(betID)
		return ok
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWorker_DeadLettersAfterMaxAttempts(t *testing.T) {
	q, _ := testQueue(t)
	store := newFakeBetStore()
	store.failuresLeft = MaxAttempts
	startWorker(t, q, store)
	ctx := context.Background()

	betID := uuid.New()
	_, err := EnqueueResolve(ctx, q, betID, "P1", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		dead, derr := q.DeadLetters(ctx, 10)
		return derr == nil && len(dead) == 1
	}, 15*time.Second, 100*time.Millisecond)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, betID, dead[0].BetID)
	assert.Equal(t, MaxAttempts, dead[0].AttemptsMade)
	assert.NotEmpty(t, dead[0].LastError)

	_, ok := store.winningChoice(betID)
	assert.False(t, ok)
}
