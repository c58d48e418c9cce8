// Package queue is the Redis-backed resolution queue: the single writer for
// bet status mutations. Jobs are deduplicated per bet, retried with
// exponential backoff, and dead-lettered after the final attempt.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job types.
const (
	JobSetWinningChoice = "set_winning_choice"
	JobWashBet          = "wash_bet"
	JobRecordHistory    = "record_history"
)

// Retry policy.
const (
	MaxAttempts  = 3
	InitialDelay = time.Second
)

// Retention for settled jobs.
const (
	completedRetention = time.Hour
	completedMaxItems  = 1000
	failedRetention    = 24 * time.Hour
)

// Job is one unit of work. DedupID, when set, guarantees at most one such
// job is waiting or running at a time; a duplicate enqueue is a no-op.
type Job struct {
	ID           string          `json:"id"`
	DedupID      string          `json:"dedup_id,omitempty"`
	Type         string          `json:"type"`
	BetID        uuid.UUID       `json:"bet_id"`
	Payload      json.RawMessage `json:"payload"`
	AttemptsMade int             `json:"attempts_made"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	LastError    string          `json:"last_error,omitempty"`
}

// DedupResolve and DedupWash build the per-bet dedup ids.
func DedupResolve(betID uuid.UUID) string { return "resolve-" + betID.String() }
func DedupWash(betID uuid.UUID) string    { return "wash-" + betID.String() }

// Key layout under the queue namespace:
//
//	waiting  - list of job ids, LPUSH / BRPOP
//	delayed  - zset of job ids scored by ready-at unix ms
//	pending  - set of dedup ids currently waiting or running
//	job:<id> - job body JSON
//	done     - zset of settled job JSON scored by finish time
//	dead     - zset of dead-lettered job JSON scored by failure time
const keyPrefix = "resq:bet-resolution:"

func key(suffix string) string { return keyPrefix + suffix }

func jobKey(id string) string { return key("job:" + id) }

// enqueueScript admits a job unless its dedup id is already pending.
// KEYS: pending set, job key, waiting list.
// ARGV: dedup id ("" disables dedup), job JSON.
// Returns 1 when enqueued, 0 when deduplicated.
var enqueueScript = redis.NewScript(`
if ARGV[1] ~= "" then
  if redis.call("SADD", KEYS[1], ARGV[1]) == 0 then
    return 0
  end
end
redis.call("SET", KEYS[2], ARGV[2])
redis.call("LPUSH", KEYS[3], ARGV[3])
return 1
`)

// Queue is the Redis handle shared by producers and workers.
type Queue struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue adds a job to the waiting list. When the job carries a dedup id
// that is already pending, the enqueue is a no-op and the first writer wins.
func (q *Queue) Enqueue(ctx context.Context, jobType string, betID uuid.UUID, dedupID string, payload any) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal %s payload: %w", jobType, err)
	}

	job := Job{
		ID:         uuid.NewString(),
		DedupID:    dedupID,
		Type:       jobType,
		BetID:      betID,
		Payload:    body,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}

	added, err := enqueueScript.Run(ctx, q.rdb,
		[]string{key("pending"), jobKey(job.ID), key("waiting")},
		dedupID, string(data), job.ID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue %s for bet %s: %w", jobType, betID, err)
	}
	return added == 1, nil
}

// dequeue blocks up to timeout for the next waiting job. A nil job means
// the timeout elapsed.
func (q *Queue) dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.rdb.BRPop(ctx, timeout, key("waiting")).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	jobID := res[1]
	data, err := q.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		// Body already reaped; nothing to run.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// retryLater reschedules a failed attempt. The dedup id stays in the
// pending set so competing enqueues remain no-ops until the job settles.
func (q *Queue) retryLater(ctx context.Context, job *Job, readyAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	pipe.ZAdd(ctx, key("delayed"), redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// promoteDelayed moves due delayed jobs back onto the waiting list.
func (q *Queue) promoteDelayed(ctx context.Context, now time.Time) error {
	ids, err := q.rdb.ZRangeByScore(ctx, key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, key("delayed"), id)
		pipe.LPush(ctx, key("waiting"), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// settle releases the dedup claim and records the outcome. Completed jobs
// are retained 1 hour capped at 1000 entries; dead letters 24 hours.
func (q *Queue) settle(ctx context.Context, job *Job, failed bool) error {
	data, _ := json.Marshal(job)
	now := time.Now()

	pipe := q.rdb.TxPipeline()
	if job.DedupID != "" {
		pipe.SRem(ctx, key("pending"), job.DedupID)
	}
	pipe.Del(ctx, jobKey(job.ID))
	if failed {
		pipe.ZAdd(ctx, key("dead"), redis.Z{Score: float64(now.UnixMilli()), Member: string(data)})
	} else {
		pipe.ZAdd(ctx, key("done"), redis.Z{Score: float64(now.UnixMilli()), Member: string(data)})
		pipe.ZRemRangeByRank(ctx, key("done"), 0, int64(-completedMaxItems-1))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// reapSettled drops settled records past their retention windows.
func (q *Queue) reapSettled(ctx context.Context, now time.Time) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key("done"), "-inf", fmt.Sprintf("%d", now.Add(-completedRetention).UnixMilli()))
	pipe.ZRemRangeByScore(ctx, key("dead"), "-inf", fmt.Sprintf("%d", now.Add(-failedRetention).UnixMilli()))
	_, err := pipe.Exec(ctx)
	return err
}

// Depth returns the number of jobs currently waiting.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, key("waiting")).Result()
}

// DeadLetters returns the dead-lettered jobs, newest first, for triage.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Job, error) {
	rows, err := q.rdb.ZRevRange(ctx, key("dead"), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(rows))
	for _, row := range rows {
		var job Job
		if err := json.Unmarshal([]byte(row), &job); err == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}
