package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tablestakes/platform/internal/metrics"
)

// HandlerFunc executes one job. A returned error triggers the retry policy.
type HandlerFunc func(ctx context.Context, job *Job) error

// Worker drains the queue with bounded concurrency. Stop lets in-flight
// jobs complete before returning.
type Worker struct {
	queue       *Queue
	handlers    map[string]HandlerFunc
	concurrency int
	logger      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(q *Queue, concurrency int, logger *slog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		handlers:    make(map[string]HandlerFunc),
		concurrency: concurrency,
		logger:      logger,
	}
}

// Handle registers the handler for a job type. Must be called before Start.
func (w *Worker) Handle(jobType string, fn HandlerFunc) {
	w.handlers[jobType] = fn
}

// Start launches the worker pool and the delayed-job promoter.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.logger.Info("resolution queue workers starting", "concurrency", w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx)
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.promoteLoop(ctx)
	}()
}

// Stop drains the pool: no new jobs are picked up, in-flight jobs finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("resolution queue workers drained")
}

func (w *Worker) runLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.dequeue(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("queue dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		// The job runs to completion even mid-shutdown; only settlement
		// uses a fresh context so it is never cut off.
		w.process(context.WithoutCancel(ctx), job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	start := time.Now()

	handler, ok := w.handlers[job.Type]
	if !ok {
		job.LastError = "no handler registered"
		w.deadLetter(ctx, job)
		return
	}

	err := handler(ctx, job)
	metrics.QueueJobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.QueueJobsTotal.WithLabelValues(job.Type, "completed").Inc()
		if serr := w.queue.settle(ctx, job, false); serr != nil {
			w.logger.Warn("job settle failed", "job_id", job.ID, "error", serr)
		}
		return
	}

	job.AttemptsMade++
	job.LastError = err.Error()

	if job.AttemptsMade >= MaxAttempts {
		w.deadLetter(ctx, job)
		return
	}

	// Exponential backoff: 1s, 2s, 4s...
	delay := InitialDelay << (job.AttemptsMade - 1)
	metrics.QueueJobsTotal.WithLabelValues(job.Type, "retried").Inc()
	w.logger.Warn("job attempt failed",
		"job_id", job.ID, "bet_id", job.BetID, "type", job.Type,
		"attempts_made", job.AttemptsMade, "retry_in", delay, "error", err)

	if rerr := w.queue.retryLater(ctx, job, time.Now().Add(delay)); rerr != nil {
		w.logger.Error("job reschedule failed", "job_id", job.ID, "error", rerr)
		w.deadLetter(ctx, job)
	}
}

func (w *Worker) deadLetter(ctx context.Context, job *Job) {
	metrics.QueueJobsTotal.WithLabelValues(job.Type, "failed").Inc()
	w.logger.Error("job exhausted retries",
		"job_id", job.ID, "bet_id", job.BetID, "type", job.Type,
		"attempts_made", job.AttemptsMade, "error", job.LastError)
	if err := w.queue.settle(ctx, job, true); err != nil {
		w.logger.Error("dead-letter settle failed", "job_id", job.ID, "error", err)
	}
}

// promoteLoop moves due delayed jobs to the waiting list, reaps settled
// records, and keeps the depth gauge current.
func (w *Worker) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := w.queue.promoteDelayed(ctx, now); err != nil && ctx.Err() == nil {
				w.logger.Warn("delayed promotion failed", "error", err)
			}
			if err := w.queue.reapSettled(ctx, now); err != nil && ctx.Err() == nil {
				w.logger.Warn("settled reap failed", "error", err)
			}
			if depth, err := w.queue.Depth(ctx); err == nil {
				metrics.QueueDepth.Set(float64(depth))
			}
		}
	}
}
