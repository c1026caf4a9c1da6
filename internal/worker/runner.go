// Package worker contains the background pipeline that asks the AI to assess
// every risk of a project, compares each answer with the human assessment,
// persists the results and sends the notification email. The api package
// holds a worker.Enqueuer interface and calls Enqueue; it never imports the
// concrete Runner or Job types.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/kinney-risk-backend/internal/db"
)

// ─── ENQUEUER INTERFACE ───────────────────────────────────────────────────────

// Enqueuer is the narrow interface the api package uses to hand off an AI
// analysis once it has been requested.
//
// The concrete implementation is *Runner. In tests, any struct with an Enqueue
// method satisfies the interface.
type Enqueuer interface {
	Enqueue(ctx context.Context, analysisID uuid.UUID) error
}

// ─── RUNNER ───────────────────────────────────────────────────────────────────

// RunnerConfig holds tuning parameters for the Runner. All fields have
// sensible defaults if zero-valued; call DefaultRunnerConfig() to get them.
type RunnerConfig struct {
	// Workers is the number of concurrent job goroutines. Default: 3.
	Workers int

	// PollInterval is how often the fallback poller checks
	// ListPendingAIAnalyses for jobs that were missed by the in-process
	// channel (e.g. after a crash or restart). Default: 30s.
	PollInterval time.Duration

	// JobTimeout is the per-job context deadline. Default: 5 minutes.
	// Set this longer than your AI provider's p99 latency.
	JobTimeout time.Duration

	// MaxRetries is the number of times a job is retried before the analysis
	// is marked as permanently failed. Default: 3.
	MaxRetries int

	// BackoffUnit scales the exponential back-off between attempts.
	// Default: 1s.
	BackoffUnit time.Duration
}

// DefaultRunnerConfig returns safe production defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:      3,
		PollInterval: 30 * time.Second,
		JobTimeout:   5 * time.Minute,
		MaxRetries:   3,
	}
}

// Runner manages a pool of worker goroutines. It accepts jobs via an in-process
// channel (fast path, used for new requests) and also polls the database
// periodically to pick up any analyses that were in-flight when the process
// last restarted (recovery path).
type Runner struct {
	job    runnable
	q      db.Querier
	cfg    RunnerConfig
	logger *slog.Logger

	queue chan uuid.UUID
	wg    sync.WaitGroup

	// inflight holds IDs queued or running, so the poller does not hand the
	// same analysis to a second worker.
	inflight sync.Map
}

// runnable is implemented by *Job.
type runnable interface {
	Run(ctx context.Context, analysisID uuid.UUID) error
	Fail(ctx context.Context, analysisID uuid.UUID, cause error) error
}

// NewRunner constructs a Runner. Call Start() to begin processing.
func NewRunner(
	job *Job,
	q db.Querier,
	cfg RunnerConfig,
	logger *slog.Logger,
) *Runner {
	return newRunner(job, q, cfg, logger)
}

func newRunner(job runnable, q db.Querier, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultRunnerConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultRunnerConfig().PollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultRunnerConfig().JobTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRunnerConfig().MaxRetries
	}

	return &Runner{
		job:    job,
		q:      q,
		cfg:    cfg,
		logger: logger,
		// Buffer = Workers*2 so Enqueue never blocks under normal load.
		queue: make(chan uuid.UUID, cfg.Workers*2),
	}
}

// ErrQueueFull is returned by Enqueue when the channel is full. The analysis
// row is already pending, so the poller picks it up later.
var ErrQueueFull = errors.New("worker: queue is full, analysis will be picked up by poller")

// Enqueue pushes an analysisID onto the in-process channel. It satisfies the
// Enqueuer interface. If the channel is full it returns ErrQueueFull rather
// than blocking the HTTP response.
func (r *Runner) Enqueue(_ context.Context, analysisID uuid.UUID) error {
	if !r.claim(analysisID) {
		return nil
	}
	select {
	case r.queue <- analysisID:
		r.logger.Info("worker: enqueued analysis", "ai_analysis_id", analysisID)
		return nil
	default:
		r.inflight.Delete(analysisID)
		return ErrQueueFull
	}
}

// claim reports whether id was not already queued or running.
func (r *Runner) claim(id uuid.UUID) bool {
	_, loaded := r.inflight.LoadOrStore(id, struct{}{})
	return !loaded
}

// Start launches the worker pool and the fallback poller. It blocks until ctx
// is cancelled. Call it in a goroutine from main:
//
//	go runner.Start(ctx)
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("worker: starting", "workers", r.cfg.Workers, "poll_interval", r.cfg.PollInterval)

	// Launch worker goroutines.
	for i := range r.cfg.Workers {
		r.wg.Add(1)
		go r.work(ctx, i)
	}

	// Launch fallback poller.
	r.wg.Add(1)
	go r.poll(ctx)

	r.wg.Wait()
	r.logger.Info("worker: stopped")
}

// work is the inner loop for each worker goroutine.
func (r *Runner) work(ctx context.Context, id int) {
	defer r.wg.Done()
	log := r.logger.With("worker_id", id)
	log.Info("worker: goroutine started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker: goroutine stopping")
			return
		case analysisID := <-r.queue:
			r.runWithRetry(ctx, analysisID, log)
			r.inflight.Delete(analysisID)
		}
	}
}

// poll queries the database on PollInterval for any pending/processing
// analyses that were not delivered via the channel (e.g. from before a
// restart).
func (r *Runner) poll(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	// Run once immediately on startup to pick up anything from before restart.
	r.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	pending, err := r.q.ListPendingAIAnalyses(ctx)
	if err != nil {
		r.logger.Error("worker: poll failed", "error", err)
		return
	}
	for _, a := range pending {
		if !r.claim(a.ID) {
			continue
		}
		select {
		case r.queue <- a.ID:
			r.logger.Debug("worker: poller enqueued analysis", "ai_analysis_id", a.ID)
		default:
			// Queue full, next poll cycle.
			r.inflight.Delete(a.ID)
		}
	}
}

// runWithRetry executes the job up to MaxRetries times. After exhausting
// retries it calls Job.Fail so the analysis is not picked up again.
func (r *Runner) runWithRetry(ctx context.Context, analysisID uuid.UUID, log *slog.Logger) {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
		lastErr = r.job.Run(jobCtx, analysisID)
		cancel()

		if lastErr == nil {
			log.Info("worker: job completed", "ai_analysis_id", analysisID, "attempt", attempt)
			return
		}

		log.Warn("worker: job attempt failed",
			"ai_analysis_id", analysisID,
			"attempt", attempt,
			"max", r.cfg.MaxRetries,
			"error", lastErr,
		)

		if attempt < r.cfg.MaxRetries {
			// Exponential back-off: 2s, 4s, 8s …
			backoff := time.Duration(1<<attempt) * r.backoffUnit()
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}

	// All retries exhausted: mark the analysis permanently failed.
	log.Error("worker: job permanently failed", "ai_analysis_id", analysisID, "error", lastErr)
	failCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.job.Fail(failCtx, analysisID, lastErr); err != nil {
		log.Error("worker: failed to mark analysis as failed", "ai_analysis_id", analysisID, "error", err)
	}
}

func (r *Runner) backoffUnit() time.Duration {
	if r.cfg.BackoffUnit > 0 {
		return r.cfg.BackoffUnit
	}
	return time.Second
}
