package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"dealguard/internal/platform/metrics"
	dErrors "dealguard/pkg/domain-errors"
	"dealguard/pkg/platform/sentinel"
	"dealguard/pkg/requestcontext"
)

// Handler executes one job attempt. The context carries the job's tenant and
// a hard deadline; handlers must respect ctx cancellation.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error { return f(ctx, job) }

// StatusMirror is notified after every persisted job transition so owning
// records (contract analysis status, for one) can track the job lifecycle.
type StatusMirror interface {
	JobStatusChanged(ctx context.Context, job *Job)
}

// ExecutorConfig tunes the worker pool.
type ExecutorConfig struct {
	Concurrency  int
	JobTimeout   time.Duration
	PollInterval time.Duration
	BackoffBase  time.Duration
}

// Executor claims due jobs and drives them through the status state machine.
// Each attempt runs under a hard timeout; a timed-out attempt is terminal
// with reason "timeout" rather than retried, since a slow upstream would
// just time out again.
type Executor struct {
	store    Store
	cfg      ExecutorConfig
	handlers map[JobKind]Handler
	mirror   StatusMirror
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewExecutor(store Store, cfg ExecutorConfig, logger *slog.Logger, m *metrics.Metrics) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Executor{
		store:    store,
		cfg:      cfg,
		handlers: make(map[JobKind]Handler),
		logger:   logger,
		metrics:  m,
	}
}

// RegisterHandler binds a kind to its handler. Call before Run.
func (e *Executor) RegisterHandler(kind JobKind, h Handler) {
	e.handlers[kind] = h
}

// SetStatusMirror installs the transition observer. Optional.
func (e *Executor) SetStatusMirror(m StatusMirror) {
	e.mirror = m
}

// Run blocks, polling for due jobs with cfg.Concurrency workers, until ctx
// is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Concurrency; i++ {
		g.Go(func() error {
			return e.workerLoop(ctx)
		})
	}
	return g.Wait()
}

func (e *Executor) workerLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		e.drainDue(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drainDue claims and runs jobs until the queue has nothing due.
func (e *Executor) drainDue(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := e.store.ClaimNextDue(ctx, time.Now())
		if err != nil {
			if !errors.Is(err, sentinel.ErrNotFound) && ctx.Err() == nil {
				e.logger.ErrorContext(ctx, "claim job", "error", err)
			}
			return
		}
		e.runJob(ctx, job)
	}
}

// RunOnce claims and executes at most one due job. Used by tests and by
// single-shot maintenance commands; Run is the production path.
func (e *Executor) RunOnce(ctx context.Context) (bool, error) {
	job, err := e.store.ClaimNextDue(ctx, time.Now())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	e.runJob(ctx, job)
	return true, nil
}

func (e *Executor) runJob(ctx context.Context, job *Job) {
	logger := e.logger.With(
		"job_id", job.ID.String(),
		"kind", string(job.Kind),
		"tenant_id", job.TenantID.String(),
		"attempt", job.RetryCount+1,
	)

	handler, ok := e.handlers[job.Kind]
	if !ok {
		e.finish(ctx, job, StatusFailed, fmt.Sprintf("no handler for kind %q", job.Kind))
		logger.ErrorContext(ctx, "job has no registered handler")
		return
	}

	jobCtx := requestcontext.WithTenantID(ctx, job.TenantID)
	jobCtx, cancel := context.WithTimeout(jobCtx, e.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	err := handler.Handle(jobCtx, job)
	if e.metrics != nil {
		e.metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())
	}

	switch {
	case err == nil:
		e.finish(ctx, job, StatusCompleted, "")
		logger.InfoContext(ctx, "job completed", "duration_ms", time.Since(start).Milliseconds())

	case ctx.Err() != nil:
		// Shutdown cancelled the attempt; the job itself did nothing wrong.
		e.release(job)
		logger.InfoContext(ctx, "job released on shutdown")

	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		e.finish(ctx, job, StatusFailed, "timeout")
		logger.ErrorContext(ctx, "job timed out", "timeout", e.cfg.JobTimeout.String())

	case dErrors.HasCode(err, dErrors.CodeTransientUpstream):
		job.RetryCount++
		if job.RetryCount >= job.MaxRetries {
			e.finish(ctx, job, StatusFailed, err.Error())
			logger.ErrorContext(ctx, "job failed after final attempt", "error", err)
			return
		}
		e.scheduleRetry(ctx, job, err)
		logger.WarnContext(ctx, "job attempt failed, retry scheduled",
			"error", err,
			"run_at", job.RunAt.Format(time.RFC3339),
		)

	default:
		e.finish(ctx, job, StatusFailed, err.Error())
		logger.ErrorContext(ctx, "job failed", "error", err)
	}
}

// release returns a claimed job to the queue untouched so the next claim
// picks it up, without burning a retry. Runs on a fresh context because the
// worker's own context is already cancelled.
func (e *Executor) release(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job.Status = StatusPending
	job.StartedAt = nil
	job.UpdatedAt = time.Now()
	if err := e.store.Update(ctx, job); err != nil {
		e.logger.ErrorContext(ctx, "release job", "job_id", job.ID.String(), "error", err)
	}
}

// scheduleRetry backs off exponentially from the base: base, 2x, 4x, ...
func (e *Executor) scheduleRetry(ctx context.Context, job *Job, cause error) {
	now := time.Now()
	job.Status = StatusRetryScheduled
	job.LastError = cause.Error()
	job.RunAt = now.Add(e.cfg.BackoffBase << (job.RetryCount - 1))
	job.StartedAt = nil
	job.UpdatedAt = now
	if err := e.store.Update(ctx, job); err != nil {
		e.logger.ErrorContext(ctx, "persist retry", "job_id", job.ID.String(), "error", err)
		return
	}
	e.notifyMirror(ctx, job)
}

// finish writes a terminal status and fans out to the mirror and metrics.
func (e *Executor) finish(ctx context.Context, job *Job, status JobStatus, lastError string) {
	now := time.Now()
	job.Status = status
	job.LastError = lastError
	job.FinishedAt = &now
	job.UpdatedAt = now
	if err := e.store.Update(ctx, job); err != nil {
		e.logger.ErrorContext(ctx, "persist terminal status",
			"job_id", job.ID.String(),
			"status", string(status),
			"error", err,
		)
		return
	}
	if e.metrics != nil {
		e.metrics.JobsCompleted.WithLabelValues(string(job.Kind), string(status)).Inc()
	}
	e.notifyMirror(ctx, job)
}

func (e *Executor) notifyMirror(ctx context.Context, job *Job) {
	if e.mirror == nil {
		return
	}
	mirrorCtx := requestcontext.WithTenantID(ctx, job.TenantID)
	e.mirror.JobStatusChanged(mirrorCtx, job)
}
