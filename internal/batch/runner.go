package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hochfrequenz/vat-batch/internal/domain"
)

// Runner executes jobs and records them in a Repository
type Runner struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time

	jobListeners   []JobListener
	stepListeners  []StepListener
	chunkListeners []ChunkListener
}

// Option configures a Runner
type Option func(*Runner)

// WithClock overrides the time source used for execution timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithListener registers every listener interface l implements
func WithListener(l any) Option {
	return func(r *Runner) { r.AddListener(l) }
}

// NewRunner creates a Runner recording executions in repo
func NewRunner(repo Repository, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{repo: repo, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddListener registers l for each of JobListener, StepListener and ChunkListener it
// implements. Not safe to call while jobs are running.
func (r *Runner) AddListener(l any) {
	if jl, ok := l.(JobListener); ok {
		r.jobListeners = append(r.jobListeners, jl)
	}
	if sl, ok := l.(StepListener); ok {
		r.stepListeners = append(r.stepListeners, sl)
	}
	if cl, ok := l.(ChunkListener); ok {
		r.chunkListeners = append(r.chunkListeners, cl)
	}
}

// Run executes job with params and returns the finished execution. An error is
// returned only when no execution could be created; step failures are reported
// through the FAILED status of the returned execution.
func (r *Runner) Run(ctx context.Context, job *Job, params domain.RunParameters) (*domain.JobExecution, error) {
	exec, err := r.repo.CreateJobExecution(ctx, job.Name, params)
	if err != nil {
		return nil, fmt.Errorf("creating execution of %s: %w", job.Name, err)
	}
	logger := r.logger.With("job", job.Name, "execution_id", exec.ID)

	start := r.now()
	exec.StartTime = &start
	r.transition(logger, &exec.Status, domain.StatusStarted)
	exec.ExitCode = exec.Status.ExitCode()
	r.saveJob(ctx, logger, exec)

	logger.Info("job started", "parameters", exec.Parameters.Canonical())
	for _, l := range r.jobListeners {
		l.BeforeJob(ctx, exec)
	}

	final := domain.StatusCompleted
	for _, step := range job.Steps {
		se := r.runStep(ctx, logger, exec, step)
		if se.Status == domain.StatusFailed {
			final = domain.StatusFailed
			exec.ExitMessage = fmt.Sprintf("step %s failed: %s", se.StepName, se.ExitMessage)
			break
		}
	}

	end := r.now()
	exec.EndTime = &end
	r.transition(logger, &exec.Status, final)
	exec.ExitCode = exec.Status.ExitCode()
	r.saveJob(ctx, logger, exec)

	for _, l := range r.jobListeners {
		l.AfterJob(ctx, exec)
	}
	r.logSummary(logger, exec)
	return exec, nil
}

func (r *Runner) runStep(ctx context.Context, logger *slog.Logger, exec *domain.JobExecution, step Step) *domain.StepExecution {
	se := exec.AddStep(step.Name())
	logger = logger.With("step", se.StepName)

	start := r.now()
	se.StartTime = &start
	r.transition(logger, &se.Status, domain.StatusStarted)
	se.ExitCode = se.Status.ExitCode()
	if err := r.repo.AddStepExecution(context.WithoutCancel(ctx), se); err != nil {
		logger.Warn("recording step start", "error", err)
	}

	for _, l := range r.stepListeners {
		l.BeforeStep(ctx, exec, se)
	}

	err := r.execute(ctx, logger, step, se)

	end := r.now()
	se.EndTime = &end
	if err != nil {
		r.transition(logger, &se.Status, domain.StatusFailed)
		se.ExitMessage = err.Error()
		logger.Error("step failed", "error", err, "counts", se.StepCounters)
	} else {
		r.transition(logger, &se.Status, domain.StatusCompleted)
	}
	se.ExitCode = se.Status.ExitCode()
	r.saveStep(ctx, logger, se)

	for _, l := range r.stepListeners {
		l.AfterStep(ctx, exec, se)
	}
	return se
}

// execute runs step and turns a panic into a step failure
func (r *Runner) execute(ctx context.Context, logger *slog.Logger, step Step, se *domain.StepExecution) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("step panicked", "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	return step.Execute(ctx, se, func(ctx context.Context, se *domain.StepExecution, size int) {
		logger.Debug("chunk committed", "size", size, "counts", se.StepCounters)
		r.saveStep(ctx, logger, se)
		for _, l := range r.chunkListeners {
			l.AfterChunk(ctx, se, size)
		}
	})
}

// saveJob and saveStep are best effort: ledger bookkeeping never fails a run.
// They ignore cancellation of ctx so a cancelled run is still recorded as FAILED.
func (r *Runner) saveJob(ctx context.Context, logger *slog.Logger, exec *domain.JobExecution) {
	if err := r.repo.UpdateJobExecution(context.WithoutCancel(ctx), exec); err != nil {
		logger.Warn("recording job execution", "status", exec.Status, "error", err)
	}
}

func (r *Runner) saveStep(ctx context.Context, logger *slog.Logger, se *domain.StepExecution) {
	if err := r.repo.UpdateStepExecution(context.WithoutCancel(ctx), se); err != nil {
		logger.Warn("recording step execution", "status", se.Status, "error", err)
	}
}

func (r *Runner) transition(logger *slog.Logger, status *domain.BatchStatus, to domain.BatchStatus) {
	if err := domain.ValidateTransition(*status, to); err != nil {
		logger.Error("unexpected status change", "error", err)
	}
	*status = to
}

func (r *Runner) logSummary(logger *slog.Logger, exec *domain.JobExecution) {
	logger.Info("job finished",
		"status", exec.Status,
		"exit_code", exec.ExitCode,
		"duration", exec.Duration())
	for _, se := range exec.StepExecutions {
		logger.Info("step summary",
			"step", se.StepName,
			"status", se.Status,
			"counts", se.StepCounters)
	}
	if exec.ExitMessage != "" {
		logger.Error("job failed", "reason", exec.ExitMessage)
	}
}
