package domain

import (
	"log/slog"
	"time"
)

// JobExecution is a single run of a job definition
type JobExecution struct {
	ID             int64
	JobName        string
	Identity       RunIdentity
	Parameters     RunParameters
	Status         BatchStatus
	ExitCode       string
	ExitMessage    string
	CreatedAt      time.Time
	StartTime      *time.Time
	EndTime        *time.Time
	LastUpdated    time.Time
	StepExecutions []*StepExecution
}

// Duration returns the elapsed time between start and end, zero while running
func (e *JobExecution) Duration() time.Duration {
	if e.StartTime == nil || e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(*e.StartTime)
}

// AddStep appends a new step execution in STARTING state
func (e *JobExecution) AddStep(stepName string) *StepExecution {
	step := &StepExecution{
		JobExecutionID: e.ID,
		StepName:       stepName,
		Status:         StatusStarting,
		ExitCode:       ExitExecuting,
	}
	e.StepExecutions = append(e.StepExecutions, step)
	return step
}

// StepCounters holds the per-step item and transaction counts
type StepCounters struct {
	ReadCount     int64
	WriteCount    int64
	SkipCount     int64
	FilterCount   int64
	CommitCount   int64
	RollbackCount int64
}

// LogValue implements slog.LogValuer
func (c StepCounters) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("read", c.ReadCount),
		slog.Int64("written", c.WriteCount),
		slog.Int64("skipped", c.SkipCount),
		slog.Int64("filtered", c.FilterCount),
		slog.Int64("commits", c.CommitCount),
		slog.Int64("rollbacks", c.RollbackCount),
	)
}

// StepExecution is a single run of one chunked step within a job execution
type StepExecution struct {
	ID             int64
	JobExecutionID int64
	StepName       string
	Status         BatchStatus
	ExitCode       string
	ExitMessage    string
	StartTime      *time.Time
	EndTime        *time.Time
	LastUpdated    time.Time
	StepCounters
}

// Duration returns the elapsed time between start and end, zero while running
func (s *StepExecution) Duration() time.Duration {
	if s.StartTime == nil || s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(*s.StartTime)
}
