// Package monitor answers read-only queries over the execution ledger.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hochfrequenz/vat-batch/internal/domain"
	"github.com/hochfrequenz/vat-batch/internal/ledger"
)

// HistoryLimit bounds the executions returned by JobHistory
const HistoryLimit = 10

// StatusNoExecutions is reported for jobs that never ran
const StatusNoExecutions = "NO_EXECUTIONS"

var (
	// ErrNoExecutions is returned by JobHistory for a job without executions
	ErrNoExecutions = errors.New("no job instances found")
	// ErrExecutionNotFound is returned by ExecutionDetail for an unknown id
	ErrExecutionNotFound = errors.New("job execution not found")
)

// Reader is the read side of the execution ledger
type Reader interface {
	JobNames(ctx context.Context) ([]string, error)
	CountExecutions(ctx context.Context, jobName string) (int, error)
	RecentExecutions(ctx context.Context, jobName string, limit int) ([]*domain.JobExecution, error)
	LatestExecution(ctx context.Context, jobName string) (*domain.JobExecution, error)
	GetJobExecution(ctx context.Context, id int64) (*domain.JobExecution, error)
}

// Service runs monitoring queries. It never writes to the ledger.
type Service struct {
	reader Reader
	known  []string
}

// NewService creates a Service. knownJobs are listed even before their first execution.
func NewService(reader Reader, knownJobs ...string) *Service {
	return &Service{reader: reader, known: knownJobs}
}

// Overview lists every job with the status of its latest execution
type Overview struct {
	TotalJobs   int                     `json:"totalJobs"`
	JobNames    []string                `json:"jobNames"`
	JobStatuses map[string]LatestStatus `json:"jobStatuses"`
}

// LatestStatus summarizes the most recent execution of a job
type LatestStatus struct {
	Status        string         `json:"status"`
	Message       string         `json:"message,omitempty"`
	ExitCode      string         `json:"exitCode,omitempty"`
	StartTime     *time.Time     `json:"startTime,omitempty"`
	EndTime       *time.Time     `json:"endTime,omitempty"`
	JobParameters map[string]any `json:"jobParameters,omitempty"`
	StepSummary   []StepSummary  `json:"stepSummary,omitempty"`
}

// StepSummary holds the item counts of one step
type StepSummary struct {
	StepName   string `json:"stepName"`
	Status     string `json:"status"`
	ReadCount  int64  `json:"readCount"`
	WriteCount int64  `json:"writeCount"`
	SkipCount  int64  `json:"skipCount"`
}

// History lists recent executions of one job
type History struct {
	JobName          string             `json:"jobName"`
	TotalInstances   int                `json:"totalInstances"`
	RecentExecutions []ExecutionSummary `json:"recentExecutions"`
}

// ExecutionSummary describes one job execution
type ExecutionSummary struct {
	ExecutionID int64      `json:"executionId"`
	JobName     string     `json:"jobName"`
	Status      string     `json:"status"`
	ExitCode    string     `json:"exitCode"`
	StartTime   *time.Time `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
	DurationMs  *int64     `json:"durationMs"`
	StepCount   int        `json:"stepCount"`
}

// Detail is one execution with all of its steps
type Detail struct {
	Execution ExecutionSummary `json:"execution"`
	Steps     []StepDetail     `json:"steps"`
}

// StepDetail holds the counters and times of one step execution
type StepDetail struct {
	StepName      string     `json:"stepName"`
	Status        string     `json:"status"`
	ReadCount     int64      `json:"readCount"`
	WriteCount    int64      `json:"writeCount"`
	SkipCount     int64      `json:"skipCount"`
	CommitCount   int64      `json:"commitCount"`
	RollbackCount int64      `json:"rollbackCount"`
	StartTime     *time.Time `json:"startTime"`
	EndTime       *time.Time `json:"endTime"`
}

// JobsStatus returns every known job with its latest execution
func (s *Service) JobsStatus(ctx context.Context) (*Overview, error) {
	recorded, err := s.reader.JobNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing job names: %w", err)
	}

	names := slices.Clone(s.known)
	for _, n := range recorded {
		if !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	slices.Sort(names)

	overview := &Overview{
		TotalJobs:   len(names),
		JobNames:    names,
		JobStatuses: make(map[string]LatestStatus, len(names)),
	}
	for _, name := range names {
		latest, err := s.latestStatus(ctx, name)
		if err != nil {
			return nil, err
		}
		overview.JobStatuses[name] = latest
	}
	return overview, nil
}

func (s *Service) latestStatus(ctx context.Context, jobName string) (LatestStatus, error) {
	exec, err := s.reader.LatestExecution(ctx, jobName)
	if errors.Is(err, ledger.ErrNotFound) {
		return LatestStatus{Status: StatusNoExecutions, Message: "No job instances found"}, nil
	}
	if err != nil {
		return LatestStatus{}, fmt.Errorf("latest execution of %s: %w", jobName, err)
	}

	latest := LatestStatus{
		Status:        string(exec.Status),
		ExitCode:      exec.ExitCode,
		StartTime:     exec.StartTime,
		EndTime:       exec.EndTime,
		JobParameters: exec.Parameters.Values(),
		StepSummary:   make([]StepSummary, 0, len(exec.StepExecutions)),
	}
	for _, se := range exec.StepExecutions {
		latest.StepSummary = append(latest.StepSummary, StepSummary{
			StepName:   se.StepName,
			Status:     string(se.Status),
			ReadCount:  se.ReadCount,
			WriteCount: se.WriteCount,
			SkipCount:  se.SkipCount,
		})
	}
	return latest, nil
}

// JobHistory returns up to HistoryLimit executions of jobName, most recently started first
func (s *Service) JobHistory(ctx context.Context, jobName string) (*History, error) {
	total, err := s.reader.CountExecutions(ctx, jobName)
	if err != nil {
		return nil, fmt.Errorf("counting executions of %s: %w", jobName, err)
	}
	if total == 0 {
		return nil, fmt.Errorf("%w for: %s", ErrNoExecutions, jobName)
	}

	recent, err := s.reader.RecentExecutions(ctx, jobName, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("recent executions of %s: %w", jobName, err)
	}

	history := &History{
		JobName:          jobName,
		TotalInstances:   total,
		RecentExecutions: make([]ExecutionSummary, 0, len(recent)),
	}
	for _, exec := range recent {
		full, err := s.reader.GetJobExecution(ctx, exec.ID)
		if err != nil {
			return nil, err
		}
		history.RecentExecutions = append(history.RecentExecutions, summarize(full))
	}
	return history, nil
}

// ExecutionDetail returns one execution with its steps
func (s *Service) ExecutionDetail(ctx context.Context, id int64) (*Detail, error) {
	exec, err := s.reader.GetJobExecution(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrExecutionNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	detail := &Detail{
		Execution: summarize(exec),
		Steps:     make([]StepDetail, 0, len(exec.StepExecutions)),
	}
	for _, se := range exec.StepExecutions {
		detail.Steps = append(detail.Steps, StepDetail{
			StepName:      se.StepName,
			Status:        string(se.Status),
			ReadCount:     se.ReadCount,
			WriteCount:    se.WriteCount,
			SkipCount:     se.SkipCount,
			CommitCount:   se.CommitCount,
			RollbackCount: se.RollbackCount,
			StartTime:     se.StartTime,
			EndTime:       se.EndTime,
		})
	}
	return detail, nil
}

func summarize(exec *domain.JobExecution) ExecutionSummary {
	sum := ExecutionSummary{
		ExecutionID: exec.ID,
		JobName:     exec.JobName,
		Status:      string(exec.Status),
		ExitCode:    exec.ExitCode,
		StartTime:   exec.StartTime,
		EndTime:     exec.EndTime,
		StepCount:   len(exec.StepExecutions),
	}
	if exec.StartTime != nil && exec.EndTime != nil {
		ms := exec.Duration().Milliseconds()
		sum.DurationMs = &ms
	}
	return sum
}
