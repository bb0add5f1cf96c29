package batch

import (
	"context"

	"github.com/hochfrequenz/vat-batch/internal/domain"
)

// Job is an immutable, named sequence of steps
type Job struct {
	Name  string
	Steps []Step
}

// NewJob builds a job definition
func NewJob(name string, steps ...Step) *Job {
	return &Job{Name: name, Steps: steps}
}

// Repository records executions. The execution ledger implements it.
type Repository interface {
	CreateJobExecution(ctx context.Context, jobName string, params domain.RunParameters) (*domain.JobExecution, error)
	UpdateJobExecution(ctx context.Context, exec *domain.JobExecution) error
	AddStepExecution(ctx context.Context, step *domain.StepExecution) error
	UpdateStepExecution(ctx context.Context, step *domain.StepExecution) error
}

// JobListener observes job start and end
type JobListener interface {
	BeforeJob(ctx context.Context, exec *domain.JobExecution)
	AfterJob(ctx context.Context, exec *domain.JobExecution)
}

// StepListener observes step start and end
type StepListener interface {
	BeforeStep(ctx context.Context, exec *domain.JobExecution, step *domain.StepExecution)
	AfterStep(ctx context.Context, exec *domain.JobExecution, step *domain.StepExecution)
}

// ChunkListener observes committed chunks
type ChunkListener interface {
	AfterChunk(ctx context.Context, step *domain.StepExecution, size int)
}
