// Package launcher resolves job names and launches runs with fresh run parameters.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/vat-batch/internal/batch"
	"github.com/hochfrequenz/vat-batch/internal/domain"
)

// ErrJobNotFound is returned for names that match no registered job
var ErrJobNotFound = errors.New("job not found")

// DefaultJob is launched when auto-run is enabled and no job is requested
const DefaultJob = "vat-calculation"

// Definition binds a logical job name to its job definition
type Definition struct {
	// Name is the logical name used on the command line and in HTTP paths
	Name string
	// JobName is the job definition name, accepted as an alias
	JobName string
	// Title is used in launch messages, e.g. "VAT Calculation Job"
	Title string
	// OutputLocation is reported to HTTP callers when set
	OutputLocation string
	// Build creates a fresh job definition for one run
	Build func() *batch.Job
}

// Registry holds the launchable jobs
type Registry struct {
	defs []Definition
}

// NewRegistry creates a registry from defs
func NewRegistry(defs ...Definition) *Registry {
	return &Registry{defs: defs}
}

// Resolve returns the definition registered under name or its job name alias
func (r *Registry) Resolve(name string) (Definition, error) {
	for _, d := range r.defs {
		if d.Name == name || d.JobName == name {
			return d, nil
		}
	}
	return Definition{}, fmt.Errorf("%w: %q (available: %v)", ErrJobNotFound, name, r.Names())
}

// Definitions returns all registered definitions in registration order
func (r *Registry) Definitions() []Definition {
	return slices.Clone(r.defs)
}

// Names returns every accepted name: logical names first, then aliases
func (r *Registry) Names() []string {
	names := make([]string, 0, 2*len(r.defs))
	for _, d := range r.defs {
		names = append(names, d.Name)
	}
	for _, d := range r.defs {
		names = append(names, d.JobName)
	}
	return names
}

// JobRunner executes a job; batch.Runner implements it
type JobRunner interface {
	Run(ctx context.Context, job *batch.Job, params domain.RunParameters) (*domain.JobExecution, error)
}

// Launcher launches registered jobs
type Launcher struct {
	registry *Registry
	runner   JobRunner
	logger   *slog.Logger
	now      func() time.Time
	runID    func() string
}

// New creates a Launcher
func New(registry *Registry, runner JobRunner, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		registry: registry,
		runner:   runner,
		logger:   logger,
		now:      time.Now,
		runID:    func() string { return uuid.NewString() },
	}
}

// Registry returns the registry the launcher resolves names against
func (l *Launcher) Registry() *Registry {
	return l.registry
}

// Result is a finished launch
type Result struct {
	Definition Definition
	Execution  *domain.JobExecution
}

// Succeeded reports whether the run completed
func (r *Result) Succeeded() bool {
	return r != nil && r.Execution != nil && r.Execution.Status == domain.StatusCompleted
}

// Parameters builds the run parameters of a new launch of def
func (l *Launcher) Parameters(def Definition) domain.RunParameters {
	return domain.NewRunParameters().
		AddTimestamp(domain.ParamStartTime, l.now()).
		AddString(domain.ParamJobName, def.Name).
		AddString(domain.ParamRunID, l.runID())
}

// Launch resolves name and runs the job synchronously
func (l *Launcher) Launch(ctx context.Context, name string) (*Result, error) {
	def, err := l.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	l.logger.Info("starting job", "name", def.Name, "job", def.JobName)
	exec, err := l.runner.Run(ctx, def.Build(), l.Parameters(def))
	if err != nil {
		l.logger.Error("job could not be launched", "name", def.Name, "error", err)
		return nil, err
	}

	l.logger.Info("job completed", "name", def.Name, "status", exec.Status, "execution_id", exec.ID)
	return &Result{Definition: def, Execution: exec}, nil
}
