package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Exit codes of a command-line launch
const (
	ExitOK     = 0
	ExitFailed = 1
)

// CLIOptions are the inputs of a command-line launch
type CLIOptions struct {
	Job              string
	AutoRun          bool
	ExitOnCompletion bool
}

// Select decides which job a command-line invocation runs. ok is false when no
// job is requested and auto-run is disabled.
func Select(opts CLIOptions) (name string, ok bool) {
	if opts.Job != "" {
		return opts.Job, true
	}
	if opts.AutoRun {
		return DefaultJob, true
	}
	return "", false
}

// ExitCode maps the outcome of a command-line launch to a process exit code
func ExitCode(succeeded, exitOnCompletion bool) int {
	if !exitOnCompletion || succeeded {
		return ExitOK
	}
	return ExitFailed
}

// RunCLI performs a command-line launch and returns the process exit code.
// Without a job to run, usage is written to w and nothing is launched.
func (l *Launcher) RunCLI(ctx context.Context, opts CLIOptions, w io.Writer) int {
	name, ok := Select(opts)
	if !ok {
		l.logger.Info("batch auto-run is disabled; use --job or the HTTP API to trigger jobs")
		l.Usage(w)
		return ExitOK
	}

	res, err := l.Launch(ctx, name)
	if errors.Is(err, ErrJobNotFound) {
		l.logger.Error("unknown job", "name", name, "available", l.registry.Names())
	}
	return ExitCode(err == nil && res.Succeeded(), opts.ExitOnCompletion)
}

// Usage writes the command-line and HTTP entry points
func (l *Launcher) Usage(w io.Writer) {
	fmt.Fprintln(w, "Command line usage:")
	for _, name := range l.registry.Names() {
		fmt.Fprintf(w, "  vat-batch --job=%s\n", name)
	}
	fmt.Fprintln(w, "REST API endpoints:")
	for _, d := range l.registry.Definitions() {
		fmt.Fprintf(w, "  POST /api/batch/run/%s\n", d.Name)
	}
	fmt.Fprintln(w, "  GET  /api/batch/jobs")
	fmt.Fprintln(w, "  GET  /api/batch/jobs/{jobName}")
	fmt.Fprintln(w, "  GET  /api/batch/executions/{executionId}")
}
