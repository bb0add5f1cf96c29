package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/vat-batch/internal/domain"
)

const sendTimeout = 5 * time.Second

// Listener is a batch.JobListener that announces finished executions
type Listener struct {
	notifier     Notifier
	failuresOnly bool
	logger       *slog.Logger
}

// NewListener creates a Listener. With failuresOnly, completed runs are not announced.
func NewListener(n Notifier, failuresOnly bool, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{notifier: n, failuresOnly: failuresOnly, logger: logger}
}

func (l *Listener) BeforeJob(context.Context, *domain.JobExecution) {}

// AfterJob sends the notification. Delivery failures are logged and never
// change the outcome of the run.
func (l *Listener) AfterJob(ctx context.Context, exec *domain.JobExecution) {
	n := Summarize(exec)
	if l.failuresOnly && n.Level != LevelError {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()
	if err := l.notifier.Send(ctx, n); err != nil {
		l.logger.Warn("notification failed", "job", exec.JobName, "execution_id", exec.ID, "error", err)
	}
}

// Summarize builds the notification for a finished execution
func Summarize(exec *domain.JobExecution) Notification {
	var read, written int64
	for _, s := range exec.StepExecutions {
		read += s.ReadCount
		written += s.WriteCount
	}

	n := Notification{
		JobName:     exec.JobName,
		ExecutionID: exec.ID,
		Title:       fmt.Sprintf("%s %s", exec.JobName, exec.Status),
		Message: fmt.Sprintf("read %s, wrote %s in %s",
			humanize.Comma(read), humanize.Comma(written), exec.Duration().Round(time.Millisecond)),
	}
	switch exec.Status {
	case domain.StatusCompleted:
		n.Level = LevelSuccess
	case domain.StatusFailed:
		n.Level = LevelError
		if exec.ExitMessage != "" {
			n.Message += ": " + exec.ExitMessage
		}
	}
	return n
}
