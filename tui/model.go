// Package tui is a terminal dashboard over the execution ledger.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/vat-batch/internal/monitor"
)

// DefaultInterval is the refresh period of the dashboard
const DefaultInterval = 2 * time.Second

// Source provides the data shown by the dashboard; monitor.Service implements it
type Source interface {
	JobsStatus(ctx context.Context) (*monitor.Overview, error)
	JobHistory(ctx context.Context, jobName string) (*monitor.History, error)
}

// Model is the TUI application model
type Model struct {
	source   Source
	interval time.Duration

	// Data
	overview *monitor.Overview
	history  *monitor.History
	err      error

	// UI state
	width    int
	height   int
	selected int

	lastRefresh time.Time
}

// NewModel creates a new TUI model
func NewModel(source Source, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return Model{source: source, interval: interval}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), tickCmd(m.interval))
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// RefreshMsg carries freshly loaded ledger data
type RefreshMsg struct {
	Overview *monitor.Overview
	History  *monitor.History
	Err      error
	At       time.Time
}

// selectedJob returns the job under the cursor, "" when there are none
func (m Model) selectedJob() string {
	if m.overview == nil || len(m.overview.JobNames) == 0 {
		return ""
	}
	return m.overview.JobNames[m.selected]
}

func (m Model) refreshCmd() tea.Cmd {
	source, job := m.source, m.selectedJob()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		msg := RefreshMsg{At: time.Now()}
		msg.Overview, msg.Err = source.JobsStatus(ctx)
		if msg.Err != nil {
			return msg
		}
		if job == "" && len(msg.Overview.JobNames) > 0 {
			job = msg.Overview.JobNames[0]
		}
		if job != "" {
			// jobs without executions have no history
			msg.History, _ = source.JobHistory(ctx, job)
		}
		return msg
	}
}
