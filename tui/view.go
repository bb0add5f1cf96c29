package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/vat-batch/internal/monitor"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "COMPLETED":
		return completedStyle
	case "FAILED":
		return failedStyle
	case "STARTING", "STARTED":
		return runningStyle
	default:
		return mutedStyle
	}
}

// View renders the dashboard
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("VAT Batch"))
	b.WriteString("\n")

	if m.overview == nil {
		if m.err != nil {
			b.WriteString(failedStyle.Render("error: " + m.err.Error()))
		} else {
			b.WriteString(mutedStyle.Render("loading..."))
		}
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(sectionStyle.Render(m.renderJobs()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(m.renderHistory()))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderJobs() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-28s %-14s %-16s %8s %8s", "JOB", "STATUS", "STARTED", "READ", "WRITTEN")))
	b.WriteString("\n")

	for i, name := range m.overview.JobNames {
		st := m.overview.JobStatuses[name]
		var read, written int64
		for _, s := range st.StepSummary {
			read += s.ReadCount
			written += s.WriteCount
		}

		cursor, nameCell := "  ", fmt.Sprintf("%-28s", name)
		if i == m.selected {
			cursor, nameCell = "> ", selectedStyle.Render(nameCell)
		}
		fmt.Fprintf(&b, "%s%s %s %-16s %8s %8s\n",
			cursor, nameCell,
			statusStyle(st.Status).Render(fmt.Sprintf("%-14s", st.Status)),
			relative(st.StartTime),
			humanize.Comma(read), humanize.Comma(written))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderHistory() string {
	if m.history == nil {
		return mutedStyle.Render("no executions for " + m.selectedJob())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", selectedStyle.Render(m.history.JobName),
		mutedStyle.Render(fmt.Sprintf("%d executions", m.history.TotalInstances)))
	b.WriteString(headerStyle.Render(fmt.Sprintf("%6s %-12s %-16s %10s", "ID", "STATUS", "STARTED", "DURATION")))
	b.WriteString("\n")
	for _, e := range m.history.RecentExecutions {
		fmt.Fprintf(&b, "%6d %s %-16s %10s\n",
			e.ExecutionID,
			statusStyle(e.Status).Render(fmt.Sprintf("%-12s", e.Status)),
			relative(e.StartTime),
			elapsed(e))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderStatusBar() string {
	left := " j/k: select  r: refresh  q: quit "
	right := ""
	if !m.lastRefresh.IsZero() {
		right = " updated " + m.lastRefresh.Format("15:04:05") + " "
	}
	if m.err != nil {
		right = " " + m.err.Error() + " "
	}
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return statusBarStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func relative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}

func elapsed(e monitor.ExecutionSummary) string {
	if e.DurationMs == nil {
		return "-"
	}
	return (time.Duration(*e.DurationMs) * time.Millisecond).Round(time.Millisecond).String()
}
