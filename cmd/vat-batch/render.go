package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/vat-batch/internal/monitor"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
)

func styleStatus(status string) string {
	switch status {
	case "COMPLETED":
		return completedStyle.Render(status)
	case "FAILED":
		return failedStyle.Render(status)
	case monitor.StatusNoExecutions:
		return mutedStyle.Render(status)
	default:
		return status
	}
}

func since(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}

func duration(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return (time.Duration(*ms) * time.Millisecond).String()
}

func renderOverview(w io.Writer, o *monitor.Overview) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Jobs (%d)", o.TotalJobs)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tSTARTED\tREAD\tWRITTEN")
	for _, name := range o.JobNames {
		st := o.JobStatuses[name]
		var read, written int64
		for _, s := range st.StepSummary {
			read += s.ReadCount
			written += s.WriteCount
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			name, styleStatus(st.Status), since(st.StartTime),
			humanize.Comma(read), humanize.Comma(written))
	}
	tw.Flush()
}

func renderHistory(w io.Writer, h *monitor.History) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s (%d executions)", h.JobName, h.TotalInstances)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tEXIT\tSTARTED\tDURATION\tSTEPS")
	for _, e := range h.RecentExecutions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n",
			e.ExecutionID, styleStatus(e.Status), e.ExitCode,
			since(e.StartTime), duration(e.DurationMs), e.StepCount)
	}
	tw.Flush()
}

func renderDetail(w io.Writer, d *monitor.Detail) {
	e := d.Execution
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Execution %d: %s", e.ExecutionID, e.JobName)))
	fmt.Fprintf(w, "Status:   %s (%s)\n", styleStatus(e.Status), e.ExitCode)
	fmt.Fprintf(w, "Started:  %s\n", since(e.StartTime))
	fmt.Fprintf(w, "Duration: %s\n\n", duration(e.DurationMs))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tREAD\tWRITTEN\tSKIPPED\tCOMMITS\tROLLBACKS")
	for _, s := range d.Steps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			s.StepName, styleStatus(s.Status),
			humanize.Comma(s.ReadCount), humanize.Comma(s.WriteCount), humanize.Comma(s.SkipCount),
			s.CommitCount, s.RollbackCount)
	}
	tw.Flush()
}
