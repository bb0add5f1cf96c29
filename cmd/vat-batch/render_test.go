package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/vat-batch/internal/monitor"
)

func TestRenderOverview(t *testing.T) {
	started := time.Now().Add(-2 * time.Hour)
	o := &monitor.Overview{
		TotalJobs: 2,
		JobNames:  []string{"exportVatCalculationsJob", "vatCalculationJob"},
		JobStatuses: map[string]monitor.LatestStatus{
			"exportVatCalculationsJob": {Status: monitor.StatusNoExecutions},
			"vatCalculationJob": {
				Status:    "COMPLETED",
				StartTime: &started,
				StepSummary: []monitor.StepSummary{
					{StepName: "processVatCalculationStep", ReadCount: 12500, WriteCount: 12500},
				},
			},
		},
	}

	var buf bytes.Buffer
	renderOverview(&buf, o)
	out := buf.String()

	for _, want := range []string{"Jobs (2)", "vatCalculationJob", "COMPLETED", "12,500", "2 hours ago", monitor.StatusNoExecutions} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderHistory(t *testing.T) {
	ms := int64(1500)
	h := &monitor.History{
		JobName:        "vatCalculationJob",
		TotalInstances: 3,
		RecentExecutions: []monitor.ExecutionSummary{
			{ExecutionID: 3, Status: "FAILED", ExitCode: "FAILED", DurationMs: &ms, StepCount: 1},
			{ExecutionID: 2, Status: "STARTED", ExitCode: "EXECUTING"},
		},
	}

	var buf bytes.Buffer
	renderHistory(&buf, h)
	out := buf.String()

	for _, want := range []string{"vatCalculationJob (3 executions)", "FAILED", "1.5s", "EXECUTING"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderDetail(t *testing.T) {
	d := &monitor.Detail{
		Execution: monitor.ExecutionSummary{ExecutionID: 7, JobName: "exportVatCalculationsJob", Status: "COMPLETED", ExitCode: "COMPLETED"},
		Steps: []monitor.StepDetail{
			{StepName: "exportToJsonStep", Status: "COMPLETED", ReadCount: 23, WriteCount: 23, CommitCount: 3},
		},
	}

	var buf bytes.Buffer
	renderDetail(&buf, d)
	out := buf.String()

	for _, want := range []string{"Execution 7: exportVatCalculationsJob", "exportToJsonStep", "23"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
