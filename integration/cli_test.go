//go:build integration

package integration

import (
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// binaryPath builds the CLI once per test binary
func binaryPath(t *testing.T) string {
	t.Helper()
	if builtBinary != "" {
		return builtBinary
	}

	out := filepath.Join(os.TempDir(), "vat-batch-integration")
	cmd := exec.Command("go", "build", "-o", out, "../cmd/vat-batch")
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, output)
	}
	builtBinary = out
	return out
}

var builtBinary string

// run executes the CLI and returns its combined output and exit code
func run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(binaryPath(t), args...)
	cmd.Env = append(os.Environ(), "VAT_BATCH_AUTO_RUN=false")
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), exitErr.ExitCode()
	}
	if err != nil {
		t.Fatalf("running %v: %v", args, err)
	}
	return string(out), 0
}

func TestCLI_NoJobPrintsUsage(t *testing.T) {
	ws := NewWorkspace(t, InputFile(t))

	out, code := run(t, "--config", ws.ConfigPath)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0\n%s", code, out)
	}
	if !strings.Contains(out, "--job=vat-calculation") {
		t.Errorf("expected usage in output, got: %s", out)
	}
}

func TestCLI_CalculateThenExport(t *testing.T) {
	ws := NewWorkspace(t, InputFile(t))

	if out, code := run(t, "--config", ws.ConfigPath, "--job", "vat-calculation"); code != 0 {
		t.Fatalf("vat-calculation exit code = %d\n%s", code, out)
	}
	if out, code := run(t, "--config", ws.ConfigPath, "--job", "export-json"); code != 0 {
		t.Fatalf("export-json exit code = %d\n%s", code, out)
	}

	files, _ := filepath.Glob(filepath.Join(ws.OutputDir, "vat_calculations_export_*.json"))
	if len(files) != 1 {
		t.Fatalf("export files = %v, want 1", files)
	}

	out, code := run(t, "--config", ws.ConfigPath, "jobs", "--json")
	if code != 0 {
		t.Fatalf("jobs exit code = %d\n%s", code, out)
	}
	var overview struct {
		JobStatuses map[string]struct {
			Status string `json:"status"`
		} `json:"jobStatuses"`
	}
	if err := json.Unmarshal([]byte(out), &overview); err != nil {
		t.Fatalf("jobs output is not JSON: %v\n%s", err, out)
	}
	for _, job := range []string{"vatCalculationJob", "exportVatCalculationsJob"} {
		if got := overview.JobStatuses[job].Status; got != "COMPLETED" {
			t.Errorf("%s status = %q, want COMPLETED", job, got)
		}
	}
}

func TestCLI_MalformedInputExitsOne(t *testing.T) {
	input := filepath.Join(t.TempDir(), "broken.csv")
	content := "price,vatRate\n100.00,0.07\nabc,0.07\n"
	if err := os.WriteFile(input, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	ws := NewWorkspace(t, input)

	out, code := run(t, "--config", ws.ConfigPath, "--job", "vat-calculation")
	if code != 1 {
		t.Errorf("exit code = %d, want 1\n%s", code, out)
	}

	out, code = run(t, "--config", ws.ConfigPath, "history", "vatCalculationJob")
	if code != 0 || !strings.Contains(out, "FAILED") {
		t.Errorf("history = %d\n%s", code, out)
	}
}

func TestCLI_UnknownJobExitsOne(t *testing.T) {
	ws := NewWorkspace(t, InputFile(t))

	out, code := run(t, "--config", ws.ConfigPath, "--job", "cleanup")
	if code != 1 {
		t.Errorf("exit code = %d, want 1\n%s", code, out)
	}
}
