package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info", "json")
	if err != nil {
		t.Fatal(err)
	}

	logger.Debug("hidden")
	logger.Info("job finished", "job", "vatCalculationJob")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1:\n%s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "job finished" || rec["job"] != "vatCalculationJob" {
		t.Errorf("record = %v", rec)
	}
}

func TestNew_TextDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "DEBUG", "text")
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("chunk committed", "items", 10)

	if !strings.Contains(buf.String(), "items=10") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
