//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// TestdataDir returns the repository testdata directory
func TestdataDir(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(filename), "..", "testdata")
}

// InputFile returns the sample price file
func InputFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(TestdataDir(t), "input-data.csv")
}

// Workspace holds the paths of one isolated CLI environment
type Workspace struct {
	Dir        string
	ConfigPath string
	OutputDir  string
}

// NewWorkspace writes a config that keeps both datastores and exports under a temp dir
func NewWorkspace(t *testing.T, inputFile string) *Workspace {
	t.Helper()
	dir := t.TempDir()
	ws := &Workspace{
		Dir:        dir,
		ConfigPath: filepath.Join(dir, "config.toml"),
		OutputDir:  filepath.Join(dir, "exports"),
	}

	config := `[metadata_store]
driver = "sqlite"
dsn = "` + filepath.Join(dir, "meta.db") + `"

[business_store]
driver = "sqlite"
dsn = "` + filepath.Join(dir, "business.db") + `"

[batch]
chunk_size = 2
input_file = "` + inputFile + `"
output_dir = "` + ws.OutputDir + `"
exit_on_completion = true

[log]
level = "warn"
`
	if err := os.WriteFile(ws.ConfigPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return ws
}
