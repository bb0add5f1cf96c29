package launcher

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/vat-batch/internal/batch"
	"github.com/hochfrequenz/vat-batch/internal/export"
	"github.com/hochfrequenz/vat-batch/internal/pricestore"
	"github.com/hochfrequenz/vat-batch/internal/vat"
)

// JobsConfig configures the built-in jobs
type JobsConfig struct {
	InputFile string
	OutputDir string
	ChunkSize int
	Mirror    export.Uploader
	Logger    *slog.Logger
	Now       func() time.Time
}

// Jobs returns the registry of the vat-calculation and export-json jobs
func Jobs(cfg JobsConfig, prices *pricestore.Store) *Registry {
	return NewRegistry(
		Definition{
			Name:    "vat-calculation",
			JobName: vat.JobName,
			Title:   "VAT Calculation Job",
			Build: func() *batch.Job {
				return vat.NewJob(vat.JobConfig{
					InputFile: cfg.InputFile,
					ChunkSize: cfg.ChunkSize,
					Now:       cfg.Now,
				}, prices)
			},
		},
		Definition{
			Name:           "export-json",
			JobName:        export.JobName,
			Title:          "Export JSON Job",
			OutputLocation: filepath.Clean(cfg.OutputDir) + string(filepath.Separator),
			Build: func() *batch.Job {
				return export.NewJob(export.JobConfig{
					OutputDir: cfg.OutputDir,
					ChunkSize: cfg.ChunkSize,
					Mirror:    cfg.Mirror,
					Logger:    cfg.Logger,
					Now:       cfg.Now,
				}, prices)
			},
		},
	)
}
