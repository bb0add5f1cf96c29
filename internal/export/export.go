// Package export implements the export-json job: stored calculations are read in
// id order and written as one JSON document per run.
package export

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/hochfrequenz/vat-batch/internal/batch"
	"github.com/hochfrequenz/vat-batch/internal/domain"
	"github.com/hochfrequenz/vat-batch/internal/pricestore"
)

const (
	JobName  = "exportVatCalculationsJob"
	StepName = "exportToJsonStep"
)

// Pager reads calculations with an id greater than afterID in ascending id order
type Pager interface {
	Page(ctx context.Context, afterID int64, limit int) ([]domain.PriceCalculation, error)
}

// PagedSource reads all stored calculations, PageSize at a time, ordered by id
type PagedSource struct {
	Pager    Pager
	PageSize int
}

// Read implements batch.Source
func (s *PagedSource) Read(ctx context.Context) iter.Seq2[domain.PriceCalculation, error] {
	size := s.PageSize
	if size <= 0 {
		size = batch.DefaultChunkSize
	}

	return func(yield func(domain.PriceCalculation, error) bool) {
		var after int64
		for {
			page, err := s.Pager.Page(ctx, after, size)
			if err != nil {
				yield(domain.PriceCalculation{}, err)
				return
			}
			for _, c := range page {
				if !yield(c, nil) {
					return
				}
				after = c.ID
			}
			if len(page) < size {
				return
			}
		}
	}
}

// Transform reshapes a calculation into its export form
var Transform = batch.TransformFunc[domain.PriceCalculation, domain.ExportRecord](
	func(_ context.Context, c domain.PriceCalculation) (domain.ExportRecord, error) {
		return domain.NewExportRecord(c), nil
	},
)

// JobConfig configures the export-json job
type JobConfig struct {
	OutputDir string
	ChunkSize int
	Mirror    Uploader
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewJob builds the export-json job definition. Every call creates a fresh sink,
// so concurrent runs never share a buffer.
func NewJob(cfg JobConfig, prices *pricestore.Store) *batch.Job {
	return batch.NewJob(JobName, &batch.ChunkStep[domain.PriceCalculation, domain.ExportRecord]{
		StepName:  StepName,
		ChunkSize: cfg.ChunkSize,
		Source:    &PagedSource{Pager: prices, PageSize: cfg.ChunkSize},
		Transform: Transform,
		Sink: &JSONFileSink{
			Dir:    cfg.OutputDir,
			Mirror: cfg.Mirror,
			Logger: cfg.Logger,
			Now:    cfg.Now,
		},
	})
}
