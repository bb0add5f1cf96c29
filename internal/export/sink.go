package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hochfrequenz/vat-batch/internal/domain"
	"github.com/hochfrequenz/vat-batch/internal/store"
)

// Document metadata values
const (
	Source  = "batch-processing-system"
	Version = "1.0"
	Format  = "JSON"
)

const (
	fileTimeLayout = "20060102_150405"
	timeLayout     = "2006-01-02 15:04:05"
)

// FileName returns the export file name for a run flushed at t
func FileName(t time.Time) string {
	return "vat_calculations_export_" + t.Format(fileTimeLayout) + ".json"
}

// Document is the exported JSON file
type Document struct {
	ExportInfo      Info     `json:"exportInfo"`
	VatCalculations []Record `json:"vatCalculations"`
}

// Info describes an export
type Info struct {
	ExportTimestamp string `json:"exportTimestamp"`
	RecordCount     int    `json:"recordCount"`
	Source          string `json:"source"`
	Version         string `json:"version"`
	Format          string `json:"format"`
}

// Record is the JSON form of domain.ExportRecord. Amounts are numbers with a fixed scale.
type Record struct {
	ID            int64       `json:"id"`
	OriginalPrice json.Number `json:"originalPrice"`
	VatRate       json.Number `json:"vatRate"`
	VatAmount     json.Number `json:"vatAmount"`
	TotalPrice    json.Number `json:"totalPrice"`
	ProcessedAt   string      `json:"processedAt"`
}

// newRecord renders r with its timestamp in loc, the zone of the export timestamp
func newRecord(r domain.ExportRecord, loc *time.Location) Record {
	return Record{
		ID:            r.ID,
		OriginalPrice: json.Number(r.OriginalPrice.StringFixed(2)),
		VatRate:       json.Number(r.VatRate.StringFixed(4)),
		VatAmount:     json.Number(r.VatAmount.StringFixed(2)),
		TotalPrice:    json.Number(r.TotalPrice.StringFixed(2)),
		ProcessedAt:   r.ProcessedAt.In(loc).Format(timeLayout),
	}
}

// JSONFileSink buffers every record of a run and writes them as one document
// on Flush. Use one sink per run.
type JSONFileSink struct {
	Dir    string
	Mirror Uploader
	Logger *slog.Logger
	Now    func() time.Time

	mu      sync.Mutex
	records []domain.ExportRecord
}

// Write implements batch.Sink; it only accumulates
func (s *JSONFileSink) Write(_ context.Context, _ store.Querier, items []domain.ExportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, items...)
	return nil
}

// Flush implements batch.BufferedSink. An empty run writes no file.
func (s *JSONFileSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.logger()
	if len(s.records) == 0 {
		logger.Info("no records to export")
		return nil
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ts := now()

	doc := Document{
		ExportInfo: Info{
			ExportTimestamp: ts.Format(timeLayout),
			RecordCount:     len(s.records),
			Source:          Source,
			Version:         Version,
			Format:          Format,
		},
		VatCalculations: make([]Record, 0, len(s.records)),
	}
	for _, r := range s.records {
		doc.VatCalculations = append(doc.VatCalculations, newRecord(r, ts.Location()))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	name := FileName(ts)
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	logger.Info("exported records", "count", len(s.records), "file", path)

	if s.Mirror != nil {
		if err := s.Mirror.Upload(ctx, name, buf.Bytes()); err != nil {
			return fmt.Errorf("mirroring %s: %w", name, err)
		}
		logger.Info("mirrored export", "object", name)
	}
	return nil
}

func (s *JSONFileSink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
