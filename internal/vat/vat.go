// Package vat implements the vat-calculation job: prices are read from a CSV
// file, VAT and totals are computed and the results stored in the business store.
package vat

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hochfrequenz/vat-batch/internal/batch"
	"github.com/hochfrequenz/vat-batch/internal/domain"
	"github.com/hochfrequenz/vat-batch/internal/pricestore"
	"github.com/hochfrequenz/vat-batch/internal/store"
)

const (
	JobName  = "vatCalculationJob"
	StepName = "processVatCalculationStep"
)

// ErrMalformedRecord is returned for input records that cannot be parsed
var ErrMalformedRecord = errors.New("malformed record")

// Calculate computes VAT and total, both rounded to 2 places half away from zero
func Calculate(in domain.PriceInput) (vatAmount, totalPrice decimal.Decimal) {
	vatAmount = in.Price.Mul(in.VatRate).Round(2)
	totalPrice = in.Price.Add(vatAmount).Round(2)
	return vatAmount, totalPrice
}

// FileSource reads price,vatRate records from a CSV file with one header line
type FileSource struct {
	Path string
}

// Read implements batch.Source
func (s *FileSource) Read(ctx context.Context) iter.Seq2[domain.PriceInput, error] {
	return func(yield func(domain.PriceInput, error) bool) {
		f, err := os.Open(s.Path)
		if err != nil {
			yield(domain.PriceInput{}, fmt.Errorf("opening input: %w", err))
			return
		}
		defer f.Close()

		r := csv.NewReader(f)
		r.FieldsPerRecord = 2
		r.TrimLeadingSpace = true

		header := true
		for {
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if header {
				header = false
				if err == nil {
					continue
				}
			}
			if err != nil {
				yield(domain.PriceInput{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err))
				return
			}

			line, _ := r.FieldPos(0)
			in, err := parseRecord(rec)
			if err != nil {
				yield(domain.PriceInput{}, fmt.Errorf("%w: line %d: %w", ErrMalformedRecord, line, err))
				return
			}
			if !yield(in, nil) {
				return
			}
		}
	}
}

func parseRecord(rec []string) (domain.PriceInput, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(rec[0]))
	if err != nil {
		return domain.PriceInput{}, fmt.Errorf("price %q: %w", rec[0], err)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(rec[1]))
	if err != nil {
		return domain.PriceInput{}, fmt.Errorf("vatRate %q: %w", rec[1], err)
	}
	return domain.PriceInput{Price: price, VatRate: rate}, nil
}

// Processor turns a PriceInput into a PriceCalculation stamped with the processing time
type Processor struct {
	Now func() time.Time
}

// Process implements batch.Transform
func (p *Processor) Process(_ context.Context, in domain.PriceInput) (domain.PriceCalculation, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	vatAmount, total := Calculate(in)
	return domain.PriceCalculation{
		OriginalPrice: in.Price,
		VatRate:       in.VatRate,
		VatAmount:     vatAmount,
		TotalPrice:    total,
		CreatedAt:     now(),
	}, nil
}

// Sink stores calculations in the chunk transaction
type Sink struct {
	Prices *pricestore.Store
}

// Write implements batch.Sink
func (s *Sink) Write(ctx context.Context, q store.Querier, items []domain.PriceCalculation) error {
	for i := range items {
		if err := s.Prices.Insert(ctx, q, &items[i]); err != nil {
			return err
		}
	}
	return nil
}

// JobConfig configures the vat-calculation job
type JobConfig struct {
	InputFile string
	ChunkSize int
	Now       func() time.Time
}

// NewJob builds the vat-calculation job definition
func NewJob(cfg JobConfig, prices *pricestore.Store) *batch.Job {
	return batch.NewJob(JobName, &batch.ChunkStep[domain.PriceInput, domain.PriceCalculation]{
		StepName:   StepName,
		ChunkSize:  cfg.ChunkSize,
		Source:     &FileSource{Path: cfg.InputFile},
		Transform:  &Processor{Now: cfg.Now},
		Sink:       &Sink{Prices: prices},
		Transactor: prices,
	})
}
