// Package batch runs chunk-oriented jobs: a Source is read in fixed-size chunks,
// every item goes through a Transform and each chunk is written by a Sink inside
// its own transaction.
package batch

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/hochfrequenz/vat-batch/internal/domain"
	"github.com/hochfrequenz/vat-batch/internal/store"
)

// DefaultChunkSize is used when a step does not set one
const DefaultChunkSize = 10

var (
	// ErrSinkFailed wraps errors raised while writing or committing a chunk
	ErrSinkFailed = errors.New("sink failed")
	// ErrFiltered is returned by a Transform to drop an item without failing the step
	ErrFiltered = errors.New("item filtered")
)

// Source produces the items of a step. The sequence is lazy, finite and read once.
type Source[I any] interface {
	Read(ctx context.Context) iter.Seq2[I, error]
}

// SourceFunc adapts a function to Source
type SourceFunc[I any] func(ctx context.Context) iter.Seq2[I, error]

func (f SourceFunc[I]) Read(ctx context.Context) iter.Seq2[I, error] { return f(ctx) }

// Transform converts one input item into one output item
type Transform[I, O any] interface {
	Process(ctx context.Context, item I) (O, error)
}

// TransformFunc adapts a function to Transform
type TransformFunc[I, O any] func(ctx context.Context, item I) (O, error)

func (f TransformFunc[I, O]) Process(ctx context.Context, item I) (O, error) { return f(ctx, item) }

// Sink persists one chunk of output items. q is the chunk transaction, or nil
// when the step has no Transactor.
type Sink[O any] interface {
	Write(ctx context.Context, q store.Querier, items []O) error
}

// BufferedSink is a Sink whose Write only accumulates; the physical write
// happens once in Flush after the Source is exhausted.
type BufferedSink[O any] interface {
	Sink[O]
	Flush(ctx context.Context) error
}

// Transactor opens the per-chunk transaction on the datastore a Sink writes to
type Transactor interface {
	BeginTx(ctx context.Context) (*store.Tx, error)
}

// ChunkFunc is called after every committed chunk
type ChunkFunc func(ctx context.Context, step *domain.StepExecution, size int)

// Step is one unit of a job
type Step interface {
	Name() string
	Execute(ctx context.Context, exec *domain.StepExecution, afterChunk ChunkFunc) error
}

// ChunkStep is a read-process-write loop over chunks of ChunkSize items
type ChunkStep[I, O any] struct {
	StepName   string
	ChunkSize  int
	Source     Source[I]
	Transform  Transform[I, O]
	Sink       Sink[O]
	Transactor Transactor
}

// Name returns the step name
func (s *ChunkStep[I, O]) Name() string {
	return s.StepName
}

// Execute runs the chunk loop until the Source is exhausted. Counters on exec
// are updated as chunks are read and committed; the first error ends the loop.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, exec *domain.StepExecution, afterChunk ChunkFunc) error {
	size := s.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}

	next, stop := iter.Pull2(s.Source.Read(ctx))
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		items, exhausted, err := pull(next, size)
		exec.ReadCount += int64(len(items))
		if err != nil {
			return fmt.Errorf("reading item %d: %w", exec.ReadCount+1, err)
		}
		if len(items) == 0 {
			break
		}

		out := make([]O, 0, len(items))
		for _, item := range items {
			o, err := s.Transform.Process(ctx, item)
			if errors.Is(err, ErrFiltered) {
				exec.FilterCount++
				continue
			}
			if err != nil {
				return fmt.Errorf("processing item: %w", err)
			}
			out = append(out, o)
		}

		if rolledBack, err := s.write(ctx, out); err != nil {
			if rolledBack {
				exec.RollbackCount++
			}
			return err
		}
		exec.WriteCount += int64(len(out))
		exec.CommitCount++

		if afterChunk != nil {
			afterChunk(ctx, exec, len(out))
		}
		if exhausted {
			break
		}
	}

	if buffered, ok := s.Sink.(BufferedSink[O]); ok {
		if err := buffered.Flush(ctx); err != nil {
			return fmt.Errorf("%w: flush: %w", ErrSinkFailed, err)
		}
	}
	return nil
}

// write hands one chunk to the Sink inside a transaction of its own.
// rolledBack reports that a transaction was opened and then abandoned.
func (s *ChunkStep[I, O]) write(ctx context.Context, items []O) (rolledBack bool, err error) {
	if s.Transactor == nil {
		if err := s.Sink.Write(ctx, nil, items); err != nil {
			return false, fmt.Errorf("%w: %w", ErrSinkFailed, err)
		}
		return false, nil
	}

	tx, err := s.Transactor.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: begin: %w", ErrSinkFailed, err)
	}
	if err := s.Sink.Write(ctx, tx, items); err != nil {
		_ = tx.Rollback()
		return true, fmt.Errorf("%w: %w", ErrSinkFailed, err)
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return true, fmt.Errorf("%w: commit: %w", ErrSinkFailed, err)
	}
	return false, nil
}

// pull reads up to n items. exhausted reports that the Source has no more items.
func pull[I any](next func() (I, error, bool), n int) (items []I, exhausted bool, err error) {
	items = make([]I, 0, n)
	for len(items) < n {
		item, err, ok := next()
		if !ok {
			return items, true, nil
		}
		if err != nil {
			return items, false, err
		}
		items = append(items, item)
	}
	return items, false, nil
}
