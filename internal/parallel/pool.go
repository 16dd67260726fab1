// Package parallel provides a bounded, order-preserving worker pool for
// per-frame computations.
package parallel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fieldgrid/fieldgrid/internal/errors"
)

// Result pairs one item's outcome with its input position. Per-item errors
// are reported here so callers decide whether a failed item aborts the batch
// or is merely excluded.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Pool fans work out over a fixed number of goroutines and fans results back
// in input order.
type Pool[T, R any] struct {
	workers int
	logger  *slog.Logger
}

// NewPool creates a pool with the given worker count (minimum 1).
func NewPool[T, R any](workers int, logger *slog.Logger) *Pool[T, R] {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool[T, R]{workers: workers, logger: logger}
}

// Process applies fn to every item. Results are returned in input order
// regardless of completion order. Cancellation is observed between items:
// already-running work finishes, undispatched items are skipped, and the
// context error is returned. A panicking worker is reported as a pool crash
// after the remaining workers drain.
func (p *Pool[T, R]) Process(ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error)) ([]Result[R], error) {
	results := make([]Result[R], len(items))
	for i := range results {
		results[i].Index = i
	}
	if len(items) == 0 {
		return results, nil
	}

	workers := p.workers
	if workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	var crashMu sync.Mutex
	var crash error

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				p.runOne(ctx, i, items[i], fn, results, &crashMu, &crash)
			}
		}()
	}

dispatch:
	for i := range items {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	crashMu.Lock()
	defer crashMu.Unlock()
	if crash != nil {
		return results, crash
	}
	return results, nil
}

func (p *Pool[T, R]) runOne(ctx context.Context, i int, item T, fn func(ctx context.Context, item T) (R, error),
	results []Result[R], crashMu *sync.Mutex, crash *error) {

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker panicked", slog.Int("item", i), slog.Any("panic", r))
			err := errors.NewPoolCrashedError("Process", fmt.Sprintf("item %d", i), fmt.Errorf("%v", r))
			results[i].Err = err
			crashMu.Lock()
			if *crash == nil {
				*crash = err
			}
			crashMu.Unlock()
		}
	}()

	results[i].Value, results[i].Err = fn(ctx, item)
}
