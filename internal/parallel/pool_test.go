package parallel_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/fieldgrid/internal/errors"
	"github.com/fieldgrid/fieldgrid/internal/parallel"
)

func TestPool_PreservesOrder(t *testing.T) {
	pool := parallel.NewPool[int, int](4, nil)

	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	results, err := pool.Process(context.Background(), items, func(_ context.Context, item int) (int, error) {
		// Later items finish first, the fan-in must still realign them.
		time.Sleep(time.Duration(50-item) * time.Microsecond)
		return item * item, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 50)

	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.NoError(t, r.Err)
		assert.Equal(t, i*i, r.Value)
	}
}

func TestPool_PerItemErrorsDoNotAbort(t *testing.T) {
	pool := parallel.NewPool[int, int](2, nil)

	results, err := pool.Process(context.Background(), []int{1, 2, 3, 4}, func(_ context.Context, item int) (int, error) {
		if item%2 == 0 {
			return 0, fmt.Errorf("item %d failed", item)
		}
		return item, nil
	})
	require.NoError(t, err)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Error(t, results[3].Err)
}

func TestPool_PanicIsPoolCrash(t *testing.T) {
	pool := parallel.NewPool[int, int](2, nil)

	results, err := pool.Process(context.Background(), []int{0, 1, 2, 3}, func(_ context.Context, item int) (int, error) {
		if item == 2 {
			panic("worker died")
		}
		return item, nil
	})
	require.Error(t, err)

	var engineErr *errors.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, errors.KindPoolCrashed, engineErr.Kind)
	assert.True(t, stderrors.Is(err, errors.ErrPoolCrashed))

	// Healthy items still completed.
	assert.Equal(t, 1, results[1].Value)
	assert.Error(t, results[2].Err)
}

func TestPool_CancellationStopsDispatch(t *testing.T) {
	pool := parallel.NewPool[int, int](1, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var processed atomic.Int32
	items := make([]int, 1000)

	_, err := pool.Process(ctx, items, func(_ context.Context, _ int) (int, error) {
		if processed.Add(1) == 3 {
			cancel()
		}
		return 0, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, processed.Load(), int32(1000))
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	pool := parallel.NewPool[int, int](workers, nil)

	var inFlight, peak atomic.Int32
	items := make([]int, 64)

	_, err := pool.Process(context.Background(), items, func(_ context.Context, _ int) (int, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return 0, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.Positive(t, peak.Load())
}

func TestPool_EmptyInput(t *testing.T) {
	pool := parallel.NewPool[int, int](4, nil)
	results, err := pool.Process(context.Background(), nil, func(_ context.Context, item int) (int, error) {
		return item, nil
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}
