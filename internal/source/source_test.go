package source_test

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/fieldgrid/internal/frame"
	"github.com/fieldgrid/fieldgrid/internal/source"
)

func memFrames(t *testing.T) []*frame.Frame {
	t.Helper()
	var frames []*frame.Frame
	for i := 0; i < 3; i++ {
		shift := float64(i)
		f, err := frame.New(i, shift*0.1,
			frame.NewColumn("x", []float64{0, 1, 2}, nil),
			frame.NewColumn("p", []float64{shift, shift + 1, shift + 2}, nil),
		)
		require.NoError(t, err)
		frames = append(frames, f)
	}
	return frames
}

func TestMemorySource_FrameAccess(t *testing.T) {
	s, err := source.NewMemorySource(memFrames(t))
	require.NoError(t, err)

	assert.Equal(t, 3, s.FrameCount())
	assert.Equal(t, []string{"p", "x"}, s.Variables())

	f, err := s.Frame(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, f.Time(), 1e-12)

	_, err = s.Frame(context.Background(), 3)
	assert.Error(t, err)
	_, err = s.Frame(context.Background(), -1)
	assert.Error(t, err)
}

func TestMemorySource_RejectsMixedSchemas(t *testing.T) {
	a, err := frame.New(0, 0, frame.NewColumn("x", []float64{1}, nil))
	require.NoError(t, err)
	b, err := frame.New(1, 1, frame.NewColumn("y", []float64{1}, nil))
	require.NoError(t, err)

	_, err = source.NewMemorySource([]*frame.Frame{a, b})
	assert.Error(t, err)
}

func TestMemorySource_IterFrames(t *testing.T) {
	s, err := source.NewMemorySource(memFrames(t))
	require.NoError(t, err)

	var visited []int
	err = s.IterFrames(context.Background(), []string{"p"}, func(f *frame.Frame) error {
		visited = append(visited, f.Index())
		assert.Equal(t, []string{"p"}, f.Columns())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, visited)

	// Restartable: a second pass sees the same sequence.
	count := 0
	err = s.IterFrames(context.Background(), nil, func(f *frame.Frame) error {
		count++
		assert.Len(t, f.Columns(), 2)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMemorySource_IterFramesCancellation(t *testing.T) {
	s, err := source.NewMemorySource(memFrames(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	err = s.IterFrames(ctx, nil, func(f *frame.Frame) error {
		count++
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, count)
}

func buildTable(t *testing.T) arrow.Table {
	t.Helper()
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "frame_index", Type: arrow.PrimitiveTypes.Int64},
		{Name: "time", Type: arrow.PrimitiveTypes.Float64},
		{Name: "x", Type: arrow.PrimitiveTypes.Float64},
		{Name: "p", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues([]int64{0, 0, 0, 1, 1, 1}, nil)
	b.Field(1).(*array.Float64Builder).AppendValues([]float64{0, 0, 0, 0.5, 0.5, 0.5}, nil)
	b.Field(2).(*array.Float64Builder).AppendValues([]float64{0, 1, 2, 0, 1, 2}, nil)
	b.Field(3).(*array.Float64Builder).AppendValues([]float64{10, 11, 12, 20, 21, 22}, nil)

	rec := b.NewRecord()
	defer rec.Release()
	return array.NewTableFromRecords(schema, []arrow.Record{rec})
}

func TestFromTable(t *testing.T) {
	table := buildTable(t)
	defer table.Release()

	s, err := source.FromTable(table)
	require.NoError(t, err)

	assert.Equal(t, 2, s.FrameCount())
	assert.Equal(t, []string{"p", "time", "x"}, s.Variables())

	f, err := s.Frame(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, f.Time(), 1e-12)

	values, ok := f.Values("p")
	require.True(t, ok)
	assert.Equal(t, []float64{20, 21, 22}, values)
}

func TestFromTable_MissingFrameIndex(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "x", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.Float64Builder).AppendValues([]float64{1, 2}, nil)
	rec := b.NewRecord()
	defer rec.Release()

	table := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer table.Release()

	_, err := source.FromTable(table)
	assert.Error(t, err)
}
