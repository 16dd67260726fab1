package source

import (
	"context"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/fieldgrid/fieldgrid/internal/frame"
)

// FrameIndexColumn partitions a flat Parquet table into frames. Rows sharing
// one value belong to one time step.
const FrameIndexColumn = "frame_index"

// TimeColumn, when present, supplies each frame's time key. It stays
// available as an ordinary variable.
const TimeColumn = "time"

// OpenParquet loads a flat Parquet dataset into memory, splitting rows into
// frames on the frame_index column. All remaining numeric columns become
// variables.
func OpenParquet(ctx context.Context, path string) (*MemorySource, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening parquet file %s: %w", path, err)
	}
	defer rdr.Close()

	arrowRdr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		return nil, fmt.Errorf("reading parquet file %s: %w", path, err)
	}

	table, err := arrowRdr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading parquet table %s: %w", path, err)
	}
	defer table.Release()

	return FromTable(table)
}

// FromTable splits an Arrow table into frames on the frame_index column.
func FromTable(table arrow.Table) (*MemorySource, error) {
	names := make([]string, 0, int(table.NumCols()))
	columns := make(map[string][]float64, int(table.NumCols()))
	for i := 0; i < int(table.NumCols()); i++ {
		col := table.Column(i)
		name := col.Name()
		values, err := flattenChunked(col.Data())
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		if name != FrameIndexColumn {
			names = append(names, name)
		}
		columns[name] = values
	}

	indexes, ok := columns[FrameIndexColumn]
	if !ok {
		return nil, fmt.Errorf("table has no %q column", FrameIndexColumn)
	}

	// Partition row positions per frame index.
	rowsByFrame := make(map[int][]int)
	for row, v := range indexes {
		idx := int(v)
		rowsByFrame[idx] = append(rowsByFrame[idx], row)
	}
	frameIndexes := make([]int, 0, len(rowsByFrame))
	for idx := range rowsByFrame {
		frameIndexes = append(frameIndexes, idx)
	}
	sort.Ints(frameIndexes)

	frames := make([]*frame.Frame, 0, len(frameIndexes))
	for position, idx := range frameIndexes {
		rows := rowsByFrame[idx]

		cols := make([]*frame.Column, 0, len(names))
		for _, name := range names {
			values := make([]float64, len(rows))
			for i, row := range rows {
				values[i] = columns[name][row]
			}
			cols = append(cols, frame.NewColumn(name, values, nil))
		}

		timeKey := float64(position)
		if times, ok := columns[TimeColumn]; ok && len(rows) > 0 {
			timeKey = times[rows[0]]
		}

		f, err := frame.New(position, timeKey, cols...)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}

	return NewMemorySource(frames)
}

func flattenChunked(chunked *arrow.Chunked) ([]float64, error) {
	out := make([]float64, 0, chunked.Len())
	for _, chunk := range chunked.Chunks() {
		switch arr := chunk.(type) {
		case *array.Float64:
			out = append(out, arr.Float64Values()...)
		case *array.Float32:
			for i := 0; i < arr.Len(); i++ {
				out = append(out, float64(arr.Value(i)))
			}
		case *array.Int64:
			for i := 0; i < arr.Len(); i++ {
				out = append(out, float64(arr.Value(i)))
			}
		case *array.Int32:
			for i := 0; i < arr.Len(); i++ {
				out = append(out, float64(arr.Value(i)))
			}
		default:
			return nil, fmt.Errorf("unsupported column type %s", chunk.DataType())
		}
	}
	return out, nil
}
