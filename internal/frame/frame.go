// Package frame provides the immutable point-table data structure consumed by
// the formula and spatial evaluators. A Frame holds one discrete time step's
// samples as named float64 columns with an Apache Arrow backend.
package frame

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Column is a named float64 column backed by an Arrow array.
type Column struct {
	name string
	arr  *array.Float64
}

// NewColumn creates a column from a slice of values.
func NewColumn(name string, values []float64, mem memory.Allocator) *Column {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	builder := array.NewFloat64Builder(mem)
	defer builder.Release()
	builder.AppendValues(values, nil)

	return &Column{
		name: name,
		arr:  builder.NewFloat64Array(),
	}
}

// Name returns the column name.
func (c *Column) Name() string {
	return c.name
}

// Len returns the number of values in the column.
func (c *Column) Len() int {
	return c.arr.Len()
}

// Values returns the column data as a float64 slice backed by the Arrow
// buffer. Callers must treat the slice as read-only.
func (c *Column) Values() []float64 {
	return c.arr.Float64Values()
}

// Value returns the value at the given index.
func (c *Column) Value(index int) float64 {
	return c.arr.Value(index)
}

// Array returns the underlying Arrow array (retains a reference).
func (c *Column) Array() arrow.Array {
	c.arr.Retain()
	return c.arr
}

// Release releases the underlying Arrow memory.
func (c *Column) Release() {
	if c.arr != nil {
		c.arr.Release()
	}
}

// String returns a string representation of the column.
func (c *Column) String() string {
	return fmt.Sprintf("Column: %s (len=%d)", c.name, c.Len())
}

// Frame is an immutable table of point samples for one time step. Evaluators
// never mutate a Frame; working columns are added through WithColumn, which
// returns a private copy sharing the untouched Arrow buffers.
type Frame struct {
	index   int
	timeKey float64
	order   []string
	cols    map[string]*Column
}

// New creates a Frame from columns. All columns must share one length.
func New(index int, timeKey float64, columns ...*Column) (*Frame, error) {
	f := &Frame{
		index:   index,
		timeKey: timeKey,
		order:   make([]string, 0, len(columns)),
		cols:    make(map[string]*Column, len(columns)),
	}

	length := -1
	for _, col := range columns {
		if _, exists := f.cols[col.Name()]; exists {
			return nil, fmt.Errorf("duplicate column %q", col.Name())
		}
		if length == -1 {
			length = col.Len()
		} else if col.Len() != length {
			return nil, fmt.Errorf("column %q has length %d, want %d", col.Name(), col.Len(), length)
		}
		f.order = append(f.order, col.Name())
		f.cols[col.Name()] = col
	}

	return f, nil
}

// FromMap creates a Frame from named value slices in the given column order.
func FromMap(index int, timeKey float64, order []string, data map[string][]float64, mem memory.Allocator) (*Frame, error) {
	columns := make([]*Column, 0, len(order))
	for _, name := range order {
		values, ok := data[name]
		if !ok {
			return nil, fmt.Errorf("missing data for column %q", name)
		}
		columns = append(columns, NewColumn(name, values, mem))
	}
	return New(index, timeKey, columns...)
}

// Index returns the frame's position in the dataset.
func (f *Frame) Index() int {
	return f.index
}

// Time returns the frame's time key.
func (f *Frame) Time() float64 {
	return f.timeKey
}

// Len returns the number of point samples.
func (f *Frame) Len() int {
	if len(f.order) == 0 {
		return 0
	}
	return f.cols[f.order[0]].Len()
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// HasColumn reports whether the frame contains the named column.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// Column returns the named column.
func (f *Frame) Column(name string) (*Column, bool) {
	col, ok := f.cols[name]
	return col, ok
}

// Values returns the named column's data as a read-only slice.
func (f *Frame) Values(name string) ([]float64, bool) {
	col, ok := f.cols[name]
	if !ok {
		return nil, false
	}
	return col.Values(), true
}

// WithColumn returns a private copy of the frame with one column added or
// replaced. The receiver is left untouched; existing Arrow buffers are shared.
func (f *Frame) WithColumn(col *Column) (*Frame, error) {
	if f.Len() != 0 && col.Len() != f.Len() {
		return nil, fmt.Errorf("column %q has length %d, want %d", col.Name(), col.Len(), f.Len())
	}

	clone := &Frame{
		index:   f.index,
		timeKey: f.timeKey,
		order:   make([]string, len(f.order), len(f.order)+1),
		cols:    make(map[string]*Column, len(f.cols)+1),
	}
	copy(clone.order, f.order)
	for name, c := range f.cols {
		clone.cols[name] = c
	}
	if _, exists := clone.cols[col.Name()]; !exists {
		clone.order = append(clone.order, col.Name())
	}
	clone.cols[col.Name()] = col
	return clone, nil
}

// Select returns a frame projected to the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	columns := make([]*Column, 0, len(names))
	for _, name := range names {
		col, ok := f.cols[name]
		if !ok {
			return nil, fmt.Errorf("column %q does not exist", name)
		}
		columns = append(columns, col)
	}
	return New(f.index, f.timeKey, columns...)
}

// Release releases all Arrow buffers owned by the frame.
func (f *Frame) Release() {
	for _, col := range f.cols {
		col.Release()
	}
}

// String returns a string representation of the frame.
func (f *Frame) String() string {
	return fmt.Sprintf("Frame[%d] t=%g: %d column(s), %d point(s)", f.index, f.timeKey, len(f.order), f.Len())
}
