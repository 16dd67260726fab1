// Package source supplies time-indexed frames to the engine. A Source hides
// where a dataset lives; the engine only ever asks for one frame at a time or
// streams the whole sequence.
package source

import (
	"context"
	"sort"

	"github.com/fieldgrid/fieldgrid/internal/errors"
	"github.com/fieldgrid/fieldgrid/internal/frame"
)

// Source is a random-access, restartable sequence of frames sharing one
// variable set.
type Source interface {
	// FrameCount returns the number of frames in the dataset.
	FrameCount() int

	// Variables returns the sorted column names common to every frame.
	Variables() []string

	// Frame returns the frame at index. Out-of-range indexes yield an
	// evaluation error, not a panic.
	Frame(ctx context.Context, index int) (*frame.Frame, error)

	// IterFrames streams frames in index order, projected to the given
	// columns (all columns when nil), invoking fn per frame. Iteration stops
	// on the first fn error or context cancellation. The stream can be
	// restarted by calling IterFrames again.
	IterFrames(ctx context.Context, columns []string, fn func(f *frame.Frame) error) error
}

// MemorySource serves frames already resident in memory.
type MemorySource struct {
	frames    []*frame.Frame
	variables []string
}

// NewMemorySource wraps frames as a Source. Every frame must carry the same
// column set.
func NewMemorySource(frames []*frame.Frame) (*MemorySource, error) {
	s := &MemorySource{frames: frames}
	if len(frames) == 0 {
		return s, nil
	}

	s.variables = frames[0].Columns()
	sort.Strings(s.variables)
	for _, f := range frames[1:] {
		if !sameColumns(s.variables, f) {
			return nil, errors.NewEvaluationError("NewMemorySource", "",
				"frames do not share one column set")
		}
	}
	return s, nil
}

func sameColumns(sorted []string, f *frame.Frame) bool {
	cols := f.Columns()
	if len(cols) != len(sorted) {
		return false
	}
	sort.Strings(cols)
	for i, name := range cols {
		if name != sorted[i] {
			return false
		}
	}
	return true
}

func (s *MemorySource) FrameCount() int {
	return len(s.frames)
}

func (s *MemorySource) Variables() []string {
	out := make([]string, len(s.variables))
	copy(out, s.variables)
	return out
}

func (s *MemorySource) Frame(ctx context.Context, index int) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(s.frames) {
		return nil, errors.NewEvaluationError("Frame", "",
			"frame index out of range")
	}
	return s.frames[index], nil
}

func (s *MemorySource) IterFrames(ctx context.Context, columns []string, fn func(f *frame.Frame) error) error {
	for _, f := range s.frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		view := f
		if columns != nil {
			projected, err := f.Select(columns...)
			if err != nil {
				return err
			}
			view = projected
		}
		if err := fn(view); err != nil {
			return err
		}
	}
	return nil
}
