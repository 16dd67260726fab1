package frame_test

import (
	"testing"

	"github.com/fieldgrid/fieldgrid/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	f, err := frame.New(0, 0.0,
		frame.NewColumn("x", []float64{0, 1, 2}, nil),
		frame.NewColumn("y", []float64{3, 4, 5}, nil),
	)
	require.NoError(t, err)
	defer f.Release()

	assert.Equal(t, 3, f.Len())
	assert.Equal(t, []string{"x", "y"}, f.Columns())
	assert.True(t, f.HasColumn("x"))
	assert.False(t, f.HasColumn("z"))

	values, ok := f.Values("y")
	require.True(t, ok)
	assert.Equal(t, []float64{3, 4, 5}, values)
}

func TestNew_LengthMismatch(t *testing.T) {
	_, err := frame.New(0, 0.0,
		frame.NewColumn("x", []float64{0, 1, 2}, nil),
		frame.NewColumn("y", []float64{3, 4}, nil),
	)
	assert.Error(t, err)
}

func TestNew_DuplicateColumn(t *testing.T) {
	_, err := frame.New(0, 0.0,
		frame.NewColumn("x", []float64{0}, nil),
		frame.NewColumn("x", []float64{1}, nil),
	)
	assert.Error(t, err)
}

func TestFromMap(t *testing.T) {
	f, err := frame.FromMap(4, 2.5, []string{"x", "u"}, map[string][]float64{
		"x": {1, 2},
		"u": {7, 8},
	}, nil)
	require.NoError(t, err)
	defer f.Release()

	assert.Equal(t, 4, f.Index())
	assert.Equal(t, 2.5, f.Time())
	assert.Equal(t, []string{"x", "u"}, f.Columns())
}

func TestWithColumn_DoesNotMutateOriginal(t *testing.T) {
	f, err := frame.New(0, 0.0, frame.NewColumn("x", []float64{1, 2}, nil))
	require.NoError(t, err)

	clone, err := f.WithColumn(frame.NewColumn("computed", []float64{10, 20}, nil))
	require.NoError(t, err)

	assert.False(t, f.HasColumn("computed"))
	assert.True(t, clone.HasColumn("computed"))
	assert.Equal(t, []string{"x", "computed"}, clone.Columns())

	// Replacing an existing column keeps the order stable.
	replaced, err := clone.WithColumn(frame.NewColumn("x", []float64{9, 9}, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "computed"}, replaced.Columns())

	original, _ := f.Values("x")
	assert.Equal(t, []float64{1, 2}, original)
}

func TestSelect(t *testing.T) {
	f, err := frame.New(1, 1.0,
		frame.NewColumn("x", []float64{1}, nil),
		frame.NewColumn("y", []float64{2}, nil),
		frame.NewColumn("p", []float64{3}, nil),
	)
	require.NoError(t, err)

	projected, err := f.Select("p", "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "x"}, projected.Columns())

	_, err = f.Select("missing")
	assert.Error(t, err)
}
