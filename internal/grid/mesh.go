// Package grid provides regular 2D meshes and scattered-data interpolation.
// Scattered point values are projected onto a mesh with a Delaunay-based
// linear core and a nearest-neighbor pass for hull boundaries and degenerate
// inputs.
package grid

import (
	"fmt"
	"math"
)

// Mesh is a regular rectangular grid: coordinate matrices of shape (H, W)
// spanning the observed range of the axis values. All fields computed for one
// visualization request share exactly one Mesh.
type Mesh struct {
	X, Y [][]float64 // coordinate matrices, shape (H, W)
	xs   []float64   // column coordinates, length W
	ys   []float64   // row coordinates, length H
}

// NewMesh creates a mesh with evenly spaced coordinates over the given
// bounds.
func NewMesh(xMin, xMax, yMin, yMax float64, width, height int) (*Mesh, error) {
	if width < 2 || height < 2 {
		return nil, fmt.Errorf("mesh resolution must be at least 2x2, got %dx%d", width, height)
	}

	m := &Mesh{
		xs: linspace(xMin, xMax, width),
		ys: linspace(yMin, yMax, height),
		X:  make([][]float64, height),
		Y:  make([][]float64, height),
	}
	for i := 0; i < height; i++ {
		m.X[i] = make([]float64, width)
		m.Y[i] = make([]float64, width)
		for j := 0; j < width; j++ {
			m.X[i][j] = m.xs[j]
			m.Y[i][j] = m.ys[i]
		}
	}
	return m, nil
}

// FromPoints creates a mesh spanning the finite min/max range of the given
// axis values.
func FromPoints(xValues, yValues []float64, width, height int) (*Mesh, error) {
	xMin, xMax, ok := finiteRange(xValues)
	if !ok {
		return nil, fmt.Errorf("x axis has no finite values")
	}
	yMin, yMax, ok := finiteRange(yValues)
	if !ok {
		return nil, fmt.Errorf("y axis has no finite values")
	}
	return NewMesh(xMin, xMax, yMin, yMax, width, height)
}

// Shape returns the mesh dimensions as (height, width).
func (m *Mesh) Shape() (h, w int) {
	return len(m.ys), len(m.xs)
}

// XCoords returns the column coordinates (length W).
func (m *Mesh) XCoords() []float64 {
	return m.xs
}

// YCoords returns the row coordinates (length H).
func (m *Mesh) YCoords() []float64 {
	return m.ys
}

// NaNField returns a grid-shaped field filled with NaN.
func (m *Mesh) NaNField() [][]float64 {
	return m.ConstantField(math.NaN())
}

// ConstantField returns a grid-shaped field filled with v.
func (m *Mesh) ConstantField(v float64) [][]float64 {
	h, w := m.Shape()
	field := make([][]float64, h)
	for i := range field {
		row := make([]float64, w)
		for j := range row {
			row[j] = v
		}
		field[i] = row
	}
	return field
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

func finiteRange(values []float64) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		ok = true
	}
	return lo, hi, ok
}
