package spatial

import (
	"fmt"
	"math"

	"github.com/fieldgrid/fieldgrid/internal/formula"
)

// cpuArray is a host-resident grid.
type cpuArray struct {
	data [][]float64
}

func (a *cpuArray) Shape() (h, w int) {
	h = len(a.data)
	if h > 0 {
		w = len(a.data[0])
	}
	return h, w
}

// CPUBackend runs grid arithmetic on host memory. It is stateless and safe
// for concurrent use.
type CPUBackend struct{}

// NewCPUBackend returns the host backend.
func NewCPUBackend() *CPUBackend {
	return &CPUBackend{}
}

func (b *CPUBackend) Name() string { return "cpu" }

func (b *CPUBackend) Upload(field [][]float64) (Array, error) {
	return &cpuArray{data: field}, nil
}

func (b *CPUBackend) Full(h, w int, v float64) (Array, error) {
	data := make([][]float64, h)
	for i := range data {
		row := make([]float64, w)
		for j := range row {
			row[j] = v
		}
		data[i] = row
	}
	return &cpuArray{data: data}, nil
}

func (b *CPUBackend) Map(a Array, fn string) (Array, error) {
	f, err := unaryFunc(fn)
	if err != nil {
		return nil, err
	}
	in := a.(*cpuArray).data
	out := make([][]float64, len(in))
	for i, row := range in {
		outRow := make([]float64, len(row))
		for j, v := range row {
			outRow[j] = f(v)
		}
		out[i] = outRow
	}
	return &cpuArray{data: out}, nil
}

func (b *CPUBackend) Zip(x, y Array, op string) (Array, error) {
	f, err := binaryFunc(op)
	if err != nil {
		return nil, err
	}
	xd, yd := x.(*cpuArray).data, y.(*cpuArray).data
	if len(xd) != len(yd) {
		return nil, fmt.Errorf("grid shape mismatch: %d rows vs %d rows", len(xd), len(yd))
	}
	out := make([][]float64, len(xd))
	for i := range xd {
		outRow := make([]float64, len(xd[i]))
		for j := range outRow {
			outRow[j] = f(xd[i][j], yd[i][j])
		}
		out[i] = outRow
	}
	return &cpuArray{data: out}, nil
}

// Gradient differentiates along the given axis with central differences on
// possibly non-uniform coordinates, falling back to one-sided differences at
// the boundaries.
func (b *CPUBackend) Gradient(a Array, coords []float64, axis Axis) (Array, error) {
	in := a.(*cpuArray).data
	h, w := a.Shape()

	n := w
	if axis == AxisY {
		n = h
	}
	if len(coords) != n {
		return nil, fmt.Errorf("gradient coords length %d does not match axis length %d", len(coords), n)
	}
	if n < 2 {
		return nil, fmt.Errorf("gradient requires at least 2 samples along the axis, got %d", n)
	}

	out := make([][]float64, h)
	for i := range out {
		out[i] = make([]float64, w)
	}

	if axis == AxisX {
		for i := 0; i < h; i++ {
			gradientLine(out[i], in[i], coords)
		}
		return &cpuArray{data: out}, nil
	}

	col := make([]float64, h)
	res := make([]float64, h)
	for j := 0; j < w; j++ {
		for i := 0; i < h; i++ {
			col[i] = in[i][j]
		}
		gradientLine(res, col, coords)
		for i := 0; i < h; i++ {
			out[i][j] = res[i]
		}
	}
	return &cpuArray{data: out}, nil
}

// gradientLine differentiates one line of samples: second-order central
// differences on the (possibly non-uniform) interior, one-sided first-order
// differences at the ends.
func gradientLine(out, in, coords []float64) {
	n := len(coords)
	out[0] = (in[1] - in[0]) / (coords[1] - coords[0])
	out[n-1] = (in[n-1] - in[n-2]) / (coords[n-1] - coords[n-2])
	for k := 1; k < n-1; k++ {
		hd := coords[k] - coords[k-1]
		hu := coords[k+1] - coords[k]
		num := hd*hd*in[k+1] + (hu*hu-hd*hd)*in[k] - hu*hu*in[k-1]
		out[k] = num / (hu * hd * (hu + hd))
	}
}

func (b *CPUBackend) ToHost(a Array) ([][]float64, error) {
	return a.(*cpuArray).data, nil
}

func (b *CPUBackend) Release() {}

func unaryFunc(name string) (func(float64) float64, error) {
	if name == "neg" {
		return func(v float64) float64 { return -v }, nil
	}
	if f, ok := formula.UnaryMathFunc(name); ok {
		return f, nil
	}
	return nil, fmt.Errorf("unknown unary grid operation %q", name)
}

func binaryFunc(op string) (func(a, b float64) float64, error) {
	switch op {
	case "+":
		return func(a, b float64) float64 { return a + b }, nil
	case "-":
		return func(a, b float64) float64 { return a - b }, nil
	case "*":
		return func(a, b float64) float64 { return a * b }, nil
	case "/":
		return func(a, b float64) float64 { return a / b }, nil
	case "**":
		return math.Pow, nil
	}
	if f, ok := formula.BinaryMathFunc(op); ok {
		return f, nil
	}
	return nil, fmt.Errorf("unknown binary grid operation %q", op)
}
