package formula

import (
	"math"
	"sort"
)

// unaryMathFuncs maps simple-math function names to their element-wise
// single-argument implementations.
var unaryMathFuncs = map[string]func(float64) float64{
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"sinh":  math.Sinh,
	"cosh":  math.Cosh,
	"tanh":  math.Tanh,
	"exp":   math.Exp,
	"log":   math.Log,
	"log10": math.Log10,
	"sqrt":  math.Sqrt,
	"abs":   math.Abs,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	// Round halves to even, matching vectorized numeric conventions.
	"round": math.RoundToEven,
}

// binaryMathFuncs maps simple-math function names to their element-wise
// two-argument implementations. min and max are the element-wise pair
// functions, not frame reductions.
var binaryMathFuncs = map[string]func(a, b float64) float64{
	"min": math.Min,
	"max": math.Max,
	"pow": math.Pow,
}

// aggregateFuncs maps frame-aggregate names to reductions over the current
// frame's point values. std and var are population statistics (ddof=0).
var aggregateFuncs = map[string]func([]float64) float64{
	"mean":      reduceMean,
	"sum":       reduceSum,
	"median":    reduceMedian,
	"std":       reduceStd,
	"var":       reduceVar,
	"min_frame": reduceMin,
	"max_frame": reduceMax,
}

// spatialArity maps spatial-operator names to their required argument count.
var spatialArity = map[string]int{
	"grad_x":    1,
	"grad_y":    1,
	"laplacian": 1,
	"div":       2,
	"curl":      2,
}

// ScienceConstants are process-wide immutable constants available to every
// formula.
var ScienceConstants = map[string]float64{
	"pi":  math.Pi,
	"e":   math.E,
	"g":   9.80665,
	"c":   299792458,
	"h":   6.62607015e-34,
	"k_B": 1.380649e-23,
	"N_A": 6.02214076e23,
	"R":   8.314462618,
}

// IsSimpleMath reports whether name is a simple element-wise math function.
func IsSimpleMath(name string) bool {
	if _, ok := unaryMathFuncs[name]; ok {
		return true
	}
	_, ok := binaryMathFuncs[name]
	return ok
}

// IsAggregate reports whether name is a frame-aggregate function.
func IsAggregate(name string) bool {
	_, ok := aggregateFuncs[name]
	return ok
}

// IsSpatial reports whether name is a spatial differential operator.
func IsSpatial(name string) bool {
	_, ok := spatialArity[name]
	return ok
}

// SpatialArity returns the required argument count for a spatial operator.
func SpatialArity(name string) (int, bool) {
	n, ok := spatialArity[name]
	return n, ok
}

// SpatialOperators returns the spatial-operator names in sorted order.
func SpatialOperators() []string {
	names := make([]string, 0, len(spatialArity))
	for name := range spatialArity {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnaryMathFunc returns the single-argument implementation for name.
func UnaryMathFunc(name string) (func(float64) float64, bool) {
	fn, ok := unaryMathFuncs[name]
	return fn, ok
}

// BinaryMathFunc returns the two-argument implementation for name.
func BinaryMathFunc(name string) (func(a, b float64) float64, bool) {
	fn, ok := binaryMathFuncs[name]
	return fn, ok
}

func reduceSum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func reduceMean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return reduceSum(values) / float64(len(values))
}

func reduceVar(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	mean := reduceMean(values)
	m2 := 0.0
	for _, v := range values {
		d := v - mean
		m2 += d * d
	}
	return m2 / float64(len(values))
}

func reduceStd(values []float64) float64 {
	return math.Sqrt(reduceVar(values))
}

func reduceMedian(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func reduceMin(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	out := values[0]
	for _, v := range values[1:] {
		if v < out || math.IsNaN(v) {
			out = v
		}
	}
	return out
}

func reduceMax(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	out := values[0]
	for _, v := range values[1:] {
		if v > out || math.IsNaN(v) {
			out = v
		}
	}
	return out
}

// Reduce applies the named aggregate reduction to values.
func Reduce(name string, values []float64) (float64, bool) {
	fn, ok := aggregateFuncs[name]
	if !ok {
		return 0, false
	}
	return fn(values), true
}
