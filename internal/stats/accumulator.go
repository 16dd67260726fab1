// Package stats computes dataset-global statistics. Values stream through a
// pairwise-combinable accumulator, so chunks processed independently merge
// into exactly the statistics a single pass would produce.
package stats

import "math"

// Accumulator tracks count, mean, second central moment, extremes and sum of
// a value stream. NaN samples are skipped. The zero value is ready to use.
type Accumulator struct {
	count int64
	mean  float64
	m2    float64
	min   float64
	max   float64
	sum   float64
}

// Add folds one sample into the accumulator.
func (a *Accumulator) Add(v float64) {
	if math.IsNaN(v) {
		return
	}
	if a.count == 0 {
		a.min, a.max = v, v
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	a.count++
	a.sum += v

	// Welford update.
	delta := v - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (v - a.mean)
}

// AddAll folds a slice of samples into the accumulator.
func (a *Accumulator) AddAll(values []float64) {
	for _, v := range values {
		a.Add(v)
	}
}

// Merge combines another accumulator into this one, as if both streams had
// been fed through a single accumulator.
func (a *Accumulator) Merge(b Accumulator) {
	if b.count == 0 {
		return
	}
	if a.count == 0 {
		*a = b
		return
	}

	n := a.count + b.count
	delta := b.mean - a.mean
	a.m2 += b.m2 + delta*delta*float64(a.count)*float64(b.count)/float64(n)
	a.mean += delta * float64(b.count) / float64(n)
	if b.min < a.min {
		a.min = b.min
	}
	if b.max > a.max {
		a.max = b.max
	}
	a.sum += b.sum
	a.count = n
}

// Count returns the number of non-NaN samples seen.
func (a *Accumulator) Count() int64 {
	return a.count
}

// Sum returns the running sum.
func (a *Accumulator) Sum() float64 {
	return a.sum
}

// Mean returns the running mean, NaN when empty.
func (a *Accumulator) Mean() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.mean
}

// Var returns the population variance, NaN when empty.
func (a *Accumulator) Var() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.m2 / float64(a.count)
}

// Std returns the population standard deviation, NaN when empty.
func (a *Accumulator) Std() float64 {
	return math.Sqrt(a.Var())
}

// Min returns the smallest sample, NaN when empty.
func (a *Accumulator) Min() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.min
}

// Max returns the largest sample, NaN when empty.
func (a *Accumulator) Max() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.max
}
