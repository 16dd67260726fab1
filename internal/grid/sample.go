package grid

import "math"

// Sample evaluates a gridded field back at scattered points by bilinear
// interpolation over the mesh. Points outside the mesh bounds yield NaN, as
// do cells whose corner values are NaN.
func Sample(m *Mesh, field [][]float64, xs, ys []float64) []float64 {
	h, w := m.Shape()
	xc, yc := m.XCoords(), m.YCoords()

	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = bilinear(field, xc, yc, w, h, xs[i], ys[i])
	}
	return out
}

func bilinear(field [][]float64, xc, yc []float64, w, h int, x, y float64) float64 {
	if x < xc[0] || x > xc[w-1] || y < yc[0] || y > yc[h-1] {
		return math.NaN()
	}

	dx := (xc[w-1] - xc[0]) / float64(w-1)
	dy := (yc[h-1] - yc[0]) / float64(h-1)

	j := cellIndex(x, xc[0], dx, w)
	i := cellIndex(y, yc[0], dy, h)

	tx := 0.0
	if dx > 0 {
		tx = (x - xc[j]) / dx
	}
	ty := 0.0
	if dy > 0 {
		ty = (y - yc[i]) / dy
	}

	f00 := field[i][j]
	f01 := field[i][j+1]
	f10 := field[i+1][j]
	f11 := field[i+1][j+1]

	top := f00*(1-tx) + f01*tx
	bottom := f10*(1-tx) + f11*tx
	return top*(1-ty) + bottom*ty
}

// cellIndex returns the lower index of the cell containing v, clamped so
// index+1 stays in range.
func cellIndex(v, origin, step float64, n int) int {
	if step <= 0 {
		return 0
	}
	i := int((v - origin) / step)
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}
	return i
}
