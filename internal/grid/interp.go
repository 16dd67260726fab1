package grid

import (
	"log/slog"
	"math"

	"github.com/fogleman/delaunay"

	"github.com/fieldgrid/fieldgrid/internal/errors"
)

// barycentricTol absorbs floating-point noise when classifying grid nodes
// against triangle edges, so nodes exactly on a shared edge are not dropped.
const barycentricTol = 1e-10

// Interpolator projects scattered point samples onto a Mesh. The primary
// path is linear barycentric interpolation over a Delaunay triangulation;
// cells outside the convex hull are filled by nearest neighbor. Inputs with
// too few distinct points, or a collapsed coordinate range, skip straight to
// nearest neighbor.
type Interpolator struct {
	minPoints int
	epsilon   float64
	logger    *slog.Logger
}

// NewInterpolator creates an interpolator. minPoints is the smallest valid
// sample count for triangulation; epsilon is the coordinate range below which
// the geometry counts as degenerate.
func NewInterpolator(minPoints int, epsilon float64, logger *slog.Logger) *Interpolator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpolator{minPoints: minPoints, epsilon: epsilon, logger: logger}
}

// Interpolate grids the samples (xs[i], ys[i]) -> values[i] onto m. A nil
// values slice yields an all-NaN field. Non-finite samples are dropped before
// gridding. The returned field has the mesh shape.
func (ip *Interpolator) Interpolate(xs, ys, values []float64, m *Mesh) ([][]float64, error) {
	if values == nil {
		return m.NaNField(), nil
	}

	px, py, pv := filterFinite(xs, ys, values)
	if len(pv) == 0 {
		ip.logger.Debug("no finite samples to grid, returning NaN field")
		return m.NaNField(), nil
	}

	if len(pv) < ip.minPoints || !ip.spansBothAxes(px, py) {
		ip.logger.Debug("degenerate sample geometry, using nearest neighbor",
			slog.Int("samples", len(pv)))
		return nearestField(px, py, pv, m), nil
	}

	field, err := ip.linearField(px, py, pv, m)
	if err != nil {
		return nil, err
	}
	fillNearest(px, py, pv, m, field)
	return field, nil
}

func (ip *Interpolator) spansBothAxes(px, py []float64) bool {
	xLo, xHi, _ := finiteRange(px)
	yLo, yHi, _ := finiteRange(py)
	return xHi-xLo >= ip.epsilon && yHi-yLo >= ip.epsilon
}

// linearField rasterizes each Delaunay triangle onto the mesh and assigns
// barycentric-weighted values to the grid nodes it covers. Nodes outside the
// hull stay NaN for the nearest-neighbor fill pass.
func (ip *Interpolator) linearField(px, py, pv []float64, m *Mesh) ([][]float64, error) {
	points := make([]delaunay.Point, len(px))
	for i := range px {
		points[i] = delaunay.Point{X: px[i], Y: py[i]}
	}

	tri, err := delaunay.Triangulate(points)
	if err != nil {
		return nil, errors.NewGeometryError("Interpolate", err.Error())
	}
	if len(tri.Triangles) == 0 {
		return nil, errors.NewGeometryError("Interpolate", "triangulation produced no triangles")
	}

	field := m.NaNField()
	h, w := m.Shape()
	xc, yc := m.XCoords(), m.YCoords()
	dx := (xc[w-1] - xc[0]) / float64(w-1)
	dy := (yc[h-1] - yc[0]) / float64(h-1)

	for t := 0; t < len(tri.Triangles); t += 3 {
		i0, i1, i2 := tri.Triangles[t], tri.Triangles[t+1], tri.Triangles[t+2]
		x0, y0 := px[i0], py[i0]
		x1, y1 := px[i1], py[i1]
		x2, y2 := px[i2], py[i2]

		det := (y1-y2)*(x0-x2) + (x2-x1)*(y0-y2)
		if math.Abs(det) == 0 {
			continue
		}

		jLo, jHi := coordSpan(math.Min(x0, math.Min(x1, x2)), math.Max(x0, math.Max(x1, x2)), xc[0], dx, w)
		iLo, iHi := coordSpan(math.Min(y0, math.Min(y1, y2)), math.Max(y0, math.Max(y1, y2)), yc[0], dy, h)

		for i := iLo; i <= iHi; i++ {
			gy := yc[i]
			for j := jLo; j <= jHi; j++ {
				gx := xc[j]
				w0 := ((y1-y2)*(gx-x2) + (x2-x1)*(gy-y2)) / det
				w1 := ((y2-y0)*(gx-x2) + (x0-x2)*(gy-y2)) / det
				w2 := 1 - w0 - w1
				if w0 < -barycentricTol || w1 < -barycentricTol || w2 < -barycentricTol {
					continue
				}
				field[i][j] = w0*pv[i0] + w1*pv[i1] + w2*pv[i2]
			}
		}
	}
	return field, nil
}

// coordSpan maps a coordinate interval onto inclusive grid index bounds,
// clamped to [0, n). The span is rounded outward; the barycentric test does
// the precise inclusion check.
func coordSpan(lo, hi, origin, step float64, n int) (int, int) {
	if step <= 0 {
		return 0, n - 1
	}
	iLo := int(math.Floor((lo - origin) / step))
	iHi := int(math.Ceil((hi - origin) / step))
	if iLo < 0 {
		iLo = 0
	}
	if iHi > n-1 {
		iHi = n - 1
	}
	return iLo, iHi
}

// nearestField grids by assigning each node the value of its closest sample.
// Ties resolve to the lowest sample index, keeping the result deterministic.
func nearestField(px, py, pv []float64, m *Mesh) [][]float64 {
	field := m.NaNField()
	fillNearest(px, py, pv, m, field)
	return field
}

// fillNearest replaces every NaN node in field with the nearest sample value.
func fillNearest(px, py, pv []float64, m *Mesh, field [][]float64) {
	if len(pv) == 0 {
		return
	}
	h, w := m.Shape()
	xc, yc := m.XCoords(), m.YCoords()
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			if !math.IsNaN(field[i][j]) {
				continue
			}
			best, bestDist := 0, math.Inf(1)
			for k := range pv {
				ddx := px[k] - xc[j]
				ddy := py[k] - yc[i]
				d := ddx*ddx + ddy*ddy
				if d < bestDist {
					best, bestDist = k, d
				}
			}
			field[i][j] = pv[best]
		}
	}
}

func filterFinite(xs, ys, values []float64) (px, py, pv []float64) {
	n := len(values)
	if len(xs) < n {
		n = len(xs)
	}
	if len(ys) < n {
		n = len(ys)
	}
	px = make([]float64, 0, n)
	py = make([]float64, 0, n)
	pv = make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if isFinite(xs[i]) && isFinite(ys[i]) && isFinite(values[i]) {
			px = append(px, xs[i])
			py = append(py, ys[i])
			pv = append(pv, values[i])
		}
	}
	return px, py, pv
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
