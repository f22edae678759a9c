package surface

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Interpolator resamples scattered values onto the Cartesian product of
// xs (strikes) and ys (maturities). The result is indexed [y][x]; points
// that cannot be interpolated are NaN.
type Interpolator interface {
	Interpolate(points []Point, values []float64, xs, ys []float64) ([][]float64, error)
}

// Linear is piecewise-linear interpolation over a Delaunay triangulation
// of the samples. Queries outside the convex hull of the samples are NaN;
// the surface is never extrapolated.
type Linear struct {
	// Rescale normalises both axes to [0, 1] before interpolating. Linear
	// values do not depend on it; it is kept so both strategies share one
	// configuration.
	Rescale bool
}

// Interpolate implements Interpolator.
func (l Linear) Interpolate(points []Point, values []float64, xs, ys []float64) ([][]float64, error) {
	pts, vals, fr, err := prepare(points, values, l.Rescale)
	if err != nil {
		return nil, err
	}
	m := newMesh(pts)

	return fill(xs, ys, func(q Point) float64 {
		idx, w, n, ok := m.locate(fr.apply(q))
		if !ok {
			return math.NaN()
		}
		v := 0.0
		for k := 0; k < n; k++ {
			v += w[k] * vals[idx[k]]
		}
		return v
	}), nil
}

// Nearest takes the value of the closest sample. It shares Linear's hull
// so both strategies leave the same region undefined.
type Nearest struct {
	// Rescale measures distance with both axes normalised to [0, 1].
	Rescale bool
}

// Interpolate implements Interpolator.
func (nn Nearest) Interpolate(points []Point, values []float64, xs, ys []float64) ([][]float64, error) {
	pts, vals, fr, err := prepare(points, values, nn.Rescale)
	if err != nil {
		return nil, err
	}
	m := newMesh(pts)

	return fill(xs, ys, func(q Point) float64 {
		tq := fr.apply(q)
		if _, _, _, ok := m.locate(tq); !ok {
			return math.NaN()
		}
		best, bestDist := 0, math.Inf(1)
		for i, p := range pts {
			if d := dist(p, tq); d < bestDist {
				best, bestDist = i, d
			}
		}
		return vals[best]
	}), nil
}

// NewInterpolator returns the strategy registered under method.
func NewInterpolator(method string, rescale bool) (Interpolator, error) {
	switch method {
	case "", "linear":
		return Linear{Rescale: rescale}, nil
	case "nearest":
		return Nearest{Rescale: rescale}, nil
	}
	return nil, fmt.Errorf("unknown interpolation method %q", method)
}

func fill(xs, ys []float64, at func(Point) float64) [][]float64 {
	out := make([][]float64, len(ys))
	for i, y := range ys {
		out[i] = make([]float64, len(xs))
		for j, x := range xs {
			out[i][j] = at(Point{X: x, Y: y})
		}
	}
	return out
}

// frame maps sample space into the coordinates the mesh is built in.
type frame struct {
	ox, oy, sx, sy float64
}

func (f frame) apply(p Point) Point {
	return Point{X: (p.X - f.ox) / f.sx, Y: (p.Y - f.oy) / f.sy}
}

// unitFrame maps the bounding box of pts onto [0, 1]. A flat axis keeps
// unit scale.
func unitFrame(pts []Point) frame {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	f := frame{ox: minX, oy: minY, sx: 1, sy: 1}
	if maxX > minX {
		f.sx = maxX - minX
	}
	if maxY > minY {
		f.sy = maxY - minY
	}
	return f
}

// prepare validates the inputs, merges samples sharing a location by
// averaging their values and moves everything into the mesh frame.
func prepare(points []Point, values []float64, rescale bool) ([]Point, []float64, frame, error) {
	if len(points) != len(values) {
		return nil, nil, frame{}, fmt.Errorf("%d points but %d values", len(points), len(values))
	}
	if len(points) == 0 {
		return nil, nil, frame{}, errors.New("no points to interpolate")
	}

	type acc struct {
		p   Point
		sum float64
		n   int
	}
	order := make([]int, len(points))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := points[order[a]], points[order[b]]
		if pa.X != pb.X {
			return pa.X < pb.X
		}
		return pa.Y < pb.Y
	})
	var merged []acc
	for _, i := range order {
		p, v := points[i], values[i]
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return nil, nil, frame{}, fmt.Errorf("point %d is not finite: %+v", i, p)
		}
		if k := len(merged) - 1; k >= 0 && merged[k].p == p {
			merged[k].sum += v
			merged[k].n++
			continue
		}
		merged = append(merged, acc{p: p, sum: v, n: 1})
	}

	raw := make([]Point, len(merged))
	vals := make([]float64, len(merged))
	for i, a := range merged {
		raw[i] = a.p
		vals[i] = a.sum / float64(a.n)
	}
	fr := unitFrame(raw)
	if !rescale {
		fr.sx, fr.sy = 1, 1
	}

	pts := make([]Point, len(raw))
	for i, p := range raw {
		pts[i] = fr.apply(p)
	}
	return pts, vals, fr, nil
}
