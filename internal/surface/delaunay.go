package surface

import (
	"math"
	"sort"
)

// superScale sizes the enclosing triangle relative to the point cloud,
// which the mesh always spans as the unit square. Too small a triangle
// loses slivers along the convex hull.
const superScale = 1e3

// baryEps is how far outside a triangle (in barycentric units) a query may
// sit and still count as inside, so points on shared edges and on the hull
// are not lost to rounding.
const baryEps = 1e-9

// mesh covers the convex hull of a point set. In the general case it is a
// Delaunay triangulation; when every point is collinear it degrades to a
// polyline, and to a single vertex for a single point.
//
// Vertices are stored in the unit square of the input's bounding box, so
// an axis spanning far less than the other does not starve the enclosing
// triangle. Barycentric weights survive the affine map unchanged.
type mesh struct {
	norm frame
	pts  []Point
	tris [][3]int

	// collinear layout
	line   bool
	order  []int   // vertex indices sorted along dir
	params []float64
	origin Point
	dir    Point
	length float64
}

func newMesh(pts []Point) *mesh {
	m := &mesh{norm: unitFrame(pts), pts: make([]Point, len(pts))}
	for i, p := range pts {
		m.pts[i] = m.norm.apply(p)
	}
	if len(pts) < 3 || collinear(pts) {
		m.buildLine()
		return m
	}
	m.tris = bowyerWatson(pts)
	if len(m.tris) == 0 {
		m.buildLine()
	}
	return m
}

// locate returns the vertices enclosing q and their interpolation weights.
// n is the number of meaningful entries (3 in a triangle, 2 on a segment,
// 1 at a lone vertex). ok is false when q lies outside the hull.
func (m *mesh) locate(q Point) (idx [3]int, w [3]float64, n int, ok bool) {
	q = m.norm.apply(q)
	if m.line {
		return m.locateOnLine(q)
	}
	for _, t := range m.tris {
		a, b, c := m.pts[t[0]], m.pts[t[1]], m.pts[t[2]]
		if q.X < math.Min(a.X, math.Min(b.X, c.X))-boxSlack(a.X, b.X, c.X) ||
			q.X > math.Max(a.X, math.Max(b.X, c.X))+boxSlack(a.X, b.X, c.X) ||
			q.Y < math.Min(a.Y, math.Min(b.Y, c.Y))-boxSlack(a.Y, b.Y, c.Y) ||
			q.Y > math.Max(a.Y, math.Max(b.Y, c.Y))+boxSlack(a.Y, b.Y, c.Y) {
			continue
		}
		l, inside := barycentric(a, b, c, q)
		if !inside {
			continue
		}
		return t, l, 3, true
	}
	return idx, w, 0, false
}

func boxSlack(a, b, c float64) float64 {
	return baryEps * (math.Max(a, math.Max(b, c)) - math.Min(a, math.Min(b, c)))
}

// barycentric returns the clamped, renormalised barycentric coordinates of
// q in triangle abc.
func barycentric(a, b, c, q Point) ([3]float64, bool) {
	det := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	if det == 0 {
		return [3]float64{}, false
	}
	l1 := ((b.Y-c.Y)*(q.X-c.X) + (c.X-b.X)*(q.Y-c.Y)) / det
	l2 := ((c.Y-a.Y)*(q.X-c.X) + (a.X-c.X)*(q.Y-c.Y)) / det
	l3 := 1 - l1 - l2
	if l1 < -baryEps || l2 < -baryEps || l3 < -baryEps {
		return [3]float64{}, false
	}

	l := [3]float64{math.Max(l1, 0), math.Max(l2, 0), math.Max(l3, 0)}
	sum := l[0] + l[1] + l[2]
	for i := range l {
		l[i] /= sum
	}
	return l, true
}

func (m *mesh) buildLine() {
	m.line = true
	m.tris = nil
	m.origin = m.pts[0]

	// direction through the two points furthest apart along x, then y
	far := 0
	for i, p := range m.pts {
		if dist(p, m.origin) > dist(m.pts[far], m.origin) {
			far = i
		}
	}
	m.length = dist(m.pts[far], m.origin)
	if m.length > 0 {
		m.dir = Point{(m.pts[far].X - m.origin.X) / m.length, (m.pts[far].Y - m.origin.Y) / m.length}
	}

	m.order = make([]int, len(m.pts))
	for i := range m.order {
		m.order[i] = i
	}
	proj := func(i int) float64 {
		return (m.pts[i].X-m.origin.X)*m.dir.X + (m.pts[i].Y-m.origin.Y)*m.dir.Y
	}
	sort.Slice(m.order, func(i, j int) bool { return proj(m.order[i]) < proj(m.order[j]) })
	m.params = make([]float64, len(m.order))
	for k, i := range m.order {
		m.params[k] = proj(i)
	}
}

func (m *mesh) locateOnLine(q Point) (idx [3]int, w [3]float64, n int, ok bool) {
	if m.length == 0 {
		p := m.pts[0]
		if math.Abs(q.X-p.X) <= baryEps*(1+math.Abs(p.X)) && math.Abs(q.Y-p.Y) <= baryEps*(1+math.Abs(p.Y)) {
			return [3]int{0}, [3]float64{1}, 1, true
		}
		return idx, w, 0, false
	}

	dx, dy := q.X-m.origin.X, q.Y-m.origin.Y
	along := dx*m.dir.X + dy*m.dir.Y
	across := -dx*m.dir.Y + dy*m.dir.X
	tol := baryEps * m.length
	first, last := m.params[0], m.params[len(m.params)-1]
	if math.Abs(across) > tol || along < first-tol || along > last+tol {
		return idx, w, 0, false
	}

	k := sort.SearchFloat64s(m.params, along)
	switch {
	case k == 0:
		return [3]int{m.order[0]}, [3]float64{1}, 1, true
	case k >= len(m.params):
		return [3]int{m.order[len(m.order)-1]}, [3]float64{1}, 1, true
	}
	lo, hi := m.params[k-1], m.params[k]
	t := (along - lo) / (hi - lo)
	return [3]int{m.order[k-1], m.order[k]}, [3]float64{1 - t, t}, 2, true
}

func collinear(pts []Point) bool {
	a := pts[0]
	// pick the point furthest from a as the second anchor
	b := a
	for _, p := range pts {
		if dist(p, a) > dist(b, a) {
			b = p
		}
	}
	ab := dist(a, b)
	if ab == 0 {
		return true
	}
	for _, p := range pts {
		cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
		if math.Abs(cross) > 1e-12*ab*math.Max(dist(a, p), ab) {
			return false
		}
	}
	return true
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// bowyerWatson triangulates pts incrementally inside an enclosing triangle
// and returns counter-clockwise triangles over the original indices.
func bowyerWatson(pts []Point) [][3]int {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	span := math.Max(maxX-minX, maxY-minY)
	cx, cy := (minX+maxX)/2, (minY+maxY)/2

	n := len(pts)
	all := make([]Point, n, n+3)
	copy(all, pts)
	all = append(all,
		Point{cx - 2*superScale*span, cy - superScale*span},
		Point{cx + 2*superScale*span, cy - superScale*span},
		Point{cx, cy + 2*superScale*span},
	)

	tris := [][3]int{{n, n + 1, n + 2}}
	type edge struct{ u, v int }

	for i := 0; i < n; i++ {
		p := all[i]
		edges := make(map[edge]int)
		kept := tris[:0:0]
		for _, t := range tris {
			if inCircle(all[t[0]], all[t[1]], all[t[2]], p) {
				for k := 0; k < 3; k++ {
					u, v := t[k], t[(k+1)%3]
					if u > v {
						u, v = v, u
					}
					edges[edge{u, v}]++
				}
				continue
			}
			kept = append(kept, t)
		}
		for e, count := range edges {
			if count != 1 {
				continue
			}
			kept = append(kept, ccw(all, [3]int{e.u, e.v, i}))
		}
		tris = kept
	}

	out := tris[:0]
	for _, t := range tris {
		if t[0] >= n || t[1] >= n || t[2] >= n {
			continue
		}
		out = append(out, t)
	}
	return out
}

// inCircle reports whether d lies strictly inside the circumcircle of the
// counter-clockwise triangle abc.
func inCircle(a, b, c, d Point) bool {
	adx, ady := a.X-d.X, a.Y-d.Y
	bdx, bdy := b.X-d.X, b.Y-d.Y
	cdx, cdy := c.X-d.X, c.Y-d.Y
	det := (adx*adx+ady*ady)*(bdx*cdy-cdx*bdy) -
		(bdx*bdx+bdy*bdy)*(adx*cdy-cdx*ady) +
		(cdx*cdx+cdy*cdy)*(adx*bdy-bdx*ady)
	return det > 0
}

func ccw(pts []Point, t [3]int) [3]int {
	a, b, c := pts[t[0]], pts[t[1]], pts[t[2]]
	if (b.X-a.X)*(c.Y-a.Y)-(b.Y-a.Y)*(c.X-a.X) < 0 {
		t[1], t[2] = t[2], t[1]
	}
	return t
}
