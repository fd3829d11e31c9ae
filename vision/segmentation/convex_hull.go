package segmentation

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// ConvexHull2D computes the convex hull of the points with Andrew's monotone chain. Vertices are
// returned in counter-clockwise order without repeating the first one; collinear boundary points are
// left out.
func ConvexHull2D(points []r2.Point) []r2.Point {
	pts := make([]r2.Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})
	if len(pts) < 3 {
		return pts
	}
	turn := func(o, a, b r2.Point) float64 {
		return a.Sub(o).Cross(b.Sub(o))
	}
	hull := make([]r2.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// PolygonArea returns the unsigned area of a simple polygon.
func PolygonArea(polygon []r2.Point) float64 {
	if len(polygon) < 3 {
		return 0
	}
	sum := 0.
	for i := range polygon {
		sum += polygon[i].Cross(polygon[(i+1)%len(polygon)])
	}
	return math.Abs(sum) / 2
}

// PointInConvexPolygon reports whether p lies inside or on the boundary of a counter-clockwise
// convex polygon.
func PointInConvexPolygon(p r2.Point, polygon []r2.Point) bool {
	if len(polygon) < 3 {
		return false
	}
	const eps = 1e-12
	for i := range polygon {
		a, b := polygon[i], polygon[(i+1)%len(polygon)]
		if b.Sub(a).Cross(p.Sub(a)) < -eps {
			return false
		}
	}
	return true
}

// planeBasis returns two unit vectors spanning the plane orthogonal to the unit normal.
func planeBasis(normal r3.Vector) (r3.Vector, r3.Vector) {
	u := normal.Ortho()
	v := normal.Cross(u).Normalize()
	return u, v
}

func projectToBasis(p, u, v r3.Vector) r2.Point {
	return r2.Point{X: p.Dot(u), Y: p.Dot(v)}
}
