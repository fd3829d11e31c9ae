package pointcloud

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestEstimateNormal(t *testing.T) {
	var points []r3.Vector
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			points = append(points, r3.Vector{X: float64(i), Y: float64(j), Z: 2})
		}
	}
	normal, curvature, ok := EstimateNormal(points)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, math.Abs(normal.Z), test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, curvature, test.ShouldAlmostEqual, 0, 1e-9)

	tilted := make([]r3.Vector, 0, len(points))
	for _, p := range points {
		tilted = append(tilted, r3.Vector{X: p.X, Y: p.Y, Z: p.X})
	}
	normal, _, ok = EstimateNormal(tilted)
	test.That(t, ok, test.ShouldBeTrue)
	expected := r3.Vector{X: -1, Y: 0, Z: 1}.Normalize()
	test.That(t, math.Abs(normal.Dot(expected)), test.ShouldAlmostEqual, 1, 1e-9)

	_, _, ok = EstimateNormal(points[:2])
	test.That(t, ok, test.ShouldBeFalse)

	line := []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 1}, {X: 2, Y: 2, Z: 2}, {X: 3, Y: 3, Z: 3}}
	_, _, ok = EstimateNormal(line)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestFlipNormalTowardsViewpoint(t *testing.T) {
	point := r3.Vector{X: 0, Y: 0, Z: -1}
	up := r3.Vector{X: 0, Y: 0, Z: 1}
	test.That(t, FlipNormalTowardsViewpoint(point, up, r3.Vector{}), test.ShouldResemble, up)
	test.That(t, FlipNormalTowardsViewpoint(point, up.Mul(-1), r3.Vector{}), test.ShouldResemble, up)
}

func TestCentroid(t *testing.T) {
	test.That(t, Centroid(nil), test.ShouldResemble, r3.Vector{})
	test.That(t, Centroid([]r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 2, Y: 4, Z: 6}}), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
}
