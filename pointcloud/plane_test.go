package pointcloud

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestEmptyPlane(t *testing.T) {
	plane := NewEmptyPlane()
	test.That(t, plane.Equation(), test.ShouldResemble, [4]float64{})
	test.That(t, plane.Normal(), test.ShouldResemble, r3.Vector{})
	test.That(t, plane.Center(), test.ShouldResemble, r3.Vector{})
	cloud, err := plane.PointCloud()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 0)
	// a zero normal has no side
	test.That(t, plane.Distance(r3.Vector{X: 1, Y: 2, Z: 3}), test.ShouldEqual, 0)

	test.That(t, NewPlane(nil, [4]float64{0, 0, 1, 0}).Center(), test.ShouldResemble, r3.Vector{})
}

func TestTablePlane(t *testing.T) {
	// a 1m square table 80cm below the sensor, its normal facing up towards the sensor
	cloud := New()
	for _, p := range []r3.Vector{{X: -0.5, Y: -0.5, Z: -0.8}, {X: 0.5, Y: -0.5, Z: -0.8}, {X: 0.5, Y: 0.5, Z: -0.8}, {X: -0.5, Y: 0.5, Z: -0.8}} {
		test.That(t, cloud.Set(p, nil), test.ShouldBeNil)
	}
	plane := NewPlane(cloud, [4]float64{0, 0, 1, 0.8})
	test.That(t, plane.Equation(), test.ShouldResemble, [4]float64{0, 0, 1, 0.8})
	test.That(t, plane.Offset(), test.ShouldEqual, 0.8)
	test.That(t, plane.Center().Distance(r3.Vector{Z: -0.8}), test.ShouldBeLessThan, 1e-12)
	pts, err := plane.PointCloud()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts, test.ShouldEqual, cloud)

	// heights above the table are positive, the sensor side
	test.That(t, plane.Distance(r3.Vector{}), test.ShouldAlmostEqual, 0.8)
	test.That(t, plane.Distance(r3.Vector{X: 0.3, Z: -0.75}), test.ShouldAlmostEqual, 0.05)
	test.That(t, plane.Distance(r3.Vector{Y: -0.2, Z: -0.9}), test.ShouldAlmostEqual, -0.1)
}

func TestPlaneDistanceUnnormalized(t *testing.T) {
	// x + y - z = 0 with a normal of length sqrt(3)
	plane := NewPlane(nil, [4]float64{1, 1, -1, 0})
	test.That(t, plane.Normal(), test.ShouldResemble, r3.Vector{X: 1, Y: 1, Z: -1})
	test.That(t, plane.Distance(r3.Vector{X: 2, Y: 2, Z: 4}), test.ShouldAlmostEqual, 0)
	test.That(t, plane.Distance(r3.Vector{X: -1, Y: -1, Z: 1}), test.ShouldAlmostEqual, -math.Sqrt(3))
}
