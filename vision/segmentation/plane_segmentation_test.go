package segmentation

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	pc "go.viam.com/tabletop/pointcloud"
)

// momentCurve returns points on (t, t², t³); no plane passes within a centimeter of four of them.
func momentCurve(n int) []r3.Vector {
	points := make([]r3.Vector, 0, n)
	for t := 1; t <= n; t++ {
		ft := float64(t)
		points = append(points, r3.Vector{X: ft, Y: ft * ft, Z: ft * ft * ft})
	}
	return points
}

// gridPlane returns an n by n grid with the given spacing, centered on the origin, at height z.
func gridPlane(n int, spacing, z float64) []r3.Vector {
	points := make([]r3.Vector, 0, n*n)
	half := float64(n-1) / 2
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			points = append(points, r3.Vector{X: (float64(i) - half) * spacing, Y: (float64(j) - half) * spacing, Z: z})
		}
	}
	return points
}

func cloudFromPoints(t *testing.T, points []r3.Vector) pc.PointCloud {
	t.Helper()
	cloud := pc.NewWithPrealloc(len(points))
	for _, p := range points {
		test.That(t, cloud.Set(p, nil), test.ShouldBeNil)
	}
	return cloud
}

func TestSampleConsensusPlaneFit(t *testing.T) {
	points := gridPlane(20, 0.01, -0.5)
	// off-plane points
	for i := 0; i < 30; i++ {
		points = append(points, r3.Vector{X: 0.001 * float64(i), Y: 0.002 * float64(i), Z: 0.1 + 0.01*float64(i)})
	}
	fitter := NewSampleConsensusPlane()
	eq, inliers, err := fitter.Fit(context.Background(), points)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(inliers), test.ShouldEqual, 400)
	for i, idx := range inliers {
		test.That(t, idx, test.ShouldEqual, i)
	}
	normal := r3.Vector{X: eq[0], Y: eq[1], Z: eq[2]}
	test.That(t, normal.Norm(), test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, math.Abs(normal.Z), test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, planeDistance(eq, r3.Vector{X: 0.3, Y: -0.2, Z: -0.5}), test.ShouldAlmostEqual, 0, 1e-9)

	// the sampler is seeded
	eq2, inliers2, err := fitter.Fit(context.Background(), points)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, eq2, test.ShouldResemble, eq)
	test.That(t, inliers2, test.ShouldResemble, inliers)
}

func TestSampleConsensusPlaneNoPlane(t *testing.T) {
	fitter := NewSampleConsensusPlane()
	eq, inliers, err := fitter.Fit(context.Background(), momentCurve(8))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inliers, test.ShouldBeEmpty)
	test.That(t, eq, test.ShouldResemble, [4]float64{})

	_, inliers, err = fitter.Fit(context.Background(), momentCurve(3))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inliers, test.ShouldBeEmpty)

	collinear := []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 2, Y: 0, Z: 0}, {X: 3, Y: 0, Z: 0}, {X: 4, Y: 0, Z: 0}}
	_, inliers, err = fitter.Fit(context.Background(), collinear)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inliers, test.ShouldBeEmpty)
}

func TestSampleConsensusPlaneCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewSampleConsensusPlane().Fit(ctx, gridPlane(10, 0.01, 0))
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestAdaptiveIterations(t *testing.T) {
	test.That(t, adaptiveIterations(1, 0.99, 1000), test.ShouldBeLessThan, 1)
	test.That(t, adaptiveIterations(0, 0.99, 1000), test.ShouldEqual, 1000)
	test.That(t, adaptiveIterations(0.5, 0.99, 1000), test.ShouldAlmostEqual, math.Log(0.01)/math.Log(0.875))
}

func TestSegmentPlane(t *testing.T) {
	points := gridPlane(10, 0.02, 1)
	points = append(points, r3.Vector{X: 0, Y: 0, Z: 2}, r3.Vector{X: 0.05, Y: 0, Z: 1.5})
	cloud := cloudFromPoints(t, points)

	plane, rest, err := SegmentPlane(context.Background(), cloud, 500, 0.005)
	test.That(t, err, test.ShouldBeNil)
	planeCloud, err := plane.PointCloud()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, planeCloud.Size(), test.ShouldEqual, 100)
	test.That(t, rest.Size(), test.ShouldEqual, 2)
	test.That(t, plane.Distance(r3.Vector{X: 3, Y: 3, Z: 1}), test.ShouldAlmostEqual, 0, 1e-9)

	plane, rest, err = SegmentPlane(context.Background(), cloudFromPoints(t, momentCurve(8)), 500, 0.01)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plane.Equation(), test.ShouldResemble, [4]float64{})
	test.That(t, rest.Size(), test.ShouldEqual, 8)
}

func TestComplementIndices(t *testing.T) {
	test.That(t, complementIndices([]int{0, 2, 3}, 6), test.ShouldResemble, []int{1, 4, 5})
	test.That(t, complementIndices([]int{}, 2), test.ShouldResemble, []int{0, 1})
	test.That(t, complementIndices([]int{0, 1}, 2), test.ShouldResemble, []int{})
}
