package segmentation

import (
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	pc "go.viam.com/tabletop/pointcloud"
)

const (
	tableHeight  = -0.8
	tableSpacing = 0.01
	tableCells   = 31
)

// hemisphere samples the upper half of a sphere with a Fibonacci lattice of n points over the whole
// sphere.
func hemisphere(center r3.Vector, radius float64, n int) []r3.Vector {
	golden := math.Pi * (3 - math.Sqrt(5))
	points := make([]r3.Vector, 0, n/2)
	for i := 0; i < n; i++ {
		z := 1 - (float64(i)+0.5)*2/float64(n)
		r := math.Sqrt(1 - z*z)
		theta := golden * float64(i)
		p := r3.Vector{X: r * math.Cos(theta), Y: r * math.Sin(theta), Z: z}
		if p.Z >= 0 {
			points = append(points, center.Add(p.Mul(radius)))
		}
	}
	return points
}

// blob is a dome of radius 4cm whose rim floats 5cm above the table.
func blob() []r3.Vector {
	return hemisphere(r3.Vector{Z: tableHeight + 0.05}, 0.04, 1400)
}

// twinBlobs are two interpenetrating domes 6cm apart; the crease where they meet is concave.
func twinBlobs() []r3.Vector {
	leftCenter := r3.Vector{X: -0.03, Z: tableHeight + 0.05}
	rightCenter := r3.Vector{X: 0.03, Z: tableHeight + 0.05}
	var points []r3.Vector
	for _, p := range hemisphere(leftCenter, 0.04, 1400) {
		if p.Distance(rightCenter) > 0.04 {
			points = append(points, p)
		}
	}
	for _, p := range hemisphere(rightCenter, 0.04, 1400) {
		if p.Distance(leftCenter) > 0.04 {
			points = append(points, p)
		}
	}
	return points
}

func table() []r3.Vector {
	return gridPlane(tableCells, tableSpacing, tableHeight)
}

// sceneCloud puts the table in gray and the objects in red in one cloud, seen from the origin.
func sceneCloud(t *testing.T, objects ...[]r3.Vector) pc.PointCloud {
	t.Helper()
	cloud := pc.New()
	for _, p := range table() {
		test.That(t, cloud.Set(p, pc.NewColoredData(color.NRGBA{128, 128, 128, 255})), test.ShouldBeNil)
	}
	for _, object := range objects {
		for _, p := range object {
			test.That(t, cloud.Set(p, pc.NewColoredData(color.NRGBA{200, 20, 20, 255})), test.ShouldBeNil)
		}
	}
	return cloud
}
