package tabletop

import (
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	pc "go.viam.com/tabletop/pointcloud"
)

const (
	tableHeight = -0.8
	tableCells  = 31
	domePoints  = 700
)

var tableGray = color.NRGBA{128, 128, 128, 255}

// sceneCloud is a 30cm square table 80cm under the sensor, with a 4cm dome floating 5cm above it
// when withDome is set.
func sceneCloud(t *testing.T, withDome bool) pc.PointCloud {
	t.Helper()
	cloud := pc.New()
	half := float64(tableCells-1) / 2
	for i := 0; i < tableCells; i++ {
		for j := 0; j < tableCells; j++ {
			p := r3.Vector{X: (float64(i) - half) * 0.01, Y: (float64(j) - half) * 0.01, Z: tableHeight}
			test.That(t, cloud.Set(p, pc.NewColoredData(tableGray)), test.ShouldBeNil)
		}
	}
	if !withDome {
		return cloud
	}
	// upper half of a Fibonacci lattice sphere
	const n = 2 * domePoints
	center := r3.Vector{Z: tableHeight + 0.05}
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < n; i++ {
		z := 1 - (float64(i)+0.5)*2/n
		r := math.Sqrt(1 - z*z)
		theta := golden * float64(i)
		if z < 0 {
			continue
		}
		p := center.Add(r3.Vector{X: r * math.Cos(theta), Y: r * math.Sin(theta), Z: z}.Mul(0.04))
		test.That(t, cloud.Set(p, pc.NewColoredData(color.NRGBA{200, 20, 20, 255})), test.ShouldBeNil)
	}
	return cloud
}
