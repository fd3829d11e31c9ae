package pointcloud

import (
	"github.com/golang/geo/r3"
)

// Plane defines a planar object in a 3D space.
type Plane interface {
	Equation() [4]float64            // Returns an array of the plane equation [0]x + [1]y + [2]z + [3] = 0.
	Normal() r3.Vector               // The normal vector of the plane, could point "up" or "down".
	Center() r3.Vector               // The center point of the plane, if the plane has points.
	Offset() float64                 // the offset of the plane from the origin, [3] of the equation.
	PointCloud() (PointCloud, error) // Returns the underlying pointcloud that makes up the plane.
	Distance(p r3.Vector) float64    // The signed distance of the point from the plane.
}

// basicPlane is a simple implementation of a plane in 3D, with the equation stored.
type basicPlane struct {
	equation [4]float64
	pc       PointCloud
	center   r3.Vector
}

// NewEmptyPlane initializes an empty plane object.
func NewEmptyPlane() Plane {
	return &basicPlane{[4]float64{}, New(), r3.Vector{}}
}

// NewPlane creates a new plane object from a point cloud and its equation. A nil cloud yields a
// plane without points.
func NewPlane(cloud PointCloud, eq [4]float64) Plane {
	if cloud == nil {
		cloud = New()
	}
	return &basicPlane{eq, cloud, CloudCentroid(cloud)}
}

func (p *basicPlane) Equation() [4]float64 {
	return p.equation
}

func (p *basicPlane) Normal() r3.Vector {
	return r3.Vector{X: p.equation[0], Y: p.equation[1], Z: p.equation[2]}
}

func (p *basicPlane) Center() r3.Vector {
	return p.center
}

func (p *basicPlane) Offset() float64 {
	return p.equation[3]
}

func (p *basicPlane) PointCloud() (PointCloud, error) {
	return p.pc, nil
}

func (p *basicPlane) Distance(pt r3.Vector) float64 {
	norm := p.Normal().Norm()
	if norm == 0 {
		return 0
	}
	return (p.Normal().Dot(pt) + p.equation[3]) / norm
}
