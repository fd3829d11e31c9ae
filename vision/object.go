// Package vision holds the objects produced by the segmentation pipelines.
package vision

import (
	"github.com/golang/geo/r3"

	pc "go.viam.com/tabletop/pointcloud"
)

// Object is a labeled group of points. The label is the final segment label assigned by the
// merger; 0 is never used for an object.
type Object struct {
	pc.PointCloud
	Label int
}

// NewObject wraps a cloud with its label. A nil cloud yields an empty object.
func NewObject(label int, cloud pc.PointCloud) *Object {
	if cloud == nil {
		cloud = pc.New()
	}
	return &Object{PointCloud: cloud, Label: label}
}

// NewEmptyObject creates a new object with an empty point cloud and no label.
func NewEmptyObject() *Object {
	return NewObject(0, nil)
}

// Centroid returns the mean position of the object's points.
func (o *Object) Centroid() r3.Vector {
	return pc.CloudCentroid(o.PointCloud)
}
