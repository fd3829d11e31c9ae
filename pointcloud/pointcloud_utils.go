package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// CloudCentroid returns the centroid of a pointcloud as a vector.
func CloudCentroid(pc PointCloud) r3.Vector {
	if pc.Size() == 0 {
		// This is done to match the centroids provided by GetObjectPointClouds.
		// Returning {NaN, NaN, NaN} is probably more correct, but this matches prior behavior.
		return r3.Vector{}
	}
	var sum r3.Vector
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		sum = sum.Add(p)
		return true
	})
	return sum.Mul(1. / float64(pc.Size()))
}

// ToSlice returns the points of the cloud in iteration order.
func ToSlice(pc PointCloud) []PointAndData {
	points := make([]PointAndData, 0, pc.Size())
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		points = append(points, PointAndData{P: p, D: d})
		return true
	})
	return points
}

// Positions returns only the positions of the cloud in iteration order.
func Positions(pc PointCloud) []r3.Vector {
	positions := make([]r3.Vector, 0, pc.Size())
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		positions = append(positions, p)
		return true
	})
	return positions
}

// NewFromSlice builds a cloud holding the given points in order.
func NewFromSlice(points []PointAndData) (PointCloud, error) {
	pc := NewWithPrealloc(len(points))
	for _, pd := range points {
		if err := pc.Set(pd.P, pd.D); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// Subset builds a cloud from the points at the given indices, in the order of the indices.
func Subset(points []PointAndData, indices []int) (PointCloud, error) {
	pc := NewWithPrealloc(len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(points) {
			return nil, errors.Errorf("index %d out of range for %d points", idx, len(points))
		}
		if err := pc.Set(points[idx].P, points[idx].D); err != nil {
			return nil, err
		}
	}
	return pc, nil
}
