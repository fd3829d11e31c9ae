package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

const (
	// Points beyond 2^53 cannot be represented exactly and would alias in the position index.
	maxPreciseFloat64 = float64(1 << 53)
	minPreciseFloat64 = -maxPreciseFloat64
)

// basicPointCloud is the basic implementation of the PointCloud interface backed by
// an ordered slice of points indexed by position.
type basicPointCloud struct {
	points storage
	meta   MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points: &matrixStorage{points: make([]PointAndData, 0, size), indexMap: make(map[r3.Vector]uint, size)},
		meta:   NewMetaData(),
	}
}

func (cloud *basicPointCloud) Size() int {
	return cloud.points.Size()
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) At(x, y, z float64) (Data, bool) {
	return cloud.points.At(x, y, z)
}

// Set validates that the point can be precisely stored before setting it in the cloud.
func (cloud *basicPointCloud) Set(p r3.Vector, d Data) error {
	if err := checkPrecise("x", p.X); err != nil {
		return err
	}
	if err := checkPrecise("y", p.Y); err != nil {
		return err
	}
	if err := checkPrecise("z", p.Z); err != nil {
		return err
	}
	if err := cloud.points.Set(p, d); err != nil {
		return err
	}
	cloud.meta.Merge(p, d)
	return nil
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	cloud.points.Iterate(numBatches, myBatch, fn)
}

func checkPrecise(axis string, v float64) error {
	if v < minPreciseFloat64 || v > maxPreciseFloat64 {
		return errors.Errorf("%s component (%v) is out of range [%v,%v]", axis, v, minPreciseFloat64, maxPreciseFloat64)
	}
	return nil
}
