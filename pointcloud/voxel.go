package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
)

/* In this file are functions to create a Voxel and a Voxel Grid from a point cloud.
A voxel represents a value on a regular grid in three-dimensional space. As with pixels in a 2D
bitmap, voxels themselves do not typically have their position (i.e. coordinates) explicitly
encoded with their values.
More information and comparisons with pixels here:
- https://en.wikipedia.org/wiki/Voxel
*/

// VoxelCoords stores Voxel coordinates in VoxelGrid axes.
type VoxelCoords struct {
	I, J, K int64
}

// IsEqual tests if two VoxelCoords are the same.
func (c VoxelCoords) IsEqual(c2 VoxelCoords) bool {
	return c.I == c2.I && c.J == c2.J && c.K == c2.K
}

// Less orders coordinates lexicographically by I, then J, then K.
func (c VoxelCoords) Less(c2 VoxelCoords) bool {
	if c.I != c2.I {
		return c.I < c2.I
	}
	if c.J != c2.J {
		return c.J < c2.J
	}
	return c.K < c2.K
}

// Voxel is the structure to store data relevant to Voxel operations in point clouds.
type Voxel struct {
	Key          VoxelCoords
	Label        int
	PointIndices []int
	Center       r3.Vector
	Color        colorful.Color
	HasColor     bool
	Normal       r3.Vector
	Curvature    float64
}

// SetLabel sets a voxel.
func (v1 *Voxel) SetLabel(label int) {
	v1.Label = label
}

// VoxelGrid contains the sparse grid of Voxels of a point cloud.
type VoxelGrid struct {
	Voxels    map[VoxelCoords]*Voxel
	voxelSize float64
	origin    r3.Vector
	keys      []VoxelCoords
}

// GetVoxelCoordinates computes voxel coordinates in VoxelGrid Axes.
func GetVoxelCoordinates(pt, ptMin r3.Vector, voxelSize float64) VoxelCoords {
	ptVoxel := pt.Sub(ptMin)
	return VoxelCoords{
		I: int64(math.Floor(ptVoxel.X / voxelSize)),
		J: int64(math.Floor(ptVoxel.Y / voxelSize)),
		K: int64(math.Floor(ptVoxel.Z / voxelSize)),
	}
}

// NewVoxelGridFromPointCloud creates and fills a VoxelGrid from a point cloud. Each voxel keeps
// the indices of its points in the cloud's iteration order, their centroid and their mean color.
func NewVoxelGridFromPointCloud(pc PointCloud, voxelSize float64) *VoxelGrid {
	vg := &VoxelGrid{
		Voxels:    make(map[VoxelCoords]*Voxel),
		voxelSize: voxelSize,
	}
	if pc.Size() == 0 {
		return vg
	}
	vg.origin = pc.MetaData().Min()

	sums := make(map[VoxelCoords]r3.Vector)
	colorSums := make(map[VoxelCoords][3]float64)
	colored := make(map[VoxelCoords]int)
	idx := 0
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		coords := GetVoxelCoordinates(p, vg.origin, voxelSize)
		vox, ok := vg.Voxels[coords]
		if !ok {
			vox = &Voxel{Key: coords}
			vg.Voxels[coords] = vox
			vg.keys = append(vg.keys, coords)
		}
		vox.PointIndices = append(vox.PointIndices, idx)
		sums[coords] = sums[coords].Add(p)
		if d != nil && d.HasColor() {
			r, g, b := d.RGB255()
			cs := colorSums[coords]
			colorSums[coords] = [3]float64{cs[0] + float64(r), cs[1] + float64(g), cs[2] + float64(b)}
			colored[coords]++
		}
		idx++
		return true
	})

	for coords, vox := range vg.Voxels {
		vox.Center = sums[coords].Mul(1. / float64(len(vox.PointIndices)))
		if n := colored[coords]; n > 0 {
			cs := colorSums[coords]
			vox.Color = colorful.Color{R: cs[0] / 255. / float64(n), G: cs[1] / 255. / float64(n), B: cs[2] / 255. / float64(n)}
			vox.HasColor = true
		}
	}
	sort.Slice(vg.keys, func(i, j int) bool { return vg.keys[i].Less(vg.keys[j]) })
	return vg
}

// VoxelSize returns the edge length of the voxels.
func (vg *VoxelGrid) VoxelSize() float64 {
	return vg.voxelSize
}

// Keys returns the occupied voxel coordinates in lexicographic order.
func (vg *VoxelGrid) Keys() []VoxelCoords {
	return vg.keys
}

// GetVoxelFromKey returns a pointer to a voxel from a VoxelCoords key.
func (vg *VoxelGrid) GetVoxelFromKey(coords VoxelCoords) *Voxel {
	return vg.Voxels[coords]
}

// GetAdjacentVoxels gets adjacent voxels in point cloud in 26-connectivity.
func (vg *VoxelGrid) GetAdjacentVoxels(v *Voxel) []VoxelCoords {
	I, J, K := v.Key.I, v.Key.J, v.Key.K
	is := []int64{I - 1, I, I + 1}
	js := []int64{J - 1, J, J + 1}
	ks := []int64{K - 1, K, K + 1}
	neighborKeys := make([]VoxelCoords, 0, 26)
	for _, i := range is {
		for _, j := range js {
			for _, k := range ks {
				vox := VoxelCoords{i, j, k}
				_, ok := vg.Voxels[vox]
				// if neighboring voxel is in VoxelGrid and is not current voxel
				if ok && !v.Key.IsEqual(vox) {
					neighborKeys = append(neighborKeys, vox)
				}
			}
		}
	}
	return neighborKeys
}

// ConvertToPointCloudWithValue converts the voxel grid to a point cloud of voxel centers whose
// values are the voxel labels.
func (vg *VoxelGrid) ConvertToPointCloudWithValue() (PointCloud, error) {
	pc := NewWithPrealloc(len(vg.keys))
	for _, k := range vg.keys {
		vox := vg.Voxels[k]
		if err := pc.Set(vox.Center, NewValueData(vox.Label)); err != nil {
			return nil, err
		}
	}
	return pc, nil
}
