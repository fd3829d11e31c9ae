package pointcloud

import (
	"image/color"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestVoxelCoordinates(t *testing.T) {
	vc := GetVoxelCoordinates(r3.Vector{X: 0.25, Y: 1.0, Z: -0.1}, r3.Vector{X: -0.5, Y: 0, Z: -0.5}, 0.5)
	test.That(t, vc, test.ShouldResemble, VoxelCoords{1, 2, 0})
	test.That(t, vc.IsEqual(VoxelCoords{1, 2, 0}), test.ShouldBeTrue)
	test.That(t, vc.Less(VoxelCoords{1, 2, 1}), test.ShouldBeTrue)
	test.That(t, vc.Less(VoxelCoords{0, 5, 5}), test.ShouldBeFalse)
}

func TestVoxelGridFromPointCloud(t *testing.T) {
	empty := NewVoxelGridFromPointCloud(New(), 1)
	test.That(t, len(empty.Voxels), test.ShouldEqual, 0)

	pc := New()
	test.That(t, pc.Set(NewVector(0, 0, 0), NewColoredData(color.NRGBA{255, 0, 0, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(0.5, 0.5, 0.5), NewColoredData(color.NRGBA{0, 0, 255, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(1.5, 0, 0), NewBasicData()), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(5, 5, 5), NewBasicData()), test.ShouldBeNil)

	vg := NewVoxelGridFromPointCloud(pc, 1)
	test.That(t, vg.VoxelSize(), test.ShouldEqual, 1.)
	test.That(t, vg.Keys(), test.ShouldResemble, []VoxelCoords{{0, 0, 0}, {1, 0, 0}, {5, 5, 5}})

	first := vg.GetVoxelFromKey(VoxelCoords{0, 0, 0})
	test.That(t, first.PointIndices, test.ShouldResemble, []int{0, 1})
	test.That(t, first.Center, test.ShouldResemble, r3.Vector{X: 0.25, Y: 0.25, Z: 0.25})
	test.That(t, first.HasColor, test.ShouldBeTrue)
	test.That(t, first.Color.R, test.ShouldAlmostEqual, 0.5)
	test.That(t, first.Color.B, test.ShouldAlmostEqual, 0.5)
	test.That(t, vg.GetVoxelFromKey(VoxelCoords{1, 0, 0}).HasColor, test.ShouldBeFalse)

	test.That(t, vg.GetAdjacentVoxels(first), test.ShouldResemble, []VoxelCoords{{1, 0, 0}})
	test.That(t, vg.GetAdjacentVoxels(vg.GetVoxelFromKey(VoxelCoords{5, 5, 5})), test.ShouldBeEmpty)

	first.SetLabel(3)
	labeled, err := vg.ConvertToPointCloudWithValue()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, labeled.Size(), test.ShouldEqual, 3)
	d, ok := labeled.At(0.25, 0.25, 0.25)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.Value(), test.ShouldEqual, 3)
}
