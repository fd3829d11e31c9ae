package segmentation

import (
	"context"
	"image/color"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/tabletop/logging"
	pc "go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/utils"
)

// SupervoxelConfig holds the voxel and seed grid sizes and the weights of the supervoxel distance.
type SupervoxelConfig struct {
	VoxelResolution   float64
	SeedResolution    float64
	ColorImportance   float64
	SpatialImportance float64
	NormalImportance  float64
}

// CheckValid checks the resolutions and weights.
func (cfg SupervoxelConfig) CheckValid() error {
	if cfg.VoxelResolution <= 0 {
		return utils.NewOutOfRangeError("voxel resolution", cfg.VoxelResolution, "greater than 0")
	}
	if cfg.SeedResolution < cfg.VoxelResolution {
		return utils.NewOutOfRangeError("seed resolution", cfg.SeedResolution, "at least the voxel resolution")
	}
	if cfg.ColorImportance < 0 || cfg.SpatialImportance < 0 || cfg.NormalImportance < 0 {
		return errors.New("supervoxel importances must be non-negative")
	}
	return nil
}

// Supervoxel is a compact cluster of voxels grown from a seed.
type Supervoxel struct {
	Label    uint32
	Centroid r3.Vector
	Color    colorful.Color
	HasColor bool
	// Normal is the unit average normal of the member voxels, facing the viewpoint.
	Normal       r3.Vector
	Voxels       []pc.VoxelCoords
	PointIndices []int
	Cloud        pc.PointCloud
}

// Supervoxels is the output of supervoxel clustering.
type Supervoxels struct {
	Config    SupervoxelConfig
	Clusters  map[uint32]*Supervoxel
	Adjacency SupervoxelAdjacency
	// LabeledVoxelCloud holds one point per voxel at the voxel centroid, valued with its supervoxel
	// label or 0 when no supervoxel reached it.
	LabeledVoxelCloud pc.PointCloud
	// NormalCloud holds the supervoxel centroids carrying their normal, valued with the label.
	NormalCloud pc.PointCloud
	// PointLabels gives the supervoxel label of every input point in iteration order.
	PointLabels []uint32
}

// Labels returns the supervoxel labels in increasing order.
func (s *Supervoxels) Labels() []uint32 {
	labels := make([]uint32, 0, len(s.Clusters))
	for l := range s.Clusters {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

func emptySupervoxels(cfg SupervoxelConfig) *Supervoxels {
	return &Supervoxels{
		Config:            cfg,
		Clusters:          map[uint32]*Supervoxel{},
		Adjacency:         SupervoxelAdjacency{},
		LabeledVoxelCloud: pc.New(),
		NormalCloud:       pc.New(),
		PointLabels:       []uint32{},
	}
}

// VoxelCloudConnectivity is the VCCS implementation of Clusterer.
type VoxelCloudConnectivity struct {
	viewpoint r3.Vector
	logger    logging.Logger
}

// NewVoxelCloudConnectivity returns a clusterer with the viewpoint at the origin.
func NewVoxelCloudConnectivity(logger logging.Logger) *VoxelCloudConnectivity {
	return &VoxelCloudConnectivity{logger: logger.Sublogger("supervoxels")}
}

// WithViewpoint sets the sensor position used to orient voxel normals.
func (vccs *VoxelCloudConnectivity) WithViewpoint(vp r3.Vector) *VoxelCloudConnectivity {
	vccs.viewpoint = vp
	return vccs
}

// growingSupervoxel is the state of a supervoxel while it expands.
type growingSupervoxel struct {
	label    uint32
	centroid r3.Vector
	color    colorful.Color
	normal   r3.Vector
	frontier []pc.VoxelCoords
}

func (sv *growingSupervoxel) distance(vox *pc.Voxel, cfg SupervoxelConfig) float64 {
	normalDist := 1 - math.Abs(sv.normal.Dot(vox.Normal))
	spatialDist := sv.centroid.Distance(vox.Center) / cfg.SeedResolution
	colorDist := 0.
	if cfg.ColorImportance > 0 {
		colorDist = sv.color.DistanceRgb(vox.Color)
	}
	return cfg.NormalImportance*normalDist + cfg.ColorImportance*colorDist + cfg.SpatialImportance*spatialDist
}

// Cluster implements Clusterer. An empty cloud gives an empty result.
func (vccs *VoxelCloudConnectivity) Cluster(ctx context.Context, cloud pc.PointCloud, cfg SupervoxelConfig) (*Supervoxels, error) {
	ctx, span := trace.StartSpan(ctx, "segmentation::VoxelCloudConnectivity::Cluster")
	defer span.End()

	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	if cloud.Size() == 0 {
		return emptySupervoxels(cfg), nil
	}

	vg := pc.NewVoxelGridFromPointCloud(cloud, cfg.VoxelResolution)
	keys := vg.Keys()
	if err := vccs.computeVoxelNormals(ctx, vg); err != nil {
		return nil, err
	}

	seeds, err := vccs.selectSeeds(vg, cfg)
	if err != nil {
		return nil, err
	}
	vccs.logger.Debugw("supervoxel seeds selected", "voxels", len(keys), "seeds", len(seeds))

	owner := make(map[pc.VoxelCoords]uint32, len(keys))
	ownerDist := make(map[pc.VoxelCoords]float64, len(keys))
	growing := make([]*growingSupervoxel, len(seeds))
	for i, seed := range seeds {
		vox := vg.GetVoxelFromKey(seed)
		label := uint32(i + 1)
		growing[i] = &growingSupervoxel{
			label:    label,
			centroid: vox.Center,
			color:    vox.Color,
			normal:   vox.Normal,
			frontier: []pc.VoxelCoords{seed},
		}
		owner[seed] = label
		ownerDist[seed] = 0
	}

	depth := int(1.8 * cfg.SeedResolution / cfg.VoxelResolution)
	for round := 0; round < depth; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, sv := range growing {
			var next []pc.VoxelCoords
			for _, key := range sv.frontier {
				if owner[key] != sv.label {
					continue
				}
				for _, nbKey := range vg.GetAdjacentVoxels(vg.GetVoxelFromKey(key)) {
					current := owner[nbKey]
					if current == sv.label {
						continue
					}
					dist := sv.distance(vg.GetVoxelFromKey(nbKey), cfg)
					if current != 0 && dist >= ownerDist[nbKey] {
						continue
					}
					owner[nbKey] = sv.label
					ownerDist[nbKey] = dist
					next = append(next, nbKey)
				}
			}
			sv.frontier = next
		}
		updateCentroids(vg, keys, owner, growing)
	}

	return vccs.buildSupervoxels(ctx, cloud, vg, owner, growing, cfg)
}

// computeVoxelNormals fits a normal to the centroids of each voxel and its 26 neighbors. Every
// voxel is written by exactly one worker.
func (vccs *VoxelCloudConnectivity) computeVoxelNormals(ctx context.Context, vg *pc.VoxelGrid) error {
	keys := vg.Keys()
	return utils.GroupWorkParallel(
		ctx,
		len(keys),
		func(numGroups int) {},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				vox := vg.GetVoxelFromKey(keys[workNum])
				neighbors := vg.GetAdjacentVoxels(vox)
				centers := make([]r3.Vector, 0, len(neighbors)+1)
				centers = append(centers, vox.Center)
				for _, nb := range neighbors {
					centers = append(centers, vg.GetVoxelFromKey(nb).Center)
				}
				normal, curvature, ok := pc.EstimateNormal(centers)
				if !ok {
					return
				}
				vox.Normal = pc.FlipNormalTowardsViewpoint(vox.Center, normal, vccs.viewpoint)
				vox.Curvature = curvature
			}, nil
		},
	)
}

// selectSeeds picks, for each occupied seed cell, the voxel nearest to the cell's centroid and keeps
// it when enough voxels surround it.
func (vccs *VoxelCloudConnectivity) selectSeeds(vg *pc.VoxelGrid, cfg SupervoxelConfig) ([]pc.VoxelCoords, error) {
	keys := vg.Keys()
	centers := pc.NewWithPrealloc(len(keys))
	for i, k := range keys {
		if err := centers.Set(vg.GetVoxelFromKey(k).Center, pc.NewValueData(i)); err != nil {
			return nil, err
		}
	}
	kd := pc.NewKDTree(centers)
	seedGrid := pc.NewVoxelGridFromPointCloud(centers, cfg.SeedResolution)

	searchRadius := 0.5 * cfg.SeedResolution
	searchVolume := 4. / 3. * math.Pi * searchRadius * searchRadius * searchRadius
	voxelVolume := cfg.VoxelResolution * cfg.VoxelResolution * cfg.VoxelResolution
	minVoxels := int(0.05 * searchVolume / voxelVolume)

	seen := make(map[pc.VoxelCoords]bool)
	seeds := make([]pc.VoxelCoords, 0, len(seedGrid.Keys()))
	for _, cellKey := range seedGrid.Keys() {
		cell := seedGrid.GetVoxelFromKey(cellKey)
		nearest, ok := kd.NearestNeighbor(cell.Center)
		if !ok {
			continue
		}
		key := keys[nearest.D.Value()]
		if seen[key] {
			continue
		}
		seen[key] = true
		if len(kd.RadiusNearestNeighbors(nearest.P, searchRadius, true)) > minVoxels {
			seeds = append(seeds, key)
		}
	}
	return seeds, nil
}

// updateCentroids recomputes the position, color and normal of every supervoxel from the voxels it
// currently owns.
func updateCentroids(vg *pc.VoxelGrid, keys []pc.VoxelCoords, owner map[pc.VoxelCoords]uint32, growing []*growingSupervoxel) {
	type accumulator struct {
		xyz     r3.Vector
		r, g, b float64
		normal  r3.Vector
		n       int
	}
	acc := make([]accumulator, len(growing)+1)
	for _, k := range keys {
		label, ok := owner[k]
		if !ok || label == 0 {
			continue
		}
		vox := vg.GetVoxelFromKey(k)
		a := &acc[label]
		a.xyz = a.xyz.Add(vox.Center)
		a.r += vox.Color.R
		a.g += vox.Color.G
		a.b += vox.Color.B
		a.normal = a.normal.Add(vox.Normal)
		a.n++
	}
	for _, sv := range growing {
		a := acc[sv.label]
		if a.n == 0 {
			continue
		}
		inv := 1. / float64(a.n)
		sv.centroid = a.xyz.Mul(inv)
		sv.color = colorful.Color{R: a.r * inv, G: a.g * inv, B: a.b * inv}
		if a.normal.Norm() > 0 {
			sv.normal = a.normal.Normalize()
		}
	}
}

func (vccs *VoxelCloudConnectivity) buildSupervoxels(
	ctx context.Context,
	cloud pc.PointCloud,
	vg *pc.VoxelGrid,
	owner map[pc.VoxelCoords]uint32,
	growing []*growingSupervoxel,
	cfg SupervoxelConfig,
) (*Supervoxels, error) {
	points := pc.ToSlice(cloud)
	result := emptySupervoxels(cfg)
	result.PointLabels = make([]uint32, len(points))

	for _, sv := range growing {
		result.Clusters[sv.label] = &Supervoxel{
			Label:    sv.label,
			Centroid: sv.centroid,
			Color:    sv.color,
			Normal:   sv.normal,
		}
	}
	for _, k := range vg.Keys() {
		vox := vg.GetVoxelFromKey(k)
		label := owner[k]
		vox.SetLabel(int(label))
		if label == 0 {
			continue
		}
		sv := result.Clusters[label]
		sv.Voxels = append(sv.Voxels, k)
		sv.PointIndices = append(sv.PointIndices, vox.PointIndices...)
		sv.HasColor = sv.HasColor || vox.HasColor
		for _, idx := range vox.PointIndices {
			result.PointLabels[idx] = label
		}
	}

	var err error
	if result.LabeledVoxelCloud, err = vg.ConvertToPointCloudWithValue(); err != nil {
		return nil, err
	}

	result.NormalCloud = pc.NewWithPrealloc(len(growing))
	for _, sv := range growing {
		cluster := result.Clusters[sv.label]
		sort.Ints(cluster.PointIndices)
		memberCloud, err := pc.Subset(points, cluster.PointIndices)
		if err != nil {
			return nil, err
		}
		cluster.Cloud = memberCloud
		d := pc.NewNormalData(cluster.Normal, int(cluster.Label))
		if cluster.HasColor {
			r, g, b := cluster.Color.Clamped().RGB255()
			d.SetColor(color.NRGBA{r, g, b, 255})
		}
		if err := result.NormalCloud.Set(cluster.Centroid, d); err != nil {
			return nil, err
		}
	}

	adjacency, err := buildSupervoxelAdjacency(ctx, vg, owner, result.Clusters)
	if err != nil {
		return nil, err
	}
	result.Adjacency = adjacency
	vccs.logger.Debugw("supervoxels built", "supervoxels", len(result.Clusters), "adjacent_pairs", adjacency.NumEdges())
	return result, nil
}
