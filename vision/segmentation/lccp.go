package segmentation

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/theodesp/unionfind"
	"go.opencensus.io/trace"

	"go.viam.com/tabletop/logging"
)

// LCCPConfig configures the convexity based merge of supervoxels.
type LCCPConfig struct {
	// ConcavityToleranceThreshold is the largest normal angle, in degrees, of a concave boundary
	// that is still merged.
	ConcavityToleranceThreshold float64
	// KFactor is the extended convexity ring: with 1, a convex edge needs a common neighbor convexly
	// connected to both of its ends.
	KFactor             int
	UseSmoothnessCheck  bool
	SmoothnessThreshold float64
	VoxelResolution     float64
	SeedResolution      float64
	UseSanityCriterion  bool
	MinSegmentSize      int
}

// EdgeProperties describes the boundary between two adjacent supervoxels.
type EdgeProperties struct {
	// NormalAngle is the angle between the supervoxel normals in degrees.
	NormalAngle float64
	Convex      bool
	// Smooth is false when the smoothness check rejected the boundary as a step.
	Smooth bool
	// Sane is false when convexity is not defined for the boundary's geometry. With the sanity
	// criterion enabled such a boundary is never convex.
	Sane bool
}

// Merges reports whether the boundary joins its supervoxels.
func (e EdgeProperties) Merges() bool {
	return e.Convex && e.Smooth
}

// LCCPResult assigns every supervoxel a segment label.
type LCCPResult struct {
	// SegmentLabels maps each supervoxel label to its segment label, 1..NumSegments, or 0 when the
	// supervoxel was dropped.
	SegmentLabels map[uint32]int
	// Edges holds the properties of every adjacent pair, keyed smaller label first.
	Edges       map[[2]uint32]EdgeProperties
	NumSegments int
	// DroppedSupervoxels counts supervoxels of segments smaller than the minimum segment size.
	DroppedSupervoxels int
}

// RelabelCloud maps per point supervoxel labels to segment labels. Points of unknown or dropped
// supervoxels get 0.
func (res *LCCPResult) RelabelCloud(pointLabels []uint32) []int {
	out := make([]int, len(pointLabels))
	for i, l := range pointLabels {
		out[i] = res.SegmentLabels[l]
	}
	return out
}

// LocallyConvexMerger is the LCCP implementation of Merger.
type LocallyConvexMerger struct {
	logger logging.Logger
}

// NewLocallyConvexMerger returns an LCCP merger.
func NewLocallyConvexMerger(logger logging.Logger) *LocallyConvexMerger {
	return &LocallyConvexMerger{logger: logger.Sublogger("lccp")}
}

func edgeKey(a, b uint32) [2]uint32 {
	if a > b {
		a, b = b, a
	}
	return [2]uint32{a, b}
}

// classifyEdge computes the convexity, smoothness and sanity of the boundary between the source and
// target supervoxels. Sanity follows the intersection angle rule of Stein et al.: the boundary is
// insane when the line where the two patches meet is too close to the line joining their centroids.
func classifyEdge(source, target *Supervoxel, cfg LCCPConfig) EdgeProperties {
	ns, nt := source.Normal, target.Normal
	props := EdgeProperties{Smooth: true, Sane: true}
	if ns.Norm() == 0 || nt.Norm() == 0 {
		return props
	}
	props.NormalAngle = ns.Angle(nt).Degrees()
	d := source.Centroid.Sub(target.Centroid)
	ncross := ns.Cross(nt)

	if cfg.UseSmoothnessCheck {
		expected := ncross.Norm() * cfg.SeedResolution
		dist := math.Min(math.Abs(d.Dot(ns)), math.Abs(d.Dot(nt)))
		if dist > expected+cfg.SmoothnessThreshold*cfg.VoxelResolution {
			props.Smooth = false
		}
	}

	if ncross.Norm() > 1e-9 && d.Norm() > 0 {
		intersection := ncross.Angle(d).Degrees()
		minIntersection := math.Min(intersection, 180-intersection)
		threshold := 60. / (1. + math.Exp(-0.25*(props.NormalAngle-25.)))
		props.Sane = minIntersection >= threshold
	}

	if d.Norm() == 0 {
		props.Convex = props.NormalAngle < cfg.ConcavityToleranceThreshold
	} else {
		props.Convex = d.Angle(ns).Degrees()-d.Angle(nt).Degrees() <= 0 ||
			props.NormalAngle < cfg.ConcavityToleranceThreshold
	}
	// an insane boundary is treated as concave
	if cfg.UseSanityCriterion && !props.Sane {
		props.Convex = false
	}
	return props
}

// applyKConvexity keeps a convex edge only when at least k common neighbors are convexly connected
// to both of its ends. Decisions use the convexity before this pass.
func applyKConvexity(edges map[[2]uint32]EdgeProperties, adjacency SupervoxelAdjacency, k int) {
	if k <= 0 {
		return
	}
	original := make(map[[2]uint32]bool, len(edges))
	for key, e := range edges {
		original[key] = e.Convex
	}
	for key, e := range edges {
		if !e.Convex {
			continue
		}
		common := 0
		for _, nb := range adjacency.Neighbors(key[0]) {
			if nb == key[1] || !adjacency.AreAdjacent(nb, key[1]) {
				continue
			}
			if original[edgeKey(key[0], nb)] && original[edgeKey(key[1], nb)] {
				common++
			}
		}
		if common < k {
			e.Convex = false
			edges[key] = e
		}
	}
}

// Merge implements Merger.
func (m *LocallyConvexMerger) Merge(ctx context.Context, supervoxels *Supervoxels, cfg LCCPConfig) (*LCCPResult, error) {
	_, span := trace.StartSpan(ctx, "segmentation::LocallyConvexMerger::Merge")
	defer span.End()

	if supervoxels == nil {
		return nil, errors.New("no supervoxels to merge")
	}
	if err := supervoxels.Adjacency.Validate(supervoxels.Clusters); err != nil {
		return nil, err
	}
	labels := supervoxels.Labels()
	index := make(map[uint32]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}

	edges := make(map[[2]uint32]EdgeProperties, supervoxels.Adjacency.NumEdges())
	for _, e := range supervoxels.Adjacency.Edges() {
		edges[e] = classifyEdge(supervoxels.Clusters[e[0]], supervoxels.Clusters[e[1]], cfg)
	}
	applyKConvexity(edges, supervoxels.Adjacency, cfg.KFactor)

	uf := unionfind.NewThreadSafeUnionFind(len(labels))
	for _, e := range sortedEdgeKeys(edges) {
		if edges[e].Merges() {
			uf.Union(index[e[0]], index[e[1]])
		}
	}
	components := make(map[int][]uint32)
	for i, l := range labels {
		root := uf.Root(i)
		if root < 0 {
			root = i
		}
		components[root] = append(components[root], l)
	}

	groups := make([][]uint32, 0, len(components))
	for _, members := range components {
		groups = append(groups, members)
	}
	// members are in increasing label order, so the first one is the smallest
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })

	result := &LCCPResult{
		SegmentLabels: make(map[uint32]int, len(labels)),
		Edges:         edges,
	}
	for _, members := range groups {
		if len(members) < cfg.MinSegmentSize {
			for _, l := range members {
				result.SegmentLabels[l] = 0
			}
			result.DroppedSupervoxels += len(members)
			continue
		}
		result.NumSegments++
		for _, l := range members {
			result.SegmentLabels[l] = result.NumSegments
		}
	}
	m.logger.Debugw("supervoxels merged",
		"supervoxels", len(labels), "edges", len(edges), "segments", result.NumSegments,
		"dropped_supervoxels", result.DroppedSupervoxels)
	return result, nil
}

func sortedEdgeKeys(edges map[[2]uint32]EdgeProperties) [][2]uint32 {
	keys := make([][2]uint32, 0, len(edges))
	for k := range edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	return keys
}
