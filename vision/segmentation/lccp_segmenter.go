package segmentation

import (
	"context"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"
	"gonum.org/v1/gonum/graph/simple"

	"go.viam.com/tabletop/logging"
	pc "go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/vision"
)

// DropStats accounts for the points of the post extraction cloud that did not end up in an object.
type DropStats struct {
	// Background points belong to no supervoxel or to a segment below the minimum segment size.
	Background int
	// Undersized points belong to objects with fewer than th_points points.
	Undersized int
	// UndersizedObjects is the number of objects removed by the point count filter.
	UndersizedObjects int
}

// Option configures an LCCPSegmenter.
type Option func(*LCCPSegmenter)

// WithPlaneFitter replaces the table extraction stage.
func WithPlaneFitter(fitter PlaneFitter) Option {
	return func(s *LCCPSegmenter) { s.fitter = fitter }
}

// WithClusterer replaces the supervoxel stage.
func WithClusterer(clusterer Clusterer) Option {
	return func(s *LCCPSegmenter) { s.clusterer = clusterer }
}

// WithMerger replaces the convexity merge stage.
func WithMerger(merger Merger) Option {
	return func(s *LCCPSegmenter) { s.merger = merger }
}

// LCCPSegmenter removes the support plane of a cloud and splits what stands on it into objects.
// It holds the results of the last run until the next Init, Segment or Reset. It is not safe for
// concurrent use.
type LCCPSegmenter struct {
	logger    logging.Logger
	fitter    PlaneFitter
	clusterer Clusterer
	merger    Merger

	params      Parameters
	initialized bool

	inputCloud        pc.PointCloud
	planeCloud        pc.PointCloud
	planeCoefficients [4]float64
	supervoxels       *Supervoxels
	merged            *LCCPResult
	objects           []*vision.Object
	dropped           DropStats
}

// NewLCCPSegmenter returns an uninitialized segmenter with default parameters. A nil logger logs
// through logging.Global.
func NewLCCPSegmenter(logger logging.Logger, opts ...Option) *LCCPSegmenter {
	if logger == nil {
		logger = logging.Global().Sublogger("segmenter")
	}
	s := &LCCPSegmenter{
		logger:    logger,
		fitter:    NewTableExtractor(logger),
		clusterer: NewVoxelCloudConnectivity(logger),
		merger:    NewLocallyConvexMerger(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Reset()
	return s
}

// Init takes the cloud to segment and the parameters to use. Results of a previous run are cleared.
func (s *LCCPSegmenter) Init(cloud pc.PointCloud, params Parameters) error {
	if cloud == nil {
		return errors.New("cannot segment a nil point cloud")
	}
	if err := params.CheckValid(); err != nil {
		return errors.Wrap(err, "invalid segmentation parameters")
	}
	s.clearResults()
	s.inputCloud = cloud
	s.params = params
	s.initialized = true
	return nil
}

// Reset clears every cloud and object and restores the default parameters. Segment fails until the
// next Init.
func (s *LCCPSegmenter) Reset() {
	s.clearResults()
	s.inputCloud = pc.New()
	s.params = DefaultParameters()
	s.initialized = false
}

func (s *LCCPSegmenter) clearResults() {
	s.planeCloud = pc.New()
	s.planeCoefficients = [4]float64{}
	s.supervoxels = emptySupervoxels(s.params.SupervoxelConfig())
	s.merged = nil
	s.objects = []*vision.Object{}
	s.dropped = DropStats{}
}

// Segment runs the pipeline on the cloud given to Init. It returns false when the segmenter is not
// initialized, when nothing is left above the table, or when a stage fails; zero objects after a
// complete run is still a success.
func (s *LCCPSegmenter) Segment(ctx context.Context) bool {
	ctx, span := trace.StartSpan(ctx, "segmentation::LCCPSegmenter::Segment")
	defer span.End()

	if !s.initialized {
		s.logger.Warn("segmenter used before Init")
		return false
	}
	s.clearResults()

	extraction, err := s.fitter.ExtractTable(ctx, s.inputCloud, s.params.ZMin, s.params.ZMax, true)
	if err != nil {
		s.logger.Errorw("table extraction failed", "error", err)
		return false
	}
	s.inputCloud = extraction.ObjectCloud
	s.planeCloud = extraction.PlaneCloud()
	if extraction.Plane != nil {
		s.planeCoefficients = extraction.Plane.Equation()
	}
	s.logger.CDebugw(ctx, "table stage done", "status", extraction.Status.String(),
		"plane_points", s.planeCloud.Size(), "object_points", s.inputCloud.Size())

	if s.params.SeedResolution < LowSeedResolution {
		s.logger.Warnw("seed resolution is low, objects may be split into many segments",
			"seed_resolution", s.params.SeedResolution, "recommended_min", LowSeedResolution)
	}
	if s.inputCloud.Size() == 0 {
		s.logger.Info("no objects on the table")
		return false
	}

	supervoxels, err := s.clusterer.Cluster(ctx, s.inputCloud, s.params.SupervoxelConfig())
	if err != nil {
		s.logger.Errorw("supervoxel clustering failed", "error", err)
		return false
	}
	if len(supervoxels.Clusters) == 0 {
		s.supervoxels = supervoxels
		s.dropped = DropStats{Background: s.inputCloud.Size()}
		s.logger.Infow("no supervoxel could be seeded, every point is background",
			"points", s.inputCloud.Size(), "seed_resolution", s.params.SeedResolution)
		return true
	}
	if len(supervoxels.PointLabels) != s.inputCloud.Size() {
		s.logger.Errorw("supervoxel labels do not cover the cloud",
			"labels", len(supervoxels.PointLabels), "points", s.inputCloud.Size())
		return false
	}
	s.supervoxels = supervoxels
	s.logger.CDebugw(ctx, "supervoxel stage done",
		"supervoxels", len(supervoxels.Clusters), "adjacencies", supervoxels.Adjacency.NumEdges())

	merged, err := s.merger.Merge(ctx, supervoxels, s.params.LCCPConfig())
	if err != nil {
		s.logger.Errorw("lccp merge failed", "error", err)
		return false
	}
	s.merged = merged
	s.logger.CDebugw(ctx, "merge stage done", "segments", merged.NumSegments)

	if err := s.regroup(merged.RelabelCloud(supervoxels.PointLabels)); err != nil {
		s.logger.Errorw("regrouping points by label failed", "error", err)
		return false
	}

	sizes := lo.Map(s.objects, func(o *vision.Object, _ int) float64 { return float64(o.Size()) })
	meanSize := 0.
	if len(sizes) > 0 {
		meanSize, _ = stats.Mean(sizes)
	}
	s.logger.Infow("segmentation done",
		"plane_points", s.planeCloud.Size(),
		"supervoxels", len(supervoxels.Clusters),
		"segments", merged.NumSegments,
		"objects", len(s.objects),
		"mean_object_points", meanSize,
		"background_points", s.dropped.Background,
		"undersized_points", s.dropped.Undersized)
	return true
}

// regroup builds one object per label. The first pass collects the distinct labels, the second
// allocates exactly that many objects and fills them.
func (s *LCCPSegmenter) regroup(pointLabels []int) error {
	distinct := lo.Uniq(lo.Filter(pointLabels, func(l, _ int) bool { return l > 0 }))
	sort.Ints(distinct)

	slots := make(map[int]int, len(distinct))
	objects := make([]*vision.Object, len(distinct))
	for i, l := range distinct {
		slots[l] = i
		objects[i] = vision.NewObject(l, pc.New())
	}

	var err error
	i := 0
	background := 0
	s.inputCloud.Iterate(0, 0, func(p r3.Vector, d pc.Data) bool {
		label := pointLabels[i]
		i++
		if label == 0 {
			background++
			return true
		}
		err = objects[slots[label]].Set(p, d)
		return err == nil
	})
	if err != nil {
		return err
	}

	kept, small := lo.FilterReject(objects, func(o *vision.Object, _ int) bool {
		return o.Size() >= s.params.ThPoints
	})
	s.objects = kept
	s.dropped = DropStats{
		Background:        background,
		Undersized:        lo.SumBy(small, func(o *vision.Object) int { return o.Size() }),
		UndersizedObjects: len(small),
	}
	return nil
}

// InputCloud returns the cloud being segmented; after Segment it holds only the points above the
// table.
func (s *LCCPSegmenter) InputCloud() pc.PointCloud {
	return s.inputCloud
}

// PlaneCloud returns the inliers of the support plane, empty when none was found.
func (s *LCCPSegmenter) PlaneCloud() pc.PointCloud {
	return s.planeCloud
}

// PlaneCoefficients returns the support plane equation with its normal facing the sensor, or
// zeros when no plane was found.
func (s *LCCPSegmenter) PlaneCoefficients() [4]float64 {
	return s.planeCoefficients
}

// LabeledVoxelCloud returns the voxel centroids valued with their supervoxel label.
func (s *LCCPSegmenter) LabeledVoxelCloud() pc.PointCloud {
	return s.supervoxels.LabeledVoxelCloud
}

// NormalCloud returns the supervoxel centroids with their normals.
func (s *LCCPSegmenter) NormalCloud() pc.PointCloud {
	return s.supervoxels.NormalCloud
}

// Supervoxels returns the supervoxels keyed by label.
func (s *LCCPSegmenter) Supervoxels() map[uint32]*Supervoxel {
	return s.supervoxels.Clusters
}

// Adjacency returns a copy of the supervoxel adjacency.
func (s *LCCPSegmenter) Adjacency() SupervoxelAdjacency {
	return s.supervoxels.Adjacency.Copy()
}

// AdjacencyGraph returns the supervoxel adjacency as a graph.
func (s *LCCPSegmenter) AdjacencyGraph() *simple.UndirectedGraph {
	return s.supervoxels.Adjacency.Graph()
}

// SegmentLabels returns the segment label of every supervoxel, nil before a merge.
func (s *LCCPSegmenter) SegmentLabels() map[uint32]int {
	if s.merged == nil {
		return nil
	}
	return s.merged.SegmentLabels
}

// Objects returns the segmented objects in increasing label order.
func (s *LCCPSegmenter) Objects() []*vision.Object {
	return append([]*vision.Object{}, s.objects...)
}

// Parameters returns the parameters in use.
func (s *LCCPSegmenter) Parameters() Parameters {
	return s.params
}

// SetParameters replaces the parameters for the next Segment.
func (s *LCCPSegmenter) SetParameters(params Parameters) error {
	if err := params.CheckValid(); err != nil {
		return errors.Wrap(err, "invalid segmentation parameters")
	}
	s.params = params
	return nil
}

// Dropped returns how many points of the last run ended in no object.
func (s *LCCPSegmenter) Dropped() DropStats {
	return s.dropped
}

// Initialized reports whether Init was called since the last Reset.
func (s *LCCPSegmenter) Initialized() bool {
	return s.initialized
}
