package segmentation

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/tabletop/logging"
	pc "go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/utils"
	"go.viam.com/tabletop/vision"
)

func checkLabelTotality(t *testing.T, seg *LCCPSegmenter) {
	t.Helper()
	total := seg.Dropped().Background + seg.Dropped().Undersized
	for _, o := range seg.Objects() {
		total += o.Size()
	}
	test.That(t, total, test.ShouldEqual, seg.InputCloud().Size())
}

func TestLCCPSegmenterNotInitialized(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	seg := NewLCCPSegmenter(logger)
	test.That(t, seg.Initialized(), test.ShouldBeFalse)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeFalse)
	test.That(t, logs.FilterMessage("segmenter used before Init").Len(), test.ShouldEqual, 1)
	test.That(t, seg.Objects(), test.ShouldBeEmpty)
	test.That(t, seg.SegmentLabels(), test.ShouldBeNil)

	test.That(t, seg.Init(nil, DefaultParameters()), test.ShouldNotBeNil)
	bad := DefaultParameters()
	bad.VoxelResolution = -1
	err := seg.Init(pc.New(), bad)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid segmentation parameters")
	test.That(t, seg.Initialized(), test.ShouldBeFalse)
}

func TestLCCPSegmenterGlobalLogger(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	prev := logging.Global()
	logging.ReplaceGlobal(logger)
	defer logging.ReplaceGlobal(prev)

	seg := NewLCCPSegmenter(nil)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeFalse)
	entries := logs.FilterMessage("segmenter used before Init").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "segmenter")
}

func TestLCCPSegmenterSingleObject(t *testing.T) {
	logger := logging.NewTestLogger(t)
	object := blob()
	seg := NewLCCPSegmenter(logger)
	test.That(t, seg.Init(sceneCloud(t, object), DefaultParameters()), test.ShouldBeNil)
	test.That(t, seg.Initialized(), test.ShouldBeTrue)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeTrue)

	test.That(t, seg.PlaneCloud().Size(), test.ShouldEqual, tableCells*tableCells)
	eq := seg.PlaneCoefficients()
	test.That(t, eq[2], test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, eq[3], test.ShouldAlmostEqual, -tableHeight, 1e-9)
	test.That(t, seg.InputCloud().Size(), test.ShouldEqual, len(object))

	objects := seg.Objects()
	test.That(t, objects, test.ShouldHaveLength, 1)
	test.That(t, objects[0].Label, test.ShouldEqual, 1)
	test.That(t, objects[0].Size(), test.ShouldEqual, len(object))
	centroid := objects[0].Centroid()
	test.That(t, centroid.X, test.ShouldAlmostEqual, 0, 0.005)
	test.That(t, centroid.Y, test.ShouldAlmostEqual, 0, 0.005)
	checkLabelTotality(t, seg)
	test.That(t, seg.Dropped(), test.ShouldResemble, DropStats{})

	test.That(t, len(seg.Supervoxels()), test.ShouldBeGreaterThan, 1)
	test.That(t, seg.NormalCloud().Size(), test.ShouldEqual, len(seg.Supervoxels()))
	test.That(t, seg.LabeledVoxelCloud().Size(), test.ShouldBeGreaterThanOrEqualTo, len(seg.Supervoxels()))
	test.That(t, seg.SegmentLabels(), test.ShouldHaveLength, len(seg.Supervoxels()))
	test.That(t, seg.AdjacencyGraph().Nodes().Len(), test.ShouldEqual, len(seg.Supervoxels()))

	// accessors hand out copies
	adj := seg.Adjacency()
	for label := range adj {
		adj[label] = nil
	}
	test.That(t, seg.Adjacency().NumEdges(), test.ShouldBeGreaterThan, 0)
	seg.Objects()[0] = nil
	test.That(t, seg.Objects()[0], test.ShouldNotBeNil)
}

func TestLCCPSegmenterConcavitySplit(t *testing.T) {
	logger := logging.NewTestLogger(t)
	object := twinBlobs()
	seg := NewLCCPSegmenter(logger)
	test.That(t, seg.Init(sceneCloud(t, object), DefaultParameters()), test.ShouldBeNil)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeTrue)
	test.That(t, seg.InputCloud().Size(), test.ShouldEqual, len(object))
	checkLabelTotality(t, seg)
	test.That(t, seg.Objects(), test.ShouldHaveLength, 2)

	var left, right *vision.Object
	for i, o := range seg.Objects() {
		if i > 0 {
			test.That(t, o.Label, test.ShouldBeGreaterThan, seg.Objects()[i-1].Label)
		}
		test.That(t, o.Size(), test.ShouldBeGreaterThanOrEqualTo, DefaultParameters().ThPoints)
		if o.Size() < 400 {
			continue
		}
		switch c := o.Centroid(); {
		case c.X < -0.02:
			left = o
		case c.X > 0.02:
			right = o
		}
	}
	test.That(t, left, test.ShouldNotBeNil)
	test.That(t, right, test.ShouldNotBeNil)

	// the sanity criterion is what separates the domes
	params := DefaultParameters()
	params.UseSanityCriterion = false
	test.That(t, seg.Init(sceneCloud(t, object), params), test.ShouldBeNil)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeTrue)
	largest := 0
	for _, o := range seg.Objects() {
		if o.Size() > largest {
			largest = o.Size()
		}
	}
	test.That(t, largest, test.ShouldBeGreaterThan, 1000)
	checkLabelTotality(t, seg)
}

func TestLCCPSegmenterPointThreshold(t *testing.T) {
	logger := logging.NewTestLogger(t)
	object := blob()
	params := DefaultParameters()
	params.ThPoints = len(object) + 1
	seg := NewLCCPSegmenter(logger)
	test.That(t, seg.Init(sceneCloud(t, object), params), test.ShouldBeNil)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeTrue)
	test.That(t, seg.Objects(), test.ShouldBeEmpty)
	test.That(t, seg.Dropped(), test.ShouldResemble, DropStats{Undersized: len(object), UndersizedObjects: 1})
	checkLabelTotality(t, seg)
}

func TestLCCPSegmenterEmptyTable(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	seg := NewLCCPSegmenter(logger)
	test.That(t, seg.Init(sceneCloud(t), DefaultParameters()), test.ShouldBeNil)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeFalse)
	test.That(t, logs.FilterMessage("no objects on the table").Len(), test.ShouldEqual, 1)
	test.That(t, seg.Objects(), test.ShouldBeEmpty)
	test.That(t, seg.PlaneCloud().Size(), test.ShouldEqual, tableCells*tableCells)
	test.That(t, seg.InputCloud().Size(), test.ShouldEqual, 0)
	test.That(t, seg.Supervoxels(), test.ShouldBeEmpty)
}

func TestLCCPSegmenterNoPlane(t *testing.T) {
	logger := logging.NewTestLogger(t)
	seg := NewLCCPSegmenter(logger)
	test.That(t, seg.Init(cloudFromPoints(t, momentCurve(8)), DefaultParameters()), test.ShouldBeNil)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeTrue)
	test.That(t, seg.PlaneCloud().Size(), test.ShouldEqual, 0)
	test.That(t, seg.PlaneCoefficients(), test.ShouldResemble, [4]float64{})
	test.That(t, seg.InputCloud().Size(), test.ShouldEqual, 8)
	test.That(t, seg.Supervoxels(), test.ShouldHaveLength, 8)
	// lone supervoxels fall under the minimum segment size
	test.That(t, seg.Objects(), test.ShouldBeEmpty)
	test.That(t, seg.Dropped().Background, test.ShouldEqual, 8)
	checkLabelTotality(t, seg)
}

func TestLCCPSegmenterNoSupervoxels(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	params := DefaultParameters()
	params.SeedResolution = 0.05
	params.ThPoints = 0
	seg := NewLCCPSegmenter(logger)
	test.That(t, seg.Init(cloudFromPoints(t, momentCurve(8)), params), test.ShouldBeNil)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("no supervoxel could be seeded, every point is background").Len(), test.ShouldEqual, 1)
	test.That(t, seg.InputCloud().Size(), test.ShouldEqual, 8)
	test.That(t, seg.Supervoxels(), test.ShouldBeEmpty)
	test.That(t, seg.Objects(), test.ShouldBeEmpty)
	test.That(t, seg.Dropped(), test.ShouldResemble, DropStats{Background: 8})
	checkLabelTotality(t, seg)
}

func TestLCCPSegmenterLowSeedResolution(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	params := DefaultParameters()
	params.SeedResolution = 0.012
	seg := NewLCCPSegmenter(logger)
	test.That(t, seg.Init(sceneCloud(t, blob()), params), test.ShouldBeNil)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("seed resolution is low, objects may be split into many segments").Len(), test.ShouldEqual, 1)
	checkLabelTotality(t, seg)
}

func TestLCCPSegmenterReset(t *testing.T) {
	logger := logging.NewTestLogger(t)
	params := DefaultParameters()
	params.ThPoints = 10
	seg := NewLCCPSegmenter(logger)
	test.That(t, seg.Init(sceneCloud(t, blob()), params), test.ShouldBeNil)
	test.That(t, seg.Parameters(), test.ShouldResemble, params)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeTrue)
	test.That(t, seg.Objects(), test.ShouldNotBeEmpty)

	seg.Reset()
	test.That(t, seg.Initialized(), test.ShouldBeFalse)
	test.That(t, seg.Parameters(), test.ShouldResemble, DefaultParameters())
	test.That(t, seg.Objects(), test.ShouldBeEmpty)
	test.That(t, seg.InputCloud().Size(), test.ShouldEqual, 0)
	test.That(t, seg.PlaneCloud().Size(), test.ShouldEqual, 0)
	test.That(t, seg.Supervoxels(), test.ShouldBeEmpty)
	test.That(t, seg.LabeledVoxelCloud().Size(), test.ShouldEqual, 0)
	test.That(t, seg.Dropped(), test.ShouldResemble, DropStats{})
	test.That(t, seg.Segment(context.Background()), test.ShouldBeFalse)
}

func TestLCCPSegmenterParametersRoundTrip(t *testing.T) {
	params := Parameters{
		ZMin:                        0.05,
		ZMax:                        1.5,
		ThPoints:                    20,
		DisableTransform:            true,
		VoxelResolution:             0.008,
		SeedResolution:              0.02,
		ColorImportance:             0.5,
		SpatialImportance:           2,
		NormalImportance:            3,
		UseExtendedConvexity:        true,
		UseSanityCriterion:          false,
		ConcavityToleranceThreshold: 15,
		SmoothnessThreshold:         0.2,
		MinSegmentSize:              5,
	}
	seg := NewLCCPSegmenter(logging.NewTestLogger(t))
	test.That(t, seg.Init(sceneCloud(t, blob()), params), test.ShouldBeNil)
	test.That(t, cmp.Diff(params, seg.Parameters()), test.ShouldBeEmpty)

	seg.Reset()
	test.That(t, seg.SetParameters(params), test.ShouldBeNil)
	test.That(t, cmp.Diff(params, seg.Parameters()), test.ShouldBeEmpty)
}

func TestLCCPSegmenterSetParameters(t *testing.T) {
	seg := NewLCCPSegmenter(logging.NewTestLogger(t))
	params := DefaultParameters()
	params.ZMax = 1
	test.That(t, seg.SetParameters(params), test.ShouldBeNil)
	test.That(t, seg.Parameters().ZMax, test.ShouldEqual, 1.0)

	params.ZMin = 2
	test.That(t, seg.SetParameters(params), test.ShouldNotBeNil)
	test.That(t, seg.Parameters().ZMin, test.ShouldEqual, DefaultParameters().ZMin)
}

type fakePlaneFitter struct {
	err error
}

func (f *fakePlaneFitter) ExtractTable(
	ctx context.Context, cloud pc.PointCloud, zmin, zmax float64, filterInputCloud bool,
) (*TableExtraction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &TableExtraction{Status: NoPlaneFound, Plane: pc.NewEmptyPlane(), ObjectCloud: cloud}, nil
}

// oneSupervoxel puts every point in supervoxel 1, or leaves one point out when short is set.
type oneSupervoxel struct {
	short bool
}

func (c *oneSupervoxel) Cluster(ctx context.Context, cloud pc.PointCloud, cfg SupervoxelConfig) (*Supervoxels, error) {
	res := emptySupervoxels(cfg)
	res.Clusters[1] = &Supervoxel{Label: 1, Centroid: pc.CloudCentroid(cloud), Cloud: cloud}
	res.Adjacency[1] = []uint32{}
	n := cloud.Size()
	if c.short {
		n--
	}
	res.PointLabels = make([]uint32, n)
	for i := range res.PointLabels {
		res.PointLabels[i] = 1
	}
	return res, nil
}

type keepAll struct{}

func (keepAll) Merge(ctx context.Context, supervoxels *Supervoxels, cfg LCCPConfig) (*LCCPResult, error) {
	res := &LCCPResult{SegmentLabels: map[uint32]int{}, Edges: map[[2]uint32]EdgeProperties{}}
	for _, l := range supervoxels.Labels() {
		res.NumSegments++
		res.SegmentLabels[l] = res.NumSegments
	}
	return res, nil
}

func TestLCCPSegmenterOptions(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud := cloudFromPoints(t, []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}})
	params := DefaultParameters()
	params.ThPoints = 1

	seg := NewLCCPSegmenter(logger, WithPlaneFitter(&fakePlaneFitter{}), WithClusterer(&oneSupervoxel{}), WithMerger(keepAll{}))
	test.That(t, seg.Init(cloud, params), test.ShouldBeNil)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeTrue)
	test.That(t, seg.Objects(), test.ShouldHaveLength, 1)
	test.That(t, seg.Objects()[0].Size(), test.ShouldEqual, 3)

	seg = NewLCCPSegmenter(logger, WithPlaneFitter(&fakePlaneFitter{err: errors.New("no sensor")}))
	test.That(t, seg.Init(cloud, params), test.ShouldBeNil)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeFalse)

	// labels that do not cover the cloud are rejected
	seg = NewLCCPSegmenter(logger, WithPlaneFitter(&fakePlaneFitter{}), WithClusterer(&oneSupervoxel{short: true}))
	test.That(t, seg.Init(cloud, params), test.ShouldBeNil)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeFalse)
	test.That(t, seg.Objects(), test.ShouldBeEmpty)
}

func TestLCCPSegmenterFunc(t *testing.T) {
	logger := logging.NewTestLogger(t)
	segmenter := NewLCCPSegmenterFunc(logger)

	objects, err := segmenter(context.Background(), sceneCloud(t, blob()), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, objects, test.ShouldHaveLength, 1)

	objects, err = segmenter(context.Background(), sceneCloud(t, blob()), utils.AttributeMap{"th_points": 100000})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, objects, test.ShouldBeEmpty)

	// an empty table is not an error
	objects, err = segmenter(context.Background(), sceneCloud(t), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, objects, test.ShouldBeEmpty)

	_, err = segmenter(context.Background(), sceneCloud(t), utils.AttributeMap{"zmin": "high"})
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = segmenter(ctx, sceneCloud(t, blob()), nil)
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestLCCPSegmenterDebugMode(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	logger.SetLevel(logging.INFO)
	seg := NewLCCPSegmenter(logger)
	cloud := sceneCloud(t, blob())

	test.That(t, seg.Init(cloud, DefaultParameters()), test.ShouldBeNil)
	test.That(t, seg.Segment(context.Background()), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("supervoxel stage done").Len(), test.ShouldEqual, 0)

	test.That(t, seg.Init(cloud, DefaultParameters()), test.ShouldBeNil)
	test.That(t, seg.Segment(logging.EnableDebugMode(context.Background(), "")), test.ShouldBeTrue)
	for _, msg := range []string{"table stage done", "supervoxel stage done", "merge stage done"} {
		test.That(t, logs.FilterMessage(msg).Len(), test.ShouldEqual, 1)
	}
}
