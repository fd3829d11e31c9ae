package segmentation

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.opencensus.io/trace"

	"go.viam.com/tabletop/logging"
	pc "go.viam.com/tabletop/pointcloud"
)

// ExtractionStatus tells how far table extraction got.
type ExtractionStatus int

const (
	// TableFound means the plane, its hull and the prism above it were all computed.
	TableFound ExtractionStatus = iota
	// NoPlaneFound means no plane model had any support; nothing was filtered.
	NoPlaneFound
	// DegenerateHull means the plane inliers do not span an area; nothing was filtered.
	DegenerateHull
)

func (s ExtractionStatus) String() string {
	switch s {
	case TableFound:
		return "table found"
	case NoPlaneFound:
		return "no plane found"
	case DegenerateHull:
		return "degenerate hull"
	default:
		return "unknown"
	}
}

// TableExtraction is the result of fitting the support plane and cutting the prism above it.
type TableExtraction struct {
	Status ExtractionStatus
	// Plane holds the coefficients, with the normal facing the viewpoint, and the inlier cloud. It
	// is an empty plane when no plane was found.
	Plane pc.Plane
	// Hull is the convex hull of the projected inliers, counter-clockwise around the normal.
	Hull []r3.Vector
	// ObjectIndices are the positions, in the input's iteration order, of the points inside the
	// prism. Nil unless the status is TableFound.
	ObjectIndices []int
	// ObjectCloud is the prism subset when filtering was requested and the table was found,
	// otherwise the input cloud.
	ObjectCloud pc.PointCloud
}

// PlaneCloud returns the plane inliers.
func (te *TableExtraction) PlaneCloud() pc.PointCloud {
	cloud, err := te.Plane.PointCloud()
	if err != nil || cloud == nil {
		return pc.New()
	}
	return cloud
}

// TableExtractor is the RANSAC and polygonal prism implementation of PlaneFitter.
type TableExtractor struct {
	fitter    *SampleConsensusPlane
	viewpoint r3.Vector
	logger    logging.Logger
}

// NewTableExtractor returns an extractor with the default plane fitter and the viewpoint at the
// origin of the cloud's frame.
func NewTableExtractor(logger logging.Logger) *TableExtractor {
	return &TableExtractor{
		fitter: NewSampleConsensusPlane(),
		logger: logger.Sublogger("table"),
	}
}

// WithViewpoint sets the sensor position used to orient the plane normal.
func (te *TableExtractor) WithViewpoint(vp r3.Vector) *TableExtractor {
	te.viewpoint = vp
	return te
}

// ExtractTable implements PlaneFitter.
func (te *TableExtractor) ExtractTable(
	ctx context.Context,
	cloud pc.PointCloud,
	zmin, zmax float64,
	filterInputCloud bool,
) (*TableExtraction, error) {
	ctx, span := trace.StartSpan(ctx, "segmentation::TableExtractor::ExtractTable")
	defer span.End()

	points := pc.ToSlice(cloud)
	positions := make([]r3.Vector, len(points))
	for i, pd := range points {
		positions[i] = pd.P
	}
	eq, inliers, err := te.fitter.Fit(ctx, positions)
	if err != nil {
		return nil, err
	}
	if len(inliers) == 0 {
		te.logger.Debug("no plane found, keeping the whole cloud")
		return &TableExtraction{Status: NoPlaneFound, Plane: pc.NewEmptyPlane(), ObjectCloud: cloud}, nil
	}

	normal := r3.Vector{X: eq[0], Y: eq[1], Z: eq[2]}
	if planeDistance(eq, te.viewpoint) < 0 {
		normal = normal.Mul(-1)
		eq = [4]float64{-eq[0], -eq[1], -eq[2], -eq[3]}
	}
	planeCloud, err := pc.Subset(points, inliers)
	if err != nil {
		return nil, err
	}
	result := &TableExtraction{Plane: pc.NewPlane(planeCloud, eq), ObjectCloud: cloud}

	u, v := planeBasis(normal)
	projected := make([]r2.Point, len(inliers))
	for i, idx := range inliers {
		p := positions[idx]
		onPlane := p.Sub(normal.Mul(planeDistance(eq, p)))
		projected[i] = projectToBasis(onPlane, u, v)
	}
	hull := ConvexHull2D(projected)
	if len(hull) < 3 || PolygonArea(hull) < 1e-12 {
		te.logger.Debugw("degenerate hull, skipping object extraction", "hull_vertices", len(hull))
		result.Status = DegenerateHull
		return result, nil
	}
	offset := normal.Mul(-eq[3])
	result.Hull = make([]r3.Vector, len(hull))
	for i, h := range hull {
		result.Hull[i] = offset.Add(u.Mul(h.X)).Add(v.Mul(h.Y))
	}

	result.ObjectIndices = make([]int, 0)
	for i, p := range positions {
		height := planeDistance(eq, p)
		if height < zmin || height > zmax {
			continue
		}
		if PointInConvexPolygon(projectToBasis(p, u, v), hull) {
			result.ObjectIndices = append(result.ObjectIndices, i)
		}
	}
	te.logger.Debugw("table extracted",
		"plane_points", len(inliers), "hull_vertices", len(hull), "object_points", len(result.ObjectIndices))
	if filterInputCloud {
		result.ObjectCloud, err = pc.Subset(points, result.ObjectIndices)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}
