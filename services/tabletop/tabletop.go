// Package tabletop serves tabletop segmentation requests: one segmenter shared by all callers, plus
// an HTTP transport in front of it.
package tabletop

import (
	"context"
	"fmt"
	"image/color"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/tabletop/logging"
	pc "go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/vision"
	"go.viam.com/tabletop/vision/segmentation"
)

// ErrNoObjects is returned when nothing could be segmented above the support plane.
var ErrNoObjects = errors.New("no objects on the table")

// PlaneColor is the color of every point of a returned plane cloud.
var PlaneColor = color.NRGBA{0, 255, 0, 255}

// Response is the result of one segmentation request.
type Response struct {
	RequestID         uuid.UUID
	Objects           []*vision.Object
	PlaneCloud        pc.PointCloud
	PlaneCoefficients [4]float64
	Parameters        segmentation.Parameters
	Dropped           segmentation.DropStats
}

// String prints a table of the objects with their label, size and centroid, then the plane.
func (r *Response) String() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Label", "Points", "Centroid"})
	for i, o := range r.Objects {
		c := o.Centroid()
		t.AppendRow(table.Row{
			fmt.Sprintf("%d", i+1),
			o.Label,
			o.Size(),
			fmt.Sprintf("X:%.3f, Y:%.3f, Z:%.3f", c.X, c.Y, c.Z),
		})
	}
	eq := r.PlaneCoefficients
	t.AppendFooter(table.Row{
		"", "plane", r.PlaneCloud.Size(),
		fmt.Sprintf("%.3fx + %.3fy + %.3fz + %.3f = 0", eq[0], eq[1], eq[2], eq[3]),
	})
	return t.Render()
}

// Service runs segmentation requests one at a time on a single segmenter.
type Service struct {
	mu        sync.Mutex
	logger    logging.Logger
	segmenter *segmentation.LCCPSegmenter
	requests  int
}

// NewService returns a service whose segmenter is built with the given options.
func NewService(logger logging.Logger, opts ...segmentation.Option) *Service {
	return &Service{
		logger:    logger,
		segmenter: segmentation.NewLCCPSegmenter(logger.Sublogger("segmenter"), opts...),
	}
}

// Segment splits the cloud into the support plane and the objects standing on it. The segmenter is
// held from Init until every result has been read back.
func (s *Service) Segment(ctx context.Context, cloud pc.PointCloud, params segmentation.Parameters) (*Response, error) {
	ctx, span := trace.StartSpan(ctx, "service::tabletop::Segment")
	defer span.End()

	id := uuid.New()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	if err := s.segmenter.Init(cloud, params); err != nil {
		return nil, errors.Wrapf(err, "request %s", id)
	}
	if !s.segmenter.Segment(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.Wrapf(ErrNoObjects, "request %s", id)
	}

	plane, err := colorCloud(s.segmenter.PlaneCloud(), PlaneColor)
	if err != nil {
		return nil, errors.Wrapf(err, "request %s: coloring plane cloud", id)
	}
	resp := &Response{
		RequestID:         id,
		Objects:           s.segmenter.Objects(),
		PlaneCloud:        plane,
		PlaneCoefficients: s.segmenter.PlaneCoefficients(),
		Parameters:        s.segmenter.Parameters(),
		Dropped:           s.segmenter.Dropped(),
	}
	s.logger.CDebugw(ctx, "request done", "request_id", id, "debug_key", logging.DebugKey(ctx),
		"objects", len(resp.Objects), "plane_points", plane.Size())
	return resp, nil
}

// Requests returns how many requests were received.
func (s *Service) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Close releases the clouds of the last request.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segmenter.Reset()
	return nil
}

// colorCloud returns a copy of the cloud with every point painted c. The input is left untouched
// since it may be shared with the segmenter.
func colorCloud(cloud pc.PointCloud, c color.NRGBA) (pc.PointCloud, error) {
	out := pc.NewWithPrealloc(cloud.Size())
	var err error
	cloud.Iterate(0, 0, func(p r3.Vector, d pc.Data) bool {
		err = out.Set(p, pc.CopyData(d).SetColor(c))
		return err == nil
	})
	return out, err
}

// ObjectColor returns a distinct, stable color for an object label, for visualizing results.
func ObjectColor(label int) color.NRGBA {
	// 137 degree hue steps
	hue := float64((label*137)%360) + 0.5
	r, g, b := colorful.Hsv(hue, 0.8, 0.9).RGB255()
	return color.NRGBA{r, g, b, 255}
}

// PaintObjects returns a copy of every object with its points painted in ObjectColor of its label.
func PaintObjects(objects []*vision.Object) ([]*vision.Object, error) {
	painted := make([]*vision.Object, 0, len(objects))
	for _, o := range objects {
		cloud, err := colorCloud(o.PointCloud, ObjectColor(o.Label))
		if err != nil {
			return nil, err
		}
		painted = append(painted, vision.NewObject(o.Label, cloud))
	}
	return painted, nil
}
