// Package segmentation implements tabletop object segmentation: support plane removal, supervoxel
// clustering and locally convex connected patch (LCCP) merging.
package segmentation

import (
	"context"

	"go.viam.com/tabletop/logging"
	pc "go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/utils"
	"go.viam.com/tabletop/vision"
)

// A Segmenter is a function that takes a point cloud and segments it into objects, configured by a
// free-form attribute map.
type Segmenter func(ctx context.Context, cloud pc.PointCloud, parameters utils.AttributeMap) ([]*vision.Object, error)

// PlaneFitter finds the support plane of a cloud and the region above it where objects may be.
type PlaneFitter interface {
	// ExtractTable fits the support plane and cuts the prism of height [zmin, zmax] above its hull.
	// When filterInputCloud is set the returned object cloud holds only the prism points.
	ExtractTable(ctx context.Context, cloud pc.PointCloud, zmin, zmax float64, filterInputCloud bool) (*TableExtraction, error)
}

// Clusterer partitions a cloud into supervoxels and builds their adjacency.
type Clusterer interface {
	Cluster(ctx context.Context, cloud pc.PointCloud, cfg SupervoxelConfig) (*Supervoxels, error)
}

// Merger assigns a segment label to every supervoxel by merging across convex boundaries.
type Merger interface {
	Merge(ctx context.Context, supervoxels *Supervoxels, cfg LCCPConfig) (*LCCPResult, error)
}

// NewLCCPSegmenterFunc returns a Segmenter that runs the full pipeline with a fresh LCCPSegmenter per
// call, so concurrent calls share no state. Attributes override DefaultParameters.
func NewLCCPSegmenterFunc(logger logging.Logger, opts ...Option) Segmenter {
	return func(ctx context.Context, cloud pc.PointCloud, parameters utils.AttributeMap) ([]*vision.Object, error) {
		params, err := ParametersFromAttributes(parameters)
		if err != nil {
			return nil, err
		}
		seg := NewLCCPSegmenter(logger, opts...)
		if err := seg.Init(cloud, params); err != nil {
			return nil, err
		}
		if !seg.Segment(ctx) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return []*vision.Object{}, nil
		}
		return seg.Objects(), nil
	}
}
