package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"go.viam.com/tabletop/logging"
	pc "go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/services/tabletop"
	"go.viam.com/tabletop/utils"
	"go.viam.com/tabletop/vision"
	"go.viam.com/tabletop/vision/segmentation"
)

const defaultShutdownPeriod = 10 * time.Second

// parameterFlags has one flag per segmentation parameter, named like its JSON key.
func parameterFlags(d segmentation.Parameters) []cli.Flag {
	schema := segmentation.ParametersSchema()
	usage := func(key string) string {
		if prop, ok := schema.Properties.Get(key); ok {
			if s, ok := prop.(*jsonschema.Schema); ok {
				return s.Description
			}
		}
		return key
	}
	return []cli.Flag{
		&cli.Float64Flag{Name: "zmin", Value: d.ZMin, Usage: usage("zmin")},
		&cli.Float64Flag{Name: "zmax", Value: d.ZMax, Usage: usage("zmax")},
		&cli.IntFlag{Name: "th_points", Value: d.ThPoints, Usage: usage("th_points")},
		&cli.BoolFlag{Name: "disable_transform", Value: d.DisableTransform, Usage: usage("disable_transform")},
		&cli.Float64Flag{Name: "voxel_resolution", Value: d.VoxelResolution, Usage: usage("voxel_resolution")},
		&cli.Float64Flag{Name: "seed_resolution", Value: d.SeedResolution, Usage: usage("seed_resolution")},
		&cli.Float64Flag{Name: "color_importance", Value: d.ColorImportance, Usage: usage("color_importance")},
		&cli.Float64Flag{Name: "spatial_importance", Value: d.SpatialImportance, Usage: usage("spatial_importance")},
		&cli.Float64Flag{Name: "normal_importance", Value: d.NormalImportance, Usage: usage("normal_importance")},
		&cli.BoolFlag{
			Name: "use_extended_convexity", Value: d.UseExtendedConvexity,
			Usage: usage("use_extended_convexity"),
		},
		&cli.BoolFlag{
			Name: "use_sanity_criterion", Value: d.UseSanityCriterion,
			Usage: usage("use_sanity_criterion"),
		},
		&cli.Float64Flag{
			Name: "concavity_tolerance_threshold", Value: d.ConcavityToleranceThreshold,
			Usage: usage("concavity_tolerance_threshold"),
		},
		&cli.Float64Flag{
			Name: "smoothness_threshold", Value: d.SmoothnessThreshold,
			Usage: usage("smoothness_threshold"),
		},
		&cli.IntFlag{Name: "min_segment_size", Value: d.MinSegmentSize, Usage: usage("min_segment_size")},
	}
}

// parametersFromFlags overrides the defaults with the parameter flags set on the command line.
func parametersFromFlags(c *cli.Context) (segmentation.Parameters, error) {
	attrs := utils.AttributeMap{}
	for _, f := range parameterFlags(segmentation.DefaultParameters()) {
		name := f.Names()[0]
		if c.IsSet(name) {
			attrs[name] = c.Value(name)
		}
	}
	return segmentation.ParametersFromAttributes(attrs)
}

func segmentAction(c *cli.Context, logger logging.Logger) error {
	params, err := parametersFromFlags(c)
	if err != nil {
		return err
	}
	cloud, err := pc.NewFromFile(c.String(flagInput), logger)
	if err != nil {
		return errors.Wrapf(err, "reading %s", c.String(flagInput))
	}
	logger.Infow("read point cloud", "file", c.String(flagInput), "points", cloud.Size())

	svc := tabletop.NewService(logger)
	defer goutils.UncheckedErrorFunc(func() error { return svc.Close(c.Context) })

	resp, err := svc.Segment(c.Context, cloud, params)
	if err != nil {
		return err
	}
	objects := resp.Objects
	if c.Bool(flagPaint) {
		if objects, err = tabletop.PaintObjects(objects); err != nil {
			return err
		}
	}
	opts := writeOptions{
		dir:           c.String(flagOutputDir),
		outlierMeanK:  c.Int(flagOutlierMeanK),
		outlierStdDev: c.Float64(flagOutlierStdDev),
	}
	written, err := writeResults(c.Context, opts, objects, resp.PlaneCloud)
	if err != nil {
		return err
	}
	for _, fn := range written {
		fmt.Fprintln(c.App.Writer, fn)
	}
	logger.Infow("segmented", "request_id", resp.RequestID, "objects", len(objects),
		"plane_points", resp.PlaneCloud.Size(), "background_points", resp.Dropped.Background)
	logger.Infof("segmentation of %s\n%s", c.String(flagInput), resp)
	return nil
}

type writeOptions struct {
	dir           string
	outlierMeanK  int
	outlierStdDev float64
}

// writeResults writes every object to object_<label>.pcd, after removing its statistical outliers
// when outlierMeanK is positive, and the plane to plane.pcd. It returns the written file names.
func writeResults(ctx context.Context, opts writeOptions, objects []*vision.Object, plane pc.PointCloud) ([]string, error) {
	if err := os.MkdirAll(opts.dir, 0o750); err != nil {
		return nil, err
	}
	var filter func(pc.PointCloud) (pc.PointCloud, error)
	if opts.outlierMeanK > 0 {
		var err error
		if filter, err = pc.StatisticalOutlierFilter(opts.outlierMeanK, opts.outlierStdDev); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(objects)+1)
	fs := make([]utils.SimpleFunc, 0, len(objects)+1)
	for _, o := range objects {
		o := o
		fn := filepath.Join(opts.dir, fmt.Sprintf("object_%d.pcd", o.Label))
		names = append(names, fn)
		fs = append(fs, func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cloud := o.PointCloud
			if filter != nil {
				var err error
				if cloud, err = filter(cloud); err != nil {
					return errors.Wrapf(err, "filtering object %d", o.Label)
				}
			}
			return pc.WriteToFile(cloud, fn)
		})
	}
	planeFn := filepath.Join(opts.dir, "plane.pcd")
	names = append(names, planeFn)
	fs = append(fs, func(ctx context.Context) error {
		return pc.WriteToFile(plane, planeFn)
	})

	if err := utils.RunInParallel(ctx, fs); err != nil {
		return nil, err
	}
	return names, nil
}

func serveAction(c *cli.Context, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := tabletop.NewService(logger)
	server := &http.Server{
		Addr:              c.String(flagAddress),
		Handler:           tabletop.NewHandler(svc, logger.Sublogger("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	goutils.PanicCapturingGo(func() {
		logger.Infow("serving", "address", server.Addr)
		errCh <- server.ListenAndServe()
	})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Duration(flagShutdownPeriod))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return svc.Close(shutdownCtx)
}
