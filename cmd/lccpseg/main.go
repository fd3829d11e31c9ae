// Package main is a command line driver for tabletop segmentation: it segments point cloud files,
// serves the HTTP API and prints the parameter schema.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"go.viam.com/tabletop/logging"
	"go.viam.com/tabletop/vision/segmentation"
)

const (
	// Flags.
	flagDebug          = "debug"
	flagLogFile        = "log-file"
	flagInput          = "input"
	flagOutputDir      = "output-dir"
	flagOutlierMeanK   = "outlier-mean-k"
	flagOutlierStdDev  = "outlier-stddev"
	flagPaint          = "paint"
	flagAddress        = "address"
	flagShutdownPeriod = "shutdown-period"

	logFileMaxSizeMB = 50
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	var (
		logger    logging.Logger
		logCloser io.Closer
	)
	defaults := segmentation.DefaultParameters()

	return &cli.App{
		Name:      "lccpseg",
		Usage:     "segment objects standing on a table in a point cloud",
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also log to `FILE`, rotated every 50MB",
			},
		},
		Before: func(c *cli.Context) error {
			switch {
			case c.String(flagLogFile) != "":
				logger, logCloser = logging.NewFileLogger("lccpseg", c.String(flagLogFile), logFileMaxSizeMB)
				if c.Bool(flagDebug) {
					logger.SetLevel(logging.DEBUG)
				}
			case c.Bool(flagDebug):
				logger = logging.NewDebugLogger("lccpseg")
			default:
				logger = logging.NewLogger("lccpseg")
			}
			logging.ReplaceGlobal(logger)
			return nil
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				goutils.UncheckedError(logger.Sync())
			}
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "segment",
				Usage:     "segment a .pcd or .las file and write one .pcd per object plus the plane",
				UsageText: "lccpseg segment --input <file> [--output-dir <dir>] [parameters...]",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     flagInput,
						Aliases:  []string{"i"},
						Usage:    "point cloud `FILE` (.pcd or .las), in meters",
						Required: true,
					},
					&cli.StringFlag{
						Name:    flagOutputDir,
						Aliases: []string{"o"},
						Usage:   "`DIR` receiving object_<label>.pcd and plane.pcd",
						Value:   ".",
					},
					&cli.IntFlag{
						Name:  flagOutlierMeanK,
						Usage: "neighbors of the statistical outlier filter applied to each object, 0 disables it",
						Value: 50,
					},
					&cli.Float64Flag{
						Name:  flagOutlierStdDev,
						Usage: "standard deviation multiplier of the statistical outlier filter",
						Value: 1.0,
					},
					&cli.BoolFlag{
						Name:  flagPaint,
						Usage: "color each object by its label",
					},
				}, parameterFlags(defaults)...),
				Action: func(c *cli.Context) error {
					return segmentAction(c, logger)
				},
			},
			{
				Name:  "serve",
				Usage: "serve the segmentation HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagAddress,
						Usage: "`HOST:PORT` to listen on",
						Value: "localhost:8080",
					},
					&cli.DurationFlag{
						Name:  flagShutdownPeriod,
						Usage: "how long in-flight requests may run after an interrupt",
						Value: defaultShutdownPeriod,
					},
				},
				Action: func(c *cli.Context) error {
					return serveAction(c, logger)
				},
			},
			{
				Name:  "schema",
				Usage: "print the JSON schema of the segmentation parameters",
				Action: func(c *cli.Context) error {
					data, err := segmentation.ParametersSchemaJSON()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(c.App.Writer, string(data))
					return err
				},
			},
		},
	}
}
