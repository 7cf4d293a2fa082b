// Package main is a tool to print, render and detect ArUco markers offline.
package main

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/labviros/is-aruco-localization/logging"
	"github.com/labviros/is-aruco-localization/vision/aruco"
)

const (
	flagDictionary    = "dictionary"
	flagID            = "id"
	flagPixelsPerCell = "ppc"
	flagSize          = "size"
	flagOutput        = "output"
	flagCalibration   = "calibration"
	flagCamera        = "camera"
	flagMarkerSize    = "marker-size"
	flagOverlay       = "overlay"
)

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		logging.Global().Fatal(err)
	}
}

func newApp(out, errOut io.Writer) *cli.App {
	logger := logging.NewBlankLogger("markergen")
	logger.AddAppender(logging.NewWriterAppender(errOut))
	logger.SetLevel(logging.WARN)
	dictionaryFlag := &cli.StringFlag{
		Name:    flagDictionary,
		Aliases: []string{"d"},
		Value:   aruco.DefaultDictionaryName,
		Usage:   "marker dictionary",
	}

	return &cli.App{
		Name:      "markergen",
		Usage:     "render and detect ArUco markers",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "disable colored output",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				logger.SetLevel(logging.DEBUG)
			}
			if c.Bool("no-color") {
				color.NoColor = true
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "dictionaries",
				Usage: "list the available marker dictionaries",
				Action: func(c *cli.Context) error {
					return listDictionariesAction(c)
				},
			},
			{
				Name:      "render",
				Usage:     "render a marker image",
				ArgsUsage: " ",
				Flags: []cli.Flag{
					dictionaryFlag,
					&cli.IntFlag{
						Name:     flagID,
						Required: true,
						Usage:    "marker id",
					},
					&cli.IntFlag{
						Name:  flagPixelsPerCell,
						Value: 20,
						Usage: "pixels per marker cell",
					},
					&cli.IntFlag{
						Name:  flagSize,
						Usage: "scale the rendered marker to this many pixels on a side",
					},
					&cli.StringFlag{
						Name:     flagOutput,
						Aliases:  []string{"o"},
						Required: true,
						Usage:    "output image `FILE`, format picked by extension",
					},
				},
				Action: func(c *cli.Context) error {
					return renderAction(c)
				},
			},
			{
				Name:      "detect",
				Usage:     "detect markers in an image and optionally estimate their poses",
				ArgsUsage: "<image>",
				Flags: []cli.Flag{
					dictionaryFlag,
					&cli.StringFlag{
						Name:  flagCalibration,
						Usage: "camera calibration `FILE` or directory, enables pose estimation",
					},
					&cli.StringFlag{
						Name:  flagCamera,
						Usage: "camera id inside the calibration, defaults to the only one",
					},
					&cli.Float64Flag{
						Name:  flagMarkerSize,
						Value: 0.1,
						Usage: "marker side length in meters",
					},
					&cli.StringFlag{
						Name:  flagOverlay,
						Usage: "write the image with the detections drawn to `FILE`",
					},
				},
				Action: func(c *cli.Context) error {
					return detectAction(c, logger)
				},
			},
		},
	}
}
