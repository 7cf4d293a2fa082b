package main

import (
	"fmt"
	"image"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/labviros/is-aruco-localization/calibration"
	"github.com/labviros/is-aruco-localization/logging"
	"github.com/labviros/is-aruco-localization/rimage"
	"github.com/labviros/is-aruco-localization/vision/aruco"
	"github.com/labviros/is-aruco-localization/vision/aruco/pose"
)

var (
	headerColor = color.New(color.Bold, color.FgCyan).SprintFunc()
	okColor     = color.New(color.FgGreen).SprintFunc()
	badColor    = color.New(color.FgRed).SprintFunc()
)

func header(cols ...string) table.Row {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = headerColor(c)
	}
	return row
}

func listDictionariesAction(c *cli.Context) error {
	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.AppendHeader(header("Name", "Bits", "Markers", "Max correction"))
	for _, name := range aruco.DictionaryNames() {
		dict, err := aruco.DictionaryByName(name)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{
			name,
			fmt.Sprintf("%dx%d", dict.MarkerSize(), dict.MarkerSize()),
			dict.Len(),
			dict.MaxCorrectionBits(),
		})
	}
	t.Render()
	return nil
}

func renderAction(c *cli.Context) error {
	dict, err := aruco.DictionaryByName(c.String(flagDictionary))
	if err != nil {
		return err
	}
	var img image.Image
	img, err = dict.Render(c.Int(flagID), c.Int(flagPixelsPerCell))
	if err != nil {
		return err
	}
	if size := c.Int(flagSize); size > 0 {
		if img, err = rimage.ScaleNearest(img, size, size); err != nil {
			return err
		}
	}
	out := c.String(flagOutput)
	if err := rimage.WriteImageToFile(out, img); err != nil {
		return errors.Wrapf(err, "cannot write %s", out)
	}
	fmt.Fprintf(c.App.Writer, "marker %d of %s written to %s\n", c.Int(flagID), dict.Name(), out)
	return nil
}

func detectAction(c *cli.Context, logger logging.Logger) error {
	if c.Args().Len() != 1 {
		return errors.New("detect takes exactly one image")
	}
	path := c.Args().First()
	img, err := rimage.ReadImageFromFile(path)
	if err != nil {
		return err
	}
	dict, err := aruco.DictionaryByName(c.String(flagDictionary))
	if err != nil {
		return err
	}
	detector, err := aruco.NewDetector(dict, aruco.DefaultDetectorConfig(), logger.Sublogger("detector"))
	if err != nil {
		return err
	}
	markers := detector.DetectImage(c.Context, img)
	logger.Debugw("detected", "image", path, "markers", len(markers))

	var calib *calibration.CameraCalibration
	if calibPath := c.String(flagCalibration); calibPath != "" {
		if calib, err = loadCalibration(c, calibPath, logger); err != nil {
			return err
		}
	}
	if err := printDetections(c, img.Bounds(), markers, calib, logger); err != nil {
		return err
	}

	if out := c.String(flagOverlay); out != "" {
		drawn, err := aruco.Overlay(img, markers)
		if err != nil {
			return err
		}
		if err := rimage.WriteImageToFile(out, drawn); err != nil {
			return errors.Wrapf(err, "cannot write %s", out)
		}
	}
	return nil
}

func loadCalibration(c *cli.Context, path string, logger logging.Logger) (*calibration.CameraCalibration, error) {
	store, err := calibration.LoadStore(path, calibration.LoadOptions{
		MarkerSizes: calibration.MarkerSizes{Default: c.Float64(flagMarkerSize)},
	}, logger.Sublogger("calibration"))
	if err != nil {
		return nil, err
	}
	camera := c.String(flagCamera)
	if camera == "" {
		ids := store.CameraIDs()
		if len(ids) != 1 {
			return nil, errors.Errorf("calibration holds cameras %v, pick one with --%s", ids, flagCamera)
		}
		camera = ids[0]
	}
	return store.Load(camera)
}

func printDetections(
	c *cli.Context,
	bounds image.Rectangle,
	markers []aruco.DetectedMarker,
	calib *calibration.CameraCalibration,
	logger logging.Logger,
) error {
	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	cols := []string{"ID", "Rotation", "Hamming", "Confidence", "Top left"}
	var estimator *pose.Estimator
	if calib != nil {
		var err error
		if estimator, err = pose.NewEstimator(pose.DefaultConfig(), logger.Sublogger("pose")); err != nil {
			return err
		}
		cols = append(cols, "Position (m)", "Roll/Pitch/Yaw (deg)", "Reprojection (px)", "Quality")
	}
	t.AppendHeader(header(cols...))

	for _, m := range markers {
		row := table.Row{
			m.ID,
			m.Rotation * 90,
			m.HammingDistance,
			fmt.Sprintf("%.2f", m.Confidence),
			fmt.Sprintf("(%.1f, %.1f)", m.Corners[0].X, m.Corners[0].Y),
		}
		if estimator != nil {
			row = append(row, poseColumns(estimator, m, calib, bounds)...)
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d markers", len(markers))})
	t.Render()
	return nil
}

func poseColumns(
	estimator *pose.Estimator,
	m aruco.DetectedMarker,
	calib *calibration.CameraCalibration,
	bounds image.Rectangle,
) table.Row {
	p, err := estimator.Estimate(m, calib, bounds.Dx(), bounds.Dy())
	if err == nil {
		p, err = pose.ToWorld(p, calib)
	}
	if err != nil {
		return table.Row{badColor(err.Error()), "", "", ""}
	}
	pt := p.Pose.Point()
	angles := p.Pose.Orientation().EulerAngles().Degrees()
	return table.Row{
		fmt.Sprintf("%.3f, %.3f, %.3f", pt.X, pt.Y, pt.Z),
		fmt.Sprintf("%.1f, %.1f, %.1f", angles[0], angles[1], angles[2]),
		fmt.Sprintf("%.2f", p.ReprojectionError),
		okColor(fmt.Sprintf("%.2f", p.Quality)),
	}
}
