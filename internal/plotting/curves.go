// Package plotting renders lookup-table curves to PNG for offline inspection.
package plotting

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/kinetic/internal/lut"
	"github.com/banshee-data/kinetic/internal/security"
)

// Resolution is the number of points each curve is evaluated at.
const Resolution = 200

// ErrNoCurves is returned when none of the curves has a usable range.
var ErrNoCurves = errors.New("plotting: no curves with a valid range")

// axisColors are the X, Y and Z line colours.
var axisColors = [3]color.Color{
	color.RGBA{R: 214, G: 39, B: 40, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
}

// CurvePlotter writes one PNG per curve kind into a directory.
type CurvePlotter struct {
	outputDir string
	width     vg.Length
	height    vg.Length
}

// NewCurvePlotter creates a plotter writing into outputDir, creating it if
// needed.
func NewCurvePlotter(outputDir string) (*CurvePlotter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}
	return &CurvePlotter{outputDir: outputDir, width: 10 * vg.Inch, height: 5 * vg.Inch}, nil
}

// Save renders the offset and rotation curves as <prefix>_offset.png and
// <prefix>_rotation.png (prefix sanitized for use in a file name). Each
// curve is evaluated over the lookup domain [0, 1] with its transform
// applied; curves without a valid range are skipped. It returns the files
// written.
func (cp *CurvePlotter) Save(prefix string, curves []lut.Curve) ([]string, error) {
	xs := floats.Span(make([]float64, Resolution), 0, 1)

	var files []string
	for _, kind := range []lut.Kind{lut.KindOffset, lut.KindRotation} {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s - %s", prefix, kind)
		p.X.Label.Text = "x"
		p.Y.Label.Text = yLabel(kind)
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
		p.Add(plotter.NewGrid())

		lines := 0
		for _, c := range curves {
			if c.Kind != kind || c.Count() < 2 {
				continue
			}
			pts := make(plotter.XYs, len(xs))
			for i, x := range xs {
				pts[i] = plotter.XY{X: x, Y: float64(c.Evaluate(float32(x)))}
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return files, fmt.Errorf("%s: %w", c.Label, err)
			}
			line.Color = axisColors[c.Axis%len(axisColors)]
			line.Width = vg.Points(1.5)
			p.Add(line)
			p.Legend.Add(c.Label, line)
			lines++
		}
		if lines == 0 {
			continue
		}

		file := filepath.Join(cp.outputDir, fmt.Sprintf("%s_%s.png", security.SanitizeFilename(prefix), kind))
		if err := p.Save(cp.width, cp.height, file); err != nil {
			return files, fmt.Errorf("save %s: %w", file, err)
		}
		files = append(files, file)
	}
	if len(files) == 0 {
		return nil, ErrNoCurves
	}
	return files, nil
}

func yLabel(kind lut.Kind) string {
	if kind == lut.KindRotation {
		return "Rotation"
	}
	return "Offset"
}
