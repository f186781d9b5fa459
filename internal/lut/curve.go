package lut

import (
	"fmt"

	"github.com/banshee-data/kinetic/internal/timeseries"
)

// Kind distinguishes translation curves from rotation curves.
type Kind string

const (
	KindOffset   Kind = "offset"
	KindRotation Kind = "rotation"
)

var axisNames = [...]string{"X", "Y", "Z"}

// Curve is one axis of a processed recording prepared for export.
type Curve struct {
	Label string
	Kind  Kind
	Axis  int
	*Interpolator
}

// Table is the numeric payload handed to code export: a label and the
// transformed samples of the selected range.
type Table struct {
	Label string    `json:"label"`
	Start int       `json:"start"`
	End   int       `json:"end"`
	Add   float32   `json:"add"`
	Mult  float32   `json:"mult"`
	Data  []float32 `json:"values"`
}

// Table exports the curve's current range and transform.
func (c Curve) Table() Table {
	start, end := c.Range()
	add, mult := c.Transform()
	return Table{Label: c.Label, Start: start, End: end, Add: add, Mult: mult, Data: c.Export()}
}

// BuildCurves returns the six per-axis curves of a processed recording:
// offset X, Y, Z from the double-integrated accelerometer buffer and
// rotation X, Y, Z from the integrated gyroscope buffer. The curves borrow the
// buffers' storage. Buffers with fewer than two samples give curves with an
// empty range (Count 0) that must not be evaluated.
func BuildCurves(offset, rotation *timeseries.Buffer) []Curve {
	curves := make([]Curve, 0, 6)
	for _, src := range []struct {
		kind  Kind
		title string
		buf   *timeseries.Buffer
	}{
		{KindOffset, "Offset", offset},
		{KindRotation, "Rotation", rotation},
	} {
		for axis, name := range axisNames {
			curves = append(curves, Curve{
				Label:        fmt.Sprintf("%s - %s", src.title, name),
				Kind:         src.kind,
				Axis:         axis,
				Interpolator: New(src.buf.Axis(axis)),
			})
		}
	}
	return curves
}
