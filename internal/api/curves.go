package api

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/banshee-data/kinetic/internal/db"
	"github.com/banshee-data/kinetic/internal/lut"
	"github.com/banshee-data/kinetic/internal/transform"
	"github.com/banshee-data/kinetic/internal/units"
)

// CurveQuery selects how a recording's curves are cut and scaled for export.
type CurveQuery struct {
	TrimStart float64 // fraction of samples dropped from the front
	TrimEnd   float64 // fraction of samples dropped from the back
	Normalize bool
	Distance  string // unit for offset curves, metres by default
	Angle     string // unit for rotation curves, radians by default
}

// ParseCurveQuery reads trim_start, trim_end, normalize, units and
// angle_units from a query string.
func ParseCurveQuery(v url.Values) (CurveQuery, error) {
	q := CurveQuery{Distance: units.Metres, Angle: units.Radians}
	var err error
	if s := v.Get("trim_start"); s != "" {
		if q.TrimStart, err = strconv.ParseFloat(s, 64); err != nil {
			return q, fmt.Errorf("invalid 'trim_start' parameter: %w", err)
		}
	}
	if s := v.Get("trim_end"); s != "" {
		if q.TrimEnd, err = strconv.ParseFloat(s, 64); err != nil {
			return q, fmt.Errorf("invalid 'trim_end' parameter: %w", err)
		}
	}
	if s := v.Get("normalize"); s != "" {
		if q.Normalize, err = strconv.ParseBool(s); err != nil {
			return q, fmt.Errorf("invalid 'normalize' parameter: %w", err)
		}
	}
	if s := v.Get("units"); s != "" {
		if !units.IsValidDistance(s) {
			return q, fmt.Errorf("invalid 'units' parameter %q, want one of %v", s, units.ValidDistanceUnits)
		}
		q.Distance = s
	}
	if s := v.Get("angle_units"); s != "" {
		if !units.IsValidAngle(s) {
			return q, fmt.Errorf("invalid 'angle_units' parameter %q, want one of %v", s, units.ValidAngleUnits)
		}
		q.Angle = s
	}
	return q, nil
}

// ProcessRecording converts rec in place with transform.Apply and returns its
// six curves with the query's trim and scaling applied. The curves borrow
// rec's buffers.
func ProcessRecording(rec *db.Recording, opts transform.Options, q CurveQuery) ([]lut.Curve, error) {
	if err := transform.Apply(rec.Accel, rec.Gyro, rec.Rotation, rec.Gravity, opts); err != nil {
		return nil, fmt.Errorf("process recording %s: %w", rec.ID, err)
	}
	curves := lut.BuildCurves(rec.Accel, rec.Gyro)
	for _, c := range curves {
		if q.TrimStart > 0 || q.TrimEnd > 0 {
			if err := c.Trim(q.TrimStart, q.TrimEnd); err != nil {
				return nil, fmt.Errorf("%s: %w", c.Label, err)
			}
		}
		switch {
		case q.Normalize:
			c.Normalize()
		case c.Kind == lut.KindOffset:
			c.SetTransform(0, float32(units.DistanceScale(q.Distance)))
		default:
			c.SetTransform(0, float32(units.AngleScale(q.Angle)))
		}
	}
	return curves, nil
}

// Tables exports every curve's current range and transform.
func Tables(curves []lut.Curve) []lut.Table {
	out := make([]lut.Table, 0, len(curves))
	for _, c := range curves {
		out = append(out, c.Table())
	}
	return out
}
