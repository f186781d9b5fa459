// Package units provides physical constants and the unit scales offered when
// exporting offset and rotation curves.
package units

import "math"

// StandardGravity in m/s².
const StandardGravity = 9.80665

// NanosPerSecond converts sensor timestamps to seconds.
const NanosPerSecond = 1e9

// Distance units. Offsets are integrated in metres.
const (
	Metres      = "m"
	Centimetres = "cm"
	Millimetres = "mm"
	Inches      = "in"
)

// Angle units. Rotations are integrated in radians.
const (
	Radians = "rad"
	Degrees = "deg"
)

// ValidDistanceUnits contains all valid distance unit values
var ValidDistanceUnits = []string{Metres, Centimetres, Millimetres, Inches}

// ValidAngleUnits contains all valid angle unit values
var ValidAngleUnits = []string{Radians, Degrees}

// IsValidDistance checks if the given unit is a known distance unit
func IsValidDistance(unit string) bool { return contains(ValidDistanceUnits, unit) }

// IsValidAngle checks if the given unit is a known angle unit
func IsValidAngle(unit string) bool { return contains(ValidAngleUnits, unit) }

func contains(list []string, unit string) bool {
	for _, u := range list {
		if unit == u {
			return true
		}
	}
	return false
}

// DistanceScale is the factor converting metres to unit. Unknown units keep
// metres.
func DistanceScale(unit string) float64 {
	switch unit {
	case Centimetres:
		return 100
	case Millimetres:
		return 1000
	case Inches:
		return 1 / 0.0254
	default:
		return 1
	}
}

// AngleScale is the factor converting radians to unit. Unknown units keep
// radians.
func AngleScale(unit string) float64 {
	if unit == Degrees {
		return 180 / math.Pi
	}
	return 1
}
