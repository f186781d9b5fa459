package units

import (
	"math"
	"testing"
)

func TestDistanceScale(t *testing.T) {
	tests := []struct {
		unit     string
		metres   float64
		expected float64
	}{
		{Metres, 1.5, 1.5},
		{Centimetres, 1.5, 150},
		{Millimetres, 0.02, 20},
		{Inches, 0.254, 10},
		{"furlong", 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			got := tt.metres * DistanceScale(tt.unit)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("%v m in %s = %v, want %v", tt.metres, tt.unit, got, tt.expected)
			}
		})
	}
}

func TestAngleScale(t *testing.T) {
	if got := math.Pi * AngleScale(Degrees); math.Abs(got-180) > 1e-9 {
		t.Errorf("pi rad = %v deg, want 180", got)
	}
	if got := AngleScale(Radians); got != 1 {
		t.Errorf("AngleScale(rad) = %v, want 1", got)
	}
}

func TestIsValid(t *testing.T) {
	for _, u := range ValidDistanceUnits {
		if !IsValidDistance(u) {
			t.Errorf("IsValidDistance(%q) = false", u)
		}
	}
	if IsValidDistance(Degrees) {
		t.Error("degrees is not a distance")
	}
	if !IsValidAngle(Degrees) || IsValidAngle("grad") {
		t.Error("IsValidAngle mismatch")
	}
}
