package transform

import (
	"fmt"

	"github.com/banshee-data/kinetic/internal/timeseries"
)

// GravityMode selects how gravity is removed from acceleration.
type GravityMode string

const (
	GravityOff GravityMode = "off"
	// GravityWorld subtracts standard gravity after rotating to the world
	// frame.
	GravityWorld GravityMode = "world"
	// GravityRaw subtracts the measured gravity in the device frame.
	GravityRaw GravityMode = "raw"
)

// ParseGravityMode accepts "", "off", "world" or "raw".
func ParseGravityMode(s string) (GravityMode, error) {
	switch GravityMode(s) {
	case "", GravityOff:
		return GravityOff, nil
	case GravityWorld, GravityRaw:
		return GravityMode(s), nil
	}
	return "", fmt.Errorf("unknown gravity mode %q", s)
}

// Options select the optional steps of Apply. The zero value integrates the
// raw streams with no corrections.
type Options struct {
	RotateToWorld   bool
	Gravity         GravityMode
	JitterThreshold float32
}

// Apply converts a recording in place: accel becomes displacement (m) and
// gyro becomes rotation (rad) per axis. rotation is only read.
//
// Steps, in order: optional raw-frame gravity removal, optional rotation to
// the world frame, optional world-frame gravity removal, optional jitter gate
// on acceleration, then double integration of accel and single integration
// of gyro.
func Apply(accel, gyro, rotation *timeseries.Buffer, gravity [3]float32, opts Options) error {
	if opts.Gravity == GravityRaw {
		if err := RemoveGravityFromRaw(accel, rotation, accel, gravity); err != nil {
			return fmt.Errorf("remove raw gravity: %w", err)
		}
	}
	if opts.RotateToWorld {
		if err := RotateToWorldFrame(accel, rotation, accel); err != nil {
			return fmt.Errorf("rotate accel: %w", err)
		}
		if err := RotateToWorldFrame(gyro, rotation, gyro); err != nil {
			return fmt.Errorf("rotate gyro: %w", err)
		}
	}
	if opts.Gravity == GravityWorld {
		if err := RemoveGravityBias(accel, accel); err != nil {
			return fmt.Errorf("remove world gravity: %w", err)
		}
	}
	if opts.JitterThreshold > 0 {
		if err := ReduceJitter(accel, opts.JitterThreshold, accel); err != nil {
			return fmt.Errorf("reduce jitter: %w", err)
		}
	}

	Integrate(accel)
	Integrate(accel)
	Integrate(gyro)
	return nil
}
