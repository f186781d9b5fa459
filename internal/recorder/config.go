package recorder

import (
	"fmt"
	"time"
)

// Config sizes a Session.
type Config struct {
	// Duration is how long a recording runs before the deadline fires.
	Duration time.Duration
	// SamplingInterval is the rate requested from the sensor source.
	SamplingInterval time.Duration
	// GravityAlpha is the smoothing weight kept from the previous gravity
	// estimate on every accelerometer sample while listening.
	GravityAlpha float32
}

// DefaultConfig records five seconds at 200 Hz.
func DefaultConfig() Config {
	return Config{
		Duration:         5 * time.Second,
		SamplingInterval: 5 * time.Millisecond,
		GravityAlpha:     0.8,
	}
}

// Validate rejects configurations that cannot size a buffer.
func (c Config) Validate() error {
	if c.Duration < time.Millisecond {
		return fmt.Errorf("recording duration %v must be at least 1ms", c.Duration)
	}
	if c.SamplingInterval < time.Microsecond {
		return fmt.Errorf("sampling interval %v must be at least 1µs", c.SamplingInterval)
	}
	if c.GravityAlpha < 0 || c.GravityAlpha >= 1 {
		return fmt.Errorf("gravity alpha %v must be in [0, 1)", c.GravityAlpha)
	}
	return nil
}

// Capacity is the per-stream buffer size: the expected sample count with 20%
// headroom for sources that deliver faster than requested, plus one.
func Capacity(c Config) int {
	return int(c.Duration.Milliseconds()*1200/c.SamplingInterval.Microseconds()) + 1
}
