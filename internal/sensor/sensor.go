// Package sensor defines the motion streams a recording consumes and the
// sources that deliver them: the IMU serial link and a synthetic generator.
package sensor

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned when a required stream is not offered by the
// source.
var ErrUnavailable = errors.New("sensor unavailable")

// Stream identifies one of the three motion streams.
type Stream int

const (
	Accelerometer Stream = iota
	Gyroscope
	RotationVector
)

// Streams lists every stream in recording order.
var Streams = [...]Stream{Accelerometer, Gyroscope, RotationVector}

// Width is the number of components per sample: x, y, z for the
// accelerometer (m/s²) and gyroscope (rad/s), and x, y, z, w for the rotation
// vector.
func (s Stream) Width() int {
	if s == RotationVector {
		return 4
	}
	return 3
}

// String returns the tag used on the wire and in storage.
func (s Stream) String() string {
	switch s {
	case Accelerometer:
		return "accel"
	case Gyroscope:
		return "gyro"
	case RotationVector:
		return "rotation"
	}
	return fmt.Sprintf("stream(%d)", int(s))
}

// ParseStream is the inverse of String.
func ParseStream(tag string) (Stream, error) {
	for _, s := range Streams {
		if s.String() == tag {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown stream %q", tag)
}

// Event is one sample. Only the first Stream.Width() values are meaningful;
// for rotation vectors a zero fourth component means the device did not
// report w.
type Event struct {
	Stream    Stream
	Timestamp int64 // ns, monotonic per stream
	Values    [4]float32
}

// Vector returns the meaningful components.
func (e *Event) Vector() []float32 { return e.Values[:e.Stream.Width()] }

// Source delivers stream samples asynchronously.
//
// Subscribe asks for samples at approximately interval and returns a channel
// that the source closes on Unsubscribe or when it shuts down. Sources may
// drop samples if the reader falls behind.
type Source interface {
	Available(Stream) bool
	Subscribe(stream Stream, interval time.Duration) (id string, events <-chan Event, err error)
	Unsubscribe(id string)
}
