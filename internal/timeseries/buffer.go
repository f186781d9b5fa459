// Package timeseries holds fixed-capacity, timestamped vector samples.
//
// A Buffer is allocated once for the worst-case recording and then reused:
// Append, Reset and Interpolate never allocate. Timestamps are nanoseconds on
// the sensor's monotonic clock; values are stored axis-major so that
// transformation passes can walk one axis as a contiguous slice.
package timeseries

import (
	"errors"
	"fmt"
	"time"
)

// MaxWidth is the widest sample a Buffer stores (rotation vectors carry four
// components).
const MaxWidth = 4

var (
	// ErrCapacityExceeded is returned by Append when the buffer is full.
	ErrCapacityExceeded = errors.New("timeseries: capacity exceeded")
	// ErrWidthMismatch is returned when two buffers must share a width.
	ErrWidthMismatch = errors.New("timeseries: width mismatch")
)

// Buffer is an append-only sequence of (timestamp, vector) samples.
//
// A Buffer is not safe for concurrent use. Slices returned by Times and Axis
// borrow the buffer's storage and are only valid until the next Reset.
type Buffer struct {
	times  []int64
	values [][]float32
	length int
	cursor int
}

// New allocates a buffer for capacity samples of width components.
// It panics if capacity is not positive or width is outside 1..MaxWidth.
func New(capacity, width int) *Buffer {
	if capacity < 1 {
		panic(fmt.Sprintf("timeseries: invalid capacity %d", capacity))
	}
	if width < 1 || width > MaxWidth {
		panic(fmt.Sprintf("timeseries: invalid width %d", width))
	}
	b := &Buffer{
		times:  make([]int64, capacity),
		values: make([][]float32, width),
	}
	for i := range b.values {
		b.values[i] = make([]float32, capacity)
	}
	return b
}

// Len is the number of valid samples.
func (b *Buffer) Len() int { return b.length }

// Cap is the fixed capacity chosen at construction.
func (b *Buffer) Cap() int { return len(b.times) }

// Width is the number of components per sample.
func (b *Buffer) Width() int { return len(b.values) }

// Reset discards all samples and rewinds the interpolation cursor. Storage
// is kept.
func (b *Buffer) Reset() {
	b.length = 0
	b.cursor = 0
}

// Append stores one sample. values must hold at least Width components;
// extra components are ignored. When the buffer is full nothing is written
// and ErrCapacityExceeded is returned.
func (b *Buffer) Append(timestamp int64, values []float32) error {
	if b.length == len(b.times) {
		return ErrCapacityExceeded
	}
	b.times[b.length] = timestamp
	for axis := range b.values {
		b.values[axis][b.length] = values[axis]
	}
	b.length++
	return nil
}

// Time returns the timestamp of sample i.
func (b *Buffer) Time(i int) int64 { return b.times[i] }

// Value returns component axis of sample i.
func (b *Buffer) Value(axis, i int) float32 { return b.values[axis][i] }

// Set overwrites component axis of sample i.
func (b *Buffer) Set(axis, i int, v float32) { b.values[axis][i] = v }

// Times returns the valid timestamps. The slice aliases the buffer.
func (b *Buffer) Times() []int64 { return b.times[:b.length] }

// Axis returns the valid values of one component. The slice aliases the
// buffer and may be written in place.
func (b *Buffer) Axis(axis int) []float32 { return b.values[axis][:b.length] }

// Span is the time covered by the samples, zero for fewer than two.
func (b *Buffer) Span() time.Duration {
	if b.length < 2 {
		return 0
	}
	return time.Duration(b.times[b.length-1] - b.times[0])
}

// ResetCursor rewinds the interpolation cursor to the first sample. Call it
// before a pass of Interpolate queries with increasing timestamps.
func (b *Buffer) ResetCursor() { b.cursor = 0 }

// Interpolate writes the buffer's value at time t into out, which must hold
// at least Width components.
//
// Times before the first sample or after the last return that sample's
// values. In between, components are linearly interpolated between the two
// bracketing samples. The cursor remembers the last bracket, so a monotone
// sequence of queries costs amortized O(1) each; out-of-order queries still
// give correct results by walking the cursor back. An empty buffer yields
// zeros.
func (b *Buffer) Interpolate(t int64, out []float32) {
	n := b.length
	if n == 0 {
		for axis := range b.values {
			out[axis] = 0
		}
		return
	}
	if t <= b.times[0] {
		b.copySample(0, out)
		return
	}
	if t >= b.times[n-1] {
		b.copySample(n-1, out)
		return
	}

	// Here times[0] < t < times[n-1], so both walks stop inside the buffer.
	c := b.cursor
	if c > n-2 {
		c = n - 2
	}
	for b.times[c+1] < t {
		c++
	}
	for b.times[c] > t {
		c--
	}
	b.cursor = c

	t0, t1 := b.times[c], b.times[c+1]
	if t1 == t0 {
		b.copySample(c, out)
		return
	}
	w := float32(float64(t-t0) / float64(t1-t0))
	for axis, vals := range b.values {
		v0 := vals[c]
		out[axis] = v0 + w*(vals[c+1]-v0)
	}
}

func (b *Buffer) copySample(i int, out []float32) {
	for axis, vals := range b.values {
		out[axis] = vals[i]
	}
}

// AlignTo prepares b as the output of a pass over src: b takes src's length
// and timestamps, values are left for the caller to write. Aligning a buffer
// to itself is a no-op.
func (b *Buffer) AlignTo(src *Buffer) error {
	if b == src {
		return nil
	}
	if b.Width() < src.Width() {
		return fmt.Errorf("align %d-wide output to %d-wide input: %w", b.Width(), src.Width(), ErrWidthMismatch)
	}
	if src.length > len(b.times) {
		return fmt.Errorf("align %d samples into %d: %w", src.length, len(b.times), ErrCapacityExceeded)
	}
	copy(b.times, src.times[:src.length])
	b.length = src.length
	b.cursor = 0
	return nil
}

// Clone returns a deep copy sized to the current length (minimum one slot),
// for callers that must keep data past the next Reset.
func (b *Buffer) Clone() *Buffer {
	capacity := b.length
	if capacity < 1 {
		capacity = 1
	}
	c := New(capacity, b.Width())
	copy(c.times, b.times[:b.length])
	for axis := range b.values {
		copy(c.values[axis], b.values[axis][:b.length])
	}
	c.length = b.length
	return c
}
