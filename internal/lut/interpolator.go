// Package lut resamples a sub-range of a scalar series as a lookup table over
// the normalized domain [0, 1], with an affine output transform. It is how a
// recorded curve becomes an exportable easing table.
package lut

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRange is returned for a range with fewer than two samples or
// outside the underlying values.
var ErrInvalidRange = errors.New("lut: invalid range")

// Interpolator evaluates values[start:end] as a piecewise-linear function of
// x in [0, 1] and maps each result through add + v*mult.
//
// The values slice is borrowed, not copied: edits to it show through, and it
// must outlive the Interpolator.
type Interpolator struct {
	values     []float32
	start, end int
	add, mult  float32
}

// New creates an interpolator over values with the identity transform and,
// when there are at least two values, the full range selected.
func New(values []float32) *Interpolator {
	l := &Interpolator{values: values, mult: 1}
	if len(values) >= 2 {
		l.end = len(values)
	}
	return l
}

// SelectRange selects the half-open range [start, end).
func (l *Interpolator) SelectRange(start, end int) error {
	if end-start < 2 || start < 0 || end > len(l.values) {
		return fmt.Errorf("range [%d, %d) of %d values: %w", start, end, len(l.values), ErrInvalidRange)
	}
	l.start, l.end = start, end
	return nil
}

// Range returns the selected half-open range.
func (l *Interpolator) Range() (start, end int) { return l.start, l.end }

// Count is the number of samples in the selected range.
func (l *Interpolator) Count() int { return l.end - l.start }

// SetTransform sets the output mapping add + v*mult.
func (l *Interpolator) SetTransform(add, mult float32) {
	l.add, l.mult = add, mult
}

// Transform returns the output mapping.
func (l *Interpolator) Transform() (add, mult float32) { return l.add, l.mult }

func (l *Interpolator) apply(v float32) float32 { return l.add + v*l.mult }

// Evaluate returns the transformed value at x. x is clamped to [0, 1]; the
// ends return the first and last selected samples exactly. It panics if no
// valid range is selected.
func (l *Interpolator) Evaluate(x float32) float32 {
	count := l.end - l.start
	if count < 2 {
		panic("lut: Evaluate without a valid range")
	}
	if !(x > 0) { // also catches NaN
		return l.apply(l.values[l.start])
	}
	if x >= 1 {
		return l.apply(l.values[l.end-1])
	}

	pos := x * float32(count-1)
	index := int(pos)
	if index > count-2 {
		index = count - 2
	}
	w := pos - float32(index)
	v0 := l.values[l.start+index]
	v1 := l.values[l.start+index+1]
	return l.apply(v0 + w*(v1-v0))
}

// Export returns the transformed samples of the selected range in a new
// slice.
func (l *Interpolator) Export() []float32 {
	out := make([]float32, 0, l.end-l.start)
	for _, v := range l.values[l.start:l.end] {
		out = append(out, l.apply(v))
	}
	return out
}

// Trim selects the range left after cutting fractions of the full series
// from each end, as the results screen sliders do: trimStart of the values
// are dropped from the front and trimEnd from the back.
func (l *Interpolator) Trim(trimStart, trimEnd float64) error {
	if trimStart < 0 || trimEnd < 0 || trimStart+trimEnd > 1 {
		return fmt.Errorf("trim %.3f/%.3f: %w", trimStart, trimEnd, ErrInvalidRange)
	}
	n := len(l.values)
	start := int(float64(n) * trimStart)
	end := int(float64(n)*(1-trimEnd) + 0.5)
	if end > n {
		end = n
	}
	return l.SelectRange(start, end)
}

// Bounds returns the minimum and maximum raw values in the selected range.
func (l *Interpolator) Bounds() (lo, hi float32) {
	lo, hi = float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range l.values[l.start:l.end] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Normalize scales the output by the inverse of the selected range's extent,
// so the exported curve spans a width of one. A flat range keeps mult 1.
func (l *Interpolator) Normalize() {
	lo, hi := l.Bounds()
	mult := float32(1)
	if hi > lo {
		mult = 1 / (hi - lo)
	}
	l.SetTransform(0, mult)
}
