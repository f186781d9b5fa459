// Package transform turns raw motion recordings into offset and rotation
// curves: frame rotation, gravity removal, a jitter gate and trapezoidal
// integration. Every pass reads one or two buffers and writes an output
// buffer, which may be the input itself.
package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/kinetic/internal/timeseries"
	"github.com/banshee-data/kinetic/internal/units"
)

// Integrate replaces each axis of b with its running trapezoidal integral
// over time in seconds. The first sample becomes zero. Accumulation is in
// float32, matching the stored precision.
func Integrate(b *timeseries.Buffer) {
	n := b.Len()
	if n == 0 {
		return
	}
	times := b.Times()
	for axis := 0; axis < b.Width(); axis++ {
		v := b.Axis(axis)
		prev := v[0]
		v[0] = 0
		for i := 1; i < n; i++ {
			cur := v[i]
			dt := float32(times[i] - times[i-1])
			v[i] = v[i-1] + (prev+cur)*dt/2/units.NanosPerSecond
			prev = cur
		}
	}
}

// frame converts rotation-vector samples to 3×3 rotation matrices and applies
// them. Its storage is allocated once per pass.
type frame struct {
	rv  []float32
	r   *mat.Dense
	in  *mat.VecDense
	out *mat.VecDense
}

func newFrame() *frame {
	return &frame{
		rv:  make([]float32, timeseries.MaxWidth),
		r:   mat.NewDense(3, 3, nil),
		in:  mat.NewVecDense(3, nil),
		out: mat.NewVecDense(3, nil),
	}
}

// quaternion builds the unit quaternion for a rotation vector (x, y, z[, w]).
// When w is absent or zero it is derived from the vector part.
func quaternion(rv []float32) quat.Number {
	q := quat.Number{Imag: float64(rv[0]), Jmag: float64(rv[1]), Kmag: float64(rv[2])}
	if len(rv) > 3 && rv[3] != 0 {
		q.Real = float64(rv[3])
	} else {
		q.Real = math.Sqrt(math.Max(0, 1-q.Imag*q.Imag-q.Jmag*q.Jmag-q.Kmag*q.Kmag))
	}
	// Interpolated samples are slightly shorter than unit length.
	if n := quat.Abs(q); n > 0 {
		q = quat.Scale(1/n, q)
	}
	return q
}

// load fills f.r with the device-to-world rotation for rotation vector rv.
func (f *frame) load(rv []float32) {
	q := quaternion(rv)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	f.r.Set(0, 0, 1-2*y*y-2*z*z)
	f.r.Set(0, 1, 2*x*y-2*z*w)
	f.r.Set(0, 2, 2*x*z+2*y*w)
	f.r.Set(1, 0, 2*x*y+2*z*w)
	f.r.Set(1, 1, 1-2*x*x-2*z*z)
	f.r.Set(1, 2, 2*y*z-2*x*w)
	f.r.Set(2, 0, 2*x*z-2*y*w)
	f.r.Set(2, 1, 2*y*z+2*x*w)
	f.r.Set(2, 2, 1-2*x*x-2*y*y)
}

// apply rotates v by the loaded matrix, or by its transpose (the inverse
// rotation) when inverse is set.
func (f *frame) apply(v [3]float32, inverse bool) [3]float32 {
	for i := 0; i < 3; i++ {
		f.in.SetVec(i, float64(v[i]))
	}
	if inverse {
		f.out.MulVec(f.r.T(), f.in)
	} else {
		f.out.MulVec(f.r, f.in)
	}
	return [3]float32{float32(f.out.AtVec(0)), float32(f.out.AtVec(1)), float32(f.out.AtVec(2))}
}

// RotationMatrix returns the device-to-world rotation matrix for a rotation
// vector (x, y, z[, w]).
func RotationMatrix(rv []float32) *mat.Dense {
	f := newFrame()
	f.load(rv)
	return f.r
}

// RotateToWorldFrame rotates each sample of in into the world frame using
// the rotation vector interpolated at the sample's timestamp, writing out.
func RotateToWorldFrame(in, rotation, out *timeseries.Buffer) error {
	return rotate(in, rotation, out, false)
}

// RotateToDeviceFrame is the inverse of RotateToWorldFrame.
func RotateToDeviceFrame(in, rotation, out *timeseries.Buffer) error {
	return rotate(in, rotation, out, true)
}

func rotate(in, rotation, out *timeseries.Buffer, inverse bool) error {
	if in.Width() != 3 {
		return fmt.Errorf("rotate %d-wide buffer: %w", in.Width(), timeseries.ErrWidthMismatch)
	}
	if err := out.AlignTo(in); err != nil {
		return err
	}
	if rotation.Len() == 0 {
		// No orientation known: leave samples in their own frame.
		copyValues(in, out)
		return nil
	}

	f := newFrame()
	rv := f.rv[:rotation.Width()]
	rotation.ResetCursor()
	for i := 0; i < in.Len(); i++ {
		rotation.Interpolate(in.Time(i), rv)
		f.load(rv)
		v := f.apply([3]float32{in.Value(0, i), in.Value(1, i), in.Value(2, i)}, inverse)
		for axis := 0; axis < 3; axis++ {
			out.Set(axis, i, v[axis])
		}
	}
	return nil
}

func copyValues(in, out *timeseries.Buffer) {
	if in == out {
		return
	}
	for axis := 0; axis < in.Width(); axis++ {
		copy(out.Axis(axis), in.Axis(axis))
	}
}

// RemoveGravityBias subtracts standard gravity from the vertical (Z) axis of
// world-frame acceleration.
//
// Experimental: the sign assumes a Z-up world frame.
func RemoveGravityBias(in, out *timeseries.Buffer) error {
	if err := out.AlignTo(in); err != nil {
		return err
	}
	copyValues(in, out)
	z := out.Axis(2)
	for i := range z {
		z[i] -= units.StandardGravity
	}
	return nil
}

// RemoveGravityFromRaw subtracts gravity from device-frame acceleration.
// gravity is the device-frame reading taken while the device rested before
// the recording. It is carried into the world frame with the first
// orientation sample, then back into the device frame at every sample's
// orientation before being subtracted.
//
// Experimental: the result depends on how well the listening phase settled.
func RemoveGravityFromRaw(in, rotation, out *timeseries.Buffer, gravity [3]float32) error {
	if in.Width() != 3 {
		return fmt.Errorf("remove gravity from %d-wide buffer: %w", in.Width(), timeseries.ErrWidthMismatch)
	}
	if err := out.AlignTo(in); err != nil {
		return err
	}
	if rotation.Len() == 0 || in.Len() == 0 {
		copyValues(in, out)
		for axis := 0; axis < 3; axis++ {
			vals := out.Axis(axis)
			for i := range vals {
				vals[i] -= gravity[axis]
			}
		}
		return nil
	}

	f := newFrame()
	rv := f.rv[:rotation.Width()]
	rotation.ResetCursor()
	rotation.Interpolate(in.Time(0), rv)
	f.load(rv)
	world := f.apply(gravity, false)

	for i := 0; i < in.Len(); i++ {
		rotation.Interpolate(in.Time(i), rv)
		f.load(rv)
		g := f.apply(world, true)
		for axis := 0; axis < 3; axis++ {
			out.Set(axis, i, in.Value(axis, i)-g[axis])
		}
	}
	return nil
}

// ReduceJitter zeroes every component whose magnitude is at most threshold.
func ReduceJitter(in *timeseries.Buffer, threshold float32, out *timeseries.Buffer) error {
	if err := out.AlignTo(in); err != nil {
		return err
	}
	for axis := 0; axis < in.Width(); axis++ {
		src, dst := in.Axis(axis), out.Axis(axis)
		for i, v := range src {
			if v <= threshold && v >= -threshold {
				dst[i] = 0
			} else {
				dst[i] = v
			}
		}
	}
	return nil
}
