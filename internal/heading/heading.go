// Package heading derives a floor-plan heading from rotation-vector samples.
//
// A rotation vector is turned into a 3x3 rotation matrix, the device axes are
// remapped so that "forward" on the floor plan matches the phone held flat in
// portrait, and the azimuth is read off the remapped matrix. The latest sample
// wins: there is no smoothing and no drift correction.
package heading

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidVector is returned for rotation vectors that cannot be used.
var ErrInvalidVector = errors.New("invalid rotation vector")

// Axis selects a device axis for RemapCoordinateSystem. The Minus variants
// flip the sign of the axis.
type Axis int

const (
	AxisX      Axis = 1
	AxisY      Axis = 2
	AxisZ      Axis = 3
	AxisMinusX Axis = AxisX | 0x80
	AxisMinusY Axis = AxisY | 0x80
	AxisMinusZ Axis = AxisZ | 0x80
)

// RotationMatrixFromVector converts a rotation vector (x·sin(θ/2),
// y·sin(θ/2), z·sin(θ/2)[, cos(θ/2)[, accuracy]]) into a row-major rotation
// matrix. When the scalar part is missing it is derived from the unit norm.
func RotationMatrixFromVector(v []float64) (*mat.Dense, error) {
	if len(v) < 3 || len(v) > 5 {
		return nil, fmt.Errorf("%w: %d components", ErrInvalidVector, len(v))
	}
	for i, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: component %d is not finite", ErrInvalidVector, i)
		}
	}

	q1, q2, q3 := v[0], v[1], v[2]
	var q0 float64
	if len(v) >= 4 {
		q0 = v[3]
	} else {
		q0 = 1 - q1*q1 - q2*q2 - q3*q3
		if q0 > 0 {
			q0 = math.Sqrt(q0)
		} else {
			q0 = 0
		}
	}

	sqQ1 := 2 * q1 * q1
	sqQ2 := 2 * q2 * q2
	sqQ3 := 2 * q3 * q3
	q1q2 := 2 * q1 * q2
	q3q0 := 2 * q3 * q0
	q1q3 := 2 * q1 * q3
	q2q0 := 2 * q2 * q0
	q2q3 := 2 * q2 * q3
	q1q0 := 2 * q1 * q0

	return mat.NewDense(3, 3, []float64{
		1 - sqQ2 - sqQ3, q1q2 - q3q0, q1q3 + q2q0,
		q1q2 + q3q0, 1 - sqQ1 - sqQ3, q2q3 - q1q0,
		q1q3 - q2q0, q2q3 + q1q0, 1 - sqQ1 - sqQ2,
	}), nil
}

// RemapCoordinateSystem rotates r so that the device axis x becomes the world
// X axis and y becomes the world Y axis. The third axis follows from the
// right-hand rule.
func RemapCoordinateSystem(r mat.Matrix, x, y Axis) (*mat.Dense, error) {
	p, err := remapMatrix(x, y)
	if err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Mul(r, p)
	return &out, nil
}

// remapMatrix builds the signed permutation P with remapped = R·P.
func remapMatrix(x, y Axis) (*mat.Dense, error) {
	if x&0x7C != 0 || y&0x7C != 0 {
		return nil, fmt.Errorf("heading: invalid axis %#x/%#x", int(x), int(y))
	}
	if x&0x3 == 0 || y&0x3 == 0 {
		return nil, fmt.Errorf("heading: axis not specified")
	}
	if x&0x3 == y&0x3 {
		return nil, fmt.Errorf("heading: x and y remap to the same axis")
	}

	z := x ^ y
	xi := int(x&0x3) - 1
	yi := int(y&0x3) - 1
	zi := int(z&0x3) - 1

	// z flips when (x, y, z) is not a cyclic permutation
	if xi != (zi+1)%3 || yi != (zi+2)%3 {
		z ^= 0x80
	}

	sign := func(a Axis) float64 {
		if a >= 0x80 {
			return -1
		}
		return 1
	}

	p := mat.NewDense(3, 3, nil)
	p.Set(0, xi, sign(x))
	p.Set(1, yi, sign(y))
	p.Set(2, zi, sign(z))
	return p, nil
}

// Orientation returns azimuth, pitch and roll in radians from a rotation
// matrix.
func Orientation(r mat.Matrix) (azimuth, pitch, roll float64) {
	azimuth = math.Atan2(r.At(0, 1), r.At(1, 1))
	pitch = math.Asin(-r.At(2, 1))
	roll = math.Atan2(-r.At(2, 0), r.At(2, 2))
	return azimuth, pitch, roll
}

// normalize maps an angle into (-π, π].
func normalize(a float64) float64 {
	a = math.Remainder(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// Estimator keeps the most recent heading. Before the first valid sample the
// heading is 0.
type Estimator struct {
	x, y    Axis
	heading float64
	have    bool
}

// NewEstimator returns an estimator using the floor-plan remap: device -Y is
// world X and device Z is world Y.
func NewEstimator() *Estimator {
	return &Estimator{x: AxisMinusY, y: AxisZ}
}

// Update consumes a rotation vector. It returns the new heading and true, or
// the previous heading and false when the sample is unusable.
func (e *Estimator) Update(v []float64) (float64, bool) {
	r, err := RotationMatrixFromVector(v)
	if err != nil {
		return e.heading, false
	}
	remapped, err := RemapCoordinateSystem(r, e.x, e.y)
	if err != nil {
		return e.heading, false
	}
	azimuth, _, _ := Orientation(remapped)
	if math.IsNaN(azimuth) || math.IsInf(azimuth, 0) {
		return e.heading, false
	}
	e.heading = normalize(azimuth)
	e.have = true
	return e.heading, true
}

// Heading returns the latest heading in radians, in (-π, π].
func (e *Estimator) Heading() float64 {
	return e.heading
}

// Valid reports whether any sample has been accepted.
func (e *Estimator) Valid() bool {
	return e.have
}
