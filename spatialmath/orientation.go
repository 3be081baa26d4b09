// Package spatialmath defines spatial mathematical operations.
// It exposes poses and the orientation parameterizations needed for
// scan matching: unit quaternions, Euler angles and axis angles.
package spatialmath

import (
	"gonum.org/v1/gonum/num/quat"
)

// Orientation is an interface used to express the different parameterizations
// of the orientation of a rigid object or a frame of reference in 3D Euclidean space.
type Orientation interface {
	Quaternion() quat.Number
	EulerAngles() *EulerAngles
	AxisAngles() *R4AA
}

// NewZeroOrientation returns an orientation which signifies no rotation.
func NewZeroOrientation() Orientation {
	return &quaternion{1, 0, 0, 0}
}

// OrientationAlmostEqual will return a bool describing whether 2 orientations
// are approximately the same.
func OrientationAlmostEqual(o1, o2 Orientation) bool {
	return QuaternionAlmostEqual(o1.Quaternion(), o2.Quaternion(), 1e-5)
}

// OrientationBetween returns the orientation representing the difference
// between the two given Orientations.
func OrientationBetween(o1, o2 Orientation) Orientation {
	q := quaternion(quat.Mul(o2.Quaternion(), quat.Conj(o1.Quaternion())))
	return &q
}

type quaternion quat.Number

// NewOrientationFromQuaternion normalizes the given quaternion and returns it
// as an Orientation.
func NewOrientationFromQuaternion(q quat.Number) Orientation {
	n := Normalize(q)
	ret := quaternion(n)
	return &ret
}

func (q *quaternion) Quaternion() quat.Number {
	return quat.Number(*q)
}

func (q *quaternion) EulerAngles() *EulerAngles {
	return QuatToEulerAngles(q.Quaternion())
}

func (q *quaternion) AxisAngles() *R4AA {
	return QuatToR4AA(q.Quaternion())
}
