package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// EulerAngles are three angles (in radians) used to represent the rotation of
// an object in 3D Euclidean space. The Tait-Bryan ZYX convention is used:
// yaw about Z, then pitch about Y, then roll about X.
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// NewEulerAngles creates an empty EulerAngles struct.
func NewEulerAngles() *EulerAngles {
	return &EulerAngles{Roll: 0, Pitch: 0, Yaw: 0}
}

// EulerAngles returns the orientation in Euler angle representation.
func (ea *EulerAngles) EulerAngles() *EulerAngles {
	return ea
}

// Quaternion returns the orientation in quaternion representation.
// The composition order is yaw, then pitch, then roll, matching the
// extraction convention of QuatToEulerAngles.
func (ea *EulerAngles) Quaternion() quat.Number {
	qYaw := (&R4AA{Theta: ea.Yaw, RX: 0, RY: 0, RZ: 1}).ToQuat()
	qPitch := (&R4AA{Theta: ea.Pitch, RX: 0, RY: 1, RZ: 0}).ToQuat()
	qRoll := (&R4AA{Theta: ea.Roll, RX: 1, RY: 0, RZ: 0}).ToQuat()
	return quat.Mul(quat.Mul(qYaw, qPitch), qRoll)
}

// AxisAngles returns the orientation in axis angle representation.
func (ea *EulerAngles) AxisAngles() *R4AA {
	return QuatToR4AA(ea.Quaternion())
}

// QuatToEulerAngles converts a rotation unit quaternion to Euler angles.
// See the following wikipedia page for the formulas used here:
// https://en.wikipedia.org/wiki/Conversion_between_quaternions_and_Euler_angles
func QuatToEulerAngles(q quat.Number) *EulerAngles {
	angles := EulerAngles{}

	// rotation about the X axis
	sinrCosp := 2 * (q.Real*q.Imag + q.Jmag*q.Kmag)
	cosrCosp := 1 - 2*(q.Imag*q.Imag+q.Jmag*q.Jmag)
	angles.Roll = math.Atan2(sinrCosp, cosrCosp)

	// rotation about the Y axis
	sinp := 2 * (q.Real*q.Jmag - q.Kmag*q.Imag)
	if math.Abs(sinp) >= 1 {
		// gimbal lock; use +/- 90 degrees
		angles.Pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		angles.Pitch = math.Asin(sinp)
	}

	// rotation about the Z axis
	sinyCosp := 2 * (q.Real*q.Kmag + q.Imag*q.Jmag)
	cosyCosp := 1 - 2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag)
	angles.Yaw = math.Atan2(sinyCosp, cosyCosp)

	return &angles
}
