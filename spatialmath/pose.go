package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a 6dof pose, position and orientation, of an object or a
// frame of reference. By convention, when converted to a transform, the
// rotation is applied first, then the translation.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

// NewZeroPose returns a pose at (0,0,0) with the same orientation as whatever
// frame it is placed in.
func NewZeroPose() Pose {
	return newDualQuaternion()
}

// NewPose takes in a position and orientation and returns a Pose.
func NewPose(p r3.Vector, o Orientation) Pose {
	if o == nil {
		return NewPoseFromPoint(p)
	}
	q := newDualQuaternionFromRotation(o)
	q.SetTranslation(p)
	return q
}

// NewPoseFromPoint takes in a cartesian (x,y,z) and stores it as a vector.
// It will have the same orientation as the frame it is in reference to.
func NewPoseFromPoint(point r3.Vector) Pose {
	q := newDualQuaternion()
	q.SetTranslation(point)
	return q
}

// NewPoseFromOrientation takes in an orientation and returns a Pose at the origin.
func NewPoseFromOrientation(o Orientation) Pose {
	return newDualQuaternionFromRotation(o)
}

// Compose treats Poses as functions A(x) and B(x), and produces a new function
// C(x) = A(B(x)). It converts the poses to dual quaternions and multiplies
// them together, normalizing the result.
func Compose(a, b Pose) Pose {
	result := &dualQuaternion{newDualQuaternionFromPose(a).Transformation(newDualQuaternionFromPose(b).Number)}

	// Normalization is done to prevent errors from accumulating.
	if vecLen := quat.Abs(result.Real); vecLen != 1 {
		result.Real = quat.Scale(1/vecLen, result.Real)
	}
	return result
}

// PoseInverse will return the inverse of a pose. So if a given pose p is the
// pose of A relative to B, PoseInverse(p) will give the pose of B relative to A.
func PoseInverse(p Pose) Pose {
	q := newDualQuaternionFromPose(p)
	return &dualQuaternion{dualquat.ConjQuat(q.Number)}
}

// PoseBetween returns the difference between two dualQuaternions, that is, the
// transform from a to b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// PoseDelta returns the difference between two poses as a six-element vector:
// the translation delta and the R3 axis angle rotation delta.
func PoseDelta(a, b Pose) []float64 {
	ret := make([]float64, 6)

	quatBetween := quat.Mul(b.Orientation().Quaternion(), quat.Conj(a.Orientation().Quaternion()))
	aa := QuatToR4AA(quatBetween)

	pa := a.Point()
	pb := b.Point()
	ret[0] = pb.X - pa.X
	ret[1] = pb.Y - pa.Y
	ret[2] = pb.Z - pa.Z
	ret[3] = aa.RX * aa.Theta
	ret[4] = aa.RY * aa.Theta
	ret[5] = aa.RZ * aa.Theta
	return ret
}

// TransformPoint applies a rigid transformation to a 3D point.
func TransformPoint(p Pose, pt r3.Vector) r3.Vector {
	return newDualQuaternionFromPose(p).transformPoint(pt)
}

// Interpolate will return a new pose that is the given proportion of the way
// from p1 to p2. Position is interpolated linearly and orientation via
// quaternion slerp.
func Interpolate(p1, p2 Pose, by float64) Pose {
	pt1 := p1.Point()
	pt2 := p2.Point()
	pt := r3.Vector{
		X: pt1.X + (pt2.X-pt1.X)*by,
		Y: pt1.Y + (pt2.Y-pt1.Y)*by,
		Z: pt1.Z + (pt2.Z-pt1.Z)*by,
	}
	return NewPose(pt, NewOrientationFromQuaternion(slerp(p1.Orientation().Quaternion(), p2.Orientation().Quaternion(), by)))
}

// PoseAlmostEqual will return a bool describing whether 2 poses are approximately the same.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-6)
}

// PoseAlmostEqualEps will return a bool describing whether 2 poses are
// approximately the same, with a configurable tolerance.
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	return a.Point().Sub(b.Point()).Norm() < epsilon && OrientationAlmostEqual(a.Orientation(), b.Orientation())
}

func slerp(q1, q2 quat.Number, by float64) quat.Number {
	dot := q1.Real*q2.Real + q1.Imag*q2.Imag + q1.Jmag*q2.Jmag + q1.Kmag*q2.Kmag
	// take the shorter path around the sphere
	if dot < 0 {
		q2 = Flip(q2)
		dot = -dot
	}
	if dot > 1-1e-9 {
		// nearly parallel; fall back to lerp
		lerped := quat.Add(quat.Scale(1-by, q1), quat.Scale(by, q2))
		return Normalize(lerped)
	}
	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	w1 := math.Sin((1-by)*theta) / sinTheta
	w2 := math.Sin(by*theta) / sinTheta
	return quat.Add(quat.Scale(w1, q1), quat.Scale(w2, q2))
}
