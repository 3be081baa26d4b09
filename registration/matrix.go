package registration

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// rotationMatrixToQuat converts a proper 3x3 rotation matrix to a unit
// quaternion, branching on the largest diagonal term for stability.
func rotationMatrixToQuat(r *mat.Dense) quat.Number {
	tr := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		return quat.Number{
			Real: s / 4,
			Imag: (r.At(2, 1) - r.At(1, 2)) / s,
			Jmag: (r.At(0, 2) - r.At(2, 0)) / s,
			Kmag: (r.At(1, 0) - r.At(0, 1)) / s,
		}
	case r.At(0, 0) > r.At(1, 1) && r.At(0, 0) > r.At(2, 2):
		s := math.Sqrt(1+r.At(0, 0)-r.At(1, 1)-r.At(2, 2)) * 2
		return quat.Number{
			Real: (r.At(2, 1) - r.At(1, 2)) / s,
			Imag: s / 4,
			Jmag: (r.At(0, 1) + r.At(1, 0)) / s,
			Kmag: (r.At(0, 2) + r.At(2, 0)) / s,
		}
	case r.At(1, 1) > r.At(2, 2):
		s := math.Sqrt(1+r.At(1, 1)-r.At(0, 0)-r.At(2, 2)) * 2
		return quat.Number{
			Real: (r.At(0, 2) - r.At(2, 0)) / s,
			Imag: (r.At(0, 1) + r.At(1, 0)) / s,
			Jmag: s / 4,
			Kmag: (r.At(1, 2) + r.At(2, 1)) / s,
		}
	default:
		s := math.Sqrt(1+r.At(2, 2)-r.At(0, 0)-r.At(1, 1)) * 2
		return quat.Number{
			Real: (r.At(1, 0) - r.At(0, 1)) / s,
			Imag: (r.At(0, 2) + r.At(2, 0)) / s,
			Jmag: (r.At(1, 2) + r.At(2, 1)) / s,
			Kmag: s / 4,
		}
	}
}
