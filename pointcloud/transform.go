package pointcloud

import (
	"github.com/golang/geo/r3"

	"github.com/mobilerobotics/lidarloc/spatialmath"
)

// Transformed returns a new cloud with every point moved by the given rigid
// transformation. Point data is shared with the input cloud.
func Transformed(cloud PointCloud, pose spatialmath.Pose) PointCloud {
	out := NewWithPrealloc(cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		//nolint:errcheck
		out.Set(spatialmath.TransformPoint(pose, p), d)
		return true
	})
	return out
}
