package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// VoxelCoords stores voxel coordinates in voxel grid axes.
type VoxelCoords struct {
	I, J, K int64
}

// IsEqual tests if two VoxelCoords are the same.
func (c VoxelCoords) IsEqual(c2 VoxelCoords) bool {
	return c.I == c2.I && c.J == c2.J && c.K == c2.K
}

// GetVoxelCoordinates computes voxel coordinates of a point in the grid
// anchored at ptMin with the given voxel size.
func GetVoxelCoordinates(pt, ptMin r3.Vector, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor((pt.X - ptMin.X) / voxelSize)),
		J: int64(math.Floor((pt.Y - ptMin.Y) / voxelSize)),
		K: int64(math.Floor((pt.Z - ptMin.Z) / voxelSize)),
	}
}

type voxelAccum struct {
	sum          r3.Vector
	intensitySum float64
	hasIntensity bool
	n            int
	firstSeen    int
}

// VoxelDownsample reduces a cloud to one representative point per occupied
// voxel of the given leaf size: the centroid of the voxel's points, carrying
// their mean intensity. The reduction is deterministic for a fixed input and
// leaf size, and never increases the point count. A non-positive leaf size
// returns the input unchanged.
func VoxelDownsample(cloud PointCloud, leafSize float64) PointCloud {
	if leafSize <= 0 || cloud.Size() == 0 {
		return cloud
	}

	meta := cloud.MetaData()
	ptMin := r3.Vector{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ}

	accums := make(map[VoxelCoords]*voxelAccum)
	order := 0
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		coords := GetVoxelCoordinates(p, ptMin, leafSize)
		acc, ok := accums[coords]
		if !ok {
			acc = &voxelAccum{firstSeen: order}
			accums[coords] = acc
		}
		acc.sum = acc.sum.Add(p)
		if d != nil && d.HasIntensity() {
			acc.intensitySum += d.Intensity()
			acc.hasIntensity = true
		}
		acc.n++
		order++
		return true
	})

	// emit centroids in first-seen order so the output is independent of map
	// iteration order
	ordered := make([]*voxelAccum, 0, len(accums))
	for _, acc := range accums {
		ordered = append(ordered, acc)
	}
	sortVoxelAccums(ordered)

	out := NewWithPrealloc(len(ordered))
	for _, acc := range ordered {
		centroid := acc.sum.Mul(1 / float64(acc.n))
		var d Data
		if acc.hasIntensity {
			d = NewIntensityData(acc.intensitySum / float64(acc.n))
		} else {
			d = NewBasicData()
		}
		// the centroid of a voxel cannot collide with another voxel's centroid
		//nolint:errcheck
		out.Set(centroid, d)
	}
	return out
}

func sortVoxelAccums(accums []*voxelAccum) {
	sort.Slice(accums, func(i, j int) bool {
		return accums[i].firstSeen < accums[j].firstSeen
	})
}
