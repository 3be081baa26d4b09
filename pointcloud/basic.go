package pointcloud

import (
	"github.com/golang/geo/r3"
)

// basicPointCloud is the basic implementation of the PointCloud interface
// backed by a slice of points with a map index keyed by position.
type basicPointCloud struct {
	points   []PointAndData
	indexMap map[r3.Vector]uint
	meta     MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points:   make([]PointAndData, 0, size),
		indexMap: make(map[r3.Vector]uint, size),
		meta:     NewMetaData(),
	}
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) At(x, y, z float64) (Data, bool) {
	idx, found := cloud.indexMap[r3.Vector{X: x, Y: y, Z: z}]
	if !found {
		return nil, false
	}
	return cloud.points[idx].D, true
}

// Set sets a point in the cloud, overwriting the data of a duplicate position.
func (cloud *basicPointCloud) Set(p r3.Vector, d Data) error {
	if idx, found := cloud.indexMap[p]; found {
		cloud.points[idx].D = d
		return nil
	}
	cloud.indexMap[p] = uint(len(cloud.points))
	cloud.points = append(cloud.points, PointAndData{P: p, D: d})
	cloud.meta.Merge(p, d)
	return nil
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	if numBatches <= 0 {
		for _, pp := range cloud.points {
			if !fn(pp.P, pp.D) {
				return
			}
		}
		return
	}

	batchSize := (len(cloud.points) + numBatches - 1) / numBatches
	start := myBatch * batchSize
	end := start + batchSize
	if end > len(cloud.points) {
		end = len(cloud.points)
	}
	if start >= end {
		return
	}
	for _, pp := range cloud.points[start:end] {
		if !fn(pp.P, pp.D) {
			return
		}
	}
}
