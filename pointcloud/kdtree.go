package pointcloud

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// kdVec adapts an r3.Vector to the gonum kd-tree Comparable interface.
// Distances are squared Euclidean.
type kdVec r3.Vector

func (v kdVec) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(kdVec)
	switch d {
	case 0:
		return v.X - q.X
	case 1:
		return v.Y - q.Y
	default:
		return v.Z - q.Z
	}
}

func (v kdVec) Dims() int { return 3 }

func (v kdVec) Distance(c kdtree.Comparable) float64 {
	q := c.(kdVec)
	dx := v.X - q.X
	dy := v.Y - q.Y
	dz := v.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

type kdVecs []kdVec

func (p kdVecs) Index(i int) kdtree.Comparable         { return p[i] }
func (p kdVecs) Len() int                              { return len(p) }
func (p kdVecs) Pivot(d kdtree.Dim) int                { return kdPlane{Dim: d, kdVecs: p}.Pivot() }
func (p kdVecs) Slice(start, end int) kdtree.Interface { return p[start:end] }

type kdPlane struct {
	kdtree.Dim
	kdVecs
}

func (p kdPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.kdVecs[i].X < p.kdVecs[j].X
	case 1:
		return p.kdVecs[i].Y < p.kdVecs[j].Y
	default:
		return p.kdVecs[i].Z < p.kdVecs[j].Z
	}
}

func (p kdPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.kdVecs = p.kdVecs[start:end]
	return p
}

func (p kdPlane) Swap(i, j int) {
	p.kdVecs[i], p.kdVecs[j] = p.kdVecs[j], p.kdVecs[i]
}

// KDTree extends a PointCloud with nearest-neighbor queries backed by a
// gonum kd-tree. It is built once from a cloud and is immutable thereafter.
type KDTree struct {
	PointCloud
	tree *kdtree.Tree
}

// ToKDTree creates a KDTree from a PointCloud.
func ToKDTree(pc PointCloud) *KDTree {
	vecs := make(kdVecs, 0, pc.Size())
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		vecs = append(vecs, kdVec(p))
		return true
	})
	return &KDTree{
		PointCloud: pc,
		tree:       kdtree.New(vecs, false),
	}
}

// NearestNeighbor returns the nearest point in the tree to the given point,
// along with its squared Euclidean distance. The boolean is false for an
// empty tree.
func (kd *KDTree) NearestNeighbor(p r3.Vector) (r3.Vector, float64, bool) {
	if kd.Size() == 0 {
		return r3.Vector{}, 0, false
	}
	c, dist := kd.tree.Nearest(kdVec(p))
	if c == nil {
		return r3.Vector{}, 0, false
	}
	return r3.Vector(c.(kdVec)), dist, true
}
