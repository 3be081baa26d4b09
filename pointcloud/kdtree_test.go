package pointcloud

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestKDTreeNearestNeighbor(t *testing.T) {
	pc := New()
	pts := []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 2, Z: 0},
		{X: 4, Y: 4, Z: 4},
	}
	for _, p := range pts {
		test.That(t, pc.Set(p, NewBasicData()), test.ShouldBeNil)
	}

	kd := ToKDTree(pc)

	nn, dist, ok := kd.NearestNeighbor(r3.Vector{X: 0.9, Y: 0.1, Z: 0})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, nn, test.ShouldResemble, r3.Vector{X: 1, Y: 0, Z: 0})
	test.That(t, dist, test.ShouldAlmostEqual, 0.01+0.01, 1e-9)

	nn, dist, ok = kd.NearestNeighbor(r3.Vector{X: 4, Y: 4, Z: 4})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, nn, test.ShouldResemble, r3.Vector{X: 4, Y: 4, Z: 4})
	test.That(t, dist, test.ShouldEqual, 0)
}

func TestKDTreeEmpty(t *testing.T) {
	kd := ToKDTree(New())
	_, _, ok := kd.NearestNeighbor(r3.Vector{X: 1})
	test.That(t, ok, test.ShouldBeFalse)
}
