package pointcloud

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestBasicPointCloud(t *testing.T) {
	pc := New()
	test.That(t, pc.Size(), test.ShouldEqual, 0)

	p0 := NewVector(1, 2, 3)
	test.That(t, pc.Set(p0, NewIntensityData(5)), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 1)

	d, got := pc.At(1, 2, 3)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d.Intensity(), test.ShouldEqual, 5)

	_, got = pc.At(1, 2, 4)
	test.That(t, got, test.ShouldBeFalse)

	// setting a duplicate position replaces data without growing the cloud
	test.That(t, pc.Set(p0, NewIntensityData(7)), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 1)
	d, _ = pc.At(1, 2, 3)
	test.That(t, d.Intensity(), test.ShouldEqual, 7)
}

func TestMetaData(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(NewVector(-1, 5, 2), NewBasicData()), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(3, -7, 0), NewBasicData()), test.ShouldBeNil)

	meta := pc.MetaData()
	test.That(t, meta.MinX, test.ShouldEqual, -1)
	test.That(t, meta.MaxX, test.ShouldEqual, 3)
	test.That(t, meta.MinY, test.ShouldEqual, -7)
	test.That(t, meta.MaxY, test.ShouldEqual, 5)
	test.That(t, meta.MinZ, test.ShouldEqual, 0)
	test.That(t, meta.MaxZ, test.ShouldEqual, 2)
	test.That(t, meta.HasIntensity, test.ShouldBeFalse)

	center := meta.Center(pc.Size())
	test.That(t, center, test.ShouldResemble, r3.Vector{X: 1, Y: -1, Z: 1})
}

func TestIterateOrderAndBatches(t *testing.T) {
	pc := New()
	pts := []r3.Vector{{X: 3}, {X: 1}, {X: 2}, {X: 5}, {X: 4}}
	for _, p := range pts {
		test.That(t, pc.Set(p, NewBasicData()), test.ShouldBeNil)
	}

	// iteration preserves insertion order
	var seen []r3.Vector
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		seen = append(seen, p)
		return true
	})
	test.That(t, seen, test.ShouldResemble, pts)

	// batched iteration visits each point exactly once
	counts := map[r3.Vector]int{}
	for batch := 0; batch < 3; batch++ {
		pc.Iterate(3, batch, func(p r3.Vector, d Data) bool {
			counts[p]++
			return true
		})
	}
	test.That(t, len(counts), test.ShouldEqual, len(pts))
	for _, c := range counts {
		test.That(t, c, test.ShouldEqual, 1)
	}
}
