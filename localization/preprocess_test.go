package localization

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/mobilerobotics/lidarloc/pointcloud"
)

func TestRangeFilter(t *testing.T) {
	pc := pointcloud.New()
	pts := []r3.Vector{
		{X: 0.2},           // under min
		{X: 3, Y: 4},       // r = 5, kept
		{X: 0, Y: 2, Z: 9}, // z does not count toward planar range
		{X: 80, Y: 80},     // r > 100
	}
	for _, p := range pts {
		test.That(t, pc.Set(p, pointcloud.NewBasicData()), test.ShouldBeNil)
	}

	got := rangeFilter(pc, 1, 100)
	test.That(t, got.Size(), test.ShouldEqual, 2)
	_, ok := got.At(3, 4, 0)
	test.That(t, ok, test.ShouldBeTrue)
	_, ok = got.At(0, 2, 9)
	test.That(t, ok, test.ShouldBeTrue)
}

func TestRangeFilterIdempotent(t *testing.T) {
	pc := pointcloud.New()
	for i := 0; i < 30; i++ {
		p := r3.Vector{X: float64(i) * 0.5, Y: float64(i%7) * 1.3, Z: float64(i % 3)}
		test.That(t, pc.Set(p, pointcloud.NewIntensityData(float64(i))), test.ShouldBeNil)
	}

	once := rangeFilter(pc, 1, 10)
	twice := rangeFilter(once, 1, 10)
	test.That(t, twice.Size(), test.ShouldEqual, once.Size())
	test.That(t, pointcloud.VectorsFromCloud(twice), test.ShouldResemble, pointcloud.VectorsFromCloud(once))
}

func TestRangeFilterBoundsExclusive(t *testing.T) {
	pc := pointcloud.New()
	test.That(t, pc.Set(r3.Vector{X: 1}, pointcloud.NewBasicData()), test.ShouldBeNil)
	test.That(t, pc.Set(r3.Vector{X: 100}, pointcloud.NewBasicData()), test.ShouldBeNil)
	test.That(t, rangeFilter(pc, 1, 100).Size(), test.ShouldEqual, 0)
}
