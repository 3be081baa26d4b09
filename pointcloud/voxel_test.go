package pointcloud

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func makeGrid(t *testing.T, n int, spacing float64) PointCloud {
	t.Helper()
	pc := New()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p := r3.Vector{X: float64(i) * spacing, Y: float64(j) * spacing}
			test.That(t, pc.Set(p, NewIntensityData(100)), test.ShouldBeNil)
		}
	}
	return pc
}

func TestVoxelDownsampleNeverGrows(t *testing.T) {
	pc := makeGrid(t, 10, 0.1)
	for _, leaf := range []float64{0.05, 0.1, 0.25, 1.0, 10.0} {
		out := VoxelDownsample(pc, leaf)
		test.That(t, out.Size(), test.ShouldBeLessThanOrEqualTo, pc.Size())
	}

	// a leaf larger than the whole cloud collapses it to a single point
	out := VoxelDownsample(pc, 100)
	test.That(t, out.Size(), test.ShouldEqual, 1)
}

func TestVoxelDownsampleDeterministic(t *testing.T) {
	pc := makeGrid(t, 12, 0.07)
	a := VoxelDownsample(pc, 0.2)
	b := VoxelDownsample(pc, 0.2)
	test.That(t, a.Size(), test.ShouldEqual, b.Size())

	test.That(t, VectorsFromCloud(a), test.ShouldResemble, VectorsFromCloud(b))
}

func TestVoxelDownsampleCentroid(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(r3.Vector{X: 0.1}, NewIntensityData(10)), test.ShouldBeNil)
	test.That(t, pc.Set(r3.Vector{X: 0.3}, NewIntensityData(30)), test.ShouldBeNil)

	out := VoxelDownsample(pc, 1.0)
	test.That(t, out.Size(), test.ShouldEqual, 1)
	pts := VectorsFromCloud(out)
	test.That(t, pts[0].X, test.ShouldAlmostEqual, 0.2, 1e-9)
	d, ok := out.At(pts[0].X, pts[0].Y, pts[0].Z)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.Intensity(), test.ShouldAlmostEqual, 20, 1e-9)
}

func TestVoxelDownsampleNonPositiveLeaf(t *testing.T) {
	pc := makeGrid(t, 3, 1)
	test.That(t, VoxelDownsample(pc, 0), test.ShouldEqual, pc)
	test.That(t, VoxelDownsample(pc, -1), test.ShouldEqual, pc)
}
