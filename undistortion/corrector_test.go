package undistortion

import (
	"math"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/mobilerobotics/lidarloc/pointcloud"
)

func scanOf(t *testing.T, pts ...r3.Vector) pointcloud.PointCloud {
	t.Helper()
	pc := pointcloud.New()
	for _, p := range pts {
		test.That(t, pc.Set(p, pointcloud.NewBasicData()), test.ShouldBeNil)
	}
	return pc
}

func TestUndistortNoSamples(t *testing.T) {
	c := NewCorrector(100*time.Millisecond, golog.NewTestLogger(t))
	pc := scanOf(t, r3.Vector{X: 1}, r3.Vector{Y: 1})
	test.That(t, c.Undistort(pc, time.Unix(0, 0)), test.ShouldEqual, pc)
}

func TestUndistortZeroRate(t *testing.T) {
	c := NewCorrector(100*time.Millisecond, golog.NewTestLogger(t))
	c.RecordInertialSample(InertialSample{Time: time.Unix(0, 0)})
	pc := scanOf(t, r3.Vector{X: 1}, r3.Vector{Y: 1})
	test.That(t, c.Undistort(pc, time.Unix(0, 0)), test.ShouldEqual, pc)
}

func TestUndistortConstantYawRate(t *testing.T) {
	c := NewCorrector(100*time.Millisecond, golog.NewTestLogger(t))
	rate := math.Pi / 2
	c.RecordInertialSample(InertialSample{
		AngularVelocity: r3.Vector{Z: rate},
		Time:            time.Unix(0, 0),
	})

	ref := time.Unix(1, 0)
	pc := scanOf(t, r3.Vector{X: 1}, r3.Vector{X: 1, Z: 0.5})
	out := c.Undistort(pc, ref)
	test.That(t, out.Size(), test.ShouldEqual, 2)

	pts := pointcloud.VectorsFromCloud(out)
	// first point is at the reference time and stays put
	test.That(t, pts[0].X, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, pts[0].Y, test.ShouldAlmostEqual, 0, 1e-9)

	// second point is halfway through the sweep, rotated back by rate*dt
	theta := rate * 0.05
	test.That(t, pts[1].X, test.ShouldAlmostEqual, math.Cos(theta), 1e-9)
	test.That(t, pts[1].Y, test.ShouldAlmostEqual, -math.Sin(theta), 1e-9)
	test.That(t, pts[1].Z, test.ShouldAlmostEqual, 0.5, 1e-9)
}

func TestRotationOver(t *testing.T) {
	c := NewCorrector(100*time.Millisecond, golog.NewTestLogger(t))
	c.RecordInertialSample(InertialSample{
		AngularVelocity: r3.Vector{Z: math.Pi},
		Time:            time.Unix(0, 0),
	})

	o := c.RotationOver(time.Unix(1, 0), time.Unix(1, 500_000_000))
	test.That(t, o.EulerAngles().Yaw, test.ShouldAlmostEqual, math.Pi/2, 1e-9)
}

func TestSampleRetention(t *testing.T) {
	c := NewCorrector(100*time.Millisecond, golog.NewTestLogger(t))
	for i := 0; i < 50; i++ {
		c.RecordInertialSample(InertialSample{
			AngularVelocity: r3.Vector{Z: float64(i)},
			Time:            time.Unix(int64(i), 0),
		})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	test.That(t, len(c.samples), test.ShouldBeLessThanOrEqualTo, 2)
}
