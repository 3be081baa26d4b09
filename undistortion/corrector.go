// Package undistortion compensates for platform rotation during a single
// lidar sweep. Points captured late in the sweep are expressed in a body
// frame that has rotated since the scan's reference time; the corrector
// rotates each point back into the frame at the reference time using
// recorded gyroscope samples.
package undistortion

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/mobilerobotics/lidarloc/pointcloud"
	"github.com/mobilerobotics/lidarloc/spatialmath"
)

// how long inertial samples are retained
const sampleRetention = time.Second

// InertialSample is one IMU reading. Angular velocity is in rad/s in the
// body frame; linear acceleration is recorded but not used for deskew.
type InertialSample struct {
	AngularVelocity    r3.Vector
	LinearAcceleration r3.Vector
	Time               time.Time
}

// Corrector accumulates inertial samples and undistorts scans against them.
// Safe for use from multiple goroutines.
type Corrector struct {
	mu         sync.Mutex
	samples    []InertialSample
	scanPeriod time.Duration
	logger     golog.Logger
}

// NewCorrector returns a corrector for a sensor with the given sweep period.
func NewCorrector(scanPeriod time.Duration, logger golog.Logger) *Corrector {
	return &Corrector{scanPeriod: scanPeriod, logger: logger}
}

// RecordInertialSample adds an IMU reading to the history. Samples older
// than the retention window are dropped.
func (c *Corrector) RecordInertialSample(s InertialSample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.samples); n > 0 && s.Time.Before(c.samples[n-1].Time) {
		i := sort.Search(n, func(i int) bool { return c.samples[i].Time.After(s.Time) })
		c.samples = append(c.samples, InertialSample{})
		copy(c.samples[i+1:], c.samples[i:])
		c.samples[i] = s
	} else {
		c.samples = append(c.samples, s)
	}

	cutoff := s.Time.Add(-sampleRetention)
	for len(c.samples) > 1 && c.samples[0].Time.Before(cutoff) {
		c.samples = c.samples[1:]
	}
}

// Undistort returns a copy of cloud with each point rotated back to the
// body frame at refTime, the start of the sweep. Points are assumed to be
// stored in capture order, evenly spread over the scan period. With no
// usable samples, or negligible rotation, the input is returned unchanged.
func (c *Corrector) Undistort(cloud pointcloud.PointCloud, refTime time.Time) pointcloud.PointCloud {
	if cloud.Size() == 0 {
		return cloud
	}
	omega, ok := c.meanAngularVelocity(refTime, refTime.Add(c.scanPeriod))
	if !ok {
		return cloud
	}
	rate := omega.Norm()
	if rate*c.scanPeriod.Seconds() < 1e-9 {
		return cloud
	}
	axis := omega.Mul(1 / rate)

	out := pointcloud.NewWithPrealloc(cloud.Size())
	n := float64(cloud.Size())
	i := 0
	cloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		dt := (float64(i) / n) * c.scanPeriod.Seconds()
		i++
		// undo the body rotation accumulated since the reference time
		aa := spatialmath.R4AA{Theta: -rate * dt, RX: axis.X, RY: axis.Y, RZ: axis.Z}
		rot := spatialmath.NewPoseFromOrientation(&aa)
		if err := out.Set(spatialmath.TransformPoint(rot, p), d); err != nil {
			return false
		}
		return true
	})
	return out
}

// meanAngularVelocity time-averages the recorded angular velocity over
// [from, to], holding each sample until the next one arrives. Reports false
// when no sample at or before the window exists.
func (c *Corrector) meanAngularVelocity(from, to time.Time) (r3.Vector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.samples) == 0 {
		return r3.Vector{}, false
	}
	span := to.Sub(from).Seconds()
	if span <= 0 {
		return c.sampleAtLocked(from), true
	}

	var sum r3.Vector
	t := from
	for t.Before(to) {
		next := to
		for _, s := range c.samples {
			if s.Time.After(t) && s.Time.Before(to) {
				next = s.Time
				break
			}
		}
		w := next.Sub(t).Seconds()
		sum = sum.Add(c.sampleAtLocked(t).Mul(w))
		t = next
	}
	return sum.Mul(1 / span), true
}

// sampleAtLocked returns the angular velocity in effect at t, i.e. the most
// recent sample at or before t, falling back to the earliest sample.
func (c *Corrector) sampleAtLocked(t time.Time) r3.Vector {
	i := sort.Search(len(c.samples), func(i int) bool { return c.samples[i].Time.After(t) })
	if i == 0 {
		return c.samples[0].AngularVelocity
	}
	return c.samples[i-1].AngularVelocity
}

// RotationOver integrates the recorded angular velocity over the window and
// returns the resulting orientation change of the body frame. Used for
// debug reporting of how much the platform turned during a sweep.
func (c *Corrector) RotationOver(from, to time.Time) spatialmath.Orientation {
	omega, ok := c.meanAngularVelocity(from, to)
	if !ok {
		return spatialmath.NewZeroOrientation()
	}
	dt := to.Sub(from).Seconds()
	rate := omega.Norm()
	if rate*math.Abs(dt) < 1e-12 {
		return spatialmath.NewZeroOrientation()
	}
	axis := omega.Mul(1 / rate)
	aa := spatialmath.R4AA{Theta: rate * dt, RX: axis.X, RY: axis.Y, RZ: axis.Z}
	return &aa
}
