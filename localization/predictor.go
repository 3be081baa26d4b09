package localization

import (
	"github.com/golang/geo/r3"

	"github.com/mobilerobotics/lidarloc/spatialmath"
	"github.com/mobilerobotics/lidarloc/undistortion"
)

// samples further apart than this come from a stale or garbled clock
const maxOdomGap = 1.0

// HandleOdometry dead-reckons the pose estimate forward from a velocity
// sample. No-op when odometry use is disabled. Samples with a negative or
// oversized time step are discarded, leaving the pose untouched.
func (l *Localizer) HandleOdometry(o Odometry) {
	if !l.cfg.UseOdom {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastOdomTime.IsZero() {
		l.lastOdomTime = o.Time
		return
	}
	dt := o.Time.Sub(l.lastOdomTime).Seconds()
	l.lastOdomTime = o.Time
	if dt > maxOdomGap {
		l.logger.Warnw("odometry time interval too large", "dt", dt)
		return
	}
	if dt < 0 {
		l.logger.Warnw("odometry time interval is negative", "dt", dt)
		return
	}

	l.pose.Pose = integrate(l.pose.Pose, o.LinearVelocity, o.AngularVelocity, dt)
	l.pose.Time = o.Time
}

// integrate advances a pose by one velocity sample: Euler-integrate the
// body angular rate in roll/pitch/yaw, then move the position by the
// body-frame linear velocity rotated into the global frame. An
// approximation that holds for small dt, not an exact exponential map.
func integrate(p spatialmath.Pose, linear, angular r3.Vector, dt float64) spatialmath.Pose {
	e := p.Orientation().EulerAngles()
	next := &spatialmath.EulerAngles{
		Roll:  e.Roll + angular.X*dt,
		Pitch: e.Pitch + angular.Y*dt,
		Yaw:   e.Yaw + angular.Z*dt,
	}
	rot := spatialmath.NewPoseFromOrientation(next)
	dp := spatialmath.TransformPoint(rot, linear.Mul(dt))
	return spatialmath.NewPose(p.Point().Add(dp), next)
}

// HandleIMU rotates an inertial sample into the body frame and buffers it
// for scan undistortion. No-op when inertial use is disabled; a failed
// frame lookup drops the sample.
func (l *Localizer) HandleIMU(s IMUSample) {
	if !l.cfg.UseIMU {
		return
	}
	ang, acc := s.AngularVelocity, s.LinearAcceleration
	if s.Frame != "" && s.Frame != l.cfg.BaseFrame {
		p, err := l.tf.LookupLatest(l.cfg.BaseFrame, s.Frame)
		if err != nil {
			l.logger.Warnw("failed to transform imu sample into body frame", "frame", s.Frame, "error", err)
			return
		}
		rot := spatialmath.NewPoseFromOrientation(p.Orientation())
		ang = spatialmath.TransformPoint(rot, ang)
		acc = spatialmath.TransformPoint(rot, acc)
	}
	l.corrector.RecordInertialSample(undistortion.InertialSample{
		AngularVelocity:    ang,
		LinearAcceleration: acc,
		Time:               s.Time,
	})
}
