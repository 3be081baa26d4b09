// Package localization estimates a platform's pose within a known reference
// map by registering incoming lidar scans against it, with dead-reckoning
// prediction from odometry between scans and optional IMU-based scan
// undistortion.
package localization

import (
	"time"

	"github.com/golang/geo/r3"

	"github.com/mobilerobotics/lidarloc/pointcloud"
	"github.com/mobilerobotics/lidarloc/spatialmath"
)

// Scan is one lidar sweep in the sensor's own frame.
type Scan struct {
	Frame string
	Time  time.Time
	Cloud pointcloud.PointCloud
}

// Odometry is a dead-reckoning velocity sample. Velocities are expressed in
// the body frame.
type Odometry struct {
	Frame           string
	ChildFrame      string
	Time            time.Time
	LinearVelocity  r3.Vector
	AngularVelocity r3.Vector
}

// IMUSample is one inertial reading in the IMU's own frame.
type IMUSample struct {
	Frame              string
	Time               time.Time
	AngularVelocity    r3.Vector
	LinearAcceleration r3.Vector
	Orientation        spatialmath.Orientation
}

// PoseStamped is a pose tagged with the frame it is expressed in.
type PoseStamped struct {
	Frame string
	Time  time.Time
	Pose  spatialmath.Pose
}

// PoseWithCovariance carries a 6x6 row-major covariance block alongside the
// pose. The covariance is not computed here, only carried through from the
// seeding message.
type PoseWithCovariance struct {
	PoseStamped
	Covariance [36]float64
}
