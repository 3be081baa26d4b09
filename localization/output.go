package localization

import (
	"github.com/edaniels/golog"

	"github.com/mobilerobotics/lidarloc/pointcloud"
	"github.com/mobilerobotics/lidarloc/transform"
)

// Output receives the localizer's published artifacts. Implementations must
// not call back into the localizer; they are invoked with its lock held.
type Output interface {
	PublishPose(p PoseWithCovariance)
	PublishPath(path []PoseStamped)
	PublishMap(frame string, cloud pointcloud.PointCloud)
	PublishTransform(st transform.Stamped)
}

// NewLogOutput returns an Output that logs a line per publication, for
// running without a downstream consumer.
func NewLogOutput(logger golog.Logger) Output {
	return &logOutput{logger: logger}
}

type logOutput struct {
	logger golog.Logger
}

func (o *logOutput) PublishPose(p PoseWithCovariance) {
	pt := p.Pose.Point()
	e := p.Pose.Orientation().EulerAngles()
	o.logger.Infow("pose",
		"frame", p.Frame,
		"x", pt.X, "y", pt.Y, "z", pt.Z,
		"roll", e.Roll, "pitch", e.Pitch, "yaw", e.Yaw,
	)
}

func (o *logOutput) PublishPath(path []PoseStamped) {
	o.logger.Debugw("path", "len", len(path))
}

func (o *logOutput) PublishMap(frame string, cloud pointcloud.PointCloud) {
	o.logger.Infow("map", "frame", frame, "points", cloud.Size())
}

func (o *logOutput) PublishTransform(st transform.Stamped) {
	pt := st.Pose.Point()
	o.logger.Debugw("transform",
		"parent", st.Parent, "child", st.Child,
		"x", pt.X, "y", pt.Y, "z", pt.Z,
	)
}
