package localization

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mobilerobotics/lidarloc/spatialmath"
	"github.com/mobilerobotics/lidarloc/transform"
)

// composeLocked publishes the reference-frame transform for the corrected
// pose. Direct mode publishes global→body. Odometry-absorbing mode instead
// publishes global→odom so dead-reckoning drift lands in the intermediate
// frame; the odom→body leg stays with the odometry source. A failed
// odom→body lookup aborts this scan's publication; the pose estimate
// itself has already been updated.
func (l *Localizer) composeLocked(ctx context.Context, at time.Time) error {
	mapToBase := l.pose.Pose
	if !l.cfg.PublishOdomTF {
		l.out.PublishTransform(transform.Stamped{
			Parent: l.cfg.GlobalFrame,
			Child:  l.cfg.BaseFrame,
			Time:   at,
			Pose:   mapToBase,
		})
		return nil
	}

	odomToBase, err := l.tf.Lookup(ctx, l.cfg.OdomFrame, l.cfg.BaseFrame, at, lookupTimeout)
	if err != nil {
		return errors.Wrapf(err, "looking up %q to %q", l.cfg.OdomFrame, l.cfg.BaseFrame)
	}
	mapToOdom := spatialmath.Compose(mapToBase, spatialmath.PoseInverse(odomToBase))
	l.out.PublishTransform(transform.Stamped{
		Parent: l.cfg.GlobalFrame,
		Child:  l.cfg.OdomFrame,
		Time:   at,
		Pose:   mapToOdom,
	})
	return nil
}
