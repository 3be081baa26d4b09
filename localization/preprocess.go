package localization

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/mobilerobotics/lidarloc/pointcloud"
)

// prepareLocked turns a raw scan into the source cloud for registration:
// body-frame alignment, optional undistortion, voxel downsample, then the
// planar range gate.
func (l *Localizer) prepareLocked(ctx context.Context, scan Scan) (pointcloud.PointCloud, error) {
	cloud := scan.Cloud
	if scan.Frame != "" && scan.Frame != l.cfg.BaseFrame {
		p, err := l.tf.Lookup(ctx, l.cfg.BaseFrame, scan.Frame, scan.Time, lookupTimeout)
		if err != nil {
			return nil, errors.Wrapf(err, "transforming scan from %q to %q", scan.Frame, l.cfg.BaseFrame)
		}
		cloud = pointcloud.Transformed(cloud, p)
	}

	if l.cfg.UseIMU {
		cloud = l.corrector.Undistort(cloud, scan.Time)
	}

	cloud = pointcloud.VoxelDownsample(cloud, l.cfg.VoxelLeafSize)
	return rangeFilter(cloud, l.cfg.ScanMinRange, l.cfg.ScanMaxRange), nil
}

// rangeFilter keeps points whose planar distance from the body origin lies
// strictly inside (min, max). Near points are self-returns off the
// platform; far points are mostly noise.
func rangeFilter(cloud pointcloud.PointCloud, minRange, maxRange float64) pointcloud.PointCloud {
	out := pointcloud.New()
	cloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		r := math.Hypot(p.X, p.Y)
		if minRange < r && r < maxRange {
			if err := out.Set(p, d); err != nil {
				return false
			}
		}
		return true
	})
	return out
}
