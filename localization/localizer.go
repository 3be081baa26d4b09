package localization

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/mobilerobotics/lidarloc/pointcloud"
	"github.com/mobilerobotics/lidarloc/registration"
	"github.com/mobilerobotics/lidarloc/spatialmath"
	"github.com/mobilerobotics/lidarloc/transform"
	"github.com/mobilerobotics/lidarloc/undistortion"
)

// wait budget for transform directory lookups
const lookupTimeout = 100 * time.Millisecond

// Localizer is the per-scan pose estimation pipeline. All event handlers
// are safe to call from independent goroutines; pose and path mutation is
// serialized by a single mutex.
type Localizer struct {
	cfg       Config
	logger    golog.Logger
	matcher   registration.Matcher
	tf        *transform.Buffer
	corrector *undistortion.Corrector
	out       Output
	clock     clock.Clock

	mu           sync.Mutex
	mapReceived  bool
	poseReceived bool
	mapCloud     pointcloud.PointCloud
	pose         PoseWithCovariance
	path         []PoseStamped
	lastScan     *Scan
	lastOdomTime time.Time
}

// New validates the configuration and builds the pipeline. An unknown
// registration method is a construction error; nothing runs until Activate.
func New(cfg Config, tf *transform.Buffer, out Output, logger golog.Logger) (*Localizer, error) {
	return NewWithClock(cfg, tf, out, clock.New(), logger)
}

// NewWithClock is New with an injected clock, for tests.
func NewWithClock(cfg Config, tf *transform.Buffer, out Output, clk clock.Clock, logger golog.Logger) (*Localizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	matcher, err := registration.NewMatcher(cfg.RegistrationMethod, cfg.registrationConfig(), logger)
	if err != nil {
		return nil, err
	}
	scanPeriod := time.Duration(cfg.ScanPeriod * float64(time.Second))
	return &Localizer{
		cfg:       cfg,
		logger:    logger,
		matcher:   matcher,
		tf:        tf,
		corrector: undistortion.NewCorrector(scanPeriod, logger),
		out:       out,
		clock:     clk,
		pose: PoseWithCovariance{
			PoseStamped: PoseStamped{Frame: cfg.GlobalFrame, Pose: spatialmath.NewZeroPose()},
		},
	}, nil
}

// Activate loads the pre-configured map file, publishes the map echo and
// seeds the initial pose from config. Map load failures are fatal; the
// localizer must not become operational without its map.
func (l *Localizer) Activate(ctx context.Context) error {
	if l.cfg.MapPath != "" {
		cloud, err := pointcloud.NewFromFile(l.cfg.MapPath, l.logger)
		if err != nil {
			return errors.Wrap(err, "loading map")
		}
		l.logger.Infow("map loaded", "path", l.cfg.MapPath, "points", cloud.Size())

		l.mu.Lock()
		l.setMapLocked(cloud)
		l.mu.Unlock()
		l.out.PublishMap(l.cfg.GlobalFrame, cloud)
	}

	if l.cfg.SetInitialPose {
		o := spatialmath.NewOrientationFromQuaternion(quat.Number{
			Real: l.cfg.InitialPoseQW,
			Imag: l.cfg.InitialPoseQX,
			Jmag: l.cfg.InitialPoseQY,
			Kmag: l.cfg.InitialPoseQZ,
		})
		seed := PoseWithCovariance{
			PoseStamped: PoseStamped{
				Frame: l.cfg.GlobalFrame,
				Time:  l.clock.Now(),
				Pose: spatialmath.NewPose(r3.Vector{
					X: l.cfg.InitialPoseX,
					Y: l.cfg.InitialPoseY,
					Z: l.cfg.InitialPoseZ,
				}, o),
			},
		}
		l.mu.Lock()
		l.path = append(l.path, seed.PoseStamped)
		l.mu.Unlock()
		if err := l.HandleInitialPose(ctx, seed); err != nil {
			return err
		}
	}
	return nil
}

// State reports where the gating state machine currently stands.
func (l *Localizer) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

func (l *Localizer) stateLocked() State {
	switch {
	case l.mapReceived && l.poseReceived:
		return StateTracking
	case l.mapReceived:
		return StatePosePending
	case l.poseReceived:
		return StateMapPending
	default:
		return StateUninitialized
	}
}

// Pose returns the current pose estimate.
func (l *Localizer) Pose() PoseWithCovariance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pose
}

// Path returns a copy of the accumulated trajectory.
func (l *Localizer) Path() []PoseStamped {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PoseStamped, len(l.path))
	copy(out, l.path)
	return out
}

// HandleMap installs a new reference map delivered at runtime. The cloud
// must be expressed in the global frame.
func (l *Localizer) HandleMap(frame string, cloud pointcloud.PointCloud) error {
	if frame != l.cfg.GlobalFrame {
		l.logger.Warnw("map frame does not match global frame", "got", frame, "want", l.cfg.GlobalFrame)
		return errors.Errorf("map frame %q does not match global frame %q", frame, l.cfg.GlobalFrame)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setMapLocked(cloud)
	return nil
}

// setMapLocked hands the map to the matcher. The ICP family gets a voxel
// prefiltered copy; the distribution matchers build their own grid and take
// the map raw.
func (l *Localizer) setMapLocked(cloud pointcloud.PointCloud) {
	l.mapCloud = cloud
	switch l.cfg.RegistrationMethod {
	case registration.MethodICP, registration.MethodICPParallel:
		l.matcher.SetTarget(pointcloud.VoxelDownsample(cloud, l.cfg.VoxelLeafSize))
	default:
		l.matcher.SetTarget(cloud)
	}
	l.mapReceived = true
}

// HandleInitialPose sets the pose estimate from an operator-supplied pose
// and immediately re-runs the last scan so the correction is visible
// without waiting for the next sweep. A pose in the wrong frame is rejected
// and leaves all state untouched.
func (l *Localizer) HandleInitialPose(ctx context.Context, p PoseWithCovariance) error {
	if p.Frame != l.cfg.GlobalFrame {
		l.logger.Warnw("initial pose frame does not match global frame", "got", p.Frame, "want", l.cfg.GlobalFrame)
		return errors.Errorf("initial pose frame %q does not match global frame %q", p.Frame, l.cfg.GlobalFrame)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.poseReceived = true
	l.pose = p
	l.out.PublishPose(l.pose)

	if l.lastScan != nil {
		return l.processScanLocked(ctx, *l.lastScan)
	}
	return nil
}

// HandleScan feeds one lidar sweep through the pipeline. Scans arriving
// before both the map and an initial pose are silently dropped.
func (l *Localizer) HandleScan(ctx context.Context, scan Scan) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processScanLocked(ctx, scan)
}

func (l *Localizer) processScanLocked(ctx context.Context, scan Scan) error {
	if !l.mapReceived || !l.poseReceived {
		l.logger.Debugw("dropping scan before gating", "state", l.stateLocked().String())
		return nil
	}

	prepared, err := l.prepareLocked(ctx, scan)
	if err != nil {
		l.logger.Warnw("scan preprocessing failed", "error", err)
		return err
	}

	guess := l.pose.Pose
	l.matcher.SetSource(prepared)
	alignStart := l.clock.Now()
	aligned, err := l.matcher.Align(ctx, guess)
	alignElapsed := l.clock.Now().Sub(alignStart)
	if err != nil {
		l.logger.Warnw("registration failed", "error", err)
		return err
	}
	if !l.matcher.HasConverged() {
		l.logger.Warnw("registration did not converge; keeping previous pose")
		return nil
	}
	fitness := l.matcher.FitnessScore()
	if fitness > l.cfg.ScoreThreshold {
		l.logger.Warnw("fitness score over threshold", "score", fitness, "threshold", l.cfg.ScoreThreshold)
	}

	l.pose = PoseWithCovariance{
		PoseStamped: PoseStamped{Frame: l.cfg.GlobalFrame, Time: scan.Time, Pose: aligned},
		Covariance:  l.pose.Covariance,
	}
	l.out.PublishPose(l.pose)

	if err := l.composeLocked(ctx, scan.Time); err != nil {
		l.logger.Warnw("transform composition failed", "error", err)
		return err
	}

	l.path = append(l.path, l.pose.PoseStamped)
	l.out.PublishPath(l.path)
	l.lastScan = &scan

	if l.cfg.EnableDebug {
		delta := spatialmath.OrientationBetween(guess.Orientation(), aligned.Orientation())
		l.logger.Debugw("scan aligned",
			"points", prepared.Size(),
			"align_duration", alignElapsed,
			"fitness", fitness,
			"x", aligned.Point().X,
			"y", aligned.Point().Y,
			"z", aligned.Point().Z,
			"delta_angle", delta.AxisAngles().Theta,
		)
	}
	return nil
}
