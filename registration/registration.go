// Package registration aligns a lidar scan against a reference map cloud.
// It provides point-to-point ICP and NDT matchers, each with a
// single-threaded and a multi-threaded variant, behind a common interface.
package registration

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/mobilerobotics/lidarloc/pointcloud"
	"github.com/mobilerobotics/lidarloc/spatialmath"
)

// Supported matcher method names.
const (
	MethodICP         = "icp"
	MethodICPParallel = "icp_parallel"
	MethodNDT         = "ndt"
	MethodNDTParallel = "ndt_parallel"
)

// Config carries the matcher tuning knobs. Zero values fall back to the
// defaults below at construction time.
type Config struct {
	MaxIterations    int     `json:"max_iterations"`
	TransformEpsilon float64 `json:"transform_epsilon"`
	Resolution       float64 `json:"resolution"`
	StepSize         float64 `json:"step_size"`
	NumThreads       int     `json:"num_threads"`
}

// DefaultConfig returns the tuning used when a field is unset.
func DefaultConfig() Config {
	return Config{
		MaxIterations:    35,
		TransformEpsilon: 0.01,
		Resolution:       1.0,
		StepSize:         0.1,
		NumThreads:       4,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.TransformEpsilon <= 0 {
		c.TransformEpsilon = def.TransformEpsilon
	}
	if c.Resolution <= 0 {
		c.Resolution = def.Resolution
	}
	if c.StepSize <= 0 {
		c.StepSize = def.StepSize
	}
	if c.NumThreads <= 0 {
		c.NumThreads = def.NumThreads
	}
	return c
}

// Matcher estimates the rigid transform taking the source cloud onto the
// target cloud. Implementations are not safe for concurrent use.
type Matcher interface {
	// SetTarget installs the reference cloud and builds whatever search
	// structures the method needs. Must be called before Align.
	SetTarget(pointcloud.PointCloud)
	// SetSource installs the cloud to be aligned.
	SetSource(pointcloud.PointCloud)
	// Align runs the alignment starting from guess and returns the pose
	// taking source points into the target frame.
	Align(ctx context.Context, guess spatialmath.Pose) (spatialmath.Pose, error)
	// HasConverged reports whether the last Align met its convergence
	// criterion rather than running out of iterations.
	HasConverged() bool
	// FitnessScore is the mean squared distance from the aligned source
	// points to their nearest target neighbors. Lower is better.
	FitnessScore() float64
}

// NewMatcher builds a matcher for the named method. Unknown methods are
// rejected so a misconfigured pipeline fails at startup, not mid-run.
func NewMatcher(method string, cfg Config, logger golog.Logger) (Matcher, error) {
	cfg = cfg.withDefaults()
	switch method {
	case MethodICP:
		return newICPMatcher(cfg, false, logger), nil
	case MethodICPParallel:
		return newICPMatcher(cfg, true, logger), nil
	case MethodNDT:
		return newNDTMatcher(cfg, false, logger), nil
	case MethodNDTParallel:
		return newNDTMatcher(cfg, true, logger), nil
	default:
		return nil, errors.Errorf("unknown registration method %q", method)
	}
}
