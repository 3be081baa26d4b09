package localization

import (
	"encoding/json"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"

	"github.com/mobilerobotics/lidarloc/registration"
)

// Config is the full tuning surface of the localizer. Immutable after
// construction.
type Config struct {
	GlobalFrame string `json:"global_frame_id"`
	OdomFrame   string `json:"odom_frame_id"`
	BaseFrame   string `json:"base_frame_id"`

	RegistrationMethod string  `json:"registration_method"`
	ScoreThreshold     float64 `json:"score_threshold"`
	Resolution         float64 `json:"ndt_resolution"`
	StepSize           float64 `json:"ndt_step_size"`
	TransformEpsilon   float64 `json:"transform_epsilon"`
	MaxIterations      int     `json:"max_iterations"`
	NumThreads         int     `json:"num_threads"`

	VoxelLeafSize float64 `json:"voxel_leaf_size"`
	ScanMinRange  float64 `json:"scan_min_range"`
	ScanMaxRange  float64 `json:"scan_max_range"`
	ScanPeriod    float64 `json:"scan_period"`

	MapPath        string  `json:"map_path"`
	SetInitialPose bool    `json:"set_initial_pose"`
	InitialPoseX   float64 `json:"initial_pose_x"`
	InitialPoseY   float64 `json:"initial_pose_y"`
	InitialPoseZ   float64 `json:"initial_pose_z"`
	InitialPoseQX  float64 `json:"initial_pose_qx"`
	InitialPoseQY  float64 `json:"initial_pose_qy"`
	InitialPoseQZ  float64 `json:"initial_pose_qz"`
	InitialPoseQW  float64 `json:"initial_pose_qw"`

	UseOdom       bool `json:"use_odom"`
	UseIMU        bool `json:"use_imu"`
	PublishOdomTF bool `json:"publish_odom_tf"`
	EnableDebug   bool `json:"enable_debug"`
}

// DefaultConfig mirrors the stock tuning for an outdoor-scale lidar.
func DefaultConfig() Config {
	return Config{
		GlobalFrame:        "map",
		OdomFrame:          "odom",
		BaseFrame:          "base_link",
		RegistrationMethod: registration.MethodNDT,
		ScoreThreshold:     2.0,
		Resolution:         1.0,
		StepSize:           0.1,
		TransformEpsilon:   0.01,
		MaxIterations:      35,
		NumThreads:         4,
		VoxelLeafSize:      0.2,
		ScanMinRange:       1.0,
		ScanMaxRange:       100.0,
		ScanPeriod:         0.1,
		InitialPoseQW:      1.0,
	}
}

// Validate rejects configurations that cannot produce a working pipeline.
func (c Config) Validate() error {
	if c.GlobalFrame == "" || c.OdomFrame == "" || c.BaseFrame == "" {
		return errors.New("frame ids must all be set")
	}
	switch c.RegistrationMethod {
	case registration.MethodICP, registration.MethodICPParallel,
		registration.MethodNDT, registration.MethodNDTParallel:
	default:
		return errors.Errorf("unknown registration method %q", c.RegistrationMethod)
	}
	if c.ScoreThreshold <= 0 {
		return errors.New("score_threshold must be positive")
	}
	if c.VoxelLeafSize < 0 {
		return errors.New("voxel_leaf_size cannot be negative")
	}
	if c.ScanMinRange < 0 || c.ScanMaxRange <= c.ScanMinRange {
		return errors.New("scan range bounds must satisfy 0 <= min < max")
	}
	if c.ScanPeriod <= 0 {
		return errors.New("scan_period must be positive")
	}
	return nil
}

func (c Config) registrationConfig() registration.Config {
	return registration.Config{
		MaxIterations:    c.MaxIterations,
		TransformEpsilon: c.TransformEpsilon,
		Resolution:       c.Resolution,
		StepSize:         c.StepSize,
		NumThreads:       c.NumThreads,
	}
}

// ReadConfig loads a JSON config file, expanding ${ENV} references, on top
// of the defaults.
func ReadConfig(path string) (Config, error) {
	b, err := envsubst.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %q", path)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
