package localization

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestDefaultConfigValid(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)
}

func TestValidateRejects(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty frame", func(c *Config) { c.BaseFrame = "" }, "frame ids"},
		{"unknown method", func(c *Config) { c.RegistrationMethod = "gicp" }, "unknown registration method"},
		{"bad threshold", func(c *Config) { c.ScoreThreshold = 0 }, "score_threshold"},
		{"negative leaf", func(c *Config) { c.VoxelLeafSize = -0.1 }, "voxel_leaf_size"},
		{"inverted ranges", func(c *Config) { c.ScanMinRange, c.ScanMaxRange = 5, 2 }, "scan range"},
		{"bad period", func(c *Config) { c.ScanPeriod = 0 }, "scan_period"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.want)
		})
	}
}

func TestReadConfig(t *testing.T) {
	t.Setenv("LIDARLOC_MAP", "/maps/site.pcd")
	fn := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"registration_method": "ndt_parallel",
		"map_path": "${LIDARLOC_MAP}",
		"ndt_resolution": 2.5,
		"use_odom": true
	}`
	test.That(t, os.WriteFile(fn, []byte(body), 0o600), test.ShouldBeNil)

	cfg, err := ReadConfig(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.RegistrationMethod, test.ShouldEqual, "ndt_parallel")
	test.That(t, cfg.MapPath, test.ShouldEqual, "/maps/site.pcd")
	test.That(t, cfg.Resolution, test.ShouldEqual, 2.5)
	test.That(t, cfg.UseOdom, test.ShouldBeTrue)

	// defaults fill everything not in the file
	test.That(t, cfg.BaseFrame, test.ShouldEqual, "base_link")
	test.That(t, cfg.ScoreThreshold, test.ShouldEqual, 2.0)
}

func TestReadConfigInvalid(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "config.json")
	test.That(t, os.WriteFile(fn, []byte(`{"registration_method": "nope"}`), 0o600), test.ShouldBeNil)
	_, err := ReadConfig(fn)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadConfig(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}
