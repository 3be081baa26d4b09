package localization

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/mobilerobotics/lidarloc/pointcloud"
	"github.com/mobilerobotics/lidarloc/transform"
)

func writeMapFile(t *testing.T) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "map.pcd")
	test.That(t, pointcloud.WriteToPCDFile(flatMapCloud(t), fn, pointcloud.PCDBinary), test.ShouldBeNil)
	return fn
}

func TestActivateLoadsMapAndSeedsPose(t *testing.T) {
	cfg := testConfig()
	cfg.MapPath = writeMapFile(t)
	cfg.SetInitialPose = true
	cfg.InitialPoseX = 1.5
	cfg.InitialPoseY = -0.5

	loc, out, _ := newTestLocalizer(t, cfg)
	test.That(t, loc.Activate(context.Background()), test.ShouldBeNil)

	test.That(t, loc.State(), test.ShouldEqual, StateTracking)
	test.That(t, out.maps, test.ShouldResemble, []string{"map"})
	test.That(t, out.poses, test.ShouldHaveLength, 1)
	test.That(t, loc.Path(), test.ShouldHaveLength, 1)

	got := loc.Pose()
	test.That(t, got.Pose.Point().X, test.ShouldAlmostEqual, 1.5, 1e-9)
	test.That(t, got.Pose.Point().Y, test.ShouldAlmostEqual, -0.5, 1e-9)
}

func TestActivateMapOnly(t *testing.T) {
	cfg := testConfig()
	cfg.MapPath = writeMapFile(t)

	loc, out, _ := newTestLocalizer(t, cfg)
	test.That(t, loc.Activate(context.Background()), test.ShouldBeNil)
	test.That(t, loc.State(), test.ShouldEqual, StatePosePending)
	test.That(t, out.poses, test.ShouldBeEmpty)
}

func TestActivateUnreadableMapFatal(t *testing.T) {
	cfg := testConfig()
	cfg.MapPath = filepath.Join(t.TempDir(), "missing.pcd")
	loc, _, _ := newTestLocalizer(t, cfg)
	test.That(t, loc.Activate(context.Background()), test.ShouldNotBeNil)
	test.That(t, loc.State(), test.ShouldEqual, StateUninitialized)
}

func TestActivateUnsupportedMapFormatFatal(t *testing.T) {
	cfg := testConfig()
	cfg.MapPath = filepath.Join(t.TempDir(), "map.xyz")
	loc, _, _ := newTestLocalizer(t, cfg)
	err := loc.Activate(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "do not know how to read")
}

func TestNewRejectsUnknownMethod(t *testing.T) {
	cfg := testConfig()
	cfg.RegistrationMethod = "gicp"
	_, err := New(cfg, transform.NewBuffer(), &fakeOutput{}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
