package transform

import (
	"context"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/mobilerobotics/lidarloc/spatialmath"
)

func TestLookupStatic(t *testing.T) {
	b := NewBuffer()
	mount := spatialmath.NewPoseFromPoint(r3.Vector{X: 0.2, Z: 1.1})
	b.SetStatic("base_link", "lidar", mount)

	got, err := b.Lookup(context.Background(), "base_link", "lidar", time.Time{}, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(got, mount), test.ShouldBeTrue)

	// same pair, opposite direction
	inv, err := b.Lookup(context.Background(), "lidar", "base_link", time.Time{}, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(spatialmath.Compose(got, inv), spatialmath.NewZeroPose()), test.ShouldBeTrue)
}

func TestLookupSameFrame(t *testing.T) {
	b := NewBuffer()
	got, err := b.Lookup(context.Background(), "odom", "odom", time.Time{}, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(got, spatialmath.NewZeroPose()), test.ShouldBeTrue)
}

func TestLookupInterpolates(t *testing.T) {
	b := NewBuffer()
	t0 := time.Unix(100, 0)
	t1 := t0.Add(time.Second)

	test.That(t, b.Set(Stamped{
		Parent: "odom", Child: "base_link", Time: t0,
		Pose: spatialmath.NewPoseFromPoint(r3.Vector{X: 1}),
	}), test.ShouldBeNil)
	test.That(t, b.Set(Stamped{
		Parent: "odom", Child: "base_link", Time: t1,
		Pose: spatialmath.NewPoseFromPoint(r3.Vector{X: 3}),
	}), test.ShouldBeNil)

	got, err := b.Lookup(context.Background(), "odom", "base_link", t0.Add(500*time.Millisecond), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Point().X, test.ShouldAlmostEqual, 2, 1e-9)

	// zero time means latest
	latest, err := b.Lookup(context.Background(), "odom", "base_link", time.Time{}, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, latest.Point().X, test.ShouldAlmostEqual, 3, 1e-9)
}

func TestLookupUnknownFrames(t *testing.T) {
	b := NewBuffer()
	_, err := b.Lookup(context.Background(), "map", "nowhere", time.Time{}, 0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no transform known")
}

func TestLookupWaitsForSample(t *testing.T) {
	b := NewBuffer()
	at := time.Unix(50, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(20 * time.Millisecond)
		_ = b.Set(Stamped{
			Parent: "odom", Child: "base_link", Time: at,
			Pose: spatialmath.NewPoseFromPoint(r3.Vector{Y: 4}),
		})
	}()

	got, err := b.Lookup(context.Background(), "odom", "base_link", at, 2*time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Point().Y, test.ShouldAlmostEqual, 4, 1e-9)
	<-done
}

func TestLookupTimesOut(t *testing.T) {
	b := NewBuffer()
	test.That(t, b.Set(Stamped{
		Parent: "odom", Child: "base_link", Time: time.Unix(10, 0),
		Pose: spatialmath.NewZeroPose(),
	}), test.ShouldBeNil)

	// requested stamp is newer than anything buffered
	_, err := b.Lookup(context.Background(), "odom", "base_link", time.Unix(20, 0), 30*time.Millisecond)
	test.That(t, errors.Is(err, ErrLookupTimeout), test.ShouldBeTrue)
}

func TestLookupHonorsContext(t *testing.T) {
	b := NewBuffer()
	test.That(t, b.Set(Stamped{
		Parent: "odom", Child: "base_link", Time: time.Unix(10, 0),
		Pose: spatialmath.NewZeroPose(),
	}), test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Lookup(ctx, "odom", "base_link", time.Unix(20, 0), time.Minute)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}
