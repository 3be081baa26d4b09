// Package transform maintains a time-indexed directory of rigid transforms
// between named reference frames and answers queries for the transform
// between two frames at a requested time, waiting a bounded amount of time
// for the needed samples to arrive.
package transform

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/mobilerobotics/lidarloc/spatialmath"
)

// Stamped is a timestamped transform taking points in the child frame to the
// parent frame.
type Stamped struct {
	Parent string
	Child  string
	Time   time.Time
	Pose   spatialmath.Pose
}

type framePair struct {
	parent, child string
}

// how much history to retain per frame pair
const defaultHistory = 10 * time.Second

// Buffer stores stamped transforms between frames and serves time-aligned
// lookups. Only directly connected frame pairs are resolvable; the pair may
// be queried in either direction.
type Buffer struct {
	mu      sync.Mutex
	dynamic map[framePair][]Stamped
	static  map[framePair]spatialmath.Pose
	updated chan struct{}
	history time.Duration
	clock   clock.Clock
}

// NewBuffer returns an empty transform buffer using the wall clock.
func NewBuffer() *Buffer {
	return NewBufferWithClock(clock.New())
}

// NewBufferWithClock returns an empty transform buffer with an injected clock,
// for tests.
func NewBufferWithClock(c clock.Clock) *Buffer {
	return &Buffer{
		dynamic: make(map[framePair][]Stamped),
		static:  make(map[framePair]spatialmath.Pose),
		updated: make(chan struct{}),
		history: defaultHistory,
		clock:   c,
	}
}

// SetStatic registers a constant transform from child to parent, such as a
// rigidly mounted sensor's pose on the platform body.
func (b *Buffer) SetStatic(parent, child string, pose spatialmath.Pose) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.static[framePair{parent, child}] = pose
	b.notifyLocked()
}

// Set appends a stamped transform to the buffer. Samples older than the
// retention window relative to the new sample are pruned.
func (b *Buffer) Set(st Stamped) error {
	if st.Pose == nil {
		return errors.New("stamped transform has nil pose")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := framePair{st.Parent, st.Child}
	samples := b.dynamic[key]
	if n := len(samples); n > 0 && st.Time.Before(samples[n-1].Time) {
		// keep the history sorted even under out-of-order delivery
		i := sort.Search(n, func(i int) bool { return samples[i].Time.After(st.Time) })
		samples = append(samples, Stamped{})
		copy(samples[i+1:], samples[i:])
		samples[i] = st
	} else {
		samples = append(samples, st)
	}

	cutoff := st.Time.Add(-b.history)
	for len(samples) > 2 && samples[0].Time.Before(cutoff) {
		samples = samples[1:]
	}
	b.dynamic[key] = samples

	b.notifyLocked()
	return nil
}

func (b *Buffer) notifyLocked() {
	close(b.updated)
	b.updated = make(chan struct{})
}

// ErrLookupTimeout is returned when a transform does not become available
// within the lookup's wait budget.
var ErrLookupTimeout = errors.New("timed out waiting for transform")

// Lookup returns the pose taking points in the source frame to the target
// frame at the given time, waiting up to timeout for the required samples to
// arrive. A zero time requests the latest available transform. The lookup
// fails closed: on timeout or unknown frames an error is returned.
func (b *Buffer) Lookup(ctx context.Context, target, source string, at time.Time, timeout time.Duration) (spatialmath.Pose, error) {
	deadline := b.clock.Now().Add(timeout)

	b.mu.Lock()
	for {
		if pose, ok := b.lookupLocked(target, source, at); ok {
			b.mu.Unlock()
			return pose, nil
		}
		known := b.pairKnownLocked(target, source)
		updated := b.updated
		b.mu.Unlock()

		if !known && timeout <= 0 {
			return nil, errors.Errorf("no transform known between %q and %q", target, source)
		}
		remaining := deadline.Sub(b.clock.Now())
		if remaining <= 0 {
			return nil, errors.Wrapf(ErrLookupTimeout, "%q to %q at %v", source, target, at)
		}

		timer := b.clock.Timer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			b.mu.Lock()
		case <-updated:
			timer.Stop()
			b.mu.Lock()
		}
	}
}

// LookupLatest returns the most recent transform between the frames,
// without waiting for anything to arrive.
func (b *Buffer) LookupLatest(target, source string) (spatialmath.Pose, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pose, ok := b.lookupLocked(target, source, time.Time{}); ok {
		return pose, nil
	}
	return nil, errors.Errorf("no transform known between %q and %q", target, source)
}

func (b *Buffer) pairKnownLocked(target, source string) bool {
	if target == source {
		return true
	}
	for _, key := range []framePair{{target, source}, {source, target}} {
		if _, ok := b.static[key]; ok {
			return true
		}
		if len(b.dynamic[key]) > 0 {
			return true
		}
	}
	return false
}

func (b *Buffer) lookupLocked(target, source string, at time.Time) (spatialmath.Pose, bool) {
	if target == source {
		return spatialmath.NewZeroPose(), true
	}
	if pose, ok := b.resolveLocked(target, source, at); ok {
		return pose, true
	}
	if pose, ok := b.resolveLocked(source, target, at); ok {
		return spatialmath.PoseInverse(pose), true
	}
	return nil, false
}

func (b *Buffer) resolveLocked(parent, child string, at time.Time) (spatialmath.Pose, bool) {
	key := framePair{parent, child}
	if pose, ok := b.static[key]; ok {
		return pose, true
	}
	samples := b.dynamic[key]
	if len(samples) == 0 {
		return nil, false
	}
	if at.IsZero() {
		return samples[len(samples)-1].Pose, true
	}

	i := sort.Search(len(samples), func(i int) bool { return !samples[i].Time.Before(at) })
	switch {
	case i == len(samples):
		// requested time is newer than anything buffered; keep waiting
		return nil, false
	case i == 0:
		return samples[0].Pose, true
	case samples[i].Time.Equal(at):
		return samples[i].Pose, true
	default:
		lo, hi := samples[i-1], samples[i]
		span := hi.Time.Sub(lo.Time).Seconds()
		if span <= 0 {
			return hi.Pose, true
		}
		by := at.Sub(lo.Time).Seconds() / span
		return spatialmath.Interpolate(lo.Pose, hi.Pose, by), true
	}
}
