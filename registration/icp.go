package registration

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/mobilerobotics/lidarloc/pointcloud"
	"github.com/mobilerobotics/lidarloc/spatialmath"
)

// fraction of closest correspondences kept each iteration
const inlierPercentile = 80

type icpMatcher struct {
	cfg      Config
	parallel bool
	logger   golog.Logger

	target *pointcloud.KDTree
	source []r3.Vector

	converged bool
	fitness   float64
}

func newICPMatcher(cfg Config, parallel bool, logger golog.Logger) *icpMatcher {
	return &icpMatcher{cfg: cfg, parallel: parallel, logger: logger, fitness: math.MaxFloat64}
}

func (m *icpMatcher) SetTarget(cloud pointcloud.PointCloud) {
	m.target = pointcloud.ToKDTree(cloud)
}

func (m *icpMatcher) SetSource(cloud pointcloud.PointCloud) {
	m.source = pointcloud.VectorsFromCloud(cloud)
}

func (m *icpMatcher) HasConverged() bool { return m.converged }

func (m *icpMatcher) FitnessScore() float64 { return m.fitness }

func (m *icpMatcher) Align(ctx context.Context, guess spatialmath.Pose) (spatialmath.Pose, error) {
	m.converged = false
	m.fitness = math.MaxFloat64
	if m.target == nil || m.target.Size() == 0 {
		return nil, errors.New("icp: no target cloud set")
	}
	if len(m.source) < 3 {
		return nil, errors.New("icp: source cloud needs at least 3 points")
	}
	if guess == nil {
		guess = spatialmath.NewZeroPose()
	}

	current := guess
	prevErr := math.MaxFloat64
	for iter := 0; iter < m.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		moved := transformAll(m.source, current)
		srcCorr, tgtCorr, dists, err := m.correspondences(ctx, moved)
		if err != nil {
			return nil, err
		}
		srcCorr, tgtCorr, err = rejectOutliers(srcCorr, tgtCorr, dists)
		if err != nil {
			return nil, err
		}
		if len(srcCorr) < 3 {
			return nil, errors.Errorf("icp: only %d correspondence pairs", len(srcCorr))
		}

		increment, err := rigidTransform(srcCorr, tgtCorr)
		if err != nil {
			return nil, errors.Wrap(err, "icp: rigid solve")
		}
		next := spatialmath.Compose(increment, current)

		curErr := meanSquared(dists)
		if curErr > prevErr*1.1 {
			// diverging; keep the last good estimate
			break
		}
		delta := deltaNorm(current, next)
		current = next
		prevErr = curErr
		if delta < m.cfg.TransformEpsilon {
			m.converged = true
			break
		}
	}

	m.fitness = meanSquaredToTarget(m.target, m.source, current)
	m.logResiduals(current)
	return current, nil
}

// correspondences pairs each moved source point with its nearest target
// neighbor, returning the squared distances alongside.
func (m *icpMatcher) correspondences(ctx context.Context, moved []r3.Vector) ([]r3.Vector, []r3.Vector, []float64, error) {
	nearest := make([]r3.Vector, len(moved))
	dists := make([]float64, len(moved))

	lookup := func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			nn, d, ok := m.target.NearestNeighbor(moved[i])
			if !ok {
				return errors.New("icp: target kd-tree lookup failed")
			}
			nearest[i] = nn
			dists[i] = d
		}
		return nil
	}

	if !m.parallel || m.cfg.NumThreads <= 1 {
		if err := lookup(0, len(moved)); err != nil {
			return nil, nil, nil, err
		}
	} else {
		g, _ := errgroup.WithContext(ctx)
		chunk := (len(moved) + m.cfg.NumThreads - 1) / m.cfg.NumThreads
		for lo := 0; lo < len(moved); lo += chunk {
			lo, hi := lo, lo+chunk
			if hi > len(moved) {
				hi = len(moved)
			}
			g.Go(func() error { return lookup(lo, hi) })
		}
		if err := g.Wait(); err != nil {
			return nil, nil, nil, err
		}
	}
	return moved, nearest, dists, nil
}

func (m *icpMatcher) logResiduals(pose spatialmath.Pose) {
	resid := make([]float64, len(m.source))
	for i, p := range m.source {
		_, d, _ := m.target.NearestNeighbor(spatialmath.TransformPoint(pose, p))
		resid[i] = math.Sqrt(d)
	}
	mean, err := stats.Mean(resid)
	if err != nil {
		return
	}
	p90, err := stats.Percentile(resid, 90)
	if err != nil {
		return
	}
	m.logger.Debugw("icp residuals", "mean", mean, "p90", p90, "n", len(resid))
}

// rejectOutliers drops the pairs whose distance exceeds the inlier
// percentile, keeping the solve from being dragged by unmatched structure.
func rejectOutliers(src, tgt []r3.Vector, dists []float64) ([]r3.Vector, []r3.Vector, error) {
	if len(dists) == 0 {
		return src, tgt, nil
	}
	threshold, err := stats.Percentile(stats.Float64Data(dists), inlierPercentile)
	if err != nil {
		return nil, nil, err
	}
	keptSrc := make([]r3.Vector, 0, len(src))
	keptTgt := make([]r3.Vector, 0, len(tgt))
	for i, d := range dists {
		if d <= threshold {
			keptSrc = append(keptSrc, src[i])
			keptTgt = append(keptTgt, tgt[i])
		}
	}
	return keptSrc, keptTgt, nil
}

// rigidTransform solves for the rotation and translation taking src onto
// dst in the least-squares sense, via SVD of the cross covariance.
func rigidTransform(src, dst []r3.Vector) (spatialmath.Pose, error) {
	if len(src) != len(dst) || len(src) < 3 {
		return nil, errors.New("need at least 3 paired points")
	}
	n := float64(len(src))
	var cs, cd r3.Vector
	for i := range src {
		cs = cs.Add(src[i])
		cd = cd.Add(dst[i])
	}
	cs = cs.Mul(1 / n)
	cd = cd.Mul(1 / n)

	h := mat.NewDense(3, 3, nil)
	for i := range src {
		s := src[i].Sub(cs)
		d := dst[i].Sub(cd)
		sv := []float64{s.X, s.Y, s.Z}
		dv := []float64{d.X, d.Y, d.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+dv[r]*sv[c])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return nil, errors.New("svd factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	rot := mat.NewDense(3, 3, nil)
	rot.Mul(&u, v.T())
	if mat.Det(rot) < 0 {
		// reflection; flip the least significant axis
		for r := 0; r < 3; r++ {
			u.Set(r, 2, -u.At(r, 2))
		}
		rot.Mul(&u, v.T())
	}

	rcs := r3.Vector{
		X: rot.At(0, 0)*cs.X + rot.At(0, 1)*cs.Y + rot.At(0, 2)*cs.Z,
		Y: rot.At(1, 0)*cs.X + rot.At(1, 1)*cs.Y + rot.At(1, 2)*cs.Z,
		Z: rot.At(2, 0)*cs.X + rot.At(2, 1)*cs.Y + rot.At(2, 2)*cs.Z,
	}
	t := cd.Sub(rcs)

	o := spatialmath.NewOrientationFromQuaternion(rotationMatrixToQuat(rot))
	return spatialmath.NewPose(t, o), nil
}

func transformAll(pts []r3.Vector, pose spatialmath.Pose) []r3.Vector {
	out := make([]r3.Vector, len(pts))
	for i, p := range pts {
		out[i] = spatialmath.TransformPoint(pose, p)
	}
	return out
}

func meanSquared(dists []float64) float64 {
	if len(dists) == 0 {
		return math.MaxFloat64
	}
	var sum float64
	for _, d := range dists {
		sum += d
	}
	return sum / float64(len(dists))
}

func deltaNorm(a, b spatialmath.Pose) float64 {
	d := spatialmath.PoseDelta(a, b)
	var sum float64
	for _, v := range d {
		sum += v * v
	}
	return math.Sqrt(sum)
}
