package registration

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/mobilerobotics/lidarloc/pointcloud"
	"github.com/mobilerobotics/lidarloc/spatialmath"
)

// voxels with fewer points than this carry no usable distribution
const minVoxelPoints = 5

// floor for covariance eigenvalues, as a fraction of the largest
const eigenvalueFloor = 0.01

// below this score-ascent rate the surface is flat at evaluation precision
const gradientTolerance = 1e-8

type ndtVoxel struct {
	mean r3.Vector
	icov *mat.SymDense
}

// ndtMatcher scores candidate poses against per-voxel Gaussians built from
// the target cloud and climbs the score surface along its analytic
// gradient. Each point is scored against the Gaussians of its voxel and
// the adjacent voxels, so the surface stays smooth across voxel
// boundaries.
type ndtMatcher struct {
	cfg      Config
	parallel bool
	logger   golog.Logger

	target  *pointcloud.KDTree
	grid    map[pointcloud.VoxelCoords]*ndtVoxel
	gridMin r3.Vector
	source  []r3.Vector

	converged bool
	fitness   float64
}

func newNDTMatcher(cfg Config, parallel bool, logger golog.Logger) *ndtMatcher {
	return &ndtMatcher{cfg: cfg, parallel: parallel, logger: logger, fitness: math.MaxFloat64}
}

func (m *ndtMatcher) SetTarget(cloud pointcloud.PointCloud) {
	m.target = pointcloud.ToKDTree(cloud)
	m.buildGrid(cloud)
}

func (m *ndtMatcher) SetSource(cloud pointcloud.PointCloud) {
	m.source = pointcloud.VectorsFromCloud(cloud)
}

func (m *ndtMatcher) HasConverged() bool { return m.converged }

func (m *ndtMatcher) FitnessScore() float64 { return m.fitness }

func (m *ndtMatcher) buildGrid(cloud pointcloud.PointCloud) {
	meta := cloud.MetaData()
	m.gridMin = r3.Vector{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ}
	accum := map[pointcloud.VoxelCoords][]r3.Vector{}
	cloud.Iterate(0, 0, func(p r3.Vector, _ pointcloud.Data) bool {
		c := pointcloud.GetVoxelCoordinates(p, m.gridMin, m.cfg.Resolution)
		accum[c] = append(accum[c], p)
		return true
	})

	m.grid = make(map[pointcloud.VoxelCoords]*ndtVoxel, len(accum))
	for c, pts := range accum {
		if len(pts) < minVoxelPoints {
			continue
		}
		if v := newNDTVoxel(pts); v != nil {
			m.grid[c] = v
		}
	}
	m.logger.Debugw("ndt grid built", "voxels", len(m.grid), "resolution", m.cfg.Resolution)
}

func newNDTVoxel(pts []r3.Vector) *ndtVoxel {
	n := float64(len(pts))
	var mean r3.Vector
	for _, p := range pts {
		mean = mean.Add(p)
	}
	mean = mean.Mul(1 / n)

	cov := mat.NewSymDense(3, nil)
	for _, p := range pts {
		d := []float64{p.X - mean.X, p.Y - mean.Y, p.Z - mean.Z}
		for r := 0; r < 3; r++ {
			for c := r; c < 3; c++ {
				cov.SetSym(r, c, cov.At(r, c)+d[r]*d[c]/(n-1))
			}
		}
	}

	// inflate near-singular directions so the inverse stays bounded
	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil
	}
	vals := eig.Values(nil)
	maxVal := vals[2]
	if maxVal <= 0 {
		return nil
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	inv := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		v := vals[i]
		if v < eigenvalueFloor*maxVal {
			v = eigenvalueFloor * maxVal
		}
		col := mat.NewVecDense(3, []float64{vecs.At(0, i), vecs.At(1, i), vecs.At(2, i)})
		var outer mat.Dense
		outer.Outer(1/v, col, col)
		inv.Add(inv, &outer)
	}

	icov := mat.NewSymDense(3, nil)
	for r := 0; r < 3; r++ {
		for c := r; c < 3; c++ {
			icov.SetSym(r, c, inv.At(r, c))
		}
	}
	return &ndtVoxel{mean: mean, icov: icov}
}

// Align climbs the score surface from guess with a backtracking line
// search along the normalized gradient. Convergence means the climb
// settled on a supported pose: a vanishing gradient over a non-zero
// score, or accepted steps shrinking below TransformEpsilon. A seed from
// which no ascent was possible at all reports non-convergence.
func (m *ndtMatcher) Align(ctx context.Context, guess spatialmath.Pose) (spatialmath.Pose, error) {
	m.converged = false
	m.fitness = math.MaxFloat64
	if len(m.grid) == 0 {
		return nil, errors.New("ndt: no usable voxels in target cloud")
	}
	if len(m.source) == 0 {
		return nil, errors.New("ndt: empty source cloud")
	}
	if guess == nil {
		guess = spatialmath.NewZeroPose()
	}

	x := vecFromPose(guess)
	cur, err := m.score(ctx, x)
	if err != nil {
		return nil, err
	}

	step := m.cfg.StepSize
	progressed := false
	for iter := 0; iter < m.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		grad, err := m.gradient(ctx, x)
		if err != nil {
			return nil, err
		}
		norm := vecNorm(grad)
		if norm < gradientTolerance {
			m.converged = cur > 0
			break
		}
		for i := range grad {
			grad[i] /= norm
		}

		improved := false
		trial := step
		for try := 0; try < 8; try++ {
			cand := addScaled(x, grad, trial)
			s, err := m.score(ctx, cand)
			if err != nil {
				return nil, err
			}
			if s > cur {
				x = cand
				cur = s
				improved = true
				break
			}
			trial /= 2
		}
		if !improved {
			m.converged = progressed
			break
		}
		progressed = true
		if trial < m.cfg.TransformEpsilon {
			m.converged = true
			break
		}
	}

	pose := poseFromVec(x)
	m.fitness = meanSquaredToTarget(m.target, m.source, pose)
	return pose, nil
}

// pointScore sums the Gaussian likelihood of a transformed point over the
// voxel it lands in and the adjacent voxels.
func (m *ndtMatcher) pointScore(p r3.Vector) float64 {
	c := pointcloud.GetVoxelCoordinates(p, m.gridMin, m.cfg.Resolution)
	var sum float64
	for di := int64(-1); di <= 1; di++ {
		for dj := int64(-1); dj <= 1; dj++ {
			for dk := int64(-1); dk <= 1; dk++ {
				v, ok := m.grid[pointcloud.VoxelCoords{I: c.I + di, J: c.J + dj, K: c.K + dk}]
				if !ok {
					continue
				}
				sum += math.Exp(-0.5 * quadForm(v.icov, p.Sub(v.mean)))
			}
		}
	}
	return sum
}

// pointGradient is the derivative of pointScore with respect to the
// point's position.
func (m *ndtMatcher) pointGradient(p r3.Vector) r3.Vector {
	c := pointcloud.GetVoxelCoordinates(p, m.gridMin, m.cfg.Resolution)
	var g r3.Vector
	for di := int64(-1); di <= 1; di++ {
		for dj := int64(-1); dj <= 1; dj++ {
			for dk := int64(-1); dk <= 1; dk++ {
				v, ok := m.grid[pointcloud.VoxelCoords{I: c.I + di, J: c.J + dj, K: c.K + dk}]
				if !ok {
					continue
				}
				d := p.Sub(v.mean)
				w := math.Exp(-0.5 * quadForm(v.icov, d))
				g = g.Sub(symVec(v.icov, d).Mul(w))
			}
		}
	}
	return g
}

func (m *ndtMatcher) score(ctx context.Context, x [6]float64) (float64, error) {
	pose := poseFromVec(x)
	part := func(lo, hi int) float64 {
		var sum float64
		for i := lo; i < hi; i++ {
			sum += m.pointScore(spatialmath.TransformPoint(pose, m.source[i]))
		}
		return sum
	}

	if !m.parallel || m.cfg.NumThreads <= 1 {
		return part(0, len(m.source)), nil
	}

	chunk := (len(m.source) + m.cfg.NumThreads - 1) / m.cfg.NumThreads
	sums := make([]float64, 0, m.cfg.NumThreads)
	g, _ := errgroup.WithContext(ctx)
	for lo := 0; lo < len(m.source); lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > len(m.source) {
			hi = len(m.source)
		}
		sums = append(sums, 0)
		idx := len(sums) - 1
		g.Go(func() error {
			sums[idx] = part(lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	var total float64
	for _, s := range sums {
		total += s
	}
	return total, nil
}

// gradient is the analytic derivative of score with respect to the pose
// vector, chaining each point's spatial gradient through the rotation
// derivatives. The rotation composes yaw about Z, pitch about Y, roll
// about X, matching poseFromVec.
func (m *ndtMatcher) gradient(ctx context.Context, x [6]float64) ([6]float64, error) {
	sr, cr := math.Sincos(x[3])
	sp, cp := math.Sincos(x[4])
	sy, cy := math.Sincos(x[5])
	rx := mat3{{1, 0, 0}, {0, cr, -sr}, {0, sr, cr}}
	ry := mat3{{cp, 0, sp}, {0, 1, 0}, {-sp, 0, cp}}
	rz := mat3{{cy, -sy, 0}, {sy, cy, 0}, {0, 0, 1}}
	dRx := mat3{{0, 0, 0}, {0, -sr, -cr}, {0, cr, -sr}}
	dRy := mat3{{-sp, 0, cp}, {0, 0, 0}, {-cp, 0, -sp}}
	dRz := mat3{{-sy, -cy, 0}, {cy, -sy, 0}, {0, 0, 0}}

	rot := mulMat3(rz, mulMat3(ry, rx))
	dRoll := mulMat3(rz, mulMat3(ry, dRx))
	dPitch := mulMat3(rz, mulMat3(dRy, rx))
	dYaw := mulMat3(dRz, mulMat3(ry, rx))
	t := r3.Vector{X: x[0], Y: x[1], Z: x[2]}

	part := func(lo, hi int) [6]float64 {
		var g [6]float64
		for i := lo; i < hi; i++ {
			s := m.source[i]
			g3 := m.pointGradient(mat3Vec(rot, s).Add(t))
			g[0] += g3.X
			g[1] += g3.Y
			g[2] += g3.Z
			g[3] += g3.Dot(mat3Vec(dRoll, s))
			g[4] += g3.Dot(mat3Vec(dPitch, s))
			g[5] += g3.Dot(mat3Vec(dYaw, s))
		}
		return g
	}

	if !m.parallel || m.cfg.NumThreads <= 1 {
		return part(0, len(m.source)), nil
	}

	chunk := (len(m.source) + m.cfg.NumThreads - 1) / m.cfg.NumThreads
	parts := make([][6]float64, 0, m.cfg.NumThreads)
	g, _ := errgroup.WithContext(ctx)
	for lo := 0; lo < len(m.source); lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > len(m.source) {
			hi = len(m.source)
		}
		parts = append(parts, [6]float64{})
		idx := len(parts) - 1
		g.Go(func() error {
			parts[idx] = part(lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return [6]float64{}, err
	}
	var total [6]float64
	for _, p := range parts {
		for i := range total {
			total[i] += p[i]
		}
	}
	return total, nil
}

// mat3 is a row-major 3x3 rotation block. The gradient only needs a few
// fixed-size products, not gonum's general machinery.
type mat3 [3][3]float64

func mulMat3(a, b mat3) mat3 {
	var out mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = a[r][0]*b[0][c] + a[r][1]*b[1][c] + a[r][2]*b[2][c]
		}
	}
	return out
}

func mat3Vec(m mat3, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

func quadForm(s *mat.SymDense, d r3.Vector) float64 {
	v := symVec(s, d)
	return d.X*v.X + d.Y*v.Y + d.Z*v.Z
}

func symVec(s *mat.SymDense, d r3.Vector) r3.Vector {
	return r3.Vector{
		X: s.At(0, 0)*d.X + s.At(0, 1)*d.Y + s.At(0, 2)*d.Z,
		Y: s.At(1, 0)*d.X + s.At(1, 1)*d.Y + s.At(1, 2)*d.Z,
		Z: s.At(2, 0)*d.X + s.At(2, 1)*d.Y + s.At(2, 2)*d.Z,
	}
}

func vecFromPose(p spatialmath.Pose) [6]float64 {
	pt := p.Point()
	e := p.Orientation().EulerAngles()
	return [6]float64{pt.X, pt.Y, pt.Z, e.Roll, e.Pitch, e.Yaw}
}

func poseFromVec(x [6]float64) spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: x[0], Y: x[1], Z: x[2]},
		&spatialmath.EulerAngles{Roll: x[3], Pitch: x[4], Yaw: x[5]},
	)
}

func vecNorm(x [6]float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func addScaled(x, dir [6]float64, s float64) [6]float64 {
	var out [6]float64
	for i := range x {
		out[i] = x[i] + s*dir[i]
	}
	return out
}

func meanSquaredToTarget(target *pointcloud.KDTree, pts []r3.Vector, pose spatialmath.Pose) float64 {
	if len(pts) == 0 {
		return math.MaxFloat64
	}
	var sum float64
	for _, p := range pts {
		_, d, ok := target.NearestNeighbor(spatialmath.TransformPoint(pose, p))
		if !ok {
			return math.MaxFloat64
		}
		sum += d
	}
	return sum / float64(len(pts))
}
