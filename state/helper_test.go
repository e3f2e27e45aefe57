package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-msckf/matrix"
	"github.com/milosgajdos/go-msckf/types"
)

func TestPropagateIdentity(t *testing.T) {
	assert := assert.New(t)

	s, vars := newVecState(1, 1, 1)
	cov := randPSD(3, 2)
	assert.NoError(s.SetInitialCovariance(cov, vars))
	before := s.FullCovariance()

	// identity dynamics with zero noise leave the covariance unchanged
	assert.NoError(s.Propagate(vars, vars, eye(3), mat.NewDense(3, 3, nil)))
	assert.True(mat.EqualApprox(before, s.FullCovariance(), 1e-12))
	checkInvariants(t, s)
}

func TestPropagateCoupling(t *testing.T) {
	assert := assert.New(t)

	s, vars := newVecState(1, 1)
	dt := 0.5
	phi := mat.NewDense(2, 2, []float64{1, dt, 0, 1})

	assert.NoError(s.Propagate(vars, vars, phi, mat.NewDense(2, 2, nil)))

	// with unit covariance: Phi*Phi^T = [1+dt^2 dt; dt 1]
	want := mat.NewDense(2, 2, []float64{1 + dt*dt, dt, dt, 1})
	assert.True(mat.EqualApprox(want, s.FullCovariance(), 1e-12))
	checkInvariants(t, s)
}

func TestPropagateReordered(t *testing.T) {
	assert := assert.New(t)

	s, vars := newVecState(1, 1)
	cov := randPSD(2, 3)
	assert.NoError(s.SetInitialCovariance(cov, vars))
	before := s.FullCovariance()

	// orderOld reversed: the identity in reversed column order is a swap
	phi := mat.NewDense(2, 2, []float64{0, 1, 1, 0})
	assert.NoError(s.Propagate(vars, []types.Variable{vars[1], vars[0]}, phi, mat.NewDense(2, 2, nil)))
	assert.True(mat.EqualApprox(before, s.FullCovariance(), 1e-12))
}

func TestPropagateContract(t *testing.T) {
	assert := assert.New(t)

	s, vars := newVecState(1, 1, 1)

	// empty orders
	assert.Error(s.Propagate(nil, vars, eye(3), mat.NewDense(3, 3, nil)))
	assert.Error(s.Propagate(vars, nil, eye(3), mat.NewDense(3, 3, nil)))

	// non-contiguous orderNew
	swapped := []types.Variable{vars[2], vars[0]}
	assert.Error(s.Propagate(swapped, swapped, eye(2), mat.NewDense(2, 2, nil)))

	// dimension mismatches
	assert.Error(s.Propagate(vars, vars, eye(2), mat.NewDense(3, 3, nil)))
	assert.Error(s.Propagate(vars, vars, eye(3), mat.NewDense(2, 2, nil)))

	// a negative process noise drives the diagonal negative
	q := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		q.Set(i, i, -2)
	}
	assert.Error(s.Propagate(vars, vars, eye(3), q))
}

func TestUpdateScalar(t *testing.T) {
	assert := assert.New(t)

	s, vars := newVecState(1, 1)
	init := mat.NewDense(2, 2, []float64{4, 0, 0, 1})
	assert.NoError(s.SetInitialCovariance(init, vars))

	h := mat.NewDense(1, 2, []float64{1, 0})
	res := mat.NewVecDense(1, []float64{2})
	r := mat.NewDense(1, 1, []float64{1})

	assert.NoError(s.Update(vars, h, res, r))

	want := mat.NewDense(2, 2, []float64{0.8, 0, 0, 1})
	assert.True(mat.EqualApprox(want, s.FullCovariance(), 1e-12))
	assert.InDelta(1.6, vars[0].Value().AtVec(0), 1e-12)
	assert.InDelta(0.0, vars[1].Value().AtVec(0), 1e-12)
	checkInvariants(t, s)
}

func TestUpdateMonotonicity(t *testing.T) {
	assert := assert.New(t)

	s, vars := newVecState(2, 2)
	assert.NoError(s.SetInitialCovariance(randPSD(4, 4), vars))
	before := mat.Trace(s.FullCovariance())

	h := mat.NewDense(2, 4, []float64{
		1, 0.5, 0, 0,
		0, 1, -0.5, 1,
	})
	res := mat.NewVecDense(2, []float64{0.1, -0.1})
	assert.NoError(s.Update(vars, h, res, eye(2)))

	// fusing a measurement never increases the total uncertainty
	assert.LessOrEqual(mat.Trace(s.FullCovariance()), before)
	checkInvariants(t, s)
}

func TestUpdatePartialOrder(t *testing.T) {
	assert := assert.New(t)

	// a measurement referencing only the second variable still corrects the
	// first through their correlation
	s, vars := newVecState(1, 1)
	init := mat.NewDense(2, 2, []float64{1, 0.5, 0.5, 1})
	assert.NoError(s.SetInitialCovariance(init, vars))

	h := mat.NewDense(1, 1, []float64{1})
	res := mat.NewVecDense(1, []float64{1})
	r := mat.NewDense(1, 1, []float64{1})
	assert.NoError(s.Update([]types.Variable{vars[1]}, h, res, r))

	// K = P*H^T/(H*P*H^T+R) = [0.25; 0.5]
	assert.InDelta(0.25, vars[0].Value().AtVec(0), 1e-12)
	assert.InDelta(0.5, vars[1].Value().AtVec(0), 1e-12)
	checkInvariants(t, s)
}

func TestUpdateContract(t *testing.T) {
	assert := assert.New(t)

	s, vars := newVecState(1, 1)

	// empty order
	assert.Error(s.Update(nil, eye(1), mat.NewVecDense(1, nil), eye(1)))
	// Jacobian does not match the order size
	assert.Error(s.Update(vars, eye(1), mat.NewVecDense(1, nil), eye(1)))
	// residual does not match the noise
	assert.Error(s.Update(vars, mat.NewDense(1, 2, nil), mat.NewVecDense(2, nil), eye(1)))

	// an indefinite residual covariance fails the Cholesky factorization
	h := mat.NewDense(1, 2, []float64{1, 0})
	r := mat.NewDense(1, 1, []float64{-2})
	assert.Error(s.Update(vars, h, mat.NewVecDense(1, []float64{1}), r))
}

func TestMarginalCovarianceRoundTrip(t *testing.T) {
	assert := assert.New(t)

	s, vars := newVecState(2, 3)
	// block diagonal initial covariance round-trips exactly
	init := mat.NewDense(5, 5, nil)
	matrix.SetBlock(init, 0, 0, mat.NewDense(2, 2, []float64{2, 0.3, 0.3, 1}))
	matrix.SetBlock(init, 2, 2, randPSD(3, 5))
	matrix.ReflectUpper(init)

	assert.NoError(s.SetInitialCovariance(init, vars))
	assert.True(mat.EqualApprox(init, s.MarginalCovariance(vars), 1e-12))

	// gathering in reversed order permutes the blocks
	rev := s.MarginalCovariance([]types.Variable{vars[1], vars[0]})
	assert.True(mat.EqualApprox(
		matrix.Block(rev, 0, 0, 3, 3),
		matrix.Block(init, 2, 2, 3, 3),
		1e-12,
	))
	assert.True(mat.EqualApprox(
		matrix.Block(rev, 3, 3, 2, 2),
		matrix.Block(init, 0, 0, 2, 2),
		1e-12,
	))
}

func TestMarginalizeMiddle(t *testing.T) {
	assert := assert.New(t)

	s, vars := newVecState(3, 3, 3)
	cov := randPSD(9, 6)
	assert.NoError(s.SetInitialCovariance(cov, vars))
	before := s.FullCovariance()

	assert.NoError(s.Marginalize(vars[1]))

	// the result is exactly the original with rows/cols 3..5 deleted
	want := mat.NewDense(6, 6, nil)
	matrix.SetBlock(want, 0, 0, matrix.Block(before, 0, 0, 3, 3))
	matrix.SetBlock(want, 0, 3, matrix.Block(before, 0, 6, 3, 3))
	matrix.SetBlock(want, 3, 0, matrix.Block(before, 6, 0, 3, 3))
	matrix.SetBlock(want, 3, 3, matrix.Block(before, 6, 6, 3, 3))
	assert.True(mat.EqualApprox(want, s.FullCovariance(), 1e-12))

	assert.Equal(-1, vars[1].ID())
	assert.Equal(0, vars[0].ID())
	assert.Equal(3, vars[2].ID())
	assert.Len(s.Variables(), 2)
	checkInvariants(t, s)

	// a detached variable cannot be marginalized again
	assert.Error(s.Marginalize(vars[1]))
}

func TestMarginalizeSubvariable(t *testing.T) {
	assert := assert.New(t)

	s := New(Options{})
	// sub-variable marginalization is unsupported
	assert.Error(s.Marginalize(s.IMU.Pos()))
}

func TestCloneEquivalence(t *testing.T) {
	assert := assert.New(t)

	s, vars := newVecState(2, 3)
	assert.NoError(s.SetInitialCovariance(randPSD(5, 7), vars))
	before := s.FullCovariance()

	c, err := s.Clone(vars[1])
	assert.NoError(err)
	assert.Equal(5, c.ID())
	assert.Equal(8, s.Dim())
	assert.True(mat.EqualApprox(vars[1].Value(), c.Value(), 1e-12))

	// source block, clone block and cross block are identical
	cov := s.FullCovariance()
	src := matrix.Block(cov, 2, 2, 3, 3)
	dst := matrix.Block(cov, 5, 5, 3, 3)
	cross := matrix.Block(cov, 2, 5, 3, 3)
	assert.True(mat.EqualApprox(src, dst, 1e-12))
	assert.True(mat.EqualApprox(src, cross, 1e-12))
	checkInvariants(t, s)

	// marginalizing the clone right away restores the original state
	assert.NoError(s.Marginalize(c))
	assert.True(mat.EqualApprox(before, s.FullCovariance(), 1e-12))
	checkInvariants(t, s)
}

func TestCloneIMUPose(t *testing.T) {
	assert := assert.New(t)

	s := New(Options{})
	assert.NoError(s.SetInitialCovariance(randPSD(15, 8), []types.Variable{s.IMU}))
	before := s.FullCovariance()

	cloned, err := s.Clone(s.IMU.Pose())
	assert.NoError(err)
	assert.Equal(21, s.Dim())
	assert.Equal(15, cloned.ID())

	pose, ok := cloned.(*types.PoseJPL)
	assert.True(ok)
	assert.True(mat.EqualApprox(s.IMU.Pose().Value(), pose.Value(), 1e-12))

	cov := s.FullCovariance()
	assert.True(mat.EqualApprox(
		matrix.Block(cov, 15, 0, 6, 15),
		matrix.Block(before, 0, 0, 6, 15),
		1e-12,
	))
	assert.True(mat.EqualApprox(
		matrix.Block(cov, 15, 15, 6, 6),
		matrix.Block(before, 0, 0, 6, 6),
		1e-12,
	))
	checkInvariants(t, s)
}

func TestCloneAbsent(t *testing.T) {
	assert := assert.New(t)

	s, _ := newVecState(2)
	_, err := s.Clone(types.NewVec(2))
	assert.Error(err)
}

func TestAugmentClone(t *testing.T) {
	assert := assert.New(t)

	s := New(Options{DoCalibCameraTimeoffset: true})
	assert.Equal(16, s.Dim())
	assert.NoError(s.SetInitialCovariance(eye(16), []types.Variable{s.IMU, s.CalibDtCAMtoIMU}))

	// give the IMU a velocity so the time offset Jacobian is non-trivial
	dx := mat.NewVecDense(15, nil)
	dx.SetVec(6, 1)
	dx.SetVec(7, 2)
	dx.SetVec(8, 3)
	assert.NoError(s.IMU.Update(dx))

	s.Timestamp = 0.5
	w := mat.NewVecDense(3, []float64{0.1, 0.2, 0.3})
	pose, err := s.AugmentClone(w)
	assert.NoError(err)
	assert.Equal(22, s.Dim())
	assert.Equal(16, pose.ID())
	assert.Equal(pose, s.ClonesIMU[0.5])

	// the cloned pose depends on the time offset to first order: with unit
	// covariance the cross term is J = [w; v] and the pose block I + J*J^T
	j := []float64{0.1, 0.2, 0.3, 1, 2, 3}
	cov := s.FullCovariance()
	for i := 0; i < 6; i++ {
		assert.InDelta(j[i], cov.At(15, 16+i), 1e-12)
		assert.InDelta(j[i], cov.At(16+i, 15), 1e-12)
		for k := 0; k < 6; k++ {
			want := j[i] * j[k]
			if i == k {
				want++
			}
			assert.InDelta(want, cov.At(16+i, 16+k), 1e-12)
		}
	}
	checkInvariants(t, s)

	// a clone at the same timestamp is refused
	_, err = s.AugmentClone(w)
	assert.Error(err)
}

func TestMarginalizeOldClone(t *testing.T) {
	assert := assert.New(t)

	s := New(Options{MaxCloneSize: 2})
	for _, ts := range []float64{0.1, 0.2, 0.3} {
		s.Timestamp = ts
		_, err := s.AugmentClone(mat.NewVecDense(3, nil))
		assert.NoError(err)
	}
	assert.Len(s.ClonesIMU, 3)
	assert.Equal(15+3*6, s.Dim())

	assert.NoError(s.MarginalizeOldClone())
	assert.Len(s.ClonesIMU, 2)
	assert.Equal(15+2*6, s.Dim())
	_, ok := s.ClonesIMU[0.1]
	assert.False(ok)
	checkInvariants(t, s)

	// within the window nothing happens
	assert.NoError(s.MarginalizeOldClone())
	assert.Len(s.ClonesIMU, 2)
}

func TestMarginalizeSLAM(t *testing.T) {
	assert := assert.New(t)

	s, _ := newVecState(3)
	s.Options.MaxArucoFeatures = 1

	protected := types.NewLandmark(2)
	regular := types.NewLandmark(10)
	for _, lm := range []*types.Landmark{protected, regular} {
		lm.SetLocalID(s.Dim())
		s.growCov(lm.Size())
		s.variables = append(s.variables, lm)
		s.FeaturesSLAM[lm.FeatID] = lm
	}
	for i := 0; i < s.Dim(); i++ {
		s.cov.Set(i, i, 1)
	}

	protected.ShouldMarg = true
	regular.ShouldMarg = true

	ct, err := s.MarginalizeSLAM()
	assert.NoError(err)
	// aruco landmarks (id <= 4*max) survive their flag
	assert.Equal(1, ct)
	assert.Equal(6, s.Dim())
	assert.Equal(-1, regular.ID())
	assert.Contains(s.FeaturesSLAM, 2)
	assert.NotContains(s.FeaturesSLAM, 10)
	checkInvariants(t, s)
}

type fakeCamera struct {
	val *mat.VecDense
}

func (c *fakeCamera) SetValue(v *mat.VecDense) { c.val = v }

func TestUpdateMirrorsIntrinsics(t *testing.T) {
	assert := assert.New(t)

	s := New(Options{NumCameras: 1, DoCalibCameraIntrinsics: true})
	cam := &fakeCamera{}
	s.Cameras[0] = cam

	intr := s.CamIntrinsics[0]
	h := mat.NewDense(1, 8, nil)
	h.Set(0, 0, 1)
	res := mat.NewVecDense(1, []float64{1})
	r := mat.NewDense(1, 1, []float64{1e-3})

	assert.NoError(s.Update([]types.Variable{intr}, h, res, r))
	assert.NotNil(cam.val)
	assert.True(mat.EqualApprox(intr.Value(), cam.val, 1e-12))
	assert.Greater(cam.val.AtVec(0), 0.0)
}
