package state

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-msckf/matrix"
	"github.com/milosgajdos/go-msckf/types"
)

// newVecState builds a bare state of plain vector variables with identity
// covariance for the algebraic tests.
func newVecState(sizes ...int) (*State, []types.Variable) {
	s := &State{
		ClonesIMU:     make(map[float64]*types.PoseJPL),
		FeaturesSLAM:  make(map[int]*types.Landmark),
		CalibIMUtoCAM: make(map[int]*types.PoseJPL),
		CamIntrinsics: make(map[int]*types.Vec),
	}

	curr := 0
	vars := make([]types.Variable, 0, len(sizes))
	for _, size := range sizes {
		v := types.NewVec(size)
		v.SetLocalID(curr)
		s.variables = append(s.variables, v)
		vars = append(vars, v)
		curr += size
	}

	s.cov = mat.NewDense(curr, curr, nil)
	for i := 0; i < curr; i++ {
		s.cov.Set(i, i, 1)
	}

	return s, vars
}

// randPSD returns a random symmetric positive definite matrix.
func randPSD(n int, seed uint64) *mat.Dense {
	rnd := rand.New(rand.NewSource(seed))
	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rnd.NormFloat64())
		}
	}

	c := &mat.Dense{}
	c.Mul(a, a.T())
	for i := 0; i < n; i++ {
		c.Set(i, i, c.At(i, i)+0.1)
	}

	return c
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}

	return m
}

// checkInvariants verifies the universal state invariants: contiguous
// variable layout, covariance symmetry and a non-negative diagonal.
func checkInvariants(t *testing.T, s *State) {
	t.Helper()
	assert := assert.New(t)

	size := 0
	for i, v := range s.variables {
		if i == 0 {
			assert.Equal(0, v.ID())
		} else {
			prev := s.variables[i-1]
			assert.Equal(prev.ID()+prev.Size(), v.ID())
		}
		size += v.Size()
	}
	assert.Equal(size, s.Dim())

	assert.LessOrEqual(matrix.MaxAbsAsym(s.cov), 1e-9)
	_, min := matrix.MinDiag(s.cov)
	assert.GreaterOrEqual(min, -1e-12)
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	s := New(Options{MaxCloneSize: 11})
	assert.Equal(15, s.Dim())
	assert.Len(s.Variables(), 1)
	assert.Equal(0, s.IMU.ID())
	assert.Equal(-1, s.CalibDtCAMtoIMU.ID())
	checkInvariants(t, s)

	// covariance starts as a small multiple of identity
	assert.InDelta(1e-3, s.FullCovariance().At(0, 0), 1e-12)
}

func TestNewWithCalibration(t *testing.T) {
	assert := assert.New(t)

	s := New(Options{
		NumCameras:              2,
		DoCalibCameraPose:       true,
		DoCalibCameraIntrinsics: true,
		DoCalibCameraTimeoffset: true,
	})

	// IMU + dt + 2 x (extrinsic pose + 8 intrinsics)
	assert.Equal(15+1+2*(6+8), s.Dim())
	assert.Len(s.Variables(), 6)
	assert.Equal(15, s.CalibDtCAMtoIMU.ID())
	assert.Equal(16, s.CalibIMUtoCAM[0].ID())
	assert.Equal(22, s.CamIntrinsics[0].ID())
	checkInvariants(t, s)
}

func TestMargTimestep(t *testing.T) {
	assert := assert.New(t)

	s := New(Options{})
	assert.True(math.IsInf(s.MargTimestep(), 1))

	s.ClonesIMU[0.3] = types.NewPoseJPL()
	s.ClonesIMU[0.1] = types.NewPoseJPL()
	s.ClonesIMU[0.2] = types.NewPoseJPL()
	assert.InDelta(0.1, s.MargTimestep(), 1e-12)
}

func TestQuantile095(t *testing.T) {
	assert := assert.New(t)

	assert.InDelta(3.841, Quantile095(1), 1e-3)
	assert.InDelta(5.991, Quantile095(2), 1e-3)
	assert.InDelta(7.815, Quantile095(3), 1e-3)
	assert.InDelta(11.070, Quantile095(5), 1e-3)
	assert.InDelta(12.592, Quantile095(6), 1e-3)

	assert.Panics(func() { Quantile095(0) })
}

func TestFullCovariance(t *testing.T) {
	assert := assert.New(t)

	s, vars := newVecState(2, 2)
	cov := randPSD(4, 1)
	assert.NoError(s.SetInitialCovariance(cov, vars))

	full := s.FullCovariance()
	// the returned covariance is a copy
	full.Set(0, 0, -100)
	assert.GreaterOrEqual(s.FullCovariance().At(0, 0), 0.0)
}
