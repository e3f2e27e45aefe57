package state

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	msckf "github.com/milosgajdos/go-msckf"
	"github.com/milosgajdos/go-msckf/types"
)

// Options configures which variables the state tracks and when clones and
// features leave it.
type Options struct {
	// MaxCloneSize is the sliding window size of historical IMU poses
	MaxCloneSize int
	// MaxSLAMFeatures is the number of SLAM features kept in the state
	MaxSLAMFeatures int
	// MaxArucoFeatures is the number of protected aruco landmarks
	MaxArucoFeatures int
	// NumCameras is the number of cameras with calibration variables
	NumCameras int
	// DoCalibCameraPose enables camera extrinsic calibration
	DoCalibCameraPose bool
	// DoCalibCameraIntrinsics enables camera intrinsic calibration
	DoCalibCameraIntrinsics bool
	// DoCalibCameraTimeoffset enables camera to IMU time offset calibration
	DoCalibCameraTimeoffset bool
}

// State owns the ordered error-state variables and their covariance. The
// variables slice and the covariance always agree: variables[0] starts at row
// zero, adjacent variables occupy adjacent blocks, and the sum of variable
// sizes equals the covariance side. The embedded mutex serializes structural
// mutations (marginalization, clone and feature map erasure) against external
// readers; the algebraic operations assume the caller holds exclusive access.
type State struct {
	sync.Mutex

	// Timestamp is the time of the active estimate
	Timestamp float64
	// Options holds the state configuration
	Options Options

	// IMU is the active inertial state
	IMU *types.IMU
	// ClonesIMU maps clone timestamps to historical IMU poses
	ClonesIMU map[float64]*types.PoseJPL
	// FeaturesSLAM maps feature ids to landmark variables
	FeaturesSLAM map[int]*types.Landmark
	// CalibDtCAMtoIMU is the camera to IMU time offset
	CalibDtCAMtoIMU *types.Vec
	// CalibIMUtoCAM maps camera ids to extrinsic calibration poses
	CalibIMUtoCAM map[int]*types.PoseJPL
	// CamIntrinsics maps camera ids to intrinsic calibration vectors
	CamIntrinsics map[int]*types.Vec
	// Cameras maps camera ids to the external camera models which mirror
	// the estimated intrinsics
	Cameras map[int]msckf.Camera

	variables []types.Variable
	cov       *mat.Dense
}

// New creates a new State for the given options. The IMU occupies the first
// fifteen rows; calibration variables follow when their option is enabled.
// The covariance starts as a small multiple of identity over the tracked
// variables.
func New(opts Options) *State {
	s := &State{
		Options:       opts,
		ClonesIMU:     make(map[float64]*types.PoseJPL),
		FeaturesSLAM:  make(map[int]*types.Landmark),
		CalibIMUtoCAM: make(map[int]*types.PoseJPL),
		CamIntrinsics: make(map[int]*types.Vec),
		Cameras:       make(map[int]msckf.Camera),
	}

	s.IMU = types.NewIMU()
	s.IMU.SetLocalID(0)
	s.variables = append(s.variables, s.IMU)
	currID := s.IMU.Size()

	s.CalibDtCAMtoIMU = types.NewVec(1)
	if opts.DoCalibCameraTimeoffset {
		s.CalibDtCAMtoIMU.SetLocalID(currID)
		s.variables = append(s.variables, s.CalibDtCAMtoIMU)
		currID += s.CalibDtCAMtoIMU.Size()
	}

	for i := 0; i < opts.NumCameras; i++ {
		pose := types.NewPoseJPL()
		intr := types.NewVec(8)
		s.CalibIMUtoCAM[i] = pose
		s.CamIntrinsics[i] = intr

		if opts.DoCalibCameraPose {
			pose.SetLocalID(currID)
			s.variables = append(s.variables, pose)
			currID += pose.Size()
		}
		if opts.DoCalibCameraIntrinsics {
			intr.SetLocalID(currID)
			s.variables = append(s.variables, intr)
			currID += intr.Size()
		}
	}

	s.cov = mat.NewDense(currID, currID, nil)
	for i := 0; i < currID; i++ {
		s.cov.Set(i, i, 1e-3)
	}

	return s
}

// Dim returns the side of the covariance matrix.
func (s *State) Dim() int {
	r, _ := s.cov.Dims()

	return r
}

// Variables returns the ordered variables of the state.
func (s *State) Variables() []types.Variable {
	vars := make([]types.Variable, len(s.variables))
	copy(vars, s.variables)

	return vars
}

// MargTimestep returns the timestamp of the next clone to marginalize, the
// oldest one, or +Inf when the state holds no clones.
func (s *State) MargTimestep() float64 {
	t := math.Inf(1)
	for ts := range s.ClonesIMU {
		if ts < t {
			t = ts
		}
	}

	return t
}
