package sim

import (
	"fmt"
	"math"

	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"

	msckf "github.com/milosgajdos/go-msckf"
	"github.com/milosgajdos/go-msckf/estimate"
	"github.com/milosgajdos/go-msckf/noise"
	"github.com/milosgajdos/go-msckf/state"
	"github.com/milosgajdos/go-msckf/types"
)

// Config drives the synthetic visual-inertial run. The simulated body moves
// with constant velocity; noisy position measurements arrive at the camera
// rate and are fused against the newest clone, a landmark is initialized with
// a delayed measurement once two clones exist and is marginalized at the end
// of the run.
type Config struct {
	// Steps is the number of IMU steps to simulate
	Steps int
	// DT is the IMU step length in seconds
	DT float64
	// CamEvery is the number of IMU steps between camera frames
	CamEvery int
	// Window is the clone window size
	Window int
	// Vel is the true constant velocity
	Vel []float64
	// SigmaMeas is the position measurement deviation
	SigmaMeas float64
	// SigmaProc is the process noise deviation
	SigmaProc float64
	// Seed seeds the noise sources
	Seed uint64
}

// DefaultConfig returns a config for a short run with a ten clone window.
func DefaultConfig() Config {
	return Config{
		Steps:     400,
		DT:        0.01,
		CamEvery:  20,
		Window:    10,
		Vel:       []float64{1.0, 0.5, 0.0},
		SigmaMeas: 0.05,
		SigmaProc: 1e-3,
		Seed:      42,
	}
}

// Result collects the run output: the truth, measurement and estimate
// trajectories as rows of xyz positions, the per-frame estimate snapshots and
// the empirical covariance of the estimation error.
type Result struct {
	// Truth holds the true positions, one row per camera frame
	Truth *mat.Dense
	// Measured holds the measured positions, one row per camera frame
	Measured *mat.Dense
	// Filtered holds the estimated positions, one row per camera frame
	Filtered *mat.Dense
	// Estimates holds one snapshot of the estimated position per frame
	Estimates []*estimate.Base
	// ErrCov is the empirical covariance of the estimation error
	ErrCov mat.Symmetric
	// State is the final filter state
	State *state.State
}

// cvModel plays the IMU integrator of the run: a constant-velocity
// error-state model whose position errors integrate velocity errors.
type cvModel struct {
	imu       *types.IMU
	sigmaProc float64
}

// Propagation returns the constant-velocity transition and process noise for
// the given time span, expressed over the full inertial state.
func (m *cvModel) Propagation(fromTime, toTime float64) (*mat.Dense, *mat.Dense, []types.Variable, []types.Variable, error) {
	dt := toTime - fromTime
	if dt <= 0 {
		return nil, nil, nil, nil, fmt.Errorf("invalid propagation span: %v to %v", fromTime, toTime)
	}

	phi, err := matrix.NewDenseValIdentity(15, 1.0)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	for i := 0; i < 3; i++ {
		phi.Set(3+i, 6+i, dt)
	}

	q := mat.NewDense(15, 15, nil)
	for i := 0; i < 15; i++ {
		q.Set(i, i, m.sigmaProc*m.sigmaProc*dt)
	}

	order := []types.Variable{m.imu}

	return phi, q, order, order, nil
}

// posMeasurement plays the measurement builder of the run: a noisy global
// position observed at the newest clone.
type posMeasurement struct {
	pose *types.PoseJPL
	z    *mat.VecDense
	r    *mat.Dense
}

// Measurement returns the linearized position measurement on the clone.
func (p *posMeasurement) Measurement() ([]types.Variable, *mat.Dense, *mat.VecDense, *mat.Dense, error) {
	res := mat.NewVecDense(3, nil)
	res.SubVec(p.z, p.pose.Pos().Value())

	return []types.Variable{p.pose.Pos()}, eye(3), res, p.r, nil
}

var (
	_ msckf.Propagator    = (*cvModel)(nil)
	_ msckf.UpdateBuilder = (*posMeasurement)(nil)
)

// Run simulates a constant-velocity trajectory and drives the full state
// manager surface over it: propagation at IMU rate, cloning and update at
// camera rate, delayed landmark initialization, clone and feature
// marginalization. It returns error if any state operation fails.
func Run(cfg Config) (*Result, error) {
	if cfg.Steps <= 0 || cfg.DT <= 0 || cfg.CamEvery <= 0 {
		return nil, fmt.Errorf("invalid config: %+v", cfg)
	}
	if len(cfg.Vel) != 3 {
		return nil, fmt.Errorf("invalid velocity: %v", cfg.Vel)
	}

	st := state.New(state.Options{
		MaxCloneSize:     cfg.Window,
		MaxSLAMFeatures:  5,
		MaxArucoFeatures: 0,
	})

	// the filter knows the true velocity up front; only the position
	// wanders under process and measurement noise
	dx := mat.NewVecDense(15, nil)
	for i := 0; i < 3; i++ {
		dx.SetVec(6+i, cfg.Vel[i])
	}
	if err := st.IMU.Update(dx); err != nil {
		return nil, err
	}

	measNoise, err := noise.NewIsotropic(cfg.SigmaMeas, 3, cfg.Seed)
	if err != nil {
		return nil, err
	}
	procNoise, err := noise.NewGaussian(make([]float64, 3), scaledEye(3, cfg.SigmaProc*cfg.SigmaProc), cfg.Seed+1)
	if err != nil {
		return nil, err
	}

	model := &cvModel{imu: st.IMU, sigmaProc: cfg.SigmaProc}

	// the landmark sits ahead of the trajectory
	landmarkTruth := mat.NewVecDense(3, []float64{2.0, 2.0, 1.0})
	landmark := types.NewLandmark(4*st.Options.MaxArucoFeatures + 1)

	truth := mat.NewVecDense(3, nil)
	var rows [][3]float64
	var measRows [][3]float64
	var estRows [][3]float64
	var estimates []*estimate.Base
	var errCols []float64
	frames := 0

	for step := 1; step <= cfg.Steps; step++ {
		prevTime := st.Timestamp
		st.Timestamp = float64(step) * cfg.DT

		// truth and estimate move with the same constant velocity;
		// the truth also drifts with the process noise
		w := procNoise.Sample()
		for i := 0; i < 3; i++ {
			truth.SetVec(i, truth.AtVec(i)+cfg.Vel[i]*cfg.DT+w.AtVec(i)*cfg.DT)
		}
		step15 := mat.NewVecDense(15, nil)
		vel := st.IMU.Vel().Value()
		for i := 0; i < 3; i++ {
			step15.SetVec(3+i, vel.AtVec(i)*cfg.DT)
		}
		if err := st.IMU.Update(step15); err != nil {
			return nil, err
		}
		phi, q, orderNew, orderOld, err := model.Propagation(prevTime, st.Timestamp)
		if err != nil {
			return nil, err
		}
		if err := st.Propagate(orderNew, orderOld, phi, q); err != nil {
			return nil, err
		}

		if step%cfg.CamEvery != 0 {
			continue
		}

		// camera frame: clone the pose and fuse a position measurement
		pose, err := st.AugmentClone(mat.NewVecDense(3, nil))
		if err != nil {
			return nil, err
		}

		z := mat.NewVecDense(3, nil)
		z.AddVec(truth, measNoise.Sample())
		meas := &posMeasurement{pose: pose, z: z, r: measNoise.Dense()}
		hOrder, h, res, r, err := meas.Measurement()
		if err != nil {
			return nil, err
		}
		if err := st.Update(hOrder, h, res, r); err != nil {
			return nil, err
		}

		if landmark.ID() < 0 && len(st.ClonesIMU) >= 2 {
			if err := initLandmark(st, landmark, landmarkTruth, measNoise); err != nil {
				return nil, err
			}
		}

		if err := st.MarginalizeOldClone(); err != nil {
			return nil, err
		}

		pos := st.IMU.Pos().Value()
		rows = append(rows, [3]float64{truth.AtVec(0), truth.AtVec(1), truth.AtVec(2)})
		measRows = append(measRows, [3]float64{z.AtVec(0), z.AtVec(1), z.AtVec(2)})
		estRows = append(estRows, [3]float64{pos.AtVec(0), pos.AtVec(1), pos.AtVec(2)})

		est, err := estimate.NewBase(st.Timestamp, pos, st.MarginalCovariance([]types.Variable{st.IMU.Pos()}))
		if err != nil {
			return nil, err
		}
		estimates = append(estimates, est)

		for i := 0; i < 3; i++ {
			errCols = append(errCols, pos.AtVec(i)-truth.AtVec(i))
		}
		frames++
	}

	// retire the landmark before reporting
	if landmark.ID() >= 0 {
		landmark.ShouldMarg = true
		if _, err := st.MarginalizeSLAM(); err != nil {
			return nil, err
		}
	}

	// one error sample per camera frame, stored in columns
	errs := mat.NewDense(3, frames, nil)
	for f := 0; f < frames; f++ {
		for i := 0; i < 3; i++ {
			errs.Set(i, f, errCols[3*f+i])
		}
	}
	errCov, err := matrix.Cov(errs, "cols")
	if err != nil {
		return nil, fmt.Errorf("failed to compute error covariance: %v", err)
	}

	return &Result{
		Truth:     denseFromRows(rows),
		Measured:  denseFromRows(measRows),
		Filtered:  denseFromRows(estRows),
		Estimates: estimates,
		ErrCov:    errCov,
		State:     st,
	}, nil
}

// landmarkInit plays the delayed initializer of the run: stacked relative
// position measurements of the landmark against the newest clones, with
// z = l - p_clone. The Jacobian w.r.t. the landmark is then the identity and
// the one w.r.t. each clone position its negation.
type landmarkInit struct {
	lm     *types.Landmark
	clones []*types.PoseJPL
	zs     []*mat.VecDense
	sigma2 float64
}

var _ msckf.InitBuilder = (*landmarkInit)(nil)

// Initialization returns the split measurement system for the landmark.
func (li *landmarkInit) Initialization() (types.Variable, []types.Variable, *mat.Dense, *mat.Dense, *mat.Dense, *mat.VecDense, float64, error) {
	if len(li.clones) != len(li.zs) || len(li.clones) == 0 {
		return nil, nil, nil, nil, nil, nil, 0, fmt.Errorf("inconsistent landmark measurements: %d clones, %d measurements", len(li.clones), len(li.zs))
	}

	guess := li.lm.Value()
	hOrder := make([]types.Variable, 0, len(li.clones))
	rows := 3 * len(li.clones)
	hR := mat.NewDense(rows, rows, nil)
	hL := mat.NewDense(rows, 3, nil)
	res := mat.NewVecDense(rows, nil)
	r := mat.NewDense(rows, rows, nil)

	for i, c := range li.clones {
		hOrder = append(hOrder, c.Pos())
		pred := mat.NewVecDense(3, nil)
		pred.SubVec(guess, c.Pos().Value())
		for k := 0; k < 3; k++ {
			hR.Set(3*i+k, 3*i+k, -1)
			hL.Set(3*i+k, k, 1)
			res.SetVec(3*i+k, li.zs[i].AtVec(k)-pred.AtVec(k))
			r.Set(3*i+k, 3*i+k, li.sigma2)
		}
	}

	return li.lm, hOrder, hR, hL, r, res, 1.0, nil
}

// initLandmark attempts the delayed initialization of the landmark from the
// two newest clones.
func initLandmark(st *state.State, landmark *types.Landmark, truth *mat.VecDense, measNoise *noise.Isotropic) error {
	clones := newestClones(st, 2)

	zs := make([]*mat.VecDense, 0, len(clones))
	for _, c := range clones {
		// synthetic relative measurement around the estimated window keeps
		// the residuals small and the gate open
		z := mat.NewVecDense(3, nil)
		z.SubVec(truth, c.Pos().Value())
		z.AddVec(z, measNoise.Sample())
		zs = append(zs, z)
	}

	// seed the landmark estimate from the first measurement
	guess := mat.NewVecDense(3, nil)
	guess.AddVec(zs[0], clones[0].Pos().Value())
	if err := landmark.SetValue(guess); err != nil {
		return err
	}

	builder := &landmarkInit{
		lm:     landmark,
		clones: clones,
		zs:     zs,
		sigma2: measNoise.Dense().At(0, 0),
	}
	newVar, hOrder, hR, hL, r, res, chi2Mult, err := builder.Initialization()
	if err != nil {
		return err
	}

	ok, err := st.Initialize(newVar, hOrder, hR, hL, r, res, chi2Mult)
	if err != nil {
		return err
	}
	if ok {
		st.FeaturesSLAM[landmark.FeatID] = landmark
	}

	return nil
}

// newestClones returns up to n clones ordered from newest to oldest.
func newestClones(st *state.State, n int) []*types.PoseJPL {
	times := make([]float64, 0, len(st.ClonesIMU))
	for t := range st.ClonesIMU {
		times = append(times, t)
	}
	// selection by maximum is enough for the few clones the sim keeps
	clones := make([]*types.PoseJPL, 0, n)
	for len(clones) < n && len(times) > 0 {
		maxIdx := 0
		for i, t := range times {
			if t > times[maxIdx] {
				maxIdx = i
			}
		}
		clones = append(clones, st.ClonesIMU[times[maxIdx]])
		times = append(times[:maxIdx], times[maxIdx+1:]...)
	}

	return clones
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}

	return m
}

func scaledEye(n int, v float64) mat.Symmetric {
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, math.Max(v, 1e-12))
	}

	return m
}

func denseFromRows(rows [][3]float64) *mat.Dense {
	m := mat.NewDense(len(rows), 3, nil)
	for i, r := range rows {
		m.Set(i, 0, r[0])
		m.Set(i, 1, r[1])
		m.Set(i, 2, r[2])
	}

	return m
}
