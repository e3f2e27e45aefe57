package msckf

import (
	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-msckf/types"
)

// Propagator produces the linearized time update for a block of state variables.
// It is implemented by IMU integrators: given the time span to cover it returns
// the state transition matrix Phi, the discrete process noise Q and the variable
// orders Phi is expressed in. Rows of Phi follow orderNew which must be a
// contiguous block of the state; columns follow orderOld which need not be.
type Propagator interface {
	// Propagation returns Phi, Q and the variable orders for the given time span
	Propagation(fromTime, toTime float64) (phi, q *mat.Dense, orderNew, orderOld []types.Variable, err error)
}

// UpdateBuilder produces a linearized measurement for the state update.
// It is implemented by measurement builders such as feature trackers and zero
// velocity detectors. The stacked Jacobian H has one column block per variable
// in the returned order.
type UpdateBuilder interface {
	// Measurement returns the Jacobian order, stacked Jacobian, residual and noise
	Measurement() (hOrder []types.Variable, h *mat.Dense, res *mat.VecDense, r *mat.Dense, err error)
}

// InitBuilder produces a linearized measurement for delayed initialization of
// a new state variable. The Jacobian is split into the part w.r.t. variables
// already in the state (hR, ordered by hOrder) and the part w.r.t. the new
// variable (hL). The noise r must be isotropic.
type InitBuilder interface {
	// Initialization returns the split measurement system for the new variable
	Initialization() (newVar types.Variable, hOrder []types.Variable, hR, hL, r *mat.Dense, res *mat.VecDense, chi2Mult float64, err error)
}

// Camera is an external camera model which mirrors the estimated intrinsic
// calibration. Implementations are owned by the feature tracker; the state
// core only pushes updated values into them.
type Camera interface {
	// SetValue sets the camera intrinsic parameters
	SetValue(v *mat.VecDense)
}
