package state

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-msckf/matrix"
	"github.com/milosgajdos/go-msckf/types"
)

// Propagate performs the EKF time update of the covariance with the state
// transition matrix phi and the discrete process noise q. Rows of phi follow
// orderNew which must be a contiguous block of the state; columns follow
// orderOld which need not be. The variable values are not touched: the caller
// has already integrated them.
// It returns error if either order is empty, orderNew is not contiguous, the
// matrix dimensions do not match the orders, or the propagation produces a
// negative covariance diagonal. Errors are fatal to the filter.
func (s *State) Propagate(orderNew, orderOld []types.Variable, phi, q *mat.Dense) error {
	if len(orderNew) == 0 || len(orderOld) == 0 {
		return fmt.Errorf("propagate: called with empty variable orders")
	}

	// phi predicts a block of rows which must be contiguous in the state
	sizeNew := orderNew[0].Size()
	for i := 0; i < len(orderNew)-1; i++ {
		if orderNew[i].ID()+orderNew[i].Size() != orderNew[i+1].ID() {
			return fmt.Errorf("propagate: called with non-contiguous state elements")
		}
		sizeNew += orderNew[i+1].Size()
	}

	sizeOld := 0
	for _, v := range orderOld {
		sizeOld += v.Size()
	}

	pr, pc := phi.Dims()
	qr, qc := q.Dims()
	if pr != sizeNew || pc != sizeOld {
		return fmt.Errorf("propagate: invalid phi dimensions: [%d x %d]", pr, pc)
	}
	if qr != sizeNew || qc != sizeNew {
		return fmt.Errorf("propagate: invalid process noise dimensions: [%d x %d]", qr, qc)
	}

	phiID := orderLocations(orderOld)
	n := s.Dim()

	// Cov_PhiT = Cov * Phi^T accumulated over the column stripes of orderOld
	covPhiT := mat.NewDense(n, pr, nil)
	for i, v := range orderOld {
		prod := &mat.Dense{}
		prod.Mul(
			matrix.Block(s.cov, 0, v.ID(), n, v.Size()),
			matrix.Block(phi, 0, phiID[i], pr, v.Size()).T(),
		)
		covPhiT.Add(covPhiT, prod)
	}

	// Phi_Cov_PhiT = Phi * (rows of Cov_PhiT selected by orderOld) + Q
	phiCovPhiT := mat.NewDense(pr, pr, nil)
	phiCovPhiT.Copy(q)
	for i, v := range orderOld {
		prod := &mat.Dense{}
		prod.Mul(
			matrix.Block(phi, 0, phiID[i], pr, v.Size()),
			matrix.Block(covPhiT, v.ID(), 0, v.Size(), pr),
		)
		phiCovPhiT.Add(phiCovPhiT, prod)
	}

	start := orderNew[0].ID()
	matrix.SetBlock(s.cov, start, 0, covPhiT.T())
	matrix.SetBlock(s.cov, 0, start, covPhiT)
	matrix.ReflectUpper(phiCovPhiT)
	matrix.SetBlock(s.cov, start, start, phiCovPhiT)

	return s.checkDiagonal("propagate")
}

// Update performs the EKF measurement update in compressed form: the full
// Jacobian over the state is never built, only the column blocks named by
// hOrder contribute to Cov*H^T. The stacked Jacobian h has one column block
// per variable in hOrder, res is the residual and r the measurement noise.
// It returns error if the dimensions do not match, the residual covariance is
// not positive definite, or the update produces a negative covariance
// diagonal. Errors are fatal to the filter.
func (s *State) Update(hOrder []types.Variable, h *mat.Dense, res *mat.VecDense, r *mat.Dense) error {
	if len(hOrder) == 0 {
		return fmt.Errorf("update: called with an empty Jacobian order")
	}

	hr, hc := h.Dims()
	rr, rc := r.Dims()
	if rr != rc || res.Len() != rr {
		return fmt.Errorf("update: invalid noise dimensions: [%d x %d]", rr, rc)
	}
	if hr != res.Len() || hc != orderSize(hOrder) {
		return fmt.Errorf("update: invalid Jacobian dimensions: [%d x %d]", hr, hc)
	}

	m := res.Len()
	n := s.Dim()
	hID := orderLocations(hOrder)

	// M = Cov * H^T, one row block per state variable
	ma := mat.NewDense(n, m, nil)
	for _, v := range s.variables {
		mi := mat.NewDense(v.Size(), m, nil)
		for i, meas := range hOrder {
			prod := &mat.Dense{}
			prod.Mul(
				matrix.Block(s.cov, v.ID(), meas.ID(), v.Size(), meas.Size()),
				matrix.Block(h, 0, hID[i], hr, meas.Size()).T(),
			)
			mi.Add(mi, prod)
		}
		matrix.SetBlock(ma, v.ID(), 0, mi)
	}

	// S = H * P_small * H^T + R
	pSmall := s.MarginalCovariance(hOrder)
	hp := &mat.Dense{}
	hp.Mul(h, pSmall)
	hph := &mat.Dense{}
	hph.Mul(hp, h.T())

	sy := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			sy.SetSym(i, j, hph.At(i, j)+r.At(i, j))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sy); !ok {
		return fmt.Errorf("update: residual covariance is not positive definite")
	}
	var sInv mat.SymDense
	if err := chol.InverseTo(&sInv); err != nil {
		return fmt.Errorf("update: failed to invert residual covariance: %v", err)
	}

	// K = M * S^-1
	k := &mat.Dense{}
	k.Mul(ma, &sInv)

	// Cov = Cov - K*M^T, symmetric by construction up to roundoff
	km := &mat.Dense{}
	km.Mul(k, ma.T())
	s.cov.Sub(s.cov, km)
	matrix.ReflectUpper(s.cov)

	if err := s.checkDiagonal("update"); err != nil {
		return err
	}

	// dx = K*res applied through each variable boxplus
	dx := mat.NewVecDense(n, nil)
	dx.MulVec(k, res)
	for _, v := range s.variables {
		if err := v.Update(dx.SliceVec(v.ID(), v.ID()+v.Size()).(*mat.VecDense)); err != nil {
			return fmt.Errorf("update: variable at %d: %v", v.ID(), err)
		}
	}

	// mirror estimated intrinsics into the external camera models
	if s.Options.DoCalibCameraIntrinsics {
		for id, calib := range s.CamIntrinsics {
			if cam, ok := s.Cameras[id]; ok && cam != nil {
				cam.SetValue(calib.Value())
			}
		}
	}

	return nil
}

// SetInitialCovariance overwrites the covariance blocks of the listed
// variables with the given matrix. The caller guarantees block-diagonal
// separation between listed and unlisted variables. The upper triangle is
// reflected afterwards to keep the covariance symmetric.
// It returns error if the matrix side does not match the order.
func (s *State) SetInitialCovariance(cov *mat.Dense, order []types.Variable) error {
	cr, cc := cov.Dims()
	if size := orderSize(order); cr != cc || cr != size {
		return fmt.Errorf("set initial covariance: invalid dimensions: [%d x %d] for order of size %d", cr, cc, size)
	}

	i := 0
	for _, a := range order {
		k := 0
		for _, b := range order {
			matrix.SetBlock(s.cov, a.ID(), b.ID(), matrix.Block(cov, i, k, a.Size(), b.Size()))
			k += b.Size()
		}
		i += a.Size()
	}
	matrix.ReflectUpper(s.cov)

	return nil
}

// MarginalCovariance returns the covariance of the listed variables gathered
// block by block in order. The state is not modified.
func (s *State) MarginalCovariance(order []types.Variable) *mat.Dense {
	small := mat.NewDense(orderSize(order), orderSize(order), nil)

	i := 0
	for _, a := range order {
		k := 0
		for _, b := range order {
			matrix.SetBlock(small, i, k, matrix.Block(s.cov, a.ID(), b.ID(), a.Size(), b.Size()))
			k += b.Size()
		}
		i += a.Size()
	}

	return small
}

// FullCovariance returns a copy of the full covariance matrix.
func (s *State) FullCovariance() *mat.Dense {
	return mat.DenseCopyOf(s.cov)
}

// Marginalize removes the variable v from the state: its rows and columns
// are cut out of the covariance, the remaining variables are compacted and v
// is detached (id -1). Only top-level variables can be marginalized.
// It returns error if v is not a top-level entry of the state.
func (s *State) Marginalize(v types.Variable) error {
	found := false
	for _, x := range s.variables {
		if x == v {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("marginalize: variable is not in the state (sub-variables are not supported)")
	}

	margID := v.ID()
	margSize := v.Size()
	if s.Dim() == margSize {
		return fmt.Errorf("marginalize: cannot remove the last variable of the state")
	}
	x2 := s.Dim() - margID - margSize

	covNew := mat.NewDense(s.Dim()-margSize, s.Dim()-margSize, nil)
	if margID > 0 {
		matrix.SetBlock(covNew, 0, 0, matrix.Block(s.cov, 0, 0, margID, margID))
	}
	if margID > 0 && x2 > 0 {
		matrix.SetBlock(covNew, 0, margID, matrix.Block(s.cov, 0, margID+margSize, margID, x2))
		matrix.SetBlock(covNew, margID, 0, matrix.Block(covNew, 0, margID, margID, x2).T())
	}
	if x2 > 0 {
		matrix.SetBlock(covNew, margID, margID, matrix.Block(s.cov, margID+margSize, margID+margSize, x2, x2))
	}
	s.cov = covNew

	remaining := make([]types.Variable, 0, len(s.variables)-1)
	for _, x := range s.variables {
		if x == v {
			continue
		}
		if x.ID() > margID {
			x.SetLocalID(x.ID() - margSize)
		}
		remaining = append(remaining, x)
	}
	s.variables = remaining
	v.SetLocalID(-1)

	return nil
}

// Clone duplicates the variable v, which may be a top-level variable or a
// subvariable of one, and appends the duplicate to the end of the state. The
// covariance grows by v.Size() and the column stripe, row stripe and diagonal
// block of v are copied to the new location, making the clone perfectly
// correlated with its source.
// It returns error if v cannot be located in the state.
func (s *State) Clone(v types.Variable) (types.Variable, error) {
	total := v.Size()
	oldSize := s.Dim()
	newLoc := oldSize

	s.growCov(total)

	var clone types.Variable
	for _, x := range s.variables {
		src := x.CheckIfSubvariable(v)
		if x == v {
			src = x
		} else if src != v {
			continue
		}

		oldLoc := src.ID()
		matrix.SetBlock(s.cov, newLoc, newLoc, matrix.Block(s.cov, oldLoc, oldLoc, total, total))
		matrix.SetBlock(s.cov, 0, newLoc, matrix.Block(s.cov, 0, oldLoc, oldSize, total))
		matrix.SetBlock(s.cov, newLoc, 0, matrix.Block(s.cov, oldLoc, 0, total, oldSize))

		clone = src.Clone()
		clone.SetLocalID(newLoc)
		break
	}

	if clone == nil {
		return nil, fmt.Errorf("clone: variable is not in the state")
	}

	s.variables = append(s.variables, clone)

	return clone, nil
}

// AugmentClone clones the active IMU pose and registers the clone under the
// current state timestamp. lastW is the last angular velocity, used together
// with the IMU velocity to account for the first-order dependence of the
// cloned pose on the camera to IMU time offset when its calibration is on.
// It returns error if a clone already exists at the current timestamp or the
// cloned variable is not a pose.
func (s *State) AugmentClone(lastW *mat.VecDense) (*types.PoseJPL, error) {
	if _, ok := s.ClonesIMU[s.Timestamp]; ok {
		return nil, fmt.Errorf("augment clone: clone at timestamp %v already exists", s.Timestamp)
	}

	cloned, err := s.Clone(s.IMU.Pose())
	if err != nil {
		return nil, fmt.Errorf("augment clone: %v", err)
	}
	pose, ok := cloned.(*types.PoseJPL)
	if !ok {
		return nil, fmt.Errorf("augment clone: cloned variable is not a pose")
	}

	s.ClonesIMU[s.Timestamp] = pose

	if s.Options.DoCalibCameraTimeoffset {
		if lastW == nil || lastW.Len() != 3 {
			return nil, fmt.Errorf("augment clone: invalid angular velocity")
		}

		// dnc/dt = [w; v]: the clone moves with the body rates per unit
		// of time offset
		dncdt := mat.NewDense(6, 1, nil)
		vel := s.IMU.Vel().Value()
		for i := 0; i < 3; i++ {
			dncdt.Set(i, 0, lastW.AtVec(i))
			dncdt.Set(i+3, 0, vel.AtVec(i))
		}

		n := s.Dim()
		dtID := s.CalibDtCAMtoIMU.ID()

		prod := &mat.Dense{}
		prod.Mul(matrix.Block(s.cov, 0, dtID, n, 1), dncdt.T())
		matrix.AddBlock(s.cov, 0, pose.ID(), prod)

		prod = &mat.Dense{}
		prod.Mul(dncdt, matrix.Block(s.cov, dtID, 0, 1, n))
		matrix.AddBlock(s.cov, pose.ID(), 0, prod)
	}

	return pose, nil
}

// MarginalizeOldClone removes the oldest clone once the sliding window has
// grown beyond Options.MaxCloneSize. The structural mutex is held while the
// clone leaves the state and the clone map.
// It returns error if the marginalization fails.
func (s *State) MarginalizeOldClone() error {
	if len(s.ClonesIMU) <= s.Options.MaxCloneSize {
		return nil
	}

	margTime := s.MargTimestep()
	s.Lock()
	defer s.Unlock()
	if math.IsInf(margTime, 1) {
		return fmt.Errorf("marginalize old clone: no clone to marginalize")
	}
	if err := s.Marginalize(s.ClonesIMU[margTime]); err != nil {
		return err
	}
	delete(s.ClonesIMU, margTime)

	return nil
}

// MarginalizeSLAM removes every SLAM feature whose marginalization flag is
// set, keeping aruco landmarks: features with ids at or below
// 4*Options.MaxArucoFeatures are never removed. It returns the number of
// marginalized features.
func (s *State) MarginalizeSLAM() (int, error) {
	s.Lock()
	defer s.Unlock()

	marginalized := 0
	for id, lm := range s.FeaturesSLAM {
		if !lm.ShouldMarg || id <= 4*s.Options.MaxArucoFeatures {
			continue
		}
		if err := s.Marginalize(lm); err != nil {
			return marginalized, err
		}
		delete(s.FeaturesSLAM, id)
		marginalized++
	}

	return marginalized, nil
}

// growCov expands the covariance by the given number of rows and columns,
// preserving existing entries and zero-filling the growth.
func (s *State) growCov(by int) {
	n := s.Dim()
	grown := mat.NewDense(n+by, n+by, nil)
	if n > 0 {
		matrix.SetBlock(grown, 0, 0, s.cov)
	}
	s.cov = grown
}

// checkDiagonal returns a fatal error if the covariance diagonal went
// negative, which means the state is no longer a valid distribution.
func (s *State) checkDiagonal(op string) error {
	if idx, v := matrix.MinDiag(s.cov); v < 0 {
		return fmt.Errorf("%s: covariance diagonal at %d is negative: %g", op, idx, v)
	}

	return nil
}

// orderSize returns the total minimal dimension of the ordered variables.
func orderSize(order []types.Variable) int {
	size := 0
	for _, v := range order {
		size += v.Size()
	}

	return size
}

// orderLocations returns the column offset of each ordered variable inside a
// Jacobian expressed in that order.
func orderLocations(order []types.Variable) []int {
	locs := make([]int, len(order))
	curr := 0
	for i, v := range order {
		locs[i] = curr
		curr += v.Size()
	}

	return locs
}
