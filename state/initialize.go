package state

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-msckf/matrix"
	"github.com/milosgajdos/go-msckf/types"
)

// Initialize adds newVar to the state using a measurement whose Jacobian is
// split into hR (w.r.t. the variables in hOrder) and hL (w.r.t. newVar). The
// system is first rotated by Givens QR so that hL becomes upper triangular:
// the top newVar.Size() rows form an invertible initializing system while the
// remaining rows no longer depend on newVar. The projected residual is gated
// with a Mahalanobis test against chi2Mult times the 0.95 chi-squared
// quantile; on rejection the state is left untouched and (false, nil) is
// returned. On acceptance the variable is initialized from the top system and
// the bottom system is applied as a regular update.
// hR, hL and res are rotated in place. The noise r must be isotropic: a
// diagonal matrix with one repeated value. Contract violations and update
// failures return a fatal error.
func (s *State) Initialize(newVar types.Variable, hOrder []types.Variable, hR, hL, r *mat.Dense, res *mat.VecDense, chi2Mult float64) (bool, error) {
	if len(hOrder) == 0 {
		return false, fmt.Errorf("initialize: called with an empty Jacobian order")
	}
	for _, x := range s.variables {
		if x == newVar {
			return false, fmt.Errorf("initialize: variable is already in the state at %d", newVar.ID())
		}
	}

	if err := checkIsotropic(r); err != nil {
		return false, fmt.Errorf("initialize: %v", err)
	}

	rows, cols := hL.Dims()
	size := newVar.Size()
	if cols != size {
		return false, fmt.Errorf("initialize: invalid new variable Jacobian dimensions: [%d x %d]", rows, cols)
	}
	if rows < size || res.Len() != rows {
		return false, fmt.Errorf("initialize: measurement system has %d rows for a variable of size %d", rows, size)
	}

	// Givens QR from the bottom of hL up: zero hL below its diagonal while
	// co-rotating hR and the residual with the same rotations
	for n := 0; n < cols; n++ {
		for m := rows - 1; m > n; m-- {
			c, sn := givens(hL.At(m-1, n), hL.At(m, n))
			rotateRows(hL, m-1, m, n, c, sn)
			rotateVec(res, m-1, m, c, sn)
			rotateRows(hR, m-1, m, 0, c, sn)
		}
	}

	// top rows initialize the variable, bottom rows update the state
	_, hrCols := hR.Dims()
	hxInit := matrix.Block(hR, 0, 0, size, hrCols)
	hfInit := matrix.Block(hL, 0, 0, size, size)
	resInit := res.SliceVec(0, size).(*mat.VecDense)
	rInit := matrix.Block(r, 0, 0, size, size)

	upRows := rows - size
	var hUp, rUp *mat.Dense
	var resUp *mat.VecDense
	if upRows > 0 {
		hUp = matrix.Block(hR, size, 0, upRows, hrCols)
		resUp = res.SliceVec(size, rows).(*mat.VecDense)
		rUp = matrix.Block(r, size, size, upRows, upRows)
	}

	// Mahalanobis gate on the nullspace-projected residual
	if upRows > 0 {
		pUp := s.MarginalCovariance(hOrder)
		hp := &mat.Dense{}
		hp.Mul(hUp, pUp)
		hph := &mat.Dense{}
		hph.Mul(hp, hUp.T())

		sy := mat.NewSymDense(upRows, nil)
		for i := 0; i < upRows; i++ {
			for j := i; j < upRows; j++ {
				sy.SetSym(i, j, hph.At(i, j)+rUp.At(i, j))
			}
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(sy); !ok {
			return false, fmt.Errorf("initialize: projected residual covariance is not positive definite")
		}
		var x mat.VecDense
		if err := chol.SolveVecTo(&x, resUp); err != nil {
			return false, fmt.Errorf("initialize: failed to solve gating system: %v", err)
		}
		chi2 := mat.Dot(resUp, &x)

		if chi2 > chi2Mult*Quantile095(rows) {
			return false, nil
		}
	}

	if err := s.InitializeInvertible(newVar, hOrder, hxInit, hfInit, rInit, resInit); err != nil {
		return false, err
	}

	if upRows > 0 {
		if err := s.Update(hOrder, hUp, resUp, rUp); err != nil {
			return false, err
		}
	}

	return true, nil
}

// InitializeInvertible adds newVar to the state directly: the Jacobian hL
// w.r.t. the new variable must be square and invertible. The covariance grows
// by newVar.Size(); the new diagonal block becomes
// hL^-1 (hR P hR^T + R) hL^-T and the cross blocks -Cov hR^T hL^-T, after
// which the variable is corrected by hL^-1 res and appended to the state.
// The noise r must be isotropic. Contract violations return a fatal error.
func (s *State) InitializeInvertible(newVar types.Variable, hOrder []types.Variable, hR, hL, r *mat.Dense, res *mat.VecDense) error {
	if len(hOrder) == 0 {
		return fmt.Errorf("initialize invertible: called with an empty Jacobian order")
	}
	for _, x := range s.variables {
		if x == newVar {
			return fmt.Errorf("initialize invertible: variable is already in the state at %d", newVar.ID())
		}
	}

	if err := checkIsotropic(r); err != nil {
		return fmt.Errorf("initialize invertible: %v", err)
	}

	rows := res.Len()
	rr, _ := r.Dims()
	hlr, hlc := hL.Dims()
	hrr, hrc := hR.Dims()
	if rr != rows || hlr != rows || hrr != rows {
		return fmt.Errorf("initialize invertible: inconsistent measurement system rows")
	}
	if hlr != hlc || hlr != newVar.Size() {
		return fmt.Errorf("initialize invertible: new variable Jacobian is not square: [%d x %d]", hlr, hlc)
	}
	if hrc != orderSize(hOrder) {
		return fmt.Errorf("initialize invertible: invalid Jacobian dimensions: [%d x %d]", hrr, hrc)
	}

	n := s.Dim()
	hID := orderLocations(hOrder)

	// M_a = Cov * H_R^T, one row block per state variable
	ma := mat.NewDense(n, rows, nil)
	for _, v := range s.variables {
		mi := mat.NewDense(v.Size(), rows, nil)
		for i, meas := range hOrder {
			prod := &mat.Dense{}
			prod.Mul(
				matrix.Block(s.cov, v.ID(), meas.ID(), v.Size(), meas.Size()),
				matrix.Block(hR, 0, hID[i], rows, meas.Size()).T(),
			)
			mi.Add(mi, prod)
		}
		matrix.SetBlock(ma, v.ID(), 0, mi)
	}

	// M = H_R * P_small * H_R^T + R
	pSmall := s.MarginalCovariance(hOrder)
	hp := &mat.Dense{}
	hp.Mul(hR, pSmall)
	m := &mat.Dense{}
	m.Mul(hp, hR.T())
	m.Add(m, r)
	matrix.ReflectUpper(m)

	hLinv := &mat.Dense{}
	if err := hLinv.Inverse(hL); err != nil {
		return fmt.Errorf("initialize invertible: new variable Jacobian is singular: %v", err)
	}

	// P_LL = H_L^-1 * M * H_L^-T
	hm := &mat.Dense{}
	hm.Mul(hLinv, m)
	pLL := &mat.Dense{}
	pLL.Mul(hm, hLinv.T())

	s.growCov(newVar.Size())
	cross := &mat.Dense{}
	cross.Mul(ma, hLinv.T())
	cross.Scale(-1, cross)
	matrix.SetBlock(s.cov, 0, n, cross)
	matrix.SetBlock(s.cov, n, 0, cross.T())
	matrix.SetBlock(s.cov, n, n, pLL)

	// invertible systems only correct the new variable itself
	dx := mat.NewVecDense(newVar.Size(), nil)
	dx.MulVec(hLinv, res)
	if err := newVar.Update(dx); err != nil {
		return fmt.Errorf("initialize invertible: %v", err)
	}

	newVar.SetLocalID(n)
	s.variables = append(s.variables, newVar)

	return nil
}

// checkIsotropic verifies that r is a diagonal matrix with a single repeated
// value, the only noise shape the Givens separation keeps valid.
func checkIsotropic(r *mat.Dense) error {
	rr, rc := r.Dims()
	if rr != rc || rr == 0 {
		return fmt.Errorf("noise is not square: [%d x %d]", rr, rc)
	}
	for i := 0; i < rr; i++ {
		for j := 0; j < rc; j++ {
			if i == j && r.At(i, j) != r.At(0, 0) {
				return fmt.Errorf("noise is not isotropic: %g at %d versus %g", r.At(i, j), i, r.At(0, 0))
			}
			if i != j && r.At(i, j) != 0 {
				return fmt.Errorf("noise is not diagonal: %g at [%d, %d]", r.At(i, j), i, j)
			}
		}
	}

	return nil
}

// givens returns the rotation [c s; -s c] which maps [a; b] to [r; 0].
func givens(a, b float64) (c, s float64) {
	if b == 0 {
		return 1, 0
	}
	r := math.Hypot(a, b)

	return a / r, b / r
}

// rotateRows applies the Givens rotation to rows i1 and i2 of m, starting at
// column colStart.
func rotateRows(m *mat.Dense, i1, i2, colStart int, c, s float64) {
	_, cols := m.Dims()
	for j := colStart; j < cols; j++ {
		a, b := m.At(i1, j), m.At(i2, j)
		m.Set(i1, j, c*a+s*b)
		m.Set(i2, j, -s*a+c*b)
	}
}

// rotateVec applies the Givens rotation to entries i1 and i2 of v.
func rotateVec(v *mat.VecDense, i1, i2 int, c, s float64) {
	a, b := v.AtVec(i1), v.AtVec(i2)
	v.SetVec(i1, c*a+s*b)
	v.SetVec(i2, -s*a+c*b)
}
