package estimate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Base is a timestamped snapshot of an estimated value and its covariance.
// The simulation emits one per camera frame so estimator trajectories can be
// compared and plotted after the run.
type Base struct {
	// time of the snapshot
	time float64
	// val is the estimated value
	val *mat.VecDense
	// cov is the estimate covariance
	cov *mat.Dense
}

// NewBase returns a snapshot of val and cov taken at the given time.
// It returns error if the covariance side does not match the value dimension.
func NewBase(time float64, val *mat.VecDense, cov *mat.Dense) (*Base, error) {
	cr, cc := cov.Dims()
	if cr != cc || cr != val.Len() {
		return nil, fmt.Errorf("invalid dimensions: val %d, cov [%d x %d]", val.Len(), cr, cc)
	}

	v := &mat.VecDense{}
	v.CloneFromVec(val)

	return &Base{
		time: time,
		val:  v,
		cov:  mat.DenseCopyOf(cov),
	}, nil
}

// Time returns the snapshot time.
func (b *Base) Time() float64 {
	return b.time
}

// Val returns the estimated value.
func (b *Base) Val() *mat.VecDense {
	v := &mat.VecDense{}
	v.CloneFromVec(b.val)

	return v
}

// Cov returns the estimate covariance.
func (b *Base) Cov() *mat.Dense {
	return mat.DenseCopyOf(b.cov)
}
