package noise

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Zero is noise with zero mean and zero covariance: the noiseless limit.
type Zero struct {
	mean []float64
	cov  *mat.SymDense
}

// NewZero creates new zero noise of the given size.
// It returns error if size is negative.
func NewZero(size int) (*Zero, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid noise dimension: %d", size)
	}

	return &Zero{
		mean: make([]float64, size),
		cov:  mat.NewSymDense(size, nil),
	}, nil
}

// Sample returns the zero vector.
func (z *Zero) Sample() *mat.VecDense {
	return mat.NewVecDense(len(z.mean), nil)
}

// Cov returns the zero covariance matrix.
func (z *Zero) Cov() mat.Symmetric {
	cov := mat.NewSymDense(z.cov.SymmetricDim(), nil)
	cov.CopySym(z.cov)

	return cov
}

// Mean returns the zero mean.
func (z *Zero) Mean() []float64 {
	mean := make([]float64, len(z.mean))
	copy(mean, z.mean)

	return mean
}
