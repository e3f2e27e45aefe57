package noise

import (
	"fmt"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Isotropic is gaussian noise with covariance sigma^2 * I. It is the only
// noise shape delayed initialization accepts, so it also doubles as a
// convenience builder for the dense R matrices the state operations take.
type Isotropic struct {
	sigma float64
	size  int
	dist  distuv.Normal
}

// NewIsotropic creates new isotropic noise of the given standard deviation
// and dimension. It returns error if sigma is negative or size is not
// positive.
func NewIsotropic(sigma float64, size int, seed uint64) (*Isotropic, error) {
	if sigma < 0 {
		return nil, fmt.Errorf("invalid noise deviation: %v", sigma)
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid noise dimension: %d", size)
	}

	return &Isotropic{
		sigma: sigma,
		size:  size,
		dist: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewSource(seed),
		},
	}, nil
}

// Sample draws one sample of the noise.
func (n *Isotropic) Sample() *mat.VecDense {
	s := mat.NewVecDense(n.size, nil)
	for i := 0; i < n.size; i++ {
		s.SetVec(i, n.sigma*n.dist.Rand())
	}

	return s
}

// Cov returns the noise covariance sigma^2 * I.
func (n *Isotropic) Cov() mat.Symmetric {
	cov := mat.NewSymDense(n.size, nil)
	for i := 0; i < n.size; i++ {
		cov.SetSym(i, i, n.sigma*n.sigma)
	}

	return cov
}

// Dense returns the noise covariance as a dense matrix, the shape the state
// update and initialization operations take.
func (n *Isotropic) Dense() *mat.Dense {
	cov := mat.NewDense(n.size, n.size, nil)
	for i := 0; i < n.size; i++ {
		cov.Set(i, i, n.sigma*n.sigma)
	}

	return cov
}

// Mean returns the zero mean.
func (n *Isotropic) Mean() []float64 {
	return make([]float64, n.size)
}
