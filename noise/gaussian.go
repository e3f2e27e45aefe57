package noise

import (
	"fmt"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Gaussian is multivariate gaussian noise with an arbitrary covariance. It
// drives the synthetic process noise of the simulation.
type Gaussian struct {
	// dist is a multivariate normal distribution
	dist *distmv.Normal
	// mean is the noise mean
	mean []float64
	// cov is the noise covariance
	cov mat.Symmetric
}

// NewGaussian creates new Gaussian noise with the given mean, covariance and
// random seed. It returns error if the covariance is not positive definite.
func NewGaussian(mean []float64, cov mat.Symmetric, seed uint64) (*Gaussian, error) {
	dist, ok := distmv.NewNormal(mean, cov, rand.New(rand.NewSource(seed)))
	if !ok {
		return nil, fmt.Errorf("invalid noise covariance: %v", mat.Formatted(cov))
	}

	return &Gaussian{
		dist: dist,
		mean: mean,
		cov:  cov,
	}, nil
}

// Sample draws one sample of the noise.
func (g *Gaussian) Sample() *mat.VecDense {
	r := g.dist.Rand(nil)

	return mat.NewVecDense(len(r), r)
}

// Cov returns the noise covariance.
func (g *Gaussian) Cov() mat.Symmetric {
	return g.cov
}

// Mean returns the noise mean.
func (g *Gaussian) Mean() []float64 {
	return g.mean
}
