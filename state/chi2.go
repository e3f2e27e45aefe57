package state

import "gonum.org/v1/gonum/stat/distuv"

// Quantile095 returns the 0.95 quantile of the chi-squared distribution with
// the given degrees of freedom. It is the base threshold of the Mahalanobis
// gate in Initialize. It panics if dof is not positive.
func Quantile095(dof int) float64 {
	if dof < 1 {
		panic("state: chi-squared quantile needs positive degrees of freedom")
	}

	return distuv.ChiSquared{K: float64(dof)}.Quantile(0.95)
}
