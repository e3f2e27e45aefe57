package estimate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestNewBase(t *testing.T) {
	assert := assert.New(t)

	val := mat.NewVecDense(2, []float64{1, 2})
	cov := mat.NewDense(2, 2, []float64{0.5, 0, 0, 0.5})

	b, err := NewBase(1.5, val, cov)
	assert.NoError(err)
	assert.InDelta(1.5, b.Time(), 1e-12)
	assert.True(mat.EqualApprox(val, b.Val(), 1e-12))
	assert.True(mat.EqualApprox(cov, b.Cov(), 1e-12))

	// the snapshot is detached from its sources
	val.SetVec(0, -10)
	cov.Set(0, 0, -10)
	assert.InDelta(1.0, b.Val().AtVec(0), 1e-12)
	assert.InDelta(0.5, b.Cov().At(0, 0), 1e-12)

	// mismatched dimensions
	_, err = NewBase(0, mat.NewVecDense(3, nil), cov)
	assert.Error(err)
	_, err = NewBase(0, val, mat.NewDense(2, 3, nil))
	assert.Error(err)
}
