package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestNew2DPlot(t *testing.T) {
	assert := assert.New(t)

	data := mat.NewDense(3, 2, []float64{0, 0, 1, 1, 2, 2})

	p, err := New2DPlot(data, data, data)
	assert.NoError(err)
	assert.NotNil(p)

	// nil data
	_, err = New2DPlot(nil, data, data)
	assert.Error(err)

	// not enough columns to plot
	narrow := mat.NewDense(3, 1, nil)
	_, err = New2DPlot(narrow, narrow, narrow)
	assert.Error(err)
}
