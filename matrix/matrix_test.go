package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestBlock(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(4, 4, nil)
	blk := Block(m, 1, 2, 2, 2)

	r, c := blk.Dims()
	assert.Equal(2, r)
	assert.Equal(2, c)

	// the block is a writable view
	blk.Set(0, 0, 3.5)
	assert.InDelta(3.5, m.At(1, 2), 1e-12)
}

func TestSetAddBlock(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(3, 3, nil)
	src := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	SetBlock(m, 1, 1, src)
	assert.InDelta(1, m.At(1, 1), 1e-12)
	assert.InDelta(4, m.At(2, 2), 1e-12)

	AddBlock(m, 1, 1, src)
	assert.InDelta(2, m.At(1, 1), 1e-12)
	assert.InDelta(8, m.At(2, 2), 1e-12)
	assert.InDelta(0, m.At(0, 0), 1e-12)
}

func TestReflectUpper(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		9, 4, 5,
		9, 9, 6,
	})
	ReflectUpper(m)

	assert.InDelta(2, m.At(1, 0), 1e-12)
	assert.InDelta(3, m.At(2, 0), 1e-12)
	assert.InDelta(5, m.At(2, 1), 1e-12)
	assert.InDelta(0.0, MaxAbsAsym(m), 1e-12)

	assert.Panics(func() { ReflectUpper(mat.NewDense(2, 3, nil)) })
}

func TestMinDiag(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, -2, 0,
		0, 0, 3,
	})
	idx, v := MinDiag(m)
	assert.Equal(1, idx)
	assert.InDelta(-2, v, 1e-12)

	assert.Panics(func() { MinDiag(mat.NewDense(2, 3, nil)) })
}

func TestMaxAbsAsym(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(2, 2, []float64{1, 2, 2.5, 1})
	assert.InDelta(0.5, MaxAbsAsym(m), 1e-12)
}
