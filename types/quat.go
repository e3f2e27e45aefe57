package types

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// JPLQuat is a unit quaternion variable in JPL convention: scalar-last
// storage [x y z w] and left-handed composition. Its value dimension is 4
// while its error dimension is 3: corrections are small angles applied
// through a left multiplicative boxplus.
type JPLQuat struct {
	base
	value *mat.VecDense
}

// NewJPLQuat creates a new detached identity quaternion variable.
func NewJPLQuat() *JPLQuat {
	return &JPLQuat{
		base:  base{id: -1, size: 3},
		value: mat.NewVecDense(4, []float64{0, 0, 0, 1}),
	}
}

// Value returns a copy of the current estimate.
func (q *JPLQuat) Value() *mat.VecDense {
	val := mat.NewVecDense(4, nil)
	val.CopyVec(q.value)

	return val
}

// SetValue overwrites the current estimate with a normalized copy of val.
// It returns error if val is not 4 dimensional.
func (q *JPLQuat) SetValue(val *mat.VecDense) error {
	if val.Len() != 4 {
		return fmt.Errorf("invalid quaternion dimension: %d", val.Len())
	}
	q.value.CopyVec(val)
	quatNorm(q.value)

	return nil
}

// Update applies the small angle correction dx to the estimate:
// q <- quatnorm([dx/2; 1]) (x) q.
// It returns error if dx is not 3 dimensional.
func (q *JPLQuat) Update(dx *mat.VecDense) error {
	if dx.Len() != 3 {
		return fmt.Errorf("invalid update dimension: %d", dx.Len())
	}

	dq := mat.NewVecDense(4, []float64{
		0.5 * dx.AtVec(0),
		0.5 * dx.AtVec(1),
		0.5 * dx.AtVec(2),
		1.0,
	})
	quatNorm(dq)
	q.value = quatMultiply(dq, q.value)

	return nil
}

// Clone returns an independent copy of the variable.
func (q *JPLQuat) Clone() Variable {
	c := NewJPLQuat()
	c.value.CopyVec(q.value)

	return c
}

// quatMultiply composes two JPL quaternions q (x) p.
func quatMultiply(q, p *mat.VecDense) *mat.VecDense {
	q1, q2, q3, q4 := q.AtVec(0), q.AtVec(1), q.AtVec(2), q.AtVec(3)
	p1, p2, p3, p4 := p.AtVec(0), p.AtVec(1), p.AtVec(2), p.AtVec(3)

	out := mat.NewVecDense(4, []float64{
		q4*p1 + q3*p2 - q2*p3 + q1*p4,
		-q3*p1 + q4*p2 + q1*p3 + q2*p4,
		q2*p1 - q1*p2 + q4*p3 + q3*p4,
		-q1*p1 - q2*p2 - q3*p3 + q4*p4,
	})
	quatNorm(out)

	return out
}

// quatNorm normalizes q in place and keeps the scalar part non-negative.
func quatNorm(q *mat.VecDense) {
	if q.AtVec(3) < 0 {
		q.ScaleVec(-1, q)
	}
	n := math.Sqrt(mat.Dot(q, q))
	if n > 0 {
		q.ScaleVec(1/n, q)
	}
}
