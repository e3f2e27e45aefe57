package types

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Vec is a vector variable with an additive update: biases, velocities,
// calibration scalars. Its value dimension equals its error dimension.
type Vec struct {
	base
	value *mat.VecDense
}

// NewVec creates a new detached zero vector variable of the given size.
func NewVec(size int) *Vec {
	return &Vec{
		base:  base{id: -1, size: size},
		value: mat.NewVecDense(size, nil),
	}
}

// Value returns a copy of the current estimate.
func (v *Vec) Value() *mat.VecDense {
	val := mat.NewVecDense(v.value.Len(), nil)
	val.CopyVec(v.value)

	return val
}

// SetValue overwrites the current estimate.
// It returns error if val dimension does not match the variable.
func (v *Vec) SetValue(val *mat.VecDense) error {
	if val.Len() != v.value.Len() {
		return fmt.Errorf("invalid value dimension: %d", val.Len())
	}
	v.value.CopyVec(val)

	return nil
}

// Update adds the correction dx to the estimate.
// It returns error if dx dimension does not match the variable.
func (v *Vec) Update(dx *mat.VecDense) error {
	if dx.Len() != v.size {
		return fmt.Errorf("invalid update dimension: %d", dx.Len())
	}
	v.value.AddVec(v.value, dx)

	return nil
}

// Clone returns an independent copy of the variable.
func (v *Vec) Clone() Variable {
	c := NewVec(v.size)
	c.value.CopyVec(v.value)

	return c
}
