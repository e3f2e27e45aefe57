package types

import "gonum.org/v1/gonum/mat"

// Variable is a named addressable block of the aggregate error state.
// Its id is the starting row/column of the block inside the state covariance;
// a detached variable has id -1. Size is the minimal (error state) dimension
// which may be smaller than the dimension of the over-parameterized value.
type Variable interface {
	// ID returns the location of the variable in the covariance
	ID() int
	// SetLocalID sets the location of the variable in the covariance
	SetLocalID(id int)
	// Size returns the minimal dimension of the variable
	Size() int
	// Value returns a copy of the current estimate
	Value() *mat.VecDense
	// Update applies a minimal dimension correction to the estimate
	Update(dx *mat.VecDense) error
	// Clone returns an independent copy of the same kind and value
	Clone() Variable
	// CheckIfSubvariable returns check if it is a subvariable of the receiver
	CheckIfSubvariable(check Variable) Variable
}

// base carries the covariance bookkeeping shared by all variable kinds.
type base struct {
	id   int
	size int
}

// ID returns the location of the variable in the covariance.
func (b *base) ID() int { return b.id }

// SetLocalID sets the location of the variable in the covariance.
func (b *base) SetLocalID(id int) { b.id = id }

// Size returns the minimal dimension of the variable.
func (b *base) Size() int { return b.size }

// CheckIfSubvariable returns nil: plain variables have no subvariables.
func (b *base) CheckIfSubvariable(check Variable) Variable { return nil }
