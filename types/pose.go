package types

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PoseJPL is a composite SE(3) variable: a JPL quaternion orientation
// followed by a position. Its value is the stacked 7-vector [q; p] and its
// error dimension is 6. The orientation and position are addressable
// subvariables so measurement Jacobians can reference them directly.
type PoseJPL struct {
	base
	q *JPLQuat
	p *Vec
}

// NewPoseJPL creates a new detached identity pose variable.
func NewPoseJPL() *PoseJPL {
	return &PoseJPL{
		base: base{id: -1, size: 6},
		q:    NewJPLQuat(),
		p:    NewVec(3),
	}
}

// SetLocalID sets the location of the pose and of its subvariables:
// the orientation occupies the first three rows, the position the last three.
func (ps *PoseJPL) SetLocalID(id int) {
	ps.base.SetLocalID(id)
	qid, pid := -1, -1
	if id >= 0 {
		qid, pid = id, id+ps.q.Size()
	}
	ps.q.SetLocalID(qid)
	ps.p.SetLocalID(pid)
}

// Rot returns the orientation subvariable.
func (ps *PoseJPL) Rot() *JPLQuat { return ps.q }

// Pos returns the position subvariable.
func (ps *PoseJPL) Pos() *Vec { return ps.p }

// Value returns a copy of the current estimate stacked as [q; p].
func (ps *PoseJPL) Value() *mat.VecDense {
	val := mat.NewVecDense(7, nil)
	val.SliceVec(0, 4).(*mat.VecDense).CopyVec(ps.q.Value())
	val.SliceVec(4, 7).(*mat.VecDense).CopyVec(ps.p.Value())

	return val
}

// SetValue overwrites the current estimate from a stacked [q; p] vector.
// It returns error if val is not 7 dimensional.
func (ps *PoseJPL) SetValue(val *mat.VecDense) error {
	if val.Len() != 7 {
		return fmt.Errorf("invalid pose dimension: %d", val.Len())
	}
	if err := ps.q.SetValue(val.SliceVec(0, 4).(*mat.VecDense)); err != nil {
		return err
	}

	return ps.p.SetValue(val.SliceVec(4, 7).(*mat.VecDense))
}

// Update applies the correction dx: the first three entries correct the
// orientation, the last three the position.
// It returns error if dx is not 6 dimensional.
func (ps *PoseJPL) Update(dx *mat.VecDense) error {
	if dx.Len() != 6 {
		return fmt.Errorf("invalid update dimension: %d", dx.Len())
	}
	if err := ps.q.Update(dx.SliceVec(0, 3).(*mat.VecDense)); err != nil {
		return err
	}

	return ps.p.Update(dx.SliceVec(3, 6).(*mat.VecDense))
}

// Clone returns an independent copy of the variable.
func (ps *PoseJPL) Clone() Variable {
	c := NewPoseJPL()
	c.q.value.CopyVec(ps.q.value)
	c.p.value.CopyVec(ps.p.value)

	return c
}

// CheckIfSubvariable returns check if it is the orientation or position
// subvariable of the pose, nil otherwise.
func (ps *PoseJPL) CheckIfSubvariable(check Variable) Variable {
	switch {
	case Variable(ps.q) == check:
		return ps.q
	case Variable(ps.p) == check:
		return ps.p
	}

	return nil
}
