package types

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// IMU is the active inertial error state: pose, velocity, gyroscope bias and
// accelerometer bias. Its value is the stacked 16-vector [q; p; v; bg; ba]
// and its error dimension is 15.
type IMU struct {
	base
	pose *PoseJPL
	v    *Vec
	bg   *Vec
	ba   *Vec
}

// NewIMU creates a new detached identity IMU variable.
func NewIMU() *IMU {
	return &IMU{
		base: base{id: -1, size: 15},
		pose: NewPoseJPL(),
		v:    NewVec(3),
		bg:   NewVec(3),
		ba:   NewVec(3),
	}
}

// SetLocalID sets the location of the IMU state and of its subvariables.
func (im *IMU) SetLocalID(id int) {
	im.base.SetLocalID(id)
	vid, bgid, baid := -1, -1, -1
	if id >= 0 {
		vid, bgid, baid = id+6, id+9, id+12
	}
	im.pose.SetLocalID(id)
	im.v.SetLocalID(vid)
	im.bg.SetLocalID(bgid)
	im.ba.SetLocalID(baid)
}

// Pose returns the pose subvariable.
func (im *IMU) Pose() *PoseJPL { return im.pose }

// Rot returns the orientation subvariable.
func (im *IMU) Rot() *JPLQuat { return im.pose.Rot() }

// Pos returns the position subvariable.
func (im *IMU) Pos() *Vec { return im.pose.Pos() }

// Vel returns the velocity subvariable.
func (im *IMU) Vel() *Vec { return im.v }

// BiasG returns the gyroscope bias subvariable.
func (im *IMU) BiasG() *Vec { return im.bg }

// BiasA returns the accelerometer bias subvariable.
func (im *IMU) BiasA() *Vec { return im.ba }

// Value returns a copy of the current estimate stacked as [q; p; v; bg; ba].
func (im *IMU) Value() *mat.VecDense {
	val := mat.NewVecDense(16, nil)
	val.SliceVec(0, 7).(*mat.VecDense).CopyVec(im.pose.Value())
	val.SliceVec(7, 10).(*mat.VecDense).CopyVec(im.v.Value())
	val.SliceVec(10, 13).(*mat.VecDense).CopyVec(im.bg.Value())
	val.SliceVec(13, 16).(*mat.VecDense).CopyVec(im.ba.Value())

	return val
}

// SetValue overwrites the current estimate from a stacked 16-vector.
// It returns error if val is not 16 dimensional.
func (im *IMU) SetValue(val *mat.VecDense) error {
	if val.Len() != 16 {
		return fmt.Errorf("invalid IMU state dimension: %d", val.Len())
	}
	if err := im.pose.SetValue(val.SliceVec(0, 7).(*mat.VecDense)); err != nil {
		return err
	}
	if err := im.v.SetValue(val.SliceVec(7, 10).(*mat.VecDense)); err != nil {
		return err
	}
	if err := im.bg.SetValue(val.SliceVec(10, 13).(*mat.VecDense)); err != nil {
		return err
	}

	return im.ba.SetValue(val.SliceVec(13, 16).(*mat.VecDense))
}

// Update applies the correction dx split across the subvariables.
// It returns error if dx is not 15 dimensional.
func (im *IMU) Update(dx *mat.VecDense) error {
	if dx.Len() != 15 {
		return fmt.Errorf("invalid update dimension: %d", dx.Len())
	}
	if err := im.pose.Update(dx.SliceVec(0, 6).(*mat.VecDense)); err != nil {
		return err
	}
	if err := im.v.Update(dx.SliceVec(6, 9).(*mat.VecDense)); err != nil {
		return err
	}
	if err := im.bg.Update(dx.SliceVec(9, 12).(*mat.VecDense)); err != nil {
		return err
	}

	return im.ba.Update(dx.SliceVec(12, 15).(*mat.VecDense))
}

// Clone returns an independent copy of the variable.
func (im *IMU) Clone() Variable {
	c := NewIMU()
	c.pose.q.value.CopyVec(im.pose.q.value)
	c.pose.p.value.CopyVec(im.pose.p.value)
	c.v.value.CopyVec(im.v.value)
	c.bg.value.CopyVec(im.bg.value)
	c.ba.value.CopyVec(im.ba.value)

	return c
}

// CheckIfSubvariable returns check if it is one of the IMU subvariables,
// searching the pose recursively, nil otherwise.
func (im *IMU) CheckIfSubvariable(check Variable) Variable {
	switch {
	case Variable(im.pose) == check:
		return im.pose
	case Variable(im.v) == check:
		return im.v
	case Variable(im.bg) == check:
		return im.bg
	case Variable(im.ba) == check:
		return im.ba
	}

	return im.pose.CheckIfSubvariable(check)
}
