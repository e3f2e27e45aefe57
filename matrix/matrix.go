package matrix

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Block returns the r x c submatrix of m starting at (i, j) as a writable view.
// It panics if the block reaches outside m.
func Block(m *mat.Dense, i, j, r, c int) *mat.Dense {
	return m.Slice(i, i+r, j, j+c).(*mat.Dense)
}

// SetBlock copies src into m starting at (i, j).
// It panics if src reaches outside m.
func SetBlock(m *mat.Dense, i, j int, src mat.Matrix) {
	r, c := src.Dims()
	Block(m, i, j, r, c).Copy(src)
}

// AddBlock adds src to the block of m starting at (i, j).
// It panics if src reaches outside m.
func AddBlock(m *mat.Dense, i, j int, src mat.Matrix) {
	r, c := src.Dims()
	blk := Block(m, i, j, r, c)
	blk.Add(blk, src)
}

// ReflectUpper copies the strict upper triangle of the square matrix m over
// its lower triangle, making m symmetric. It panics if m is not square.
func ReflectUpper(m *mat.Dense) {
	r, c := m.Dims()
	if r != c {
		panic("matrix: reflect of a non-square matrix")
	}
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			m.Set(j, i, m.At(i, j))
		}
	}
}

// MinDiag returns the smallest diagonal entry of m and its index.
// It panics if m is not square or is empty.
func MinDiag(m *mat.Dense) (int, float64) {
	r, c := m.Dims()
	if r != c || r == 0 {
		panic("matrix: diagonal of a non-square or empty matrix")
	}
	diag := make([]float64, r)
	for i := 0; i < r; i++ {
		diag[i] = m.At(i, i)
	}
	idx := floats.MinIdx(diag)

	return idx, diag[idx]
}

// MaxAbsAsym returns the largest absolute difference between m and its
// transpose. It panics if m is not square.
func MaxAbsAsym(m *mat.Dense) float64 {
	r, c := m.Dims()
	if r != c {
		panic("matrix: asymmetry of a non-square matrix")
	}
	max := 0.0
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			if d := math.Abs(m.At(i, j) - m.At(j, i)); d > max {
				max = d
			}
		}
	}

	return max
}
