package tensor

import (
	"math"
	"math/rand"
)

// Mat represents a dense row‑major matrix of float32 values.
//
// R and C represent the number of rows and columns respectively.  Stride is the
// number of elements between the starts of two consecutive rows (for the
// matrices created here this is always equal to C).  Data holds the flattened
// matrix values.
//
// Mat does not perform any memory safety beyond the checks performed by Go's
// slice types; out‑of‑range indices will panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a new matrix with the given number of rows and columns.
// The underlying slice is zero initialised.
func NewMat(r, c int) *Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return &Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float32, r*c),
	}
}

// NewMatFromData wraps existing data. It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) *Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return &Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   data,
	}
}

// Vec returns a 1 x len(v) matrix sharing v.
func Vec(v []float32) *Mat {
	return NewMatFromData(1, len(v), v)
}

// Row returns a view of the i‑th row of the matrix.  Modifications to the
// returned slice update the underlying matrix values.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// Rows returns a copy of rows [from, to).
func (m *Mat) Rows(from, to int) *Mat {
	if from < 0 || to > m.R || from > to {
		panic("row range out of bounds")
	}
	out := NewMat(to-from, m.C)
	for i := from; i < to; i++ {
		copy(out.Row(i-from), m.Row(i))
	}
	return out
}

// Clone returns a deep copy of m.
func (m *Mat) Clone() *Mat {
	if m == nil {
		return nil
	}
	out := NewMat(m.R, m.C)
	for i := 0; i < m.R; i++ {
		copy(out.Row(i), m.Row(i))
	}
	return out
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b *Mat) bool {
	return a.R == b.R && a.C == b.C
}

// Equal reports exact element-wise equality. NaNs never compare equal.
func Equal(a, b *Mat) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !SameShape(a, b) {
		return false
	}
	for i := 0; i < a.R; i++ {
		ra, rb := a.Row(i), b.Row(i)
		for j := range ra {
			if ra[j] != rb[j] {
				return false
			}
		}
	}
	return true
}

// MaxAbsDiff returns the largest absolute element difference between a and b.
// Mismatched shapes report +Inf.
func MaxAbsDiff(a, b *Mat) float64 {
	if a == nil || b == nil || !SameShape(a, b) {
		return math.Inf(1)
	}
	var worst float64
	for i := 0; i < a.R; i++ {
		ra, rb := a.Row(i), b.Row(i)
		for j := range ra {
			d := math.Abs(float64(ra[j] - rb[j]))
			if d > worst {
				worst = d
			}
		}
	}
	return worst
}

// ConcatRows stacks a on top of b. Column counts must match.
func ConcatRows(a, b *Mat) *Mat {
	if a.C != b.C {
		panic("column mismatch in ConcatRows")
	}
	out := NewMat(a.R+b.R, a.C)
	for i := 0; i < a.R; i++ {
		copy(out.Row(i), a.Row(i))
	}
	for i := 0; i < b.R; i++ {
		copy(out.Row(a.R+i), b.Row(i))
	}
	return out
}

// ConcatCols places a to the left of b. Row counts must match.
func ConcatCols(a, b *Mat) *Mat {
	if a.R != b.R {
		panic("row mismatch in ConcatCols")
	}
	out := NewMat(a.R, a.C+b.C)
	for i := 0; i < a.R; i++ {
		row := out.Row(i)
		copy(row, a.Row(i))
		copy(row[a.C:], b.Row(i))
	}
	return out
}

// FillRand fills the matrix with reproducible pseudo‑random values.  A small
// range around zero is used to avoid overflow in accumulations.  The seed
// controls the random sequence; multiple calls with the same seed produce
// identical matrices.
func FillRand(m *Mat, seed int64) {
	FillUniform(m, rand.New(rand.NewSource(seed)), 0.01)
}

// FillUniform draws every element from U(-bound, bound).
func FillUniform(m *Mat, rng *rand.Rand, bound float64) {
	for i := range m.Data {
		m.Data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
}

// FillNormal draws every element from N(0, std²).
func FillNormal(m *Mat, rng *rand.Rand, std float64) {
	for i := range m.Data {
		m.Data[i] = float32(rng.NormFloat64() * std)
	}
}

// Fill sets every element to v.
func Fill(m *Mat, v float32) {
	for i := range m.Data {
		m.Data[i] = v
	}
}
