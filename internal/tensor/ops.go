package tensor

import (
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Matrix is a strided 2-D view used to address sub-blocks (per-head slices)
// of a larger row-major buffer without copying.
type Matrix struct {
	Rows, Cols, Stride int
	Data               []float32
}

func (m Matrix) general() blas32.General {
	return blas32.General{Rows: m.Rows, Cols: m.Cols, Stride: m.Stride, Data: m.Data}
}

// AsMatrix views a rank-2 tensor as a Matrix.
func (t *Tensor) AsMatrix() Matrix {
	return Matrix{Rows: t.shape[0], Cols: t.shape[1], Stride: t.shape[1], Data: t.data}
}

// Gemm computes c = alpha * a * op(b) + beta * c, where op(b) is b or its
// transpose.
func Gemm(transB bool, alpha float32, a, b Matrix, beta float32, c Matrix) {
	tb := blas.NoTrans
	if transB {
		tb = blas.Trans
	}
	blas32.Gemm(blas.NoTrans, tb, alpha, a.general(), b.general(), beta, c.general())
}

// MatMulT returns a (m,k) times the transpose of b (n,k), i.e. an (m,n) tensor.
// This is the layout of a linear layer's weight.
func MatMulT(a, b *Tensor) (*Tensor, error) {
	if a.Rank() != 2 || b.Rank() != 2 || a.shape[1] != b.shape[1] {
		return nil, &ShapeError{Op: "matmul_t", Want: []int{-1, a.shape[len(a.shape)-1]}, Got: b.shape}
	}
	out := Zeros(a.shape[0], b.shape[0])
	if a.shape[0] == 0 || b.shape[0] == 0 {
		return out, nil
	}
	Gemm(true, 1, a.AsMatrix(), b.AsMatrix(), 0, out.AsMatrix())
	return out, nil
}

// MatMul returns a (m,k) times b (k,n).
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.Rank() != 2 || b.Rank() != 2 || a.shape[1] != b.shape[0] {
		return nil, &ShapeError{Op: "matmul", Want: []int{a.shape[len(a.shape)-1], -1}, Got: b.shape}
	}
	out := Zeros(a.shape[0], b.shape[1])
	if a.shape[0] == 0 || b.shape[1] == 0 {
		return out, nil
	}
	Gemm(false, 1, a.AsMatrix(), b.AsMatrix(), 0, out.AsMatrix())
	return out, nil
}

// AddRowVector adds v to every row of t in place.
func (t *Tensor) AddRowVector(v []float32) error {
	cols := t.shape[len(t.shape)-1]
	if len(v) != cols {
		return &ShapeError{Op: "add_row", Want: []int{cols}, Got: []int{len(v)}}
	}
	for off := 0; off < len(t.data); off += cols {
		row := t.data[off : off+cols]
		for j := range row {
			row[j] += v[j]
		}
	}
	return nil
}

// AddInPlace adds other element-wise into t.
func (t *Tensor) AddInPlace(other *Tensor) error {
	if len(t.data) != len(other.data) {
		return &ShapeError{Op: "add", Want: t.shape, Got: other.shape}
	}
	for i, v := range other.data {
		t.data[i] += v
	}
	return nil
}

// LayerNorm normalizes every row of t in place over its last dimension.
func (t *Tensor) LayerNorm(gamma, beta []float32, eps float64) error {
	cols := t.shape[len(t.shape)-1]
	if len(gamma) != cols || len(beta) != cols {
		return &ShapeError{Op: "layer_norm", Want: []int{cols}, Got: []int{len(gamma), len(beta)}}
	}
	for off := 0; off < len(t.data); off += cols {
		row := t.data[off : off+cols]
		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(cols)
		var variance float64
		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(cols)
		inv := 1 / math.Sqrt(variance+eps)
		for j, v := range row {
			row[j] = float32((float64(v)-mean)*inv)*gamma[j] + beta[j]
		}
	}
	return nil
}

// GELU applies the erf form of the Gaussian error linear unit in place.
func GELU(xs []float32) {
	for i, x := range xs {
		v := float64(x)
		xs[i] = float32(0.5 * v * (1 + math.Erf(v/math.Sqrt2)))
	}
}

// GELUTanh applies the tanh approximation of GELU in place.
func GELUTanh(xs []float32) {
	const c = 0.7978845608028654 // sqrt(2/pi)
	for i, x := range xs {
		v := float64(x)
		xs[i] = float32(0.5 * v * (1 + math.Tanh(c*(v+0.044715*v*v*v))))
	}
}

// SoftmaxInPlace replaces row with its softmax. The row maximum is subtracted
// first so large additive mask values never overflow.
func SoftmaxInPlace(row []float32) {
	if len(row) == 0 {
		return
	}
	maxV := row[0]
	for _, v := range row[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for j, v := range row {
		e := math.Exp(float64(v - maxV))
		row[j] = float32(e)
		sum += e
	}
	inv := 1 / sum
	for j := range row {
		row[j] = float32(float64(row[j]) * inv)
	}
}

// Narrow copies columns [start, start+n) of a rank-2 tensor.
func (t *Tensor) Narrow(start, n int) (*Tensor, error) {
	if t.Rank() != 2 || start < 0 || start+n > t.shape[1] {
		return nil, &ShapeError{Op: "narrow", Want: []int{-1, start + n}, Got: t.shape}
	}
	out := Zeros(t.shape[0], n)
	for i := 0; i < t.shape[0]; i++ {
		copy(out.Row(i), t.Row(i)[start:start+n])
	}
	return out, nil
}

// MulInPlace multiplies t element-wise by other.
func (t *Tensor) MulInPlace(other *Tensor) error {
	if len(t.data) != len(other.data) {
		return &ShapeError{Op: "mul", Want: t.shape, Got: other.shape}
	}
	for i, v := range other.data {
		t.data[i] *= v
	}
	return nil
}
