// Package tensor provides the small set of dense float32 and int64 tensors the
// encoders operate on. Matrix products are delegated to gonum's BLAS.
package tensor

import (
	"fmt"
)

// Device identifies where a tensor's storage lives.
type Device int

const (
	// CPU is host memory. It is the only device the native backends support.
	CPU Device = iota
)

func (d Device) String() string {
	switch d {
	case CPU:
		return "cpu"
	default:
		return fmt.Sprintf("device(%d)", int(d))
	}
}

// ShapeError reports a tensor whose shape does not match what an operation requires.
type ShapeError struct {
	Op   string
	Want []int
	Got  []int
}

func (e *ShapeError) Error() string {
	if e.Want == nil {
		return fmt.Sprintf("tensor %s: unexpected shape %v", e.Op, e.Got)
	}
	return fmt.Sprintf("tensor %s: shape mismatch: want %v, got %v", e.Op, e.Want, e.Got)
}

// Tensor is a row-major float32 tensor.
type Tensor struct {
	shape  []int
	data   []float32
	device Device
}

// New wraps data with the given shape. The data slice is not copied.
func New(shape []int, data []float32) (*Tensor, error) {
	if numel(shape) != len(data) {
		return nil, &ShapeError{Op: "new", Want: shape, Got: []int{len(data)}}
	}
	return &Tensor{shape: append([]int(nil), shape...), data: data, device: CPU}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape ...int) *Tensor {
	return &Tensor{shape: append([]int(nil), shape...), data: make([]float32, numel(shape)), device: CPU}
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Rank is the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// Data exposes the backing storage.
func (t *Tensor) Data() []float32 { return t.data }

// Device reports where the tensor lives.
func (t *Tensor) Device() Device { return t.device }

// Len is the total number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Reshape returns a view with a new shape over the same storage.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if numel(shape) != len(t.data) {
		return nil, &ShapeError{Op: "reshape", Want: shape, Got: t.shape}
	}
	return &Tensor{shape: append([]int(nil), shape...), data: t.data, device: t.device}, nil
}

// Row returns row i of the tensor viewed as a matrix of its last dimension.
func (t *Tensor) Row(i int) []float32 {
	cols := t.shape[len(t.shape)-1]
	return t.data[i*cols : (i+1)*cols]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: t.Shape(), data: data, device: t.device}
}

// ToVec2 copies a rank-2 tensor into one slice per row.
func (t *Tensor) ToVec2() ([][]float32, error) {
	if len(t.shape) != 2 {
		return nil, &ShapeError{Op: "to_vec2", Got: t.shape}
	}
	rows := make([][]float32, t.shape[0])
	for i := range rows {
		row := make([]float32, t.shape[1])
		copy(row, t.Row(i))
		rows[i] = row
	}
	return rows, nil
}

// IntTensor is a rank-2 (batch, sequence) tensor of token ids or mask values.
type IntTensor struct {
	rows, cols int
	data       []int64
	device     Device
}

// Stack builds a (len(rows), len(rows[0])) tensor. Every row must have the same length.
func Stack(rows [][]int64, device Device) (*IntTensor, error) {
	if len(rows) == 0 {
		return &IntTensor{device: device}, nil
	}
	cols := len(rows[0])
	data := make([]int64, 0, len(rows)*cols)
	for _, r := range rows {
		if len(r) != cols {
			return nil, &ShapeError{Op: "stack", Want: []int{cols}, Got: []int{len(r)}}
		}
		data = append(data, r...)
	}
	return &IntTensor{rows: len(rows), cols: cols, data: data, device: device}, nil
}

// NewInt wraps data as a (rows, cols) tensor.
func NewInt(rows, cols int, data []int64) (*IntTensor, error) {
	if rows*cols != len(data) {
		return nil, &ShapeError{Op: "new_int", Want: []int{rows, cols}, Got: []int{len(data)}}
	}
	return &IntTensor{rows: rows, cols: cols, data: data, device: CPU}, nil
}

// ZerosLike returns a zero tensor with the same shape and device.
func (t *IntTensor) ZerosLike() *IntTensor {
	return &IntTensor{rows: t.rows, cols: t.cols, data: make([]int64, len(t.data)), device: t.device}
}

// Shape returns (rows, cols).
func (t *IntTensor) Shape() (int, int) { return t.rows, t.cols }

// Data exposes the backing storage.
func (t *IntTensor) Data() []int64 { return t.data }

// Device reports where the tensor lives.
func (t *IntTensor) Device() Device { return t.device }

// At returns element (i, j).
func (t *IntTensor) At(i, j int) int64 { return t.data[i*t.cols+j] }

// ToFloat converts to a float32 tensor of the same shape.
func (t *IntTensor) ToFloat() *Tensor {
	data := make([]float32, len(t.data))
	for i, v := range t.data {
		data[i] = float32(v)
	}
	return &Tensor{shape: []int{t.rows, t.cols}, data: data, device: t.device}
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *IntTensor) bool {
	return a.rows == b.rows && a.cols == b.cols
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
