package tensor

import (
	"errors"
	"math"
	"testing"
)

func approx(a, b, tol float32) bool {
	return float32(math.Abs(float64(a-b))) <= tol
}

func TestMatMulT(t *testing.T) {
	a, _ := New([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	// b is (2,3); a * b^T is (2,2)
	b, _ := New([]int{2, 3}, []float32{1, 0, 1, 0, 1, 0})

	out, err := MatMulT(a, b)
	if err != nil {
		t.Fatalf("MatMulT failed: %v", err)
	}
	want := []float32{4, 2, 10, 5}
	for i, v := range out.Data() {
		if !approx(v, want[i], 1e-6) {
			t.Errorf("Expected out[%d]=%f, got %f", i, want[i], v)
		}
	}
}

func TestMatMul(t *testing.T) {
	a, _ := New([]int{1, 2}, []float32{1, 2})
	b, _ := New([]int{2, 2}, []float32{3, 4, 5, 6})

	out, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	if out.Dim(0) != 1 || out.Dim(1) != 2 {
		t.Fatalf("Expected shape [1 2], got %v", out.Shape())
	}
	if out.Data()[0] != 13 || out.Data()[1] != 16 {
		t.Errorf("Expected [13 16], got %v", out.Data())
	}
}

func TestMatMulShapeMismatch(t *testing.T) {
	a := Zeros(2, 3)
	b := Zeros(2, 4)
	_, err := MatMulT(a, b)
	var shapeErr *ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("Expected ShapeError, got %v", err)
	}
}

func TestLayerNorm(t *testing.T) {
	x, _ := New([]int{1, 4}, []float32{1, 2, 3, 4})
	gamma := []float32{1, 1, 1, 1}
	beta := []float32{0, 0, 0, 0}
	if err := x.LayerNorm(gamma, beta, 1e-12); err != nil {
		t.Fatalf("LayerNorm failed: %v", err)
	}

	var mean float32
	for _, v := range x.Data() {
		mean += v
	}
	if !approx(mean/4, 0, 1e-6) {
		t.Errorf("Expected zero mean, got %f", mean/4)
	}
	if x.Data()[0] >= x.Data()[3] {
		t.Errorf("Expected order to be preserved, got %v", x.Data())
	}
}

func TestSoftmaxWithLargeNegativeMask(t *testing.T) {
	row := []float32{1, 2, -math.MaxFloat32}
	SoftmaxInPlace(row)

	if row[2] != 0 {
		t.Errorf("Expected masked entry to be exactly 0, got %g", row[2])
	}
	if !approx(row[0]+row[1], 1, 1e-6) {
		t.Errorf("Expected probabilities to sum to 1, got %f", row[0]+row[1])
	}
}

func TestGELU(t *testing.T) {
	xs := []float32{0, 1, -1}
	GELU(xs)
	if xs[0] != 0 {
		t.Errorf("Expected GELU(0)=0, got %f", xs[0])
	}
	if !approx(xs[1], 0.8413447, 1e-5) {
		t.Errorf("Expected GELU(1)=0.8413, got %f", xs[1])
	}

	ys := []float32{1}
	GELUTanh(ys)
	if !approx(ys[0], 0.8411920, 1e-5) {
		t.Errorf("Expected tanh GELU(1)=0.8412, got %f", ys[0])
	}
}

func TestStack(t *testing.T) {
	ids, err := Stack([][]int64{{1, 2}, {3, 4}}, CPU)
	if err != nil {
		t.Fatalf("Stack failed: %v", err)
	}
	if r, c := ids.Shape(); r != 2 || c != 2 {
		t.Errorf("Expected 2x2, got %dx%d", r, c)
	}
	if ids.At(1, 0) != 3 {
		t.Errorf("Expected At(1,0)=3, got %d", ids.At(1, 0))
	}
	if z := ids.ZerosLike(); !SameShape(ids, z) || z.At(1, 1) != 0 {
		t.Error("Expected ZerosLike to keep shape and be zero")
	}

	if _, err := Stack([][]int64{{1, 2}, {3}}, CPU); err == nil {
		t.Error("Expected error for ragged rows")
	}
}

func TestNarrow(t *testing.T) {
	x, _ := New([]int{2, 4}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	right, err := x.Narrow(2, 2)
	if err != nil {
		t.Fatalf("Narrow failed: %v", err)
	}
	want := []float32{3, 4, 7, 8}
	for i, v := range right.Data() {
		if v != want[i] {
			t.Errorf("Expected %v, got %v", want, right.Data())
			break
		}
	}
}
