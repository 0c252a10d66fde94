package embeddings

import (
	"math"

	"github.com/raaihank/quackformers/internal/tensor"
)

// minTokenCount floors the per-row mask sum so an all-padding row divides safely.
const minTokenCount = 1e-8

// MeanPoolNormalize averages hidden states (batch, seq, hidden) over the
// positions where mask is 1, then scales every row to unit L2 norm. A row
// whose mean is exactly zero is returned as the zero vector.
func MeanPoolNormalize(hidden *tensor.Tensor, mask *tensor.IntTensor) ([][]float32, error) {
	if hidden.Rank() != 3 {
		return nil, &tensor.ShapeError{Op: "mean_pool", Got: hidden.Shape()}
	}
	batch, seq, dims := hidden.Dim(0), hidden.Dim(1), hidden.Dim(2)
	if r, c := mask.Shape(); r != batch || c != seq {
		return nil, &tensor.ShapeError{Op: "mean_pool", Want: []int{batch, seq}, Got: []int{r, c}}
	}

	data := hidden.Data()
	out := make([][]float32, batch)
	sum := make([]float64, dims)
	for b := 0; b < batch; b++ {
		for d := range sum {
			sum[d] = 0
		}
		var count float64
		for s := 0; s < seq; s++ {
			m := float64(mask.At(b, s))
			if m == 0 {
				continue
			}
			count += m
			row := data[(b*seq+s)*dims : (b*seq+s+1)*dims]
			for d, v := range row {
				sum[d] += float64(v) * m
			}
		}
		count = math.Max(count, minTokenCount)

		vec := make([]float32, dims)
		for d := range vec {
			vec[d] = float32(sum[d] / count)
		}
		out[b] = NormalizeL2(vec)
	}
	return out, nil
}

// NormalizeL2 scales v in place to unit length and returns it. The zero
// vector is left unchanged.
func NormalizeL2(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
	return v
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is empty, zero, or the lengths differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
