package models

import (
	"math"

	"github.com/raaihank/quackformers/internal/tensor"
)

// maskedScore is added to attention scores of padded keys. Softmax subtracts
// the row maximum first, so these become exactly zero weight.
const maskedScore = -math.MaxFloat32

type selfAttention struct {
	query, key, value linear
	output            linear
	norm              layerNorm
	heads             int
	headDim           int
}

func loadAttention(s store, cfg Config) (*selfAttention, error) {
	h := cfg.HiddenSize
	a := &selfAttention{heads: cfg.NumAttentionHeads, headDim: cfg.HeadDim()}
	var err error
	if a.query, err = s.pp("self").pp("query").linear(h, h, true); err != nil {
		return nil, err
	}
	if a.key, err = s.pp("self").pp("key").linear(h, h, true); err != nil {
		return nil, err
	}
	if a.value, err = s.pp("self").pp("value").linear(h, h, true); err != nil {
		return nil, err
	}
	if a.output, err = s.pp("output").pp("dense").linear(h, h, true); err != nil {
		return nil, err
	}
	if a.norm, err = s.pp("output").pp("LayerNorm").layerNorm(h, cfg.LayerNormEps); err != nil {
		return nil, err
	}
	return a, nil
}

// forward runs multi-head attention over x (batch*seq, hidden) and returns
// LayerNorm(x + attention output). keyBias holds one additive term per key
// position; slopes, when set, adds the ALiBi distance penalty per head.
func (a *selfAttention) forward(x *tensor.Tensor, batch, seq int, keyBias, slopes []float32) (*tensor.Tensor, error) {
	q, err := a.query.forward(x)
	if err != nil {
		return nil, err
	}
	k, err := a.key.forward(x)
	if err != nil {
		return nil, err
	}
	v, err := a.value.forward(x)
	if err != nil {
		return nil, err
	}

	hidden := a.heads * a.headDim
	ctx := tensor.Zeros(batch*seq, hidden)
	scores := tensor.Zeros(seq, seq)
	scale := float32(1 / math.Sqrt(float64(a.headDim)))

	for b := 0; b < batch; b++ {
		bias := keyBias[b*seq : (b+1)*seq]
		for h := 0; h < a.heads; h++ {
			off := b*seq*hidden + h*a.headDim
			view := func(t *tensor.Tensor) tensor.Matrix {
				return tensor.Matrix{Rows: seq, Cols: a.headDim, Stride: hidden, Data: t.Data()[off:]}
			}

			tensor.Gemm(true, scale, view(q), view(k), 0, scores.AsMatrix())
			for i := 0; i < seq; i++ {
				row := scores.Row(i)
				for j := range row {
					row[j] += bias[j]
					if slopes != nil {
						row[j] -= slopes[h] * float32(abs(i-j))
					}
				}
				tensor.SoftmaxInPlace(row)
			}
			tensor.Gemm(false, 1, scores.AsMatrix(), view(v), 0, view(ctx))
		}
	}

	out, err := a.output.forward(ctx)
	if err != nil {
		return nil, err
	}
	if err := out.AddInPlace(x); err != nil {
		return nil, err
	}
	if err := a.norm.forward(out); err != nil {
		return nil, err
	}
	return out, nil
}

// alibiSlopes returns the per-head ALiBi slopes. Head counts that are not a
// power of two interleave the slopes of the next power of two.
func alibiSlopes(heads int) []float32 {
	n2 := 1
	for n2 < heads {
		n2 *= 2
	}
	all := make([]float32, n2)
	for i := range all {
		v := float64(i + 1)
		all[i] = float32(1 / math.Pow(2, v*8/float64(n2)))
	}
	if n2 == heads {
		return all
	}
	out := make([]float32, 0, n2)
	for i := 1; i < n2; i += 2 {
		out = append(out, all[i])
	}
	for i := 0; i < n2; i += 2 {
		out = append(out, all[i])
	}
	return out[:heads]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
