package models

import (
	"fmt"
	"slices"
	"strings"

	"github.com/raaihank/quackformers/internal/tensor"
)

// TensorSource yields named weight tensors. *safetensors.File implements it.
type TensorSource interface {
	Has(name string) bool
	Tensor(name string) (*tensor.Tensor, error)
}

// MissingWeightError names a tensor an encoder needs but the file lacks.
type MissingWeightError struct {
	Name string
}

func (e *MissingWeightError) Error() string {
	return fmt.Sprintf("missing weight %q", e.Name)
}

// WeightShapeError names a tensor whose shape disagrees with the config.
type WeightShapeError struct {
	Name string
	Want []int
	Got  []int
}

func (e *WeightShapeError) Error() string {
	return fmt.Sprintf("weight %q has shape %v, expected %v", e.Name, e.Got, e.Want)
}

type store struct {
	src    TensorSource
	prefix string
}

func (s store) pp(name string) store {
	return store{src: s.src, prefix: s.prefix + name + "."}
}

func (s store) has(name string) bool {
	return s.src.Has(s.prefix + name)
}

func (s store) get(name string, shape ...int) (*tensor.Tensor, error) {
	full := s.prefix + name
	if !s.src.Has(full) {
		return nil, &MissingWeightError{Name: full}
	}
	t, err := s.src.Tensor(full)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(t.Shape(), shape) {
		return nil, &WeightShapeError{Name: full, Want: shape, Got: t.Shape()}
	}
	return t, nil
}

// rootStore finds the prefix the checkpoint stores the encoder under. Exports
// from a task head nest it under the model type, e.g. "bert.embeddings...".
func rootStore(src TensorSource, modelType string) (store, error) {
	const probe = "embeddings.word_embeddings.weight"
	candidates := []string{""}
	if modelType != "" {
		candidates = append(candidates, modelType+".")
	}
	for _, prefix := range candidates {
		if src.Has(prefix + probe) {
			return store{src: src, prefix: prefix}, nil
		}
	}
	return store{}, &MissingWeightError{Name: strings.Join(candidates, "|") + probe}
}

type linear struct {
	weight *tensor.Tensor
	bias   []float32
}

func (s store) linear(in, out int, withBias bool) (linear, error) {
	w, err := s.get("weight", out, in)
	if err != nil {
		return linear{}, err
	}
	l := linear{weight: w}
	if withBias {
		b, err := s.get("bias", out)
		if err != nil {
			return linear{}, err
		}
		l.bias = b.Data()
	}
	return l, nil
}

func (l linear) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.MatMulT(x, l.weight)
	if err != nil {
		return nil, err
	}
	if l.bias != nil {
		if err := out.AddRowVector(l.bias); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type layerNorm struct {
	gamma, beta []float32
	eps         float64
}

// layerNorm accepts both weight/bias and the older gamma/beta names.
func (s store) layerNorm(dim int, eps float64) (layerNorm, error) {
	weightName, biasName := "weight", "bias"
	if !s.has(weightName) && s.has("gamma") {
		weightName, biasName = "gamma", "beta"
	}
	w, err := s.get(weightName, dim)
	if err != nil {
		return layerNorm{}, err
	}
	b, err := s.get(biasName, dim)
	if err != nil {
		return layerNorm{}, err
	}
	return layerNorm{gamma: w.Data(), beta: b.Data(), eps: eps}, nil
}

func (n layerNorm) forward(x *tensor.Tensor) error {
	return x.LayerNorm(n.gamma, n.beta, n.eps)
}

func activate(act HiddenAct, xs []float32) {
	switch act {
	case GeluApproximate:
		tensor.GELUTanh(xs)
	case Relu:
		for i, x := range xs {
			if x < 0 {
				xs[i] = 0
			}
		}
	default:
		tensor.GELU(xs)
	}
}
