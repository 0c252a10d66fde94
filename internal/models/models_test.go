package models_test

import (
	"errors"
	"math"
	"testing"

	"github.com/raaihank/quackformers/internal/models"
	"github.com/raaihank/quackformers/internal/models/modeltest"
	"github.com/raaihank/quackformers/internal/safetensors"
	"github.com/raaihank/quackformers/internal/tensor"
)

type mapSource map[string]*tensor.Tensor

func (m mapSource) Has(name string) bool {
	_, ok := m[name]
	return ok
}

func (m mapSource) Tensor(name string) (*tensor.Tensor, error) {
	t, ok := m[name]
	if !ok {
		return nil, &safetensors.MissingTensorError{Name: name}
	}
	return t, nil
}

func ints(t *testing.T, rows [][]int64) *tensor.IntTensor {
	t.Helper()
	it, err := tensor.Stack(rows, tensor.CPU)
	if err != nil {
		t.Fatalf("Stack failed: %v", err)
	}
	return it
}

func TestForwardShape(t *testing.T) {
	for _, variant := range []models.Variant{models.VariantBert, models.VariantJina} {
		t.Run(string(variant), func(t *testing.T) {
			backend := modeltest.Backend(t, variant, 1)
			defer backend.Close()

			ids := ints(t, [][]int64{{2, 4, 5, 3}, {2, 6, 3, 0}})
			mask := ints(t, [][]int64{{1, 1, 1, 1}, {1, 1, 1, 0}})
			out, err := backend.Forward(ids, ids.ZerosLike(), mask)
			if err != nil {
				t.Fatalf("Forward failed: %v", err)
			}

			shape := out.Shape()
			if len(shape) != 3 || shape[0] != 2 || shape[1] != 4 || shape[2] != backend.HiddenSize() {
				t.Fatalf("Expected shape [2 4 %d], got %v", backend.HiddenSize(), shape)
			}
			for i, v := range out.Data() {
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					t.Fatalf("Expected finite outputs, got %f at %d", v, i)
				}
			}
		})
	}
}

// Padding a sequence further must not change the hidden states of its real tokens.
func TestPaddingInvariance(t *testing.T) {
	for _, variant := range []models.Variant{models.VariantBert, models.VariantJina} {
		t.Run(string(variant), func(t *testing.T) {
			backend := modeltest.Backend(t, variant, 7)
			defer backend.Close()

			short := ints(t, [][]int64{{2, 7, 8, 3}})
			shortMask := ints(t, [][]int64{{1, 1, 1, 1}})
			long := ints(t, [][]int64{{2, 7, 8, 3, 0, 0, 0}})
			longMask := ints(t, [][]int64{{1, 1, 1, 1, 0, 0, 0}})

			a, err := backend.Forward(short, short.ZerosLike(), shortMask)
			if err != nil {
				t.Fatalf("Forward failed: %v", err)
			}
			b, err := backend.Forward(long, long.ZerosLike(), longMask)
			if err != nil {
				t.Fatalf("Forward failed: %v", err)
			}

			hidden := backend.HiddenSize()
			for i := 0; i < 4*hidden; i++ {
				if d := math.Abs(float64(a.Data()[i] - b.Data()[i])); d > 1e-5 {
					t.Fatalf("Expected identical real-token states, diff %g at %d", d, i)
				}
			}
		})
	}
}

func TestForwardValidation(t *testing.T) {
	backend := modeltest.Backend(t, models.VariantBert, 1)
	defer backend.Close()

	ids := ints(t, [][]int64{{2, 99, 3}})
	if _, err := backend.Forward(ids, ids.ZerosLike(), ints(t, [][]int64{{1, 1, 1}})); err == nil {
		t.Error("Expected error for token id outside vocabulary")
	}

	ids = ints(t, [][]int64{{2, 4, 3}})
	if _, err := backend.Forward(ids, ids.ZerosLike(), ints(t, [][]int64{{1, 1}})); err == nil {
		t.Error("Expected error for mismatched mask shape")
	}
}

func TestLoadMissingWeight(t *testing.T) {
	cfg := modeltest.TinyConfig(models.VariantBert)
	weights := modeltest.Weights(models.VariantBert, cfg, 1)
	delete(weights, "encoder.layer.1.output.dense.weight")

	_, err := models.FromSource(models.VariantBert, mapSource(weights), cfg)
	var missing *models.MissingWeightError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected MissingWeightError, got %v", err)
	}
	if missing.Name != "encoder.layer.1.output.dense.weight" {
		t.Errorf("Expected missing name to be reported, got %q", missing.Name)
	}
}

func TestLoadShapeMismatch(t *testing.T) {
	cfg := modeltest.TinyConfig(models.VariantJina)
	weights := modeltest.Weights(models.VariantJina, cfg, 1)
	cfg.IntermediateSize = 12

	_, err := models.FromSource(models.VariantJina, mapSource(weights), cfg)
	var shapeErr *models.WeightShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("Expected WeightShapeError, got %v", err)
	}
}

func TestLoadPrefixedAndLegacyNames(t *testing.T) {
	cfg := modeltest.TinyConfig(models.VariantBert)
	prefixed := mapSource{}
	for name, w := range modeltest.Weights(models.VariantBert, cfg, 3) {
		if name == "embeddings.LayerNorm.weight" {
			name = "embeddings.LayerNorm.gamma"
		}
		if name == "embeddings.LayerNorm.bias" {
			name = "embeddings.LayerNorm.beta"
		}
		prefixed["bert."+name] = w
	}

	if _, err := models.FromSource(models.VariantBert, prefixed, cfg); err != nil {
		t.Fatalf("Expected bert. prefix and gamma/beta names to load, got %v", err)
	}
}

func TestLoadErrorWrapsPath(t *testing.T) {
	_, err := models.Load(models.VariantBert, "/nonexistent/model.safetensors", models.MiniLML6V2())
	var loadErr *models.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Expected LoadError, got %v", err)
	}
	if loadErr.Variant != models.VariantBert {
		t.Errorf("Expected variant bert, got %s", loadErr.Variant)
	}
}

func TestPresets(t *testing.T) {
	bert := models.MiniLML6V2()
	if bert.HiddenSize != 384 || bert.NumHiddenLayers != 6 || bert.VocabSize != 30522 {
		t.Errorf("Unexpected MiniLM preset: %+v", bert)
	}
	jina := models.JinaV2Base()
	if jina.HiddenSize != 768 || jina.MaxPositionEmbeddings != 8192 || jina.PositionEmbeddingType != models.PositionAlibi {
		t.Errorf("Unexpected Jina preset: %+v", jina)
	}
	for _, cfg := range []models.Config{bert, jina} {
		if err := cfg.Validate(); err != nil {
			t.Errorf("Expected preset to validate, got %v", err)
		}
	}
}

func TestParseVariant(t *testing.T) {
	if v, err := models.ParseVariant("MiniLM"); err != nil || v != models.VariantBert {
		t.Errorf("Expected bert, got %s (%v)", v, err)
	}
	if v, err := models.ParseVariant("jina"); err != nil || v != models.VariantJina {
		t.Errorf("Expected jina, got %s (%v)", v, err)
	}
	if _, err := models.ParseVariant("gpt"); err == nil {
		t.Error("Expected error for unknown variant")
	}
}

func TestLoadOwnsMapping(t *testing.T) {
	cfg := modeltest.TinyConfig(models.VariantJina)
	backend, err := models.Load(models.VariantJina, modeltest.WriteWeights(t, models.VariantJina, cfg, 4), cfg)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	ids := ints(t, [][]int64{{2, 4, 3}})
	mask := ints(t, [][]int64{{1, 1, 1}})
	first, err := backend.Forward(ids, ids.ZerosLike(), mask)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	second, err := backend.Forward(ids, ids.ZerosLike(), mask)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	for i := range first.Data() {
		if first.Data()[i] != second.Data()[i] {
			t.Fatalf("Expected repeated forward passes to agree at %d", i)
		}
	}
	if backend.HiddenSize() != cfg.HiddenSize {
		t.Errorf("Expected hidden size %d, got %d", cfg.HiddenSize, backend.HiddenSize())
	}

	if err := backend.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Errorf("Expected a second Close to be a no-op, got %v", err)
	}
}
