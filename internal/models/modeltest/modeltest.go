// Package modeltest builds small deterministic encoders for tests.
package modeltest

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/raaihank/quackformers/internal/models"
	"github.com/raaihank/quackformers/internal/safetensors"
	"github.com/raaihank/quackformers/internal/tensor"
)

// TinyConfig is a two-layer, two-head encoder over a 32-token vocabulary.
func TinyConfig(variant models.Variant) models.Config {
	cfg := models.Config{
		VocabSize:             32,
		HiddenSize:            8,
		NumHiddenLayers:       2,
		NumAttentionHeads:     2,
		IntermediateSize:      16,
		HiddenAct:             models.Gelu,
		MaxPositionEmbeddings: 64,
		TypeVocabSize:         2,
		LayerNormEps:          1e-12,
		PositionEmbeddingType: models.PositionAbsolute,
		ModelType:             "bert",
	}
	if variant == models.VariantJina {
		cfg.PositionEmbeddingType = models.PositionAlibi
	}
	return cfg
}

// Weights returns a full weight set for variant with values drawn from seed.
func Weights(variant models.Variant, cfg models.Config, seed int64) map[string]*tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	out := map[string]*tensor.Tensor{}
	h, inter := cfg.HiddenSize, cfg.IntermediateSize

	put := func(name string, shape ...int) {
		t := tensor.Zeros(shape...)
		for i := range t.Data() {
			t.Data()[i] = float32(rng.NormFloat64() * 0.2)
		}
		out[name] = t
	}
	norm := func(prefix string) {
		g := tensor.Zeros(h)
		for i := range g.Data() {
			g.Data()[i] = 1
		}
		out[prefix+".weight"] = g
		out[prefix+".bias"] = tensor.Zeros(h)
	}
	dense := func(prefix string, in, o int, bias bool) {
		put(prefix+".weight", o, in)
		if bias {
			put(prefix+".bias", o)
		}
	}

	put("embeddings.word_embeddings.weight", cfg.VocabSize, h)
	put("embeddings.token_type_embeddings.weight", cfg.TypeVocabSize, h)
	if variant != models.VariantJina {
		put("embeddings.position_embeddings.weight", cfg.MaxPositionEmbeddings, h)
	}
	norm("embeddings.LayerNorm")

	for i := 0; i < cfg.NumHiddenLayers; i++ {
		p := fmt.Sprintf("encoder.layer.%d.", i)
		dense(p+"attention.self.query", h, h, true)
		dense(p+"attention.self.key", h, h, true)
		dense(p+"attention.self.value", h, h, true)
		dense(p+"attention.output.dense", h, h, true)
		norm(p + "attention.output.LayerNorm")
		if variant == models.VariantJina {
			dense(p+"mlp.gated_layers", h, 2*inter, false)
			dense(p+"mlp.wo", inter, h, true)
			norm(p + "mlp.layernorm")
			continue
		}
		dense(p+"intermediate.dense", h, inter, true)
		dense(p+"output.dense", inter, h, true)
		norm(p + "output.LayerNorm")
	}
	return out
}

// WriteWeights stores a generated weight set under t.TempDir and returns its path.
func WriteWeights(t testing.TB, variant models.Variant, cfg models.Config, seed int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := safetensors.WriteFile(path, Weights(variant, cfg, seed), map[string]string{"format": "pt"}); err != nil {
		t.Fatalf("Failed to write test weights: %v", err)
	}
	return path
}

// Backend loads a generated encoder for variant.
func Backend(t testing.TB, variant models.Variant, seed int64) models.Backend {
	t.Helper()
	cfg := TinyConfig(variant)
	backend, err := models.Load(variant, WriteWeights(t, variant, cfg, seed), cfg)
	if err != nil {
		t.Fatalf("Failed to load test backend: %v", err)
	}
	return backend
}

// TokenizerJSON is a WordPiece tokenizer.json whose ids fit TinyConfig's vocabulary.
const TokenizerJSON = `{
  "version": "1.0",
  "truncation": {"direction": "Right", "max_length": 16, "strategy": "LongestFirst", "stride": 0},
  "padding": null,
  "added_tokens": [
    {"id": 0, "content": "[PAD]", "normalized": false, "special": true},
    {"id": 1, "content": "[UNK]", "normalized": false, "special": true},
    {"id": 2, "content": "[CLS]", "normalized": false, "special": true},
    {"id": 3, "content": "[SEP]", "normalized": false, "special": true}
  ],
  "normalizer": {"type": "BertNormalizer", "clean_text": true, "handle_chinese_chars": true, "strip_accents": null, "lowercase": true},
  "pre_tokenizer": {"type": "BertPreTokenizer"},
  "post_processor": {
    "type": "TemplateProcessing",
    "single": [{"SpecialToken": {"id": "[CLS]", "type_id": 0}}, {"Sequence": {"id": "A", "type_id": 0}}, {"SpecialToken": {"id": "[SEP]", "type_id": 0}}],
    "special_tokens": {
      "[CLS]": {"id": "[CLS]", "ids": [2], "tokens": ["[CLS]"]},
      "[SEP]": {"id": "[SEP]", "ids": [3], "tokens": ["[SEP]"]}
    }
  },
  "model": {
    "type": "WordPiece", "unk_token": "[UNK]", "continuing_subword_prefix": "##", "max_input_chars_per_word": 100,
    "vocab": {
      "[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3,
      "hello": 4, "world": 5, "the": 6, "quick": 7, "brown": 8, "fox": 9,
      "duck": 10, "quack": 11, "##s": 12, "data": 13, "base": 14, "##base": 15,
      "a": 16, "is": 17, "fast": 18, "query": 19, "!": 20, ".": 21, ",": 22, "text": 23
    }
  }
}`
