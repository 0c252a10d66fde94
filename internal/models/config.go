package models

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Variant names a supported encoder family.
type Variant string

const (
	VariantBert Variant = "bert"
	VariantJina Variant = "jina"
)

// ParseVariant accepts the variant names used in configuration files.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bert", "minilm", "all-minilm-l6-v2":
		return VariantBert, nil
	case "jina", "jina-bert", "jina-embeddings-v2-base-en":
		return VariantJina, nil
	default:
		return "", fmt.Errorf("unknown model variant %q", s)
	}
}

// HiddenAct is the feed-forward activation.
type HiddenAct string

const (
	Gelu            HiddenAct = "gelu"
	GeluApproximate HiddenAct = "gelu_approximate"
	Relu            HiddenAct = "relu"
)

func (a *HiddenAct) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "gelu":
		*a = Gelu
	case "gelu_new", "gelu_pytorch_tanh", "gelu_approximate", "gelu_fast":
		*a = GeluApproximate
	case "relu":
		*a = Relu
	default:
		return fmt.Errorf("unsupported hidden_act %q", s)
	}
	return nil
}

// PositionEmbedding selects how token positions enter the encoder.
type PositionEmbedding string

const (
	PositionAbsolute PositionEmbedding = "absolute"
	PositionAlibi    PositionEmbedding = "alibi"
)

// Config is the architecture description found in a model's config.json.
type Config struct {
	VocabSize             int               `json:"vocab_size"`
	HiddenSize            int               `json:"hidden_size"`
	NumHiddenLayers       int               `json:"num_hidden_layers"`
	NumAttentionHeads     int               `json:"num_attention_heads"`
	IntermediateSize      int               `json:"intermediate_size"`
	HiddenAct             HiddenAct         `json:"hidden_act"`
	MaxPositionEmbeddings int               `json:"max_position_embeddings"`
	TypeVocabSize         int               `json:"type_vocab_size"`
	LayerNormEps          float64           `json:"layer_norm_eps"`
	PadTokenID            int64             `json:"pad_token_id"`
	PositionEmbeddingType PositionEmbedding `json:"position_embedding_type"`
	ModelType             string            `json:"model_type"`
}

// MiniLML6V2 is sentence-transformers/all-MiniLM-L6-v2.
func MiniLML6V2() Config {
	return Config{
		VocabSize:             30522,
		HiddenSize:            384,
		NumHiddenLayers:       6,
		NumAttentionHeads:     12,
		IntermediateSize:      1536,
		HiddenAct:             Gelu,
		MaxPositionEmbeddings: 512,
		TypeVocabSize:         2,
		LayerNormEps:          1e-12,
		PadTokenID:            0,
		PositionEmbeddingType: PositionAbsolute,
		ModelType:             "bert",
	}
}

// JinaV2Base is jinaai/jina-embeddings-v2-base-en.
func JinaV2Base() Config {
	return Config{
		VocabSize:             30528,
		HiddenSize:            768,
		NumHiddenLayers:       12,
		NumAttentionHeads:     12,
		IntermediateSize:      3072,
		HiddenAct:             Gelu,
		MaxPositionEmbeddings: 8192,
		TypeVocabSize:         2,
		LayerNormEps:          1e-12,
		PadTokenID:            0,
		PositionEmbeddingType: PositionAlibi,
		ModelType:             "bert",
	}
}

// DefaultConfig returns the packaged preset for v.
func DefaultConfig(v Variant) (Config, error) {
	switch v {
	case VariantBert:
		return MiniLML6V2(), nil
	case VariantJina:
		return JinaV2Base(), nil
	default:
		return Config{}, fmt.Errorf("unknown model variant %q", v)
	}
}

// ConfigFromFile reads a config.json, filling unset fields from the variant preset.
func ConfigFromFile(v Variant, path string) (Config, error) {
	cfg, err := DefaultConfig(v)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read model config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse model config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// HeadDim is the per-head width.
func (c Config) HeadDim() int { return c.HiddenSize / c.NumAttentionHeads }

// Validate checks that the dimensions describe a buildable encoder.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return fmt.Errorf("vocab_size must be positive")
	case c.HiddenSize <= 0:
		return fmt.Errorf("hidden_size must be positive")
	case c.NumAttentionHeads <= 0 || c.HiddenSize%c.NumAttentionHeads != 0:
		return fmt.Errorf("hidden_size %d is not divisible by num_attention_heads %d", c.HiddenSize, c.NumAttentionHeads)
	case c.NumHiddenLayers < 0:
		return fmt.Errorf("num_hidden_layers must not be negative")
	case c.IntermediateSize <= 0:
		return fmt.Errorf("intermediate_size must be positive")
	case c.TypeVocabSize <= 0:
		return fmt.Errorf("type_vocab_size must be positive")
	case c.MaxPositionEmbeddings <= 0:
		return fmt.Errorf("max_position_embeddings must be positive")
	}
	return nil
}
