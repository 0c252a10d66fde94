package embeddings

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/hub"
	"github.com/raaihank/quackformers/internal/models"
	"github.com/raaihank/quackformers/internal/tokenizer"
)

// Backend kinds accepted in ModelSpec.Backend.
const (
	BackendNative = "native"
	BackendOnnx   = "onnx"
)

// ModelSpec locates a variant's files and selects how it runs.
type ModelSpec struct {
	Repo            string `mapstructure:"repo"`
	Revision        string `mapstructure:"revision"`
	TokenizerFile   string `mapstructure:"tokenizer_file"`
	WeightsFile     string `mapstructure:"weights_file"`
	ConfigFile      string `mapstructure:"config_file"` // optional; presets are used when empty
	OnnxFile        string `mapstructure:"onnx_file"`
	Backend         string `mapstructure:"backend"`
	ApproximateGelu bool   `mapstructure:"approximate_gelu"`
}

// Fingerprint identifies the weights and settings that determine the vectors
// the spec produces. Empty file names are resolved to their defaults first.
func (s ModelSpec) Fingerprint() string {
	backend := orDefault(s.Backend, BackendNative)
	file := orDefault(s.WeightsFile, "model.safetensors")
	if backend == BackendOnnx {
		file = orDefault(s.OnnxFile, "onnx/model.onnx")
	}
	return fmt.Sprintf("%s@%s|%s|%s|tokenizer=%s|config=%s|approximate_gelu=%t",
		s.Repo, s.Revision, backend, file,
		orDefault(s.TokenizerFile, "tokenizer.json"), s.ConfigFile, s.ApproximateGelu)
}

// DefaultSpecs are the packaged model locations.
func DefaultSpecs() map[models.Variant]ModelSpec {
	return map[models.Variant]ModelSpec{
		models.VariantBert: {
			Repo:          "sentence-transformers/all-MiniLM-L6-v2",
			Revision:      "refs/pr/21",
			TokenizerFile: "tokenizer.json",
			WeightsFile:   "model.safetensors",
			OnnxFile:      "onnx/model.onnx",
			Backend:       BackendNative,
		},
		models.VariantJina: {
			Repo:          "jinaai/jina-embeddings-v2-base-en",
			Revision:      "main",
			TokenizerFile: "tokenizer.json",
			WeightsFile:   "model.safetensors",
			OnnxFile:      "onnx/model.onnx",
			Backend:       BackendNative,
		},
	}
}

// FileFetcher resolves a repository file to a local path.
type FileFetcher interface {
	Fetch(ctx context.Context, repo, revision, filename string) (string, error)
}

// NewHubBuilder returns a Builder that downloads files with fetcher (a default
// hub client when nil) and loads the backend each spec selects.
func NewHubBuilder(fetcher FileFetcher, specs map[models.Variant]ModelSpec, logger *zap.Logger) Builder {
	if fetcher == nil {
		fetcher = hub.NewClient(hub.Config{}, logger)
	}
	return func(ctx context.Context, variant models.Variant) (*TextEmbedder, error) {
		spec, ok := specs[variant]
		if !ok {
			return nil, fmt.Errorf("no model spec for variant %q", variant)
		}
		return buildFromSpec(ctx, fetcher, variant, spec, logger)
	}
}

func buildFromSpec(ctx context.Context, fetcher FileFetcher, variant models.Variant, spec ModelSpec, logger *zap.Logger) (*TextEmbedder, error) {
	tokPath, err := fetcher.Fetch(ctx, spec.Repo, spec.Revision, orDefault(spec.TokenizerFile, "tokenizer.json"))
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.FromFile(tokPath)
	if err != nil {
		return nil, err
	}

	cfg, err := models.DefaultConfig(variant)
	if err != nil {
		return nil, err
	}
	if spec.ConfigFile != "" {
		cfgPath, err := fetcher.Fetch(ctx, spec.Repo, spec.Revision, spec.ConfigFile)
		if err != nil {
			return nil, err
		}
		if cfg, err = models.ConfigFromFile(variant, cfgPath); err != nil {
			return nil, err
		}
	}
	if spec.ApproximateGelu {
		cfg.HiddenAct = models.GeluApproximate
	}

	var backend models.Backend
	switch orDefault(spec.Backend, BackendNative) {
	case BackendNative:
		weights, err := fetcher.Fetch(ctx, spec.Repo, spec.Revision, orDefault(spec.WeightsFile, "model.safetensors"))
		if err != nil {
			return nil, err
		}
		if backend, err = models.Load(variant, weights, cfg); err != nil {
			return nil, err
		}
	case BackendOnnx:
		onnxPath, err := fetcher.Fetch(ctx, spec.Repo, spec.Revision, orDefault(spec.OnnxFile, "onnx/model.onnx"))
		if err != nil {
			return nil, err
		}
		if backend, err = models.LoadOnnx(logger, variant, onnxPath, cfg.HiddenSize); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown backend %q for variant %s", spec.Backend, variant)
	}

	logger.Info("Model files loaded",
		zap.String("variant", string(variant)),
		zap.String("repo", spec.Repo),
		zap.String("revision", spec.Revision),
		zap.String("backend", orDefault(spec.Backend, BackendNative)),
		zap.String("tokenizer", path.Base(tokPath)),
		zap.Int("hidden_size", cfg.HiddenSize))
	return NewTextEmbedder(string(variant), backend, tok, logger), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
