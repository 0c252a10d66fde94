package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/raaihank/quackformers/internal/config"
	"github.com/raaihank/quackformers/internal/embeddings"
	"github.com/raaihank/quackformers/internal/logger"
	"github.com/raaihank/quackformers/internal/models"
	"github.com/raaihank/quackformers/internal/models/modeltest"
	"github.com/raaihank/quackformers/internal/tokenizer"
	"github.com/raaihank/quackformers/internal/udf"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return l
}

func tinyBuilder(t *testing.T, failing ...models.Variant) embeddings.Builder {
	t.Helper()
	return func(ctx context.Context, variant models.Variant) (*embeddings.TextEmbedder, error) {
		for _, f := range failing {
			if f == variant {
				return nil, errors.New("download failed")
			}
		}
		tok, err := tokenizer.FromBytes([]byte(modeltest.TokenizerJSON))
		if err != nil {
			return nil, err
		}
		return embeddings.NewTextEmbedder(string(variant), modeltest.Backend(t, variant, 7), tok, zap.NewNop()), nil
	}
}

type fakeRemote struct{ closed bool }

func (f *fakeRemote) Name() string { return "embedrock" }

func (f *fakeRemote) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *fakeRemote) Invoke(ctx context.Context, prompt, model string) (string, error) {
	return prompt, nil
}

func (f *fakeRemote) Close() error {
	f.closed = true
	return nil
}

func TestNewEagerWarm(t *testing.T) {
	cfg := config.GetDefaults()
	remote := &fakeRemote{}

	a, err := New(context.Background(), cfg, testLogger(t), WithBuilder(tinyBuilder(t, models.VariantJina)), WithRemote(remote))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if got := strings.Join(a.Catalog.Names(), ","); got != "bedrock_invoke,embed,embedrock" {
		t.Errorf("Expected jina left out, got %s", got)
	}
	if !a.Registry.Ready(models.VariantBert) || a.Registry.Ready(models.VariantJina) {
		t.Error("Expected bert ready and jina failed")
	}

	svc, err := a.Service(udf.FuncEmbed)
	if err != nil {
		t.Fatalf("Service failed: %v", err)
	}
	vecs, err := svc.EmbedTexts(context.Background(), []string{"hello world"})
	if err != nil || len(vecs) != 1 || len(vecs[0]) != modeltest.TinyConfig(models.VariantBert).HiddenSize {
		t.Errorf("Unexpected embedding %v, %v", vecs, err)
	}
	if _, err := a.Service(udf.FuncEmbedJina); err == nil {
		t.Error("Expected embed_jina unavailable")
	}

	if err := a.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !remote.closed {
		t.Error("Expected remote closed")
	}
}

func TestNewNothingAvailable(t *testing.T) {
	cfg := config.GetDefaults()
	_, err := New(context.Background(), cfg, testLogger(t), WithBuilder(tinyBuilder(t, models.VariantBert, models.VariantJina)))
	if err == nil {
		t.Fatal("Expected error when no function can be registered")
	}
}

func TestNewLazy(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Models.EagerWarm = false

	a, err := New(context.Background(), cfg, testLogger(t), WithBuilder(tinyBuilder(t, models.VariantJina)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if a.Registry.Ready(models.VariantBert) {
		t.Error("Expected no model loaded before first use")
	}
	svc, err := a.Service(udf.FuncEmbedJina)
	if err != nil {
		t.Fatalf("Expected embed_jina registered lazily: %v", err)
	}
	if _, err := svc.EmbedTexts(context.Background(), []string{"quack"}); !errors.Is(err, embeddings.ErrModelNotLoaded) {
		t.Errorf("Expected ErrModelNotLoaded, got %v", err)
	}
}

func TestReload(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Logging.Level = "error"
	log := testLogger(t)
	a, err := New(context.Background(), cfg, log, WithBuilder(tinyBuilder(t)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	next := config.GetDefaults()
	next.Logging.Level = "debug"
	a.Reload(next)
	if log.Level() != zapcore.DebugLevel {
		t.Errorf("Expected debug level after reload, got %s", log.Level())
	}

	bad := config.GetDefaults()
	bad.Logging.Level = "loud"
	a.Reload(bad)
	if log.Level() != zapcore.DebugLevel {
		t.Errorf("Expected level unchanged by an invalid reload, got %s", log.Level())
	}
}
