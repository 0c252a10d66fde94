package embeddings

import (
	"context"
	"math"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/hub"
	"github.com/raaihank/quackformers/internal/models"
)

// TestPretrainedModels downloads the real weights; set QUACK_MODEL_TESTS=1 to run it.
func TestPretrainedModels(t *testing.T) {
	if os.Getenv("QUACK_MODEL_TESTS") != "1" {
		t.Skip("set QUACK_MODEL_TESTS=1 to run against downloaded models")
	}

	fetcher := hub.NewClient(hub.Config{}, zap.NewNop())
	registry := NewRegistry(zap.NewNop(), WithBuilder(NewHubBuilder(fetcher, DefaultSpecs(), zap.NewNop())))
	defer registry.Close()

	tests := []struct {
		variant models.Variant
		dims    int
	}{
		{models.VariantBert, 384},
		{models.VariantJina, 768},
	}
	for _, tt := range tests {
		t.Run(string(tt.variant), func(t *testing.T) {
			vecs, err := registry.Embed(context.Background(), tt.variant, []string{"hello world", "a duck", "hello world"}, DefaultBatchSize)
			if err != nil {
				t.Fatalf("Embed failed: %v", err)
			}
			if len(vecs[0]) != tt.dims {
				t.Fatalf("Expected %d dimensions, got %d", tt.dims, len(vecs[0]))
			}
			if n := norm(vecs[0]); math.Abs(n-1) > 1e-4 {
				t.Errorf("Expected unit norm, got %f", n)
			}
			same := CosineSimilarity(vecs[0], vecs[2])
			other := CosineSimilarity(vecs[0], vecs[1])
			if same < 0.9999 || other >= same {
				t.Errorf("Expected identical texts to match best, got same=%f other=%f", same, other)
			}
		})
	}
}
