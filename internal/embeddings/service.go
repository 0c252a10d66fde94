package embeddings

import (
	"context"

	"github.com/raaihank/quackformers/internal/models"
)

// Service is the embedding surface shared by the HTTP API, the SQL functions
// and the ingestion pipeline. Implementations return exactly one vector per
// input text, in order, or an error.
type Service interface {
	Name() string
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Fingerprinter is implemented by services whose output depends on
// configuration beyond their name. Cached vectors are namespaced by it.
type Fingerprinter interface {
	Fingerprint() string
}

type variantService struct {
	registry    *Registry
	variant     models.Variant
	batchSize   int
	fingerprint string
}

func (s *variantService) Name() string { return string(s.variant) }

func (s *variantService) Fingerprint() string { return s.fingerprint }

func (s *variantService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return s.registry.Embed(ctx, s.variant, texts, s.batchSize)
}
