package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"
)

// VectorCache is the lookup store used by CachedService. *cache.EmbeddingCache
// implements it.
type VectorCache interface {
	GetMany(ctx context.Context, model string, texts []string) ([][]float32, error)
	SetMany(ctx context.Context, model string, texts []string, vectors [][]float32) error
}

// CachedService serves repeated texts from a cache and embeds only the misses,
// in one call to the wrapped service. Cache failures count as misses.
type CachedService struct {
	inner     Service
	cache     VectorCache
	namespace string
	logger    *zap.Logger
}

// NewCachedService wraps inner with cache. Entries are stored under
// CacheNamespace(inner), so reconfiguring a service never serves vectors
// from its previous model.
func NewCachedService(inner Service, cache VectorCache, logger *zap.Logger) *CachedService {
	ns := CacheNamespace(inner)
	return &CachedService{
		inner:     inner,
		cache:     cache,
		namespace: ns,
		logger:    logger.With(zap.String("service", inner.Name()), zap.String("namespace", ns)),
	}
}

// CacheNamespace is the service name, suffixed with a short hash of its
// fingerprint when it has one.
func CacheNamespace(svc Service) string {
	f, ok := svc.(Fingerprinter)
	if !ok || f.Fingerprint() == "" {
		return svc.Name()
	}
	sum := sha256.Sum256([]byte(f.Fingerprint()))
	return svc.Name() + "-" + hex.EncodeToString(sum[:6])
}

func (s *CachedService) Name() string { return s.inner.Name() }

func (s *CachedService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out, err := s.cache.GetMany(ctx, s.namespace, texts)
	if err != nil || len(out) != len(texts) {
		s.logger.Warn("Cache unavailable, embedding all texts", zap.Error(err))
		out = make([][]float32, len(texts))
	}

	var missIdx []int
	var missTexts []string
	for i, v := range out {
		if v == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := s.inner.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, newError(ErrInferenceFailed, nil, "%s returned %d vectors for %d texts", s.inner.Name(), len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
	}

	if err := s.cache.SetMany(ctx, s.namespace, missTexts, vecs); err != nil {
		s.logger.Warn("Failed to populate cache", zap.Int("texts", len(missTexts)), zap.Error(err))
	}
	return out, nil
}
