package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/metrics"
	"github.com/raaihank/quackformers/internal/models"
)

// WarmupText is embedded once when a variant is built so the first real call
// does not pay for lazy initialization.
const WarmupText = "hello world"

// Builder constructs the embedder for a variant.
type Builder func(ctx context.Context, variant models.Variant) (*TextEmbedder, error)

type entry struct {
	once sync.Once
	mu   sync.Mutex // held for the whole of every Embed call

	state    sync.RWMutex
	embedder *TextEmbedder
	err      error
	loadTime time.Duration
}

func (e *entry) load() (*TextEmbedder, error) {
	e.state.RLock()
	defer e.state.RUnlock()
	return e.embedder, e.err
}

func (e *entry) set(emb *TextEmbedder, err error, loadTime time.Duration) {
	e.state.Lock()
	e.embedder, e.err, e.loadTime = emb, err, loadTime
	e.state.Unlock()
}

// Registry owns at most one warm embedder per variant for the life of the
// process. A variant that fails to build stays failed.
type Registry struct {
	builder      Builder
	logger       *zap.Logger
	entries      map[models.Variant]*entry
	fingerprints map[models.Variant]string

	closeOnce sync.Once
}

// Option configures a Registry.
type Option func(*Registry)

// WithBuilder replaces the default Hugging Face Hub builder.
func WithBuilder(b Builder) Option {
	return func(r *Registry) { r.builder = b }
}

// WithSpecs records the spec each variant is built from so its services can
// be told apart in caches. It does not change the builder.
func WithSpecs(specs map[models.Variant]ModelSpec) Option {
	return func(r *Registry) {
		for v, spec := range specs {
			r.fingerprints[v] = spec.Fingerprint()
		}
	}
}

// NewRegistry creates a registry for both supported variants. Without
// WithBuilder, models are fetched from the Hub with DefaultSpecs.
func NewRegistry(logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger: logger.With(zap.String("component", "registry")),
		entries: map[models.Variant]*entry{
			models.VariantBert: {},
			models.VariantJina: {},
		},
		fingerprints: map[models.Variant]string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.builder == nil {
		r.builder = NewHubBuilder(nil, DefaultSpecs(), logger)
	}
	return r
}

func (r *Registry) entry(variant models.Variant) (*entry, error) {
	e, ok := r.entries[variant]
	if !ok {
		return nil, newError(ErrInvalidInput, nil, "unknown model variant %q", variant)
	}
	return e, nil
}

// Get returns the warm embedder for variant, building it on first use. The
// embedder is not safe for concurrent calls; use Registry.Embed to share it.
func (r *Registry) Get(ctx context.Context, variant models.Variant) (*TextEmbedder, error) {
	e, err := r.entry(variant)
	if err != nil {
		return nil, err
	}
	// A cancelled caller must not leave the variant permanently failed.
	e.once.Do(func() { r.build(context.WithoutCancel(ctx), variant, e) })
	return e.load()
}

func (r *Registry) build(ctx context.Context, variant models.Variant, e *entry) {
	start := time.Now()
	r.logger.Info("Loading model", zap.String("variant", string(variant)))

	emb, err := r.builder(ctx, variant)
	if err == nil {
		_, err = emb.Embed([]string{WarmupText}, 1)
		if err != nil {
			_ = emb.Close()
			err = fmt.Errorf("warm-up: %w", err)
		}
	}
	if err != nil {
		e.set(nil, newError(ErrModelNotLoaded, err, "%s model unavailable", variant), time.Since(start))
		metrics.ModelReady.WithLabelValues(string(variant)).Set(0)
		r.logger.Error("Model failed to load", zap.String("variant", string(variant)), zap.Error(err))
		return
	}

	loadTime := time.Since(start)
	emb.stats.setLoadTime(loadTime)
	e.set(emb, nil, loadTime)
	metrics.ModelReady.WithLabelValues(string(variant)).Set(1)
	metrics.ModelLoadDuration.WithLabelValues(string(variant)).Set(loadTime.Seconds())
	r.logger.Info("Model ready",
		zap.String("variant", string(variant)),
		zap.Int("dimensions", emb.Dimensions()),
		zap.Duration("load_time", loadTime))
}

// Warm builds the given variants, or all of them when none are named. The
// returned error combines every variant that failed.
func (r *Registry) Warm(ctx context.Context, variants ...models.Variant) error {
	if len(variants) == 0 {
		variants = []models.Variant{models.VariantBert, models.VariantJina}
	}
	var errs error
	for _, v := range variants {
		if _, err := r.Get(ctx, v); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Embed runs one call against variant while holding its lock. Calls for
// different variants do not block each other.
func (r *Registry) Embed(ctx context.Context, variant models.Variant, texts []string, batchSize int) ([][]float32, error) {
	function := string(variant)
	start := time.Now()

	if _, err := r.Get(ctx, variant); err != nil {
		metrics.EmbedRequestsTotal.WithLabelValues(function, "unavailable").Inc()
		return nil, err
	}
	e := r.entries[variant]

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		metrics.EmbedRequestsTotal.WithLabelValues(function, "cancelled").Inc()
		return nil, newError(ErrTimeout, err, "%s call cancelled while waiting for the model", variant)
	}
	// Re-read under the call lock; Close may have released the backend.
	emb, err := e.load()
	if err != nil {
		metrics.EmbedRequestsTotal.WithLabelValues(function, "unavailable").Inc()
		return nil, err
	}
	vecs, err := emb.EmbedContext(ctx, texts, batchSize)

	metrics.EmbedDuration.WithLabelValues(function).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EmbedRequestsTotal.WithLabelValues(function, "error").Inc()
		return nil, err
	}
	metrics.EmbedRequestsTotal.WithLabelValues(function, "ok").Inc()
	metrics.EmbeddedTextsTotal.WithLabelValues(function).Add(float64(len(vecs)))
	return vecs, nil
}

// Ready reports whether variant has been built successfully. It never triggers a build.
func (r *Registry) Ready(variant models.Variant) bool {
	e, ok := r.entries[variant]
	if !ok {
		return false
	}
	emb, _ := e.load()
	return emb != nil
}

// Status describes a variant for health endpoints.
type Status struct {
	Variant  models.Variant `json:"variant"`
	Ready    bool           `json:"ready"`
	Error    string         `json:"error,omitempty"`
	LoadTime time.Duration  `json:"load_time"`
	Stats    *Stats         `json:"stats,omitempty"`
}

// Statuses reports every variant without triggering builds.
func (r *Registry) Statuses() []Status {
	out := make([]Status, 0, len(r.entries))
	for _, v := range []models.Variant{models.VariantBert, models.VariantJina} {
		e := r.entries[v]
		e.state.RLock()
		s := Status{Variant: v, Ready: e.embedder != nil, LoadTime: e.loadTime}
		if e.err != nil {
			s.Error = e.err.Error()
		}
		if e.embedder != nil {
			stats := e.embedder.Stats()
			s.Stats = &stats
		}
		e.state.RUnlock()
		out = append(out, s)
	}
	return out
}

// Service returns a Service bound to variant and batchSize.
func (r *Registry) Service(variant models.Variant, batchSize int) Service {
	return &variantService{registry: r, variant: variant, batchSize: batchSize, fingerprint: r.fingerprints[variant]}
}

// Close releases every built backend. Later calls fail.
func (r *Registry) Close() error {
	var errs error
	r.closeOnce.Do(func() {
		for v, e := range r.entries {
			closed := newError(ErrModelNotLoaded, nil, "%s model unavailable: registry closed", v)
			// Claim the once so no build starts after close.
			e.once.Do(func() { e.set(nil, closed, 0) })
			e.mu.Lock()
			if emb, _ := e.load(); emb != nil {
				errs = multierr.Append(errs, emb.Close())
				e.set(nil, closed, 0)
			}
			e.mu.Unlock()
		}
	})
	return errs
}
