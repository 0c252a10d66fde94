package udf

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/embeddings"
	"github.com/raaihank/quackformers/internal/models"
)

// Function names exposed to SQL.
const (
	FuncEmbed         = "embed"
	FuncEmbedJina     = "embed_jina"
	FuncEmbedrock     = "embedrock"
	FuncBedrockInvoke = "bedrock_invoke"
)

// VectorFunction maps a string column to a LIST(FLOAT) column.
type VectorFunction struct {
	Name   string
	Invoke func(ctx context.Context, in StringVector, out *ListVector) error
}

// TextFunction maps a string column to a string column.
type TextFunction struct {
	Name   string
	Invoke func(ctx context.Context, in StringVector) ([]string, error)
}

// Invoker generates text from a prompt.
type Invoker interface {
	Invoke(ctx context.Context, prompt, model string) (string, error)
}

// Remote is a remote embedding service that can also generate text.
type Remote interface {
	embeddings.Service
	Invoker
}

// Sources are the collaborators a Catalog is built from. Remote and Cache are optional.
type Sources struct {
	Registry  *embeddings.Registry
	Remote    Remote
	Cache     embeddings.VectorCache
	BatchSize int
}

// Catalog is the set of functions available to a host.
type Catalog struct {
	services map[string]embeddings.Service
	invoker  Invoker
	logger   *zap.Logger
}

// NewCatalog returns an empty catalog.
func NewCatalog(logger *zap.Logger) *Catalog {
	return &Catalog{services: map[string]embeddings.Service{}, logger: logger}
}

var localFunctions = []struct {
	name    string
	variant models.Variant
}{
	{FuncEmbed, models.VariantBert},
	{FuncEmbedJina, models.VariantJina},
}

// Build warms both local variants, then adds a function for each variant that
// loaded and for the remote service when one is given. It fails only when no
// function at all is available.
func Build(ctx context.Context, src Sources, logger *zap.Logger) (*Catalog, error) {
	c := NewCatalog(logger)
	batchSize := src.BatchSize
	if batchSize <= 0 {
		batchSize = embeddings.DefaultBatchSize
	}

	if src.Registry != nil {
		if err := src.Registry.Warm(ctx); err != nil {
			logger.Warn("Some local models failed to warm up", zap.Error(err))
		}
		for _, lf := range localFunctions {
			if !src.Registry.Ready(lf.variant) {
				logger.Warn("Skipping function registration, model not loaded",
					zap.String("function", lf.name),
					zap.String("variant", string(lf.variant)))
				continue
			}
			c.AddService(lf.name, src.Registry.Service(lf.variant, batchSize), src.Cache)
		}
	}

	if src.Remote != nil {
		c.AddService(FuncEmbedrock, src.Remote, src.Cache)
		c.invoker = src.Remote
	}

	if len(c.services) == 0 && c.invoker == nil {
		return nil, fmt.Errorf("no embedding functions available")
	}
	logger.Info("Function catalog ready", zap.Strings("functions", c.Names()))
	return c, nil
}

// AddService exposes svc as the vector function name, reading through cache when non-nil.
func (c *Catalog) AddService(name string, svc embeddings.Service, cache embeddings.VectorCache) {
	if cache != nil {
		svc = embeddings.NewCachedService(svc, cache, c.logger)
	}
	c.services[name] = svc
}

// SetInvoker exposes inv as bedrock_invoke.
func (c *Catalog) SetInvoker(inv Invoker) { c.invoker = inv }

// Invoker returns the text generator behind bedrock_invoke.
func (c *Catalog) Invoker() (Invoker, bool) { return c.invoker, c.invoker != nil }

// Service returns the embedding service behind a vector function.
func (c *Catalog) Service(name string) (embeddings.Service, bool) {
	svc, ok := c.services[name]
	return svc, ok
}

// Names lists every available function.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.services)+1)
	for n := range c.services {
		names = append(names, n)
	}
	if c.invoker != nil {
		names = append(names, FuncBedrockInvoke)
	}
	sort.Strings(names)
	return names
}

// Vector returns the vector function name.
func (c *Catalog) Vector(name string) (VectorFunction, bool) {
	svc, ok := c.services[name]
	if !ok {
		return VectorFunction{}, false
	}
	return VectorFunction{Name: name, Invoke: embedInvoke(svc)}, true
}

// Text returns the text function name.
func (c *Catalog) Text(name string) (TextFunction, bool) {
	if name != FuncBedrockInvoke || c.invoker == nil {
		return TextFunction{}, false
	}
	return TextFunction{Name: name, Invoke: promptInvoke(c.invoker)}, true
}

func embedInvoke(svc embeddings.Service) func(context.Context, StringVector, *ListVector) error {
	return func(ctx context.Context, in StringVector, out *ListVector) error {
		texts := ToStrings(in)
		vecs, err := svc.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("%s returned %d vectors for %d rows", svc.Name(), len(vecs), len(texts))
		}
		return WriteLists(out, vecs)
	}
}

func promptInvoke(inv Invoker) func(context.Context, StringVector) ([]string, error) {
	return func(ctx context.Context, in StringVector) ([]string, error) {
		prompts := ToStrings(in)
		out := make([]string, len(prompts))
		for i, p := range prompts {
			text, err := inv.Invoke(ctx, p, "")
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			out[i] = text
		}
		return out, nil
	}
}
