// Package app wires configuration into the registry, caches and function
// catalog shared by the quackformers binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/bedrock"
	"github.com/raaihank/quackformers/internal/cache"
	"github.com/raaihank/quackformers/internal/config"
	"github.com/raaihank/quackformers/internal/embeddings"
	"github.com/raaihank/quackformers/internal/hub"
	"github.com/raaihank/quackformers/internal/logger"
	"github.com/raaihank/quackformers/internal/models"
	"github.com/raaihank/quackformers/internal/udf"
)

// App holds the services built from one configuration.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *embeddings.Registry
	Cache    *cache.EmbeddingCache
	Remote   udf.Remote
	Catalog  *udf.Catalog
}

type options struct {
	builder embeddings.Builder
	remote  udf.Remote
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

// WithBuilder builds local models with b instead of the Hub.
func WithBuilder(b embeddings.Builder) Option {
	return func(o *options) { o.builder = b }
}

// WithRemote uses r as the remote service regardless of bedrock.enabled.
func WithRemote(r udf.Remote) Option {
	return func(o *options) { o.remote = r }
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) (*logger.Logger, error) {
	lc := logger.Config{Level: cfg.Level, Format: cfg.Format}
	if cfg.File.Enabled {
		lc.File = &logger.FileConfig{Enabled: true, Path: cfg.File.Path}
	}
	return logger.New(lc)
}

// New builds every configured service and the function catalog. With
// models.eager_warm both local variants are loaded before the catalog is
// built and a variant that fails is left out of it.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg, Logger: log}

	builder := o.builder
	if builder == nil {
		fetcher := hub.NewClient(hub.Config{
			BaseURL:  cfg.Models.HubURL,
			CacheDir: cfg.Models.CacheDir,
			Timeout:  cfg.Models.Timeout,
			Offline:  cfg.Models.Offline,
		}, log.Logger)
		builder = embeddings.NewHubBuilder(fetcher, cfg.Models.Specs(), log.Logger)
	}
	a.Registry = embeddings.NewRegistry(log.Logger,
		embeddings.WithBuilder(builder),
		embeddings.WithSpecs(cfg.Models.Specs()))

	var vectorCache embeddings.VectorCache
	if cfg.Cache.Enabled {
		c, err := cache.NewEmbeddingCache(&cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			log.Warn("Embedding cache disabled", zap.Error(err))
		} else {
			a.Cache = c
			vectorCache = c
		}
	}

	a.Remote = o.remote
	if a.Remote == nil && cfg.Bedrock.Enabled {
		client, err := bedrock.NewClient(ctx, cfg.Bedrock.Config, log.Logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Remote = client
	}

	if cfg.Models.EagerWarm {
		catalog, err := udf.Build(ctx, udf.Sources{
			Registry:  a.Registry,
			Remote:    a.Remote,
			Cache:     vectorCache,
			BatchSize: cfg.Models.BatchSize,
		}, log.WithComponent("udf").Logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Catalog = catalog
		return a, nil
	}

	// Lazy: variants load on first call and a failed load surfaces there.
	a.Catalog = udf.NewCatalog(log.WithComponent("udf").Logger)
	a.Catalog.AddService(udf.FuncEmbed, a.Registry.Service(models.VariantBert, cfg.Models.BatchSize), vectorCache)
	a.Catalog.AddService(udf.FuncEmbedJina, a.Registry.Service(models.VariantJina, cfg.Models.BatchSize), vectorCache)
	if a.Remote != nil {
		a.Catalog.AddService(udf.FuncEmbedrock, a.Remote, vectorCache)
		a.Catalog.SetInvoker(a.Remote)
	}
	return a, nil
}

// Service returns the embedding service for a function name.
func (a *App) Service(function string) (embeddings.Service, error) {
	svc, ok := a.Catalog.Service(function)
	if !ok {
		return nil, fmt.Errorf("function %s is not available (have %v)", function, a.Catalog.Names())
	}
	return svc, nil
}

// Reload applies the settings that can change without a restart.
func (a *App) Reload(cfg *config.Config) {
	if cfg.Logging.Level == a.Config.Logging.Level {
		return
	}
	if err := a.Logger.SetLevel(cfg.Logging.Level); err != nil {
		a.Logger.Warn("Ignoring log level change", zap.Error(err))
		return
	}
	a.Logger.Info("Log level changed",
		zap.String("from", a.Config.Logging.Level),
		zap.String("to", cfg.Logging.Level))
	a.Config.Logging.Level = cfg.Logging.Level
}

// Close releases every service.
func (a *App) Close() error {
	var errs error
	if a.Registry != nil {
		errs = multierr.Append(errs, a.Registry.Close())
	}
	if closer, ok := a.Remote.(interface{ Close() error }); ok {
		errs = multierr.Append(errs, closer.Close())
	}
	if a.Cache != nil {
		errs = multierr.Append(errs, a.Cache.Close())
	}
	return errs
}
