package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/app"
	"github.com/raaihank/quackformers/internal/cache"
	"github.com/raaihank/quackformers/internal/config"
	"github.com/raaihank/quackformers/internal/embeddings"
	"github.com/raaihank/quackformers/internal/etl"
	"github.com/raaihank/quackformers/internal/logger"
	"github.com/raaihank/quackformers/internal/udf"
	"github.com/raaihank/quackformers/internal/vector"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Configuration file path")
		inputFile    = flag.String("input", "", "Input dataset file (CSV, Parquet, JSON lines or text)")
		function     = flag.String("model", udf.FuncEmbed, "Embedding function: embed, embed_jina or embedrock")
		batchSize    = flag.Int("batch-size", 0, "Records per batch (0 uses etl.batch_size)")
		workers      = flag.Int("workers", 0, "Concurrent batches (0 uses etl.worker_count)")
		skipIndex    = flag.Bool("skip-index", false, "Skip creating vector index")
		validateOnly = flag.Bool("validate-only", false, "Only validate data, don't process")
		dryRun       = flag.Bool("dry-run", false, "Dry run - embed but don't write to database")
		showStats    = flag.Bool("stats", false, "Show database and cache statistics and exit")
		clearCache   = flag.Bool("clear-cache", false, "Remove every cached embedding and exit")
		search       = flag.String("search", "", "Print the stored texts most similar to this text and exit")
		limit        = flag.Int("limit", 10, "Number of results for -search")
	)
	flag.Parse()

	if *inputFile == "" && !*showStats && !*clearCache && *search == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -input phrases.csv -batch-size 500\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input phrases.parquet -model embed_jina -workers 4\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -search \"ducks in a row\" -limit 5\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -stats\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -clear-cache\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	// Only the selected variant is needed.
	cfg.Models.EagerWarm = false

	log, err := app.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	etlConfig := cfg.ETL
	if *batchSize > 0 {
		etlConfig.BatchSize = *batchSize
	}
	if *workers > 0 {
		etlConfig.WorkerCount = *workers
	}
	if *skipIndex {
		etlConfig.CreateIndex = false
	}

	if *clearCache {
		if err := clearEmbeddingCache(ctx, cfg, log); err != nil {
			log.Fatal("Failed to clear cache", zap.Error(err))
		}
		return
	}

	if *validateOnly {
		if err := validateDataset(*inputFile, &etlConfig, log); err != nil {
			log.Fatal("Validation failed", zap.Error(err))
		}
		return
	}

	var store *vector.Store
	if !*dryRun || *showStats || *search != "" {
		if !cfg.Database.Enabled {
			log.Fatal("Database is not enabled; set database.enabled or use -dry-run")
		}
		store, err = vector.NewStore(&cfg.Database.Config, log.WithComponent("vector").Logger)
		if err != nil {
			log.Fatal("Failed to initialize vector store", zap.Error(err))
		}
		defer store.Close()
	}

	if *showStats {
		if err := showDatabaseStats(ctx, store, cfg, log); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
		return
	}

	services, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	svc, err := services.Service(*function)
	if err != nil {
		log.Fatal("Unknown embedding function", zap.Error(err))
	}

	if *search != "" {
		if err := searchSimilar(ctx, store, svc, *search, *limit); err != nil {
			log.Fatal("Search failed", zap.Error(err))
		}
		return
	}

	if err := processDataset(ctx, store, svc, &etlConfig, *inputFile, log); err != nil {
		log.Fatal("ETL processing failed", zap.Error(err))
	}

	log.Info("ETL pipeline completed successfully")
}

func validateDataset(inputFile string, etlConfig *etl.Config, log *logger.Logger) error {
	reader, err := etl.OpenReader(inputFile, etl.DetectFileFormat(inputFile), etlConfig)
	if err != nil {
		return err
	}
	defer reader.Close()

	result, err := etl.NewPipeline(nil, validationOnly{}, etlConfig, log.Logger).Validate(reader)
	if err != nil {
		return err
	}
	fmt.Printf("Valid records:   %d\n", result.ProcessedOK)
	fmt.Printf("Invalid records: %d\n", result.InvalidRecords)
	return nil
}

// validationOnly names the pipeline when no model is loaded.
type validationOnly struct{}

func (validationOnly) Name() string { return "validate" }

func (validationOnly) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("validation does not embed")
}

// processDataset processes the input dataset file
func processDataset(ctx context.Context, store *vector.Store, svc embeddings.Service, etlConfig *etl.Config, inputFile string, log *logger.Logger) error {
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", inputFile)
	}

	var sink etl.Sink
	if store != nil {
		dims, err := dimensions(ctx, svc)
		if err != nil {
			return err
		}
		if err := store.EnsureSchema(ctx, dims); err != nil {
			return err
		}
		sink = store
	}

	pipeline := etl.NewPipeline(sink, svc, etlConfig, log.Logger)
	result, err := pipeline.ProcessFile(ctx, inputFile)
	if err != nil {
		return fmt.Errorf("pipeline processing failed: %w", err)
	}

	stats := pipeline.GetStats()
	log.Info("Dataset processing completed",
		zap.String("file", inputFile),
		zap.String("model", svc.Name()),
		zap.Bool("dry_run", sink == nil),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("duplicates", result.Duplicates),
		zap.Int64("batches", stats.CurrentBatch),
		zap.Duration("total_duration", result.Duration),
		zap.Float64("records_per_second", float64(result.TotalRecords)/result.Duration.Seconds()))

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}
	return nil
}

// dimensions embeds one text to learn the vector size for the table schema.
func dimensions(ctx context.Context, svc embeddings.Service) (int, error) {
	vecs, err := svc.EmbedTexts(ctx, []string{embeddings.WarmupText})
	if err != nil {
		return 0, fmt.Errorf("failed to probe embedding dimensions: %w", err)
	}
	return len(vecs[0]), nil
}

func searchSimilar(ctx context.Context, store *vector.Store, svc embeddings.Service, text string, limit int) error {
	vecs, err := svc.EmbedTexts(ctx, []string{text})
	if err != nil {
		return err
	}
	results, err := store.FindSimilar(ctx, svc.Name(), vecs[0], &vector.SearchOptions{Limit: limit})
	if err != nil {
		return err
	}
	for i, r := range results {
		fmt.Printf("%2d. %.4f  %s\n", i+1, r.Similarity, r.Record.Text)
	}
	return nil
}

// showDatabaseStats displays current database statistics
func showDatabaseStats(ctx context.Context, store *vector.Store, cfg *config.Config, log *logger.Logger) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get database stats: %w", err)
	}

	fmt.Printf("\n=== Quackformers Vector Database Statistics ===\n")
	fmt.Printf("Total Records:      %d\n", stats.TotalRecords)
	for _, m := range stats.PerModel {
		fmt.Printf("  %-16s  %d\n", m.Model+":", m.Count)
	}

	if !cfg.Cache.Enabled {
		return nil
	}
	c, err := cache.NewEmbeddingCache(&cfg.Cache, log.Logger)
	if err != nil {
		log.Warn("Cache statistics unavailable", zap.Error(err))
		return nil
	}
	defer c.Close()
	cacheStats, err := c.GetStats(ctx)
	if err != nil {
		log.Warn("Cache statistics unavailable", zap.Error(err))
		return nil
	}
	fmt.Printf("\n=== Cache Statistics ===\n")
	fmt.Printf("Total Keys:         %d\n", cacheStats.TotalKeys)
	fmt.Printf("Memory Usage:       %.2f MB\n", float64(cacheStats.MemoryUsage)/1024/1024)
	return nil
}

// clearEmbeddingCache removes every cached vector under the configured prefix
func clearEmbeddingCache(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if !cfg.Cache.Enabled {
		return fmt.Errorf("embedding cache is not enabled")
	}
	c, err := cache.NewEmbeddingCache(&cfg.Cache, log.Logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Clear(ctx)
}
