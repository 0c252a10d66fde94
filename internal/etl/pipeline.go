// Package etl reads text datasets, embeds them in batches and stores the
// vectors.
package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/embeddings"
	"github.com/raaihank/quackformers/internal/metrics"
	"github.com/raaihank/quackformers/internal/vector"
)

// Sink stores embedded records. *vector.Store implements it.
type Sink interface {
	BatchInsert(ctx context.Context, records []*vector.Record) (*vector.BatchInsertResult, error)
}

// Indexer is implemented by sinks that can build a similarity index.
type Indexer interface {
	CreateIndex(ctx context.Context) error
}

// Pipeline handles ETL operations for text datasets
type Pipeline struct {
	sink    Sink
	service embeddings.Service
	config  *Config
	logger  *zap.Logger
	stats   *ProcessingStats
	mu      sync.RWMutex
}

// NewPipeline creates a new ETL pipeline. A nil sink makes a dry run: texts
// are embedded but nothing is written.
func NewPipeline(sink Sink, service embeddings.Service, config *Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		sink:    sink,
		service: service,
		config:  config,
		logger:  logger.With(zap.String("component", "etl"), zap.String("model", service.Name())),
		stats:   &ProcessingStats{StartTime: time.Now()},
	}
}

// ProcessFile processes a dataset file (CSV, Parquet, JSON lines or plain text)
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*ProcessingResult, error) {
	format := DetectFileFormat(filePath)
	reader, err := OpenReader(filePath, format, p.config)
	if err != nil {
		return &ProcessingResult{}, err
	}
	defer reader.Close()

	p.logger.Info("Starting ETL pipeline",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))
	return p.Process(ctx, reader)
}

// Process embeds and stores every valid record from reader.
func (p *Pipeline) Process(ctx context.Context, reader RecordReader) (*ProcessingResult, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	result := &ProcessingResult{}
	p.resetStats()

	err := p.processBatches(ctx, reader, result)
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}

	if indexer, ok := p.sink.(Indexer); ok && p.config.CreateIndex && result.ProcessedOK > 1000 {
		p.logger.Info("Creating vector similarity index...")
		indexStart := time.Now()
		if err := indexer.CreateIndex(ctx); err != nil {
			p.logger.Warn("Failed to create vector index", zap.Error(err))
		} else {
			p.logger.Info("Vector index created", zap.Duration("duration", time.Since(indexStart)))
		}
	}

	p.logger.Info("ETL pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("invalid_records", result.InvalidRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("duplicates", result.Duplicates),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("embedding_time", result.EmbeddingTime),
		zap.Duration("database_time", result.DatabaseTime))

	return result, nil
}

// Validate reads every record without embedding and reports how many are usable.
func (p *Pipeline) Validate(reader RecordReader) (*ProcessingResult, error) {
	start := time.Now()
	result := &ProcessingResult{}
	for {
		batch, err := p.readBatch(reader, result)
		result.ProcessedOK += int64(len(batch))
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, err
		}
	}
	result.Duration = time.Since(start)
	return result, nil
}

// processBatches reads batches one after another and hands each to the worker pool.
func (p *Pipeline) processBatches(ctx context.Context, reader RecordReader, result *ProcessingResult) error {
	workers := max(p.config.WorkerCount, 1)
	pool, err := ants.NewPool(workers)
	if err != nil {
		return fmt.Errorf("failed to create ETL worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var readErr error

	for {
		if err := ctx.Err(); err != nil {
			readErr = err
			break
		}

		mu.Lock()
		batch, err := p.readBatch(reader, result)
		mu.Unlock()

		if len(batch) > 0 {
			wg.Add(1)
			task := func() {
				defer wg.Done()
				p.runBatch(ctx, batch, result, &mu)
			}
			if serr := pool.Submit(task); serr != nil {
				wg.Done()
				p.recordFailure(batch, serr, result, &mu)
			}
		}

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = fmt.Errorf("failed to read batch: %w", err)
			break
		}
	}

	wg.Wait()
	return readErr
}

// readBatch returns up to BatchSize valid records. Callers hold the result lock.
func (p *Pipeline) readBatch(reader RecordReader, result *ProcessingResult) ([]*DataRecord, error) {
	size := max(p.config.BatchSize, 1)
	batch := make([]*DataRecord, 0, size)

	for len(batch) < size {
		record, err := reader.Next()
		if err != nil {
			var rowErr *RowError
			if errors.As(err, &rowErr) {
				result.TotalRecords++
				result.InvalidRecords++
				metrics.ETLRecordsTotal.WithLabelValues("invalid").Inc()
				p.logger.Warn("Skipping unreadable record", zap.Int64("row", rowErr.Row), zap.Error(rowErr.Err))
				continue
			}
			return batch, err
		}

		result.TotalRecords++
		if msg := p.validateRecord(record); msg != "" {
			result.InvalidRecords++
			metrics.ETLRecordsTotal.WithLabelValues("invalid").Inc()
			p.logger.Debug("Invalid record", zap.Int64("row", record.Row), zap.String("reason", msg))
			continue
		}
		batch = append(batch, record)
	}
	return batch, nil
}

func (p *Pipeline) runBatch(ctx context.Context, batch []*DataRecord, result *ProcessingResult, mu *sync.Mutex) {
	var (
		out *batchOutcome
		err error
	)
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("Retrying batch", zap.Int("attempt", attempt), zap.Int("batch_size", len(batch)), zap.Error(err))
			select {
			case <-ctx.Done():
				p.recordFailure(batch, ctx.Err(), result, mu)
				return
			case <-time.After(p.config.RetryDelay):
			}
		}
		if out, err = p.processBatch(ctx, batch); err == nil {
			break
		}
	}
	if err != nil {
		p.recordFailure(batch, err, result, mu)
		return
	}

	mu.Lock()
	defer mu.Unlock()
	result.ProcessedOK += out.inserted
	result.Duplicates += out.duplicates
	result.EmbeddingTime += out.embeddingTime
	result.DatabaseTime += out.databaseTime
	metrics.ETLRecordsTotal.WithLabelValues("ok").Add(float64(out.inserted))
	metrics.ETLRecordsTotal.WithLabelValues("duplicate").Add(float64(out.duplicates))

	p.mu.Lock()
	p.stats.RecordsValid += int64(len(batch))
	p.stats.EmbeddingsGen += int64(len(batch))
	p.stats.DatabaseWrites += out.inserted
	p.stats.CurrentBatch++
	p.mu.Unlock()

	done := result.ProcessedOK + result.Duplicates
	if p.config.ProgressReport > 0 && done/int64(p.config.ProgressReport) != (done-int64(len(batch)))/int64(p.config.ProgressReport) {
		p.reportProgress(result)
	}
}

func (p *Pipeline) recordFailure(batch []*DataRecord, err error, result *ProcessingResult, mu *sync.Mutex) {
	p.logger.Error("Batch processing failed",
		zap.Int64("first_row", batch[0].Row),
		zap.Int("batch_size", len(batch)),
		zap.Error(err))
	metrics.ETLRecordsTotal.WithLabelValues("failed").Add(float64(len(batch)))

	mu.Lock()
	defer mu.Unlock()
	result.ProcessedFailed += int64(len(batch))
	result.Errors = append(result.Errors, fmt.Sprintf("rows %d-%d: %v", batch[0].Row, batch[len(batch)-1].Row, err))
}

type batchOutcome struct {
	inserted      int64
	duplicates    int64
	embeddingTime time.Duration
	databaseTime  time.Duration
}

// processBatch embeds one batch and stores it.
func (p *Pipeline) processBatch(ctx context.Context, batch []*DataRecord) (*batchOutcome, error) {
	texts := make([]string, len(batch))
	for i, record := range batch {
		texts[i] = record.Text
	}

	out := &batchOutcome{}
	embeddingStart := time.Now()
	vecs, err := p.service.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("batch embedding generation failed: %w", err)
	}
	out.embeddingTime = time.Since(embeddingStart)

	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vecs), len(batch))
	}

	if p.sink == nil {
		out.inserted = int64(len(batch))
		return out, nil
	}

	records := make([]*vector.Record, len(batch))
	for i, r := range batch {
		records[i] = &vector.Record{
			Model:     p.service.Name(),
			Text:      r.Text,
			TextHash:  vector.TextHash(r.Text),
			Source:    r.Source,
			Embedding: vecs[i],
		}
	}

	dbStart := time.Now()
	res, err := p.sink.BatchInsert(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("database batch insert failed: %w", err)
	}
	out.databaseTime = time.Since(dbStart)
	out.inserted = res.Inserted
	out.duplicates = res.Duplicates

	p.logger.Debug("Batch processed successfully",
		zap.Int("batch_size", len(batch)),
		zap.Int64("inserted", res.Inserted),
		zap.Int64("duplicates", res.Duplicates),
		zap.Duration("embedding_time", out.embeddingTime),
		zap.Duration("database_time", out.databaseTime))
	return out, nil
}

// validateRecord returns why record is unusable, or "" when it is fine.
func (p *Pipeline) validateRecord(record *DataRecord) string {
	if !utf8.ValidString(record.Text) {
		record.Text = strings.ToValidUTF8(record.Text, string(utf8.RuneError))
	}
	if !p.config.ValidateData {
		return ""
	}
	if strings.TrimSpace(record.Text) == "" {
		return "empty text"
	}
	if p.config.MaxTextLength > 0 && len(record.Text) > p.config.MaxTextLength {
		return fmt.Sprintf("text too long (%d bytes)", len(record.Text))
	}
	return ""
}

// reportProgress reports current processing progress. Callers hold the result lock.
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	p.mu.Lock()
	elapsed := time.Since(p.stats.StartTime)
	rate := float64(result.TotalRecords) / elapsed.Seconds()
	p.stats.ProcessingRate = rate
	p.stats.RecordsRead = result.TotalRecords
	p.stats.RecordsInvalid = result.InvalidRecords
	p.mu.Unlock()

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = &ProcessingStats{StartTime: time.Now()}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := *p.stats
	return &stats
}
