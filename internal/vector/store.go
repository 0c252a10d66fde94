// Package vector persists embedded texts in PostgreSQL with pgvector.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Store handles vector storage operations with PostgreSQL + pgvector
type Store struct {
	db     *sqlx.DB
	table  string
	logger *zap.Logger
}

// Config contains database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	Table           string        `yaml:"table" mapstructure:"table"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "embedded_texts"

// insertColumns is the number of bind parameters per inserted row.
const insertColumns = 5

// NewStore creates a new vector store instance
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store, err := NewStoreWithDB(db, config.Table, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Vector store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.String("table", store.table),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// NewStoreWithDB wraps an open connection. table must be a plain identifier.
func NewStoreWithDB(db *sqlx.DB, table string, logger *zap.Logger) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validIdentifier(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{db: db, table: table, logger: logger}, nil
}

// initialize checks database connection and ensures pgvector extension
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var extensionExists bool
	query := "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')"
	if err := s.db.GetContext(ctx, &extensionExists, query); err != nil {
		return fmt.Errorf("failed to check pgvector extension: %w", err)
	}
	if !extensionExists {
		return fmt.Errorf("pgvector extension is not installed")
	}

	s.logger.Info("Database initialized with pgvector extension")
	return nil
}

// EnsureSchema creates the table for vectors of dims dimensions if missing.
func (s *Store) EnsureSchema(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("dimensions must be positive, got %d", dims)
	}
	_, err := s.db.ExecContext(ctx, schemaSQL(s.table, dims))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	s.logger.Info("Vector table ready", zap.String("table", s.table), zap.Int("dimensions", dims))
	return nil
}

func schemaSQL(table string, dims int) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id BIGSERIAL PRIMARY KEY,
			model TEXT NOT NULL,
			text TEXT NOT NULL,
			text_hash TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			embedding vector(%[2]d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (model, text_hash)
		)`, table, dims)
}

// BatchInsert adds records in one statement. Texts already stored for the
// same model are skipped and counted as duplicates.
func (s *Store) BatchInsert(ctx context.Context, records []*Record) (*BatchInsertResult, error) {
	if len(records) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}
	query, args := s.batchInsertSQL(records)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		result.Failed = int64(len(records))
		result.Errors = []error{err}
		s.logger.Error("Batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(records))
	}

	result.Inserted = inserted
	result.Duplicates = int64(len(records)) - inserted
	result.Duration = time.Since(start)

	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", result.Duplicates),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func (s *Store) batchInsertSQL(records []*Record) (string, []any) {
	valueStrings := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*insertColumns)

	for i, r := range records {
		if r.TextHash == "" {
			r.TextHash = TextHash(r.Text)
		}
		n := i * insertColumns
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5))
		args = append(args, r.Model, r.Text, r.TextHash, r.Source, formatEmbedding(r.Embedding))
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (model, text, text_hash, source, embedding)
		VALUES %s
		ON CONFLICT (model, text_hash) DO NOTHING`,
		s.table, strings.Join(valueStrings, ","))
	return query, args
}

// FindSimilar returns the records of model closest to embedding by cosine distance.
func (s *Store) FindSimilar(ctx context.Context, model string, embedding []float32, options *SearchOptions) ([]*SimilarityResult, error) {
	if options == nil {
		options = &SearchOptions{Limit: 5, MinSimilarity: 0.7}
	}
	query, args := s.similarSQL(model, embedding, options)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Similarity search failed", zap.Error(err))
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []*SimilarityResult
	for rows.Next() {
		var result SimilarityResult
		var record Record
		var embeddingStr string

		err := rows.Scan(
			&record.ID,
			&record.Model,
			&record.Text,
			&record.TextHash,
			&record.Source,
			&embeddingStr,
			&record.CreatedAt,
			&record.UpdatedAt,
			&result.Similarity,
			&result.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan similarity result: %w", err)
		}
		if record.Embedding, err = parseEmbedding(embeddingStr); err != nil {
			return nil, err
		}

		result.Record = &record
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	s.logger.Debug("Similarity search completed",
		zap.String("model", model),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
		zap.Float32("min_similarity", options.MinSimilarity))

	return results, nil
}

func (s *Store) similarSQL(model string, embedding []float32, options *SearchOptions) (string, []any) {
	whereClause := "WHERE model = $2 AND (1 - (embedding <=> $1)) >= $3"
	args := []any{formatEmbedding(embedding), model, options.MinSimilarity}

	if options.SourceFilter != "" {
		args = append(args, options.SourceFilter)
		whereClause += fmt.Sprintf(" AND source = $%d", len(args))
	}
	args = append(args, options.Limit)

	query := fmt.Sprintf(`
		SELECT
			id, model, text, text_hash, source, embedding::text,
			created_at, updated_at,
			(1 - (embedding <=> $1)) AS similarity,
			(embedding <=> $1) AS distance
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, s.table, whereClause, len(args))
	return query, args
}

// GetStats returns database statistics
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	query := fmt.Sprintf(`SELECT model, COUNT(*) AS count FROM %s GROUP BY model ORDER BY model`, s.table)
	if err := s.db.SelectContext(ctx, &stats.PerModel, query); err != nil {
		return nil, fmt.Errorf("failed to get vector stats: %w", err)
	}
	for _, m := range stats.PerModel {
		stats.TotalRecords += m.Count
	}
	return stats, nil
}

// CreateIndex creates the vector similarity index for better performance
func (s *Store) CreateIndex(ctx context.Context) error {
	var count int64
	if err := s.db.GetContext(ctx, &count, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)); err != nil {
		return fmt.Errorf("failed to count records: %w", err)
	}

	if count < 1000 {
		s.logger.Info("Skipping index creation, not enough vectors", zap.Int64("count", count))
		return nil
	}

	s.logger.Info("Creating vector similarity index...", zap.Int64("vector_count", count))

	query := fmt.Sprintf(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_%[1]s_embedding
		ON %[1]s USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`, s.table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	s.logger.Info("Vector similarity index created successfully")
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// TextHash is the deduplication key of text.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// formatEmbedding converts float32 slice to PostgreSQL vector format
func formatEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}

	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseEmbedding converts PostgreSQL vector format back to float32 slice
func parseEmbedding(embeddingStr string) ([]float32, error) {
	embeddingStr = strings.Trim(strings.TrimSpace(embeddingStr), "[]")
	if embeddingStr == "" {
		return []float32{}, nil
	}

	parts := strings.Split(embeddingStr, ",")
	embedding := make([]float32, len(parts))
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse embedding value: %w", err)
		}
		embedding[i] = float32(val)
	}
	return embedding, nil
}

func validIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	scheme := strings.Index(url, "://")
	if at < 0 || scheme < 0 || scheme > at {
		return url
	}
	creds := url[scheme+3 : at]
	colon := strings.Index(creds, ":")
	if colon < 0 {
		return url
	}
	return url[:scheme+3] + creds[:colon+1] + "***" + url[at:]
}
