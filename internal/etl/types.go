package etl

import (
	"path/filepath"
	"strings"
	"time"
)

// DataRecord represents a single text read from the input dataset
type DataRecord struct {
	Text   string `parquet:"text" json:"text"`
	Source string `parquet:"source,optional" json:"source,omitempty"`
	Row    int64  `parquet:"-" json:"-"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64         `json:"total_records"`
	InvalidRecords  int64         `json:"invalid_records"`
	ProcessedOK     int64         `json:"processed_ok"`
	ProcessedFailed int64         `json:"processed_failed"`
	Duplicates      int64         `json:"duplicates"`
	Duration        time.Duration `json:"duration"`
	EmbeddingTime   time.Duration `json:"embedding_time"`
	DatabaseTime    time.Duration `json:"database_time"`
	Errors          []string      `json:"errors,omitempty"`
}

// Config contains ETL pipeline configuration
type Config struct {
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`           // 256
	WorkerCount    int           `yaml:"worker_count" mapstructure:"worker_count"`       // 2
	MaxRetries     int           `yaml:"max_retries" mapstructure:"max_retries"`         // 3
	RetryDelay     time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`         // 5s
	ValidateData   bool          `yaml:"validate_data" mapstructure:"validate_data"`     // true
	MaxTextLength  int           `yaml:"max_text_length" mapstructure:"max_text_length"` // 10000
	TextColumn     string        `yaml:"text_column" mapstructure:"text_column"`         // text
	SourceColumn   string        `yaml:"source_column" mapstructure:"source_column"`     // source
	CreateIndex    bool          `yaml:"create_index" mapstructure:"create_index"`       // true
	ProgressReport int           `yaml:"progress_report" mapstructure:"progress_report"` // 1000
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`                 // 30m
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:      256,
		WorkerCount:    2,
		MaxRetries:     3,
		RetryDelay:     5 * time.Second,
		ValidateData:   true,
		MaxTextLength:  10000,
		TextColumn:     "text",
		SourceColumn:   "source",
		CreateIndex:    true,
		ProgressReport: 1000,
		Timeout:        30 * time.Minute,
	}
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsValid   int64     `json:"records_valid"`
	RecordsInvalid int64     `json:"records_invalid"`
	EmbeddingsGen  int64     `json:"embeddings_generated"`
	DatabaseWrites int64     `json:"database_writes"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
	FormatText    FileFormat = "text"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	case ".txt":
		return FormatText
	default:
		return FormatCSV
	}
}
