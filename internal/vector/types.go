package vector

import (
	"time"
)

// Record is one embedded text stored with the model that produced it.
type Record struct {
	ID        int64     `db:"id" json:"id"`
	Model     string    `db:"model" json:"model"`
	Text      string    `db:"text" json:"text"`
	TextHash  string    `db:"text_hash" json:"text_hash"`
	Source    string    `db:"source" json:"source"`
	Embedding []float32 `db:"-" json:"embedding"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SimilarityResult represents a vector similarity search result
type SimilarityResult struct {
	Record     *Record `json:"record"`
	Similarity float32 `json:"similarity"`
	Distance   float32 `json:"distance"`
}

// SearchOptions contains options for vector similarity search
type SearchOptions struct {
	Limit         int     `json:"limit"`
	MinSimilarity float32 `json:"min_similarity"`
	SourceFilter  string  `json:"source_filter,omitempty"`
}

// ModelCount is the number of stored records for one model.
type ModelCount struct {
	Model string `db:"model" json:"model"`
	Count int64  `db:"count" json:"count"`
}

// Stats represents database statistics
type Stats struct {
	TotalRecords int64        `json:"total_records"`
	PerModel     []ModelCount `json:"per_model"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted   int64         `json:"inserted"`
	Duplicates int64         `json:"duplicates"`
	Failed     int64         `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Errors     []error       `json:"errors,omitempty"`
}
