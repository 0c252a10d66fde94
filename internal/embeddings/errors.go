package embeddings

import (
	"fmt"
)

// Kind classifies embedding failures.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindModelLoad    Kind = "model_load_failed"
	KindTokenization Kind = "tokenization_failed"
	KindInference    Kind = "inference_failed"
	KindRemote       Kind = "remote_failed"
	KindCache        Kind = "cache_error"
	KindTimeout      Kind = "timeout_error"
)

// EmbeddingError is the error type returned by every embedding path.
// errors.Is matches two EmbeddingErrors of the same Kind.
type EmbeddingError struct {
	Kind    Kind   `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Err     error  `json:"-"`
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

func (e *EmbeddingError) Is(target error) bool {
	t, ok := target.(*EmbeddingError)
	return ok && t.Kind == e.Kind
}

// Common error types
var (
	ErrInvalidInput       = &EmbeddingError{Kind: KindInvalidInput, Message: "invalid input", Code: 1001}
	ErrModelNotLoaded     = &EmbeddingError{Kind: KindModelLoad, Message: "model not loaded", Code: 1002}
	ErrInferenceFailed    = &EmbeddingError{Kind: KindInference, Message: "inference failed", Code: 1003}
	ErrCacheError         = &EmbeddingError{Kind: KindCache, Message: "cache operation failed", Code: 1004}
	ErrRemoteFailed       = &EmbeddingError{Kind: KindRemote, Message: "remote embedding failed", Code: 1006}
	ErrTimeout            = &EmbeddingError{Kind: KindTimeout, Message: "operation timed out", Code: 1007}
	ErrTokenizationFailed = &EmbeddingError{Kind: KindTokenization, Message: "tokenization failed", Code: 1008}

	// ErrInvalidBatchSize is returned for a batch size of zero or less.
	ErrInvalidBatchSize = &EmbeddingError{Kind: KindInvalidInput, Message: "batch size must be positive", Code: 1011}
)

// newError derives a concrete error from one of the common ones.
func newError(base *EmbeddingError, err error, format string, args ...any) *EmbeddingError {
	msg := base.Message
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &EmbeddingError{Kind: base.Kind, Message: msg, Code: base.Code, Err: err}
}
