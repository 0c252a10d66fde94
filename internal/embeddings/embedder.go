// Package embeddings turns texts into unit-length sentence vectors using a
// tokenizer and a transformer backend, and keeps warm per-variant embedders.
package embeddings

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/models"
	"github.com/raaihank/quackformers/internal/tensor"
	"github.com/raaihank/quackformers/internal/tokenizer"
)

// DefaultBatchSize is the chunk size used by the query-facing functions.
const DefaultBatchSize = 32

// TextEmbedder pairs a tokenizer with a backend. Calls must be serialized by
// the owner; the Registry does this per variant.
type TextEmbedder struct {
	name      string
	backend   models.Backend
	tokenizer *tokenizer.Tokenizer
	logger    *zap.Logger
	stats     *statsRecorder
}

// NewTextEmbedder takes ownership of backend and tok. Padding on tok is forced to
// right-side batch-longest so each chunk is padded only to its own longest text.
func NewTextEmbedder(name string, backend models.Backend, tok *tokenizer.Tokenizer, logger *zap.Logger) *TextEmbedder {
	if p := tok.Padding(); p != nil {
		p.Strategy = tokenizer.BatchLongest
		p.Direction = tokenizer.Right
	} else {
		params := &tokenizer.PaddingParams{Strategy: tokenizer.BatchLongest, Direction: tokenizer.Right, PadToken: "[PAD]"}
		if id, ok := tok.TokenToID("[PAD]"); ok {
			params.PadID = id
		}
		tok.WithPadding(params)
	}
	return &TextEmbedder{
		name:      name,
		backend:   backend,
		tokenizer: tok,
		logger:    logger.With(zap.String("embedder", name)),
		stats:     newStatsRecorder(name),
	}
}

// Name identifies the embedder in logs and stats.
func (e *TextEmbedder) Name() string { return e.name }

// Dimensions is the length of every returned vector.
func (e *TextEmbedder) Dimensions() int { return e.backend.HiddenSize() }

// Embed splits texts into chunks of at most batchSize and returns one vector per
// text, in input order. Any chunk failure fails the whole call.
func (e *TextEmbedder) Embed(texts []string, batchSize int) ([][]float32, error) {
	return e.EmbedContext(context.Background(), texts, batchSize)
}

// EmbedContext is Embed with cancellation checked between chunks.
func (e *TextEmbedder) EmbedContext(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	start := time.Now()
	out := make([][]float32, 0, len(texts))
	tokens := 0

	for lo := 0; lo < len(texts); lo += batchSize {
		if err := ctx.Err(); err != nil {
			e.stats.record(len(texts), tokens, time.Since(start), false)
			return nil, newError(ErrTimeout, err, "embedding cancelled after %d of %d texts", lo, len(texts))
		}
		hi := min(lo+batchSize, len(texts))
		vecs, n, err := e.embedChunk(texts[lo:hi])
		if err != nil {
			e.stats.record(len(texts), tokens, time.Since(start), false)
			e.logger.Debug("Chunk embedding failed", zap.Int("offset", lo), zap.Int("size", hi-lo), zap.Error(err))
			return nil, err
		}
		out = append(out, vecs...)
		tokens += n
	}

	e.stats.record(len(texts), tokens, time.Since(start), true)
	return out, nil
}

func (e *TextEmbedder) embedChunk(texts []string) ([][]float32, int, error) {
	encs, err := e.tokenizer.EncodeBatch(texts)
	if err != nil {
		return nil, 0, newError(ErrTokenizationFailed, err, "")
	}

	idRows := make([][]int64, len(encs))
	maskRows := make([][]int64, len(encs))
	tokens := 0
	for i, enc := range encs {
		idRows[i] = enc.IDs
		maskRows[i] = enc.AttentionMask
		for _, m := range enc.AttentionMask {
			tokens += int(m)
		}
	}

	device := e.backend.Device()
	ids, err := tensor.Stack(idRows, device)
	if err != nil {
		return nil, 0, newError(ErrInferenceFailed, err, "")
	}
	mask, err := tensor.Stack(maskRows, device)
	if err != nil {
		return nil, 0, newError(ErrInferenceFailed, err, "")
	}

	hidden, err := e.backend.Forward(ids, ids.ZerosLike(), mask)
	if err != nil {
		return nil, 0, newError(ErrInferenceFailed, err, "")
	}
	vecs, err := MeanPoolNormalize(hidden, mask)
	if err != nil {
		return nil, 0, newError(ErrInferenceFailed, err, "")
	}
	if len(vecs) != len(texts) {
		return nil, 0, newError(ErrInferenceFailed, nil, "backend returned %d rows for %d texts", len(vecs), len(texts))
	}
	return vecs, tokens, nil
}

// Stats returns a snapshot of the embedder's counters.
func (e *TextEmbedder) Stats() Stats { return e.stats.snapshot() }

// Close releases the backend.
func (e *TextEmbedder) Close() error {
	return e.backend.Close()
}
