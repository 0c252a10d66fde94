package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/metrics"
)

// EmbeddingCache stores text embeddings in Redis keyed by model and text hash.
type EmbeddingCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  *cacheStats
}

// cacheStats tracks cache performance metrics
type cacheStats struct {
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewEmbeddingCache connects to Redis and verifies the connection.
func NewEmbeddingCache(config *Config, logger *zap.Logger) (*EmbeddingCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	cache := NewEmbeddingCacheWithClient(redis.NewClient(opts), config, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cache.client.Ping(ctx).Err(); err != nil {
		cache.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Embedding cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))
	return cache, nil
}

// NewEmbeddingCacheWithClient wraps an existing client without pinging it.
func NewEmbeddingCacheWithClient(client *redis.Client, config *Config, logger *zap.Logger) *EmbeddingCache {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "quack"
	}
	return &EmbeddingCache{client: client, config: config, logger: logger, stats: &cacheStats{}}
}

// GetMany looks up every text. The result has one slot per text; misses are nil.
func (c *EmbeddingCache) GetMany(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.Key(model, t)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.stats.errors.Add(1)
		metrics.CacheLookupsTotal.WithLabelValues("error").Add(float64(len(texts)))
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}

	var hits int
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		vec, err := decodeVector([]byte(s))
		if err != nil {
			c.logger.Warn("Dropping corrupt cache entry", zap.String("key", keys[i]), zap.Error(err))
			c.client.Del(ctx, keys[i])
			continue
		}
		out[i] = vec
		hits++
	}

	c.stats.hits.Add(int64(hits))
	c.stats.misses.Add(int64(len(texts) - hits))
	metrics.CacheLookupsTotal.WithLabelValues("hit").Add(float64(hits))
	metrics.CacheLookupsTotal.WithLabelValues("miss").Add(float64(len(texts) - hits))
	c.logger.Debug("Cache lookup", zap.String("model", model), zap.Int("texts", len(texts)), zap.Int("hits", hits))
	return out, nil
}

// SetMany stores vectors for texts using a pipeline.
func (c *EmbeddingCache) SetMany(ctx context.Context, model string, texts []string, vectors [][]float32) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("texts and vectors length mismatch")
	}
	if len(texts) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for i, t := range texts {
		pipe.Set(ctx, c.Key(model, t), encodeVector(vectors[i]), c.config.DefaultTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.stats.errors.Add(1)
		c.logger.Error("Batch cache operation failed", zap.Error(err))
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	c.logger.Debug("Batch cache operation completed", zap.Int("cached_vectors", len(texts)))
	return nil
}

// GetStats returns cache performance statistics
func (c *EmbeddingCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   c.stats.hits.Load(),
		Misses: c.stats.misses.Load(),
		Errors: c.stats.errors.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	stats.MemoryUsage = parseUsedMemory(info)

	if keys, err := c.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}
	return stats, nil
}

// Clear removes all cached embeddings under the key prefix.
func (c *EmbeddingCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+":emb:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	c.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (c *EmbeddingCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Key is the Redis key for text under model.
func (c *EmbeddingCache) Key(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:emb:%s:%s", c.config.KeyPrefix, model, hex.EncodeToString(sum[:16]))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if mem, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if n, err := strconv.ParseInt(mem, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	scheme := strings.Index(url, "://")
	creds := url[:at]
	if scheme >= 0 {
		creds = url[scheme+3 : at]
	}
	if colon := strings.Index(creds, ":"); colon >= 0 {
		creds = creds[:colon+1] + "***"
	} else {
		creds = "***"
	}
	if scheme >= 0 {
		return url[:scheme+3] + creds + url[at:]
	}
	return creds + url[at:]
}
