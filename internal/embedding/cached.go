package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guthubrx/cartae-connections/internal/metrics"
	"github.com/guthubrx/cartae-connections/pkg/logger"
	"github.com/guthubrx/cartae-connections/pkg/utils"
)

// Cache stores vectors keyed by a hash of the embedded text.
type Cache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder wraps an Embedder with a text-hash cache. Re-ingesting
// unchanged content skips the API call entirely; cache failures fall
// through to the inner embedder.
type CachedEmbedder struct {
	inner Embedder
	cache Cache
	ttl   time.Duration
}

func NewCachedEmbedder(inner Embedder, cache Cache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		inner: inner,
		cache: cache,
		ttl:   ttl,
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	textHash := utils.HashString(text)

	cached, hit, err := c.cache.GetEmbedding(ctx, textHash)
	if err != nil {
		logger.Warn("Embedding cache lookup failed", zap.Error(err))
	} else if hit {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return cached, nil
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	embedding, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetEmbedding(ctx, textHash, embedding, c.ttl); err != nil {
		logger.Warn("Failed to cache embedding", zap.Error(err))
	}

	return embedding, nil
}

// EmbedBatch resolves each text against the cache first and embeds only
// the misses, preserving input order in the result.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		cached, hit, err := c.cache.GetEmbedding(ctx, utils.HashString(text))
		if err == nil && hit {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			results[i] = cached
			continue
		}
		if err != nil {
			logger.Warn("Embedding cache lookup failed", zap.Error(err))
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return results, nil
	}

	embedded, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}

	for j, idx := range missingIdx {
		results[idx] = embedded[j]
		if err := c.cache.SetEmbedding(ctx, utils.HashString(missing[j]), embedded[j], c.ttl); err != nil {
			logger.Warn("Failed to cache embedding", zap.Error(err))
		}
	}

	return results, nil
}
