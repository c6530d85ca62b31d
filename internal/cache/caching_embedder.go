package cache

import (
	"context"
	"time"
)

// TextEmbedder is the single-method shape chunker.Embedder and
// embedserver.HTTPEmbedder share: embed a batch of texts into dense
// vectors, in order.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// CachingEmbedder wraps a TextEmbedder with an EmbeddingCache keyed by chunk
// text hash, so re-indexing a document whose chunk text is unchanged (a
// common re-run pattern — a failed tag/index stage retried without
// re-parsing) skips re-embedding those chunks.
type CachingEmbedder struct {
	next  TextEmbedder
	cache *EmbeddingCache
}

// NewCachingEmbedder wraps next with a cache of the given TTL.
func NewCachingEmbedder(next TextEmbedder, ttl time.Duration) *CachingEmbedder {
	return &CachingEmbedder{next: next, cache: NewEmbeddingCache(ttl)}
}

// EmbedTexts returns cached vectors for texts already seen, and embeds the
// rest in one batched call to the wrapped embedder, preserving input order.
func (c *CachingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		hash := EmbeddingQueryHash(t)
		if vec, ok := c.cache.Get(hash); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) > 0 {
		vectors, err := c.next.EmbedTexts(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, idx := range missIdx {
			out[idx] = vectors[j]
			c.cache.Set(EmbeddingQueryHash(texts[idx]), vectors[j])
		}
	}

	return out, nil
}

// Stop releases the cache's background cleanup goroutine.
func (c *CachingEmbedder) Stop() {
	c.cache.Stop()
}
