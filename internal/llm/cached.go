package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ppiankov/medfuse/internal/cache"
)

// CachedEmbedder memoizes embeddings by model and text. Questions repeat
// across runs and the fact checker embeds the same evidence repeatedly.
type CachedEmbedder struct {
	inner Embedder
	cache cache.Cache
	model string
	ttl   time.Duration
}

// NewCachedEmbedder wraps inner. A nil cache returns inner unchanged.
func NewCachedEmbedder(inner Embedder, c cache.Cache, model string, ttl time.Duration) Embedder {
	if c == nil {
		return inner
	}
	return &CachedEmbedder{inner: inner, cache: c, model: model, ttl: ttl}
}

// Embed returns the cached vector or computes and stores it
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.CacheKey("embed", e.model, text)

	if data, ok := e.cache.Get(key); ok {
		var vec []float32
		if err := json.Unmarshal(data, &vec); err == nil && len(vec) > 0 {
			return vec, nil
		}
		_ = e.cache.Delete(key)
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(vec); err == nil {
		if err := e.cache.Set(key, data, e.ttl); err != nil {
			slog.Debug("embedding cache write failed", "error", err)
		}
	}
	return vec, nil
}
