package llm

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/medfuse/internal/cache"
	"github.com/ppiankov/medfuse/internal/model"
)

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		name     string
		cfg      model.LLMConfig
		wantName string
		wantErr  bool
	}{
		{"default is ollama", model.LLMConfig{}, "ollama", false},
		{"ollama", model.LLMConfig{Provider: "Ollama"}, "ollama", false},
		{"openai", model.LLMConfig{Provider: "openai", APIKey: "k"}, "openai", false},
		{"claude alias", model.LLMConfig{Provider: "claude", APIKey: "k"}, "anthropic", false},
		{"openai without key", model.LLMConfig{Provider: "openai"}, "", true},
		{"unknown", model.LLMConfig{Provider: "watson"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := NewGenerator(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got provider %v", gen)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if gen.Name() != tt.wantName {
				t.Errorf("Expected %s, got %s", tt.wantName, gen.Name())
			}
		})
	}
}

func TestNewEmbedder(t *testing.T) {
	emb, err := NewEmbedder(model.LLMConfig{Provider: "anthropic", APIKey: "k", EmbeddingProvider: "ollama"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	ollama, ok := emb.(*OllamaProvider)
	if !ok {
		t.Fatalf("Expected *OllamaProvider, got %T", emb)
	}
	if ollama.baseURL != defaultOllamaURL {
		t.Errorf("Generation base URL must not leak to a different embedding provider, got %s", ollama.baseURL)
	}

	emb, _ = NewEmbedder(model.LLMConfig{Provider: "ollama", BaseURL: "http://gpu:11434", EmbeddingBaseURL: "http://embed:11434"})
	if got := emb.(*OllamaProvider).baseURL; got != "http://embed:11434" {
		t.Errorf("Expected embedding base URL, got %s", got)
	}

	if _, err := NewEmbedder(model.LLMConfig{Provider: "anthropic", APIKey: "k"}); err == nil ||
		!strings.Contains(err.Error(), "does not provide embeddings") {
		t.Errorf("Expected anthropic embedder error, got %v", err)
	}
}

type countingEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	c := cache.NewMemoryCache(time.Minute, time.Minute)
	emb := NewCachedEmbedder(inner, c, "bge-m3", time.Minute)

	for i := 0; i < 3; i++ {
		vec, err := emb.Embed(context.Background(), "chest pain")
		if err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
		if len(vec) != 2 || vec[0] != 10 {
			t.Errorf("Unexpected vector: %v", vec)
		}
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("Expected one upstream call, got %d", got)
	}

	// A different model must not share entries
	other := NewCachedEmbedder(inner, c, "nomic-embed-text", time.Minute)
	_, _ = other.Embed(context.Background(), "chest pain")
	if got := inner.calls.Load(); got != 2 {
		t.Errorf("Expected a miss for another model, got %d calls", got)
	}
}

func TestCachedEmbedder_CorruptEntry(t *testing.T) {
	inner := &countingEmbedder{}
	c := cache.NewMemoryCache(time.Minute, time.Minute)
	_ = c.Set(cache.CacheKey("embed", "m", "q"), []byte("not json"), 0)

	emb := NewCachedEmbedder(inner, c, "m", time.Minute)
	if _, err := emb.Embed(context.Background(), "q"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Error("Expected corrupt entry to be recomputed")
	}
}

func TestCachedEmbedder_ErrorNotCached(t *testing.T) {
	inner := &countingEmbedder{err: ErrTimeout}
	c := cache.NewMemoryCache(time.Minute, time.Minute)
	emb := NewCachedEmbedder(inner, c, "m", time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := emb.Embed(context.Background(), "q"); !errors.Is(err, ErrTimeout) {
			t.Errorf("Expected ErrTimeout, got %v", err)
		}
	}
	if inner.calls.Load() != 2 {
		t.Errorf("Expected errors to bypass the cache, got %d calls", inner.calls.Load())
	}
}

func TestNewCachedEmbedder_NilCache(t *testing.T) {
	inner := &countingEmbedder{}
	if got := NewCachedEmbedder(inner, nil, "m", time.Minute); got != Embedder(inner) {
		t.Errorf("Expected inner embedder when cache is nil, got %T", got)
	}
}
