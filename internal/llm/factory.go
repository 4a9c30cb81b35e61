package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/medfuse/internal/model"
)

// NewGenerator creates the generation provider named in the configuration
func NewGenerator(cfg model.LLMConfig) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama", "":
		return NewOllamaProvider(cfg)

	case "openai":
		return NewOpenAIProvider(cfg)

	case "anthropic", "claude":
		return NewAnthropicProvider(cfg)

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: ollama, openai, anthropic)", cfg.Provider)
	}
}

// NewEmbedder creates the embedding provider. It shares credentials with the
// generation provider when both name the same service.
func NewEmbedder(cfg model.LLMConfig) (Embedder, error) {
	embedCfg := cfg
	embedCfg.Provider = cfg.EmbeddingProvider
	if embedCfg.Provider == "" {
		embedCfg.Provider = cfg.Provider
	}
	if cfg.EmbeddingBaseURL != "" {
		embedCfg.BaseURL = cfg.EmbeddingBaseURL
	} else if !strings.EqualFold(embedCfg.Provider, cfg.Provider) {
		embedCfg.BaseURL = ""
	}

	switch strings.ToLower(embedCfg.Provider) {
	case "ollama", "":
		return NewOllamaProvider(embedCfg)

	case "openai":
		return NewOpenAIProvider(embedCfg)

	case "anthropic", "claude":
		return nil, fmt.Errorf("anthropic does not provide embeddings; set llm.embedding_provider to ollama or openai")

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: ollama, openai)", embedCfg.Provider)
	}
}
