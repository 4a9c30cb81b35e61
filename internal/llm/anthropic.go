package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/ppiankov/medfuse/internal/model"
)

const defaultAnthropicModel = "claude-3-5-haiku-20241022"

// AnthropicProvider implements Generator for Anthropic models. Anthropic has
// no embeddings endpoint, so it never serves as an Embedder.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(cfg model.LLMConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}

	generationModel := cfg.Model
	if generationModel == "" {
		generationModel = defaultAnthropicModel
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(cfg.APIKey, opts...),
		model:  generationModel,
	}, nil
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// IsAvailable makes a minimal Messages call
func (p *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(p.model),
		MaxTokens: 10,
		Messages:  []anthropic.Message{anthropic.NewUserTextMessage("Hi")},
	})
	if err != nil {
		slog.Warn("anthropic availability check failed", "error", err)
		return false
	}
	return true
}

// Generate uses the Messages API
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	temperature := float32(opts.Temperature)
	resp, err := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(p.model),
		System:      systemPrompt,
		Messages:    []anthropic.Message{anthropic.NewUserTextMessage(prompt)},
		MaxTokens:   opts.maxTokens(),
		Temperature: &temperature,
	})
	if err != nil {
		return "", classifyError("anthropic", err)
	}

	var parts []string
	for _, c := range resp.Content {
		if c.Text != nil {
			parts = append(parts, *c.Text)
		}
	}

	answer := strings.TrimSpace(strings.Join(parts, ""))
	if answer == "" {
		return "", fmt.Errorf("%w: no response content from Anthropic", ErrGeneration)
	}

	slog.Debug("anthropic generation complete",
		"model", resp.Model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	return answer, nil
}
