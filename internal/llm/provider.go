package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrTimeout is returned when a generation or embedding call exceeds its deadline
	ErrTimeout = errors.New("llm call timed out")

	// ErrGeneration is returned for any other provider failure
	ErrGeneration = errors.New("llm call failed")
)

// Generator produces an answer for a prompt
type Generator interface {
	// Name returns the provider name
	Name() string

	// Generate returns the model's full answer. Options.Timeout bounds the call.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// Embedder turns text into a vector for similarity search
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tune one generation call
type Options struct {
	// MaxTokens limits the response length
	MaxTokens int

	// Temperature controls sampling; low values keep answers close to the evidence
	Temperature float64

	// Timeout bounds the call; zero means no extra deadline
	Timeout time.Duration
}

// systemPrompt frames every generation request
const systemPrompt = "You are a careful clinical explanation assistant. Answer only from the evidence in the prompt and use the required section headings."

const defaultMaxTokens = 1024

func (o Options) maxTokens() int {
	if o.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return o.MaxTokens
}

// withTimeout applies the per-call deadline
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyError maps a provider error onto ErrTimeout or ErrGeneration.
// Caller cancellation is passed through unchanged.
func classifyError(provider string, err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s: %w", ErrTimeout, provider, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", provider, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrGeneration, provider, err)
	}
}
