package factcheck

import (
	"context"
	"log/slog"
	"math"

	"github.com/ppiankov/medfuse/internal/util"
)

// Scorer measures how much of a claim an evidence text covers, in [0, 1]
type Scorer interface {
	Score(ctx context.Context, claim, evidence string) float64
}

// Embedder turns text into a vector; satisfied by llm.Embedder
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TokenOverlap is the fraction of the claim's distinct content tokens that
// also occur in the evidence
type TokenOverlap struct{}

// Score implements Scorer
func (TokenOverlap) Score(_ context.Context, claim, evidence string) float64 {
	claimTokens := uniqueTokens(util.ContentTokens(claim))
	if len(claimTokens) == 0 {
		return 0
	}

	evidenceTokens := uniqueTokens(util.ContentTokens(evidence))
	hits := 0
	for tok := range claimTokens {
		if evidenceTokens[tok] {
			hits++
		}
	}

	return float64(hits) / float64(len(claimTokens))
}

// EmbeddingSimilarity scores by cosine similarity of embeddings. Any
// embedding failure falls back to token overlap for that pair.
type EmbeddingSimilarity struct {
	Embedder Embedder
	Fallback Scorer
}

// Score implements Scorer
func (s EmbeddingSimilarity) Score(ctx context.Context, claim, evidence string) float64 {
	fallback := s.Fallback
	if fallback == nil {
		fallback = TokenOverlap{}
	}

	a, err := s.Embedder.Embed(ctx, claim)
	if err != nil {
		slog.Debug("claim embedding failed, using token overlap", "error", err)
		return fallback.Score(ctx, claim, evidence)
	}
	b, err := s.Embedder.Embed(ctx, evidence)
	if err != nil {
		slog.Debug("evidence embedding failed, using token overlap", "error", err)
		return fallback.Score(ctx, claim, evidence)
	}

	sim, ok := cosine(a, b)
	if !ok {
		return fallback.Score(ctx, claim, evidence)
	}
	return sim
}

// NewScorer picks the scorer for a metric name ("token" or "embedding").
// Embedding falls back to token overlap when no embedder is available.
func NewScorer(metric string, embedder Embedder) Scorer {
	if metric == "embedding" && embedder != nil {
		return EmbeddingSimilarity{Embedder: embedder, Fallback: TokenOverlap{}}
	}
	return TokenOverlap{}
}

// cosine returns the similarity clamped to [0, 1]. Negative similarity
// counts as no support.
func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}

	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, sim)), true
}

func uniqueTokens(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}
