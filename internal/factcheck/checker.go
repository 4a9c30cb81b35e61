// Package factcheck grades extracted claims against the evidence bundle
// that grounded the prompt.
package factcheck

import (
	"context"
	"strings"

	"github.com/ppiankov/medfuse/internal/model"
	"github.com/ppiankov/medfuse/internal/util"
)

const (
	defaultThreshold = 0.6
	defaultWindow    = 3
)

// Checker assigns a SupportVerdict to each claim
type Checker struct {
	scorer    Scorer
	threshold float64
	window    int
	negations map[string]bool
}

// New creates a checker. Zero-valued config fields take the defaults.
func New(cfg model.FactCheckConfig, scorer Scorer) *Checker {
	if scorer == nil {
		scorer = TokenOverlap{}
	}

	c := &Checker{
		scorer:    scorer,
		threshold: cfg.Threshold,
		window:    cfg.NegationWindow,
		negations: make(map[string]bool),
	}
	if c.threshold <= 0 {
		c.threshold = defaultThreshold
	}
	if c.window <= 0 {
		c.window = defaultWindow
	}

	terms := cfg.NegationTerms
	if terms == nil {
		terms = model.DefaultNegationTerms
	}
	for _, t := range terms {
		for _, tok := range util.Tokenize(t) {
			c.negations[tok] = true
		}
	}

	return c
}

// Check grades one claim. Every item scoring at least the threshold is a
// match; a matching item with opposite polarity contradicts the claim, and
// contradiction wins over support. Missing evidence yields unverified.
func (c *Checker) Check(ctx context.Context, claim model.Claim, bundle model.EvidenceBundle) model.SupportVerdict {
	var supporting, contradicting []model.EvidenceRef
	var best, bestContra float64

	for _, e := range bundle.Entries() {
		content := e.Item.Content()
		score := c.scorer.Score(ctx, claim.Text, content)
		if score > best {
			best = score
		}
		if score < c.threshold {
			continue
		}

		if c.negates(claim.Text, content) {
			contradicting = append(contradicting, e.Ref)
			if score > bestContra {
				bestContra = score
			}
			continue
		}
		supporting = append(supporting, e.Ref)
	}

	switch {
	case len(contradicting) > 0:
		return model.SupportVerdict{Status: model.VerdictContradicted, Citations: contradicting, Score: bestContra}
	case len(supporting) > 0:
		return model.SupportVerdict{Status: model.VerdictSupported, Citations: supporting, Score: best}
	default:
		return model.SupportVerdict{Status: model.VerdictUnverified, Score: best}
	}
}

// CheckAll grades claims in order and returns new claims carrying verdicts
func (c *Checker) CheckAll(ctx context.Context, claims []model.Claim, bundle model.EvidenceBundle) []model.Claim {
	out := make([]model.Claim, len(claims))
	for i, claim := range claims {
		out[i] = claim.WithVerdict(c.Check(ctx, claim, bundle))
	}
	return out
}

// negates reports whether claim and evidence disagree in polarity around
// the tokens they share
func (c *Checker) negates(claim, evidence string) bool {
	claimTokens := util.Tokenize(claim)
	evidenceTokens := util.Tokenize(evidence)

	shared := make(map[string]bool)
	evidenceSet := uniqueTokens(evidenceTokens)
	for _, t := range claimTokens {
		if !util.IsStopword(t) && !c.isNegation(t) && evidenceSet[t] {
			shared[t] = true
		}
	}
	if len(shared) == 0 {
		return false
	}

	return c.negatedNear(claimTokens, shared) != c.negatedNear(evidenceTokens, shared)
}

// negatedNear reports whether a negation term sits within the window of any
// anchor token
func (c *Checker) negatedNear(tokens []string, anchors map[string]bool) bool {
	for i, t := range tokens {
		if !anchors[t] {
			continue
		}
		lo := max(0, i-c.window)
		hi := min(len(tokens)-1, i+c.window)
		for j := lo; j <= hi; j++ {
			if j != i && c.isNegation(tokens[j]) {
				return true
			}
		}
	}
	return false
}

func (c *Checker) isNegation(tok string) bool {
	return c.negations[tok] || strings.HasSuffix(tok, "n't")
}
