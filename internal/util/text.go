package util

import (
	"strings"
	"unicode"
)

// NormalizeText case-folds and collapses whitespace. Used as the identity
// key for deduplication and as the basis for phrase matching.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokenize splits text into lower-case word tokens. Apostrophes inside words
// are kept so "don't" stays one token; all other punctuation separates.
func Tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.Trim(cur.String(), "'"))
			cur.Reset()
		}
	}

	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		case (r == '\'' || r == '’') && cur.Len() > 0:
			cur.WriteRune('\'')
		default:
			flush()
		}
	}
	flush()

	out := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// stopwords carry no content for overlap scoring. Negation words are not
// listed; polarity checks need them.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "been": true, "by": true,
	"as": true, "at": true, "it": true, "its": true, "this": true, "that": true,
	"these": true, "those": true, "your": true, "you": true, "may": true,
	"can": true, "could": true, "should": true, "if": true, "from": true,
	"has": true, "have": true, "had": true, "their": true, "there": true,
	"which": true, "also": true, "such": true, "than": true, "into": true,
	"any": true, "some": true, "more": true, "most": true, "very": true,
	"patient": true, "patients": true,
}

// IsStopword reports whether a token is ignored for overlap scoring
func IsStopword(tok string) bool {
	return stopwords[tok]
}

// ContentTokens returns Tokenize(s) minus stopwords, preserving order and duplicates
func ContentTokens(s string) []string {
	var out []string
	for _, t := range Tokenize(s) {
		if !stopwords[t] {
			out = append(out, t)
		}
	}
	return out
}

// ContainsPhrase reports whether the normalized phrase occurs in the
// normalized text on word boundaries
func ContainsPhrase(text, phrase string) bool {
	t := " " + strings.Join(Tokenize(text), " ") + " "
	p := strings.Join(Tokenize(phrase), " ")
	if p == "" {
		return false
	}
	return strings.Contains(t, " "+p+" ")
}
