package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/ppiankov/medfuse/internal/model"
)

// Extraction is the output of claim extraction
type Extraction struct {
	Claims []model.Claim
	// Degraded is set when none of the required section headers were found
	// and claims were split line by line instead
	Degraded bool
}

// sectionAlias maps a keyword found in a heading to a claim tag
type sectionAlias struct {
	keyword string
	tag     model.ClaimTag
}

// ClaimExtractor splits generated answers into atomic claims
type ClaimExtractor struct {
	aliases []sectionAlias
}

// NewClaimExtractor creates a new claim extractor
func NewClaimExtractor() *ClaimExtractor {
	return &ClaimExtractor{
		// Checked in order; warning keywords first so "Emergency Warning
		// Signs to Monitor" is not read as monitoring advice
		aliases: []sectionAlias{
			{"emergency", model.TagWarningSign},
			{"warning", model.TagWarningSign},
			{"seek", model.TagWarningSign},
			{"urgent", model.TagWarningSign},
			{"red flag", model.TagWarningSign},
			{"monitor", model.TagMonitoringAdvice},
			{"track", model.TagMonitoringAdvice},
			{"risk", model.TagRiskAssessment},
			{"concern", model.TagRiskAssessment},
			{"consideration", model.TagRiskAssessment},
		},
	}
}

var defaultExtractor = NewClaimExtractor()

// Extract splits answer using the default section aliases
func Extract(answer string) Extraction {
	return defaultExtractor.Extract(answer)
}

var (
	markdownHeading = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*#*$`)
	boldHeading     = regexp.MustCompile(`^(?:\*\*|__)([^.!?*_]{2,60})(?:\*\*|__):?$`)
	labelHeading    = regexp.MustCompile(`^([A-Za-z][A-Za-z /&'-]{2,60}):$`)
	listMarker      = regexp.MustCompile(`^(?:[-*•+]|\d{1,2}[.)])\s+`)
)

// Extract splits the answer into claims. The three required sections act
// as anchors; inside a section every bullet and sentence is one claim.
// Bold or label lines that name no known section are claims themselves.
// Text outside a recognised section is kept as untagged claims. When no
// recognised section exists every non-empty line becomes an untagged claim
// and the extraction is marked degraded.
func (e *ClaimExtractor) Extract(answer string) Extraction {
	lines := strings.Split(strings.ReplaceAll(answer, "\r\n", "\n"), "\n")

	var claims []model.Claim
	current := model.TagUntagged
	found := false

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if heading, markdown, ok := headingText(line); ok {
			if tag, known := e.classify(heading); known {
				current = tag
				found = true
				continue
			}
			// Bold and label lines only open a section the extractor
			// recognises; otherwise they are content of the current one
			if markdown {
				current = model.TagUntagged
				continue
			}
		}

		for _, text := range splitClaims(line) {
			claims = append(claims, model.NewClaim(text, current))
		}
	}

	if !found {
		return Extraction{Claims: fallbackClaims(lines), Degraded: true}
	}

	return Extraction{Claims: claims}
}

// classify maps a heading to the section it introduces
func (e *ClaimExtractor) classify(heading string) (model.ClaimTag, bool) {
	h := strings.ToLower(heading)
	for _, a := range e.aliases {
		if strings.Contains(h, a.keyword) {
			return a.tag, true
		}
	}
	return model.TagUntagged, false
}

// headingText returns the label of a line shaped like a heading and whether
// it is a markdown heading
func headingText(line string) (label string, markdown, ok bool) {
	if m := markdownHeading.FindStringSubmatch(line); m != nil {
		return stripFormatting(m[1]), true, true
	}
	if m := boldHeading.FindStringSubmatch(line); m != nil && hasWordContent(m[1]) {
		return stripFormatting(m[1]), false, true
	}
	if m := labelHeading.FindStringSubmatch(line); m != nil {
		return m[1], false, true
	}
	return "", false, false
}

// fallbackClaims treats every non-empty, non-formatting line as one claim
func fallbackClaims(lines []string) []model.Claim {
	var claims []model.Claim
	for _, raw := range lines {
		text := cleanFragment(listMarker.ReplaceAllString(strings.TrimSpace(raw), ""))
		if text == "" {
			continue
		}
		claims = append(claims, model.NewClaim(text, model.TagUntagged))
	}
	return claims
}

// splitClaims strips list markers and splits a line into sentences
func splitClaims(line string) []string {
	line = listMarker.ReplaceAllString(line, "")

	var out []string
	for _, s := range splitSentences(line) {
		if text := cleanFragment(s); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// cleanFragment trims emphasis markers and returns "" for fragments that
// carry no words (table rules, lone bullets, horizontal lines)
func cleanFragment(s string) string {
	s = strings.TrimSpace(stripFormatting(s))
	if !hasWordContent(s) {
		return ""
	}
	return s
}

func stripFormatting(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = strings.Trim(s, " \t*_`>#|")
	return strings.TrimSpace(s)
}

func hasWordContent(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

var abbreviations = []string{"e.g.", "i.e.", "dr.", "vs.", "approx.", "etc.", "mr.", "mrs.", "ms.", "st."}

// splitSentences splits text into sentences (simple heuristic)
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)

		// Check for sentence terminators
		if r == '.' || r == '!' || r == '?' {
			if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) && !endsWithAbbreviation(current.String()) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

func endsWithAbbreviation(s string) bool {
	lower := strings.ToLower(s)
	for _, abbr := range abbreviations {
		if strings.HasSuffix(lower, " "+abbr) || lower == abbr || strings.HasSuffix(lower, "("+abbr) {
			return true
		}
	}
	return false
}
