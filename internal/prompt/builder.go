package prompt

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/medfuse/internal/model"
)

// ErrPromptTooLarge is returned when the question alone exceeds the budget
var ErrPromptTooLarge = errors.New("question exceeds prompt budget")

// Prompt is the rendered instruction sent to the model
type Prompt struct {
	Text     string
	Budget   int
	Included []model.EvidenceRef // Evidence items serialized into Text, in order
	Dropped  int                 // Tail items left out to respect Budget
}

// Len returns the prompt length in characters (runes)
func (p Prompt) Len() int {
	return utf8.RuneCountInString(p.Text)
}

const header = `You are a clinical explanation assistant. You are NOT a doctor.
You do not diagnose diseases and you do not prescribe or recommend new medications.

SAFETY RULES:
- Use ONLY the evidence listed below. Do not introduce new medical facts or interactions.
- Do not assume patient data that is not listed.
- If the evidence is insufficient, say so plainly.
- If any symptom may be an emergency, tell the patient to seek immediate care.

EVIDENCE (patient record first, then research literature):
`

const minimalHeader = "Answer using only verified patient data. Use sections: "

// Build renders the question and evidence into a prompt of at most maxBudget
// characters. Evidence is serialized in bundle order and whole items are
// dropped from the tail until the prompt fits; an item is never cut.
func Build(question string, bundle model.EvidenceBundle, maxBudget int) (Prompt, error) {
	question = strings.TrimSpace(question)
	if utf8.RuneCountInString(question) > maxBudget {
		return Prompt{}, fmt.Errorf("%w: %d characters, budget %d", ErrPromptTooLarge, utf8.RuneCountInString(question), maxBudget)
	}

	entries := bundle.Entries()
	footer := renderFooter(question)
	fixed := utf8.RuneCountInString(header) + utf8.RuneCountInString(footer)

	if fixed > maxBudget {
		// Template does not fit; the question does. Send it with no evidence.
		text := minimalPrompt(question, maxBudget)
		return Prompt{Text: text, Budget: maxBudget, Dropped: len(entries)}, nil
	}

	var body strings.Builder
	used := fixed
	var included []model.EvidenceRef

	for _, e := range entries {
		line := RenderItem(e) + "\n"
		n := utf8.RuneCountInString(line)
		if used+n > maxBudget {
			break
		}
		body.WriteString(line)
		used += n
		included = append(included, e.Ref)
	}

	text := header + body.String() + footer
	return Prompt{
		Text:     text,
		Budget:   maxBudget,
		Included: included,
		Dropped:  len(entries) - len(included),
	}, nil
}

// RenderItem serializes one bundle entry as a single prompt line
func RenderItem(e model.BundleEntry) string {
	text := strings.Join(strings.Fields(e.Item.Content()), " ")

	switch item := e.Item.(type) {
	case model.PatientFact:
		return fmt.Sprintf("[%s] PATIENT %s: %s", e.Ref, strings.ToUpper(string(item.Kind)), text)
	case model.ResearchPassage:
		cite := item.Title
		if cite == "" {
			cite = item.DocumentID
		}
		var meta []string
		if item.Journal != "" {
			meta = append(meta, item.Journal)
		}
		if item.Year > 0 {
			meta = append(meta, fmt.Sprint(item.Year))
		}
		if item.Identifier != "" {
			meta = append(meta, item.Identifier)
		}
		if len(meta) > 0 {
			cite += " (" + strings.Join(meta, ", ") + ")"
		}
		return fmt.Sprintf("[%s] RESEARCH %s: %s", e.Ref, cite, text)
	default:
		panic(fmt.Sprintf("unknown evidence item type %T", e.Item))
	}
}

func renderFooter(question string) string {
	var b strings.Builder
	b.WriteString("\nQUESTION:\n")
	b.WriteString(question)
	b.WriteString("\n\nRESPONSE FORMAT (mandatory, use these exact headings):\n")
	for _, s := range model.RequiredSections {
		b.WriteString("## ")
		b.WriteString(s.Heading)
		b.WriteString("\n- ")
		b.WriteString(sectionGuidance(s.Tag))
		b.WriteString("\n")
	}
	b.WriteString("Cite evidence by its [tag]. One statement per bullet.\n")
	return b.String()
}

func sectionGuidance(tag model.ClaimTag) string {
	switch tag {
	case model.TagRiskAssessment:
		return "Risks relevant to the question, using the patient's actual data."
	case model.TagMonitoringAdvice:
		return "Concrete, measurable things to track."
	case model.TagWarningSign:
		return "Symptoms that require urgent medical attention."
	default:
		return ""
	}
}

// minimalPrompt fits the question with as much of a short instruction as
// the budget allows
func minimalPrompt(question string, budget int) string {
	var headings []string
	for _, s := range model.RequiredSections {
		headings = append(headings, s.Heading)
	}
	full := minimalHeader + strings.Join(headings, ", ") + ".\n" + question
	if utf8.RuneCountInString(full) <= budget {
		return full
	}
	return question
}
