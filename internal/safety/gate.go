// Package safety runs rule-based checks over the patient profile and the
// generated answer. It detects and reports; refusal policy belongs to the
// pipeline.
package safety

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ppiankov/medfuse/internal/model"
	"github.com/ppiankov/medfuse/internal/util"
)

// ErrReferenceUnavailable is returned by Evaluate when the reference data
// could not be loaded. The gate never evaluates against a partial table.
var ErrReferenceUnavailable = errors.New("safety reference data unavailable")

// Report is the outcome of one gate evaluation
type Report struct {
	Findings []model.SafetyFinding
	// RecommendsImmediateCare is set when the answer already directs the
	// patient to emergency care
	RecommendsImmediateCare bool
}

// Gate evaluates safety rules against a reference table
type Gate struct {
	ref *Reference
	err error
}

// NewGate creates a gate over loaded reference data. A nil reference yields
// a gate that fails every evaluation.
func NewGate(ref *Reference) *Gate {
	if ref == nil {
		return &Gate{err: errors.New("no reference data")}
	}
	return &Gate{ref: ref}
}

// Open loads reference data from path (built-in when empty). A load failure
// is kept and reported by every Evaluate call instead of being skipped.
func Open(path string) *Gate {
	ref, err := LoadReference(path)
	if err != nil {
		slog.Error("safety reference failed to load", "path", path, "error", err)
		return &Gate{err: err}
	}
	return &Gate{ref: ref}
}

// Err returns the load error, if any
func (g *Gate) Err() error {
	return g.err
}

// Evaluate checks medication pairs, medication-condition contraindications
// and urgent-symptom phrases in warning-sign claims and the raw answer.
// Findings are ordered by check, then by profile order.
func (g *Gate) Evaluate(profile model.PatientProfile, claims []model.Claim, answer string) (Report, error) {
	if g.err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrReferenceUnavailable, g.err)
	}

	var findings []model.SafetyFinding
	findings = append(findings, g.checkInteractions(profile)...)
	findings = append(findings, g.checkContraindications(profile)...)
	findings = append(findings, g.checkRedFlags(claims, answer)...)

	return Report{
		Findings:                findings,
		RecommendsImmediateCare: g.recommendsImmediateCare(answer),
	}, nil
}

// medication is a profile medication with its canonical name
type medication struct {
	name      string
	canonical string
}

func (g *Gate) medications(profile model.PatientProfile) []medication {
	seen := make(map[string]bool)
	var meds []medication
	for _, name := range profile.MedicationNames() {
		canonical := g.canonical(name)
		if canonical == "" || seen[canonical] {
			continue
		}
		seen[canonical] = true
		meds = append(meds, medication{name: name, canonical: canonical})
	}
	return meds
}

// checkInteractions looks up every unordered medication pair
func (g *Gate) checkInteractions(profile model.PatientProfile) []model.SafetyFinding {
	meds := g.medications(profile)

	var findings []model.SafetyFinding
	for i := 0; i < len(meds); i++ {
		for j := i + 1; j < len(meds); j++ {
			a, b := meds[i], meds[j]
			for _, in := range g.ref.Interactions {
				if !pairMatches(in, a.canonical, b.canonical) {
					continue
				}
				findings = append(findings, model.SafetyFinding{
					Kind:        model.FindingDrugInteraction,
					Severity:    in.Severity,
					Description: in.Description,
					Medications: []string{a.name, b.name},
				})
			}
		}
	}
	return findings
}

// checkContraindications matches medications against patient conditions
// using the reference table first, then rules recorded in the graph. Each
// medication and condition pair is reported once.
func (g *Gate) checkContraindications(profile model.PatientProfile) []model.SafetyFinding {
	rules := append([]Contraindication(nil), g.ref.Contraindications...)
	rules = append(rules, graphContraindications(profile.Contraindications)...)

	seen := make(map[string]bool)
	var findings []model.SafetyFinding
	for _, med := range g.medications(profile) {
		for _, cond := range profile.Conditions {
			condition := g.canonical(cond.Name)
			for _, c := range rules {
				if !matches(med.canonical, g.canonical(c.Drug)) || !matches(condition, g.canonical(c.Condition)) {
					continue
				}
				key := med.canonical + "|" + condition
				if seen[key] {
					continue
				}
				seen[key] = true
				findings = append(findings, model.SafetyFinding{
					Kind:        model.FindingContraindication,
					Severity:    c.Severity,
					Description: c.Description,
					Medications: []string{med.name},
					Condition:   cond.Name,
				})
			}
		}
	}
	return findings
}

// graphContraindications turns graph records into rules. A missing or
// unknown severity is treated as moderate.
func graphContraindications(records []model.Contraindication) []Contraindication {
	rules := make([]Contraindication, 0, len(records))
	for _, r := range records {
		severity := model.Severity(r.Severity)
		if severity.Rank() == 0 {
			severity = model.SeverityModerate
		}
		rules = append(rules, Contraindication{
			Drug:        r.Drug,
			Condition:   r.Condition,
			Severity:    severity,
			Description: fmt.Sprintf("%s may be contraindicated in patients with %s", r.Drug, r.Condition),
		})
	}
	return rules
}

// checkRedFlags reports each configured phrase at most once
func (g *Gate) checkRedFlags(claims []model.Claim, answer string) []model.SafetyFinding {
	var texts []string
	for _, c := range claims {
		if c.Tag == model.TagWarningSign {
			texts = append(texts, c.Text)
		}
	}
	texts = append(texts, answer)

	var findings []model.SafetyFinding
	for _, flag := range g.ref.RedFlags {
		for _, text := range texts {
			if !util.ContainsPhrase(text, flag.Phrase) {
				continue
			}
			findings = append(findings, model.SafetyFinding{
				Kind:        model.FindingRedFlag,
				Severity:    model.SeverityHigh,
				Description: fmt.Sprintf("Answer mentions urgent symptom %q", flag.Phrase),
				Phrase:      flag.Phrase,
				Category:    flag.Category,
			})
			break
		}
	}
	return findings
}

func (g *Gate) recommendsImmediateCare(answer string) bool {
	for _, phrase := range g.ref.ImmediateCare {
		if util.ContainsPhrase(answer, phrase) {
			return true
		}
	}
	return false
}

// canonical normalizes a drug or condition name and resolves aliases
func (g *Gate) canonical(name string) string {
	n := util.NormalizeText(name)
	for alias, target := range g.ref.Aliases {
		if n == util.NormalizeText(alias) {
			return util.NormalizeText(target)
		}
	}
	return n
}

// matches accepts an exact canonical name or a name that contains the
// table entry as a phrase ("aspirin 81 mg" matches "aspirin")
func matches(name, entry string) bool {
	return name == util.NormalizeText(entry) || util.ContainsPhrase(name, entry)
}

func pairMatches(in Interaction, a, b string) bool {
	d0, d1 := in.Drugs[0], in.Drugs[1]
	return (matches(a, d0) && matches(b, d1)) || (matches(a, d1) && matches(b, d0))
}
