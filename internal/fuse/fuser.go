package fuse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/medfuse/internal/model"
	"github.com/ppiankov/medfuse/internal/util"
)

// ErrEmptyEvidence is returned when neither source contributes any item.
// The model must never be prompted with zero grounding.
var ErrEmptyEvidence = errors.New("no evidence: patient profile and research passages are both empty")

// Fuse merges the patient profile and research passages into one ordered,
// deduplicated bundle. Patient facts come first in profile order, then
// passages in retrieval order. An item whose normalized text was already
// seen is dropped.
func Fuse(profile model.PatientProfile, passages []model.ResearchPassage) (model.EvidenceBundle, error) {
	var entries []model.BundleEntry
	seen := make(map[string]bool)

	add := func(item model.EvidenceItem, prefix string, n *int) {
		text := strings.TrimSpace(item.Content())
		if text == "" {
			return
		}
		key := util.NormalizeText(text)
		if seen[key] {
			return
		}
		seen[key] = true
		*n++
		entries = append(entries, model.BundleEntry{
			Ref:    model.EvidenceRef(fmt.Sprintf("%s%d", prefix, *n)),
			Source: model.SourceOf(item),
			Item:   item,
		})
	}

	var nFacts, nPassages int
	for _, fact := range PatientFacts(profile) {
		add(fact, "P", &nFacts)
	}
	for _, p := range passages {
		add(p, "R", &nPassages)
	}

	if len(entries) == 0 {
		return model.EvidenceBundle{}, ErrEmptyEvidence
	}

	return model.NewEvidenceBundle(entries), nil
}

// PatientFacts renders a profile as fact items: one per condition, one per
// medication and one per notable observation (latest reading per metric).
func PatientFacts(profile model.PatientProfile) []model.PatientFact {
	var facts []model.PatientFact

	for _, c := range profile.Conditions {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		text := "Patient has " + c.Name
		if c.Severity != "" {
			text += " (severity: " + c.Severity + ")"
		}
		if c.Onset != nil {
			text += ", diagnosed " + c.Onset.Format("2006-01-02")
		}
		facts = append(facts, model.PatientFact{Kind: model.FactCondition, Text: text})
	}

	for _, m := range profile.Medications {
		if strings.TrimSpace(m.Name) == "" {
			continue
		}
		text := "Patient takes " + m.Name
		if m.Dose != "" {
			text += " " + m.Dose
		}
		if m.Started != nil {
			text += ", since " + m.Started.Format("2006-01-02")
		}
		facts = append(facts, model.PatientFact{Kind: model.FactMedication, Text: text})
	}

	for _, o := range notableObservations(profile.Observations) {
		text := fmt.Sprintf("%s: %s", o.Metric, o.Value)
		if o.Unit != "" {
			text += " " + o.Unit
		}
		if o.NormalRange != "" {
			text += " (normal " + o.NormalRange + ")"
		}
		if !o.Timestamp.IsZero() {
			text += " on " + o.Timestamp.Format("2006-01-02")
		}
		facts = append(facts, model.PatientFact{Kind: model.FactObservation, Text: text})
	}

	return facts
}

// notableObservations keeps the most recent non-empty reading per metric,
// ordered by first appearance of the metric in the input
func notableObservations(obs []model.Observation) []model.Observation {
	latest := make(map[string]int)
	var order []string

	for i, o := range obs {
		if strings.TrimSpace(o.Metric) == "" || strings.TrimSpace(o.Value) == "" {
			continue
		}
		key := util.NormalizeText(o.Metric)
		j, ok := latest[key]
		if !ok {
			order = append(order, key)
			latest[key] = i
			continue
		}
		if o.Timestamp.After(obs[j].Timestamp) {
			latest[key] = i
		}
	}

	out := make([]model.Observation, 0, len(order))
	for _, key := range order {
		out = append(out, obs[latest[key]])
	}
	return out
}

// Stats summarises a bundle for logging
type Stats struct {
	PatientFacts int
	Passages     int
}

// Summarize counts the items of each kind in a bundle
func Summarize(b model.EvidenceBundle) Stats {
	var s Stats
	for _, e := range b.Entries() {
		switch e.Item.(type) {
		case model.PatientFact:
			s.PatientFacts++
		case model.ResearchPassage:
			s.Passages++
		}
	}
	return s
}
