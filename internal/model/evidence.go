package model

import "fmt"

// ResearchPassage is a text span returned by the literature index
type ResearchPassage struct {
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"` // Similarity (0-1)
	Title      string  `json:"title,omitempty"`
	Identifier string  `json:"identifier,omitempty"` // e.g. PMID
	Journal    string  `json:"journal,omitempty"`
	Year       int     `json:"year,omitempty"`
}

// FactKind classifies the patient record field a fact was derived from
type FactKind string

const (
	FactCondition   FactKind = "condition"
	FactMedication  FactKind = "medication"
	FactObservation FactKind = "observation"
)

// PatientFact is one statement derived from the patient profile
type PatientFact struct {
	Kind FactKind `json:"kind"`
	Text string   `json:"text"`
}

// EvidenceItem is the closed union {PatientFact, ResearchPassage}.
// Consumers switch on the concrete type; no other implementations exist.
type EvidenceItem interface {
	evidenceItem()
	// Content returns the text used for matching and prompting
	Content() string
}

func (PatientFact) evidenceItem()     {}
func (ResearchPassage) evidenceItem() {}

// Content returns the fact text
func (f PatientFact) Content() string { return f.Text }

// Content returns the passage text
func (p ResearchPassage) Content() string { return p.Text }

// EvidenceRef identifies an item inside a bundle (P1, P2... for patient facts, R1, R2... for research)
type EvidenceRef string

// EvidenceSource tags an item's provenance
type EvidenceSource string

const (
	SourcePatientGraph EvidenceSource = "patient_graph"
	SourceLiterature   EvidenceSource = "literature"
)

// BundleEntry pairs an evidence item with its provenance
type BundleEntry struct {
	Ref    EvidenceRef    `json:"ref"`
	Source EvidenceSource `json:"source"`
	Item   EvidenceItem   `json:"item"`
}

// EvidenceBundle is the ordered, deduplicated grounding for one question.
// Patient facts always precede research passages.
type EvidenceBundle struct {
	entries []BundleEntry
}

// NewEvidenceBundle wraps already-ordered entries. The slice is copied.
func NewEvidenceBundle(entries []BundleEntry) EvidenceBundle {
	cp := make([]BundleEntry, len(entries))
	copy(cp, entries)
	return EvidenceBundle{entries: cp}
}

// Entries returns a copy of the bundle entries in order
func (b EvidenceBundle) Entries() []BundleEntry {
	cp := make([]BundleEntry, len(b.entries))
	copy(cp, b.entries)
	return cp
}

// Len returns the number of items in the bundle
func (b EvidenceBundle) Len() int {
	return len(b.entries)
}

// Lookup finds the entry with the given reference
func (b EvidenceBundle) Lookup(ref EvidenceRef) (BundleEntry, bool) {
	for _, e := range b.entries {
		if e.Ref == ref {
			return e, true
		}
	}
	return BundleEntry{}, false
}

// SourceOf returns the provenance tag for an item
func SourceOf(item EvidenceItem) EvidenceSource {
	switch item.(type) {
	case PatientFact:
		return SourcePatientGraph
	case ResearchPassage:
		return SourceLiterature
	default:
		panic(fmt.Sprintf("unknown evidence item type %T", item))
	}
}
