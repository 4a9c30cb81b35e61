package model

// Claim is one atomic assertion extracted from a generated answer
type Claim struct {
	Text    string         `json:"text"`
	Tag     ClaimTag       `json:"tag"`
	Verdict SupportVerdict `json:"verdict"`
}

// ClaimTag names the answer section a claim came from
type ClaimTag string

const (
	TagRiskAssessment   ClaimTag = "risk-assessment"
	TagMonitoringAdvice ClaimTag = "monitoring-advice"
	TagWarningSign      ClaimTag = "warning-sign" // Emergency warning signs section
	TagUntagged         ClaimTag = "untagged"     // Fallback when no section headers were found
)

// VerdictStatus is the fact-check outcome for a claim
type VerdictStatus string

const (
	VerdictUnchecked    VerdictStatus = "unchecked"
	VerdictSupported    VerdictStatus = "supported"
	VerdictContradicted VerdictStatus = "contradicted"
	VerdictUnverified   VerdictStatus = "unverified"
)

// SupportVerdict is attached to a claim after fact-checking
type SupportVerdict struct {
	Status    VerdictStatus `json:"status"`
	Citations []EvidenceRef `json:"citations,omitempty"` // Items that justify the status
	Score     float64       `json:"score,omitempty"`     // Best overlap observed
}

// NewClaim returns an unchecked claim
func NewClaim(text string, tag ClaimTag) Claim {
	return Claim{
		Text:    text,
		Tag:     tag,
		Verdict: SupportVerdict{Status: VerdictUnchecked},
	}
}

// WithVerdict returns a copy of the claim carrying the verdict
func (c Claim) WithVerdict(v SupportVerdict) Claim {
	c.Verdict = v
	if v.Citations != nil {
		c.Verdict.Citations = append([]EvidenceRef(nil), v.Citations...)
	}
	return c
}

// Section is one mandatory part of a generated answer
type Section struct {
	Heading string
	Tag     ClaimTag
}

// RequiredSections lists the answer sections in the order the prompt asks for them
var RequiredSections = []Section{
	{Heading: "Risk Assessment", Tag: TagRiskAssessment},
	{Heading: "Monitoring Advice", Tag: TagMonitoringAdvice},
	{Heading: "Emergency Warning Signs", Tag: TagWarningSign},
}
