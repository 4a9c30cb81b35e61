package model

import "time"

// Status is the overall outcome of a pipeline run
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded" // Answer did not follow the required section format
	StatusRefused  Status = "refused"  // High-severity safety finding; the answer is kept but must not be acted on
	StatusFailed   Status = "failed"
)

// Severity ranks a safety finding
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
)

// Rank orders severities; unknown values rank lowest
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityModerate:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// FindingKind classifies the rule that produced a finding
type FindingKind string

const (
	FindingDrugInteraction  FindingKind = "drug-interaction"
	FindingContraindication FindingKind = "contraindication"
	FindingRedFlag          FindingKind = "red-flag"
)

// SafetyFinding is a structured warning from the safety gate
type SafetyFinding struct {
	Kind        FindingKind `json:"kind"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	Medications []string    `json:"medications,omitempty"` // Interacting pair or contraindicated drug
	Condition   string      `json:"condition,omitempty"`
	Phrase      string      `json:"phrase,omitempty"` // Red-flag phrase that matched
	Category    string      `json:"category,omitempty"`
}

// ErrorKind classifies why a failed run stopped
type ErrorKind string

const (
	ErrorInvalidInput ErrorKind = "invalid_input"
	ErrorNotFound     ErrorKind = "not_found" // Unknown patient id
	ErrorUpstream     ErrorKind = "upstream"  // Graph, vector index or model unavailable
	ErrorInternal     ErrorKind = "internal"
)

// Request is one question about one patient
type Request struct {
	PatientID string `json:"patient_id" yaml:"patient_id" validate:"required,max=128"`
	Question  string `json:"question" yaml:"question" validate:"required,max=4000"`
}

// PipelineResult is the only externally observable artifact of a run.
// It is built once by the pipeline and never mutated after return.
type PipelineResult struct {
	RunID       string          `json:"run_id"`
	PatientID   string          `json:"patient_id"`
	Question    string          `json:"question"`
	Answer      string          `json:"answer"`
	Claims      []Claim         `json:"claims"`
	Findings    []SafetyFinding `json:"findings"`
	Status      Status          `json:"status"`
	FailedStage string          `json:"failed_stage,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty"`
	Stages      []string        `json:"stages"` // States visited, in order
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration_ns"`
}

// HighestSeverity returns the most severe finding level, or "" if there are none
func (r *PipelineResult) HighestSeverity() Severity {
	var top Severity
	for _, f := range r.Findings {
		if f.Severity.Rank() > top.Rank() {
			top = f.Severity
		}
	}
	return top
}

// CountVerdicts tallies claims by verdict status
func (r *PipelineResult) CountVerdicts() map[VerdictStatus]int {
	counts := make(map[VerdictStatus]int)
	for _, c := range r.Claims {
		counts[c.Verdict.Status]++
	}
	return counts
}
