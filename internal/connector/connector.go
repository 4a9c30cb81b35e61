// Package connector reads evidence from the patient knowledge graph and the
// research passage index. Both sources are read-only.
package connector

import (
	"context"
	"errors"

	"github.com/ppiankov/medfuse/internal/model"
)

// ErrNotFound is returned when the graph has no patient with the given id
var ErrNotFound = errors.New("patient not found")

// ProfileFetcher loads a patient's structured record
type ProfileFetcher interface {
	FetchPatientProfile(ctx context.Context, patientID string) (model.PatientProfile, error)
}

// PatientChecker reports whether a patient id exists without loading the
// record
type PatientChecker interface {
	PatientExists(ctx context.Context, patientID string) (bool, error)
}

// PassageSearcher returns the k research passages closest to a query vector,
// best match first
type PassageSearcher interface {
	SearchResearchPassages(ctx context.Context, vector []float32, k int) ([]model.ResearchPassage, error)
}

// PatientLister enumerates patients in the graph
type PatientLister interface {
	ListPatients(ctx context.Context) ([]model.PatientSummary, error)
}
