package model

import "time"

// PatientProfile is a read-only snapshot of a patient's structured record
// taken at the start of a pipeline run
type PatientProfile struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Conditions   []Condition   `json:"conditions,omitempty"`
	Medications  []Medication  `json:"medications,omitempty"`
	Observations []Observation `json:"observations,omitempty"`

	// Contraindications recorded in the graph for the prescribed medications
	Contraindications []Contraindication `json:"contraindications,omitempty"`
}

// Condition is an active diagnosis
type Condition struct {
	Name     string     `json:"name"`
	Severity string     `json:"severity,omitempty"`
	Onset    *time.Time `json:"onset,omitempty"`
}

// Medication is an active prescription
type Medication struct {
	Name    string     `json:"name"`
	Dose    string     `json:"dose,omitempty"`
	Started *time.Time `json:"started,omitempty"`
}

// Observation is a single measured value (lab result or wearable reading)
type Observation struct {
	Metric      string    `json:"metric"`
	Value       string    `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	NormalRange string    `json:"normal_range,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Contraindication links a prescribed drug to a disease it should not be
// used with. Severity is taken from the graph and may be empty.
type Contraindication struct {
	Drug      string `json:"drug"`
	Condition string `json:"condition"`
	Severity  string `json:"severity,omitempty"`
}

// IsEmpty reports whether the profile contributes no facts
func (p PatientProfile) IsEmpty() bool {
	return len(p.Conditions) == 0 && len(p.Medications) == 0 && len(p.Observations) == 0
}

// MedicationNames returns the names of all active medications in profile order
func (p PatientProfile) MedicationNames() []string {
	names := make([]string, 0, len(p.Medications))
	for _, m := range p.Medications {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names
}

// PatientSummary is one row of the patient listing
type PatientSummary struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
