package connector

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ppiankov/medfuse/internal/model"
)

// QueryRunner executes a read query and returns all records
type QueryRunner interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error)
	Close(ctx context.Context) error
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (r *driverRunner) ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if r.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(r.database))
	}

	result, err := neo4j.ExecuteQuery(ctx, r.driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

func (r *driverRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

const profileQuery = `
MATCH (p:Patient {id: $patient_id})
OPTIONAL MATCH (p)-[:HAS_DISEASE]->(d:Disease)
OPTIONAL MATCH (d)-[:HAS_LAB_RESULT]->(l:LabTest)
WITH p, d, collect(l {.name, .result, .unit, .normalRange, .testDate}) AS labs
WITH p, collect(d {.name, .severity, .diagnosisDate, labs: labs}) AS diseases
OPTIONAL MATCH (p)-[:PRESCRIBED]->(m:Medication)
RETURN p.id AS id, p.name AS name, diseases,
       collect(DISTINCT m {.name, .dosage, .startDate}) AS medications`

const wearablesQuery = `
MATCH (:Patient {id: $patient_id})-[:HAS_METRIC]->(wm:WearableMetric)-[:RECORDED_AS]->(r:Reading)
WITH wm, r ORDER BY r.timestamp DESC
WITH wm, collect(r {.value, .timestamp})[..$readings] AS readings
RETURN wm.name AS metric, wm.unit AS unit, wm.normalRange AS normal_range, readings
ORDER BY metric`

const contraindicationsQuery = `
MATCH (:Patient {id: $patient_id})-[:PRESCRIBED]->(m:Medication)-[:CONTRAINDICATED_IN]->(c:Disease)
RETURN DISTINCT m.name AS drug, c.name AS condition, c.severity AS severity
ORDER BY drug, condition`

const existsQuery = `
MATCH (p:Patient {id: $patient_id})
RETURN count(p) > 0 AS found`

const patientsQuery = `
MATCH (p:Patient)
RETURN p.id AS id, p.name AS name
ORDER BY p.id`

// readingsPerMetric bounds how many recent readings are pulled per wearable metric
const readingsPerMetric = 10

// Neo4jGraph reads patient profiles from a Neo4j knowledge graph
type Neo4jGraph struct {
	runner QueryRunner
}

// NewNeo4jGraph connects to the graph and verifies connectivity
func NewNeo4jGraph(ctx context.Context, cfg model.GraphConfig) (*Neo4jGraph, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connect to %s: %w", cfg.URI, err)
	}

	slog.Debug("connected to patient graph", "uri", cfg.URI, "database", cfg.Database)
	return NewNeo4jGraphWithRunner(&driverRunner{driver: driver, database: cfg.Database}), nil
}

// NewNeo4jGraphWithRunner wraps an existing query runner
func NewNeo4jGraphWithRunner(runner QueryRunner) *Neo4jGraph {
	return &Neo4jGraph{runner: runner}
}

// Close releases the driver
func (g *Neo4jGraph) Close(ctx context.Context) error {
	return g.runner.Close(ctx)
}

// FetchPatientProfile returns the patient's diseases, prescriptions, lab
// results and wearable readings
func (g *Neo4jGraph) FetchPatientProfile(ctx context.Context, patientID string) (model.PatientProfile, error) {
	res, err := g.runner.ExecuteQuery(ctx, profileQuery, map[string]any{"patient_id": patientID})
	if err != nil {
		return model.PatientProfile{}, fmt.Errorf("fetch profile %s: %w", patientID, err)
	}
	if len(res.Records) == 0 {
		return model.PatientProfile{}, fmt.Errorf("%w: %s", ErrNotFound, patientID)
	}

	row := res.Records[0].AsMap()
	profile := model.PatientProfile{
		ID:   asString(row["id"]),
		Name: asString(row["name"]),
	}

	for _, d := range asMaps(row["diseases"]) {
		name := asString(d["name"])
		if name == "" {
			continue
		}
		profile.Conditions = append(profile.Conditions, model.Condition{
			Name:     name,
			Severity: asString(d["severity"]),
			Onset:    asTime(d["diagnosisDate"]),
		})

		for _, l := range asMaps(d["labs"]) {
			obs := model.Observation{
				Metric:      asString(l["name"]),
				Value:       asString(l["result"]),
				Unit:        asString(l["unit"]),
				NormalRange: asString(l["normalRange"]),
			}
			if ts := asTime(l["testDate"]); ts != nil {
				obs.Timestamp = *ts
			}
			if obs.Metric != "" {
				profile.Observations = append(profile.Observations, obs)
			}
		}
	}

	for _, m := range asMaps(row["medications"]) {
		name := asString(m["name"])
		if name == "" {
			continue
		}
		profile.Medications = append(profile.Medications, model.Medication{
			Name:    name,
			Dose:    asString(m["dosage"]),
			Started: asTime(m["startDate"]),
		})
	}

	wearables, err := g.fetchWearables(ctx, patientID)
	if err != nil {
		return model.PatientProfile{}, err
	}
	profile.Observations = append(profile.Observations, wearables...)

	if len(profile.Medications) > 0 {
		profile.Contraindications, err = g.fetchContraindications(ctx, patientID)
		if err != nil {
			return model.PatientProfile{}, err
		}
	}

	slog.Debug("fetched patient profile",
		"patient_id", patientID,
		"conditions", len(profile.Conditions),
		"medications", len(profile.Medications),
		"observations", len(profile.Observations),
		"contraindications", len(profile.Contraindications))

	return profile, nil
}

func (g *Neo4jGraph) fetchWearables(ctx context.Context, patientID string) ([]model.Observation, error) {
	res, err := g.runner.ExecuteQuery(ctx, wearablesQuery, map[string]any{
		"patient_id": patientID,
		"readings":   readingsPerMetric,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch wearables %s: %w", patientID, err)
	}

	var out []model.Observation
	for _, rec := range res.Records {
		row := rec.AsMap()
		metric := asString(row["metric"])
		if metric == "" {
			continue
		}
		for _, r := range asMaps(row["readings"]) {
			obs := model.Observation{
				Metric:      metric,
				Value:       asString(r["value"]),
				Unit:        asString(row["unit"]),
				NormalRange: asString(row["normal_range"]),
			}
			if ts := asTime(r["timestamp"]); ts != nil {
				obs.Timestamp = *ts
			}
			out = append(out, obs)
		}
	}
	return out, nil
}

func (g *Neo4jGraph) fetchContraindications(ctx context.Context, patientID string) ([]model.Contraindication, error) {
	res, err := g.runner.ExecuteQuery(ctx, contraindicationsQuery, map[string]any{"patient_id": patientID})
	if err != nil {
		return nil, fmt.Errorf("fetch contraindications %s: %w", patientID, err)
	}

	var out []model.Contraindication
	for _, rec := range res.Records {
		row := rec.AsMap()
		c := model.Contraindication{
			Drug:      asString(row["drug"]),
			Condition: asString(row["condition"]),
			Severity:  strings.ToLower(asString(row["severity"])),
		}
		if c.Drug != "" && c.Condition != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// PatientExists reports whether the graph has a patient with the given id
func (g *Neo4jGraph) PatientExists(ctx context.Context, patientID string) (bool, error) {
	res, err := g.runner.ExecuteQuery(ctx, existsQuery, map[string]any{"patient_id": patientID})
	if err != nil {
		return false, fmt.Errorf("check patient %s: %w", patientID, err)
	}
	if len(res.Records) == 0 {
		return false, nil
	}
	found, _ := res.Records[0].AsMap()["found"].(bool)
	return found, nil
}

// ListPatients returns every patient id and name, ordered by id
func (g *Neo4jGraph) ListPatients(ctx context.Context) ([]model.PatientSummary, error) {
	res, err := g.runner.ExecuteQuery(ctx, patientsQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}

	patients := make([]model.PatientSummary, 0, len(res.Records))
	for _, rec := range res.Records {
		row := rec.AsMap()
		patients = append(patients, model.PatientSummary{
			ID:   asString(row["id"]),
			Name: asString(row["name"]),
		})
	}
	return patients, nil
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func asMaps(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// dateLayouts are tried in order for dates stored as strings
var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// asTime converts Neo4j temporal values (Date, LocalDateTime, DateTime) or
// ISO strings. Unparseable values yield nil.
func asTime(v any) *time.Time {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case interface{ Time() time.Time }:
		t = x.Time()
	case string:
		for _, layout := range dateLayouts {
			parsed, err := time.Parse(layout, strings.TrimSpace(x))
			if err == nil {
				t = parsed
				break
			}
		}
	}
	if t.IsZero() {
		return nil
	}
	return &t
}
