package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/medfuse/internal/model"
)

func TestRecordResult(t *testing.T) {
	m := NewMetrics()

	m.RecordResult(&model.PipelineResult{
		Status: model.StatusRefused,
		Findings: []model.SafetyFinding{
			{Kind: model.FindingDrugInteraction, Severity: model.SeverityHigh},
			{Kind: model.FindingRedFlag, Severity: model.SeverityHigh},
		},
		Claims: []model.Claim{
			{Verdict: model.SupportVerdict{Status: model.VerdictSupported}},
			{Verdict: model.SupportVerdict{Status: model.VerdictSupported}},
			{Verdict: model.SupportVerdict{Status: model.VerdictContradicted}},
		},
	})
	m.RecordResult(&model.PipelineResult{Status: model.StatusOK})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("refused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.safetyFindings.WithLabelValues("drug-interaction", "high")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.claimVerdicts.WithLabelValues("supported")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claimVerdicts.WithLabelValues("contradicted")))
}

func TestObserveStageAndRetry(t *testing.T) {
	m := NewMetrics()
	m.ObserveStage("generating", 2*time.Second)
	m.IncRetry("generating")
	m.IncRetry("generating")

	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retries.WithLabelValues("generating")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStage("fusing", time.Millisecond)
		m.IncRetry("fetching")
		m.RecordResult(&model.PipelineResult{Status: model.StatusOK})
	})
	assert.Nil(t, m.Registry())
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.RecordResult(&model.PipelineResult{Status: model.StatusDegraded})

	path := filepath.Join(t.TempDir(), "medfuse.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `medfuse_runs_total{status="degraded"} 1`)
}

func TestSpans(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "gating")
	assert.NotNil(t, ctx)
	assert.NotPanics(t, func() { EndSpan(span, errors.New("reference unavailable")) })
}
