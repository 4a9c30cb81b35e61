package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/medfuse/internal/connector"
	"github.com/ppiankov/medfuse/internal/factcheck"
	"github.com/ppiankov/medfuse/internal/fuse"
	"github.com/ppiankov/medfuse/internal/llm"
	"github.com/ppiankov/medfuse/internal/model"
	"github.com/ppiankov/medfuse/internal/safety"
	"github.com/ppiankov/medfuse/internal/telemetry"
)

const sectionedAnswer = `## Risk Assessment
Lisinopril keeps blood pressure in the target range.

## Monitoring Advice
Check blood pressure every morning.

## Emergency Warning Signs
Contact your doctor if dizziness persists.`

type fakeProfiles struct {
	profile model.PatientProfile
	errs    []error // Returned in order before succeeding
	calls   atomic.Int32
}

func (f *fakeProfiles) FetchPatientProfile(ctx context.Context, id string) (model.PatientProfile, error) {
	n := int(f.calls.Add(1))
	if n <= len(f.errs) {
		return model.PatientProfile{}, f.errs[n-1]
	}
	p := f.profile
	p.ID = id
	return p, nil
}

type fakeRoster struct {
	known map[string]bool
	errs  []error // Returned in order before answering
	calls atomic.Int32
}

func (f *fakeRoster) PatientExists(ctx context.Context, id string) (bool, error) {
	n := int(f.calls.Add(1))
	if n <= len(f.errs) {
		return false, f.errs[n-1]
	}
	return f.known[id], nil
}

type fakePassages struct {
	passages []model.ResearchPassage
	err      error
	gotK     atomic.Int32
}

func (f *fakePassages) SearchResearchPassages(ctx context.Context, vec []float32, k int) ([]model.ResearchPassage, error) {
	f.gotK.Store(int32(k))
	return f.passages, f.err
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fakeGenerator struct {
	generate func(ctx context.Context, prompt string) (string, error)
	calls    atomic.Int32
	prompts  []string
	mu       sync.Mutex
}

func (g *fakeGenerator) Name() string                     { return "fake" }
func (g *fakeGenerator) IsAvailable(context.Context) bool { return true }

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	return g.generate(ctx, prompt)
}

func answering(text string) *fakeGenerator {
	return &fakeGenerator{generate: func(context.Context, string) (string, error) { return text, nil }}
}

func benignProfile() model.PatientProfile {
	return model.PatientProfile{
		Name:        "Test Patient",
		Conditions:  []model.Condition{{Name: "Hypertension"}},
		Medications: []model.Medication{{Name: "Lisinopril", Dose: "10 mg"}},
	}
}

type harness struct {
	cfg      *model.Config
	profiles *fakeProfiles
	passages *fakePassages
	gen      *fakeGenerator
	gate     *safety.Gate
	checker  *factcheck.Checker
	patients connector.PatientChecker
	sleeps   []time.Duration
}

func newHarness(answer string) *harness {
	cfg := model.DefaultConfig()
	cfg.Retry.Backoff = 500 * time.Millisecond
	return &harness{
		cfg:      cfg,
		profiles: &fakeProfiles{profile: benignProfile()},
		passages: &fakePassages{passages: []model.ResearchPassage{
			{DocumentID: "d1", Text: "Daily home blood pressure checks improve control in hypertension.", Score: 0.8},
		}},
		gen:  answering(answer),
		gate: safety.Open(""),
	}
}

func (h *harness) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(h.cfg, Deps{
		Profiles:  h.profiles,
		Passages:  h.passages,
		Embedder:  fakeEmbedder{},
		Generator: h.gen,
		Gate:      h.gate,
		Patients:  h.patients,
		Checker:   h.checker,
		Metrics:   telemetry.NewMetrics(),
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	return p
}

func ask(question string) model.Request {
	return model.Request{PatientID: "p-001", Question: question}
}

func TestRun_OK(t *testing.T) {
	h := newHarness(sectionedAnswer)
	res := h.pipeline(t).Run(context.Background(), ask("How should I monitor my blood pressure?"))

	assert.Equal(t, model.StatusOK, res.Status)
	assert.Equal(t, sectionedAnswer, res.Answer)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.FailedStage)
	assert.Empty(t, res.Findings)
	assert.Equal(t, []string{
		StageValidating, StageFetching, StageFusing, StagePrompting,
		StageGenerating, StageExtracting, StageChecking, StageGating, StageDone,
	}, res.Stages)
	assert.Equal(t, int32(h.cfg.Vector.TopK), h.passages.gotK.Load())

	require.Len(t, h.gen.prompts, 1)
	assert.Contains(t, h.gen.prompts[0], "Lisinopril")
	assert.Contains(t, h.gen.prompts[0], "home blood pressure checks")
}

// Warfarin and Aspirin interact; the answer text cannot lift the refusal.
func TestRun_ScenarioA_InteractionRefuses(t *testing.T) {
	h := newHarness(sectionedAnswer + "\nIf bleeding starts, call 911.")
	h.profiles.profile = model.PatientProfile{
		Conditions:  []model.Condition{{Name: "Atrial Fibrillation"}},
		Medications: []model.Medication{{Name: "Warfarin"}, {Name: "Aspirin"}},
	}

	res := h.pipeline(t).Run(context.Background(), ask("Can I keep taking both?"))

	assert.Equal(t, model.StatusRefused, res.Status)

	var interactions []model.SafetyFinding
	for _, f := range res.Findings {
		if f.Kind == model.FindingDrugInteraction {
			interactions = append(interactions, f)
		}
	}
	require.Len(t, interactions, 1)
	assert.Equal(t, model.SeverityHigh, interactions[0].Severity)
	assert.ElementsMatch(t, []string{"Warfarin", "Aspirin"}, interactions[0].Medications)
	assert.NotEmpty(t, interactions[0].Description)
}

func TestRun_ScenarioB_ThreeTaggedClaims(t *testing.T) {
	h := newHarness(sectionedAnswer)
	res := h.pipeline(t).Run(context.Background(), ask("What should I watch for?"))

	require.Len(t, res.Claims, 3)
	assert.Equal(t, model.TagRiskAssessment, res.Claims[0].Tag)
	assert.Equal(t, model.TagMonitoringAdvice, res.Claims[1].Tag)
	assert.Equal(t, model.TagWarningSign, res.Claims[2].Tag)
	assert.NotEqual(t, model.StatusDegraded, res.Status)
	for _, c := range res.Claims {
		assert.NotEqual(t, model.VerdictUnchecked, c.Verdict.Status)
	}
}

func TestRun_ScenarioC_NoHeadersDegrades(t *testing.T) {
	h := newHarness("Keep taking your medicine.\nDrink plenty of water.")
	res := h.pipeline(t).Run(context.Background(), ask("Any advice?"))

	assert.Equal(t, model.StatusDegraded, res.Status)
	require.Len(t, res.Claims, 2)
	for _, c := range res.Claims {
		assert.Equal(t, model.TagUntagged, c.Tag)
	}
}

func TestRun_ScenarioD_GenerationTimesOut(t *testing.T) {
	h := newHarness("")
	h.cfg.LLM.Timeout = 20 * time.Millisecond
	h.gen = &fakeGenerator{generate: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}

	res := h.pipeline(t).Run(context.Background(), ask("Is my dose right?"))

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageGenerating, res.FailedStage)
	assert.Empty(t, res.Answer)
	assert.Empty(t, res.Claims)
	assert.Contains(t, res.Error, "timed out")
	assert.Equal(t, int32(2), h.gen.calls.Load())
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, h.sleeps)
	assert.Equal(t, StageFailed, res.Stages[len(res.Stages)-1])
}

func TestRun_GenerationRecoversOnRetry(t *testing.T) {
	h := newHarness("")
	var n atomic.Int32
	h.gen = &fakeGenerator{generate: func(context.Context, string) (string, error) {
		if n.Add(1) == 1 {
			return "", llm.ErrGeneration
		}
		return sectionedAnswer, nil
	}}

	res := h.pipeline(t).Run(context.Background(), ask("Is my dose right?"))

	assert.Equal(t, model.StatusOK, res.Status)
	assert.Equal(t, int32(2), h.gen.calls.Load())
}

func TestRun_SafetyFailsClosed(t *testing.T) {
	h := newHarness(sectionedAnswer)
	h.gate = safety.NewGate(nil)

	res := h.pipeline(t).Run(context.Background(), ask("Can I exercise?"))

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageGating, res.FailedStage)
	assert.Empty(t, res.Answer)
	assert.Contains(t, res.Error, safety.ErrReferenceUnavailable.Error())
}

func TestRun_RedFlagWithImmediateCare(t *testing.T) {
	withCare := `## Risk Assessment
Your blood pressure is controlled.
## Monitoring Advice
Check it daily.
## Emergency Warning Signs
Chest pain needs urgent help, so call 911 right away.`

	h := newHarness(withCare)
	res := h.pipeline(t).Run(context.Background(), ask("When is it an emergency?"))
	assert.Equal(t, model.StatusOK, res.Status)
	require.NotEmpty(t, res.Findings)
	assert.Equal(t, model.FindingRedFlag, res.Findings[0].Kind)

	withoutCare := strings.Replace(withCare, ", so call 911 right away", "", 1)
	h = newHarness(withoutCare)
	res = h.pipeline(t).Run(context.Background(), ask("When is it an emergency?"))
	assert.Equal(t, model.StatusRefused, res.Status)
}

func TestRun_InvalidInput(t *testing.T) {
	h := newHarness(sectionedAnswer)
	p := h.pipeline(t)

	for _, req := range []model.Request{
		{PatientID: "p-001", Question: "   "},
		{PatientID: "", Question: "Can I run?"},
	} {
		res := p.Run(context.Background(), req)
		assert.Equal(t, model.StatusFailed, res.Status)
		assert.Equal(t, StageValidating, res.FailedStage)
		assert.Contains(t, res.Error, ErrInvalidInput.Error())
	}
	assert.Equal(t, int32(0), h.profiles.calls.Load())
}

func TestRun_PatientNotFoundIsNotRetried(t *testing.T) {
	h := newHarness(sectionedAnswer)
	h.profiles.errs = []error{connector.ErrNotFound, connector.ErrNotFound}

	res := h.pipeline(t).Run(context.Background(), ask("Hello?"))

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageFetching, res.FailedStage)
	assert.Equal(t, model.ErrorNotFound, res.ErrorKind)
	assert.Equal(t, int32(1), h.profiles.calls.Load())
	assert.Equal(t, int32(0), h.gen.calls.Load())
}

func TestRun_UnknownPatientRejectedBeforeFetching(t *testing.T) {
	h := newHarness(sectionedAnswer)
	roster := &fakeRoster{known: map[string]bool{"p-001": true}}
	h.patients = roster

	res := h.pipeline(t).Run(context.Background(), model.Request{PatientID: "nobody", Question: "Hello?"})

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageValidating, res.FailedStage)
	assert.Equal(t, model.ErrorNotFound, res.ErrorKind)
	assert.Contains(t, res.Error, "patient not found")
	assert.Equal(t, []string{StageValidating, StageFailed}, res.Stages)
	assert.Equal(t, int32(1), roster.calls.Load())
	assert.Equal(t, int32(0), h.profiles.calls.Load())

	res = h.pipeline(t).Run(context.Background(), ask("Hello?"))
	assert.Equal(t, model.StatusOK, res.Status)
	assert.Empty(t, res.ErrorKind)
}

func TestRun_PatientCheckOutage(t *testing.T) {
	h := newHarness(sectionedAnswer)
	outage := errors.New("connection refused")
	roster := &fakeRoster{errs: []error{outage, outage}}
	h.patients = roster

	res := h.pipeline(t).Run(context.Background(), ask("Hello?"))

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageValidating, res.FailedStage)
	assert.Equal(t, model.ErrorUpstream, res.ErrorKind)
	assert.Contains(t, res.Error, "connection refused")
	assert.Equal(t, int32(2), roster.calls.Load())
	assert.Equal(t, int32(0), h.profiles.calls.Load())
}

func TestRun_ConnectorRetry(t *testing.T) {
	h := newHarness(sectionedAnswer)
	h.profiles.errs = []error{errors.New("connection reset")}

	res := h.pipeline(t).Run(context.Background(), ask("Hello?"))

	assert.Equal(t, model.StatusOK, res.Status)
	assert.Equal(t, int32(2), h.profiles.calls.Load())
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, h.sleeps)
}

func TestRun_VectorFailure(t *testing.T) {
	h := newHarness(sectionedAnswer)
	h.passages.err = errors.New("weaviate unavailable")

	res := h.pipeline(t).Run(context.Background(), ask("Hello?"))

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageFetching, res.FailedStage)
	assert.Contains(t, res.Error, "weaviate unavailable")
}

func TestRun_EmptyEvidence(t *testing.T) {
	h := newHarness(sectionedAnswer)
	h.profiles.profile = model.PatientProfile{}
	h.passages.passages = nil

	res := h.pipeline(t).Run(context.Background(), ask("Hello?"))

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageFusing, res.FailedStage)
	assert.Equal(t, fuse.ErrEmptyEvidence.Error(), res.Error)
	assert.Equal(t, int32(0), h.gen.calls.Load())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	h := newHarness(sectionedAnswer)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.pipeline(t).Run(ctx, ask("Hello?"))

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageFetching, res.FailedStage)
	assert.Equal(t, int32(0), h.profiles.calls.Load())
}

func TestRun_CancelledDuringGeneration(t *testing.T) {
	h := newHarness("")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.gen = &fakeGenerator{generate: func(context.Context, string) (string, error) {
		cancel()
		return sectionedAnswer, nil
	}}

	res := h.pipeline(t).Run(ctx, ask("Hello?"))

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, StageExtracting, res.FailedStage)
	assert.Empty(t, res.Answer)
}

// cancellingScorer cancels the run while claims are being checked
type cancellingScorer struct{ cancel context.CancelFunc }

func (s cancellingScorer) Score(context.Context, string, string) float64 {
	s.cancel()
	return 0
}

func TestRun_GateCompletesAfterCancellation(t *testing.T) {
	h := newHarness(sectionedAnswer)
	h.profiles.profile.Medications = []model.Medication{{Name: "Warfarin"}, {Name: "Aspirin"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.checker = factcheck.New(h.cfg.FactCheck, cancellingScorer{cancel: cancel})

	res := h.pipeline(t).Run(ctx, ask("Hello?"))

	require.Error(t, ctx.Err())
	assert.Equal(t, model.StatusRefused, res.Status)
	assert.NotEmpty(t, res.Findings)
	assert.Equal(t, StageDone, res.Stages[len(res.Stages)-1])
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(model.DefaultConfig(), Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile fetcher")
	assert.Contains(t, err.Error(), "safety gate")
}

func TestDecideStatus(t *testing.T) {
	high := func(kind model.FindingKind) model.SafetyFinding {
		return model.SafetyFinding{Kind: kind, Severity: model.SeverityHigh}
	}

	tests := []struct {
		name     string
		report   safety.Report
		degraded bool
		want     model.Status
	}{
		{"no findings", safety.Report{}, false, model.StatusOK},
		{"degraded", safety.Report{}, true, model.StatusDegraded},
		{"moderate only", safety.Report{Findings: []model.SafetyFinding{{Kind: model.FindingDrugInteraction, Severity: model.SeverityModerate}}}, false, model.StatusOK},
		{"refused beats degraded", safety.Report{Findings: []model.SafetyFinding{high(model.FindingContraindication)}}, true, model.StatusRefused},
		{"red flag with care", safety.Report{Findings: []model.SafetyFinding{high(model.FindingRedFlag)}, RecommendsImmediateCare: true}, false, model.StatusOK},
		{"red flag without care", safety.Report{Findings: []model.SafetyFinding{high(model.FindingRedFlag)}}, false, model.StatusRefused},
		{"interaction with care", safety.Report{Findings: []model.SafetyFinding{high(model.FindingDrugInteraction)}, RecommendsImmediateCare: true}, false, model.StatusRefused},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decideStatus(tt.report, tt.degraded))
		})
	}
}

func TestRetrier_Backoff(t *testing.T) {
	var sleeps []time.Duration
	r := retrier{
		attempts: 3,
		backoff:  100 * time.Millisecond,
		sleep: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	}

	calls := 0
	err := r.do(context.Background(), StageFetching, "test", func(context.Context) error {
		calls++
		return errors.New("unavailable")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeps)
}
