package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/medfuse/internal/connector"
	"github.com/ppiankov/medfuse/internal/extract"
	"github.com/ppiankov/medfuse/internal/factcheck"
	"github.com/ppiankov/medfuse/internal/fuse"
	"github.com/ppiankov/medfuse/internal/llm"
	"github.com/ppiankov/medfuse/internal/model"
	"github.com/ppiankov/medfuse/internal/prompt"
	"github.com/ppiankov/medfuse/internal/safety"
	"github.com/ppiankov/medfuse/internal/telemetry"
	"github.com/ppiankov/medfuse/internal/worker"
)

// Deps are the collaborators a pipeline calls. Profiles, Passages, Embedder,
// Generator and Gate are required.
type Deps struct {
	Profiles  connector.ProfileFetcher
	Passages  connector.PassageSearcher
	Embedder  llm.Embedder
	Generator llm.Generator
	Gate      *safety.Gate

	// Patients confirms the patient exists before fetching. Defaults to
	// Profiles when it implements connector.PatientChecker.
	Patients connector.PatientChecker

	Checker *factcheck.Checker // Built from config when nil
	Limiter *worker.Limiter    // Optional outbound throttling
	Metrics *telemetry.Metrics // Optional
	Sleep   SleepFunc          // Retry backoff; real sleep when nil
}

// Pipeline answers one question about one patient per Run. It holds no
// per-run state and is safe for concurrent use.
type Pipeline struct {
	cfg       model.Config
	deps      Deps
	checker   *factcheck.Checker
	extractor *extract.ClaimExtractor
	validate  *validator.Validate
	retry     retrier
}

// New creates a pipeline. The configuration is copied.
func New(cfg *model.Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}

	var missing []string
	if deps.Profiles == nil {
		missing = append(missing, "profile fetcher")
	}
	if deps.Passages == nil {
		missing = append(missing, "passage searcher")
	}
	if deps.Embedder == nil {
		missing = append(missing, "embedder")
	}
	if deps.Generator == nil {
		missing = append(missing, "generator")
	}
	if deps.Gate == nil {
		missing = append(missing, "safety gate")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing %s", strings.Join(missing, ", "))
	}

	if deps.Patients == nil {
		if pc, ok := deps.Profiles.(connector.PatientChecker); ok {
			deps.Patients = pc
		}
	}

	checker := deps.Checker
	if checker == nil {
		checker = factcheck.New(cfg.FactCheck, factcheck.NewScorer(cfg.FactCheck.Metric, deps.Embedder))
	}

	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Pipeline{
		cfg:       *cfg,
		deps:      deps,
		checker:   checker,
		extractor: extract.NewClaimExtractor(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		retry: retrier{
			attempts: cfg.Retry.MaxAttempts,
			backoff:  cfg.Retry.Backoff,
			sleep:    sleep,
			onRetry:  deps.Metrics.IncRetry,
		},
	}, nil
}

// run tracks one request through the state machine
type run struct {
	result     *model.PipelineResult
	stage      string
	stageStart time.Time
	metrics    *telemetry.Metrics
	log        *slog.Logger
}

// enter moves the run forward to stage
func (r *run) enter(stage string) {
	now := time.Now()
	if r.stage != "" {
		d := now.Sub(r.stageStart)
		r.metrics.ObserveStage(r.stage, d)
		r.log.Debug("stage complete", "stage", r.stage, "duration", d)
	}
	r.stage = stage
	r.stageStart = now
	r.result.Stages = append(r.result.Stages, stage)
}

// Run executes one request. It always returns a result; failures are
// reported through Status, FailedStage and Error.
func (p *Pipeline) Run(ctx context.Context, req model.Request) *model.PipelineResult {
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.Question = strings.TrimSpace(req.Question)

	res := &model.PipelineResult{
		RunID:     uuid.NewString(),
		PatientID: req.PatientID,
		Question:  req.Question,
		Claims:    []model.Claim{},
		Findings:  []model.SafetyFinding{},
		Stages:    []string{},
		StartedAt: time.Now().UTC(),
	}
	r := &run{
		result:  res,
		metrics: p.deps.Metrics,
		log:     slog.With("run_id", res.RunID, "patient_id", req.PatientID),
	}

	if err := p.execute(ctx, r, req); err != nil {
		var se *StageError
		if !errors.As(err, &se) {
			se = &StageError{Stage: r.stage, Err: err}
		}
		res.Answer = ""
		res.Status = model.StatusFailed
		res.FailedStage = se.Stage
		res.Error = se.Err.Error()
		res.ErrorKind = errorKind(se)
		r.enter(StageFailed)
		r.log.Error("run failed", "stage", se.Stage, "error", se.Err)
	} else {
		r.enter(StageDone)
		r.log.Info("run complete",
			"status", res.Status,
			"claims", len(res.Claims),
			"findings", len(res.Findings))
	}

	res.Duration = time.Since(res.StartedAt)
	p.deps.Metrics.RecordResult(res)
	return res
}

// step enters stage and aborts if the caller has gone away
func (p *Pipeline) step(ctx context.Context, r *run, stage string) error {
	r.enter(stage)
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

func (p *Pipeline) execute(ctx context.Context, r *run, req model.Request) error {
	r.enter(StageValidating)
	if err := p.validate.Struct(req); err != nil {
		return &StageError{Stage: StageValidating, Err: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
	}
	if err := p.checkPatient(ctx, req.PatientID); err != nil {
		return &StageError{Stage: StageValidating, Err: err}
	}

	// Fetching
	if err := p.step(ctx, r, StageFetching); err != nil {
		return err
	}
	profile, passages, err := p.fetch(ctx, req)
	if err != nil {
		return &StageError{Stage: StageFetching, Err: err}
	}

	// Fusing
	if err := p.step(ctx, r, StageFusing); err != nil {
		return err
	}
	bundle, err := fuse.Fuse(profile, passages)
	if err != nil {
		return &StageError{Stage: StageFusing, Err: err}
	}
	stats := fuse.Summarize(bundle)
	r.log.Debug("evidence fused", "patient_facts", stats.PatientFacts, "passages", stats.Passages)

	// Prompting
	if err := p.step(ctx, r, StagePrompting); err != nil {
		return err
	}
	pr, err := prompt.Build(req.Question, bundle, p.cfg.Prompt.MaxChars)
	if err != nil {
		return &StageError{Stage: StagePrompting, Err: err}
	}
	if pr.Dropped > 0 {
		r.log.Info("evidence truncated to fit prompt", "included", len(pr.Included), "dropped", pr.Dropped)
	}

	// Generating
	if err := p.step(ctx, r, StageGenerating); err != nil {
		return err
	}
	answer, err := p.generate(ctx, pr.Text)
	if err != nil {
		return &StageError{Stage: StageGenerating, Err: err}
	}

	// Extracting
	if err := p.step(ctx, r, StageExtracting); err != nil {
		return err
	}
	extraction := p.extractor.Extract(answer)
	if extraction.Degraded {
		r.log.Warn("answer did not follow the section format", "claims", len(extraction.Claims))
	}

	// Checking
	if err := p.step(ctx, r, StageChecking); err != nil {
		return err
	}
	spanCtx, span := telemetry.StartSpan(ctx, StageChecking, attribute.Int("claims", len(extraction.Claims)))
	claims := p.checker.CheckAll(spanCtx, extraction.Claims, bundle)
	telemetry.EndSpan(span, nil)

	// Gating runs to completion even if ctx is cancelled from here on
	r.enter(StageGating)
	_, span = telemetry.StartSpan(context.WithoutCancel(ctx), StageGating)
	report, err := p.deps.Gate.Evaluate(profile, claims, answer)
	telemetry.EndSpan(span, err)
	if err != nil {
		return &StageError{Stage: StageGating, Err: err}
	}

	r.result.Answer = answer
	r.result.Claims = claims
	if report.Findings != nil {
		r.result.Findings = report.Findings
	}
	r.result.Status = decideStatus(report, extraction.Degraded)
	return nil
}

// checkPatient rejects unknown patient ids before any evidence is fetched
func (p *Pipeline) checkPatient(ctx context.Context, patientID string) error {
	if p.deps.Patients == nil {
		return nil
	}

	var found bool
	err := p.retry.do(ctx, StageValidating, "patient", func(ctx context.Context) error {
		if err := p.deps.Limiter.Wait(ctx, worker.ServiceGraph); err != nil {
			return err
		}
		var err error
		found, err = p.deps.Patients.PatientExists(ctx, patientID)
		return err
	})
	if err != nil {
		return fmt.Errorf("check patient: %w", err)
	}
	if !found {
		return fmt.Errorf("%w: %w: %s", ErrInvalidInput, connector.ErrNotFound, patientID)
	}
	return nil
}

// fetch loads the profile and the research passages concurrently
func (p *Pipeline) fetch(ctx context.Context, req model.Request) (model.PatientProfile, []model.ResearchPassage, error) {
	ctx, span := telemetry.StartSpan(ctx, StageFetching, attribute.String("patient_id", req.PatientID))

	var (
		profile  model.PatientProfile
		passages []model.ResearchPassage
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.retry.do(gctx, StageFetching, "profile", func(ctx context.Context) error {
			if err := p.deps.Limiter.Wait(ctx, worker.ServiceGraph); err != nil {
				return err
			}
			var err error
			profile, err = p.deps.Profiles.FetchPatientProfile(ctx, req.PatientID)
			return err
		})
	})

	g.Go(func() error {
		var vec []float32
		err := p.retry.do(gctx, StageFetching, "embed", func(ctx context.Context) error {
			if err := p.deps.Limiter.Wait(ctx, worker.ServiceEmbed); err != nil {
				return err
			}
			var err error
			vec, err = p.deps.Embedder.Embed(ctx, req.Question)
			return err
		})
		if err != nil {
			return fmt.Errorf("embed question: %w", err)
		}

		return p.retry.do(gctx, StageFetching, "passages", func(ctx context.Context) error {
			if err := p.deps.Limiter.Wait(ctx, worker.ServiceVector); err != nil {
				return err
			}
			var err error
			passages, err = p.deps.Passages.SearchResearchPassages(ctx, vec, p.cfg.Vector.TopK)
			return err
		})
	})

	err := g.Wait()
	telemetry.EndSpan(span, err)
	if err != nil {
		return model.PatientProfile{}, nil, err
	}
	return profile, passages, nil
}

// generate calls the model with a per-attempt deadline
func (p *Pipeline) generate(ctx context.Context, text string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, StageGenerating, attribute.String("provider", p.deps.Generator.Name()))

	opts := llm.Options{
		MaxTokens:   p.cfg.LLM.MaxTokens,
		Temperature: p.cfg.LLM.Temperature,
		Timeout:     p.cfg.LLM.Timeout,
	}

	var answer string
	err := p.retry.do(ctx, StageGenerating, p.deps.Generator.Name(), func(ctx context.Context) error {
		if err := p.deps.Limiter.Wait(ctx, worker.ServiceLLM); err != nil {
			return err
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if opts.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		}
		defer cancel()

		out, err := p.deps.Generator.Generate(attemptCtx, text, opts)
		if err != nil {
			if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, llm.ErrTimeout) {
				err = fmt.Errorf("%w: %w", llm.ErrTimeout, err)
			}
			return err
		}
		if strings.TrimSpace(out) == "" {
			return fmt.Errorf("%w: empty answer", llm.ErrGeneration)
		}
		answer = out
		return nil
	})

	telemetry.EndSpan(span, err)
	return answer, err
}

// errorKind classifies a failure for callers that map it to a response.
// An unknown patient is reported as not found wherever it is detected.
func errorKind(se *StageError) model.ErrorKind {
	switch {
	case errors.Is(se.Err, connector.ErrNotFound):
		return model.ErrorNotFound
	case errors.Is(se.Err, ErrInvalidInput):
		return model.ErrorInvalidInput
	}
	switch se.Stage {
	case StageValidating, StageFetching, StageGenerating:
		return model.ErrorUpstream
	default:
		return model.ErrorInternal
	}
}

// decideStatus applies the escalation policy. A high-severity finding refuses
// the run unless it is a red flag and the answer already sends the patient to
// immediate care; interactions and contraindications always refuse. Refused
// outranks degraded.
func decideStatus(report safety.Report, degraded bool) model.Status {
	for _, f := range report.Findings {
		if f.Severity != model.SeverityHigh {
			continue
		}
		if f.Kind == model.FindingRedFlag && report.RecommendsImmediateCare {
			continue
		}
		return model.StatusRefused
	}
	if degraded {
		return model.StatusDegraded
	}
	return model.StatusOK
}
