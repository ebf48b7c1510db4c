package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ppiankov/verdict/internal/decision"
	"github.com/ppiankov/verdict/internal/evidence"
	"github.com/ppiankov/verdict/internal/llm"
	"github.com/ppiankov/verdict/internal/logging"
	"github.com/ppiankov/verdict/internal/metrics"
	"github.com/ppiankov/verdict/internal/model"
	"github.com/ppiankov/verdict/internal/stage"
)

var tracer = otel.Tracer("verdict/pipeline")

// Binding is the adapter pair of one model-backed stage
type Binding struct {
	Primary  llm.Adapter
	Fallback llm.Adapter // optional
}

// Bindings are the concrete collaborators a Sequencer runs against.
// They are resolved once at startup.
type Bindings struct {
	Claims     Binding
	Risk       Binding
	Factuality Binding
	Policy     Binding

	Evidence evidence.Source
	External evidence.ExternalSource // required when external search is allowed

	Recorder Recorder // optional
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Recorder persists completed runs for governance and review
type Recorder interface {
	RecordRun(ctx context.Context, run *model.PipelineRun) error
}

// Option configures a Sequencer
type Option func(*options)

type options struct {
	prompts map[model.Stage]PromptTemplate
	policy  string
}

// WithPromptOverrides replaces built-in stage prompts
func WithPromptOverrides(overrides map[model.Stage]PromptTemplate) Option {
	return func(o *options) { o.prompts = overrides }
}

// WithPolicyText sets the platform policy the policy stage interprets
func WithPolicyText(policy string) Option {
	return func(o *options) { o.policy = policy }
}

// Sequencer drives one transcript through every stage. It holds only
// read-only configuration and is safe for concurrent Run calls.
type Sequencer struct {
	cfg      model.RoutingConfig
	bind     Bindings
	prompts  *Prompts
	policy   string
	executor *stage.Executor
	router   *evidence.Router
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// New validates cfg and bindings and builds a Sequencer. It returns a
// *model.ConfigurationError before any stage could run.
func New(cfg model.RoutingConfig, bind Bindings, opts ...Option) (*Sequencer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	required := []struct {
		stage   model.Stage
		adapter llm.Adapter
	}{
		{model.StageClaimExtraction, bind.Claims.Primary},
		{model.StageRiskAssessment, bind.Risk.Primary},
		{model.StageFactualityAssessment, bind.Factuality.Primary},
		{model.StagePolicyInterpretation, bind.Policy.Primary},
	}
	for _, r := range required {
		if r.adapter == nil {
			return nil, &model.ConfigurationError{Field: "bindings." + string(r.stage), Reason: "no primary adapter bound"}
		}
	}

	o := options{policy: DefaultPolicy}
	for _, opt := range opts {
		opt(&o)
	}

	prompts, err := NewPrompts(o.prompts)
	if err != nil {
		return nil, err
	}

	log := logging.OrNop(bind.Logger)
	router, err := evidence.NewRouter(cfg, bind.Evidence, bind.External,
		evidence.WithLogger(log), evidence.WithMetrics(bind.Metrics))
	if err != nil {
		return nil, err
	}

	return &Sequencer{
		cfg:      cfg,
		bind:     bind,
		prompts:  prompts,
		policy:   o.policy,
		executor: stage.NewExecutor(log, bind.Metrics),
		router:   router,
		log:      log,
		metrics:  bind.Metrics,
	}, nil
}

// Run analyzes one transcript. On failure the partially filled run is
// returned with State Failed, no Decision, and a *stage.StageFailure.
func (s *Sequencer) Run(ctx context.Context, transcript string) (*model.PipelineRun, error) {
	start := time.Now()
	run := &model.PipelineRun{
		ID:         uuid.NewString(),
		Transcript: transcript,
		State:      model.StateStart,
		StartedAt:  start.UTC(),
	}

	ctx, span := tracer.Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("run_id", run.ID))
	defer span.End()

	log := s.log.With(zap.String("run_id", run.ID))

	if err := s.run(ctx, run); err != nil {
		failedAt := run.State
		run.State = model.StateFailed
		run.Decision = nil
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("pipeline run failed", zap.String("state", string(failedAt)), zap.Error(err))
		return run, err
	}

	run.State = model.StateDone
	s.metrics.ObserveRun(time.Since(start))
	s.metrics.IncrementDecision(string(run.Decision.Action))
	for _, reason := range run.Decision.EscalationReasons {
		s.metrics.IncrementEscalation(reason)
	}
	span.SetAttributes(
		attribute.String("action", string(run.Decision.Action)),
		attribute.Bool("requires_human_review", run.Decision.RequiresHumanReview),
	)
	log.Debug("pipeline run completed",
		zap.String("action", string(run.Decision.Action)),
		zap.Bool("requires_human_review", run.Decision.RequiresHumanReview),
		zap.Duration("elapsed", time.Since(start)))

	if s.bind.Recorder != nil {
		if err := s.bind.Recorder.RecordRun(ctx, run); err != nil {
			log.Error("failed to record run", zap.Error(err))
		}
	}
	return run, nil
}

func (s *Sequencer) run(ctx context.Context, run *model.PipelineRun) error {
	in := promptInput{Transcript: run.Transcript, Policy: s.policy}

	// Claims
	run.State = model.StateClaimExtraction
	res, err := s.execute(ctx, run, model.StageClaimExtraction, s.bind.Claims, s.cfg.ClaimConfidenceThreshold, in, decodeClaims)
	if err != nil {
		return err
	}
	run.Claims = res.Output.([]model.Claim)
	in.Claims = run.Claims

	// Risk
	run.State = model.StateRiskAssessment
	res, err = s.execute(ctx, run, model.StageRiskAssessment, s.bind.Risk, s.cfg.RiskConfidenceThreshold, in, decodeRisk)
	if err != nil {
		return err
	}
	risk := res.Output.(model.RiskAssessment)
	risk.Route = res.Route
	run.Risk = &risk
	in.Risk = risk

	// Evidence and factuality, gated on the transcript-level risk
	switch {
	case !risk.Tier.Elevated():
		s.skip(run, fmt.Sprintf("risk tier %s", risk.Tier))
	case risk.Confidence < s.cfg.RiskConfidenceThreshold:
		run.LowConfidencePath = true
		s.skip(run, fmt.Sprintf("risk confidence %.2f below threshold %.2f", risk.Confidence, s.cfg.RiskConfidenceThreshold))
	default:
		if err := s.deepAnalysis(ctx, run, &in); err != nil {
			return err
		}
	}

	// Policy
	run.State = model.StatePolicyInterpretation
	res, err = s.execute(ctx, run, model.StagePolicyInterpretation, s.bind.Policy, s.cfg.PolicyConfidenceThreshold, in, decodePolicy)
	if err != nil {
		return err
	}
	policy := res.Output.(model.PolicyInterpretation)
	policy.Route = res.Route
	run.Policy = &policy

	// Decision
	run.State = model.StateDecisionEvaluation
	if err := ctx.Err(); err != nil {
		return &stage.StageFailure{Stage: model.StageDecisionEvaluation, Cause: err}
	}
	d := decision.Evaluate(risk.Tier, policy.Confidence, decision.ThresholdsFrom(s.cfg))
	d = decision.Gate(d, decision.GateInput{
		Claims:   run.Claims,
		Risk:     risk,
		Policy:   policy,
		Evidence: run.Evidence.OrZero(),
	}, decision.GateThresholdsFrom(s.cfg))
	run.Decision = &d
	run.Trace = append(run.Trace, model.TraceEntry{
		Stage:      model.StageDecisionEvaluation,
		Provider:   "matrix",
		Confidence: policy.Confidence,
		Status:     model.TraceCompleted,
		Note:       string(d.Action),
	})
	return nil
}

func (s *Sequencer) deepAnalysis(ctx context.Context, run *model.PipelineRun, in *promptInput) error {
	run.State = model.StateEvidenceRetrieval
	if err := ctx.Err(); err != nil {
		return &stage.StageFailure{Stage: model.StageEvidenceRetrieval, Cause: err}
	}

	start := time.Now()
	found, err := s.router.RetrieveAll(ctx, run.Claims, run.Risk.Tier)
	entry := model.TraceEntry{
		Stage:    model.StageEvidenceRetrieval,
		Provider: "evidence-router",
		Route:    model.RouteFast,
		Duration: time.Since(start),
		Status:   model.TraceCompleted,
	}
	if err != nil {
		entry.Status = model.TraceFailed
		entry.Note = err.Error()
		run.Trace = append(run.Trace, entry)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &stage.StageFailure{Stage: model.StageEvidenceRetrieval, Cause: err}
	}

	var external, items int
	for _, ce := range found {
		items += len(ce.Items)
		if ce.ExternalQueried {
			external++
		}
	}
	if external > 0 {
		entry.Route = model.RouteFallback
	}
	entry.Note = fmt.Sprintf("%d items for %d claims, external search for %d", items, len(found), external)
	run.Trace = append(run.Trace, entry)
	s.metrics.IncrementRoute(string(model.StageEvidenceRetrieval), string(entry.Route))

	run.Evidence = model.Some(found)
	in.Evidence = found

	run.State = model.StateFactualityAssessment
	if !model.HasItems(found) {
		run.Factuality = model.Some(insufficientEvidence(run.Claims))
		run.Trace = append(run.Trace, model.TraceEntry{
			Stage:    model.StageFactualityAssessment,
			Provider: "heuristic",
			Route:    model.RouteFast,
			Status:   model.TraceCompleted,
			Note:     "insufficient evidence",
		})
		in.Factuality = run.Factuality.OrZero()
		return nil
	}

	res, err := s.execute(ctx, run, model.StageFactualityAssessment, s.bind.Factuality, 0, *in, factualityDecoder(run.Claims))
	if err != nil {
		return err
	}
	run.Factuality = model.Some(res.Output.([]model.FactualityAssessment))
	in.Factuality = run.Factuality.OrZero()
	return nil
}

// execute renders the stage prompt and runs it through the executor,
// appending every attempt to the run trace
func (s *Sequencer) execute(ctx context.Context, run *model.PipelineRun, st model.Stage, b Binding, threshold float64, in promptInput, decode stage.Decoder) (stage.Result, error) {
	if err := ctx.Err(); err != nil {
		return stage.Result{}, &stage.StageFailure{Stage: st, Cause: err}
	}

	system, payload, err := s.prompts.render(st, in)
	if err != nil {
		return stage.Result{}, &stage.StageFailure{Stage: st, Cause: err}
	}

	res, err := s.executor.Execute(ctx, stage.Spec{
		Stage:           st,
		System:          system,
		Payload:         payload,
		Primary:         b.Primary,
		Fallback:        b.Fallback,
		Threshold:       threshold,
		Timeout:         s.cfg.Timeout(st),
		FallbackTimeout: s.cfg.FallbackTimeout(st),
		Decode:          decode,
	})
	run.Trace = append(run.Trace, res.Trace...)
	return res, err
}

// skip records that evidence and factuality did not run
func (s *Sequencer) skip(run *model.PipelineRun, reason string) {
	for _, st := range []model.Stage{model.StageEvidenceRetrieval, model.StageFactualityAssessment} {
		run.Trace = append(run.Trace, model.TraceEntry{
			Stage:  st,
			Status: model.TraceSkipped,
			Note:   reason,
		})
	}
}
