package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/verdict/internal/decision"
	"github.com/ppiankov/verdict/internal/evidence"
	"github.com/ppiankov/verdict/internal/llm"
	"github.com/ppiankov/verdict/internal/model"
	"github.com/ppiankov/verdict/internal/stage"
)

const (
	claimText      = "Vaccines cause autism in children"
	claimsJSON     = `{"claims":[{"text":"Vaccines cause autism in children","domain":"health","is_explicit":true,"confidence":0.9}]}`
	factualityJSON = `{"assessments":[{"claim_ref":0,"status":"Likely False","confidence":0.8,"reasoning":"contradicted by cohort studies"}]}`
)

func riskJSON(tier string, confidence float64) string {
	return fmt.Sprintf(`{"tier":%q,"confidence":%v,"reasoning":"assessed","potential_harm":"h","estimated_exposure":"e"}`, tier, confidence)
}

// policyJSON lists allowed contexts only for non-violations, since a
// violation with an allowed context decodes as a conflict
func policyJSON(violation string, confidence float64, conflict bool) string {
	contexts := `["satire","opinion","satire"]`
	if violation == "Yes" {
		contexts = `[]`
	}
	return fmt.Sprintf(`{"violation":%q,"violation_type":null,"policy_confidence":%v,"allowed_contexts":%s,"reasoning":"r","conflict_detected":%t}`,
		violation, confidence, contexts, conflict)
}

type countingSource struct {
	next  evidence.Source
	calls atomic.Int64
}

func (s *countingSource) Search(ctx context.Context, query string, topK int) ([]model.EvidenceItem, error) {
	s.calls.Add(1)
	return s.next.Search(ctx, query, topK)
}

type fixture struct {
	claims     *llm.Static
	risk       *llm.Static
	factuality *llm.Static
	policy     *llm.Static
	source     *countingSource
}

func newFixture(risk, policy string) *fixture {
	return &fixture{
		claims:     &llm.Static{Provider: "claims", Output: claimsJSON},
		risk:       &llm.Static{Provider: "risk", Output: risk},
		factuality: &llm.Static{Provider: "frontier", Output: factualityJSON},
		policy:     &llm.Static{Provider: "policy", Output: policy},
		source: &countingSource{next: evidence.NewMemorySource([]evidence.Document{
			{ID: "cdc-1", Text: "Vaccines cause autism in children is a claim refuted by studies", Source: "cdc.gov", Stance: "contradicting"},
		})},
	}
}

func (f *fixture) bindings() Bindings {
	return Bindings{
		Claims:     Binding{Primary: f.claims},
		Risk:       Binding{Primary: f.risk},
		Factuality: Binding{Primary: f.factuality},
		Policy:     Binding{Primary: f.policy},
		Evidence:   f.source,
	}
}

func stagesOf(trace []model.TraceEntry) []model.Stage {
	out := make([]model.Stage, len(trace))
	for i, e := range trace {
		out[i] = e.Stage
	}
	return out
}

func newSequencer(t *testing.T, cfg model.RoutingConfig, b Bindings, opts ...Option) *Sequencer {
	t.Helper()
	s, err := New(cfg, b, opts...)
	require.NoError(t, err)
	return s
}

func TestRun_LowRiskSkipsEvidenceAndFactuality(t *testing.T) {
	f := newFixture(riskJSON("Low", 0.9), policyJSON("No", 0.9, false))
	s := newSequencer(t, model.DefaultRoutingConfig(), f.bindings())

	run, err := s.Run(context.Background(), "I had a nice walk today. "+claimText)
	require.NoError(t, err)

	assert.Equal(t, model.StateDone, run.State)
	require.NotNil(t, run.Decision)
	assert.Equal(t, model.ActionAllow, run.Decision.Action)
	assert.False(t, run.Decision.RequiresHumanReview)

	assert.Zero(t, f.factuality.Calls())
	assert.Zero(t, f.source.calls.Load())
	assert.False(t, run.Evidence.Present())
	assert.False(t, run.Factuality.Present())
	assert.False(t, run.LowConfidencePath)

	assert.Equal(t, []model.Stage{
		model.StageClaimExtraction,
		model.StageRiskAssessment,
		model.StageEvidenceRetrieval,
		model.StageFactualityAssessment,
		model.StagePolicyInterpretation,
		model.StageDecisionEvaluation,
	}, stagesOf(run.Trace))
	assert.Equal(t, model.TraceSkipped, run.Trace[2].Status)
	assert.Equal(t, model.TraceSkipped, run.Trace[3].Status)

	assert.Equal(t, []string{"opinion", "satire"}, run.Policy.AllowedContexts)
	assert.Nil(t, run.Policy.ViolationType)
}

func TestRun_MediumRiskFullPath(t *testing.T) {
	f := newFixture(riskJSON("Medium", 0.8), policyJSON("Yes", 0.65, false))
	s := newSequencer(t, model.DefaultRoutingConfig(), f.bindings())

	run, err := s.Run(context.Background(), claimText)
	require.NoError(t, err)

	assert.Equal(t, model.StateDone, run.State)
	assert.Equal(t, model.ActionLabelDownrank, run.Decision.Action)
	assert.False(t, run.Decision.RequiresHumanReview)

	ev, ok := run.Evidence.Get()
	require.True(t, ok)
	require.Len(t, ev, 1)
	require.NotEmpty(t, ev[0].Items)
	assert.Equal(t, model.StanceContradicting, ev[0].Items[0].Stance)

	fa, ok := run.Factuality.Get()
	require.True(t, ok)
	require.Len(t, fa, 1)
	assert.Equal(t, model.FactualityLikelyFalse, fa[0].Status)
	assert.Equal(t, 1, f.factuality.Calls())
	assert.EqualValues(t, 1, f.source.calls.Load())

	for _, e := range run.Trace {
		assert.NotEqual(t, model.TraceSkipped, e.Status)
	}
	assert.Equal(t, model.RouteFast, run.Risk.Route)
	assert.Equal(t, model.RouteFast, run.Policy.Route)
}

func TestRun_LowConfidenceRiskPath(t *testing.T) {
	f := newFixture(riskJSON("Medium", 0.4), policyJSON("No", 0.9, false))
	s := newSequencer(t, model.DefaultRoutingConfig(), f.bindings())

	run, err := s.Run(context.Background(), claimText)
	require.NoError(t, err)

	assert.True(t, run.LowConfidencePath)
	assert.Zero(t, f.source.calls.Load())
	assert.Zero(t, f.factuality.Calls())
	assert.Equal(t, model.TraceSkipped, run.Trace[2].Status)
	assert.Contains(t, run.Trace[2].Note, "below threshold")

	assert.Equal(t, model.ActionLabelDownrank, run.Decision.Action)
	assert.True(t, run.Decision.RequiresHumanReview)
	assert.Equal(t, []string{decision.ReasonLowRiskConfidence}, run.Decision.EscalationReasons)
}

func TestRun_FallbackOnLowConfidence(t *testing.T) {
	f := newFixture(riskJSON("Low", 0.3), policyJSON("Yes", 0.9, false))
	fallback := &llm.Static{Provider: "frontier-risk", Output: riskJSON("High", 0.9)}
	b := f.bindings()
	b.Risk.Fallback = fallback
	s := newSequencer(t, model.DefaultRoutingConfig(), b)

	run, err := s.Run(context.Background(), claimText)
	require.NoError(t, err)

	assert.Equal(t, 1, f.risk.Calls())
	assert.Equal(t, 1, fallback.Calls())
	assert.Equal(t, model.RiskHigh, run.Risk.Tier)
	assert.Equal(t, model.RouteFallback, run.Risk.Route)
	assert.Equal(t, model.ActionHumanConfirmation, run.Decision.Action)
	assert.True(t, run.Decision.RequiresHumanReview)
}

func TestRun_ConfidentPrimaryNeverCallsFallback(t *testing.T) {
	f := newFixture(riskJSON("Low", 0.95), policyJSON("No", 0.9, false))
	riskFallback := &llm.Static{Provider: "frontier-risk", Output: riskJSON("High", 0.9)}
	policyFallback := &llm.Static{Provider: "frontier-policy", Output: policyJSON("Yes", 0.9, false)}
	b := f.bindings()
	b.Risk.Fallback = riskFallback
	b.Policy.Fallback = policyFallback
	s := newSequencer(t, model.DefaultRoutingConfig(), b)

	run, err := s.Run(context.Background(), claimText)
	require.NoError(t, err)

	assert.Zero(t, riskFallback.Calls())
	assert.Zero(t, policyFallback.Calls())
	assert.Equal(t, model.RouteFast, run.Risk.Route)
	assert.Equal(t, model.RouteFast, run.Policy.Route)
}

func TestRun_PolicyConflictForcesReviewOnAllow(t *testing.T) {
	f := newFixture(riskJSON("Low", 0.9), policyJSON("No", 0.95, true))
	s := newSequencer(t, model.DefaultRoutingConfig(), f.bindings())

	run, err := s.Run(context.Background(), claimText)
	require.NoError(t, err)

	assert.True(t, run.Decision.RequiresHumanReview)
	assert.Equal(t, model.ActionAllow, run.Decision.Action)
	assert.Equal(t, []string{decision.ReasonPolicyConflict}, run.Decision.EscalationReasons)
}

func TestRun_ViolationInAllowedContextForcesReview(t *testing.T) {
	policy := `{"violation":"Yes","violation_type":"health misinformation","policy_confidence":0.9,"allowed_contexts":["satire"],"reasoning":"r","conflict_detected":false}`
	f := newFixture(riskJSON("Medium", 0.8), policy)
	s := newSequencer(t, model.DefaultRoutingConfig(), f.bindings())

	run, err := s.Run(context.Background(), claimText)
	require.NoError(t, err)

	assert.True(t, run.Policy.ConflictDetected)
	assert.Equal(t, model.ActionLabelDownrank, run.Decision.Action)
	assert.True(t, run.Decision.RequiresHumanReview)
	assert.Equal(t, []string{decision.ReasonPolicyConflict}, run.Decision.EscalationReasons)
}

func TestRun_InsufficientEvidenceShortcut(t *testing.T) {
	f := newFixture(riskJSON("High", 0.9), policyJSON("Contextual", 0.9, false))
	f.source = &countingSource{next: evidence.NewMemorySource(nil)}
	s := newSequencer(t, model.DefaultRoutingConfig(), f.bindings())

	run, err := s.Run(context.Background(), claimText)
	require.NoError(t, err)

	assert.Zero(t, f.factuality.Calls())
	fa, ok := run.Factuality.Get()
	require.True(t, ok)
	require.Len(t, fa, 1)
	assert.Equal(t, model.FactualityUncertain, fa[0].Status)
	assert.Zero(t, fa[0].Confidence)

	var heuristic bool
	for _, e := range run.Trace {
		if e.Stage == model.StageFactualityAssessment && e.Provider == "heuristic" {
			heuristic = true
		}
	}
	assert.True(t, heuristic)
}

func TestRun_StageFailureLeavesNoDecision(t *testing.T) {
	f := newFixture(riskJSON("Low", 0.9), "")
	f.policy.Err = errors.New("provider unavailable")
	s := newSequencer(t, model.DefaultRoutingConfig(), f.bindings())

	run, err := s.Run(context.Background(), claimText)
	require.Error(t, err)

	var sf *stage.StageFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, model.StagePolicyInterpretation, sf.Stage)

	require.NotNil(t, run)
	assert.Equal(t, model.StateFailed, run.State)
	assert.Nil(t, run.Decision)
	assert.NotNil(t, run.Risk)
	require.NotEmpty(t, run.Trace)
	last := run.Trace[len(run.Trace)-1]
	assert.Equal(t, model.StagePolicyInterpretation, last.Stage)
	assert.Equal(t, model.TraceFailed, last.Status)
}

func TestRun_ParseFailureUsesFallback(t *testing.T) {
	f := newFixture(riskJSON("Low", 0.9), policyJSON("No", 0.9, false))
	f.claims.Output = "I found some claims but cannot format them"
	fallback := &llm.Static{Provider: "frontier-claims", Output: claimsJSON}
	b := f.bindings()
	b.Claims.Fallback = fallback
	s := newSequencer(t, model.DefaultRoutingConfig(), b)

	run, err := s.Run(context.Background(), claimText)
	require.NoError(t, err)

	require.Len(t, run.Claims, 1)
	assert.Equal(t, 1, fallback.Calls())
	assert.Equal(t, model.TraceFailed, run.Trace[0].Status)
	assert.Equal(t, "frontier-claims", run.Trace[1].Provider)
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(riskJSON("Medium", 0.8), policyJSON("Yes", 0.5, false))
	s := newSequencer(t, model.DefaultRoutingConfig(), f.bindings())

	first, err := s.Run(context.Background(), claimText)
	require.NoError(t, err)
	second, err := s.Run(context.Background(), claimText)
	require.NoError(t, err)

	assert.Equal(t, *first.Decision, *second.Decision)
	require.Len(t, second.Trace, len(first.Trace))
	for i := range first.Trace {
		assert.Equal(t, first.Trace[i].Stage, second.Trace[i].Stage)
		assert.Equal(t, first.Trace[i].Provider, second.Trace[i].Provider)
		assert.Equal(t, first.Trace[i].PromptID, second.Trace[i].PromptID)
	}
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRun_HungAdapterBoundedByTimeout(t *testing.T) {
	cfg := model.DefaultRoutingConfig()
	cfg.StageTimeouts[model.StageClaimExtraction] = 50 * time.Millisecond

	f := newFixture(riskJSON("Low", 0.9), policyJSON("No", 0.9, false))
	hung := &llm.Func{Provider: "hung", Fn: func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	b := f.bindings()
	b.Claims = Binding{Primary: hung, Fallback: f.claims}
	s := newSequencer(t, cfg, b)

	start := time.Now()
	run, err := s.Run(context.Background(), claimText)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, model.StateDone, run.State)
	assert.Equal(t, model.TraceFailed, run.Trace[0].Status)
}

func TestRun_RunDeadline(t *testing.T) {
	f := newFixture(riskJSON("Low", 0.9), policyJSON("No", 0.9, false))
	hung := &llm.Func{Provider: "hung", Fn: func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	b := f.bindings()
	b.Risk = Binding{Primary: hung, Fallback: f.risk}
	s := newSequencer(t, model.DefaultRoutingConfig(), b)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	run, err := s.Run(ctx, claimText)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var sf *stage.StageFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, model.StageRiskAssessment, sf.Stage)
	assert.Equal(t, model.StateFailed, run.State)
	assert.Nil(t, run.Decision)
	assert.Zero(t, f.risk.Calls(), "no fallback after the run deadline")
}

type memoryRecorder struct {
	mu   sync.Mutex
	runs []*model.PipelineRun
	err  error
}

func (r *memoryRecorder) RecordRun(_ context.Context, run *model.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return r.err
}

func TestRun_Recorder(t *testing.T) {
	f := newFixture(riskJSON("Low", 0.9), policyJSON("No", 0.9, false))
	rec := &memoryRecorder{err: errors.New("disk full")}
	b := f.bindings()
	b.Recorder = rec
	s := newSequencer(t, model.DefaultRoutingConfig(), b)

	run, err := s.Run(context.Background(), claimText)
	require.NoError(t, err, "recorder errors never fail the run")
	require.Len(t, rec.runs, 1)
	assert.Equal(t, run.ID, rec.runs[0].ID)

	f.policy.Err = errors.New("down")
	_, err = s.Run(context.Background(), claimText)
	require.Error(t, err)
	assert.Len(t, rec.runs, 1, "failed runs are not recorded")
}

func TestRun_PolicyTextReachesPrompt(t *testing.T) {
	f := newFixture(riskJSON("Low", 0.9), "")
	var payload string
	policy := &llm.Func{Provider: "policy", Fn: func(_ context.Context, req llm.Request) (*llm.Response, error) {
		payload = req.Payload
		return &llm.Response{Output: policyJSON("No", 0.9, false)}, nil
	}}
	b := f.bindings()
	b.Policy = Binding{Primary: policy}
	s := newSequencer(t, model.DefaultRoutingConfig(), b, WithPolicyText("No talking about llamas."))

	_, err := s.Run(context.Background(), claimText)
	require.NoError(t, err)
	assert.Contains(t, payload, "No talking about llamas.")
	assert.Contains(t, payload, claimText)
	assert.Contains(t, payload, "Not assessed")
}

func TestNew_ConfigurationErrors(t *testing.T) {
	f := newFixture(riskJSON("Low", 0.9), policyJSON("No", 0.9, false))

	tests := []struct {
		name  string
		cfg   func() model.RoutingConfig
		bind  func() Bindings
		field string
	}{
		{
			name: "threshold out of range",
			cfg: func() model.RoutingConfig {
				c := model.DefaultRoutingConfig()
				c.PolicyConfidenceThreshold = 1.5
				return c
			},
			bind:  f.bindings,
			field: "policy_confidence_threshold",
		},
		{
			name: "missing primary adapter",
			cfg:  model.DefaultRoutingConfig,
			bind: func() Bindings {
				b := f.bindings()
				b.Factuality.Primary = nil
				return b
			},
			field: "bindings.factuality_assessment",
		},
		{
			name: "external search without source",
			cfg: func() model.RoutingConfig {
				c := model.DefaultRoutingConfig()
				c.ExternalSearchAllowed = true
				return c
			},
			bind:  f.bindings,
			field: "external_search_allowed",
		},
		{
			name: "missing evidence source",
			cfg:  model.DefaultRoutingConfig,
			bind: func() Bindings {
				b := f.bindings()
				b.Evidence = nil
				return b
			},
			field: "evidence.source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg(), tt.bind())
			var cfgErr *model.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	assert.Zero(t, f.claims.Calls())
}
