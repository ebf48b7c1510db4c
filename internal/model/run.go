package model

import "time"

// Stage identifies one pipeline step
type Stage string

const (
	StageClaimExtraction      Stage = "claim_extraction"
	StageRiskAssessment       Stage = "risk_assessment"
	StageEvidenceRetrieval    Stage = "evidence_retrieval"
	StageFactualityAssessment Stage = "factuality_assessment"
	StagePolicyInterpretation Stage = "policy_interpretation"
	StageDecisionEvaluation   Stage = "decision_evaluation"
)

// Stages lists every stage in traversal order
var Stages = []Stage{
	StageClaimExtraction,
	StageRiskAssessment,
	StageEvidenceRetrieval,
	StageFactualityAssessment,
	StagePolicyInterpretation,
	StageDecisionEvaluation,
}

// RunState is the sequencer state of a PipelineRun
type RunState string

const (
	StateStart                RunState = "Start"
	StateClaimExtraction      RunState = "ClaimExtraction"
	StateRiskAssessment       RunState = "RiskAssessment"
	StateEvidenceRetrieval    RunState = "EvidenceRetrieval"
	StateFactualityAssessment RunState = "FactualityAssessment"
	StatePolicyInterpretation RunState = "PolicyInterpretation"
	StateDecisionEvaluation   RunState = "DecisionEvaluation"
	StateDone                 RunState = "Done"
	StateFailed               RunState = "Failed"
)

// Terminal reports whether the state ends a run
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Action is the moderation action of a Decision
type Action string

const (
	ActionAllow             Action = "Allow"
	ActionLabelDownrank     Action = "LabelDownrank"
	ActionEscalateHuman     Action = "EscalateHuman"
	ActionHumanConfirmation Action = "HumanConfirmation"
)

// Decision is the terminal artifact of a completed run
type Decision struct {
	Action              Action   `json:"action"`
	Rationale           string   `json:"rationale"`
	RequiresHumanReview bool     `json:"requires_human_review"`
	EscalationReasons   []string `json:"escalation_reasons,omitempty"` // Gate triggers, in check order
}

// TraceStatus is the outcome of a single traced stage attempt
type TraceStatus string

const (
	TraceCompleted TraceStatus = "completed"
	TraceSkipped   TraceStatus = "skipped"
	TraceFailed    TraceStatus = "failed"
)

// TraceEntry records one provider attempt (or skip) for audit
type TraceEntry struct {
	Stage      Stage         `json:"stage"`
	Provider   string        `json:"provider,omitempty"`
	Route      Route         `json:"route_used,omitempty"`
	Confidence float64       `json:"confidence"`
	Duration   time.Duration `json:"duration_ns"`
	PromptID   string        `json:"prompt_id,omitempty"`
	Status     TraceStatus   `json:"status"`
	Note       string        `json:"note,omitempty"` // Skip reason or error text
}

// Optional holds a cross-stage value that only some runs produce
type Optional[T any] struct {
	value T
	set   bool
}

// Some wraps a present value
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// Get returns the value and whether it is present
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// Present reports whether the value was produced
func (o Optional[T]) Present() bool {
	return o.set
}

// OrZero returns the value, or the zero value when absent
func (o Optional[T]) OrZero() T {
	return o.value
}

// PipelineRun aggregates everything produced for one transcript.
// A Decision is set if and only if State is StateDone.
type PipelineRun struct {
	ID                string                           `json:"id"`
	Transcript        string                           `json:"transcript"`
	State             RunState                         `json:"state"`
	StartedAt         time.Time                        `json:"started_at"`
	Claims            []Claim                          `json:"claims"`
	Risk              *RiskAssessment                  `json:"risk_assessment,omitempty"`
	Evidence          Optional[[]ClaimEvidence]        `json:"-"`
	Factuality        Optional[[]FactualityAssessment] `json:"-"`
	Policy            *PolicyInterpretation            `json:"policy_interpretation,omitempty"`
	Decision          *Decision                        `json:"decision,omitempty"`
	LowConfidencePath bool                             `json:"low_confidence_path"`
	Trace             []TraceEntry                     `json:"trace"`
}

// View is the read-only JSON rendering of a run handed to collaborators
type View struct {
	*PipelineRun
	Evidence   []ClaimEvidence        `json:"evidence,omitempty"`
	Factuality []FactualityAssessment `json:"factuality_assessments,omitempty"`
}

// View flattens optional fields for serialization
func (r *PipelineRun) View() View {
	return View{
		PipelineRun: r,
		Evidence:    r.Evidence.OrZero(),
		Factuality:  r.Factuality.OrZero(),
	}
}
