package decision

import (
	"math"
	"strings"

	"github.com/ppiankov/verdict/internal/model"
)

// Escalation reasons, in the order the gate checks them
const (
	ReasonLowClaimConfidence  = "low_claim_confidence"
	ReasonLowRiskConfidence   = "low_risk_confidence"
	ReasonLowPolicyConfidence = "low_policy_confidence"
	ReasonPolicyConflict      = "policy_conflict"
	ReasonEvidenceConflict    = "evidence_conflict"
)

// GateThresholds configure the escalation triggers
type GateThresholds struct {
	Claim           float64
	Risk            float64
	Policy          float64
	ConflictEpsilon float64
}

// GateThresholdsFrom derives gate thresholds from routing config
func GateThresholdsFrom(cfg model.RoutingConfig) GateThresholds {
	return GateThresholds{
		Claim:           cfg.ClaimConfidenceThreshold,
		Risk:            cfg.RiskConfidenceThreshold,
		Policy:          cfg.PolicyConfidenceThreshold,
		ConflictEpsilon: cfg.ConflictEpsilon,
	}
}

// GateInput is everything the gate inspects
type GateInput struct {
	Claims   []model.Claim
	Risk     model.RiskAssessment
	Policy   model.PolicyInterpretation
	Evidence []model.ClaimEvidence
}

// Reasons returns the triggered escalation reasons in check order
func Reasons(in GateInput, th GateThresholds) []string {
	var reasons []string
	elevated := in.Risk.Tier.Elevated()

	if elevated {
		for _, c := range in.Claims {
			if c.Confidence < th.Claim {
				reasons = append(reasons, ReasonLowClaimConfidence)
				break
			}
		}
		if in.Risk.Confidence < th.Risk {
			reasons = append(reasons, ReasonLowRiskConfidence)
		}
	}
	if in.Risk.Tier == model.RiskHigh && in.Policy.Confidence < th.Policy {
		reasons = append(reasons, ReasonLowPolicyConfidence)
	}
	if in.Policy.ConflictDetected {
		reasons = append(reasons, ReasonPolicyConflict)
	}
	for _, ce := range in.Evidence {
		if stanceConflict(ce.Items, th.ConflictEpsilon) {
			reasons = append(reasons, ReasonEvidenceConflict)
			break
		}
	}
	return reasons
}

// Gate merges escalation triggers into a decision. Any trigger forces human
// review; the matrix action is left as evaluated.
func Gate(d model.Decision, in GateInput, th GateThresholds) model.Decision {
	reasons := Reasons(in, th)
	if len(reasons) == 0 {
		return d
	}

	d.RequiresHumanReview = true
	d.EscalationReasons = reasons
	d.Rationale += " Escalated: " + strings.Join(reasons, ", ") + "."
	return d
}

// stanceConflict reports a supporting and a contradicting item whose
// relevance scores lie within epsilon of each other
func stanceConflict(items []model.EvidenceItem, epsilon float64) bool {
	for _, s := range items {
		if s.Stance != model.StanceSupporting {
			continue
		}
		for _, c := range items {
			if c.Stance == model.StanceContradicting && math.Abs(s.RelevanceScore-c.RelevanceScore) <= epsilon+1e-9 {
				return true
			}
		}
	}
	return false
}
