package decision

import (
	"fmt"

	"github.com/ppiankov/verdict/internal/model"
)

// Thresholds are the policy-confidence cut points of the decision matrix
type Thresholds struct {
	Policy        float64
	MediumConfirm float64
	HighConfirm   float64
}

// ThresholdsFrom derives matrix thresholds from routing config
func ThresholdsFrom(cfg model.RoutingConfig) Thresholds {
	return Thresholds{
		Policy:        cfg.PolicyConfidenceThreshold,
		MediumConfirm: cfg.MediumConfirm(),
		HighConfirm:   cfg.HighConfirm(),
	}
}

// Evaluate maps (risk tier, policy confidence) to an action.
// This is pure domain logic: rows are checked in order and the first match wins.
//
//	Low    >= Policy        -> Allow
//	Low    <  Policy        -> LabelDownrank
//	Medium >= MediumConfirm -> LabelDownrank
//	Medium <  MediumConfirm -> EscalateHuman     (review)
//	High   <  HighConfirm   -> EscalateHuman     (review)
//	High   >= HighConfirm   -> HumanConfirmation (review)
func Evaluate(tier model.RiskTier, policyConfidence float64, th Thresholds) model.Decision {
	switch tier {
	case model.RiskLow:
		if policyConfidence >= th.Policy {
			return decide(model.ActionAllow, false,
				"Low risk content with high policy confidence (%.2f). Content does not violate policy.", policyConfidence)
		}
		return decide(model.ActionLabelDownrank, false,
			"Low risk content but uncertain policy interpretation (%.2f). Apply label/downrank.", policyConfidence)

	case model.RiskMedium:
		if policyConfidence >= th.MediumConfirm {
			return decide(model.ActionLabelDownrank, false,
				"Medium risk content with moderate policy confidence (%.2f). Apply label/downrank.", policyConfidence)
		}
		return decide(model.ActionEscalateHuman, true,
			"Medium risk content with low policy confidence (%.2f). Requires human review.", policyConfidence)

	case model.RiskHigh:
		if policyConfidence < th.HighConfirm {
			return decide(model.ActionEscalateHuman, true,
				"High risk content with low policy confidence (%.2f). Escalate to human review.", policyConfidence)
		}
		return decide(model.ActionHumanConfirmation, true,
			"High risk content with high policy confidence (%.2f). Requires human confirmation before action.", policyConfidence)

	default:
		// unknown tier never auto-allows
		return decide(model.ActionEscalateHuman, true, "Unrecognized risk tier %q. Escalate to human review.", tier)
	}
}

func decide(action model.Action, review bool, format string, args ...any) model.Decision {
	return model.Decision{
		Action:              action,
		Rationale:           fmt.Sprintf(format, args...),
		RequiresHumanReview: review,
	}
}
