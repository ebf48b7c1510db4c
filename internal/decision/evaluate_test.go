package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ppiankov/verdict/internal/model"
)

func defaultThresholds() Thresholds {
	return ThresholdsFrom(model.DefaultRoutingConfig())
}

func TestEvaluate_Matrix(t *testing.T) {
	tests := []struct {
		name       string
		tier       model.RiskTier
		policy     float64
		wantAction model.Action
		wantReview bool
	}{
		{"low risk confident policy", model.RiskLow, 0.9, model.ActionAllow, false},
		{"low risk uncertain policy", model.RiskLow, 0.5, model.ActionLabelDownrank, false},
		{"medium risk moderate policy", model.RiskMedium, 0.65, model.ActionLabelDownrank, false},
		{"medium risk low policy", model.RiskMedium, 0.4, model.ActionEscalateHuman, true},
		{"high risk low policy", model.RiskHigh, 0.5, model.ActionEscalateHuman, true},
		{"high risk confident policy", model.RiskHigh, 0.8, model.ActionHumanConfirmation, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.tier, tt.policy, defaultThresholds())
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.wantReview, d.RequiresHumanReview)
			assert.NotEmpty(t, d.Rationale)
		})
	}
}

func TestEvaluate_Boundaries(t *testing.T) {
	th := defaultThresholds()

	assert.Equal(t, model.ActionAllow, Evaluate(model.RiskLow, 0.7, th).Action)
	assert.Equal(t, model.ActionLabelDownrank, Evaluate(model.RiskMedium, 0.6, th).Action)
	assert.Equal(t, model.ActionHumanConfirmation, Evaluate(model.RiskHigh, 0.6, th).Action)
}

func TestEvaluate_ConfirmThresholdsDefaultToRisk(t *testing.T) {
	cfg := model.DefaultRoutingConfig()
	cfg.RiskConfidenceThreshold = 0.75

	th := ThresholdsFrom(cfg)
	assert.InDelta(t, 0.75, th.MediumConfirm, 0)
	assert.InDelta(t, 0.75, th.HighConfirm, 0)
	assert.Equal(t, model.ActionEscalateHuman, Evaluate(model.RiskMedium, 0.7, th).Action)

	cfg.HighConfirmThreshold = 0.9
	assert.InDelta(t, 0.9, ThresholdsFrom(cfg).HighConfirm, 0)
}

func TestEvaluate_UnknownTierEscalates(t *testing.T) {
	d := Evaluate(model.RiskTier("Severe"), 1, defaultThresholds())
	assert.Equal(t, model.ActionEscalateHuman, d.Action)
	assert.True(t, d.RequiresHumanReview)
}
