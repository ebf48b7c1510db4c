package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ppiankov/verdict/internal/llm"
	"github.com/ppiankov/verdict/internal/model"
	"github.com/ppiankov/verdict/internal/stage"
)

type claimsOutput struct {
	Claims []struct {
		Text       string   `json:"text"`
		Domain     string   `json:"domain"`
		IsExplicit *bool    `json:"is_explicit"`
		Confidence *float64 `json:"confidence"`
	} `json:"claims"`
	Confidence *float64 `json:"confidence"`
}

// decodeClaims parses the claim list. Stage confidence is the reported
// overall confidence, or the mean claim confidence when absent.
func decodeClaims(resp *llm.Response) (any, float64, error) {
	var out claimsOutput
	if err := llm.ParseStructured(resp.Output, &out); err != nil {
		return nil, 0, err
	}

	claims := make([]model.Claim, 0, len(out.Claims))
	var sum float64
	for i, c := range out.Claims {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			return nil, 0, fmt.Errorf("claim %d has no text", i)
		}
		if c.Confidence == nil {
			return nil, 0, fmt.Errorf("claim %d has no confidence", i)
		}
		if err := checkUnit("claim confidence", *c.Confidence); err != nil {
			return nil, 0, err
		}
		explicit := true
		if c.IsExplicit != nil {
			explicit = *c.IsExplicit
		}
		claims = append(claims, model.Claim{
			Text:       text,
			Domain:     model.ParseDomain(c.Domain),
			IsExplicit: explicit,
			Confidence: *c.Confidence,
		})
		sum += *c.Confidence
	}

	confidence := 1.0
	switch {
	case out.Confidence != nil:
		if err := checkUnit("confidence", *out.Confidence); err != nil {
			return nil, 0, err
		}
		confidence = *out.Confidence
	case len(claims) > 0:
		confidence = sum / float64(len(claims))
	case resp.Confidence > 0:
		confidence = resp.Confidence
	}
	return claims, confidence, nil
}

type riskOutput struct {
	Tier                  string   `json:"tier"`
	Label                 string   `json:"label"`
	Confidence            *float64 `json:"confidence"`
	Reasoning             string   `json:"reasoning"`
	PotentialHarm         string   `json:"potential_harm"`
	EstimatedExposure     string   `json:"estimated_exposure"`
	VulnerablePopulations []string `json:"vulnerable_populations"`
}

// decodeRisk parses a generative risk answer or a classifier label
func decodeRisk(resp *llm.Response) (any, float64, error) {
	var out riskOutput
	if err := llm.ParseStructured(resp.Output, &out); err != nil {
		return nil, 0, err
	}

	label := out.Tier
	if label == "" {
		label = out.Label
	}
	tier, err := model.ParseRiskTier(label)
	if err != nil {
		return nil, 0, err
	}
	confidence, err := reportedConfidence(out.Confidence, resp)
	if err != nil {
		return nil, 0, err
	}

	return model.RiskAssessment{
		Tier:                  tier,
		Confidence:            confidence,
		Reasoning:             out.Reasoning,
		PotentialHarm:         out.PotentialHarm,
		EstimatedExposure:     out.EstimatedExposure,
		VulnerablePopulations: out.VulnerablePopulations,
	}, confidence, nil
}

type policyOutput struct {
	Violation        string   `json:"violation"`
	Label            string   `json:"label"`
	ViolationType    *string  `json:"violation_type"`
	PolicyConfidence *float64 `json:"policy_confidence"`
	Confidence       *float64 `json:"confidence"`
	AllowedContexts  []string `json:"allowed_contexts"`
	Reasoning        string   `json:"reasoning"`
	ConflictDetected bool     `json:"conflict_detected"`
}

// decodePolicy parses a policy interpretation or a classifier label
func decodePolicy(resp *llm.Response) (any, float64, error) {
	var out policyOutput
	if err := llm.ParseStructured(resp.Output, &out); err != nil {
		return nil, 0, err
	}

	label := out.Violation
	if label == "" {
		label = out.Label
	}
	violation, err := model.ParseViolation(label)
	if err != nil {
		return nil, 0, err
	}

	reported := out.PolicyConfidence
	if reported == nil {
		reported = out.Confidence
	}
	confidence, err := reportedConfidence(reported, resp)
	if err != nil {
		return nil, 0, err
	}

	var violationType *string
	if out.ViolationType != nil {
		if vt := strings.TrimSpace(*out.ViolationType); vt != "" && !strings.EqualFold(vt, "null") && !strings.EqualFold(vt, "none") {
			violationType = &vt
		}
	}

	allowed := contextSet(out.AllowedContexts)

	// a violation that also matched an allowed context is a conflict even
	// when the model did not flag it
	return model.PolicyInterpretation{
		Violation:        violation,
		ViolationType:    violationType,
		AllowedContexts:  allowed,
		Confidence:       confidence,
		ConflictDetected: out.ConflictDetected || (violation == model.ViolationYes && len(allowed) > 0),
		Reasoning:        out.Reasoning,
	}, confidence, nil
}

type factualityOutput struct {
	Assessments []struct {
		ClaimRef   *int     `json:"claim_ref"`
		ClaimText  string   `json:"claim_text"`
		Status     string   `json:"status"`
		Confidence *float64 `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
	} `json:"assessments"`
}

// factualityDecoder binds assessments to claims by claim_ref, falling back
// to the claim text. Claims the model skipped are reported as Uncertain.
func factualityDecoder(claims []model.Claim) stage.Decoder {
	return func(resp *llm.Response) (any, float64, error) {
		var out factualityOutput
		if err := llm.ParseStructured(resp.Output, &out); err != nil {
			return nil, 0, err
		}

		byText := make(map[string]int, len(claims))
		for i, c := range claims {
			byText[normalizeText(c.Text)] = i
		}

		assessed := make([]*model.FactualityAssessment, len(claims))
		var sum float64
		var matched int
		for _, a := range out.Assessments {
			idx := -1
			if a.ClaimRef != nil && *a.ClaimRef >= 0 && *a.ClaimRef < len(claims) {
				idx = *a.ClaimRef
			} else if i, ok := byText[normalizeText(a.ClaimText)]; ok {
				idx = i
			}
			if idx < 0 || assessed[idx] != nil {
				continue
			}

			status, err := model.ParseFactualityStatus(a.Status)
			if err != nil {
				return nil, 0, err
			}
			if a.Confidence == nil {
				return nil, 0, fmt.Errorf("assessment for claim %d has no confidence", idx)
			}
			if err := checkUnit("factuality confidence", *a.Confidence); err != nil {
				return nil, 0, err
			}

			assessed[idx] = &model.FactualityAssessment{
				ClaimIndex: idx,
				Status:     status,
				Confidence: *a.Confidence,
				Reasoning:  a.Reasoning,
			}
			sum += *a.Confidence
			matched++
		}
		if len(claims) > 0 && matched == 0 {
			return nil, 0, fmt.Errorf("no assessment matches an extracted claim")
		}

		result := make([]model.FactualityAssessment, len(claims))
		for i := range claims {
			if assessed[i] != nil {
				result[i] = *assessed[i]
				continue
			}
			result[i] = model.FactualityAssessment{
				ClaimIndex: i,
				Status:     model.FactualityUncertain,
				Reasoning:  "Not assessed.",
			}
		}

		confidence := 0.0
		if matched > 0 {
			confidence = sum / float64(matched)
		}
		return result, confidence, nil
	}
}

// insufficientEvidence is the conservative assessment when no claim has evidence
func insufficientEvidence(claims []model.Claim) []model.FactualityAssessment {
	out := make([]model.FactualityAssessment, len(claims))
	for i := range claims {
		out[i] = model.FactualityAssessment{
			ClaimIndex: i,
			Status:     model.FactualityUncertain,
			Confidence: 0,
			Reasoning:  "Insufficient evidence to assess this claim.",
		}
	}
	return out
}

func reportedConfidence(field *float64, resp *llm.Response) (float64, error) {
	if field != nil {
		if err := checkUnit("confidence", *field); err != nil {
			return 0, err
		}
		return *field, nil
	}
	if resp.Confidence > 0 {
		return resp.Confidence, checkUnit("confidence", resp.Confidence)
	}
	return 0, fmt.Errorf("response has no confidence")
}

func checkUnit(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s %v outside [0,1]", name, v)
	}
	return nil
}

// contextSet trims, deduplicates and sorts allowed contexts
func contextSet(contexts []string) []string {
	seen := make(map[string]bool, len(contexts))
	out := make([]string, 0, len(contexts))
	for _, c := range contexts {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
