package model

import (
	"fmt"
	"strings"
)

// Claim represents a factual assertion extracted from the transcript
type Claim struct {
	Text       string  `json:"text"`        // The claim text itself
	Domain     Domain  `json:"domain"`      // health, civic, finance, other
	IsExplicit bool    `json:"is_explicit"` // Directly stated vs implied
	Confidence float64 `json:"confidence"`  // Extraction confidence (0-1)
}

// Domain categorizes the subject area of a claim
type Domain string

const (
	DomainHealth  Domain = "health"
	DomainCivic   Domain = "civic"
	DomainFinance Domain = "finance"
	DomainOther   Domain = "other"
)

// ParseDomain normalizes a domain tag. Unknown tags map to DomainOther.
func ParseDomain(s string) Domain {
	switch Domain(strings.ToLower(strings.TrimSpace(s))) {
	case DomainHealth:
		return DomainHealth
	case DomainCivic:
		return DomainCivic
	case DomainFinance:
		return DomainFinance
	default:
		return DomainOther
	}
}

// RiskTier is the transcript-level risk classification
type RiskTier string

const (
	RiskLow    RiskTier = "Low"
	RiskMedium RiskTier = "Medium"
	RiskHigh   RiskTier = "High"
)

// ParseRiskTier parses a tier label case-insensitively.
func ParseRiskTier(s string) (RiskTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	default:
		return "", fmt.Errorf("unknown risk tier %q", s)
	}
}

// Elevated reports whether the tier unlocks evidence and factuality analysis.
func (t RiskTier) Elevated() bool {
	return t == RiskMedium || t == RiskHigh
}

// Route records which adapter produced a stage result
type Route string

const (
	RouteFast     Route = "fast"
	RouteFallback Route = "fallback"
)

// RiskAssessment is the transcript-level risk assessment
type RiskAssessment struct {
	Tier                  RiskTier `json:"tier"`
	Confidence            float64  `json:"confidence"`
	Reasoning             string   `json:"reasoning"`
	PotentialHarm         string   `json:"potential_harm"`
	EstimatedExposure     string   `json:"estimated_exposure"`
	VulnerablePopulations []string `json:"vulnerable_populations,omitempty"`
	Route                 Route    `json:"route_used"`
}

// FactualityStatus is the assessed factual status of a single claim
type FactualityStatus string

const (
	FactualityLikelyTrue  FactualityStatus = "LikelyTrue"
	FactualityLikelyFalse FactualityStatus = "LikelyFalse"
	FactualityUncertain   FactualityStatus = "Uncertain"
)

// ParseFactualityStatus accepts both compact and display forms ("Likely True", "Uncertain / Disputed").
func ParseFactualityStatus(s string) (FactualityStatus, error) {
	norm := strings.ToLower(strings.Join(strings.Fields(s), ""))
	switch {
	case norm == "likelytrue" || norm == "true":
		return FactualityLikelyTrue, nil
	case norm == "likelyfalse" || norm == "false":
		return FactualityLikelyFalse, nil
	case strings.HasPrefix(norm, "uncertain") || norm == "disputed":
		return FactualityUncertain, nil
	default:
		return "", fmt.Errorf("unknown factuality status %q", s)
	}
}

// FactualityAssessment is produced for each claim of an elevated-risk run
type FactualityAssessment struct {
	ClaimIndex int              `json:"claim_ref"` // Index into PipelineRun.Claims
	Status     FactualityStatus `json:"status"`
	Confidence float64          `json:"confidence"`
	Reasoning  string           `json:"reasoning"`
}

// Violation is the policy violation verdict
type Violation string

const (
	ViolationYes        Violation = "Yes"
	ViolationNo         Violation = "No"
	ViolationContextual Violation = "Contextual"
)

// ParseViolation parses a violation label case-insensitively.
func ParseViolation(s string) (Violation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes":
		return ViolationYes, nil
	case "no":
		return ViolationNo, nil
	case "contextual":
		return ViolationContextual, nil
	default:
		return "", fmt.Errorf("unknown violation value %q", s)
	}
}

// PolicyInterpretation is the transcript-level policy reading
type PolicyInterpretation struct {
	Violation        Violation `json:"violation"`
	ViolationType    *string   `json:"violation_type,omitempty"`
	AllowedContexts  []string  `json:"allowed_contexts"` // Sorted, deduplicated
	Confidence       float64   `json:"confidence"`
	ConflictDetected bool      `json:"conflict_detected"`
	Reasoning        string    `json:"reasoning,omitempty"`
	Route            Route     `json:"route_used"`
}
