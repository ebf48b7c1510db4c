package pipeline

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/ppiankov/verdict/internal/model"
)

// PromptTemplate is the system and user prompt pair of one stage.
// User is a text/template rendered against the stage input.
type PromptTemplate struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// DefaultPrompts returns the built-in prompt set
func DefaultPrompts() map[model.Stage]PromptTemplate {
	return map[model.Stage]PromptTemplate{
		model.StageClaimExtraction: {
			System: `You are a conservative claim extraction agent. Your role is to identify factual claims in text.

IMPORTANT CONSTRAINTS:
- Extract ONLY factual claims (statements that can be verified as true or false)
- Tag each claim with its domain: health, civic, finance, or other
- Be conservative - only extract clear factual statements
- Do NOT infer intent or judge truthfulness
- Distinguish between explicit claims (directly stated) and implicit claims (implied)
- Assign confidence scores (0.0 to 1.0) based on how clear the claim is

Return a JSON object with a "claims" array and an overall "confidence". Each claim should have:
- "text": the claim text
- "domain": one of "health", "civic", "finance", "other"
- "is_explicit": boolean (true for explicit, false for implicit)
- "confidence": float between 0.0 and 1.0`,
			User: `Extract all factual claims from the following transcript:

{{.Transcript}}

Return the claims as a JSON object with this structure:
{"claims": [{"text": "claim text here", "domain": "health|civic|finance|other", "is_explicit": true, "confidence": 0.85}], "confidence": 0.85}`,
		},
		model.StageRiskAssessment: {
			System: `You are a risk assessment agent. Your role is to assess the potential risk of content based on:

1. Potential harm: What harm could this content cause if false or misleading?
2. Estimated exposure: How many people might see this content?
3. Vulnerable populations: Which groups might be particularly affected?

IMPORTANT CONSTRAINTS:
- You do NOT have access to evidence about truthfulness
- You do NOT apply policy rules
- You assess risk based solely on the content's potential impact
- Risk tiers: Low, Medium, High
- Be conservative - err on the side of higher risk if uncertain

Return a JSON object with:
- "tier": "Low", "Medium", or "High"
- "reasoning": explanation of risk assessment
- "confidence": float between 0.0 and 1.0
- "potential_harm": description of potential harm
- "estimated_exposure": description of exposure level
- "vulnerable_populations": array of affected vulnerable groups`,
			User: `Assess the risk of the following content:

Transcript:
{{.Transcript}}

Extracted Claims:
{{claimList .Claims}}

Return a JSON object with this structure:
{"tier": "Low|Medium|High", "reasoning": "detailed reasoning", "confidence": 0.72, "potential_harm": "description", "estimated_exposure": "description", "vulnerable_populations": ["group1"]}`,
		},
		model.StageFactualityAssessment: {
			System: `You are a factuality assessment agent. Your role is to assess whether claims are likely true, likely false, or uncertain based on available evidence.

IMPORTANT CONSTRAINTS:
- Assess ONLY factual truthfulness, NOT policy violations
- Use ONLY the evidence provided to make your assessment
- If evidence conflicts, mark as "Uncertain / Disputed"
- Be conservative - mark as uncertain if evidence is insufficient
- Assign confidence scores (0.0 to 1.0) based on evidence strength
- Do NOT introduce new facts or speculation

Return a JSON object with an "assessments" array. Each assessment should have:
- "claim_ref": the number of the claim being assessed
- "claim_text": the claim being assessed
- "status": "Likely True", "Likely False", or "Uncertain / Disputed"
- "confidence": float between 0.0 and 1.0
- "reasoning": explanation of assessment`,
			User: `Assess the factuality of the following claims based on the provided evidence:

{{range $i, $ce := .Evidence}}Claim [{{$ce.ClaimIndex}}]: {{claimText $.Claims $ce.ClaimIndex}}
{{range $ce.Items}}- [{{.Stance}}] {{.Text}} (Source: {{.Source}}, Quality: {{or .SourceQuality "unknown"}}, URL: {{or .URL "n/a"}})
{{else}}- No evidence retrieved
{{end}}
{{end}}
Return a JSON object with this structure:
{"assessments": [{"claim_ref": 0, "claim_text": "claim text", "status": "Likely True|Likely False|Uncertain / Disputed", "confidence": 0.75, "reasoning": "detailed reasoning"}]}`,
		},
		model.StagePolicyInterpretation: {
			System: `You are a policy interpretation agent. Your role is to interpret platform policy text and determine if content violates it.

IMPORTANT CONSTRAINTS:
- Policy text is provided as input - interpret it, don't apply hard-coded rules
- Consider factuality, but factuality alone does not determine violations
- Consider context (satire, personal experience, opinion)
- Consider risk level in policy interpretation
- You have NO enforcement authority - you only interpret policy
- Provide confidence scores based on policy clarity

Return a JSON object with:
- "violation": "Yes", "No", or "Contextual"
- "violation_type": type of violation if applicable (null if no violation)
- "policy_confidence": float between 0.0 and 1.0
- "allowed_contexts": array of allowed contexts (e.g., ["satire", "personal experience"])
- "reasoning": detailed reasoning for interpretation
- "conflict_detected": boolean indicating cross-policy conflict`,
			User: `Interpret the following policy and determine if the content violates it:

POLICY TEXT:
{{.Policy}}

CONTENT ANALYSIS:
Claims:
{{claimList .Claims}}

Factuality Assessments:
{{if .Factuality}}{{range .Factuality}}- {{claimText $.Claims .ClaimIndex}}: {{.Status}} (confidence: {{printf "%.2f" .Confidence}})
{{end}}{{else}}Not assessed
{{end}}
Risk Assessment: {{.Risk.Tier}}
Risk Reasoning: {{.Risk.Reasoning}}

Return a JSON object with this structure:
{"violation": "Yes|No|Contextual", "violation_type": null, "policy_confidence": 0.85, "allowed_contexts": ["satire"], "reasoning": "detailed reasoning", "conflict_detected": false}`,
		},
	}
}

// promptInput is the data every user template renders against
type promptInput struct {
	Transcript string
	Claims     []model.Claim
	Risk       model.RiskAssessment
	Evidence   []model.ClaimEvidence
	Factuality []model.FactualityAssessment
	Policy     string
}

var promptFuncs = template.FuncMap{
	"claimList": func(claims []model.Claim) string {
		if len(claims) == 0 {
			return "None"
		}
		var b strings.Builder
		for _, c := range claims {
			fmt.Fprintf(&b, "- %s (%s)\n", c.Text, c.Domain)
		}
		return strings.TrimRight(b.String(), "\n")
	},
	"claimText": func(claims []model.Claim, i int) string {
		if i < 0 || i >= len(claims) {
			return ""
		}
		return claims[i].Text
	},
}

// Prompts holds the parsed prompt templates of every model-backed stage
type Prompts struct {
	system map[model.Stage]string
	user   map[model.Stage]*template.Template
}

// NewPrompts parses the defaults with overrides applied. An override with
// an empty field keeps the default for that field.
func NewPrompts(overrides map[model.Stage]PromptTemplate) (*Prompts, error) {
	p := &Prompts{
		system: make(map[model.Stage]string),
		user:   make(map[model.Stage]*template.Template),
	}

	for stage, def := range DefaultPrompts() {
		if o, ok := overrides[stage]; ok {
			if strings.TrimSpace(o.System) != "" {
				def.System = o.System
			}
			if strings.TrimSpace(o.User) != "" {
				def.User = o.User
			}
		}

		tmpl, err := template.New(string(stage)).Funcs(promptFuncs).Option("missingkey=error").Parse(def.User)
		if err != nil {
			return nil, &model.ConfigurationError{Field: "prompts." + string(stage), Reason: err.Error()}
		}
		p.system[stage] = def.System
		p.user[stage] = tmpl
	}

	for stage := range overrides {
		if _, ok := p.user[stage]; !ok {
			return nil, &model.ConfigurationError{Field: "prompts." + string(stage), Reason: "stage has no prompt"}
		}
	}
	return p, nil
}

// render returns the system prompt and rendered payload for a stage
func (p *Prompts) render(stage model.Stage, in promptInput) (string, string, error) {
	tmpl, ok := p.user[stage]
	if !ok {
		return "", "", fmt.Errorf("no prompt for stage %s", stage)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, in); err != nil {
		return "", "", fmt.Errorf("render %s prompt: %w", stage, err)
	}
	return p.system[stage], b.String(), nil
}
