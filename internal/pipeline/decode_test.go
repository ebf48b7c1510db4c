package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/verdict/internal/llm"
	"github.com/ppiankov/verdict/internal/model"
)

func TestDecodeClaims(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantClaims int
		wantConf   float64
		wantErr    bool
	}{
		{
			name:       "mean of claim confidences",
			output:     "```json\n{\"claims\":[{\"text\":\"a\",\"domain\":\"Health\",\"confidence\":0.8},{\"text\":\"b\",\"domain\":\"x\",\"confidence\":0.4},]}\n```",
			wantClaims: 2,
			wantConf:   0.6,
		},
		{
			name:       "reported overall confidence wins",
			output:     `{"claims":[{"text":"a","confidence":0.8}],"confidence":0.3}`,
			wantClaims: 1,
			wantConf:   0.3,
		},
		{
			name:       "no claims is confident",
			output:     `{"claims":[]}`,
			wantClaims: 0,
			wantConf:   1,
		},
		{name: "missing confidence", output: `{"claims":[{"text":"a"}]}`, wantErr: true},
		{name: "confidence out of range", output: `{"claims":[{"text":"a","confidence":1.3}]}`, wantErr: true},
		{name: "empty text", output: `{"claims":[{"text":" ","confidence":0.5}]}`, wantErr: true},
		{name: "not json", output: `sure, here are the claims`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, conf, err := decodeClaims(&llm.Response{Output: tt.output})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			claims := v.([]model.Claim)
			assert.Len(t, claims, tt.wantClaims)
			assert.InDelta(t, tt.wantConf, conf, 1e-9)
		})
	}
}

func TestDecodeClaims_Fields(t *testing.T) {
	v, _, err := decodeClaims(&llm.Response{Output: `{"claims":[{"text":"a","domain":"Health","is_explicit":false,"confidence":0.7},{"text":"b","confidence":0.7}]}`})
	require.NoError(t, err)
	claims := v.([]model.Claim)

	assert.Equal(t, model.DomainHealth, claims[0].Domain)
	assert.False(t, claims[0].IsExplicit)
	assert.Equal(t, model.DomainOther, claims[1].Domain)
	assert.True(t, claims[1].IsExplicit)
}

func TestDecodeRisk(t *testing.T) {
	v, conf, err := decodeRisk(&llm.Response{Output: `{"tier":"medium","confidence":0.66,"vulnerable_populations":["children"]}`})
	require.NoError(t, err)
	risk := v.(model.RiskAssessment)
	assert.Equal(t, model.RiskMedium, risk.Tier)
	assert.Equal(t, 0.66, conf)
	assert.Equal(t, []string{"children"}, risk.VulnerablePopulations)

	// classifier label output
	v, conf, err = decodeRisk(&llm.Response{Output: `{"label":"High","confidence":0.91}`, Confidence: 0.91})
	require.NoError(t, err)
	assert.Equal(t, model.RiskHigh, v.(model.RiskAssessment).Tier)
	assert.Equal(t, 0.91, conf)

	// provider-reported confidence when the body has none
	_, conf, err = decodeRisk(&llm.Response{Output: `{"tier":"Low"}`, Confidence: 0.7})
	require.NoError(t, err)
	assert.Equal(t, 0.7, conf)

	_, _, err = decodeRisk(&llm.Response{Output: `{"tier":"Low"}`})
	assert.Error(t, err, "missing confidence")

	_, _, err = decodeRisk(&llm.Response{Output: `{"tier":"Severe","confidence":0.9}`})
	assert.Error(t, err, "unknown tier")
}

func TestDecodePolicy(t *testing.T) {
	v, conf, err := decodePolicy(&llm.Response{Output: `{"violation":"yes","violation_type":"health misinformation","policy_confidence":0.8,"allowed_contexts":[" satire","opinion","satire",""],"conflict_detected":true}`})
	require.NoError(t, err)
	p := v.(model.PolicyInterpretation)
	assert.Equal(t, model.ViolationYes, p.Violation)
	require.NotNil(t, p.ViolationType)
	assert.Equal(t, "health misinformation", *p.ViolationType)
	assert.Equal(t, []string{"opinion", "satire"}, p.AllowedContexts)
	assert.True(t, p.ConflictDetected)
	assert.Equal(t, 0.8, conf)

	v, conf, err = decodePolicy(&llm.Response{Output: `{"label":"No","confidence":0.55,"violation_type":"null"}`})
	require.NoError(t, err)
	p = v.(model.PolicyInterpretation)
	assert.Equal(t, model.ViolationNo, p.Violation)
	assert.Nil(t, p.ViolationType)
	assert.Empty(t, p.AllowedContexts)
	assert.Equal(t, 0.55, conf)

	_, _, err = decodePolicy(&llm.Response{Output: `{"violation":"maybe","policy_confidence":0.5}`})
	assert.Error(t, err)
}

func TestDecodePolicy_ViolationInAllowedContextIsConflict(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		conflict bool
	}{
		{"yes with allowed context", `{"violation":"Yes","policy_confidence":0.9,"allowed_contexts":["satire"],"conflict_detected":false}`, true},
		{"yes without allowed context", `{"violation":"Yes","policy_confidence":0.9,"allowed_contexts":[" ",""]}`, false},
		{"no with allowed context", `{"violation":"No","policy_confidence":0.9,"allowed_contexts":["satire"]}`, false},
		{"contextual with allowed context", `{"violation":"Contextual","policy_confidence":0.9,"allowed_contexts":["news"]}`, false},
		{"model flag kept", `{"violation":"No","policy_confidence":0.9,"conflict_detected":true}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _, err := decodePolicy(&llm.Response{Output: tt.output})
			require.NoError(t, err)
			assert.Equal(t, tt.conflict, v.(model.PolicyInterpretation).ConflictDetected)
		})
	}
}

func TestFactualityDecoder(t *testing.T) {
	claims := []model.Claim{{Text: "The earth is flat"}, {Text: "Water boils at 100C"}, {Text: "Unassessed claim"}}
	decode := factualityDecoder(claims)

	v, conf, err := decode(&llm.Response{Output: `{"assessments":[
		{"claim_text":"water boils at  100C","status":"Likely True","confidence":0.9},
		{"claim_ref":0,"status":"Likely False","confidence":0.7},
		{"claim_ref":0,"status":"Likely True","confidence":0.1},
		{"claim_text":"unknown","status":"Likely True","confidence":0.1}
	]}`})
	require.NoError(t, err)

	fa := v.([]model.FactualityAssessment)
	require.Len(t, fa, 3)
	assert.Equal(t, model.FactualityLikelyFalse, fa[0].Status)
	assert.Equal(t, model.FactualityLikelyTrue, fa[1].Status)
	assert.Equal(t, model.FactualityUncertain, fa[2].Status)
	for i, a := range fa {
		assert.Equal(t, i, a.ClaimIndex)
	}
	assert.InDelta(t, 0.8, conf, 1e-9)

	_, _, err = decode(&llm.Response{Output: `{"assessments":[{"claim_text":"unknown","status":"Likely True","confidence":0.5}]}`})
	assert.Error(t, err)

	_, _, err = decode(&llm.Response{Output: `{"assessments":[{"claim_ref":1,"status":"Probably","confidence":0.5}]}`})
	assert.Error(t, err)
}

func TestPrompts(t *testing.T) {
	p, err := NewPrompts(nil)
	require.NoError(t, err)

	system, payload, err := p.render(model.StageRiskAssessment, promptInput{
		Transcript: "hello",
		Claims:     []model.Claim{{Text: "a claim", Domain: model.DomainCivic}},
	})
	require.NoError(t, err)
	assert.Contains(t, system, "risk assessment agent")
	assert.Contains(t, payload, "hello")
	assert.Contains(t, payload, "- a claim (civic)")

	_, payload, err = p.render(model.StageFactualityAssessment, promptInput{
		Claims: []model.Claim{{Text: "first"}, {Text: "second"}},
		Evidence: []model.ClaimEvidence{
			{ClaimIndex: 0, Items: []model.EvidenceItem{{Text: "doc", Source: "who.int", Stance: model.StanceSupporting}}},
			{ClaimIndex: 1},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, payload, "Claim [0]: first")
	assert.Contains(t, payload, "- [supporting] doc (Source: who.int, Quality: unknown, URL: n/a)")
	assert.Contains(t, payload, "Claim [1]: second\n- No evidence retrieved")
}

func TestPrompts_Overrides(t *testing.T) {
	p, err := NewPrompts(map[model.Stage]PromptTemplate{
		model.StageClaimExtraction: {User: "Claims please: {{.Transcript}}"},
	})
	require.NoError(t, err)

	system, payload, err := p.render(model.StageClaimExtraction, promptInput{Transcript: "xyz"})
	require.NoError(t, err)
	assert.Equal(t, "Claims please: xyz", payload)
	assert.True(t, strings.HasPrefix(system, "You are a conservative claim extraction agent"))

	_, err = NewPrompts(map[model.Stage]PromptTemplate{model.StageClaimExtraction: {User: "{{.Broken"}})
	var cfgErr *model.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = NewPrompts(map[model.Stage]PromptTemplate{model.StageDecisionEvaluation: {User: "x"}})
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadPolicy(t *testing.T) {
	text, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy, text)

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.txt")
	require.NoError(t, os.WriteFile(path, []byte("  Be kind.\n"), 0o644))
	text, err = LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, "Be kind.", text)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = LoadPolicy(empty)
	assert.Error(t, err)
}
