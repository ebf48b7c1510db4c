package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ppiankov/verdict/internal/util"
)

const defaultLabelerURL = "https://api.zentropi.ai/v1/label"

// LabelerAdapter implements Adapter for a hosted small-model label API.
// It answers with a single label and a calibrated confidence, which makes it
// the fast classifier for risk tiering and policy labels.
type LabelerAdapter struct {
	apiKey     string
	url        string
	labelerID  string
	version    string
	httpClient *http.Client
}

type labelRequest struct {
	ContentText      string `json:"content_text"`
	LabelerID        string `json:"labeler_id,omitempty"`
	LabelerVersionID string `json:"labeler_version_id,omitempty"`
	CriteriaText     string `json:"criteria_text,omitempty"`
}

type labelResponse struct {
	Label          string          `json:"label"`
	PredictedLabel string          `json:"predicted_label"`
	Confidence     json.RawMessage `json:"confidence"`
	Score          json.RawMessage `json:"score"`
}

// LabelOutput is the JSON document a LabelerAdapter emits as Response.Output
type LabelOutput struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// NewLabelerAdapter creates a new label API adapter
func NewLabelerAdapter(config Config) (*LabelerAdapter, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("labeler API key is required")
	}

	url := config.BaseURL
	if url == "" {
		url = defaultLabelerURL
	}

	return &LabelerAdapter{
		apiKey:     strings.TrimSpace(config.APIKey),
		url:        url,
		labelerID:  strings.TrimSpace(config.LabelerID),
		version:    strings.TrimSpace(config.LabelerVersion),
		httpClient: util.NewHTTPClient(config.HTTPProxy, config.HTTPSProxy),
	}, nil
}

// Name returns the provider name
func (p *LabelerAdapter) Name() string {
	return "labeler"
}

// Invoke labels the payload; the system prompt is sent as labeling criteria
func (p *LabelerAdapter) Invoke(ctx context.Context, req Request) (*Response, error) {
	apiReq := labelRequest{
		ContentText:  req.Payload,
		CriteriaText: req.System,
	}
	if p.labelerID != "" && p.version != "" {
		apiReq.LabelerID = p.labelerID
		apiReq.LabelerVersionID = p.version
	}

	resp, err := p.makeRequest(ctx, apiReq)
	if err != nil {
		return nil, Classify(ctx, p.Name(), err)
	}

	label := resp.Label
	if label == "" {
		label = resp.PredictedLabel
	}
	if label == "" {
		return nil, &AdapterError{Provider: p.Name(), Err: fmt.Errorf("response carries no label")}
	}

	confidence := parseScore(resp.Confidence)
	if confidence == 0 {
		confidence = parseScore(resp.Score)
	}

	out, err := json.Marshal(LabelOutput{Label: label, Confidence: confidence})
	if err != nil {
		return nil, &AdapterError{Provider: p.Name(), Err: err}
	}

	return &Response{
		Output:     string(out),
		Confidence: confidence,
		Model:      p.labelerID,
	}, nil
}

func (p *LabelerAdapter) makeRequest(ctx context.Context, apiReq labelRequest) (*labelResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (%d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp labelResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

// parseScore accepts a JSON number or a numeric string; anything else is 0
func parseScore(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}
