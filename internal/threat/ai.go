package threat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrAIUnavailable wraps every AI client failure (transport, status,
// malformed response). Callers degrade, they do not propagate it.
var ErrAIUnavailable = errors.New("threat: AI analysis unavailable")

// validContractTypes is the closed enum the AI contract allows.
var validContractTypes = map[string]struct{}{
	"DEX":       {},
	"Bridge":    {},
	"Staking":   {},
	"Unknown":   {},
	"Malicious": {},
	"Honeypot":  {},
}

// AnalyzeRequest carries event metadata plus the spender's bytecode to the
// AI classification service.
type AnalyzeRequest struct {
	ApprovalID   string `json:"approvalId"`
	UserAddress  string `json:"userAddress"`
	TokenAddress string `json:"tokenAddress"`
	Spender      string `json:"spender"`
	Amount       string `json:"amount"`
	Bytecode     string `json:"bytecode"`
}

// AIResult is the validated response from the AI service.
type AIResult struct {
	IsMalicious  bool
	RiskScore    int
	Reasons      []string
	ContractType string
	Verdict      string
}

// Analyzer is the deep-analysis dependency of the Detector.
type Analyzer interface {
	Analyze(ctx context.Context, req *AnalyzeRequest) (*AIResult, error)
}

// AIConfig configures the AI service client.
type AIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// AIClient calls the external AI classification service over HTTP.
type AIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAIClient creates an AI service client.
func NewAIClient(cfg AIConfig) *AIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AIClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// rawResponse uses pointers so missing fields are detectable: the response
// contract is strict and any shape deviation is a failure, not a partial
// success.
type rawResponse struct {
	IsMalicious  *bool    `json:"isMalicious"`
	RiskScore    *int     `json:"riskScore"`
	Reasons      []string `json:"reasons"`
	ContractType string   `json:"contractType"`
	Verdict      string   `json:"verdict"`
}

// Analyze submits the spender's bytecode for classification.
func (c *AIClient) Analyze(ctx context.Context, req *AnalyzeRequest) (*AIResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrAIUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrAIUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAIUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrAIUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrAIUnavailable, err)
	}

	return parseResult(raw)
}

// parseResult validates the strict response contract and clamps riskScore
// to [0,100].
func parseResult(raw []byte) (*AIResult, error) {
	var r rawResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrAIUnavailable, err)
	}

	if r.IsMalicious == nil {
		return nil, fmt.Errorf("%w: response missing isMalicious", ErrAIUnavailable)
	}
	if r.RiskScore == nil {
		return nil, fmt.Errorf("%w: response missing riskScore", ErrAIUnavailable)
	}
	if len(r.Reasons) == 0 {
		return nil, fmt.Errorf("%w: response missing reasons", ErrAIUnavailable)
	}
	if _, ok := validContractTypes[r.ContractType]; !ok {
		return nil, fmt.Errorf("%w: invalid contractType %q", ErrAIUnavailable, r.ContractType)
	}

	score := *r.RiskScore
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return &AIResult{
		IsMalicious:  *r.IsMalicious,
		RiskScore:    score,
		Reasons:      r.Reasons,
		ContractType: r.ContractType,
		Verdict:      r.Verdict,
	}, nil
}
