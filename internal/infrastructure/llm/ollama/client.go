package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/compliance"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

func New(baseURL, genModel string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ComplianceAnalyzer asks a local model for a compliance verdict. It is the
// second link of the compliance chain.
type ComplianceAnalyzer struct {
	client *Client
	rules  *compliance.RuleSet
	now    func() time.Time
}

func NewComplianceAnalyzer(client *Client, rules *compliance.RuleSet) *ComplianceAnalyzer {
	return &ComplianceAnalyzer{
		client: client,
		rules:  rules,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *ComplianceAnalyzer) Analyze(ctx context.Context, documentType string, extraction *domain.Extraction) (*domain.ComplianceAnalysis, error) {
	if extraction == nil {
		return nil, domain.Fail(domain.ErrInvalidInput, "ollama analyze", "extraction is required")
	}
	rules := a.rules.For(documentType)
	respText, err := a.client.generateJSON(ctx, compliance.BuildPrompt(documentType, extraction, rules))
	if err != nil {
		return nil, err
	}
	return compliance.ParseAnalysis(respText, domain.ProviderOllama, len(rules), a.now())
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": 0.1,
		},
	}
	return resilience.Call(ctx, c.executor, "ollama.generate", func(callCtx context.Context) (string, error) {
		out, err := c.generate(callCtx, reqBody)
		if err != nil {
			return "", classifyOllamaError("ollama generate", err)
		}
		return out, nil
	}, resilience.ClassifyDomainError)
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(detail))}
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return strings.TrimSpace(response.Response), nil
}
