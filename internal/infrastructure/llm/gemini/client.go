package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/resilience"
)

const (
	DefaultOCRModel        = "gemini-1.5-flash"
	DefaultComplianceModel = "gemini-1.5-flash"
)

// generator is the slice of the SDK the adapters use.
type generator interface {
	GenerateJSON(ctx context.Context, model string, parts ...genai.Part) (string, error)
}

type Client struct {
	sdk      *genai.Client
	gen      generator
	executor *resilience.Executor
}

type Option func(*Client)

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is empty")
	}
	sdk, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	c := &Client{sdk: sdk, gen: sdkGenerator{client: sdk}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Close() {
	if c.sdk != nil {
		_ = c.sdk.Close()
	}
}

func (c *Client) generateJSON(ctx context.Context, operation, model string, parts ...genai.Part) (string, error) {
	return resilience.Call(ctx, c.executor, operation, func(callCtx context.Context) (string, error) {
		out, err := c.gen.GenerateJSON(callCtx, model, parts...)
		if err != nil {
			return "", classifyGeminiError(operation, err)
		}
		return out, nil
	}, resilience.ClassifyDomainError)
}

type sdkGenerator struct {
	client *genai.Client
}

func (g sdkGenerator) GenerateJSON(ctx context.Context, modelName string, parts ...genai.Part) (string, error) {
	model := g.client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.1)

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String(), nil
}
