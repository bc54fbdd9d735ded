package gemini

import (
	"context"
	"time"

	"github.com/google/generative-ai-go/genai"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/compliance"
)

type ComplianceAnalyzer struct {
	client *Client
	rules  *compliance.RuleSet
	model  string
	now    func() time.Time
}

func NewComplianceAnalyzer(client *Client, rules *compliance.RuleSet, model string) *ComplianceAnalyzer {
	if model == "" {
		model = DefaultComplianceModel
	}
	return &ComplianceAnalyzer{
		client: client,
		rules:  rules,
		model:  model,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *ComplianceAnalyzer) Analyze(ctx context.Context, documentType string, extraction *domain.Extraction) (*domain.ComplianceAnalysis, error) {
	if extraction == nil {
		return nil, domain.Fail(domain.ErrInvalidInput, "gemini analyze", "extraction is required")
	}
	rules := a.rules.For(documentType)
	respText, err := a.client.generateJSON(ctx, "gemini.compliance", a.model,
		genai.Text(compliance.BuildPrompt(documentType, extraction, rules)))
	if err != nil {
		return nil, err
	}
	return compliance.ParseAnalysis(respText, domain.ProviderGemini, len(rules), a.now())
}
