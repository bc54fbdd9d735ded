package compliance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

// RuleBasedAnalyzer checks structured data against the rule set without any
// remote call. It is the last link of the compliance chain.
type RuleBasedAnalyzer struct {
	rules *RuleSet
	now   func() time.Time
}

func NewRuleBasedAnalyzer(rules *RuleSet) *RuleBasedAnalyzer {
	return &RuleBasedAnalyzer{
		rules: rules,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (a *RuleBasedAnalyzer) Analyze(_ context.Context, documentType string, extraction *domain.Extraction) (*domain.ComplianceAnalysis, error) {
	if extraction == nil {
		return nil, domain.Fail(domain.ErrInvalidInput, "rule based analyze", "extraction is required")
	}
	rules := a.rules.For(documentType)
	analysis := &domain.ComplianceAnalysis{
		Errors:      []domain.ComplianceError{},
		Corrections: []domain.Correction{},
		Provider:    string(domain.ProviderRuleBased),
		AnalyzedAt:  a.now(),
	}
	fields := normalizeFields(extraction.StructuredData)
	for _, rule := range rules {
		value, present := fields[normalizeKey(rule.Field)]
		if rule.passes(value, present) {
			continue
		}
		analysis.Errors = append(analysis.Errors, domain.ComplianceError{
			Type:     rule.ID,
			Field:    rule.Field,
			Message:  rule.Message,
			Severity: rule.Severity,
		})
		if rule.Suggestion != "" {
			analysis.Corrections = append(analysis.Corrections, domain.Correction{
				Field:     rule.Field,
				Current:   value,
				Suggested: rule.Suggestion,
				Reason:    rule.Message,
			})
		}
	}
	analysis.Recount(len(rules))
	analysis.Score = scoreOf(analysis.Summary)
	if len(rules) == 0 {
		analysis.Notes = fmt.Sprintf("no rules configured for document type %q", documentType)
	}
	return analysis, nil
}

func (r Rule) passes(value string, present bool) bool {
	if !present || strings.TrimSpace(value) == "" {
		return false
	}
	switch r.Check {
	case CheckRequired:
		return true
	case CheckPositive:
		n, ok := parseAmount(value)
		return ok && n > 0
	case CheckPattern:
		return r.re != nil && r.re.MatchString(strings.TrimSpace(value))
	case CheckOneOf:
		for _, allowed := range r.Values {
			if strings.EqualFold(strings.TrimSpace(value), allowed) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// scoreOf maps the tally onto 0..100, counting warnings as half a pass.
func scoreOf(s domain.ComplianceSummary) float64 {
	if s.TotalChecks == 0 {
		return 100
	}
	score := (float64(s.PassedChecks) + 0.5*float64(s.Warnings)) / float64(s.TotalChecks) * 100
	return float64(int(score*10+0.5)) / 10
}

func normalizeKey(key string) string {
	key = strings.ToLower(key)
	return strings.NewReplacer("_", "", " ", "", "-", "").Replace(key)
}

func normalizeFields(data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	for key, raw := range data {
		if raw == nil {
			continue
		}
		out[normalizeKey(key)] = stringify(raw)
	}
	return out
}

func stringify(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprint(typed)
	}
}

// parseAmount accepts "1,250.50", "USD 1250" and similar renderings.
func parseAmount(value string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, value)
	if cleaned == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
