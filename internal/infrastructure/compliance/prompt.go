package compliance

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

const maxPromptText = 6000

// BuildPrompt renders the compliance request sent to LLM analyzers. The
// rules listed are the same ones the rule-based analyzer enforces.
func BuildPrompt(documentType string, extraction *domain.Extraction, rules []Rule) string {
	var b strings.Builder
	b.WriteString("You are a trade compliance officer reviewing an export document.\n")
	fmt.Fprintf(&b, "Document type: %s\n\n", documentType)

	if len(rules) > 0 {
		b.WriteString("Check at least these rules:\n")
		for _, r := range rules {
			fmt.Fprintf(&b, "- [%s] %s (field %s)\n", r.Severity, r.Message, r.Field)
		}
		b.WriteString("\n")
	}

	b.WriteString("Structured data:\n")
	b.WriteString(renderFields(extraction.StructuredData))
	b.WriteString("\nExtracted text:\n")
	text := extraction.Text
	if len(text) > maxPromptText {
		text = text[:maxPromptText]
	}
	b.WriteString(text)

	b.WriteString(`

Return strict JSON object with keys:
verdict ("passed" | "failed" | "warning"), isCompliant (boolean), score (number 0..100),
errors (array of {type, field, message, severity: "critical" | "major" | "minor" | "warning"}),
corrections (array of {field, current, suggested, reason}),
summary ({totalChecks, passedChecks, failedChecks, warnings, criticalIssues}), notes (string).
No markdown, no extra keys.`)
	return b.String()
}

func renderFields(data map[string]any) string {
	if len(data) == 0 {
		return "(none)\n"
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, stringify(data[k]))
	}
	return b.String()
}

type llmAnalysis struct {
	Verdict     string  `json:"verdict"`
	IsCompliant *bool   `json:"isCompliant"`
	Score       float64 `json:"score"`
	Errors      []struct {
		Type     string `json:"type"`
		Field    string `json:"field"`
		Message  string `json:"message"`
		Severity string `json:"severity"`
	} `json:"errors"`
	Corrections []domain.Correction `json:"corrections"`
	Summary     struct {
		TotalChecks    int `json:"totalChecks"`
		PassedChecks   int `json:"passedChecks"`
		FailedChecks   int `json:"failedChecks"`
		Warnings       int `json:"warnings"`
		CriticalIssues int `json:"criticalIssues"`
	} `json:"summary"`
	Notes string `json:"notes"`
}

// ParseAnalysis decodes an LLM reply. The tally is rebuilt from the error
// list whenever the reply's summary disagrees with it.
func ParseAnalysis(raw string, provider domain.Provider, totalChecks int, at time.Time) (*domain.ComplianceAnalysis, error) {
	var reply llmAnalysis
	if err := json.Unmarshal([]byte(ExtractJSONObject(raw)), &reply); err != nil {
		return nil, fmt.Errorf("parse compliance json: %w", err)
	}

	analysis := &domain.ComplianceAnalysis{
		Errors:      make([]domain.ComplianceError, 0, len(reply.Errors)),
		Corrections: reply.Corrections,
		Notes:       reply.Notes,
		Provider:    string(provider),
		AnalyzedAt:  at,
	}
	if analysis.Corrections == nil {
		analysis.Corrections = []domain.Correction{}
	}
	for _, e := range reply.Errors {
		if strings.TrimSpace(e.Message) == "" {
			continue
		}
		analysis.Errors = append(analysis.Errors, domain.ComplianceError{
			Type:     e.Type,
			Field:    e.Field,
			Message:  e.Message,
			Severity: normalizeSeverity(e.Severity),
		})
	}

	if reply.Summary.TotalChecks > totalChecks {
		totalChecks = reply.Summary.TotalChecks
	}
	analysis.Recount(totalChecks)

	analysis.Score = reply.Score
	if analysis.Score <= 1 && analysis.Score > 0 && totalChecks > 0 {
		// a ratio instead of a percentage
		analysis.Score *= 100
	}
	if analysis.Score < 0 || analysis.Score > 100 || (analysis.Score == 0 && len(analysis.Errors) == 0) {
		analysis.Score = scoreOf(analysis.Summary)
	}
	if reply.IsCompliant != nil && !*reply.IsCompliant && analysis.IsCompliant {
		analysis.IsCompliant = false
		if analysis.Verdict == domain.CompliancePassed {
			analysis.Verdict = domain.ComplianceWarning
		}
	}
	return analysis, nil
}

func normalizeSeverity(raw string) domain.Severity {
	switch domain.Severity(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.SeverityCritical:
		return domain.SeverityCritical
	case domain.SeverityMajor, "high", "error":
		return domain.SeverityMajor
	case domain.SeverityWarning, "info", "low":
		return domain.SeverityWarning
	default:
		return domain.SeverityMinor
	}
}

// ExtractJSONObject trims prose and markdown fences around a JSON object.
func ExtractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
