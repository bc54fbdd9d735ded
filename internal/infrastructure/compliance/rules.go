package compliance

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

//go:embed rules.yaml
var defaultRules []byte

type CheckKind string

const (
	CheckRequired CheckKind = "required"
	CheckPositive CheckKind = "positive"
	CheckPattern  CheckKind = "pattern"
	CheckOneOf    CheckKind = "one_of"
)

type Rule struct {
	ID         string          `yaml:"id"`
	Field      string          `yaml:"field"`
	Check      CheckKind       `yaml:"check"`
	Pattern    string          `yaml:"pattern,omitempty"`
	Values     []string        `yaml:"values,omitempty"`
	Severity   domain.Severity `yaml:"severity"`
	Message    string          `yaml:"message"`
	Suggestion string          `yaml:"suggestion,omitempty"`

	re *regexp.Regexp
}

// RuleSet holds the checks applied per document type.
type RuleSet struct {
	Version   int               `yaml:"version"`
	Common    []Rule            `yaml:"common"`
	Documents map[string][]Rule `yaml:"documents"`
}

// LoadRuleSet reads rules from path, or the built-in set when path is empty.
func LoadRuleSet(path string) (*RuleSet, error) {
	raw := defaultRules
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read compliance rules: %w", err)
		}
		raw = data
	}
	return ParseRuleSet(raw)
}

func ParseRuleSet(raw []byte) (*RuleSet, error) {
	var set RuleSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parse compliance rules: %w", err)
	}
	if err := compileRules(set.Common); err != nil {
		return nil, err
	}
	for docType, rules := range set.Documents {
		if err := compileRules(rules); err != nil {
			return nil, fmt.Errorf("%s: %w", docType, err)
		}
	}
	return &set, nil
}

func compileRules(rules []Rule) error {
	for idx := range rules {
		r := &rules[idx]
		if r.ID == "" || r.Field == "" {
			return fmt.Errorf("rule %d: id and field are required", idx)
		}
		switch r.Check {
		case CheckRequired, CheckPositive, CheckOneOf:
		case CheckPattern:
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return fmt.Errorf("rule %s: compile pattern: %w", r.ID, err)
			}
			r.re = re
		default:
			return fmt.Errorf("rule %s: unknown check %q", r.ID, r.Check)
		}
		switch r.Severity {
		case domain.SeverityCritical, domain.SeverityMajor, domain.SeverityMinor, domain.SeverityWarning:
		case "":
			r.Severity = domain.SeverityMinor
		default:
			return fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
		}
	}
	return nil
}

// For returns the common rules followed by the rules of documentType.
func (s *RuleSet) For(documentType string) []Rule {
	if s == nil {
		return nil
	}
	specific := s.Documents[documentType]
	out := make([]Rule, 0, len(s.Common)+len(specific))
	out = append(out, s.Common...)
	return append(out, specific...)
}
