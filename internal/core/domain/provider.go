package domain

import "time"

type Provider string

const (
	ProviderGeminiOCR Provider = "gemini_ocr"
	ProviderLocalOCR  Provider = "local_ocr"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
	ProviderRuleBased Provider = "rule_based"
)

// AITask selects a pipeline step when asking for the best provider.
type AITask string

const (
	TaskOCR        AITask = "ocr"
	TaskCompliance AITask = "compliance"
)

// ProviderQuota is a snapshot of one provider's availability.
type ProviderQuota struct {
	Provider     Provider   `json:"provider"`
	Available    bool       `json:"available"`
	ResetAt      *time.Time `json:"reset_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	FailureCount int        `json:"failure_count"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
}
