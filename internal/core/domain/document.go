package domain

import "time"

type DocumentStatus string

const (
	StatusUploading  DocumentStatus = "uploading"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusError      DocumentStatus = "error"
	StatusFailed     DocumentStatus = "failed"
	StatusValidated  DocumentStatus = "validated"
	StatusRejected   DocumentStatus = "rejected"
)

// Finished reports whether the pipeline no longer touches the document.
func (s DocumentStatus) Finished() bool {
	switch s {
	case StatusCompleted, StatusError, StatusFailed, StatusValidated, StatusRejected:
		return true
	default:
		return false
	}
}

type TradeDocument struct {
	ID               string              `json:"id"`
	OwnerID          string              `json:"owner_id"`
	ShipmentOrderID  string              `json:"shipment_order_id,omitempty"`
	Filename         string              `json:"filename"`
	MimeType         string              `json:"mime_type"`
	StoragePath      string              `json:"storage_path"`
	DocumentType     string              `json:"document_type"`
	Status           DocumentStatus      `json:"status"`
	Error            string              `json:"error,omitempty"`
	Extraction       *Extraction         `json:"extraction,omitempty"`
	Compliance       *ComplianceAnalysis `json:"compliance,omitempty"`
	AIResults        AIProcessingResults `json:"ai_processing_results"`
	ProcessingTimeMs int64               `json:"processing_time_ms,omitempty"`
	ProcessedAt      *time.Time          `json:"processed_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func (d *TradeDocument) AccessibleBy(actor *User, capability Capability) bool {
	if actor == nil {
		return false
	}
	switch capability {
	case CapDocumentView:
		return d.OwnerID == actor.ID || actor.Role == RoleCA
	case CapDocumentProcess:
		return d.OwnerID == actor.ID
	default:
		return false
	}
}

type Entity struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Extraction is the output of the OCR step.
type Extraction struct {
	Text           string         `json:"text"`
	Entities       []Entity       `json:"entities"`
	StructuredData map[string]any `json:"structured_data"`
	Confidence     float64        `json:"confidence"`
	Provider       string         `json:"provider"`
}

type ComplianceVerdict string

const (
	CompliancePassed  ComplianceVerdict = "passed"
	ComplianceFailed  ComplianceVerdict = "failed"
	ComplianceWarning ComplianceVerdict = "warning"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityWarning  Severity = "warning"
)

type ComplianceError struct {
	Type     string   `json:"type"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

type Correction struct {
	Field     string `json:"field"`
	Current   string `json:"current,omitempty"`
	Suggested string `json:"suggested"`
	Reason    string `json:"reason,omitempty"`
}

type ComplianceSummary struct {
	TotalChecks    int `json:"total_checks"`
	PassedChecks   int `json:"passed_checks"`
	FailedChecks   int `json:"failed_checks"`
	Warnings       int `json:"warnings"`
	CriticalIssues int `json:"critical_issues"`
}

// ComplianceAnalysis is the output of the compliance step.
type ComplianceAnalysis struct {
	Verdict     ComplianceVerdict `json:"verdict"`
	IsCompliant bool              `json:"is_compliant"`
	Score       float64           `json:"score"`
	Errors      []ComplianceError `json:"errors"`
	Corrections []Correction      `json:"corrections"`
	Summary     ComplianceSummary `json:"summary"`
	Notes       string            `json:"notes,omitempty"`
	Provider    string            `json:"provider"`
	AnalyzedAt  time.Time         `json:"analyzed_at"`
}

// Recount rebuilds the summary tally and verdict from the error list when a
// provider returns an inconsistent or empty summary.
func (c *ComplianceAnalysis) Recount(totalChecks int) {
	var critical, warnings, failed int
	for _, e := range c.Errors {
		switch e.Severity {
		case SeverityCritical:
			critical++
			failed++
		case SeverityWarning:
			warnings++
		default:
			failed++
		}
	}
	if totalChecks < failed+warnings {
		totalChecks = failed + warnings
	}
	c.Summary = ComplianceSummary{
		TotalChecks:    totalChecks,
		PassedChecks:   totalChecks - failed - warnings,
		FailedChecks:   failed,
		Warnings:       warnings,
		CriticalIssues: critical,
	}
	switch {
	case critical > 0 || failed > 0:
		c.Verdict = ComplianceFailed
	case warnings > 0:
		c.Verdict = ComplianceWarning
	default:
		c.Verdict = CompliancePassed
	}
	c.IsCompliant = critical == 0 && failed == 0
}

// StepResult records which provider handled a pipeline step and how it went.
type StepResult struct {
	Provider    string     `json:"provider,omitempty"`
	Success     bool       `json:"success"`
	Confidence  float64    `json:"confidence,omitempty"`
	Score       float64    `json:"score,omitempty"`
	EntityCount int        `json:"entity_count,omitempty"`
	ErrorCount  int        `json:"error_count,omitempty"`
	Attempts    []string   `json:"attempts,omitempty"`
	Error       string     `json:"error,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

type AIProcessingResults struct {
	OCR               *StepResult `json:"ocr,omitempty"`
	Compliance        *StepResult `json:"compliance,omitempty"`
	TotalProcessingMs int64       `json:"total_processing_ms,omitempty"`
}

// ProcessingStatus is the read model returned to pollers.
type ProcessingStatus struct {
	DocumentID       string              `json:"document_id"`
	Status           DocumentStatus      `json:"status"`
	Progress         int                 `json:"progress"`
	DocumentType     string              `json:"document_type"`
	Error            string              `json:"error,omitempty"`
	Extraction       *Extraction         `json:"extraction,omitempty"`
	Compliance       *ComplianceAnalysis `json:"compliance,omitempty"`
	AIResults        AIProcessingResults `json:"ai_processing_results"`
	ProcessingTimeMs int64               `json:"processing_time_ms,omitempty"`
	ProcessedAt      *time.Time          `json:"processed_at,omitempty"`
}

// BatchResult tallies a sequential batch run.
type BatchResult struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// ProcessingJob is the task-queue message that drives the worker.
type ProcessingJob struct {
	Kind        JobKind  `json:"kind"`
	DocumentIDs []string `json:"document_ids"`
	RequestedBy string   `json:"requested_by,omitempty"`
}

type JobKind string

const (
	JobProcess   JobKind = "process"
	JobReprocess JobKind = "reprocess"
	JobBatch     JobKind = "batch"
)

// Notification is handed to the delivery transport without waiting for it.
type Notification struct {
	RecipientID string            `json:"recipient_id"`
	Kind        string            `json:"kind"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
