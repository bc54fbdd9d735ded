package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
)

var errNoProvider = errors.New("no provider available")

type ProcessDocumentUseCase struct {
	repo       ports.DocumentRepository
	extractors map[domain.Provider]ports.DocumentExtractor
	analyzers  map[domain.Provider]ports.ComplianceAnalyzer
	quota      ports.QuotaManager
	observer   ports.PipelineObserver
	now        func() time.Time
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	extractors map[domain.Provider]ports.DocumentExtractor,
	analyzers map[domain.Provider]ports.ComplianceAnalyzer,
	quota ports.QuotaManager,
	observer ports.PipelineObserver,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		repo:       repo,
		extractors: extractors,
		analyzers:  analyzers,
		quota:      quota,
		observer:   observer,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ProcessByID runs extraction then compliance. A step whose providers all
// fail marks the document failed, anything else unexpected marks it error.
// Results of a finished step are saved before the next step starts.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	started := time.Now()
	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	var results domain.AIProcessingResults
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return uc.finish(ctx, documentID, domain.StatusError, fmt.Errorf("fetch document by id: %w", err), results, started)
	}

	extraction, ocrStep, err := uc.runOCR(ctx, doc)
	results.OCR = &ocrStep
	if err != nil {
		return uc.finish(ctx, documentID, domain.StatusFailed, err, results, started)
	}
	if err := uc.repo.SaveExtraction(ctx, documentID, extraction, ocrStep); err != nil {
		return uc.finish(ctx, documentID, domain.StatusError, fmt.Errorf("save extraction: %w", err), results, started)
	}

	analysis, complianceStep, err := uc.runCompliance(ctx, doc.DocumentType, extraction)
	results.Compliance = &complianceStep
	if err != nil {
		return uc.finish(ctx, documentID, domain.StatusFailed, err, results, started)
	}
	if err := uc.repo.SaveCompliance(ctx, documentID, analysis, complianceStep); err != nil {
		return uc.finish(ctx, documentID, domain.StatusError, fmt.Errorf("save compliance analysis: %w", err), results, started)
	}

	return uc.finish(ctx, documentID, domain.StatusCompleted, nil, results, started)
}

// Reprocess clears earlier pipeline output and runs the pipeline again.
func (uc *ProcessDocumentUseCase) Reprocess(ctx context.Context, documentID string) error {
	if err := uc.repo.ResetProcessing(ctx, documentID); err != nil {
		return fmt.Errorf("reset processing state: %w", err)
	}
	return uc.ProcessByID(ctx, documentID)
}

// ProcessBatch runs documents one after another.
func (uc *ProcessDocumentUseCase) ProcessBatch(ctx context.Context, documentIDs []string) domain.BatchResult {
	ids := uniqueIDs(documentIDs)
	result := domain.BatchResult{Total: len(ids), Errors: map[string]string{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Failed++
			result.Errors[id] = err.Error()
			continue
		}
		if err := uc.ProcessByID(ctx, id); err != nil {
			result.Failed++
			result.Errors[id] = err.Error()
			continue
		}
		result.Succeeded++
	}
	return result
}

func (uc *ProcessDocumentUseCase) runOCR(ctx context.Context, doc *domain.TradeDocument) (*domain.Extraction, domain.StepResult, error) {
	started := time.Now()
	uc.pollRecovery(providersOf(uc.extractors))

	var (
		tried   []domain.Provider
		lastErr error
	)
	for {
		provider := uc.quota.GetBestAvailableService(domain.TaskOCR, tried...)
		if provider == "" {
			break
		}
		tried = append(tried, provider)

		extractor, ok := uc.extractors[provider]
		if !ok {
			lastErr = fmt.Errorf("%s: %w", provider, errNoProvider)
			continue
		}
		callStarted := time.Now()
		extraction, err := extractor.Extract(ctx, doc)
		if err == nil && isEmptyExtraction(extraction) {
			err = domain.Fail(domain.ErrInvalidInput, "extract document", "provider returned no text or data")
		}
		uc.observeStep(domain.TaskOCR, provider, err == nil, time.Since(callStarted))
		if err != nil {
			lastErr = err
			uc.recordFailure(domain.TaskOCR, provider, doc.ID, err)
			continue
		}

		uc.quota.RecordSuccess(provider)
		extraction.Provider = string(provider)
		if extraction.StructuredData == nil {
			extraction.StructuredData = map[string]any{}
		}
		if extraction.Entities == nil {
			extraction.Entities = []domain.Entity{}
		}
		step := uc.stepResult(provider, tried, started)
		step.Success = true
		step.Confidence = extraction.Confidence
		step.EntityCount = len(extraction.Entities)
		return extraction, step, nil
	}

	step := uc.stepResult(lastProvider(tried), tried, started)
	step.Error = errorText(lastErr, errNoProvider)
	return nil, step, domain.WrapError(domain.ErrTemporary, "extract document", firstError(lastErr, errNoProvider))
}

func (uc *ProcessDocumentUseCase) runCompliance(ctx context.Context, documentType string, extraction *domain.Extraction) (*domain.ComplianceAnalysis, domain.StepResult, error) {
	started := time.Now()
	uc.pollRecovery(providersOf(uc.analyzers))

	var (
		tried   []domain.Provider
		lastErr error
	)
	for {
		provider := uc.quota.GetBestAvailableService(domain.TaskCompliance, tried...)
		if provider == "" {
			break
		}
		tried = append(tried, provider)

		analyzer, ok := uc.analyzers[provider]
		if !ok {
			lastErr = fmt.Errorf("%s: %w", provider, errNoProvider)
			continue
		}
		callStarted := time.Now()
		analysis, err := analyzer.Analyze(ctx, documentType, extraction)
		if err == nil && analysis == nil {
			err = domain.Fail(domain.ErrInvalidInput, "analyze compliance", "provider returned no analysis")
		}
		uc.observeStep(domain.TaskCompliance, provider, err == nil, time.Since(callStarted))
		if err != nil {
			lastErr = err
			uc.recordFailure(domain.TaskCompliance, provider, "", err)
			continue
		}

		uc.quota.RecordSuccess(provider)
		analysis.Provider = string(provider)
		if analysis.AnalyzedAt.IsZero() {
			analysis.AnalyzedAt = uc.now()
		}
		if analysis.Errors == nil {
			analysis.Errors = []domain.ComplianceError{}
		}
		if analysis.Corrections == nil {
			analysis.Corrections = []domain.Correction{}
		}
		step := uc.stepResult(provider, tried, started)
		step.Success = true
		step.Score = analysis.Score
		step.ErrorCount = len(analysis.Errors)
		return analysis, step, nil
	}

	step := uc.stepResult(lastProvider(tried), tried, started)
	step.Error = errorText(lastErr, errNoProvider)
	return nil, step, domain.WrapError(domain.ErrTemporary, "analyze compliance", firstError(lastErr, errNoProvider))
}

// pollRecovery lets providers whose cooldown has elapsed back into selection.
func (uc *ProcessDocumentUseCase) pollRecovery(providers []domain.Provider) {
	for _, provider := range providers {
		if !uc.quota.IsServiceAvailable(provider) {
			uc.quota.ShouldRetryService(provider)
		}
	}
}

func (uc *ProcessDocumentUseCase) recordFailure(task domain.AITask, provider domain.Provider, documentID string, err error) {
	attrs := []any{
		"task", string(task),
		"provider", string(provider),
		"error", err.Error(),
	}
	if documentID != "" {
		attrs = append(attrs, "document_id", documentID)
	}
	if domain.IsQuotaExhausted(err) {
		resetAt := uc.quota.HandleQuotaExceeded(provider, err)
		slog.Warn("provider_quota_exceeded", append(attrs, "reset_at", resetAt.Format(time.RFC3339))...)
		return
	}
	slog.Warn("provider_failed", attrs...)
}

func (uc *ProcessDocumentUseCase) finish(
	ctx context.Context,
	documentID string,
	status domain.DocumentStatus,
	processErr error,
	results domain.AIProcessingResults,
	started time.Time,
) error {
	elapsed := time.Since(started)
	results.TotalProcessingMs = elapsed.Milliseconds()
	errMessage := ""
	if processErr != nil {
		errMessage = processErr.Error()
	}
	if uc.observer != nil {
		uc.observer.ObserveDocument(status, elapsed)
	}

	if err := uc.repo.Finalize(ctx, documentID, status, errMessage, results, uc.now()); err != nil {
		if processErr != nil {
			return fmt.Errorf("%w; finalize status=%s: %v", processErr, status, err)
		}
		return fmt.Errorf("finalize status=%s: %w", status, err)
	}
	return processErr
}

func (uc *ProcessDocumentUseCase) stepResult(provider domain.Provider, tried []domain.Provider, started time.Time) domain.StepResult {
	attempts := make([]string, 0, len(tried))
	for _, p := range tried {
		attempts = append(attempts, string(p))
	}
	finished := uc.now()
	return domain.StepResult{
		Provider:   string(provider),
		Attempts:   attempts,
		DurationMs: time.Since(started).Milliseconds(),
		FinishedAt: &finished,
	}
}

func (uc *ProcessDocumentUseCase) observeStep(task domain.AITask, provider domain.Provider, success bool, d time.Duration) {
	if uc.observer != nil {
		uc.observer.ObserveStep(task, provider, success, d)
	}
}

func isEmptyExtraction(extraction *domain.Extraction) bool {
	return extraction == nil || (extraction.Text == "" && len(extraction.StructuredData) == 0)
}

func providersOf[T any](m map[domain.Provider]T) []domain.Provider {
	out := make([]domain.Provider, 0, len(m))
	for provider := range m {
		out = append(out, provider)
	}
	return out
}

func lastProvider(tried []domain.Provider) domain.Provider {
	if len(tried) == 0 {
		return ""
	}
	return tried[len(tried)-1]
}

func firstError(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}

func errorText(err, fallback error) string {
	return firstError(err, fallback).Error()
}
