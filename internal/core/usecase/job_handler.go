package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
)

// JobHandler routes queue jobs to the document processor by kind. The
// observer may be nil.
type JobHandler struct {
	processor ports.DocumentProcessor
	observer  ports.JobObserver
}

func NewJobHandler(processor ports.DocumentProcessor, observer ports.JobObserver) *JobHandler {
	return &JobHandler{processor: processor, observer: observer}
}

func (h *JobHandler) Handle(ctx context.Context, job domain.ProcessingJob) (err error) {
	if h.observer != nil {
		started := time.Now()
		h.observer.StartJob()
		defer func() { h.observer.FinishJob(job.Kind, time.Since(started), err) }()
	}

	switch job.Kind {
	case domain.JobProcess:
		return h.each(ctx, job.DocumentIDs, h.processor.ProcessByID)
	case domain.JobReprocess:
		return h.each(ctx, job.DocumentIDs, h.processor.Reprocess)
	case domain.JobBatch:
		result := h.processor.ProcessBatch(ctx, job.DocumentIDs)
		slog.Info("batch_processed",
			"requested_by", job.RequestedBy,
			"total", result.Total,
			"succeeded", result.Succeeded,
			"failed", result.Failed,
		)
		if result.Failed > 0 {
			return fmt.Errorf("batch: %d of %d documents failed", result.Failed, result.Total)
		}
		return nil
	default:
		return domain.Fail(domain.ErrInvalidInput, "handle job", fmt.Sprintf("unknown job kind %q", job.Kind))
	}
}

func (h *JobHandler) each(ctx context.Context, ids []string, run func(context.Context, string) error) error {
	var firstErr error
	for _, id := range ids {
		if err := run(ctx, id); err != nil {
			slog.Error("document_processing_failed", "document_id", id, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("document %s: %w", id, err)
			}
		}
	}
	return firstErr
}
