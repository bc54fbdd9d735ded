package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
)

const defaultDocumentType = "other"

type IngestDocumentUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.JobQueue
	orders  ports.ShipmentOrderRepository
	policy  ports.AccessPolicy
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.JobQueue,
	orders ports.ShipmentOrderRepository,
	policy ports.AccessPolicy,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
		orders:  orders,
		policy:  policy,
	}
}

// Upload stores the file, records the document and queues it for the
// pipeline. It returns as soon as the job is published.
func (uc *IngestDocumentUseCase) Upload(ctx context.Context, actor *domain.User, input ports.UploadInput) (*domain.TradeDocument, error) {
	if err := uc.policy.Check(actor, nil, domain.CapDocumentUpload); err != nil {
		return nil, err
	}
	if input.Body == nil || strings.TrimSpace(input.Filename) == "" {
		return nil, domain.Fail(domain.ErrInvalidInput, "upload document", "a file is required")
	}

	var order *domain.ShipmentOrder
	if orderID := strings.TrimSpace(input.ShipmentOrderID); orderID != "" {
		var err error
		order, err = uc.orders.GetByID(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("fetch shipment order by id: %w", err)
		}
		if err := uc.policy.Check(actor, order, domain.CapDocumentUpload); err != nil {
			return nil, err
		}
		if order.Status != domain.OrderStatusDraft {
			return nil, domain.Fail(domain.ErrInvalidState, "upload document", "documents can only be attached to draft orders")
		}
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(input.Filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, input.Body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.TradeDocument{
		ID:           id,
		OwnerID:      actor.ID,
		Filename:     input.Filename,
		MimeType:     input.MimeType,
		StoragePath:  storageKey,
		DocumentType: normalizeDocumentType(input.DocumentType),
		Status:       domain.StatusUploading,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if order != nil {
		doc.ShipmentOrderID = order.ID
	}

	if order != nil {
		if err := order.AttachDocument(doc.ID, doc.DocumentType); err != nil {
			uc.discardFile(ctx, storageKey)
			return nil, err
		}
		order.AppendAudit("document_attached", actor.ID, order.Status, order.Status,
			fmt.Sprintf("%s document %s uploaded", doc.DocumentType, doc.ID), now)
		order.UpdatedAt = now
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		uc.discardFile(ctx, storageKey)
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if order != nil {
		if err := uc.orders.Update(ctx, order); err != nil {
			uc.markError(ctx, doc.ID, "document could not be attached to the order")
			return nil, fmt.Errorf("attach document to order: %w", err)
		}
	}

	job := domain.ProcessingJob{Kind: domain.JobProcess, DocumentIDs: []string{doc.ID}, RequestedBy: actor.ID}
	if err := uc.queue.PublishJob(ctx, job); err != nil {
		uc.markError(ctx, doc.ID, "processing could not be queued")
		return nil, fmt.Errorf("publish processing job: %w", err)
	}

	return doc, nil
}

// markError leaves a document that will never be queued in a terminal
// state instead of uploading.
func (uc *IngestDocumentUseCase) markError(ctx context.Context, documentID, reason string) {
	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusError, reason); err != nil {
		slog.Warn("document_status_update_failed",
			"document_id", documentID,
			"status", string(domain.StatusError),
			"reason", reason,
			"error", err,
		)
	}
}

func (uc *IngestDocumentUseCase) discardFile(ctx context.Context, storageKey string) {
	if err := uc.storage.Delete(ctx, storageKey); err != nil {
		slog.Warn("stored_file_cleanup_failed", "storage_key", storageKey, "error", err)
	}
}

func (uc *IngestDocumentUseCase) RequestReprocess(ctx context.Context, documentID string, actor *domain.User) error {
	doc, err := uc.authorizedDocument(ctx, documentID, actor, domain.CapDocumentProcess)
	if err != nil {
		return err
	}
	if doc.Status == domain.StatusProcessing {
		return domain.Fail(domain.ErrInvalidState, "reprocess document", "document is already being processed")
	}

	job := domain.ProcessingJob{Kind: domain.JobReprocess, DocumentIDs: []string{doc.ID}, RequestedBy: actor.ID}
	if err := uc.queue.PublishJob(ctx, job); err != nil {
		return fmt.Errorf("publish reprocess job: %w", err)
	}
	return nil
}

// RequestBatch checks every document before queueing one batch job and
// returns how many documents were queued.
func (uc *IngestDocumentUseCase) RequestBatch(ctx context.Context, documentIDs []string, actor *domain.User) (int, error) {
	ids := uniqueIDs(documentIDs)
	if len(ids) == 0 {
		return 0, domain.Fail(domain.ErrInvalidInput, "batch process", "at least one document id is required")
	}
	for _, id := range ids {
		if _, err := uc.authorizedDocument(ctx, id, actor, domain.CapDocumentProcess); err != nil {
			return 0, err
		}
	}

	job := domain.ProcessingJob{Kind: domain.JobBatch, DocumentIDs: ids, RequestedBy: actor.ID}
	if err := uc.queue.PublishJob(ctx, job); err != nil {
		return 0, fmt.Errorf("publish batch job: %w", err)
	}
	return len(ids), nil
}

// GetProcessingStatus is a pure read.
func (uc *IngestDocumentUseCase) GetProcessingStatus(ctx context.Context, documentID string, actor *domain.User) (*domain.ProcessingStatus, error) {
	doc, err := uc.authorizedDocument(ctx, documentID, actor, domain.CapDocumentView)
	if err != nil {
		return nil, err
	}
	return &domain.ProcessingStatus{
		DocumentID:       doc.ID,
		Status:           doc.Status,
		Progress:         processingProgress(doc),
		DocumentType:     doc.DocumentType,
		Error:            doc.Error,
		Extraction:       doc.Extraction,
		Compliance:       doc.Compliance,
		AIResults:        doc.AIResults,
		ProcessingTimeMs: doc.ProcessingTimeMs,
		ProcessedAt:      doc.ProcessedAt,
	}, nil
}

func (uc *IngestDocumentUseCase) authorizedDocument(ctx context.Context, documentID string, actor *domain.User, capability domain.Capability) (*domain.TradeDocument, error) {
	if err := uc.policy.Check(actor, nil, capability); err != nil {
		return nil, err
	}
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	if err := uc.policy.Check(actor, doc, capability); err != nil {
		return nil, err
	}
	return doc, nil
}

func processingProgress(doc *domain.TradeDocument) int {
	switch {
	case doc.Status.Finished():
		return 100
	case doc.Status == domain.StatusProcessing && doc.Extraction != nil:
		return 70
	case doc.Status == domain.StatusProcessing:
		return 30
	default:
		return 10
	}
}

func normalizeDocumentType(documentType string) string {
	normalized := strings.ToLower(strings.TrimSpace(documentType))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if normalized == "" {
		return defaultDocumentType
	}
	return normalized
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
