package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, owner_id, shipment_order_id, filename, mime_type, storage_path, document_type, status,
	error_message, extraction, compliance, ai_results, processing_time_ms, processed_at, created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.TradeDocument) error {
	results, err := marshalJSON("ai results", doc.AIResults)
	if err != nil {
		return err
	}
	extraction, err := marshalNullable("extraction", doc.Extraction)
	if err != nil {
		return err
	}
	compliance, err := marshalNullable("compliance", doc.Compliance)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO trade_documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`,
		doc.ID, doc.OwnerID, doc.ShipmentOrderID, doc.Filename, doc.MimeType, doc.StoragePath, doc.DocumentType,
		string(doc.Status), doc.Error, extraction, compliance, results, doc.ProcessingTimeMs, doc.ProcessedAt,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.TradeDocument, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM trade_documents WHERE id = $1`, id)

	var (
		doc                             domain.TradeDocument
		status                          string
		extraction, compliance, results []byte
		processedAt                     sql.NullTime
	)
	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.ShipmentOrderID, &doc.Filename, &doc.MimeType, &doc.StoragePath, &doc.DocumentType,
		&status, &doc.Error, &extraction, &compliance, &results, &doc.ProcessingTimeMs, &processedAt,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc.Status = domain.DocumentStatus(status)
	if processedAt.Valid {
		at := processedAt.Time
		doc.ProcessedAt = &at
	}
	if len(extraction) > 0 {
		doc.Extraction = &domain.Extraction{}
		if err := unmarshalJSON("extraction", extraction, doc.Extraction); err != nil {
			return nil, err
		}
	}
	if len(compliance) > 0 {
		doc.Compliance = &domain.ComplianceAnalysis{}
		if err := unmarshalJSON("compliance", compliance, doc.Compliance); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON("ai results", results, &doc.AIResults); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE trade_documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireAffected(result, "update document status", id)
}

// SaveExtraction stores the OCR output and its provenance entry in one
// statement so a later failure cannot lose it.
func (r *DocumentRepository) SaveExtraction(ctx context.Context, id string, extraction *domain.Extraction, step domain.StepResult) error {
	payload, err := marshalJSON("extraction", extraction)
	if err != nil {
		return err
	}
	stepJSON, err := marshalJSON("ocr step", step)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE trade_documents
SET extraction = $2, ai_results = jsonb_set(ai_results, '{ocr}', $3::jsonb, true), updated_at = $4
WHERE id = $1
`, id, payload, stepJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	return requireAffected(result, "save extraction", id)
}

func (r *DocumentRepository) SaveCompliance(ctx context.Context, id string, analysis *domain.ComplianceAnalysis, step domain.StepResult) error {
	payload, err := marshalJSON("compliance", analysis)
	if err != nil {
		return err
	}
	stepJSON, err := marshalJSON("compliance step", step)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE trade_documents
SET compliance = $2, ai_results = jsonb_set(ai_results, '{compliance}', $3::jsonb, true), updated_at = $4
WHERE id = $1
`, id, payload, stepJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save compliance: %w", err)
	}
	return requireAffected(result, "save compliance", id)
}

func (r *DocumentRepository) Finalize(
	ctx context.Context,
	id string,
	status domain.DocumentStatus,
	errMessage string,
	results domain.AIProcessingResults,
	processedAt time.Time,
) error {
	payload, err := marshalJSON("ai results", results)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE trade_documents
SET status = $2, error_message = $3, ai_results = $4, processing_time_ms = $5, processed_at = $6, updated_at = $6
WHERE id = $1
`, id, string(status), errMessage, payload, results.TotalProcessingMs, processedAt)
	if err != nil {
		return fmt.Errorf("finalize document: %w", err)
	}
	return requireAffected(result, "finalize document", id)
}

// ResetProcessing clears derived fields ahead of a reprocess run.
func (r *DocumentRepository) ResetProcessing(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE trade_documents
SET extraction = NULL, compliance = NULL, ai_results = '{}'::jsonb, error_message = '',
	processing_time_ms = 0, processed_at = NULL, updated_at = $2
WHERE id = $1
`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset document processing: %w", err)
	}
	return requireAffected(result, "reset document processing", id)
}
