package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &DocumentRepository{db: db}, mock, func() { _ = db.Close() }
}

func documentRowColumns() []string {
	return []string{
		"id", "owner_id", "shipment_order_id", "filename", "mime_type", "storage_path", "document_type", "status",
		"error_message", "extraction", "compliance", "ai_results", "processing_time_ms", "processed_at", "created_at", "updated_at",
	}
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("FROM trade_documents").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDDecodesPipelineState(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(documentRowColumns()).AddRow(
		"doc-1", "exp-1", "o-1", "invoice.pdf", "application/pdf", "doc-1_invoice.pdf", "commercial_invoice", "completed",
		"", []byte(`{"text":"INV","entities":[],"structured_data":{"invoiceNumber":"INV-1"},"confidence":0.9,"provider":"gemini_ocr"}`),
		nil, []byte(`{"ocr":{"provider":"gemini_ocr","success":true}}`), int64(1200), now, now, now,
	)
	mock.ExpectQuery("FROM trade_documents").WithArgs("doc-1").WillReturnRows(rows)

	doc, err := repo.GetByID(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.Extraction == nil || doc.Extraction.StructuredData["invoiceNumber"] != "INV-1" {
		t.Fatalf("unexpected extraction: %+v", doc.Extraction)
	}
	if doc.Compliance != nil {
		t.Fatalf("expected nil compliance for NULL column")
	}
	if doc.AIResults.OCR == nil || doc.AIResults.OCR.Provider != "gemini_ocr" {
		t.Fatalf("unexpected ai results: %+v", doc.AIResults)
	}
	if doc.ProcessedAt == nil || !doc.ProcessedAt.Equal(now) {
		t.Fatalf("expected processed at %s, got %v", now, doc.ProcessedAt)
	}
}

func TestUpdateStatusReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE trade_documents").
		WithArgs("missing", string(domain.StatusProcessing), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", domain.StatusProcessing, "")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveExtractionSetsProvenanceEntry(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec(`jsonb_set\(ai_results, '\{ocr\}'`).
		WithArgs("doc-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveExtraction(context.Background(), "doc-1",
		&domain.Extraction{Text: "x", StructuredData: map[string]any{}},
		domain.StepResult{Provider: "local_ocr", Success: true})
	if err != nil {
		t.Fatalf("SaveExtraction() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFinalizeWritesStatusAndTiming(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE trade_documents").
		WithArgs("doc-1", string(domain.StatusFailed), "all providers failed", sqlmock.AnyArg(), int64(900), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Finalize(context.Background(), "doc-1", domain.StatusFailed, "all providers failed",
		domain.AIProcessingResults{TotalProcessingMs: 900}, at)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
