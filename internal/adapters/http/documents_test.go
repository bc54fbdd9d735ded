package httpadapter

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/trade-docs-backend/internal/config"
	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/observability/metrics"
)

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("WriteField() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestUploadDocumentSuccess(t *testing.T) {
	services := newTestServices()
	httpMetrics := metrics.NewHTTPServerMetrics("api")
	handler := newTestHandlerWithMetrics(config.Config{}, services, httpMetrics)

	body, contentType := multipartUpload(t, map[string]string{
		"documentType":    "commercial_invoice",
		"shipmentOrderId": "ord-1",
	}, "invoice.txt", []byte("Invoice No: INV-1"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, exporterUser))

	res, env := serve(t, handler, req)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", res.Code, env.Message)
	}
	if services.documents.input.DocumentType != "commercial_invoice" || services.documents.input.ShipmentOrderID != "ord-1" {
		t.Fatalf("unexpected upload input: %+v", services.documents.input)
	}
	if string(services.documents.body) != "Invoice No: INV-1" {
		t.Fatalf("unexpected body: %q", services.documents.body)
	}

	var doc domain.TradeDocument
	if err := json.Unmarshal(env.Data, &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.ID != "doc-1" || doc.Status != domain.StatusUploading {
		t.Fatalf("unexpected document: %+v", doc)
	}

	scrape := httptest.NewRecorder()
	handler.ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(scrape.Body.String(), `tdb_documents_uploads_total{document_type="commercial_invoice",service="api"} 1`) {
		t.Fatalf("expected upload counter in metrics output")
	}
}

func TestUploadDocumentMissingFile(t *testing.T) {
	handler := newTestHandler(config.Config{}, nil)

	body, contentType := multipartUpload(t, map[string]string{"documentType": "packing_list"}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, exporterUser))

	res, env := serve(t, handler, req)
	if res.Code != http.StatusBadRequest || env.Code != codeInvalidInput {
		t.Fatalf("expected 400 invalid_input, got %d %q", res.Code, env.Code)
	}
}

func TestUploadDocumentRejectsNonMultipart(t *testing.T) {
	handler := newTestHandler(config.Config{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", strings.NewReader("plain-text"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, exporterUser))

	res, _ := serve(t, handler, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestProcessingStatusIsRepeatable(t *testing.T) {
	handler := newTestHandler(config.Config{}, nil)

	var first string
	for i := 0; i < 2; i++ {
		req := authorizedRequest(t, http.MethodGet, "/api/documents/doc-1/processing-status", nil, exporterUser)
		res, env := serve(t, handler, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", res.Code)
		}
		if i == 0 {
			first = string(env.Data)
			continue
		}
		if string(env.Data) != first {
			t.Fatalf("expected identical payloads, got %s vs %s", first, env.Data)
		}
	}
}

func TestBatchProcessQueuesDocuments(t *testing.T) {
	services := newTestServices()
	handler := newTestHandler(config.Config{}, services)

	req := authorizedRequest(t, http.MethodPost, "/api/documents/batch-process", map[string]any{"documentIds": []string{"doc-1", "doc-2"}}, exporterUser)
	res, env := serve(t, handler, req)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", res.Code, env.Message)
	}
	var payload map[string]int
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["queued"] != 2 || len(services.documents.batchIDs) != 2 {
		t.Fatalf("unexpected batch result: %+v %v", payload, services.documents.batchIDs)
	}
}

func TestReprocessOfProcessingDocumentReturns400(t *testing.T) {
	services := newTestServices()
	services.documents.err = domain.Fail(domain.ErrInvalidState, "reprocess document", "document is already being processed")
	handler := newTestHandler(config.Config{}, services)

	req := authorizedRequest(t, http.MethodPost, "/api/documents/doc-1/reprocess", nil, exporterUser)
	res, env := serve(t, handler, req)
	if res.Code != http.StatusBadRequest || env.Code != codeInvalidState {
		t.Fatalf("expected 400 invalid_state, got %d %q", res.Code, env.Code)
	}
}

func TestQuotaRoutes(t *testing.T) {
	services := newTestServices()
	handler := newTestHandler(config.Config{}, services)

	req := authorizedRequest(t, http.MethodGet, "/api/ai/quota-status", nil, adminUser)
	res, env := serve(t, handler, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var quotas []domain.ProviderQuota
	if err := json.Unmarshal(env.Data, &quotas); err != nil {
		t.Fatalf("decode quotas: %v", err)
	}
	if len(quotas) != 1 || quotas[0].Provider != domain.ProviderGemini {
		t.Fatalf("unexpected quotas: %+v", quotas)
	}

	req = authorizedRequest(t, http.MethodPost, "/api/ai/quota/gemini_ocr/reset", nil, adminUser)
	res, _ = serve(t, handler, req)
	if res.Code != http.StatusOK || services.quota.reset != domain.ProviderGeminiOCR {
		t.Fatalf("expected reset of gemini_ocr, got %d %q", res.Code, services.quota.reset)
	}
}

func TestQuotaRoutesOnlyWhereQuotaIsServed(t *testing.T) {
	services := newTestServices()
	bundle := services.bundle()
	bundle.Quota = nil
	users := usersFake{adminUser.ID: adminUser}
	handler := NewRouter(config.Config{JWTSecret: testSecret}, bundle, users, nil).Handler()

	req := authorizedRequest(t, http.MethodGet, "/api/ai/quota-status", nil, adminUser)
	res, _ := serve(t, handler, req)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a quota service, got %d", res.Code)
	}

	workerOnly := NewRouter(config.Config{JWTSecret: testSecret}, Services{Quota: services.quota}, users, nil).Handler()
	req = authorizedRequest(t, http.MethodGet, "/api/shipment-orders", nil, adminUser)
	res, _ = serve(t, workerOnly, req)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for order routes on a quota-only router, got %d", res.Code)
	}
	req = authorizedRequest(t, http.MethodGet, "/api/ai/quota-status", nil, adminUser)
	res, _ = serve(t, workerOnly, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected quota status on a quota-only router, got %d", res.Code)
	}
}
