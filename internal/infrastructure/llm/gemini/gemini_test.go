package gemini

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/compliance"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/resilience"
)

type fakeGenerator struct {
	replies []string
	errs    []error
	calls   int
	models  []string
	parts   [][]genai.Part
}

func (f *fakeGenerator) GenerateJSON(_ context.Context, model string, parts ...genai.Part) (string, error) {
	idx := f.calls
	f.calls++
	f.models = append(f.models, model)
	f.parts = append(f.parts, parts)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	if idx < len(f.replies) {
		return f.replies[idx], nil
	}
	return f.replies[len(f.replies)-1], nil
}

type fileStorage map[string][]byte

func (s fileStorage) Save(context.Context, string, io.Reader) error { return nil }

func (s fileStorage) Delete(context.Context, string) error { return nil }

func (s fileStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := s[key]
	if !ok {
		return nil, errors.New("missing")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func newTestClient(gen generator, exec *resilience.Executor) *Client {
	return &Client{gen: gen, executor: exec}
}

func TestOCRSendsDocumentBlob(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"```json\n" + `{"text":"COMMERCIAL INVOICE","entities":[{"type":"invoice_number","value":"INV-9","confidence":0.97}],"structuredData":{"invoiceNumber":"INV-9","totalAmount":1500},"confidence":0.93}` + "\n```"}}
	storage := fileStorage{"doc-1_inv.pdf": []byte("%PDF-1.7 fake")}
	extractor := NewOCRExtractor(newTestClient(gen, nil), storage, "")

	extraction, err := extractor.Extract(context.Background(), &domain.TradeDocument{
		StoragePath:  "doc-1_inv.pdf",
		MimeType:     "application/pdf",
		DocumentType: "commercial_invoice",
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if extraction.Provider != string(domain.ProviderGeminiOCR) || extraction.Confidence != 0.93 {
		t.Fatalf("unexpected extraction: %+v", extraction)
	}
	if extraction.StructuredData["invoiceNumber"] != "INV-9" || len(extraction.Entities) != 1 {
		t.Fatalf("unexpected fields: %+v", extraction)
	}
	if gen.models[0] != DefaultOCRModel {
		t.Fatalf("expected default model, got %s", gen.models[0])
	}
	blob, ok := gen.parts[0][0].(genai.Blob)
	if !ok || blob.MIMEType != "application/pdf" || string(blob.Data) != "%PDF-1.7 fake" {
		t.Fatalf("unexpected first part: %#v", gen.parts[0][0])
	}
	prompt, _ := gen.parts[0][1].(genai.Text)
	if !strings.Contains(string(prompt), "commercial invoice") {
		t.Fatalf("prompt should name the document type: %s", prompt)
	}
}

func TestOCRDetectsMissingMimeType(t *testing.T) {
	gen := &fakeGenerator{replies: []string{`{"text":"x","structuredData":{}}`}}
	storage := fileStorage{"scan": []byte("\x89PNG\r\n\x1a\n0000")}
	_, err := NewOCRExtractor(newTestClient(gen, nil), storage, "m").Extract(context.Background(), &domain.TradeDocument{StoragePath: "scan"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	blob := gen.parts[0][0].(genai.Blob)
	if blob.MIMEType != "image/png" {
		t.Fatalf("expected sniffed image/png, got %s", blob.MIMEType)
	}
}

func TestOCRQuotaErrorIsTypedAndNotRetried(t *testing.T) {
	gen := &fakeGenerator{errs: []error{&googleapi.Error{Code: http.StatusTooManyRequests, Message: `quota exceeded, "retryDelay": "37s"`}}}
	exec := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 3, RetryInitialBackoff: time.Millisecond, BreakerEnabled: false})
	storage := fileStorage{"d": []byte("text")}

	_, err := NewOCRExtractor(newTestClient(gen, exec), storage, "m").Extract(context.Background(), &domain.TradeDocument{StoragePath: "d", MimeType: "text/plain"})
	if !domain.IsKind(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if !strings.Contains(err.Error(), "retryDelay") {
		t.Fatalf("retry hint must survive wrapping: %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("quota errors must not be retried, got %d calls", gen.calls)
	}
}

func TestOCRRetriesUnavailable(t *testing.T) {
	gen := &fakeGenerator{
		errs:    []error{status.Error(codes.Unavailable, "backend unavailable"), nil},
		replies: []string{"", `{"text":"ok","structuredData":{"a":"b"}}`},
	}
	exec := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 2, RetryInitialBackoff: time.Millisecond, BreakerEnabled: false})
	storage := fileStorage{"d": []byte("text")}

	extraction, err := NewOCRExtractor(newTestClient(gen, exec), storage, "m").Extract(context.Background(), &domain.TradeDocument{StoragePath: "d", MimeType: "text/plain"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if gen.calls != 2 || extraction.Text != "ok" {
		t.Fatalf("expected retry then success, calls=%d extraction=%+v", gen.calls, extraction)
	}
}

func TestClassifyGeminiError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind error
	}{
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "limit"), domain.ErrQuotaExceeded},
		{"http 503", &googleapi.Error{Code: 503}, domain.ErrTemporary},
		{"message marker", errors.New("googleapi: Error 429: Resource has been exhausted"), domain.ErrQuotaExceeded},
	}
	for _, tc := range cases {
		if err := classifyGeminiError("op", tc.err); !domain.IsKind(err, tc.kind) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.kind, err)
		}
	}
	plain := errors.New("invalid argument")
	if err := classifyGeminiError("op", plain); err != plain {
		t.Fatalf("unclassified errors pass through, got %v", err)
	}
}

func TestComplianceAnalyzerUsesRules(t *testing.T) {
	gen := &fakeGenerator{replies: []string{`{"verdict":"passed","isCompliant":true,"score":96,"errors":[],"corrections":[]}`}}
	rules, err := compliance.LoadRuleSet("")
	if err != nil {
		t.Fatalf("LoadRuleSet() error = %v", err)
	}
	analyzer := NewComplianceAnalyzer(newTestClient(gen, nil), rules, "gemini-pro")

	analysis, err := analyzer.Analyze(context.Background(), "bill_of_lading", &domain.Extraction{
		Text:           "BILL OF LADING",
		StructuredData: map[string]any{"blNumber": "MSKU1"},
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if analysis.Provider != string(domain.ProviderGemini) || analysis.Verdict != domain.CompliancePassed || analysis.Score != 96 {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}
	if analysis.Summary.TotalChecks != len(rules.For("bill_of_lading")) {
		t.Fatalf("expected rule count as total checks, got %+v", analysis.Summary)
	}
	prompt := string(gen.parts[0][0].(genai.Text))
	if !strings.Contains(prompt, "vessel name is missing") || gen.models[0] != "gemini-pro" {
		t.Fatalf("unexpected request: model=%s prompt=%s", gen.models[0], prompt)
	}
}
