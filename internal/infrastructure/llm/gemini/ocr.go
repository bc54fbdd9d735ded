package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/compliance"
)

// Inline request payloads are capped by the API.
const maxInlineBytes = 18 << 20

const ocrPrompt = `You are an OCR engine for international trade documents.
Read the attached %s and return strict JSON object with keys:
text (full transcribed text), entities (array of {type, value, confidence}),
structuredData (object with camelCase keys such as invoiceNumber, documentDate, exporterName,
importerName, totalAmount, currency, incoterm, hsCode, packageCount, grossWeight, netWeight,
certificateNumber, originCountry, blNumber, vesselName, portOfLoading, portOfDischarge;
omit keys that are not present), confidence (number 0..1).
No markdown, no extra keys.`

type OCRExtractor struct {
	client  *Client
	storage ports.ObjectStorage
	model   string
}

func NewOCRExtractor(client *Client, storage ports.ObjectStorage, model string) *OCRExtractor {
	if model == "" {
		model = DefaultOCRModel
	}
	return &OCRExtractor{client: client, storage: storage, model: model}
}

func (e *OCRExtractor) Extract(ctx context.Context, doc *domain.TradeDocument) (*domain.Extraction, error) {
	reader, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, maxInlineBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	if len(raw) > maxInlineBytes {
		return nil, domain.Fail(domain.ErrInvalidInput, "gemini ocr", "document exceeds inline upload limit")
	}

	mimeType := doc.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(raw)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}

	respText, err := e.client.generateJSON(ctx, "gemini.ocr", e.model,
		genai.Blob{MIMEType: mimeType, Data: raw},
		genai.Text(fmt.Sprintf(ocrPrompt, strings.ReplaceAll(doc.DocumentType, "_", " "))),
	)
	if err != nil {
		return nil, err
	}
	return parseExtraction(respText)
}

func parseExtraction(raw string) (*domain.Extraction, error) {
	var reply struct {
		Text           string          `json:"text"`
		Entities       []domain.Entity `json:"entities"`
		StructuredData map[string]any  `json:"structuredData"`
		Confidence     float64         `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(compliance.ExtractJSONObject(raw)), &reply); err != nil {
		return nil, fmt.Errorf("parse ocr json: %w", err)
	}
	out := &domain.Extraction{
		Text:           strings.TrimSpace(reply.Text),
		Entities:       reply.Entities,
		StructuredData: reply.StructuredData,
		Confidence:     reply.Confidence,
		Provider:       string(domain.ProviderGeminiOCR),
	}
	if out.Entities == nil {
		out.Entities = []domain.Entity{}
	}
	if out.StructuredData == nil {
		out.StructuredData = map[string]any{}
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		out.Confidence = 0
	}
	return out, nil
}
