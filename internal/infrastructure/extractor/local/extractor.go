package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
)

const (
	maxSourceBytes = 32 << 20

	extractionMethod = "local_fallback"
	// metadataConfidence is reported when no text layer could be read.
	metadataConfidence = 0.1
)

var errNoTextLayer = errors.New("no readable text layer")

// Extractor is the degraded OCR path: it reads text layers only (plain
// text, PDF text, spreadsheet cells) and derives fields with patterns.
// Input without a text layer, such as a scanned image, still yields a
// metadata record so the pipeline can move on to compliance.
type Extractor struct {
	storage ports.ObjectStorage
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.TradeDocument) (*domain.Extraction, error) {
	reader, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, maxSourceBytes))
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}

	text, err := textOf(doc, raw)
	if err != nil {
		slog.Warn("local_extract_degraded",
			"document_id", doc.ID,
			"filename", doc.Filename,
			"mime_type", doc.MimeType,
			"error", err,
		)
		text = ""
	}
	text = strings.TrimSpace(text)

	fields, entities := deriveFields(text)
	confidence := confidenceOf(fields)
	if text == "" {
		confidence = metadataConfidence
	}
	data := metadataOf(doc, text != "")
	for key, value := range fields {
		data[key] = value
	}
	return &domain.Extraction{
		Text:           text,
		Entities:       entities,
		StructuredData: data,
		Confidence:     confidence,
		Provider:       string(domain.ProviderLocalOCR),
	}, nil
}

func metadataOf(doc *domain.TradeDocument, textAvailable bool) map[string]any {
	return map[string]any{
		"documentType":     doc.DocumentType,
		"filename":         doc.Filename,
		"mimeType":         doc.MimeType,
		"extractionMethod": extractionMethod,
		"textAvailable":    textAvailable,
	}
}

func textOf(doc *domain.TradeDocument, raw []byte) (string, error) {
	switch formatOf(doc) {
	case "pdf":
		return pdfText(raw)
	case "xlsx":
		return spreadsheetText(raw)
	case "image":
		return "", nil
	default:
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("%s: %w", doc.Filename, errNoTextLayer)
		}
		return string(raw), nil
	}
}

func formatOf(doc *domain.TradeDocument) string {
	mime := strings.ToLower(doc.MimeType)
	ext := strings.ToLower(filepath.Ext(doc.Filename))
	switch {
	case mime == "application/pdf" || ext == ".pdf":
		return "pdf"
	case strings.Contains(mime, "spreadsheetml") || ext == ".xlsx":
		return "xlsx"
	case strings.HasPrefix(mime, "image/") || imageExtensions[ext]:
		return "image"
	default:
		return "text"
	}
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true, ".bmp": true, ".webp": true,
}

func pdfText(raw []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

// spreadsheetText flattens every sheet into "cell: cell" lines so the same
// label patterns apply to packing-list spreadsheets.
func spreadsheetText(raw []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if cell = strings.TrimSpace(cell); cell != "" {
					cells = append(cells, cell)
				}
			}
			if len(cells) > 0 {
				b.WriteString(strings.Join(cells, ": "))
				b.WriteByte('\n')
			}
		}
	}
	return b.String(), nil
}
