package local

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

type fieldPattern struct {
	field   string
	entity  string
	numeric bool
	re      *regexp.Regexp
}

func labelled(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^\s*(?:` + label + `)\s*(?:no\.?|number|name|#)?\s*[:\-]\s*(.+?)\s*$`)
}

var fieldPatterns = []fieldPattern{
	{field: "invoiceNumber", entity: "invoice_number", re: labelled(`invoice`)},
	{field: "documentDate", entity: "date", re: labelled(`(?:invoice\s+|issue\s+)?date`)},
	{field: "exporterName", entity: "organization", re: labelled(`exporter|seller|shipper`)},
	{field: "importerName", entity: "organization", re: labelled(`importer|buyer|consignee`)},
	{field: "totalAmount", entity: "amount", numeric: true, re: labelled(`total(?:\s+amount|\s+value)?`)},
	{field: "currency", entity: "currency", re: labelled(`currency`)},
	{field: "incoterm", entity: "incoterm", re: labelled(`incoterms?(?:\s+2020)?|terms\s+of\s+delivery`)},
	{field: "hsCode", entity: "hs_code", re: labelled(`hs\s*code|tariff\s+code`)},
	{field: "packageCount", entity: "quantity", numeric: true, re: labelled(`(?:number\s+of\s+)?packages|total\s+packages`)},
	{field: "grossWeight", entity: "weight", numeric: true, re: labelled(`gross\s+weight`)},
	{field: "netWeight", entity: "weight", numeric: true, re: labelled(`net\s+weight`)},
	{field: "certificateNumber", entity: "certificate_number", re: labelled(`certificate`)},
	{field: "originCountry", entity: "country", re: labelled(`(?:country\s+of\s+)?origin`)},
	{field: "blNumber", entity: "bl_number", re: labelled(`b/?l|bill\s+of\s+lading`)},
	{field: "vesselName", entity: "vessel", re: labelled(`vessel`)},
	{field: "portOfLoading", entity: "port", re: labelled(`port\s+of\s+loading`)},
	{field: "portOfDischarge", entity: "port", re: labelled(`port\s+of\s+discharge`)},
}

var currencyCode = regexp.MustCompile(`\b(USD|EUR|GBP|CNY|JPY|INR|AED|SGD)\b`)

// deriveFields picks the first labelled value per field.
func deriveFields(text string) (map[string]any, []domain.Entity) {
	fields := map[string]any{}
	entities := []domain.Entity{}
	for _, p := range fieldPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[1])
		if value == "" {
			continue
		}
		if p.numeric {
			n, ok := parseNumber(value)
			if !ok {
				continue
			}
			fields[p.field] = n
		} else {
			fields[p.field] = value
		}
		entities = append(entities, domain.Entity{Type: p.entity, Value: value, Confidence: 0.5})
	}
	if _, ok := fields["currency"]; !ok {
		if code := currencyCode.FindString(text); code != "" {
			fields["currency"] = code
		}
	}
	return fields, entities
}

func parseNumber(value string) (float64, bool) {
	var b strings.Builder
	for _, r := range value {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
			continue
		}
		if r == ',' {
			continue
		}
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.ParseFloat(b.String(), 64)
	return n, err == nil
}

// confidenceOf grows with the number of recognised fields and stays below
// what a real OCR provider reports.
func confidenceOf(fields map[string]any) float64 {
	c := 0.3 + 0.05*float64(len(fields))
	if c > 0.6 {
		c = 0.6
	}
	return c
}
