package ingest

import (
	"strings"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/models"
	"github.com/cxrgraph/cxrgraph-api/internal/logging"
)

// Default delimiters of the extraction output format.
const (
	DefaultTupleDelimiter      = "<|>"
	DefaultRecordDelimiter     = "##"
	DefaultCompletionDelimiter = "<|COMPLETE|>"
)

var parserLog = logging.Component("Parser")

// Parser turns delimited extraction output into typed records.
// Malformed records are dropped one by one; parsing never fails.
type Parser struct {
	TupleDelimiter      string
	RecordDelimiter     string
	CompletionDelimiter string
}

// NewParser returns a parser using the default delimiters.
func NewParser() *Parser {
	return &Parser{
		TupleDelimiter:      DefaultTupleDelimiter,
		RecordDelimiter:     DefaultRecordDelimiter,
		CompletionDelimiter: DefaultCompletionDelimiter,
	}
}

// Parse returns the entity and relationship records found in raw, in
// input order.
func (p *Parser) Parse(raw string) []models.Record {
	if p.CompletionDelimiter != "" {
		raw, _, _ = strings.Cut(raw, p.CompletionDelimiter)
	}

	var records []models.Record
	dropped := 0
	for _, chunk := range strings.Split(raw, p.RecordDelimiter) {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		rec, ok := p.parseRecord(chunk)
		if !ok {
			dropped++
			continue
		}
		records = append(records, rec)
	}

	if dropped > 0 {
		parserLog.Debug("dropped malformed records", "count", dropped, "kept", len(records))
	}
	return records
}

// ParseExtraction parses raw and splits the records.
func (p *Parser) ParseExtraction(raw string) models.Extraction {
	return models.Split(p.Parse(raw))
}

func (p *Parser) parseRecord(chunk string) (models.Record, bool) {
	body := strings.Trim(strings.TrimSpace(chunk), "() \t\r\n")
	parts := strings.Split(body, p.TupleDelimiter)
	for i, part := range parts {
		parts[i] = trimField(part)
	}

	switch strings.ToLower(parts[0]) {
	case "entity":
		if len(parts) < 4 {
			return models.Record{}, false
		}
		return models.Record{
			Kind: models.RecordEntity,
			Entity: models.Entity{
				Name:        parts[1],
				Type:        parts[2],
				Description: parts[3],
			},
		}, true
	case "relationship":
		if len(parts) < 5 {
			return models.Record{}, false
		}
		return models.Record{
			Kind: models.RecordRelationship,
			Relationship: models.Relationship{
				Source:      parts[1],
				Target:      parts[2],
				Description: parts[3],
				Strength:    parts[4],
			},
		}, true
	default:
		return models.Record{}, false
	}
}

func trimField(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
}
