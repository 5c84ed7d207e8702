package ingest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cxrgraph/cxrgraph-api/internal/domain/models"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/infrastructure/resilience"
	"github.com/cxrgraph/cxrgraph-api/internal/logging"
)

var extractLog = logging.Component("Extractor")

// ExtractionStrategy turns report text into entities and relationships.
type ExtractionStrategy interface {
	Name() string
	Extract(ctx context.Context, text string) (models.Extraction, error)
}

// LLMExtractor asks the extraction model for delimited records and parses
// them. Every collaborator failure is reported as
// repository.ErrExtractionUnavailable.
type LLMExtractor struct {
	router  repository.LLMRouter
	parser  *Parser
	prompts PromptBuilder
	breaker *resilience.CircuitBreaker
}

// NewLLMExtractor creates the primary extractor. A nil parser uses the
// default delimiters.
func NewLLMExtractor(router repository.LLMRouter, parser *Parser, entityTypes []string) *LLMExtractor {
	if parser == nil {
		parser = NewParser()
	}
	return &LLMExtractor{
		router:  router,
		parser:  parser,
		prompts: PromptBuilder{EntityTypes: entityTypes, Parser: parser},
		breaker: resilience.NewCircuitBreaker("extraction-llm", 3, 30*time.Second),
	}
}

func (e *LLMExtractor) Name() string { return "llm" }

func (e *LLMExtractor) Extract(ctx context.Context, text string) (models.Extraction, error) {
	if e.router == nil {
		return models.Extraction{}, fmt.Errorf("no extraction router: %w", repository.ErrExtractionUnavailable)
	}
	client := e.router.RouteLLMTask(repository.TaskEntityExtraction)
	if client == nil {
		return models.Extraction{}, fmt.Errorf("no extraction model configured: %w", repository.ErrExtractionUnavailable)
	}

	var raw string
	err := e.breaker.Execute(func() error {
		var genErr error
		raw, genErr = client.Generate(ctx, e.prompts.Build(text))
		return genErr
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Extraction{}, ctxErr
		}
		return models.Extraction{}, fmt.Errorf("%s: %v: %w", client.Name(), err, repository.ErrExtractionUnavailable)
	}

	return e.parser.ParseExtraction(raw), nil
}

// lexicon maps chest X-ray terms to entity categories.
var lexicon = map[string][]string{
	"ANATOMY": {
		"lung", "lungs", "heart", "cardiac silhouette", "cardiomediastinal silhouette",
		"mediastinum", "mediastinal contours", "hilum", "hila", "pleura", "pleural space",
		"diaphragm", "hemidiaphragm", "costophrenic angle", "costophrenic angles",
		"trachea", "aorta", "thoracic aorta", "thoracic spine", "spine", "ribs", "rib",
		"clavicle", "lung apex", "lung base", "lung bases", "pulmonary vasculature",
		"soft tissues", "bony structures", "osseous structures",
	},
	"FINDING": {
		"opacity", "opacities", "airspace disease", "consolidation", "pleural effusion",
		"effusion", "pneumothorax", "atelectasis", "cardiomegaly", "edema",
		"pulmonary edema", "nodule", "nodules", "mass", "granuloma", "granulomas",
		"calcified granuloma", "infiltrate", "scarring", "hyperinflation",
		"hyperexpansion", "calcification", "degenerative changes", "fracture",
		"tortuous aorta", "interstitial markings", "thickening", "lucency",
	},
	"DISEASE": {
		"pneumonia", "emphysema", "copd", "tuberculosis", "heart failure",
		"congestive heart failure", "sarcoidosis", "fibrosis", "pulmonary fibrosis",
		"malignancy", "metastasis", "scoliosis", "osteopenia",
	},
	"DEVICE": {
		"pacemaker", "catheter", "central venous catheter", "endotracheal tube",
		"tube", "sternotomy wires", "surgical clips", "clips", "stent", "port",
		"picc", "chest tube",
	},
	"PROCEDURE": {
		"sternotomy", "cabg", "lobectomy", "thoracotomy", "cholecystectomy",
	},
}

// LexiconExtractor is the low-fidelity fallback. It recognizes lexicon
// terms and never produces relationships.
type LexiconExtractor struct {
	pattern  *regexp.Regexp
	category map[string]string
}

// NewLexiconExtractor compiles the built-in chest X-ray lexicon.
func NewLexiconExtractor() *LexiconExtractor {
	category := make(map[string]string)
	var terms []string
	for cat, words := range lexicon {
		for _, w := range words {
			category[w] = cat
			terms = append(terms, w)
		}
	}
	// Longest first so leftmost-first alternation prefers the longest term.
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})

	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(t), " ", `\s+`)
	}
	return &LexiconExtractor{
		pattern:  regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`),
		category: category,
	}
}

func (e *LexiconExtractor) Name() string { return "lexicon" }

func (e *LexiconExtractor) Extract(_ context.Context, text string) (models.Extraction, error) {
	var out models.Extraction
	seen := make(map[string]bool)
	for _, m := range e.pattern.FindAllString(text, -1) {
		term := strings.ToLower(strings.Join(strings.Fields(m), " "))
		cat, ok := e.category[term]
		if !ok {
			continue
		}
		name := strings.ToUpper(term)
		if seen[name] {
			continue
		}
		seen[name] = true
		out.Entities = append(out.Entities, models.Entity{
			Name:        name,
			Type:        strings.ToLower(cat),
			Description: "lexicon label=" + cat,
		})
	}
	return out, nil
}

// FallbackPolicy runs Primary and switches to Fallback when the primary
// extractor is unavailable. A nil Primary always uses Fallback.
type FallbackPolicy struct {
	Primary  ExtractionStrategy
	Fallback ExtractionStrategy
}

// Extract returns the extraction and the name of the strategy that
// produced it.
func (p *FallbackPolicy) Extract(ctx context.Context, text string) (models.Extraction, string, error) {
	if p.Primary != nil {
		ext, err := p.Primary.Extract(ctx, text)
		if err == nil {
			return ext, p.Primary.Name(), nil
		}
		if !errors.Is(err, repository.ErrExtractionUnavailable) || p.Fallback == nil {
			return models.Extraction{}, p.Primary.Name(), err
		}
		extractLog.Warn("extraction failed, using fallback", "primary", p.Primary.Name(), "fallback", p.Fallback.Name(), "err", err)
	}
	if p.Fallback == nil {
		return models.Extraction{}, "", fmt.Errorf("no extraction strategy configured: %w", repository.ErrExtractionUnavailable)
	}

	ext, err := p.Fallback.Extract(ctx, text)
	return ext, p.Fallback.Name(), err
}
