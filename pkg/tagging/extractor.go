package tagging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// minLabelRunes is the shortest label kept; shorter spans are mostly pronouns.
const minLabelRunes = 3

// Parse holds the spans an NLP model found in a text.
type Parse struct {
	NounChunks []string `json:"noun_chunks"`
	Entities   []string `json:"entities"`
}

// Parser is a natural-language model that finds noun phrases and named
// entities.
type Parser interface {
	Parse(ctx context.Context, text string) (*Parse, error)
}

// Logger receives extractor failures. It matches the project logger.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
}

// Extractor turns review text into free-text tag labels.
type Extractor struct {
	parser Parser
	log    Logger
}

// NewExtractor creates an extractor over parser. log may be nil.
func NewExtractor(parser Parser, log Logger) *Extractor {
	return &Extractor{parser: parser, log: log}
}

// Extract returns sorted, deduplicated labels for text. It never fails:
// parser errors and panics yield no labels.
func (e *Extractor) Extract(ctx context.Context, text string) []string {
	if strings.TrimSpace(text) == "" || e.parser == nil {
		return nil
	}

	parsed, err := e.parse(ctx, strings.ToLower(text))
	if err != nil {
		if e.log != nil {
			e.log.Warn("tag extraction failed", "error", err)
		}
		return nil
	}
	if parsed == nil {
		return nil
	}

	seen := make(map[string]bool)
	var labels []string
	for _, spans := range [][]string{parsed.NounChunks, parsed.Entities} {
		for _, span := range spans {
			label := ToLabel(span)
			if utf8.RuneCountInString(label) < minLabelRunes || seen[label] {
				continue
			}
			seen[label] = true
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return labels
}

func (e *Extractor) parse(ctx context.Context, text string) (p *Parse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	return e.parser.Parse(ctx, text)
}

// ToLabel converts a span to a label: lowercased, trimmed, runs of whitespace
// and commas replaced by a single hyphen. Labels never contain the stored tag
// separator.
func ToLabel(span string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(span), isLabelBreak), "-")
}

func isLabelBreak(r rune) bool {
	return r == ',' || unicode.IsSpace(r)
}
