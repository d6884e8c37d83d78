package tagging

import (
	"context"
	"strings"

	"github.com/jdkato/prose/v2"
)

// ProseParser finds noun chunks from part-of-speech tags and named entities
// with the prose English models. It runs locally.
type ProseParser struct{}

// NewProseParser creates a local parser.
func NewProseParser() *ProseParser {
	return &ProseParser{}
}

func (p *ProseParser) Parse(ctx context.Context, text string) (*Parse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil, err
	}

	out := &Parse{NounChunks: nounChunks(doc.Tokens())}
	for _, ent := range doc.Entities() {
		out.Entities = append(out.Entities, ent.Text)
	}
	return out, nil
}

// nounChunks groups maximal runs of determiner/adjective/noun tokens that end
// in a noun, e.g. "the payout button" or "great rewards".
func nounChunks(tokens []prose.Token) []string {
	var (
		chunks []string
		run    []prose.Token
	)
	flush := func() {
		// Trim trailing modifiers so the chunk ends on its head noun.
		end := len(run)
		for end > 0 && !isNoun(run[end-1].Tag) {
			end--
		}
		if end > 0 {
			words := make([]string, end)
			for i, tok := range run[:end] {
				words[i] = tok.Text
			}
			chunks = append(chunks, strings.Join(words, " "))
		}
		run = run[:0]
	}

	for _, tok := range tokens {
		if isNoun(tok.Tag) || isModifier(tok.Tag) {
			run = append(run, tok)
			continue
		}
		flush()
	}
	flush()
	return chunks
}

func isNoun(tag string) bool {
	switch tag {
	case "NN", "NNS", "NNP", "NNPS":
		return true
	}
	return false
}

func isModifier(tag string) bool {
	switch tag {
	case "DT", "PRP$", "JJ", "JJR", "JJS", "CD", "POS":
		return true
	}
	return false
}
