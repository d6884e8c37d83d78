package tagging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

type stubParser struct {
	parse *Parse
	err   error
	texts []string
}

func (s *stubParser) Parse(_ context.Context, text string) (*Parse, error) {
	s.texts = append(s.texts, text)
	return s.parse, s.err
}

type panicParser struct{}

func (panicParser) Parse(context.Context, string) (*Parse, error) { panic("model not loaded") }

func TestExtractLabels(t *testing.T) {
	p := &stubParser{parse: &Parse{
		NounChunks: []string{"the payout  button", "it", "daily rewards", "ui"},
		Entities:   []string{"PayPal", "daily rewards"},
	}}
	e := NewExtractor(p, nil)

	got := e.Extract(context.Background(), "The PayOut button never works with PayPal. Daily rewards are fine.")
	want := []string{"daily-rewards", "paypal", "the-payout-button"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if len(p.texts) != 1 || p.texts[0] != "the payout button never works with paypal. daily rewards are fine." {
		t.Fatalf("parser must receive lowercased text, got %q", p.texts)
	}
}

func TestExtractNeverFails(t *testing.T) {
	ctx := context.Background()
	cases := map[string]*Extractor{
		"error":     NewExtractor(&stubParser{err: errors.New("model unavailable")}, nil),
		"panic":     NewExtractor(panicParser{}, nil),
		"nil parse": NewExtractor(&stubParser{}, nil),
		"no parser": NewExtractor(nil, nil),
	}
	for name, e := range cases {
		if got := e.Extract(ctx, "some review text"); got != nil {
			t.Errorf("%s: expected no labels, got %v", name, got)
		}
	}
}

func TestExtractEmptyText(t *testing.T) {
	p := &stubParser{parse: &Parse{NounChunks: []string{"anything"}}}
	if got := NewExtractor(p, nil).Extract(context.Background(), ""); got != nil {
		t.Fatalf("expected no labels, got %v", got)
	}
	if len(p.texts) != 0 {
		t.Fatalf("parser called for empty text")
	}
}

func TestProseExtractorLabelsAreLongEnough(t *testing.T) {
	e := NewExtractor(NewProseParser(), nil)
	texts := []string{
		"The payout button is broken and support never answers.",
		"I love the daily rewards in this game",
		"I earned 1,000 coins today",
		"ok",
	}
	for _, text := range texts {
		for _, label := range e.Extract(context.Background(), text) {
			if utf8.RuneCountInString(label) <= 2 {
				t.Errorf("%q: label %q too short", text, label)
			}
			if strings.Contains(label, ",") {
				t.Errorf("%q: label %q contains the tag separator", text, label)
			}
		}
	}
}

func TestToLabel(t *testing.T) {
	tests := map[string]string{
		"  The Payout\tButton ": "the-payout-button",
		"1,000 coins today":     "1-000-coins-today",
		"fast , cheap":          "fast-cheap",
	}
	for in, want := range tests {
		if got := ToLabel(in); got != want {
			t.Errorf("ToLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractSplitsCommaSpans(t *testing.T) {
	p := &stubParser{parse: &Parse{NounChunks: []string{"1,000 coins today"}}}
	got := NewExtractor(p, nil).Extract(context.Background(), "I earned 1,000 coins today")
	if !reflect.DeepEqual(got, []string{"1-000-coins-today"}) {
		t.Fatalf("got %v", got)
	}
}

func TestLLMParserOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		content := "```json\n{\"noun_chunks\":[\"the payout\"],\"entities\":[\"paypal\"]}\n```"
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, content)
	}))
	defer srv.Close()

	p := NewLLMParser("openai", "", "key", srv.URL)
	got, err := p.Parse(context.Background(), "the payout via paypal")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := &Parse{NounChunks: []string{"the payout"}, Entities: []string{"paypal"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestLLMParserAnthropicError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"rate limited"}`)
	}))
	defer srv.Close()

	p := NewLLMParser("anthropic", "", "key", srv.URL)
	if _, err := p.Parse(context.Background(), "text"); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
	if got := NewExtractor(p, nil).Extract(context.Background(), "text"); got != nil {
		t.Fatalf("extractor must swallow parser errors, got %v", got)
	}
}
