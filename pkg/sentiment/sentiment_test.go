package sentiment

import (
	"errors"
	"math"
	"testing"

	"github.com/saodatJustdice/review-analyzer/pkg/review"
)

type fixedOracle struct {
	score float64
	err   error
	calls int
}

func (f *fixedOracle) Compound(string) (float64, error) {
	f.calls++
	return f.score, f.err
}

type panicOracle struct{}

func (panicOracle) Compound(string) (float64, error) { panic("lexicon missing") }

func TestClassifyThresholdsAreInclusive(t *testing.T) {
	tests := []struct {
		score float64
		want  review.Label
	}{
		{0.05, review.Positive},
		{0.0500001, review.Positive},
		{0.0499, review.Neutral},
		{0, review.Neutral},
		{-0.0499, review.Neutral},
		{-0.05, review.Negative},
		{-0.9, review.Negative},
	}
	for _, tt := range tests {
		c := New(&fixedOracle{score: tt.score})
		got := c.Classify("some text")
		if got.Label != tt.want {
			t.Errorf("score %v: got %s, want %s", tt.score, got.Label, tt.want)
		}
		if got.Score != tt.score {
			t.Errorf("score %v: got score %v", tt.score, got.Score)
		}
	}
}

func TestClassifyAbsentTextSkipsOracle(t *testing.T) {
	o := &fixedOracle{score: 0.9}
	c := New(o)
	for _, text := range []string{"", "   \n"} {
		got := c.Classify(text)
		if got.Label != review.Neutral || got.Score != 0 {
			t.Fatalf("Classify(%q) = %+v, want Neutral/0", text, got)
		}
	}
	if o.calls != 0 {
		t.Fatalf("oracle called %d times for absent text", o.calls)
	}
}

func TestClassifyOracleFailuresDegradeToNeutral(t *testing.T) {
	oracles := []Oracle{
		&fixedOracle{err: errors.New("boom")},
		&fixedOracle{score: math.NaN()},
		panicOracle{},
	}
	for i, o := range oracles {
		got := New(o).Classify("terrible app")
		if got.Label != review.Neutral || got.Score != 0 {
			t.Errorf("oracle %d: got %+v, want Neutral/0", i, got)
		}
	}
}

func TestClassifyClampsScore(t *testing.T) {
	got := New(&fixedOracle{score: 1.7}).Classify("x")
	if got.Score != 1 || got.Label != review.Positive {
		t.Fatalf("got %+v", got)
	}
	got = New(&fixedOracle{score: -3}).Classify("x")
	if got.Score != -1 || got.Label != review.Negative {
		t.Fatalf("got %+v", got)
	}
}

func TestVaderPositiveReview(t *testing.T) {
	got := New(nil).Classify("I love this app, excellent!")
	if got.Label != review.Positive {
		t.Fatalf("expected Positive, got %+v", got)
	}
	if got.Score <= Threshold {
		t.Fatalf("expected score above %v, got %v", Threshold, got.Score)
	}
}

func TestVaderScoresStayInRange(t *testing.T) {
	c := New(nil)
	texts := []string{
		"App keeps crashing, worst thing ever, I hate it!!!",
		"ok",
		"The payout arrived on time.",
		"AMAZING!!! love love love",
		"not bad, not great",
	}
	for _, text := range texts {
		got := c.Classify(text)
		if !got.Label.Valid() {
			t.Errorf("%q: invalid label %q", text, got.Label)
		}
		if got.Score < -1 || got.Score > 1 {
			t.Errorf("%q: score %v out of range", text, got.Score)
		}
		if again := c.Classify(text); again != got {
			t.Errorf("%q: non-deterministic result %+v vs %+v", text, got, again)
		}
	}
}
