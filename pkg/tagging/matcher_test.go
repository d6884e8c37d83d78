package tagging

import (
	"reflect"
	"testing"
)

func TestMatchKeywordsAsSubstrings(t *testing.T) {
	rules := Rules{"bug": {"crash", "freeze"}}
	got := Match("App keeps crashing", rules)
	if !reflect.DeepEqual(got, []string{"bug"}) {
		t.Fatalf("got %v, want [bug]", got)
	}
}

func TestMatchIsCaseInsensitiveOnBothSides(t *testing.T) {
	rules := Rules{"payment": {"PayOut"}}
	if got := Match("Still waiting on my PAYOUT", rules); !reflect.DeepEqual(got, []string{"payment"}) {
		t.Fatalf("got %v", got)
	}
}

func TestMatchSubstringNotToken(t *testing.T) {
	rules := Rules{"payment": {"cash"}}
	if got := Match("the cashless option is nice", rules); len(got) != 1 {
		t.Fatalf("expected cashless to fire cash keyword, got %v", got)
	}
}

func TestMatchEmptyTextAndBlankKeywords(t *testing.T) {
	rules := Rules{"bug": {"crash"}, "all": {"", "  "}}
	if got := Match("", rules); got != nil {
		t.Fatalf("expected no tags for empty text, got %v", got)
	}
	if got := Match("works fine", rules); got != nil {
		t.Fatalf("blank keywords must not fire, got %v", got)
	}
}

func TestMatchIsDeterministicAndSorted(t *testing.T) {
	rules := DefaultRules["cashgiraffe.app"]
	text := "Great game but payout is slow and it crashed twice, scam?"
	first := Match(text, rules)
	want := []string{"bug", "gameplay", "payment", "performance", "positive", "scam"}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("got %v, want %v", first, want)
	}
	for i := 0; i < 20; i++ {
		if again := Match(text, rules); !reflect.DeepEqual(again, first) {
			t.Fatalf("run %d: %v != %v", i, again, first)
		}
	}
}

func TestMatcherSnapshotsRules(t *testing.T) {
	rules := Rules{"bug": {"crash"}}
	m := NewMatcher(rules)
	rules["ui"] = []string{"layout"}
	if got := m.Match("crash in the layout"); !reflect.DeepEqual(got, []string{"bug"}) {
		t.Fatalf("matcher picked up later rule change: %v", got)
	}
}

func TestParseKeywords(t *testing.T) {
	got := ParseKeywords(" crash, freeze ,,crash, not working ")
	want := []string{"crash", "freeze", "not working"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
