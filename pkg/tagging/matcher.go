package tagging

import "strings"

// Matcher holds a lowercased snapshot of a rule set for substring matching.
type Matcher struct {
	names    []string
	keywords map[string][]string
}

// NewMatcher snapshots rules. Later changes to rules do not affect the matcher.
func NewMatcher(rules Rules) *Matcher {
	m := &Matcher{
		names:    rules.Names(),
		keywords: make(map[string][]string, len(rules)),
	}
	for name, kws := range rules {
		lowered := make([]string, 0, len(kws))
		for _, kw := range kws {
			// A blank keyword would be contained in every text.
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				lowered = append(lowered, kw)
			}
		}
		m.keywords[name] = lowered
	}
	return m
}

// Match returns the sorted names of every rule with at least one keyword
// contained in text. Containment is on raw substrings, so "cashless" fires a
// "cash" keyword.
func (m *Matcher) Match(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var tags []string
	for _, name := range m.names {
		for _, kw := range m.keywords[name] {
			if strings.Contains(lower, kw) {
				tags = append(tags, name)
				break
			}
		}
	}
	return tags
}

// Match is a one-shot helper for NewMatcher(rules).Match(text).
func Match(text string, rules Rules) []string {
	return NewMatcher(rules).Match(text)
}
