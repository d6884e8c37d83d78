package tagging

import (
	"sort"
	"strings"
)

// Rules maps a tag name to its trigger keywords.
type Rules map[string][]string

// Names returns the tag names in sorted order.
func (r Rules) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of r.
func (r Rules) Clone() Rules {
	out := make(Rules, len(r))
	for name, kws := range r {
		out[name] = append([]string(nil), kws...)
	}
	return out
}

// ParseKeywords splits comma-separated curator input into trimmed,
// deduplicated keywords, keeping first-seen order.
func ParseKeywords(s string) []string {
	return CleanKeywords(strings.Split(s, ","))
}

// CleanKeywords trims keywords and drops blanks and duplicates.
func CleanKeywords(kws []string) []string {
	seen := make(map[string]bool, len(kws))
	var out []string
	for _, kw := range kws {
		kw = strings.TrimSpace(kw)
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

// DefaultRules is the rule set seeded for the bundled apps.
var DefaultRules = map[string]Rules{
	"cashgiraffe.app": {
		"bug":             {"crash", "bug", "error", "glitch", "freeze", "not working", "broken"},
		"feature-request": {"add", "wish", "feature", "please include", "need", "want"},
		"ui":              {"interface", "design", "layout", "look", "navigation", "confusing"},
		"performance":     {"slow", "lag", "fast", "speed", "loading", "delay"},
		"payment":         {"payment", "payout", "money", "cash", "withdraw", "transaction", "paid"},
		"rewards":         {"reward", "points", "bonus", "earn", "incentive", "credit"},
		"gameplay":        {"game", "level", "task", "challenge", "play", "mission", "quest"},
		"difficulty":      {"difficult", "hard", "easy", "challenging", "tough", "simple"},
		"fun":             {"fun", "enjoy", "enjoyable", "entertaining", "awesome"},
		"scam":            {"scam", "fake", "fraud", "not paying", "cheat"},
		"positive":        {"great", "awesome", "love", "excellent", "amazing", "fantastic"},
		"negative":        {"bad", "terrible", "hate", "awful", "horrible", "disappointed"},
	},
	"com.whatsapp": {
		"privacy":         {"privacy", "secure", "encryption", "data", "leak"},
		"chat":            {"chat", "message", "group", "conversation", "talk"},
		"call":            {"call", "voice", "video", "audio", "ring"},
		"connection":      {"connection", "network", "offline", "internet", "disconnected"},
		"notification":    {"notification", "alert", "ping", "sound", "silent"},
		"media":           {"photo", "video", "file", "share", "attachment"},
		"bug":             {"crash", "bug", "error", "glitch", "freeze"},
		"feature-request": {"add", "wish", "feature", "need", "want"},
		"ui":              {"interface", "design", "layout", "navigation"},
		"performance":     {"slow", "lag", "speed", "loading"},
		"positive":        {"great", "awesome", "love", "excellent"},
		"negative":        {"bad", "terrible", "hate", "awful"},
	},
}
