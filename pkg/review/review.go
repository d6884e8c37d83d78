package review

import (
	"sort"
	"strings"
	"time"
)

// Label is a sentiment class.
type Label string

const (
	Positive Label = "Positive"
	Negative Label = "Negative"
	Neutral  Label = "Neutral"
)

// Labels returns all sentiment labels in display order.
func Labels() []Label {
	return []Label{Positive, Negative, Neutral}
}

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	switch l {
	case Positive, Negative, Neutral:
		return true
	}
	return false
}

// Review is one stored app-store review.
//
// Sentiment is empty until enrichment has run; SentimentScore is only
// meaningful when Sentiment is set. Tags is nil when the review carries no tags.
type Review struct {
	AppID          string    `json:"app_id"`
	ReviewID       string    `json:"review_id"`
	Username       string    `json:"username"`
	Date           time.Time `json:"date"`
	Rating         int       `json:"rating"`
	Text           string    `json:"review_text"`
	Sentiment      Label     `json:"sentiment,omitempty"`
	SentimentScore float64   `json:"sentiment_score"`
	Tags           []string  `json:"tags"`
}

// Enriched reports whether sentiment has been assigned.
func (r *Review) Enriched() bool {
	return r.Sentiment != ""
}

// HasTag reports whether the review carries tag.
func (r *Review) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TagSeparator joins tags in their stored form; no tag may contain it.
const TagSeparator = ","

// ValidateTag rejects a tag that is blank or would not survive JoinTags and
// SplitTags unchanged.
func ValidateTag(op, tag string) error {
	if strings.TrimSpace(tag) == "" {
		return ValidationError(op, "tag name must be non-empty")
	}
	if strings.Contains(tag, TagSeparator) {
		return ValidationError(op, "tag %q must not contain %q", tag, TagSeparator)
	}
	return nil
}

// ValidateTags applies ValidateTag to every tag.
func ValidateTags(op string, tags []string) error {
	for _, t := range tags {
		if err := ValidateTag(op, t); err != nil {
			return err
		}
	}
	return nil
}

// JoinTags serializes a tag set. Tags are deduplicated and sorted so equal sets
// always serialize to the same string. An empty set yields "".
func JoinTags(tags []string) string {
	return strings.Join(NormalizeTags(tags), TagSeparator)
}

// SplitTags parses a serialized tag set. Blank entries are dropped.
func SplitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return NormalizeTags(strings.Split(s, TagSeparator))
}

// NormalizeTags trims, deduplicates and sorts tags. It returns nil for an
// empty result.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// RemoveTag returns tags without tag and whether anything was removed.
func RemoveTag(tags []string, tag string) ([]string, bool) {
	var out []string
	removed := false
	for _, t := range tags {
		if t == tag {
			removed = true
			continue
		}
		out = append(out, t)
	}
	return out, removed
}
