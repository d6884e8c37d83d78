package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/saodatJustdice/review-analyzer/pkg/review"
)

// Filter selects reviews for display. Zero fields do not filter.
type Filter struct {
	Sentiments []review.Label
	MinRating  int
	MaxRating  int
	// Tags matches reviews carrying any of the listed tags.
	Tags []string
	// From and To bound the authorship day, inclusive.
	From time.Time
	To   time.Time
}

// Apply returns the reviews matching f, preserving order.
func (f Filter) Apply(reviews []review.Review) []review.Review {
	var out []review.Review
	for i := range reviews {
		if f.matches(&reviews[i]) {
			out = append(out, reviews[i])
		}
	}
	return out
}

func (f Filter) matches(r *review.Review) bool {
	if len(f.Sentiments) > 0 && !containsLabel(f.Sentiments, sentimentOf(r)) {
		return false
	}
	if f.MinRating > 0 && r.Rating < f.MinRating {
		return false
	}
	if f.MaxRating > 0 && r.Rating > f.MaxRating {
		return false
	}
	if len(f.Tags) > 0 {
		hit := false
		for _, t := range f.Tags {
			if r.HasTag(t) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		if r.Date.IsZero() {
			return false
		}
		day := truncateDay(r.Date)
		if !f.From.IsZero() && day.Before(truncateDay(f.From)) {
			return false
		}
		if !f.To.IsZero() && day.After(truncateDay(f.To)) {
			return false
		}
	}
	return true
}

func containsLabel(labels []review.Label, l review.Label) bool {
	for _, x := range labels {
		if x == l {
			return true
		}
	}
	return false
}

// sentimentOf treats unenriched reviews as neutral.
func sentimentOf(r *review.Review) review.Label {
	if r.Sentiment == "" {
		return review.Neutral
	}
	return r.Sentiment
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DisplayNames maps review ids to a display name. When any username repeats
// within reviews, every name is suffixed with the last four characters of its
// review id.
func DisplayNames(reviews []review.Review) map[string]string {
	seen := make(map[string]bool, len(reviews))
	dup := false
	for _, r := range reviews {
		if seen[r.Username] {
			dup = true
			break
		}
		seen[r.Username] = true
	}

	out := make(map[string]string, len(reviews))
	for _, r := range reviews {
		if !dup {
			out[r.ReviewID] = r.Username
			continue
		}
		id := r.ReviewID
		if len(id) > 4 {
			id = id[len(id)-4:]
		}
		out[r.ReviewID] = fmt.Sprintf("%s (ID: %s)", r.Username, id)
	}
	return out
}

// ParseLabels parses a comma-separated list of sentiment labels,
// case-insensitively.
func ParseLabels(s string) ([]review.Label, error) {
	var out []review.Label
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		l := review.Label(strings.ToUpper(part[:1]) + strings.ToLower(part[1:]))
		if !l.Valid() {
			return nil, fmt.Errorf("unknown sentiment %q", part)
		}
		if !containsLabel(out, l) {
			out = append(out, l)
		}
	}
	return out, nil
}

// ParseDay parses a YYYY-MM-DD day in UTC. An empty string is the zero time.
func ParseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q, want YYYY-MM-DD", s)
	}
	return t, nil
}
