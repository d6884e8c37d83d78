package report

import (
	"sort"

	"github.com/saodatJustdice/review-analyzer/pkg/review"
)

// TagCount is a tag and the number of reviews carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Summary is the headline view of an app's reviews.
type Summary struct {
	Total         int                  `json:"total"`
	AverageRating float64              `json:"average_rating"`
	Sentiments    map[review.Label]int `json:"sentiments"`
	TopTags       []TagCount           `json:"top_tags"`
}

// Summarize computes totals over reviews, keeping the topN most frequent tags.
func Summarize(reviews []review.Review, topN int) Summary {
	s := Summary{
		Total:      len(reviews),
		Sentiments: make(map[review.Label]int, 3),
	}
	for _, l := range review.Labels() {
		s.Sentiments[l] = 0
	}
	if len(reviews) == 0 {
		return s
	}

	sum := 0
	for i := range reviews {
		sum += reviews[i].Rating
		s.Sentiments[sentimentOf(&reviews[i])]++
	}
	s.AverageRating = float64(sum) / float64(len(reviews))
	s.TopTags = TagFrequency(reviews)
	if topN > 0 && len(s.TopTags) > topN {
		s.TopTags = s.TopTags[:topN]
	}
	return s
}

// TagFrequency counts reviews per tag, most frequent first, ties by name.
func TagFrequency(reviews []review.Review) []TagCount {
	counts := make(map[string]int)
	for _, r := range reviews {
		for _, t := range r.Tags {
			counts[t]++
		}
	}

	out := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// RatingDistribution counts reviews per star rating. Index 0 holds unrated
// reviews.
func RatingDistribution(reviews []review.Review) [6]int {
	var dist [6]int
	for _, r := range reviews {
		if r.Rating >= 0 && r.Rating < len(dist) {
			dist[r.Rating]++
		}
	}
	return dist
}

// TagStat aggregates the reviews carrying one tag.
type TagStat struct {
	Tag                string  `json:"tag"`
	Count              int     `json:"count"`
	MeanSentimentScore float64 `json:"mean_sentiment_score"`
	MeanRating         float64 `json:"mean_rating"`
}

// TagStats returns per-tag means, most frequent first.
func TagStats(reviews []review.Review) []TagStat {
	type acc struct {
		n      int
		score  float64
		rating int
	}
	accs := make(map[string]*acc)
	for _, r := range reviews {
		for _, t := range r.Tags {
			a := accs[t]
			if a == nil {
				a = &acc{}
				accs[t] = a
			}
			a.n++
			a.score += r.SentimentScore
			a.rating += r.Rating
		}
	}

	out := make([]TagStat, 0, len(accs))
	for tag, a := range accs {
		out = append(out, TagStat{
			Tag:                tag,
			Count:              a.n,
			MeanSentimentScore: a.score / float64(a.n),
			MeanRating:         float64(a.rating) / float64(a.n),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// AllTags returns every tag used by reviews, sorted.
func AllTags(reviews []review.Review) []string {
	var tags []string
	for _, r := range reviews {
		tags = append(tags, r.Tags...)
	}
	return review.NormalizeTags(tags)
}
