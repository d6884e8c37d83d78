package report

import (
	"math"
	"sort"
	"time"

	"github.com/saodatJustdice/review-analyzer/pkg/review"
)

// DaySentiment is the sentiment share of one day, in percent.
type DaySentiment struct {
	Day     time.Time                `json:"day"`
	Total   int                      `json:"total"`
	Percent map[review.Label]float64 `json:"percent"`
}

// DailySentiment returns the per-day sentiment share, oldest first. Undated
// reviews are ignored.
func DailySentiment(reviews []review.Review) []DaySentiment {
	counts := make(map[time.Time]map[review.Label]int)
	for i := range reviews {
		r := &reviews[i]
		if r.Date.IsZero() {
			continue
		}
		day := truncateDay(r.Date)
		if counts[day] == nil {
			counts[day] = make(map[review.Label]int)
		}
		counts[day][sentimentOf(r)]++
	}

	out := make([]DaySentiment, 0, len(counts))
	for day, byLabel := range counts {
		total := 0
		for _, n := range byLabel {
			total += n
		}
		ds := DaySentiment{Day: day, Total: total, Percent: make(map[review.Label]float64, 3)}
		for _, l := range review.Labels() {
			ds.Percent[l] = float64(byLabel[l]) * 100 / float64(total)
		}
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

// PeriodRating is the mean rating over a period starting at Start.
type PeriodRating struct {
	Start   time.Time `json:"start"`
	Count   int       `json:"count"`
	Average float64   `json:"average"`
}

// DailyRating returns the mean rating per day, oldest first.
func DailyRating(reviews []review.Review) []PeriodRating {
	return averageBy(reviews, truncateDay)
}

// WeeklyRating returns the mean rating per Monday-based week, oldest first.
func WeeklyRating(reviews []review.Review) []PeriodRating {
	return averageBy(reviews, weekStart)
}

func weekStart(t time.Time) time.Time {
	day := truncateDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func averageBy(reviews []review.Review, bucket func(time.Time) time.Time) []PeriodRating {
	type acc struct{ n, sum int }
	accs := make(map[time.Time]*acc)
	for _, r := range reviews {
		if r.Date.IsZero() {
			continue
		}
		k := bucket(r.Date)
		a := accs[k]
		if a == nil {
			a = &acc{}
			accs[k] = a
		}
		a.n++
		a.sum += r.Rating
	}

	out := make([]PeriodRating, 0, len(accs))
	for start, a := range accs {
		out = append(out, PeriodRating{Start: start, Count: a.n, Average: float64(a.sum) / float64(a.n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// TagTrend is the daily count of one tag.
type TagTrend struct {
	Tag    string         `json:"tag"`
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"` // keyed by YYYY-MM-DD
}

// TopTagTrends returns daily counts for the topN most frequent tags, in
// frequency order.
func TopTagTrends(reviews []review.Review, topN int) []TagTrend {
	freq := TagFrequency(reviews)
	if topN > 0 && len(freq) > topN {
		freq = freq[:topN]
	}

	out := make([]TagTrend, len(freq))
	index := make(map[string]int, len(freq))
	for i, tc := range freq {
		out[i] = TagTrend{Tag: tc.Tag, Counts: make(map[string]int)}
		index[tc.Tag] = i
	}
	for _, r := range reviews {
		if r.Date.IsZero() {
			continue
		}
		day := truncateDay(r.Date).Format("2006-01-02")
		for _, t := range r.Tags {
			if i, ok := index[t]; ok {
				out[i].Counts[day]++
				out[i].Total++
			}
		}
	}
	return out
}

// Correlation is the Pearson correlation between sentiment score and rating
// over enriched reviews. ok is false when it is undefined.
func Correlation(reviews []review.Review) (r float64, ok bool) {
	var xs, ys []float64
	for i := range reviews {
		if !reviews[i].Enriched() {
			continue
		}
		xs = append(xs, reviews[i].SentimentScore)
		ys = append(ys, float64(reviews[i].Rating))
	}
	if len(xs) < 2 {
		return 0, false
	}

	mx, my := mean(xs), mean(ys)
	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vy), true
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
