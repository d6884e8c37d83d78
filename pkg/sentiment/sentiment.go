// Package sentiment labels review text as Positive, Negative or Neutral from
// a VADER compound polarity score.
package sentiment

import (
	"fmt"
	"math"
	"strings"

	"github.com/jonreiter/govader"

	"github.com/saodatJustdice/review-analyzer/pkg/review"
)

// Threshold is the absolute compound score at which text stops being neutral.
// Both bounds are inclusive: >= Threshold is positive, <= -Threshold is negative.
const Threshold = 0.05

// Oracle produces a compound polarity score in [-1, 1].
type Oracle interface {
	Compound(text string) (float64, error)
}

// Result is a classification outcome.
type Result struct {
	Label review.Label `json:"label"`
	Score float64      `json:"score"`
}

// Classifier maps text to a sentiment result. It is safe for concurrent use
// as long as its oracle is.
type Classifier struct {
	oracle Oracle
}

// New creates a classifier backed by oracle. A nil oracle selects VADER.
func New(oracle Oracle) *Classifier {
	if oracle == nil {
		oracle = NewVader()
	}
	return &Classifier{oracle: oracle}
}

// Classify never fails: absent text and oracle failures both yield Neutral/0.
func (c *Classifier) Classify(text string) Result {
	if strings.TrimSpace(text) == "" {
		return neutral()
	}

	score, err := c.compound(text)
	if err != nil || math.IsNaN(score) {
		return neutral()
	}
	score = math.Max(-1, math.Min(1, score))

	return Result{Label: LabelFor(score), Score: score}
}

// LabelFor applies the threshold policy to a compound score.
func LabelFor(score float64) review.Label {
	switch {
	case score >= Threshold:
		return review.Positive
	case score <= -Threshold:
		return review.Negative
	default:
		return review.Neutral
	}
}

func (c *Classifier) compound(text string) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sentiment oracle panic: %v", r)
		}
	}()
	return c.oracle.Compound(text)
}

func neutral() Result {
	return Result{Label: review.Neutral, Score: 0}
}

// Vader is the lexicon and rule based VADER analyzer.
type Vader struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

// NewVader loads the VADER lexicon.
func NewVader() *Vader {
	return &Vader{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

func (v *Vader) Compound(text string) (float64, error) {
	return v.analyzer.PolarityScores(text).Compound, nil
}
