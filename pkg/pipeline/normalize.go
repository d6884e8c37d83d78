package pipeline

import (
	"strings"

	"github.com/saodatJustdice/review-analyzer/pkg/review"
	"github.com/saodatJustdice/review-analyzer/pkg/source"
)

const maxRating = 5

// normalize coerces a raw record into a review of appID. Wrapped fields are
// unwrapped; missing numbers become 0 and missing text becomes "".
func normalize(appID string, rec source.RawRecord) (review.Review, error) {
	const op = "normalize record"

	id, err := rec.ReviewID.String()
	if err != nil {
		return review.Review{}, review.ValidationError(op, "reviewId: %v", err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return review.Review{}, review.ValidationError(op, "missing reviewId")
	}

	username, err := rec.UserName.String()
	if err != nil {
		return review.Review{}, review.ValidationError(op, "%s: userName: %v", id, err)
	}
	rating, err := rec.Score.Int()
	if err != nil {
		return review.Review{}, review.ValidationError(op, "%s: score: %v", id, err)
	}
	if rating < 0 || rating > maxRating {
		return review.Review{}, review.ValidationError(op, "%s: score %d out of range", id, rating)
	}
	text, err := rec.Content.String()
	if err != nil {
		return review.Review{}, review.ValidationError(op, "%s: content: %v", id, err)
	}
	at, err := rec.At.Time()
	if err != nil {
		return review.Review{}, review.ValidationError(op, "%s: at: %v", id, err)
	}

	return review.Review{
		AppID:    appID,
		ReviewID: id,
		Username: username,
		Date:     at,
		Rating:   rating,
		Text:     text,
	}, nil
}
