package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/saodatJustdice/review-analyzer/internal/logger"
	"github.com/saodatJustdice/review-analyzer/internal/store"
	"github.com/saodatJustdice/review-analyzer/pkg/review"
	"github.com/saodatJustdice/review-analyzer/pkg/tagging"
)

// tagger combines rule tags and extracted tags, registering every new
// extracted label in the app's catalogue.
type tagger struct {
	appID     string
	matcher   *tagging.Matcher
	extractor *tagging.Extractor
	store     store.Store
	log       *logger.Logger
	known     map[string]bool
}

func (t *tagger) tags(ctx context.Context, text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	tags := t.matcher.Match(text)
	for _, label := range t.extractor.Extract(ctx, text) {
		tags = append(tags, label)
		if t.known[label] {
			continue
		}
		if err := t.store.AddExtractedTag(ctx, t.appID, label); err != nil {
			t.log.Warn("register extracted tag failed", "tag", label, "error", err)
			continue
		}
		t.known[label] = true
	}
	return review.NormalizeTags(tags)
}

// Retag recomputes the tags of every stored review of appID with the current
// rules and extractor, and returns how many reviews changed.
func (p *Pipeline) Retag(ctx context.Context, appID string) (int, error) {
	rules, err := p.store.LoadTagRules(ctx, appID)
	if err != nil {
		return 0, err
	}
	reviews, err := p.store.QueryReviews(ctx, appID, store.QueryOpts{})
	if err != nil {
		return 0, err
	}

	log := p.log.With("app_id", appID)
	t := &tagger{
		appID:     appID,
		matcher:   tagging.NewMatcher(rules),
		extractor: p.extractor,
		store:     p.store,
		log:       log,
		known:     make(map[string]bool),
	}

	changed := 0
	for i := range reviews {
		rv := &reviews[i]
		tags := t.tags(ctx, rv.Text)
		if review.JoinTags(tags) == review.JoinTags(rv.Tags) {
			continue
		}
		if err := p.store.UpdateReviewTags(ctx, appID, rv.ReviewID, tags); err != nil {
			return changed, fmt.Errorf("retag %s: %w", rv.ReviewID, err)
		}
		changed++
	}
	p.store.Invalidate(appID)
	log.Info("retagged reviews", "total", len(reviews), "changed", changed)
	return changed, nil
}
