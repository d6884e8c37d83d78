package store

import (
	"context"
	"strings"

	"github.com/saodatJustdice/review-analyzer/pkg/review"
	"github.com/saodatJustdice/review-analyzer/pkg/tagging"
)

// LoadTagRules returns the keyword rules configured for appID.
func (s *SQLiteStore) LoadTagRules(ctx context.Context, appID string) (tagging.Rules, error) {
	var rows []struct {
		TagName  string `db:"tag_name"`
		Keywords string `db:"keywords"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT tag_name, COALESCE(keywords, '') AS keywords FROM tag_rules WHERE app_id = ? ORDER BY tag_name", appID)
	if err != nil {
		return nil, review.PersistenceError("load tag rules for "+appID, err)
	}

	rules := make(tagging.Rules, len(rows))
	for _, r := range rows {
		if err := review.ValidateTag("load tag rules", r.TagName); err != nil {
			s.log.Warn("skipping tag rule", "app_id", appID, "error", err)
			continue
		}
		rules[r.TagName] = tagging.ParseKeywords(r.Keywords)
	}
	return rules, nil
}

// AddTagRule creates the rule or replaces its keywords.
func (s *SQLiteStore) AddTagRule(ctx context.Context, appID, tag string, keywords []string) error {
	tag = strings.TrimSpace(tag)
	if err := review.ValidateTag("add tag rule", tag); err != nil {
		return err
	}
	keywords = tagging.CleanKeywords(keywords)
	if len(keywords) == 0 {
		return review.ValidationError("add tag rule", "rule %q needs at least one keyword", tag)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tag_rules (app_id, tag_name, keywords) VALUES (?, ?, ?)
		ON CONFLICT(app_id, tag_name) DO UPDATE SET keywords = excluded.keywords
	`, appID, tag, strings.Join(keywords, ","))
	if err != nil {
		return review.PersistenceError("add tag rule "+tag, err)
	}
	s.Invalidate(appID)
	return nil
}

// DeleteTagRule removes the rule and strips tag from the app's reviews.
func (s *SQLiteStore) DeleteTagRule(ctx context.Context, appID, tag string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tag_rules WHERE app_id = ? AND tag_name = ?", appID, tag); err != nil {
		return review.PersistenceError("delete tag rule "+tag, err)
	}
	return s.stripTag(ctx, appID, tag)
}

// LoadExtractedTags returns the extracted-tag catalogue of appID, sorted.
func (s *SQLiteStore) LoadExtractedTags(ctx context.Context, appID string) ([]string, error) {
	var tags []string
	err := s.db.SelectContext(ctx, &tags, "SELECT tag_name FROM extracted_tags WHERE app_id = ? ORDER BY tag_name", appID)
	if err != nil {
		return nil, review.PersistenceError("load extracted tags for "+appID, err)
	}
	return tags, nil
}

func (s *SQLiteStore) AddExtractedTag(ctx context.Context, appID, tag string) error {
	tag = strings.TrimSpace(tag)
	if err := review.ValidateTag("add extracted tag", tag); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO extracted_tags (app_id, tag_name) VALUES (?, ?)", appID, tag)
	if err != nil {
		return review.PersistenceError("add extracted tag "+tag, err)
	}
	return nil
}

// DeleteExtractedTag removes tag from the catalogue and from the app's reviews.
func (s *SQLiteStore) DeleteExtractedTag(ctx context.Context, appID, tag string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM extracted_tags WHERE app_id = ? AND tag_name = ?", appID, tag); err != nil {
		return review.PersistenceError("delete extracted tag "+tag, err)
	}
	return s.stripTag(ctx, appID, tag)
}

// stripTag removes tag from every review of appID carrying it. Each review is
// updated on its own; a failed update is logged and the rest continue.
func (s *SQLiteStore) stripTag(ctx context.Context, appID, tag string) error {
	defer s.Invalidate(appID)

	var rows []struct {
		ReviewID string `db:"review_id"`
		Tags     string `db:"tags"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT review_id, tags FROM reviews WHERE app_id = ? AND tags IS NOT NULL AND instr(tags, ?) > 0", appID, tag)
	if err != nil {
		return review.PersistenceError("find reviews tagged "+tag, err)
	}

	for _, r := range rows {
		remaining, removed := review.RemoveTag(review.SplitTags(r.Tags), tag)
		if !removed {
			continue
		}
		if err := setTags(ctx, s.db, appID, r.ReviewID, remaining); err != nil {
			s.log.Warn("strip tag failed", "app_id", appID, "review_id", r.ReviewID, "tag", tag, "error", err)
		}
	}
	return nil
}
