package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS reviews (
    app_id          TEXT,
    review_id       TEXT PRIMARY KEY,
    username        TEXT,
    date            TEXT,
    rating          INTEGER,
    review_text     TEXT,
    sentiment       TEXT,
    sentiment_score REAL,
    tags            TEXT
);

CREATE TABLE IF NOT EXISTS app_ids (
    app_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS extracted_tags (
    app_id   TEXT,
    tag_name TEXT,
    PRIMARY KEY (app_id, tag_name)
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_app_id ON reviews (app_id);
`

const tagRulesTable = `
CREATE TABLE tag_rules (
    app_id   TEXT,
    tag_name TEXT,
    keywords TEXT,
    PRIMARY KEY (app_id, tag_name)
)`

// enrichmentColumns were added to reviews after the first schema shipped.
var enrichmentColumns = []struct{ name, decl string }{
	{"sentiment", "TEXT"},
	{"sentiment_score", "REAL"},
	{"tags", "TEXT"},
}

// Migrate brings the schema up to date and seeds defaults. It is safe to call
// repeatedly; New calls it once.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if err := s.migrateReviewColumns(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, indexes); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	if err := s.migrateTagRules(ctx, tx); err != nil {
		return err
	}
	if err := s.seed(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// migrateReviewColumns adds enrichment columns missing from a reviews table
// created by the older fetch-only schema.
func (s *SQLiteStore) migrateReviewColumns(ctx context.Context, tx *sqlx.Tx) error {
	cols, err := tableColumns(ctx, tx, "reviews")
	if err != nil {
		return err
	}
	for _, c := range enrichmentColumns {
		if cols[c.name] {
			continue
		}
		s.log.Info("adding reviews column", "column", c.name)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE reviews ADD COLUMN %s %s", c.name, c.decl)); err != nil {
			return fmt.Errorf("add reviews.%s: %w", c.name, err)
		}
	}
	return nil
}

// migrateTagRules creates tag_rules, or moves a legacy table without an
// app_id column under the configured legacy app.
func (s *SQLiteStore) migrateTagRules(ctx context.Context, tx *sqlx.Tx) error {
	var n int
	if err := tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'tag_rules'"); err != nil {
		return fmt.Errorf("inspect tag_rules: %w", err)
	}
	if n == 0 {
		if _, err := tx.ExecContext(ctx, tagRulesTable); err != nil {
			return fmt.Errorf("create tag_rules: %w", err)
		}
		return nil
	}

	cols, err := tableColumns(ctx, tx, "tag_rules")
	if err != nil {
		return err
	}
	if cols["app_id"] {
		return nil
	}

	s.log.Info("migrating tag_rules to per-app rules", "legacy_app_id", s.legacyAppID)
	steps := []string{
		"ALTER TABLE tag_rules RENAME TO tag_rules_old",
		tagRulesTable,
		"INSERT INTO tag_rules (app_id, tag_name, keywords) SELECT ?, tag_name, keywords FROM tag_rules_old",
		"DROP TABLE tag_rules_old",
	}
	for _, stmt := range steps {
		var args []any
		if strings.Contains(stmt, "?") {
			args = append(args, s.legacyAppID)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("migrate tag_rules: %w", err)
		}
	}
	return nil
}

// seed fills an empty app registry and gives apps without rules their
// default rule set.
func (s *SQLiteStore) seed(ctx context.Context, tx *sqlx.Tx) error {
	var n int
	if err := tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM app_ids"); err != nil {
		return fmt.Errorf("count apps: %w", err)
	}
	if n == 0 {
		for _, appID := range s.defaultApps {
			if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO app_ids (app_id) VALUES (?)", appID); err != nil {
				return fmt.Errorf("seed app %s: %w", appID, err)
			}
		}
	}

	var apps []string
	if err := tx.SelectContext(ctx, &apps, "SELECT app_id FROM app_ids"); err != nil {
		return fmt.Errorf("list apps: %w", err)
	}
	for _, appID := range apps {
		if err := s.seedRules(ctx, tx, appID); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) seedRules(ctx context.Context, tx sqlx.ExtContext, appID string) error {
	defaults, ok := s.defaultRules[appID]
	if !ok {
		return nil
	}
	var n int
	if err := sqlx.GetContext(ctx, tx, &n, "SELECT COUNT(*) FROM tag_rules WHERE app_id = ?", appID); err != nil {
		return fmt.Errorf("count rules for %s: %w", appID, err)
	}
	if n > 0 {
		return nil
	}
	for _, tag := range defaults.Names() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tag_rules (app_id, tag_name, keywords) VALUES (?, ?, ?)",
			appID, tag, strings.Join(defaults[tag], ","),
		); err != nil {
			return fmt.Errorf("seed rule %s/%s: %w", appID, tag, err)
		}
	}
	return nil
}

func tableColumns(ctx context.Context, q sqlx.QueryerContext, table string) (map[string]bool, error) {
	rows, err := q.QueryxContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("inspect %s: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
