package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/saodatJustdice/review-analyzer/internal/logger"
	"github.com/saodatJustdice/review-analyzer/pkg/review"
	"github.com/saodatJustdice/review-analyzer/pkg/tagging"
)

var (
	// ErrNothingToReplace is returned when a replace would leave an app with
	// no reviews. Existing rows are left untouched.
	ErrNothingToReplace = errors.New("no reviews to replace with")
	// ErrReviewNotFound is returned by tag curation for an unknown review.
	ErrReviewNotFound = errors.New("review not found")
)

// DefaultApps is the registry fallback when nothing else is configured.
var DefaultApps = []string{"cashgiraffe.app", "com.whatsapp"}

// QueryOpts bounds a review query by authorship date. Zero values are
// unbounded; both bounds are inclusive.
type QueryOpts struct {
	From time.Time
	To   time.Time
}

// Store is the persistence interface.
type Store interface {
	ListApps(ctx context.Context) ([]string, error)
	AddApp(ctx context.Context, appID string) error
	CountReviewsByApp(ctx context.Context) (map[string]int, error)

	LoadTagRules(ctx context.Context, appID string) (tagging.Rules, error)
	AddTagRule(ctx context.Context, appID, tag string, keywords []string) error
	DeleteTagRule(ctx context.Context, appID, tag string) error

	LoadExtractedTags(ctx context.Context, appID string) ([]string, error)
	AddExtractedTag(ctx context.Context, appID, tag string) error
	DeleteExtractedTag(ctx context.Context, appID, tag string) error

	ReplaceReviewsForApp(ctx context.Context, appID string, reviews []review.Review) error
	QueryReviews(ctx context.Context, appID string, opts QueryOpts) ([]review.Review, error)
	UpdateReviewTags(ctx context.Context, appID, reviewID string, tags []string) error
	AddReviewTags(ctx context.Context, appID, reviewID string, tags []string) ([]string, error)

	Invalidate(appID string)
	Close() error
}

// Options configures seeding, migration and caching.
type Options struct {
	// DefaultApps seeds an empty registry and is the ListApps fallback.
	DefaultApps []string
	// DefaultRules seeds rules for apps that have none.
	DefaultRules map[string]tagging.Rules
	// LegacyAppID owns rules migrated from a tag_rules table without app_id.
	LegacyAppID string
	// CacheTTL bounds how long review reads are memoized. Zero disables it.
	CacheTTL time.Duration
	Logger   *logger.Logger
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db           *sqlx.DB
	log          *logger.Logger
	cache        *reviewCache
	defaultApps  []string
	defaultRules map[string]tagging.Rules
	legacyAppID  string
}

// New opens a SQLite database and runs migrations.
func New(path string, opts Options) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir %s: %w", dir, err)
		}
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	s := &SQLiteStore{
		db:           db,
		log:          opts.Logger,
		cache:        newReviewCache(opts.CacheTTL),
		defaultApps:  opts.DefaultApps,
		defaultRules: opts.DefaultRules,
		legacyAppID:  opts.LegacyAppID,
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if len(s.defaultApps) == 0 {
		s.defaultApps = DefaultApps
	}
	if s.legacyAppID == "" {
		s.legacyAppID = s.defaultApps[0]
	}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Invalidate drops the cached reviews for appID.
func (s *SQLiteStore) Invalidate(appID string) {
	s.cache.invalidate(appID)
}

// ListApps returns registered apps in ascending order. If the registry cannot
// be read it logs the failure and returns the default apps.
func (s *SQLiteStore) ListApps(ctx context.Context) ([]string, error) {
	var apps []string
	if err := s.db.SelectContext(ctx, &apps, "SELECT app_id FROM app_ids ORDER BY app_id"); err != nil {
		s.log.Error("list apps failed, using defaults", "error", err)
		fallback := append([]string(nil), s.defaultApps...)
		sort.Strings(fallback)
		return fallback, nil
	}
	return apps, nil
}

// AddApp registers appID. Registering an existing app is a no-op.
func (s *SQLiteStore) AddApp(ctx context.Context, appID string) error {
	appID = strings.TrimSpace(appID)
	if err := ValidateAppID(appID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO app_ids (app_id) VALUES (?)", appID); err != nil {
		return review.PersistenceError("add app "+appID, err)
	}
	if err := s.seedRules(ctx, s.db, appID); err != nil {
		s.log.Warn("seed default rules failed", "app_id", appID, "error", err)
	}
	s.Invalidate(appID)
	s.log.Info("added app", "app_id", appID)
	return nil
}

// ValidateAppID rejects empty ids and ids containing whitespace.
func ValidateAppID(appID string) error {
	if appID == "" {
		return review.ValidationError("add app", "app id must be non-empty")
	}
	if strings.IndexFunc(appID, unicode.IsSpace) >= 0 {
		return review.ValidationError("add app", "app id %q must not contain whitespace", appID)
	}
	return nil
}

func (s *SQLiteStore) CountReviewsByApp(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT app_id, COUNT(*) AS cnt FROM reviews GROUP BY app_id")
	if err != nil {
		return nil, review.PersistenceError("count reviews by app", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var appID sql.NullString
		var cnt int
		if err := rows.Scan(&appID, &cnt); err != nil {
			return nil, review.PersistenceError("count reviews by app", err)
		}
		counts[appID.String] = cnt
	}
	return counts, rows.Err()
}

// reviewRow mirrors the reviews table; every column but the key is nullable.
type reviewRow struct {
	AppID          sql.NullString  `db:"app_id"`
	ReviewID       string          `db:"review_id"`
	Username       sql.NullString  `db:"username"`
	Date           sql.NullString  `db:"date"`
	Rating         sql.NullInt64   `db:"rating"`
	Text           sql.NullString  `db:"review_text"`
	Sentiment      sql.NullString  `db:"sentiment"`
	SentimentScore sql.NullFloat64 `db:"sentiment_score"`
	Tags           sql.NullString  `db:"tags"`
}

const reviewColumns = "app_id, review_id, username, date, rating, review_text, sentiment, sentiment_score, tags"

func toRow(appID string, r *review.Review) reviewRow {
	row := reviewRow{
		AppID:    sql.NullString{String: appID, Valid: true},
		ReviewID: r.ReviewID,
		Username: sql.NullString{String: r.Username, Valid: true},
		Rating:   sql.NullInt64{Int64: int64(r.Rating), Valid: true},
		Text:     sql.NullString{String: r.Text, Valid: r.Text != ""},
	}
	if !r.Date.IsZero() {
		row.Date = sql.NullString{String: r.Date.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	if r.Enriched() {
		row.Sentiment = sql.NullString{String: string(r.Sentiment), Valid: true}
		row.SentimentScore = sql.NullFloat64{Float64: r.SentimentScore, Valid: true}
	}
	if tags := review.JoinTags(r.Tags); tags != "" {
		row.Tags = sql.NullString{String: tags, Valid: true}
	}
	return row
}

func (row *reviewRow) toReview() review.Review {
	r := review.Review{
		AppID:    row.AppID.String,
		ReviewID: row.ReviewID,
		Username: row.Username.String,
		Date:     parseDate(row.Date.String),
		Rating:   int(row.Rating.Int64),
		Text:     row.Text.String,
		Tags:     review.SplitTags(row.Tags.String),
	}
	if row.Sentiment.Valid && row.SentimentScore.Valid {
		r.Sentiment = review.Label(row.Sentiment.String)
		r.SentimentScore = row.SentimentScore.Float64
	}
	return r
}

// dateLayouts covers RFC 3339 written by this store and the naive ISO
// formats written by earlier tools.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02",
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// ReplaceReviewsForApp swaps the stored reviews of appID for reviews in one
// transaction. An empty set returns ErrNothingToReplace without touching the
// stored rows.
func (s *SQLiteStore) ReplaceReviewsForApp(ctx context.Context, appID string, reviews []review.Review) error {
	if len(reviews) == 0 {
		return ErrNothingToReplace
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return review.PersistenceError("begin replace", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM reviews WHERE app_id = ?", appID); err != nil {
		return review.PersistenceError("delete reviews for "+appID, err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO reviews (`+reviewColumns+`)
		VALUES (:app_id, :review_id, :username, :date, :rating, :review_text, :sentiment, :sentiment_score, :tags)
		ON CONFLICT(review_id) DO UPDATE SET
			app_id = excluded.app_id,
			username = excluded.username,
			date = excluded.date,
			rating = excluded.rating,
			review_text = excluded.review_text,
			sentiment = excluded.sentiment,
			sentiment_score = excluded.sentiment_score,
			tags = excluded.tags
	`)
	if err != nil {
		return review.PersistenceError("prepare insert", err)
	}
	defer stmt.Close()

	for i := range reviews {
		if _, err := stmt.ExecContext(ctx, toRow(appID, &reviews[i])); err != nil {
			return review.PersistenceError("insert review "+reviews[i].ReviewID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return review.PersistenceError("commit replace", err)
	}
	s.Invalidate(appID)
	s.log.Info("replaced reviews", "app_id", appID, "count", len(reviews))
	return nil
}

// QueryReviews returns the reviews of appID, newest first, optionally bounded
// by authorship date. Full reads are served from the cache when fresh.
func (s *SQLiteStore) QueryReviews(ctx context.Context, appID string, opts QueryOpts) ([]review.Review, error) {
	all, ok := s.cache.get(appID)
	if !ok {
		gen := s.cache.generation(appID)
		var err error
		if all, err = s.loadReviews(ctx, appID); err != nil {
			return nil, err
		}
		s.cache.put(appID, gen, all)
	}

	if opts.From.IsZero() && opts.To.IsZero() {
		return all, nil
	}
	var out []review.Review
	for _, r := range all {
		if r.Date.IsZero() {
			continue
		}
		if !opts.From.IsZero() && r.Date.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && r.Date.After(opts.To) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLiteStore) loadReviews(ctx context.Context, appID string) ([]review.Review, error) {
	var rows []reviewRow
	err := s.db.SelectContext(ctx, &rows, "SELECT "+reviewColumns+" FROM reviews WHERE app_id = ?", appID)
	if err != nil {
		return nil, review.PersistenceError("query reviews for "+appID, err)
	}

	out := make([]review.Review, len(rows))
	for i := range rows {
		out[i] = rows[i].toReview()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ReviewID < out[j].ReviewID
	})
	return out, nil
}

// UpdateReviewTags overwrites the tags of one review.
func (s *SQLiteStore) UpdateReviewTags(ctx context.Context, appID, reviewID string, tags []string) error {
	tags = review.NormalizeTags(tags)
	if err := review.ValidateTags("update review tags", tags); err != nil {
		return err
	}
	if err := setTags(ctx, s.db, appID, reviewID, tags); err != nil {
		return err
	}
	s.Invalidate(appID)
	return nil
}

// AddReviewTags merges tags into a review's existing tags and returns the
// resulting set.
func (s *SQLiteStore) AddReviewTags(ctx context.Context, appID, reviewID string, tags []string) ([]string, error) {
	tags = review.NormalizeTags(tags)
	if err := review.ValidateTags("add review tags", tags); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, review.PersistenceError("begin add tags", err)
	}
	defer tx.Rollback()

	var current sql.NullString
	err = tx.GetContext(ctx, &current, "SELECT tags FROM reviews WHERE app_id = ? AND review_id = ?", appID, reviewID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReviewNotFound
	}
	if err != nil {
		return nil, review.PersistenceError("read tags of "+reviewID, err)
	}

	merged := review.NormalizeTags(append(review.SplitTags(current.String), tags...))
	if err := setTags(ctx, tx, appID, reviewID, merged); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, review.PersistenceError("commit add tags", err)
	}
	s.Invalidate(appID)
	return merged, nil
}

func setTags(ctx context.Context, db sqlx.ExecerContext, appID, reviewID string, tags []string) error {
	var value sql.NullString
	if joined := review.JoinTags(tags); joined != "" {
		value = sql.NullString{String: joined, Valid: true}
	}
	res, err := db.ExecContext(ctx, "UPDATE reviews SET tags = ? WHERE app_id = ? AND review_id = ?", value, appID, reviewID)
	if err != nil {
		return review.PersistenceError("update tags of "+reviewID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrReviewNotFound
	}
	return nil
}
