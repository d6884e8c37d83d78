// Package pgexport copies the review table into PostgreSQL for reporting.
package pgexport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/saodatJustdice/review-analyzer/internal/logger"
	"github.com/saodatJustdice/review-analyzer/internal/store"
	"github.com/saodatJustdice/review-analyzer/pkg/review"
)

// DefaultTable is the export target when none is configured.
const DefaultTable = "app_reviews"

// ErrNoDSN is returned when no connection string is configured.
var ErrNoDSN = errors.New("postgres dsn not configured")

// execer is the subset of pgx.Tx the export writes through.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Exporter replaces the contents of a PostgreSQL table with the reviews held
// in the local store.
type Exporter struct {
	dsn   string
	table string
	log   *logger.Logger
}

// New creates an exporter. An empty table selects DefaultTable.
func New(dsn, table string, log *logger.Logger) *Exporter {
	if table == "" {
		table = DefaultTable
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Exporter{dsn: dsn, table: table, log: log}
}

// Export reads every app's reviews from st and writes them in one
// transaction: create the table if missing, clear it, insert. It returns the
// number of rows inserted.
func (e *Exporter) Export(ctx context.Context, st store.Store) (int, error) {
	if e.dsn == "" {
		return 0, ErrNoDSN
	}
	reviews, err := collect(ctx, st)
	if err != nil {
		return 0, err
	}
	if len(reviews) == 0 {
		e.log.Warn("no reviews to export")
		return 0, nil
	}

	conn, err := pgx.Connect(ctx, e.dsn)
	if err != nil {
		return 0, fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin export: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	n, err := write(ctx, tx, e.table, reviews)
	if err != nil {
		return 0, describe(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit export: %w", describe(err))
	}
	e.log.Info("exported reviews", "table", e.table, "rows", n, "read", len(reviews))
	return n, nil
}

// collect loads the reviews of every app that has any, ordered by app.
func collect(ctx context.Context, st store.Store) ([]review.Review, error) {
	counts, err := st.CountReviewsByApp(ctx)
	if err != nil {
		return nil, fmt.Errorf("count reviews: %w", err)
	}
	apps := make([]string, 0, len(counts))
	for app := range counts {
		apps = append(apps, app)
	}
	sort.Strings(apps)

	var all []review.Review
	for _, app := range apps {
		rows, err := st.QueryReviews(ctx, app, store.QueryOpts{})
		if err != nil {
			return nil, fmt.Errorf("read reviews of %s: %w", app, err)
		}
		all = append(all, rows...)
	}
	return all, nil
}

func write(ctx context.Context, db execer, table string, reviews []review.Review) (int, error) {
	ident := pgx.Identifier{table}.Sanitize()

	if _, err := db.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	app_id TEXT,
	review_id TEXT PRIMARY KEY,
	username TEXT,
	date TEXT,
	rating INTEGER,
	review_text TEXT,
	sentiment TEXT,
	sentiment_score DOUBLE PRECISION,
	tags TEXT
)`, ident)); err != nil {
		return 0, fmt.Errorf("create table %s: %w", table, err)
	}
	if _, err := db.Exec(ctx, "DELETE FROM "+ident); err != nil {
		return 0, fmt.Errorf("clear table %s: %w", table, err)
	}

	insert := fmt.Sprintf(`INSERT INTO %s
	(app_id, review_id, username, date, rating, review_text, sentiment, sentiment_score, tags)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (review_id) DO NOTHING`, ident)

	n := 0
	for i := range reviews {
		tag, err := db.Exec(ctx, insert, rowArgs(&reviews[i])...)
		if err != nil {
			return n, fmt.Errorf("insert review %s: %w", reviews[i].ReviewID, err)
		}
		n += int(tag.RowsAffected())
	}
	return n, nil
}

// rowArgs maps a review onto the export columns. Unenriched reviews export
// NULL sentiment, and an empty tag set exports NULL tags.
func rowArgs(r *review.Review) []any {
	var (
		date      *string
		sentiment *string
		score     *float64
		tags      *string
	)
	if !r.Date.IsZero() {
		s := r.Date.UTC().Format(time.RFC3339)
		date = &s
	}
	if r.Enriched() {
		s, f := string(r.Sentiment), r.SentimentScore
		sentiment, score = &s, &f
	}
	if joined := review.JoinTags(r.Tags); joined != "" {
		tags = &joined
	}
	return []any{r.AppID, r.ReviewID, r.Username, date, r.Rating, r.Text, sentiment, score, tags}
}

// describe adds the SQLSTATE to PostgreSQL errors.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("postgres %s (%s): %w", pgErr.Code, pgErr.Message, err)
	}
	return err
}
