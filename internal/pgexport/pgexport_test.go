package pgexport

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/saodatJustdice/review-analyzer/internal/store"
	"github.com/saodatJustdice/review-analyzer/pkg/review"
)

type call struct {
	sql  string
	args []any
}

// recorder accepts every statement; inserts of a seen review id affect no
// rows, like ON CONFLICT DO NOTHING.
type recorder struct {
	calls  []call
	seen   map[string]bool
	failOn string
}

func (r *recorder) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.calls = append(r.calls, call{sql, args})
	if r.failOn != "" && strings.HasPrefix(strings.TrimSpace(sql), r.failOn) {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "42501", Message: "permission denied"}
	}
	if !strings.HasPrefix(sql, "INSERT") {
		return pgconn.NewCommandTag("OK"), nil
	}
	id := args[1].(string)
	if r.seen[id] {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	r.seen[id] = true
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func sample() []review.Review {
	return []review.Review{
		{AppID: "a", ReviewID: "r1", Username: "ann", Date: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), Rating: 4, Text: "nice", Sentiment: review.Positive, SentimentScore: 0.4, Tags: []string{"fun", "ui"}},
		{AppID: "a", ReviewID: "r2", Rating: 2},
		{AppID: "b", ReviewID: "r1", Rating: 5},
	}
}

func TestWrite(t *testing.T) {
	rec := &recorder{seen: map[string]bool{}}
	n, err := write(context.Background(), rec, "reviews export", sample())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("inserted %d, want 2 (duplicate id ignored)", n)
	}
	if len(rec.calls) != 5 {
		t.Fatalf("expected create, delete and 3 inserts, got %d", len(rec.calls))
	}
	if !strings.Contains(rec.calls[0].sql, `CREATE TABLE IF NOT EXISTS "reviews export"`) {
		t.Fatalf("create = %s", rec.calls[0].sql)
	}
	if rec.calls[1].sql != `DELETE FROM "reviews export"` {
		t.Fatalf("delete = %s", rec.calls[1].sql)
	}
	if !strings.Contains(rec.calls[2].sql, "ON CONFLICT (review_id) DO NOTHING") {
		t.Fatalf("insert = %s", rec.calls[2].sql)
	}
}

func TestRowArgs(t *testing.T) {
	rows := sample()
	args := rowArgs(&rows[0])
	if *args[3].(*string) != "2025-03-01T08:00:00Z" || *args[6].(*string) != "Positive" || *args[8].(*string) != "fun,ui" {
		t.Fatalf("args = %v", args)
	}

	bare := rowArgs(&rows[1])
	if bare[3].(*string) != nil || bare[6].(*string) != nil || bare[7].(*float64) != nil || bare[8].(*string) != nil {
		t.Fatalf("unenriched review should export NULLs: %v", bare)
	}
}

func TestWriteReportsSQLState(t *testing.T) {
	rec := &recorder{seen: map[string]bool{}, failOn: "DELETE"}
	_, err := write(context.Background(), rec, DefaultTable, sample())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := describe(err).Error(); !strings.Contains(got, "42501") {
		t.Fatalf("error = %s", got)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatal("PgError should stay in the chain")
	}
}

func TestExportRequiresDSN(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "reviews.db"), store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if _, err := New("", "", nil).Export(context.Background(), st); !errors.Is(err, ErrNoDSN) {
		t.Fatalf("err = %v", err)
	}
}

func TestCollect(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "reviews.db"), store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()
	for _, app := range []string{"z.app", "a.app"} {
		err := st.ReplaceReviewsForApp(ctx, app, []review.Review{{AppID: app, ReviewID: app + "-1", Rating: 3}})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := collect(ctx, st)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].AppID != "a.app" || got[1].AppID != "z.app" {
		t.Fatalf("collect = %+v", got)
	}
}
