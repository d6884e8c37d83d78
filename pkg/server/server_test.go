package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/saodatJustdice/review-analyzer/internal/metrics"
	"github.com/saodatJustdice/review-analyzer/internal/scheduler"
	"github.com/saodatJustdice/review-analyzer/internal/store"
	"github.com/saodatJustdice/review-analyzer/pkg/pipeline"
	"github.com/saodatJustdice/review-analyzer/pkg/review"
	"github.com/saodatJustdice/review-analyzer/pkg/tagging"
)

type fakeRunner struct {
	res       *pipeline.Result
	err       error
	retagged  []string
	refreshed []string
	// ctxErr is the run context's error seen when Refresh returns.
	ctxErr error
}

func (f *fakeRunner) Refresh(ctx context.Context, appID string, _ pipeline.ProgressFunc) (*pipeline.Result, error) {
	f.refreshed = append(f.refreshed, appID)
	f.ctxErr = ctx.Err()
	return f.res, f.err
}

func (f *fakeRunner) Retag(_ context.Context, appID string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.retagged = append(f.retagged, appID)
	return 3, nil
}

func newTestServer(t *testing.T, runner *fakeRunner) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "reviews.db"), store.Options{
		DefaultApps:  []string{"com.example"},
		DefaultRules: map[string]tagging.Rules{"com.example": {"bug": {"crash"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	day := func(d int) time.Time { return time.Date(2025, 3, d, 12, 0, 0, 0, time.UTC) }
	err = st.ReplaceReviewsForApp(context.Background(), "com.example", []review.Review{
		{ReviewID: "r-0001", Username: "ann", Date: day(1), Rating: 5, Text: "love it", Sentiment: review.Positive, SentimentScore: 0.6},
		{ReviewID: "r-0002", Username: "ann", Date: day(2), Rating: 1, Text: "crash on start", Sentiment: review.Negative, SentimentScore: -0.5, Tags: []string{"bug"}},
		{ReviewID: "r-0003", Username: "bob", Date: day(9), Rating: 3, Text: "ok", Sentiment: review.Neutral},
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(New(st, runner, metrics.New().Handler(), nil, 0).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(raw) > 0 && resp.Header.Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})
	if code, body := do(t, http.MethodGet, srv.URL+"/health", ""); code != 200 || body["status"] != "ok" {
		t.Fatalf("health = %d %v", code, body)
	}
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || !strings.Contains(string(raw), "go_goroutines") {
		t.Fatalf("metrics = %d", resp.StatusCode)
	}
}

func TestApps(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})

	if code, _ := do(t, http.MethodPost, srv.URL+"/api/v1/apps", `{"app_id":"bad id"}`); code != http.StatusBadRequest {
		t.Fatalf("invalid app id = %d", code)
	}
	if code, _ := do(t, http.MethodPost, srv.URL+"/api/v1/apps", `{"app_id":" com.new "}`); code != http.StatusCreated {
		t.Fatalf("add app = %d", code)
	}

	code, body := do(t, http.MethodGet, srv.URL+"/api/v1/apps", "")
	if code != 200 || body["count"].(float64) != 2 {
		t.Fatalf("apps = %d %v", code, body)
	}
	first := body["data"].([]any)[0].(map[string]any)
	if first["app_id"] != "com.example" || first["reviews"].(float64) != 3 {
		t.Fatalf("first app = %v", first)
	}
}

func TestReviewsFilterAndDisplayNames(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})

	code, body := do(t, http.MethodGet, srv.URL+"/api/v1/apps/com.example/reviews?sentiment=negative,positive&to=2025-03-05", "")
	if code != 200 || body["count"].(float64) != 2 {
		t.Fatalf("reviews = %d %v", code, body)
	}
	data := body["data"].([]any)
	newest := data[0].(map[string]any)
	if newest["review_id"] != "r-0002" || newest["display_username"] != "ann (ID: 0002)" {
		t.Fatalf("newest = %v", newest)
	}

	_, body = do(t, http.MethodGet, srv.URL+"/api/v1/apps/com.example/reviews?tags=bug", "")
	if body["count"].(float64) != 1 {
		t.Fatalf("tag filter = %v", body)
	}

	if code, _ := do(t, http.MethodGet, srv.URL+"/api/v1/apps/com.example/reviews?from=yesterday", ""); code != http.StatusBadRequest {
		t.Fatalf("bad day = %d", code)
	}
}

func TestRulesLifecycle(t *testing.T) {
	srv, st := newTestServer(t, &fakeRunner{})
	base := srv.URL + "/api/v1/apps/com.example/rules"

	if code, _ := do(t, http.MethodPut, base+"/login", `{"keywords":"sign in, password"}`); code != 200 {
		t.Fatalf("put rule = %d", code)
	}
	if code, _ := do(t, http.MethodPut, base+"/empty", `{"keywords":[]}`); code != http.StatusBadRequest {
		t.Fatalf("empty keywords = %d", code)
	}
	_, body := do(t, http.MethodGet, base, "")
	rules := body["data"].(map[string]any)
	if _, ok := rules["login"]; !ok || body["count"].(float64) != 2 {
		t.Fatalf("rules = %v", body)
	}

	if code, _ := do(t, http.MethodDelete, base+"/bug", ""); code != http.StatusNoContent {
		t.Fatalf("delete rule = %d", code)
	}
	reviews, err := st.QueryReviews(context.Background(), "com.example", store.QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range reviews {
		if r.HasTag("bug") {
			t.Fatalf("review %s still tagged bug", r.ReviewID)
		}
	}
}

func TestExtractedTagsAndManualTags(t *testing.T) {
	srv, st := newTestServer(t, &fakeRunner{})
	ctx := context.Background()
	if err := st.AddExtractedTag(ctx, "com.example", "start"); err != nil {
		t.Fatal(err)
	}

	code, body := do(t, http.MethodPost, srv.URL+"/api/v1/apps/com.example/reviews/r-0002/tags", `{"tags":["start"," urgent "]}`)
	if code != 200 {
		t.Fatalf("add tags = %d %v", code, body)
	}
	if got := body["tags"].([]any); len(got) != 3 {
		t.Fatalf("tags = %v", got)
	}
	if code, _ := do(t, http.MethodPost, srv.URL+"/api/v1/apps/com.example/reviews/missing/tags", `{"tags":["x"]}`); code != http.StatusNotFound {
		t.Fatalf("missing review = %d", code)
	}

	_, body = do(t, http.MethodGet, srv.URL+"/api/v1/apps/com.example/extracted-tags", "")
	if body["count"].(float64) != 1 {
		t.Fatalf("extracted = %v", body)
	}
	if code, _ := do(t, http.MethodDelete, srv.URL+"/api/v1/apps/com.example/extracted-tags/start", ""); code != http.StatusNoContent {
		t.Fatalf("delete extracted = %d", code)
	}
	reviews, _ := st.QueryReviews(ctx, "com.example", store.QueryOpts{})
	for _, r := range reviews {
		if r.HasTag("start") {
			t.Fatal("extracted tag not stripped")
		}
	}
}

func TestRefreshAndRetag(t *testing.T) {
	runner := &fakeRunner{res: &pipeline.Result{
		RunID:   "run-1",
		State:   pipeline.StateDone,
		Message: "Successfully fetched and saved 2 reviews",
		Reviews: make([]review.Review, 2),
		Fetched: 2,
	}}
	srv, _ := newTestServer(t, runner)

	code, body := do(t, http.MethodPost, srv.URL+"/api/v1/apps/com.example/refresh", "")
	if code != 200 || body["stored"].(float64) != 2 || body["run_id"] != "run-1" {
		t.Fatalf("refresh = %d %v", code, body)
	}

	code, body = do(t, http.MethodPost, srv.URL+"/api/v1/apps/com.example/retag", "")
	if code != 200 || body["updated"].(float64) != 3 || len(runner.retagged) != 1 {
		t.Fatalf("retag = %d %v", code, body)
	}

	runner.err = scheduler.ErrBusy
	if code, _ := do(t, http.MethodPost, srv.URL+"/api/v1/apps/com.example/refresh", ""); code != http.StatusConflict {
		t.Fatalf("busy refresh = %d", code)
	}

	runner.res = &pipeline.Result{RunID: "run-2", State: pipeline.StateFailed}
	runner.err = review.TransportError("fetch reviews", errors.New("no reviews fetched"))
	code, body = do(t, http.MethodPost, srv.URL+"/api/v1/apps/com.example/refresh", "")
	if code != http.StatusBadGateway || !strings.HasPrefix(body["message"].(string), "Error refreshing reviews") {
		t.Fatalf("failed refresh = %d %v", code, body)
	}
}

func TestStatsAndTrends(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})

	code, body := do(t, http.MethodGet, srv.URL+"/api/v1/apps/com.example/stats", "")
	if code != 200 {
		t.Fatalf("stats = %d", code)
	}
	summary := body["summary"].(map[string]any)
	if summary["total"].(float64) != 3 || summary["average_rating"].(float64) != 3 {
		t.Fatalf("summary = %v", summary)
	}
	if dist := body["rating_distribution"].([]any); len(dist) != 6 || dist[5].(float64) != 1 {
		t.Fatalf("distribution = %v", dist)
	}

	code, body = do(t, http.MethodGet, srv.URL+"/api/v1/apps/com.example/trends", "")
	if code != 200 {
		t.Fatalf("trends = %d", code)
	}
	if len(body["daily_sentiment"].([]any)) != 3 {
		t.Fatalf("daily = %v", body["daily_sentiment"])
	}
	if _, ok := body["correlation"]; !ok {
		t.Fatal("correlation missing")
	}
}

func TestRefreshRejectsInvalidAppID(t *testing.T) {
	runner := &fakeRunner{res: &pipeline.Result{State: pipeline.StateDone}}
	srv, _ := newTestServer(t, runner)

	if code, _ := do(t, http.MethodPost, srv.URL+"/api/v1/apps/bad%20id/refresh", ""); code != http.StatusBadRequest {
		t.Fatalf("refresh of invalid id = %d", code)
	}
	if len(runner.refreshed) != 0 {
		t.Fatalf("run started for %v", runner.refreshed)
	}
}

func TestRefreshOutlivesRequest(t *testing.T) {
	runner := &fakeRunner{res: &pipeline.Result{RunID: "run-1", State: pipeline.StateDone}}
	s := New(nil, runner, nil, nil, 0)

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/apps/com.example/refresh", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d", rec.Code)
	}
	if runner.ctxErr != nil {
		t.Fatalf("client disconnect cancelled the run: %v", runner.ctxErr)
	}

	base, stop := context.WithCancel(context.Background())
	stop()
	s.base = base
	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/apps/com.example/refresh", nil))
	if !errors.Is(runner.ctxErr, context.Canceled) {
		t.Fatalf("server shutdown should cancel the run, got %v", runner.ctxErr)
	}
}
