package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/saodatJustdice/review-analyzer/internal/logger"
	"github.com/saodatJustdice/review-analyzer/internal/scheduler"
	"github.com/saodatJustdice/review-analyzer/internal/store"
	"github.com/saodatJustdice/review-analyzer/pkg/pipeline"
	"github.com/saodatJustdice/review-analyzer/pkg/report"
	"github.com/saodatJustdice/review-analyzer/pkg/review"
	"github.com/saodatJustdice/review-analyzer/pkg/tagging"
)

// Refresher triggers ingestion and re-tagging runs.
type Refresher interface {
	Refresh(ctx context.Context, appID string, progress pipeline.ProgressFunc) (*pipeline.Result, error)
	Retag(ctx context.Context, appID string) (int, error)
}

// Server provides the HTTP API.
type Server struct {
	store   store.Store
	runner  Refresher
	metrics http.Handler
	log     *logger.Logger
	port    int
	// base bounds runs started over HTTP; ListenAndServe sets it to its ctx.
	base context.Context
}

// New creates a new HTTP server. metrics may be nil.
func New(s store.Store, runner Refresher, metrics http.Handler, log *logger.Logger, port int) *Server {
	if port == 0 {
		port = 8080
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		store:   s,
		runner:  runner,
		metrics: metrics,
		log:     log,
		port:    port,
		base:    context.Background(),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	mux.HandleFunc("GET /api/v1/apps", s.handleListApps)
	mux.HandleFunc("POST /api/v1/apps", s.handleAddApp)
	mux.HandleFunc("GET /api/v1/apps/{app}/reviews", s.handleReviews)
	mux.HandleFunc("POST /api/v1/apps/{app}/reviews/{id}/tags", s.handleAddReviewTags)
	mux.HandleFunc("POST /api/v1/apps/{app}/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/v1/apps/{app}/retag", s.handleRetag)
	mux.HandleFunc("GET /api/v1/apps/{app}/rules", s.handleRules)
	mux.HandleFunc("PUT /api/v1/apps/{app}/rules/{tag}", s.handlePutRule)
	mux.HandleFunc("DELETE /api/v1/apps/{app}/rules/{tag}", s.handleDeleteRule)
	mux.HandleFunc("GET /api/v1/apps/{app}/extracted-tags", s.handleExtractedTags)
	mux.HandleFunc("DELETE /api/v1/apps/{app}/extracted-tags/{tag}", s.handleDeleteExtractedTag)
	mux.HandleFunc("GET /api/v1/apps/{app}/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/apps/{app}/trends", s.handleTrends)
	return mux
}

// ListenAndServe serves the API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.base = ctx
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	s.log.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.store.ListApps(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	counts, err := s.store.CountReviewsByApp(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	type appInfo struct {
		AppID   string `json:"app_id"`
		Reviews int    `json:"reviews"`
	}
	infos := make([]appInfo, 0, len(apps))
	for _, app := range apps {
		infos = append(infos, appInfo{AppID: app, Reviews: counts[app]})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  infos,
		"count": len(infos),
	})
}

func (s *Server) handleAddApp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID string `json:"app_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.store.AddApp(r.Context(), req.AppID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"app_id": strings.TrimSpace(req.AppID)})
}

// reviewView is a review with its display username.
type reviewView struct {
	review.Review
	DisplayUsername string `json:"display_username"`
}

func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request) {
	appID := r.PathValue("app")
	f, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	reviews, err := s.store.QueryReviews(r.Context(), appID, store.QueryOpts{})
	if err != nil {
		s.writeError(w, err)
		return
	}
	reviews = f.Apply(reviews)
	total := len(reviews)
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(reviews) {
		reviews = reviews[:limit]
	}

	names := report.DisplayNames(reviews)
	views := make([]reviewView, len(reviews))
	for i := range reviews {
		views[i] = reviewView{Review: reviews[i], DisplayUsername: names[reviews[i].ReviewID]}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  views,
		"count": len(views),
		"total": total,
	})
}

func (s *Server) handleAddReviewTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tags []string `json:"tags"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	tags, err := s.store.AddReviewTags(r.Context(), r.PathValue("app"), r.PathValue("id"), req.Tags)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

// runContext outlives the request: a client that disconnects or times out
// must not abort a run. Only the server's own context stops it.
func (s *Server) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stop := context.AfterFunc(s.base, cancel)
	if s.base.Err() != nil {
		cancel()
	}
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	appID := r.PathValue("app")
	if err := store.ValidateAppID(appID); err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := s.runContext(r)
	defer cancel()
	res, err := s.runner.Refresh(ctx, appID, nil)
	if errors.Is(err, scheduler.ErrBusy) {
		s.writeError(w, err)
		return
	}

	resp := map[string]any{"app_id": appID}
	if res != nil {
		resp["run_id"] = res.RunID
		resp["state"] = res.State
		resp["message"] = res.Message
		resp["stored"] = len(res.Reviews)
		resp["fetched"] = res.Fetched
		resp["dropped"] = res.Dropped
		resp["skipped_batches"] = res.Skipped
	}
	if err != nil {
		resp["message"] = fmt.Sprintf("Error refreshing reviews: %v", err)
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRetag(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.runContext(r)
	defer cancel()
	n, err := s.runner.Retag(ctx, r.PathValue("app"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.LoadTagRules(r.Context(), r.PathValue("app"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  rules,
		"count": len(rules),
	})
}

func (s *Server) handlePutRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keywords json.RawMessage `json:"keywords"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	keywords, err := parseKeywords(req.Keywords)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	appID, tag := r.PathValue("app"), r.PathValue("tag")
	if err := s.store.AddTagRule(r.Context(), appID, tag, keywords); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tag": tag, "keywords": tagging.CleanKeywords(keywords)})
}

// parseKeywords accepts a JSON array or a comma-separated string.
func parseKeywords(raw json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var csv string
	if err := json.Unmarshal(raw, &csv); err != nil {
		return nil, fmt.Errorf("keywords must be a list or a comma-separated string")
	}
	return tagging.ParseKeywords(csv), nil
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTagRule(r.Context(), r.PathValue("app"), r.PathValue("tag")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExtractedTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.LoadExtractedTags(r.Context(), r.PathValue("app"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  tags,
		"count": len(tags),
	})
}

func (s *Server) handleDeleteExtractedTag(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteExtractedTag(r.Context(), r.PathValue("app"), r.PathValue("tag")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	reviews, ok := s.filteredReviews(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":             report.Summarize(reviews, queryInt(r, "top", 10)),
		"rating_distribution": report.RatingDistribution(reviews),
		"tags":                report.TagStats(reviews),
	})
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	reviews, ok := s.filteredReviews(w, r)
	if !ok {
		return
	}
	resp := map[string]any{
		"daily_sentiment": report.DailySentiment(reviews),
		"weekly_rating":   report.WeeklyRating(reviews),
		"tag_trends":      report.TopTagTrends(reviews, queryInt(r, "top", 5)),
	}
	if c, ok := report.Correlation(reviews); ok {
		resp["correlation"] = c
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) filteredReviews(w http.ResponseWriter, r *http.Request) ([]review.Review, bool) {
	f, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return nil, false
	}
	reviews, err := s.store.QueryReviews(r.Context(), r.PathValue("app"), store.QueryOpts{})
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return f.Apply(reviews), true
}

func parseFilter(r *http.Request) (report.Filter, error) {
	q := r.URL.Query()
	var (
		f   report.Filter
		err error
	)
	if f.Sentiments, err = report.ParseLabels(q.Get("sentiment")); err != nil {
		return f, err
	}
	if f.From, err = report.ParseDay(q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = report.ParseDay(q.Get("to")); err != nil {
		return f, err
	}
	f.MinRating = queryInt(r, "min_rating", 0)
	f.MaxRating = queryInt(r, "max_rating", 0)
	if tags := q.Get("tags"); tags != "" {
		f.Tags = tagging.ParseKeywords(tags)
	}
	return f, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return n
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case review.IsKind(err, review.KindValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrReviewNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scheduler.ErrBusy):
		status = http.StatusConflict
	default:
		s.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
