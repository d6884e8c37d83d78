package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saodatJustdice/review-analyzer/internal/config"
	"github.com/saodatJustdice/review-analyzer/internal/logger"
	"github.com/saodatJustdice/review-analyzer/internal/metrics"
	"github.com/saodatJustdice/review-analyzer/internal/pgexport"
	"github.com/saodatJustdice/review-analyzer/internal/scheduler"
	"github.com/saodatJustdice/review-analyzer/internal/store"
	"github.com/saodatJustdice/review-analyzer/pkg/alert"
	"github.com/saodatJustdice/review-analyzer/pkg/pipeline"
	"github.com/saodatJustdice/review-analyzer/pkg/report"
	"github.com/saodatJustdice/review-analyzer/pkg/review"
	"github.com/saodatJustdice/review-analyzer/pkg/server"
	"github.com/saodatJustdice/review-analyzer/pkg/source"
	"github.com/saodatJustdice/review-analyzer/pkg/tagging"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// env holds what every command needs: config, logger, metrics and an open
// store.
type env struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	store   *store.SQLiteStore
}

func openEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	mode := cfg.Log.Mode
	if logMode != "" {
		mode = logMode
	}
	log, err := logger.New(mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := store.New(cfg.Database.Path, store.Options{
		DefaultApps:  cfg.Apps,
		DefaultRules: cfg.Tags,
		LegacyAppID:  cfg.Database.LegacyAppID,
		CacheTTL:     cfg.Database.ParseCacheTTL(),
		Logger:       log.With("component", "store"),
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &env{cfg: cfg, log: log, metrics: metrics.New(), store: db}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.log.Warn("close store", "error", err)
	}
	e.log.Sync()
}

func (e *env) buildExtractor() *tagging.Extractor {
	log := e.log.With("component", "extractor")
	switch e.cfg.Extractor.Parser {
	case "llm":
		llm := e.cfg.Extractor.LLM
		e.log.Info("free-text tagging via llm", "provider", llm.Provider, "model", llm.Model)
		return tagging.NewExtractor(tagging.NewLLMParser(llm.Provider, llm.Model, llm.APIKey, llm.BaseURL), log)
	case "none":
		return tagging.NewExtractor(nil, log)
	default:
		return tagging.NewExtractor(tagging.NewProseParser(), log)
	}
}

func (e *env) buildAlertManager() *alert.Manager {
	var notifiers []alert.Notifier

	if e.cfg.Alerts.Slack.Enabled && e.cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(e.cfg.Alerts.Slack.WebhookURL))
	}
	if e.cfg.Alerts.Discord.Enabled && e.cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(e.cfg.Alerts.Discord.WebhookURL))
	}
	if e.cfg.Alerts.Webhook.Enabled && e.cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(e.cfg.Alerts.Webhook.URL, e.cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func (e *env) buildRunner() (*scheduler.Runner, error) {
	fetch := e.cfg.Fetch
	src, err := source.New(source.Config{
		Kind:     source.Kind(fetch.Source),
		Endpoint: fetch.Endpoint,
		APIKey:   fetch.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("build source: %w", err)
	}

	p := pipeline.New(src, e.store, pipeline.Options{
		BatchSize:  fetch.BatchSize,
		Delay:      fetch.ParseDelay(),
		RetryDelay: fetch.ParseRetryDelay(),
		MaxRetries: fetch.MaxRetries,
		Language:   fetch.Language,
		Country:    fetch.Country,
		Sort:       source.SortNewest,
		Extractor:  e.buildExtractor(),
		Logger:     e.log.With("component", "pipeline"),
		Metrics:    e.metrics,
	})
	return scheduler.NewRunner(p, e.buildAlertManager(), e.log), nil
}

func printProgress(p pipeline.Progress) {
	fmt.Fprintf(os.Stderr, "[%s] %-11s %s\n", p.AppID, p.State, p.Message)
}

func runRefresh(ctx context.Context, apps []string, all bool) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	runner, err := e.buildRunner()
	if err != nil {
		return err
	}
	if all {
		if apps, err = e.store.ListApps(ctx); err != nil {
			return fmt.Errorf("list apps: %w", err)
		}
	}
	for _, appID := range apps {
		if err := store.ValidateAppID(appID); err != nil {
			return err
		}
	}

	failed := 0
	for _, appID := range apps {
		res, err := runner.Refresh(ctx, appID, printProgress)
		switch {
		case err != nil:
			failed++
			fmt.Printf("%s: Error refreshing reviews: %v\n", appID, err)
		default:
			fmt.Printf("%s: %s\n", appID, res.Message)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d refreshes failed", failed, len(apps))
	}
	return nil
}

func runAppsList(ctx context.Context) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	apps, err := e.store.ListApps(ctx)
	if err != nil {
		return fmt.Errorf("list apps: %w", err)
	}
	counts, err := e.store.CountReviewsByApp(ctx)
	if err != nil {
		return fmt.Errorf("count reviews: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "APP\tREVIEWS")
	for _, app := range apps {
		fmt.Fprintf(w, "%s\t%d\n", app, counts[app])
	}
	return w.Flush()
}

func runAppsAdd(ctx context.Context, appID string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.store.AddApp(ctx, appID); err != nil {
		return err
	}
	fmt.Printf("added app %s\n", strings.TrimSpace(appID))
	return nil
}

func runRulesList(ctx context.Context, appID string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	rules, err := e.store.LoadTagRules(ctx, appID)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Printf("no tag rules for %s\n", appID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TAG\tKEYWORDS")
	for _, tag := range rules.Names() {
		fmt.Fprintf(w, "%s\t%s\n", tag, strings.Join(rules[tag], ", "))
	}
	return w.Flush()
}

func runRulesAdd(ctx context.Context, appID, tag, keywords string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.store.AddTagRule(ctx, appID, tag, tagging.ParseKeywords(keywords)); err != nil {
		return err
	}
	fmt.Printf("saved rule %s for %s\n", tag, appID)
	return nil
}

func runRulesDelete(ctx context.Context, appID, tag string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.store.DeleteTagRule(ctx, appID, tag); err != nil {
		return err
	}
	fmt.Printf("deleted rule %s for %s\n", tag, appID)
	return nil
}

func runExtractedList(ctx context.Context, appID string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	tags, err := e.store.LoadExtractedTags(ctx, appID)
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		fmt.Printf("no extracted tags for %s\n", appID)
		return nil
	}
	for _, t := range tags {
		fmt.Println(t)
	}
	return nil
}

func runExtractedDelete(ctx context.Context, appID, tag string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.store.DeleteExtractedTag(ctx, appID, tag); err != nil {
		return err
	}
	fmt.Printf("deleted extracted tag %s for %s\n", tag, appID)
	return nil
}

func runRetag(ctx context.Context, appID string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	runner, err := e.buildRunner()
	if err != nil {
		return err
	}
	n, err := runner.Retag(ctx, appID)
	if err != nil {
		return fmt.Errorf("retag %s: %w", appID, err)
	}
	fmt.Printf("updated tags on %d reviews of %s\n", n, appID)
	return nil
}

func runTag(ctx context.Context, appID, reviewID, tags string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	merged, err := e.store.AddReviewTags(ctx, appID, reviewID, tagging.ParseKeywords(tags))
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", reviewID, strings.Join(merged, ", "))
	return nil
}

func (f filterFlags) build() (report.Filter, error) {
	var (
		out report.Filter
		err error
	)
	if out.Sentiments, err = report.ParseLabels(f.sentiment); err != nil {
		return out, err
	}
	if out.From, err = report.ParseDay(f.from); err != nil {
		return out, err
	}
	if out.To, err = report.ParseDay(f.to); err != nil {
		return out, err
	}
	out.MinRating, out.MaxRating = f.minRating, f.maxRating
	if f.tags != "" {
		out.Tags = tagging.ParseKeywords(f.tags)
	}
	return out, nil
}

// loadFiltered opens the store and returns the app's reviews matching f.
func loadFiltered(ctx context.Context, appID string, f filterFlags) ([]review.Review, error) {
	filter, err := f.build()
	if err != nil {
		return nil, err
	}
	e, err := openEnv()
	if err != nil {
		return nil, err
	}
	defer e.Close()

	reviews, err := e.store.QueryReviews(ctx, appID, store.QueryOpts{})
	if err != nil {
		return nil, err
	}
	return filter.Apply(reviews), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runReviews(ctx context.Context, appID string, f filterFlags, jsonOutput bool, limit int) error {
	reviews, err := loadFiltered(ctx, appID, f)
	if err != nil {
		return err
	}
	if limit > 0 && len(reviews) > limit {
		reviews = reviews[:limit]
	}
	names := report.DisplayNames(reviews)

	if jsonOutput {
		type row struct {
			review.Review
			DisplayUsername string `json:"display_username"`
		}
		rows := make([]row, len(reviews))
		for i := range reviews {
			rows[i] = row{Review: reviews[i], DisplayUsername: names[reviews[i].ReviewID]}
		}
		return printJSON(rows)
	}

	if len(reviews) == 0 {
		fmt.Printf("no reviews found (try fetching first: review-analyzer refresh %s)\n", appID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tRATING\tSENTIMENT\tUSER\tTAGS\tREVIEW")
	for _, r := range reviews {
		date := "-"
		if !r.Date.IsZero() {
			date = r.Date.Format(time.DateOnly)
		}
		sentiment := string(r.Sentiment)
		if sentiment == "" {
			sentiment = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			date, r.Rating, sentiment, names[r.ReviewID],
			strings.Join(r.Tags, ","), truncate(r.Text, 60))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func runStats(ctx context.Context, appID string, f filterFlags, jsonOutput bool, top int) error {
	reviews, err := loadFiltered(ctx, appID, f)
	if err != nil {
		return err
	}
	summary := report.Summarize(reviews, top)
	dist := report.RatingDistribution(reviews)
	tags := report.TagStats(reviews)

	if jsonOutput {
		return printJSON(map[string]any{
			"summary":             summary,
			"rating_distribution": dist,
			"tags":                tags,
		})
	}

	fmt.Printf("%s: %d reviews, average rating %.2f\n", appID, summary.Total, summary.AverageRating)
	for _, l := range review.Labels() {
		fmt.Printf("  %-9s %d\n", l, summary.Sentiments[l])
	}
	fmt.Println("\nratings:")
	for stars := 5; stars >= 1; stars-- {
		fmt.Printf("  %d★ %d\n", stars, dist[stars])
	}
	if len(tags) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TAG\tREVIEWS\tSENTIMENT\tRATING")
	for i, t := range tags {
		if top > 0 && i >= top {
			break
		}
		fmt.Fprintf(w, "%s\t%d\t%+.3f\t%.2f\n", t.Tag, t.Count, t.MeanSentimentScore, t.MeanRating)
	}
	return w.Flush()
}

func runTrends(ctx context.Context, appID string, f filterFlags, jsonOutput bool, top int) error {
	reviews, err := loadFiltered(ctx, appID, f)
	if err != nil {
		return err
	}
	daily := report.DailySentiment(reviews)
	weekly := report.WeeklyRating(reviews)
	tagTrends := report.TopTagTrends(reviews, top)
	corr, hasCorr := report.Correlation(reviews)

	if jsonOutput {
		out := map[string]any{
			"daily_sentiment": daily,
			"weekly_rating":   weekly,
			"tag_trends":      tagTrends,
		}
		if hasCorr {
			out["correlation"] = corr
		}
		return printJSON(out)
	}

	if len(daily) == 0 {
		fmt.Println("no dated reviews to trend")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DAY\tREVIEWS\tPOSITIVE\tNEGATIVE\tNEUTRAL")
	for _, d := range daily {
		fmt.Fprintf(w, "%s\t%d\t%.0f%%\t%.0f%%\t%.0f%%\n", d.Day.Format(time.DateOnly), d.Total,
			d.Percent[review.Positive], d.Percent[review.Negative], d.Percent[review.Neutral])
	}
	fmt.Fprintln(w, "\nWEEK OF\tREVIEWS\tAVG RATING")
	for _, p := range weekly {
		fmt.Fprintf(w, "%s\t%d\t%.2f\n", p.Start.Format(time.DateOnly), p.Count, p.Average)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, t := range tagTrends {
		fmt.Printf("\n%s (%d):", t.Tag, t.Total)
		for _, d := range daily {
			day := d.Day.Format(time.DateOnly)
			if n := t.Counts[day]; n > 0 {
				fmt.Printf(" %s=%d", day, n)
			}
		}
	}
	if len(tagTrends) > 0 {
		fmt.Println()
	}
	if hasCorr {
		fmt.Printf("\nsentiment/rating correlation: %.3f\n", corr)
	}
	return nil
}

func runServe(ctx context.Context, port int) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if port == 0 {
		port = e.cfg.Server.Port
	}
	runner, err := e.buildRunner()
	if err != nil {
		return err
	}

	srv := server.New(e.store, runner, e.metrics.Handler(), e.log.With("component", "server"), port)
	return srv.ListenAndServe(ctx)
}

func runDaemon(ctx context.Context, port int) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if port == 0 {
		port = e.cfg.Server.Port
	}
	runner, err := e.buildRunner()
	if err != nil {
		return err
	}

	sched, err := scheduler.New(runner, e.store.ListApps, scheduler.Options{
		Spec:     e.cfg.Schedule.Spec,
		Timezone: e.cfg.Schedule.Timezone,
		Timeout:  e.cfg.Schedule.ParseTimeout(),
		Logger:   e.log.With("component", "scheduler"),
	})
	if err != nil {
		return err
	}
	srv := server.New(e.store, runner, e.metrics.Handler(), e.log.With("component", "server"), port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		e.log.Info("daemon stopped")
		return nil
	}
	return err
}

func runExport(ctx context.Context, table string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if table == "" {
		table = e.cfg.Postgres.Table
	}
	n, err := pgexport.New(e.cfg.Postgres.DSN, table, e.log.With("component", "pgexport")).Export(ctx, e.store)
	if errors.Is(err, pgexport.ErrNoDSN) {
		return fmt.Errorf("%w: set postgres.dsn or REVIEW_ANALYZER_PG_DSN", err)
	}
	if err != nil {
		return err
	}
	fmt.Printf("exported %d reviews to %s\n", n, table)
	return nil
}
