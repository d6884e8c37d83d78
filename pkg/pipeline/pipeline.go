package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saodatJustdice/review-analyzer/internal/logger"
	"github.com/saodatJustdice/review-analyzer/internal/metrics"
	"github.com/saodatJustdice/review-analyzer/internal/store"
	"github.com/saodatJustdice/review-analyzer/pkg/review"
	"github.com/saodatJustdice/review-analyzer/pkg/sentiment"
	"github.com/saodatJustdice/review-analyzer/pkg/source"
	"github.com/saodatJustdice/review-analyzer/pkg/tagging"
)

// State is a stage of an ingestion run.
type State string

const (
	StateStart       State = "START"
	StateFetching    State = "FETCHING"
	StateNormalizing State = "NORMALIZING"
	StateEnriching   State = "ENRICHING"
	StatePersisting  State = "PERSISTING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Outcome messages returned to callers.
const (
	MsgNoReviews      = "No new reviews fetched."
	MsgNoneAfterClean = "No reviews after cleaning."
)

// Progress is reported to the caller after every batch, retry and stage
// change.
type Progress struct {
	RunID   string
	AppID   string
	State   State
	Batch   int
	Fetched int
	Message string
}

// ProgressFunc receives progress updates. It must not block.
type ProgressFunc func(Progress)

// Options tunes a pipeline.
type Options struct {
	BatchSize int
	// Delay is the pause between successful batches.
	Delay time.Duration
	// RetryDelay is multiplied by the attempt number between failed attempts.
	RetryDelay time.Duration
	// MaxRetries is the number of attempts per batch.
	MaxRetries int
	Language   string
	Country    string
	Sort       source.Sort

	Classifier *sentiment.Classifier
	Extractor  *tagging.Extractor
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		BatchSize:  100,
		Delay:      10 * time.Second,
		RetryDelay: 10 * time.Second,
		MaxRetries: 3,
		Language:   "en",
		Country:    "us",
		Sort:       source.SortNewest,
	}
}

// Pipeline fetches, enriches and stores the reviews of one app per run.
type Pipeline struct {
	src        source.Source
	store      store.Store
	classifier *sentiment.Classifier
	extractor  *tagging.Extractor
	log        *logger.Logger
	metrics    *metrics.Metrics
	opts       Options

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a pipeline. Unset batch size, retries, language, country and
// sort fall back to DefaultOptions; zero delays mean no waiting. A nil
// classifier selects VADER and a nil extractor disables extraction.
func New(src source.Source, st store.Store, opts Options) *Pipeline {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.Language == "" {
		opts.Language = def.Language
	}
	if opts.Country == "" {
		opts.Country = def.Country
	}
	if opts.Sort == "" {
		opts.Sort = def.Sort
	}

	p := &Pipeline{
		src:        src,
		store:      st,
		classifier: opts.Classifier,
		extractor:  opts.Extractor,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		opts:       opts,
		sleep:      sleepCtx,
		now:        time.Now,
	}
	if p.log == nil {
		p.log = logger.Nop()
	}
	if p.classifier == nil {
		p.classifier = sentiment.New(nil)
	}
	if p.extractor == nil {
		p.extractor = tagging.NewExtractor(nil, p.log)
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result summarises one run.
type Result struct {
	RunID    string
	AppID    string
	State    State
	Message  string
	Reviews  []review.Review
	Batches  int
	Skipped  int
	Fetched  int
	Dropped  int
	Started  time.Time
	Finished time.Time
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// run carries per-run state through the stages.
type run struct {
	*Result
	log      *logger.Logger
	progress ProgressFunc
}

func (r *run) emit(state State, batch int, format string, args ...any) {
	r.State = state
	msg := fmt.Sprintf(format, args...)
	r.log.Info(msg, "state", state, "batch", batch, "fetched", r.Fetched)
	if r.progress != nil {
		r.progress(Progress{
			RunID:   r.RunID,
			AppID:   r.AppID,
			State:   state,
			Batch:   batch,
			Fetched: r.Fetched,
			Message: msg,
		})
	}
}

// Refresh runs the pipeline for appID and reports a human-readable outcome.
// Reviews are returned only when the run stored them.
func (p *Pipeline) Refresh(ctx context.Context, appID string, progress ProgressFunc) ([]review.Review, string) {
	res, err := p.Run(ctx, appID, progress)
	if err != nil {
		return nil, fmt.Sprintf("Error refreshing reviews: %v", err)
	}
	if res.State != StateDone {
		return nil, res.Message
	}
	return res.Reviews, res.Message
}

// Run executes one ingestion run. A non-nil error means the run failed;
// a run with nothing to store returns a Result in state DONE with no reviews.
func (p *Pipeline) Run(ctx context.Context, appID string, progress ProgressFunc) (*Result, error) {
	r := &run{
		Result: &Result{
			RunID:   uuid.NewString(),
			AppID:   appID,
			State:   StateStart,
			Started: p.now(),
		},
		progress: progress,
	}
	r.log = p.log.With("run_id", r.RunID, "app_id", appID)

	err := p.execute(ctx, r)
	r.Finished = p.now()

	outcome := metrics.OutcomeDone
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeCanceled
	case err != nil:
		outcome = metrics.OutcomeFailed
	case len(r.Reviews) == 0:
		outcome = metrics.OutcomeNoData
	}
	p.metrics.RunsTotal.WithLabelValues(appID, outcome).Inc()
	p.metrics.RunDuration.WithLabelValues(appID).Observe(r.Duration().Seconds())

	if err != nil {
		r.Message = fmt.Sprintf("Error refreshing reviews: %v", err)
		r.emit(StateFailed, r.Batches, "%s", r.Message)
		r.log.Error("run failed", "error", err, "duration", r.Duration())
		return r.Result, err
	}
	r.State = StateDone
	return r.Result, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	r.emit(StateFetching, 0, "Starting review fetch...")
	records, err := p.fetch(ctx, r)
	if err != nil {
		return err
	}
	r.emit(StateFetching, r.Batches, "Finished fetching reviews.")

	if len(records) == 0 {
		if r.Skipped > 0 {
			return review.TransportError("fetch reviews",
				fmt.Errorf("no reviews fetched, %d batch(es) failed", r.Skipped))
		}
		r.Message = MsgNoReviews
		r.emit(StateDone, r.Batches, "%s", r.Message)
		return nil
	}

	r.emit(StateNormalizing, r.Batches, "Total reviews fetched: %d", len(records))
	reviews := p.normalizeAll(r, records)
	if len(reviews) == 0 {
		r.Message = MsgNoneAfterClean
		r.emit(StateDone, r.Batches, "%s", r.Message)
		return nil
	}

	r.emit(StateEnriching, r.Batches, "Analyzing sentiment and tagging %d reviews...", len(reviews))
	if err := p.enrichAll(ctx, r, reviews); err != nil {
		return err
	}

	r.emit(StatePersisting, r.Batches, "Updating database...")
	if err := p.store.ReplaceReviewsForApp(ctx, r.AppID, reviews); err != nil {
		return err
	}
	p.store.Invalidate(r.AppID)
	p.metrics.StoredReviews.WithLabelValues(r.AppID).Set(float64(len(reviews)))

	r.Reviews = reviews
	r.Message = fmt.Sprintf("Successfully fetched and saved %d reviews with sentiment and tags for app %s!", len(reviews), r.AppID)
	r.emit(StateDone, r.Batches, "%s", r.Message)
	return nil
}

// fetch pulls batches until the source is exhausted. A batch that fails every
// attempt is skipped; since its cursor is lost, fetching ends there.
func (p *Pipeline) fetch(ctx context.Context, r *run) ([]source.RawRecord, error) {
	var records []source.RawRecord
	req := source.BatchRequest{
		AppID:    r.AppID,
		Language: p.opts.Language,
		Country:  p.opts.Country,
		Sort:     p.opts.Sort,
		Count:    p.opts.BatchSize,
	}

	for n := 1; ; n++ {
		batch, err := p.fetchWithRetry(ctx, r, n, req)
		if err != nil {
			if ctx.Err() != nil {
				return records, ctx.Err()
			}
			r.Skipped++
			p.metrics.BatchesSkipped.WithLabelValues(r.AppID).Inc()
			r.log.Error("batch skipped", "batch", n, "error", err)
			break
		}

		r.Batches++
		r.Fetched += len(batch.Records)
		records = append(records, batch.Records...)
		p.metrics.BatchesFetched.WithLabelValues(r.AppID).Inc()
		r.emit(StateFetching, n, "Fetched batch of %d reviews. Total: %d", len(batch.Records), r.Fetched)

		if len(batch.Records) == 0 || batch.NextToken == "" {
			r.emit(StateFetching, n, "No more reviews to fetch.")
			break
		}
		req.Token = batch.NextToken
		if err := p.sleep(ctx, p.opts.Delay); err != nil {
			return records, err
		}
	}
	return records, nil
}

func (p *Pipeline) fetchWithRetry(ctx context.Context, r *run, n int, req source.BatchRequest) (*source.Batch, error) {
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxRetries; attempt++ {
		batch, err := p.src.FetchBatch(ctx, req)
		if err == nil {
			if batch == nil {
				batch = &source.Batch{}
			}
			return batch, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		p.metrics.FetchRetries.WithLabelValues(r.AppID).Inc()
		r.emit(StateFetching, n, "Error fetching batch (attempt %d/%d): %v", attempt, p.opts.MaxRetries, err)
		if attempt == p.opts.MaxRetries {
			r.emit(StateFetching, n, "Max retries reached. Skipping batch.")
			break
		}
		if err := p.sleep(ctx, p.opts.RetryDelay*time.Duration(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("batch %d: %w", n, lastErr)
}

// normalizeAll converts records, dropping malformed ones and later
// duplicates of the same review id.
func (p *Pipeline) normalizeAll(r *run, records []source.RawRecord) []review.Review {
	seen := make(map[string]bool, len(records))
	out := make([]review.Review, 0, len(records))
	for i, rec := range records {
		rv, err := normalize(r.AppID, rec)
		if err != nil {
			r.Dropped++
			p.metrics.RecordsDropped.WithLabelValues(r.AppID).Inc()
			r.log.Warn("dropping record", "index", i, "error", err)
			continue
		}
		if seen[rv.ReviewID] {
			r.log.Debug("dropping duplicate review", "review_id", rv.ReviewID)
			continue
		}
		seen[rv.ReviewID] = true
		out = append(out, rv)
	}
	return out
}

func (p *Pipeline) enrichAll(ctx context.Context, r *run, reviews []review.Review) error {
	rules, err := p.store.LoadTagRules(ctx, r.AppID)
	if err != nil {
		return err
	}
	t := &tagger{
		appID:     r.AppID,
		matcher:   tagging.NewMatcher(rules),
		extractor: p.extractor,
		store:     p.store,
		log:       r.log,
		known:     make(map[string]bool),
	}

	for i := range reviews {
		p.enrichOne(ctx, r, t, &reviews[i])
	}
	p.metrics.ReviewsEnriched.WithLabelValues(r.AppID).Add(float64(len(reviews)))
	r.emit(StateEnriching, r.Batches, "Sentiment analysis and tagging complete.")
	return nil
}

// enrichOne scores and tags rv. Any failure degrades the review to neutral
// and untagged.
func (p *Pipeline) enrichOne(ctx context.Context, r *run, t *tagger, rv *review.Review) {
	defer func() {
		if rec := recover(); rec != nil {
			err := review.EnrichmentError("enrich "+rv.ReviewID, fmt.Errorf("panic: %v", rec))
			r.log.Error("enrichment failed", "review_id", rv.ReviewID, "error", err)
			rv.Sentiment, rv.SentimentScore, rv.Tags = review.Neutral, 0, nil
		}
	}()

	res := p.classifier.Classify(rv.Text)
	rv.Sentiment, rv.SentimentScore = res.Label, res.Score
	rv.Tags = t.tags(ctx, rv.Text)
}
