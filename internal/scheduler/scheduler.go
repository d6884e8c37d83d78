package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/saodatJustdice/review-analyzer/internal/logger"
)

// DefaultSpec refreshes every app once a day at midnight.
const DefaultSpec = "0 0 * * *"

// AppLister returns the apps to refresh on each tick.
type AppLister func(ctx context.Context) ([]string, error)

// Scheduler periodically refreshes apps on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	runner  *Runner
	apps    AppLister
	spec    string
	timeout time.Duration
	log     *logger.Logger
}

// Options configures a scheduler.
type Options struct {
	Spec     string
	Timezone string
	// Timeout bounds one tick across all apps.
	Timeout time.Duration
	Logger  *logger.Logger
}

// New creates a scheduler that refreshes the apps returned by apps.
func New(runner *Runner, apps AppLister, opts Options) (*Scheduler, error) {
	if opts.Spec == "" {
		opts.Spec = DefaultSpec
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	loc := time.Local
	if opts.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(opts.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", opts.Timezone, err)
		}
	}

	cl := cronLogger{opts.Logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:  runner,
		apps:    apps,
		spec:    opts.Spec,
		timeout: opts.Timeout,
		log:     opts.Logger,
	}
	if _, err := s.cron.AddFunc(opts.Spec, func() { s.RefreshAll(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule refresh %q: %w", opts.Spec, err)
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is cancelled. Running jobs
// are allowed to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.log.Info("scheduler running", "spec", s.spec, "next", s.Next())

	<-ctx.Done()
	s.log.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	return ctx.Err()
}

// Next is the time of the next scheduled refresh.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RefreshAll refreshes every listed app in turn. Failures are logged and do
// not stop the remaining apps.
func (s *Scheduler) RefreshAll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	apps, err := s.apps(ctx)
	if err != nil {
		s.log.Error("list apps for refresh", "error", err)
		return
	}
	for _, appID := range apps {
		start := time.Now()
		res, err := s.runner.Refresh(ctx, appID, nil)
		switch {
		case errors.Is(err, ErrBusy):
			s.log.Warn("refresh skipped, already running", "app_id", appID)
		case err != nil:
			s.log.Error("scheduled refresh failed", "app_id", appID, "error", err)
		default:
			s.log.Info("scheduled refresh done", "app_id", appID, "stored", len(res.Reviews), "took", time.Since(start))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// cronLogger adapts the zap wrapper to cron.Logger.
type cronLogger struct{ l *logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
