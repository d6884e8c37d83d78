package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/saodatJustdice/review-analyzer/internal/logger"
	"github.com/saodatJustdice/review-analyzer/pkg/alert"
	"github.com/saodatJustdice/review-analyzer/pkg/pipeline"
)

// ErrBusy is returned when a refresh of the same app is already running.
var ErrBusy = errors.New("refresh already running")

// Runner serialises refreshes per app and notifies configured alert
// destinations when a run finishes.
type Runner struct {
	pipeline *pipeline.Pipeline
	alerts   *alert.Manager
	log      *logger.Logger

	mu      sync.Mutex
	running map[string]bool
}

// NewRunner creates a runner. alerts may be nil.
func NewRunner(p *pipeline.Pipeline, alerts *alert.Manager, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		pipeline: p,
		alerts:   alerts,
		log:      log,
		running:  make(map[string]bool),
	}
}

func (r *Runner) acquire(appID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[appID] {
		return false
	}
	r.running[appID] = true
	return true
}

func (r *Runner) release(appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, appID)
}

// Refresh runs the pipeline for appID unless a run for it is in flight.
func (r *Runner) Refresh(ctx context.Context, appID string, progress pipeline.ProgressFunc) (*pipeline.Result, error) {
	if !r.acquire(appID) {
		return nil, ErrBusy
	}
	defer r.release(appID)

	res, err := r.pipeline.Run(ctx, appID, progress)
	r.notify(ctx, res, err)
	return res, err
}

// Retag re-tags the stored reviews of appID.
func (r *Runner) Retag(ctx context.Context, appID string) (int, error) {
	if !r.acquire(appID) {
		return 0, ErrBusy
	}
	defer r.release(appID)
	return r.pipeline.Retag(ctx, appID)
}

func (r *Runner) notify(ctx context.Context, res *pipeline.Result, runErr error) {
	if res == nil || !r.alerts.HasNotifiers() {
		return
	}
	// Empty runs are not worth a message.
	if runErr == nil && len(res.Reviews) == 0 {
		return
	}
	if err := r.alerts.Broadcast(context.WithoutCancel(ctx), alert.FromRun(res, runErr)); err != nil {
		r.log.Warn("notification failed", "app_id", res.AppID, "error", err)
	}
}
