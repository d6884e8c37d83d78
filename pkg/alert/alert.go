package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/saodatJustdice/review-analyzer/pkg/pipeline"
	"github.com/saodatJustdice/review-analyzer/pkg/report"
	"github.com/saodatJustdice/review-analyzer/pkg/review"
)

// Notification summarises one ingestion run.
type Notification struct {
	AppID      string               `json:"app_id"`
	RunID      string               `json:"run_id"`
	Failed     bool                 `json:"failed"`
	Message    string               `json:"message"`
	Stored     int                  `json:"stored"`
	Fetched    int                  `json:"fetched"`
	Skipped    int                  `json:"skipped_batches"`
	Dropped    int                  `json:"dropped_records"`
	Duration   string               `json:"duration"`
	Sentiments map[review.Label]int `json:"sentiments,omitempty"`
	TopTags    []report.TagCount    `json:"top_tags,omitempty"`
	FinishedAt time.Time            `json:"finished_at"`
}

// Title is the one-line headline used by chat notifiers.
func (n *Notification) Title() string {
	if n.Failed {
		return fmt.Sprintf("Review refresh failed for %s", n.AppID)
	}
	return fmt.Sprintf("Reviews refreshed for %s", n.AppID)
}

// FromRun builds a notification from a finished run.
func FromRun(res *pipeline.Result, runErr error) *Notification {
	n := &Notification{
		AppID:      res.AppID,
		RunID:      res.RunID,
		Failed:     runErr != nil,
		Message:    res.Message,
		Stored:     len(res.Reviews),
		Fetched:    res.Fetched,
		Skipped:    res.Skipped,
		Dropped:    res.Dropped,
		Duration:   res.Duration().Round(time.Second).String(),
		FinishedAt: res.Finished.UTC(),
	}
	if len(res.Reviews) > 0 {
		s := report.Summarize(res.Reviews, 5)
		n.Sentiments = s.Sentiments
		n.TopTags = s.TopTags
	}
	return n
}

// Notifier delivers notifications to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// postJSON sends payload and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) error {
	body, ok := payload.([]byte)
	if !ok {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "review-analyzer/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func statsLine(n *Notification) string {
	return fmt.Sprintf("stored %d | fetched %d | skipped batches %d | dropped %d | %s",
		n.Stored, n.Fetched, n.Skipped, n.Dropped, n.Duration)
}

func sentimentLine(n *Notification) string {
	if len(n.Sentiments) == 0 {
		return ""
	}
	return fmt.Sprintf("Positive %d | Negative %d | Neutral %d",
		n.Sentiments[review.Positive], n.Sentiments[review.Negative], n.Sentiments[review.Neutral])
}
