package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/saodatJustdice/review-analyzer/pkg/pipeline"
	"github.com/saodatJustdice/review-analyzer/pkg/review"
)

func sampleResult() *pipeline.Result {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return &pipeline.Result{
		RunID:    "run-1",
		AppID:    "com.example",
		State:    pipeline.StateDone,
		Message:  "Successfully fetched and saved 2 reviews",
		Fetched:  3,
		Dropped:  1,
		Started:  start,
		Finished: start.Add(90 * time.Second),
		Reviews: []review.Review{
			{ReviewID: "a", Sentiment: review.Positive, Tags: []string{"ui"}},
			{ReviewID: "b", Sentiment: review.Negative, Tags: []string{"bug", "ui"}},
		},
	}
}

func TestFromRun(t *testing.T) {
	n := FromRun(sampleResult(), nil)
	if n.Failed || n.Stored != 2 || n.Dropped != 1 || n.Duration != "1m30s" {
		t.Fatalf("notification = %+v", n)
	}
	if n.Sentiments[review.Positive] != 1 || len(n.TopTags) != 2 || n.TopTags[0].Tag != "ui" {
		t.Fatalf("summary = %+v %+v", n.Sentiments, n.TopTags)
	}
	if !strings.Contains(n.Title(), "refreshed") {
		t.Fatalf("title = %q", n.Title())
	}

	failed := FromRun(&pipeline.Result{AppID: "x"}, errors.New("boom"))
	if !failed.Failed || !strings.Contains(failed.Title(), "failed") {
		t.Fatalf("failed notification = %+v", failed)
	}
}

func TestWebhookSignsPayload(t *testing.T) {
	var gotSig string
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature-256")
		if gotSig != "sha256="+Sign("s3cret", body) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewWebhook(srv.URL, "s3cret").Send(context.Background(), FromRun(sampleResult(), nil)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.AppID != "com.example" || got.Stored != 2 {
		t.Fatalf("payload = %+v", got)
	}
}

func TestChatNotifiers(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
	}))
	defer srv.Close()

	m := NewManager([]Notifier{NewSlack(srv.URL), NewDiscord(srv.URL)})
	if err := m.Broadcast(context.Background(), FromRun(sampleResult(), nil)); err != nil {
		t.Fatal(err)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(bodies))
	}
	if !strings.Contains(bodies[0], `"blocks"`) || !strings.Contains(bodies[1], `"embeds"`) {
		t.Fatalf("unexpected payloads: %v", bodies)
	}
}

func TestBroadcastJoinsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := NewManager([]Notifier{NewSlack(srv.URL), NewWebhook(srv.URL, "")})
	err := m.Broadcast(context.Background(), FromRun(sampleResult(), nil))
	if err == nil || !strings.Contains(err.Error(), "slack") || !strings.Contains(err.Error(), "webhook") {
		t.Fatalf("err = %v", err)
	}

	var nilManager *Manager
	if nilManager.HasNotifiers() || nilManager.Broadcast(context.Background(), &Notification{}) != nil {
		t.Fatal("nil manager should be inert")
	}
}
