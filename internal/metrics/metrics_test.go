package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAreRegistered(t *testing.T) {
	m := New()
	m.BatchesFetched.WithLabelValues("com.example").Add(2)
	m.RunsTotal.WithLabelValues("com.example", OutcomeDone).Inc()

	if got := testutil.ToFloat64(m.BatchesFetched.WithLabelValues("com.example")); got != 2 {
		t.Fatalf("batches = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"review_analyzer_fetch_batches_total",
		`review_analyzer_pipeline_runs_total{app_id="com.example",outcome="done"} 1`,
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("exposition missing %q", name)
		}
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RecordsDropped.WithLabelValues("x").Inc()
	if got := testutil.ToFloat64(b.RecordsDropped.WithLabelValues("x")); got != 0 {
		t.Fatalf("registries share state: %v", got)
	}
}
