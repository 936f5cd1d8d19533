package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounterVecPartitionsByLabel(t *testing.T) {
	r := New()
	c := r.CounterVec("docdex_test_documents_total", "Documents by outcome", "outcome")
	c.WithLabelValues("indexed").Inc()
	c.WithLabelValues("indexed").Inc()
	c.WithLabelValues("failed").Inc()

	if got := testutil.ToFloat64(c.WithLabelValues("indexed")); got != 2 {
		t.Errorf("indexed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("docdex_test_queue_depth", "Documents waiting")
	g.Set(42)
	g.Inc()
	g.Dec()
	if got := testutil.ToFloat64(g); got != 42 {
		t.Errorf("gauge = %v, want 42", got)
	}
}

func TestHistogramVecDefaultBuckets(t *testing.T) {
	r := New()
	h := r.HistogramVec("docdex_test_stage_duration_seconds", "Stage latency", nil, "stage")
	h.WithLabelValues("embed").Observe(0.3)
	h.WithLabelValues("embed").Observe(2)

	if got := testutil.CollectAndCount(h); got != 1 {
		t.Errorf("series = %d, want 1", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	r := New()
	r.Counter("docdex_test_total", "Test counter").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "docdex_test_total 1") {
		t.Errorf("metric missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("runtime collectors not registered")
	}
}

func TestHistogramRendersBuckets(t *testing.T) {
	r := New()
	h := r.HistogramVec("docdex_test_latency_seconds", "Latency", []float64{0.1, 1}, "stage")
	h.WithLabelValues("store").Observe(0.05)
	h.WithLabelValues("store").Observe(0.5)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `docdex_test_latency_seconds_count{stage="store"} 2`) {
		t.Errorf("missing count series:\n%s", body)
	}
	if !strings.Contains(body, `le="0.1"`) {
		t.Error("missing 0.1 bucket")
	}
}

func TestRegistriesAreIsolated(t *testing.T) {
	a := New()
	b := New()
	a.Counter("docdex_test_isolated_total", "Only in a").Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(rec.Body.String(), "docdex_test_isolated_total") {
		t.Error("metric registered in a leaked into b")
	}
}
