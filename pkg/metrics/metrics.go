// Package metrics wires Prometheus instruments for the document pipeline
// and serves the /metrics endpoint. Each command builds its own Registry
// so nothing leaks through the client library's global default.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DurationBuckets covers pipeline latencies from a single parse
// (milliseconds) up to embedding a large document (tens of seconds).
var DurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Registry owns a dedicated Prometheus registry with the Go runtime
// collectors pre-installed.
type Registry struct {
	reg     *prometheus.Registry
	factory promauto.Factory
}

// New creates an empty registry with process and goroutine collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{reg: reg, factory: promauto.With(reg)}
}

// Counter registers a plain counter.
func (r *Registry) Counter(name, help string) prometheus.Counter {
	return r.factory.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
}

// CounterVec registers a counter partitioned by the given labels.
func (r *Registry) CounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return r.factory.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

// Gauge registers a single gauge.
func (r *Registry) Gauge(name, help string) prometheus.Gauge {
	return r.factory.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
}

// Histogram registers a plain histogram. Nil buckets use DurationBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64) prometheus.Histogram {
	if buckets == nil {
		buckets = DurationBuckets
	}
	return r.factory.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
}

// HistogramVec registers a histogram partitioned by the given labels.
// Nil buckets use DurationBuckets.
func (r *Registry) HistogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = DurationBuckets
	}
	return r.factory.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Serve blocks serving /metrics, plus a bare liveness root, on the port.
func (r *Registry) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

// ServeAsync starts the metrics server in a goroutine. Errors are logged.
func (r *Registry) ServeAsync(port int, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	go func() {
		if err := r.Serve(port); err != nil {
			log.Error("metrics server failed", "port", port, "error", err)
		}
	}()
}
