// Package metrics exposes prometheus instrumentation for lifecycle operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts lifecycle operations by outcome. A nil *Recorder is valid
// and records nothing.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	swept      *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lms",
			Name:      "lifecycle_operations_total",
			Help:      "Lifecycle operations by operation and outcome code.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lms",
			Name:      "lifecycle_operation_duration_seconds",
			Help:      "Lifecycle operation latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lms",
			Name:      "sweep_records_total",
			Help:      "Records changed by batch sweeps.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		r.operations,
		r.duration,
		r.swept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (r *Recorder) AddSwept(kind string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.swept.WithLabelValues(kind).Add(float64(n))
}

// Handler serves the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
