// Package metrics exposes the Prometheus Collectors spec.md §6 names.
// Grounded on the teacher's pkg/worker/metrics.go MetricsCollector,
// replaced wholesale: the teacher hand-rolled text exposition with
// fmt.Fprintf over a protobuf WorkerMetrics message; this uses real
// github.com/prometheus/client_golang Collectors registered against a
// prometheus.Registry and served by promhttp.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the worker records, grouped the way
// spec.md §6 lists them.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal        *prometheus.CounterVec
	RequestDuration      prometheus.Histogram
	BatchSize            prometheus.Histogram
	BatchWait            prometheus.Histogram
	QueueDepth           prometheus.Gauge
	QueueRejectionsTotal prometheus.Counter
	ModelLoadSeconds     prometheus.Gauge
	ModelWarmupSeconds   prometheus.Gauge
	ErrorsTotal          *prometheus.CounterVec
	BatchesTotal         prometheus.Counter
}

// New constructs and registers every Collector spec.md §6 names.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_requests_total",
			Help: "Completed inference requests by outcome.",
		}, []string{"status"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inference_request_duration_seconds",
			Help:    "End-to-end request latency from admission to completion.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inference_batch_size",
			Help:    "Number of requests scheduled per batch.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
		BatchWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inference_batch_wait_seconds",
			Help:    "Time the scheduler spent waiting to fill a batch.",
			Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inference_queue_depth",
			Help: "Current number of requests staged in the queue.",
		}),
		QueueRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inference_queue_rejections_total",
			Help: "Admissions refused because the queue was at capacity.",
		}),
		ModelLoadSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inference_model_load_seconds",
			Help: "Wall-clock time the model took to load, set once at startup.",
		}),
		ModelWarmupSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inference_model_warmup_seconds",
			Help: "Wall-clock time the model took to warm up, set once at startup.",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_errors_total",
			Help: "Errors observed, by kind.",
		}, []string{"error_type"}),
		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inference_batches_total",
			Help: "Batches dispatched to the model, regardless of outcome.",
		}),
	}

	reg.MustRegister(
		r.RequestsTotal, r.RequestDuration, r.BatchSize, r.BatchWait,
		r.QueueDepth, r.QueueRejectionsTotal, r.ModelLoadSeconds,
		r.ModelWarmupSeconds, r.ErrorsTotal, r.BatchesTotal,
	)
	return r
}

// Handler returns the http.Handler that serves this Registry in
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// --- core.Metrics ---

func (r *Registry) ObserveBatchSize(n int)                 { r.BatchSize.Observe(float64(n)) }
func (r *Registry) ObserveBatchWait(d time.Duration)       { r.BatchWait.Observe(d.Seconds()) }
func (r *Registry) ObserveRequestDuration(d time.Duration) { r.RequestDuration.Observe(d.Seconds()) }
func (r *Registry) IncBatchesTotal()                       { r.BatchesTotal.Inc() }
func (r *Registry) IncBatchFailures() {
	r.ErrorsTotal.WithLabelValues("processing_error").Inc()
}

// RecordRequestOutcome increments inference_requests_total{status} only;
// it never touches inference_errors_total — spec.md §4.3 submit() side
// effects.
func (r *Registry) RecordRequestOutcome(status string) {
	r.RequestsTotal.WithLabelValues(status).Inc()
}

// RecordError increments inference_errors_total{error_type} (the worker
// calls it for request timeouts). Queue-full rejections are counted by
// RecordRejection and batch failures by IncBatchFailures instead.
func (r *Registry) RecordError(errorType string) {
	r.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordRejection increments the queue-full counter.
func (r *Registry) RecordRejection() {
	r.QueueRejectionsTotal.Inc()
	r.ErrorsTotal.WithLabelValues("queue_full").Inc()
}

// SetQueueDepth sets the queue-depth gauge from a fresh reading.
func (r *Registry) SetQueueDepth(depth int) { r.QueueDepth.Set(float64(depth)) }

// SetModelLoadDuration records the one-time model load cost.
func (r *Registry) SetModelLoadDuration(d time.Duration) { r.ModelLoadSeconds.Set(d.Seconds()) }

// SetModelWarmupDuration records the one-time model warmup cost.
func (r *Registry) SetModelWarmupDuration(d time.Duration) { r.ModelWarmupSeconds.Set(d.Seconds()) }
