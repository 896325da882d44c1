package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the pixel embedder.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    prometheus.Counter
	errorsTotal      prometheus.Counter
	pixelsPlaced     prometheus.Counter
	pixelsFailed     *prometheus.CounterVec
	pixelsSkipped    prometheus.Counter
	regionChecks     *prometheus.CounterVec
	checkpointsTotal prometheus.Counter
	queueDepth       prometheus.Gauge
	burstUsed        prometheus.Gauge
	placing          prometheus.Gauge
}

// New creates and registers Prometheus metrics for the embedder.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "embedder_api_requests_total",
			Help: "Total number of control API requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "embedder_api_errors_total",
			Help: "Total number of control API requests that failed (4xx, 5xx or a failed action)",
		}),
		pixelsPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "embedder_pixels_placed_total",
			Help: "Total number of pixel writes acknowledged by the canvas",
		}),
		pixelsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "embedder_pixels_failed_total",
			Help: "Total number of failed pixel writes by error kind",
		}, []string{"kind"}),
		pixelsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "embedder_pixels_skipped_total",
			Help: "Total number of pixels skipped because the canvas already had the color",
		}),
		regionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "embedder_region_checks_total",
			Help: "Total number of region existence checks by outcome",
		}, []string{"outcome"}),
		checkpointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "embedder_session_checkpoints_total",
			Help: "Total number of session records written to durable storage",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "embedder_queue_depth",
			Help: "Number of pixel writes waiting in the queue",
		}),
		burstUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "embedder_burst_used",
			Help: "Submissions recorded inside the current burst window",
		}),
		placing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "embedder_placing",
			Help: "1 while the drain loop is running, 0 otherwise",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.pixelsPlaced,
		m.pixelsFailed,
		m.pixelsSkipped,
		m.regionChecks,
		m.checkpointsTotal,
		m.queueDepth,
		m.burstUsed,
		m.placing,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

// IncErrors increments the API errors counter.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// IncPlaced increments the placed pixels counter.
func (m *Metrics) IncPlaced() {
	if m != nil {
		m.pixelsPlaced.Inc()
	}
}

// IncFailed increments the failed pixels counter for the given error kind.
func (m *Metrics) IncFailed(kind string) {
	if m != nil {
		m.pixelsFailed.WithLabelValues(kind).Inc()
	}
}

// AddSkipped adds n to the skipped pixels counter.
func (m *Metrics) AddSkipped(n int) {
	if m != nil && n > 0 {
		m.pixelsSkipped.Add(float64(n))
	}
}

// RegionChecked implements regiondiff.Observer.
func (m *Metrics) RegionChecked(outcome string) {
	if m != nil {
		m.regionChecks.WithLabelValues(outcome).Inc()
	}
}

// IncCheckpoints increments the checkpoint counter.
func (m *Metrics) IncCheckpoints() {
	if m != nil {
		m.checkpointsTotal.Inc()
	}
}

// SetQueueDepth sets the queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

// SetBurstUsed sets the burst usage gauge.
func (m *Metrics) SetBurstUsed(n int) {
	if m != nil {
		m.burstUsed.Set(float64(n))
	}
}

// SetPlacing sets the placing gauge.
func (m *Metrics) SetPlacing(placing bool) {
	if m == nil {
		return
	}
	if placing {
		m.placing.Set(1)
		return
	}
	m.placing.Set(0)
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called with the scrape's context before each scrape to
// refresh gauge values (e.g. queue depth).
func (m *Metrics) Handler(updateGauges func(ctx context.Context)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges(r.Context())
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
