package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "airamed"

// Recorder exports transport, poller and session observations to Prometheus.
// Each Recorder owns its registry so several daemons (or tests) can coexist
// in one process.
type Recorder struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	pollTotal       *prometheus.CounterVec
	sessionTotal    *prometheus.CounterVec
	viewers         prometheus.GaugeFunc
}

// Options configures optional gauges sampled at scrape time
type Options struct {
	IncludeRuntime bool
	ViewerCount    func() float64
	ActivePolls    func() float64
}

// NewRecorder creates a recorder with its own registry
func NewRecorder(opts Options) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Latency of requests against the capacity API.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Requests against the capacity API by response status (0 = transport failure).",
		}, []string{"method", "path", "status"}),
		pollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Completed poll cycles by subscription and outcome.",
		}, []string{"subscription", "outcome"}),
		sessionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session transitions by kind and reason.",
		}, []string{"kind", "reason"}),
	}

	r.registry.MustRegister(r.requestDuration, r.requestTotal, r.pollTotal, r.sessionTotal)

	if opts.IncludeRuntime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if opts.ViewerCount != nil {
		r.viewers = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewers_connected",
			Help:      "Viewers currently attached to the feed.",
		}, opts.ViewerCount)
		r.registry.MustRegister(r.viewers)
	}
	if opts.ActivePolls != nil {
		r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "active_subscriptions",
			Help:      "Poll subscriptions currently running.",
		}, opts.ActivePolls))
	}
	return r
}

// ObserveRequest records one API exchange
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	r.requestTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

// ObservePoll records one completed poll cycle
func (r *Recorder) ObservePoll(subscription, outcome string) {
	r.pollTotal.WithLabelValues(subscription, outcome).Inc()
}

// ObserveSessionTransition records a login or logout
func (r *Recorder) ObserveSessionTransition(kind, reason string) {
	r.sessionTotal.WithLabelValues(kind, reason).Inc()
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the exposition format for this recorder's registry
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
