package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/homie-core/internal/homie"
)

// namespace prefixes every metric name.
const namespace = "homiecore"

// Rejection reasons for MessagesRejected.
const (
	ReasonMalformed = "malformed"
	ReasonError     = "error"
)

// Registry holds all Homie Core metrics on a private Prometheus registry.
type Registry struct {
	// Ingestion
	MessagesIngested prometheus.Counter
	MessagesRejected *prometheus.CounterVec

	// Events
	EventsTotal      *prometheus.CounterVec
	ObserverFailures prometheus.Counter

	// HTTP API
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	WebSocketClients    prometheus.Gauge

	registry *prometheus.Registry
}

// DeviceCounter reports how many devices are complete and pending.
// *homie.Registry satisfies it.
type DeviceCounter interface {
	DeviceCount() int
	PendingCount() int
}

// NewRegistry creates a registry with all metrics initialised, plus the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{registry: reg}
	r.initIngestMetrics()
	r.initHTTPMetrics()
	return r
}

func (r *Registry) initIngestMetrics() {
	r.MessagesIngested = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Homie messages accepted by the registry",
		},
	)

	r.MessagesRejected = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Homie messages rejected by the registry",
		},
		[]string{"reason"},
	)

	r.EventsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Model events emitted by the registry",
		},
		[]string{"type"},
	)

	r.ObserverFailures = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_failures_total",
			Help:      "Observer errors and panics recovered during event dispatch",
		},
	)
}

func (r *Registry) initHTTPMetrics() {
	r.HTTPRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	r.HTTPRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	r.WebSocketClients = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket event stream clients",
		},
	)
}

// RegisterDevices exposes complete and pending device counts, sampled at
// scrape time.
func (r *Registry) RegisterDevices(src DeviceCounter) {
	promauto.With(r.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_complete",
			Help:      "Devices that have received every mandatory attribute",
		},
		func() float64 { return float64(src.DeviceCount()) },
	)

	promauto.With(r.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_pending",
			Help:      "Devices still waiting for mandatory attributes",
		},
		func() float64 { return float64(src.PendingCount()) },
	)
}

// Instrument wraps a message handler, counting accepted and rejected messages.
func (r *Registry) Instrument(next func(topic string, payload []byte) error) func(topic string, payload []byte) error {
	return func(topic string, payload []byte) error {
		err := next(topic, payload)
		switch {
		case err == nil:
			r.MessagesIngested.Inc()
		case errors.Is(err, homie.ErrMalformedTopic):
			r.MessagesRejected.WithLabelValues(ReasonMalformed).Inc()
		default:
			r.MessagesRejected.WithLabelValues(ReasonError).Inc()
		}
		return err
	}
}

// OnEvent implements homie.Observer by counting events per type.
func (r *Registry) OnEvent(evt homie.Event) error {
	r.EventsTotal.WithLabelValues(evt.Type.String()).Inc()
	return nil
}

// RecordObserverFailure counts a failed observer. Its signature matches the
// registry failure hook.
func (r *Registry) RecordObserverFailure(error) {
	r.ObserverFailures.Inc()
}

// RecordHTTPRequest records an HTTP request with its duration.
func (r *Registry) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
