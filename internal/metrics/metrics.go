package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fundingwatch"

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	fetchAttempts  *prometheus.CounterVec
	fetchFailures  *prometheus.CounterVec
	skipped        *prometheus.CounterVec
	dispatchEvents *prometheus.CounterVec
	alertsFired    *prometheus.CounterVec
	tracked        prometheus.Gauge
	threshold      prometheus.Gauge
}

// New registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Feed requests issued, by operation.",
		}, []string{"op"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Feed requests that failed, by operation.",
		}, []string{"op"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_records_skipped_total",
			Help:      "Feed records dropped because they could not be parsed, by source.",
		}, []string{"source"}),
		dispatchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_change_events_total",
			Help:      "Funding rate changes at or above the threshold, by direction.",
		}, []string{"direction"}),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_alerts_fired_total",
			Help:      "Price alerts that fired, by direction.",
		}, []string{"direction"}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_symbols",
			Help:      "Symbols with a recorded funding rate baseline.",
		}),
		threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_threshold",
			Help:      "Current absolute funding rate change threshold.",
		}),
	}

	m.registry.MustRegister(
		m.fetchAttempts,
		m.fetchFailures,
		m.skipped,
		m.dispatchEvents,
		m.alertsFired,
		m.tracked,
		m.threshold,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FetchAttempt(op string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(op).Inc()
}

func (m *Metrics) FetchFailure(op string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) SkippedRecord(source string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(source).Inc()
}

func (m *Metrics) RateChange(direction string) {
	if m == nil {
		return
	}
	m.dispatchEvents.WithLabelValues(direction).Inc()
}

func (m *Metrics) AlertFired(direction string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(direction).Inc()
}

func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.tracked.Set(float64(n))
}

func (m *Metrics) SetThreshold(v float64) {
	if m == nil {
		return
	}
	m.threshold.Set(v)
}
