// Package metrics exportuje Prometheus metriky ingestion a sinků.
// Všechny metody jsou bezpečné i na nil *Metrics (metriky vypnuté).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lora"

// Metrics sdružuje všechny kolektory služby.
type Metrics struct {
	registry *prometheus.Registry

	ingested       *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	storeErrors    *prometheus.CounterVec
	ingestDuration *prometheus.HistogramVec
	sinkErrors     *prometheus.CounterVec
	sinkDropped    prometheus.Counter
}

// New vytvoří metriky ve vlastním registru (testy tak nesdílí globální stav).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_total",
			Help:      "Uložené zprávy podle druhu (reading, status).",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Zprávy odmítnuté validací.",
		}, []string{"kind"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Selhání zápisu do úložiště.",
		}, []string{"kind"}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Doba zápisu jedné zprávy do úložiště.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"kind"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Chyby při přeposílání událostí do sinků.",
		}, []string{"sink"}),
		sinkDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_dropped_total",
			Help:      "Události zahozené kvůli plné frontě dispatcheru.",
		}),
	}

	reg.MustRegister(
		m.ingested, m.rejected, m.storeErrors, m.ingestDuration, m.sinkErrors, m.sinkDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler vrací HTTP handler pro endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry zpřístupní registr (testy, další kolektory).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IncIngested(kind string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncRejected(kind string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncStoreError(kind string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveIngest(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) IncSinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) IncSinkDropped() {
	if m == nil {
		return
	}
	m.sinkDropped.Inc()
}
