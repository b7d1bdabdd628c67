// Package metrics exposes Prometheus instrumentation for the monitor loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/quakeoracle/internal/logger"
)

// Metrics holds the monitor's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal         prometheus.Counter
	CycleFailuresTotal  prometheus.Counter
	EventsTotal         prometheus.Counter
	AlertsTotal         *prometheus.CounterVec
	TradesPreparedTotal prometheus.Counter
	HeartbeatsTotal     prometheus.Counter
	CycleDuration       prometheus.Summary
	PendingRecords      prometheus.Gauge
	SeenIdentifiers     prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quakeoracle",
		Name:      "cycles_total",
		Help:      "Completed monitoring cycles",
	})
	m.CycleFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quakeoracle",
		Name:      "cycle_failures_total",
		Help:      "Monitoring cycles that failed",
	})
	m.EventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quakeoracle",
		Name:      "events_processed_total",
		Help:      "Feed events passed through the pipeline",
	})
	m.AlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quakeoracle",
		Name:      "alerts_sent_total",
		Help:      "Alert notifications sent, by kind",
	}, []string{"kind"})
	m.TradesPreparedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quakeoracle",
		Name:      "trades_prepared_total",
		Help:      "Order tickets prepared for matched markets",
	})
	m.HeartbeatsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quakeoracle",
		Name:      "heartbeats_sent_total",
		Help:      "Daily heartbeats sent",
	})
	m.CycleDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "quakeoracle",
		Name:      "cycle_duration_seconds",
		Help:      "Time spent per monitoring cycle",
	})
	m.PendingRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quakeoracle",
		Name:      "pending_records",
		Help:      "Live pending revision records",
	})
	m.SeenIdentifiers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quakeoracle",
		Name:      "seen_identifiers",
		Help:      "Identifiers held by the dedup gate",
	})

	m.registry.MustRegister(
		m.CyclesTotal, m.CycleFailuresTotal, m.EventsTotal, m.AlertsTotal,
		m.TradesPreparedTotal, m.HeartbeatsTotal, m.CycleDuration,
		m.PendingRecords, m.SeenIdentifiers,
	)
	return m
}

// Serve starts the /metrics listener in its own goroutine.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
}
