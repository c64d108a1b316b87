package infra

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exports a Metrics instance to Prometheus on every scrape.
type Collector struct {
	m *Metrics

	messages        *prometheus.Desc
	malformed       *prometheus.Desc
	stale           *prometheus.Desc
	flushes         *prometheus.Desc
	transportErrors *prometheus.Desc
	resubscriptions *prometheus.Desc
	latency         *prometheus.Desc
	connections     *prometheus.Desc
	levels          *prometheus.Desc
}

// NewCollector creates a collector with metric names under namespace.
func NewCollector(m *Metrics, namespace string) *Collector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "", n) }
	return &Collector{
		m:               m,
		messages:        prometheus.NewDesc(name("messages_ingested_total"), "Feed messages merged into the book.", []string{"kind"}, nil),
		malformed:       prometheus.NewDesc(name("malformed_messages_total"), "Feed messages dropped as malformed.", nil, nil),
		stale:           prometheus.NewDesc(name("stale_messages_total"), "Feed messages dropped for a product no longer subscribed.", nil, nil),
		flushes:         prometheus.NewDesc(name("flushes_total"), "Published order book snapshots.", nil, nil),
		transportErrors: prometheus.NewDesc(name("transport_errors_total"), "Feed connection failures.", nil, nil),
		resubscriptions: prometheus.NewDesc(name("resubscriptions_total"), "Completed symbol changes.", nil, nil),
		latency:         prometheus.NewDesc(name("ingest_latency_avg_seconds"), "Average merge latency per feed message.", nil, nil),
		connections:     prometheus.NewDesc(name("active_connections"), "Open feed connections.", nil, nil),
		levels:          prometheus.NewDesc(name("book_levels"), "Price levels held across both sides.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.messages
	ch <- c.malformed
	ch <- c.stale
	ch <- c.flushes
	ch <- c.transportErrors
	ch <- c.resubscriptions
	ch <- c.latency
	ch <- c.connections
	ch <- c.levels
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(s.SnapshotsApplied), "snapshot")
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(s.DeltasApplied), "delta")
	ch <- prometheus.MustNewConstMetric(c.malformed, prometheus.CounterValue, float64(s.MalformedTotal))
	ch <- prometheus.MustNewConstMetric(c.stale, prometheus.CounterValue, float64(s.StaleDropped))
	ch <- prometheus.MustNewConstMetric(c.flushes, prometheus.CounterValue, float64(s.FlushesTotal))
	ch <- prometheus.MustNewConstMetric(c.transportErrors, prometheus.CounterValue, float64(s.TransportErrors))
	ch <- prometheus.MustNewConstMetric(c.resubscriptions, prometheus.CounterValue, float64(s.Resubscriptions))
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, time.Duration(s.AvgLatencyNs).Seconds())
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.ActiveConnections))
	ch <- prometheus.MustNewConstMetric(c.levels, prometheus.GaugeValue, float64(s.BookLevels))
}

// NewMetricsHandler returns a /metrics handler backed by a private registry.
func NewMetricsHandler(m *Metrics, namespace string) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(m, namespace))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// StartMetricsServer serves /metrics on addr until ctx is cancelled.
func StartMetricsServer(ctx context.Context, addr string, m *Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", NewMetricsHandler(m, "orderfeed"))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("Metrics server started", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", slog.Any("error", err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	return srv
}
