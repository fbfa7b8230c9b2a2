// Registers:
//
//	#chainflow_snapshots_total
//	#chainflow_rows_emitted_total
//	#chainflow_records_rejected_total
//	#chainflow_fetch_errors_total
//	#chainflow_channel_dropped_total
//	#go_* and process_* system metrics
//
// Exposes them on <address>/metrics using Prometheus HTTP handler
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chainflow/logger"
)

// DefaultPrometheusAddress is used when no listen address is configured.
const DefaultPrometheusAddress = "0.0.0.0:2112"

var registry = prometheus.NewRegistry()

var once sync.Once

var (
	snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainflow_snapshots_total",
			Help: "Number of option chain snapshots produced",
		},
		[]string{"symbol"},
	)
	rowsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainflow_rows_emitted_total",
			Help: "Number of strike rows emitted",
		},
		[]string{"symbol"},
	)
	recordsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainflow_records_rejected_total",
			Help: "Number of raw records skipped as malformed",
		},
		[]string{"symbol"},
	)
	fetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainflow_fetch_errors_total",
			Help: "Number of failed option chain fetches",
		},
		[]string{"symbol"},
	)
	channelDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainflow_channel_dropped_total",
			Help: "Number of messages dropped on full channels",
		},
		[]string{"metric"},
	)
)

func init() {
	registry.MustRegister(snapshotsTotal, rowsEmitted, recordsRejected, fetchErrors, channelDropped)
}

// Handler serves the chainflow registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ServePrometheus registers the runtime collectors and serves /metrics until
// ctx is cancelled.
func ServePrometheus(ctx context.Context, address string) {
	once.Do(func() {
		_ = registry.Register(collectors.NewGoCollector())
		_ = registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})

	if address == "" {
		address = DefaultPrometheusAddress
	}
	log := logger.GetLogger().WithComponent("prometheus").WithFields(logger.Fields{"address": address})

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("metrics server failed")
	}
}

// ObserveSnapshot records one produced snapshot.
func ObserveSnapshot(symbol string, rows, rejected int) {
	snapshotsTotal.WithLabelValues(symbol).Inc()
	rowsEmitted.WithLabelValues(symbol).Add(float64(rows))
	if rejected > 0 {
		recordsRejected.WithLabelValues(symbol).Add(float64(rejected))
	}
}

// IncrementFetchError increases the fetch error counter for a given symbol.
func IncrementFetchError(symbol string) {
	fetchErrors.WithLabelValues(symbol).Inc()
}
