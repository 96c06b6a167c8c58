package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	trackerUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildgate",
			Subsystem: "tracker",
			Name:      "updates_total",
			Help:      "Number of notification records applied to or dropped by the tracker.",
		}, []string{"outcome"},
	)
	trackerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buildgate",
			Subsystem: "tracker",
			Name:      "queue_depth",
			Help:      "Notifications buffered but not yet drained into the tracker.",
		},
	)
	trackerDrainBatch = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "buildgate",
			Subsystem: "tracker",
			Name:      "drain_batch_size",
			Help:      "Number of buffered notifications applied per drain.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)
	gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildgate",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Cache gate outcomes per build submission (hit or miss).",
		}, []string{"result"},
	)
	gatePublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildgate",
			Subsystem: "gate",
			Name:      "publish_failures_total",
			Help:      "Build-request messages that could not be published.",
		},
	)
	signerURLs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildgate",
			Subsystem: "signer",
			Name:      "urls_total",
			Help:      "Capability URLs issued or refused.",
		}, []string{"outcome"},
	)
	sourceRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildgate",
			Subsystem: "source",
			Name:      "records_total",
			Help:      "Notification lines consumed from sources, by parse outcome.",
		}, []string{"outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{trackerUpdates, trackerQueueDepth, trackerDrainBatch, gateDecisions, gatePublishFailures, signerURLs, sourceRecords}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				_ = are // keep existing
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncTrackerUpdate(outcome string) {
	if regOK.Load() {
		trackerUpdates.WithLabelValues(outcome).Inc()
	}
}
func SetQueueDepth(n int) {
	if regOK.Load() {
		trackerQueueDepth.Set(float64(n))
	}
}
func ObserveDrainBatch(n int) {
	if regOK.Load() {
		trackerDrainBatch.Observe(float64(n))
	}
}
func IncGateDecision(result string) {
	if regOK.Load() {
		gateDecisions.WithLabelValues(result).Inc()
	}
}
func IncPublishFailure() {
	if regOK.Load() {
		gatePublishFailures.Inc()
	}
}
func IncSignedURL(outcome string) {
	if regOK.Load() {
		signerURLs.WithLabelValues(outcome).Inc()
	}
}
func IncSourceRecord(outcome string) {
	if regOK.Load() {
		sourceRecords.WithLabelValues(outcome).Inc()
	}
}
