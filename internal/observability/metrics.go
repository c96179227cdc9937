// Package observability — metrics.go
//
// Prometheus metrics for the governance circuit.
//
// Endpoint: GET /metrics on 127.0.0.1:9090 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure. This is an operator scrape
// endpoint, not a server exposing the circuit itself.
//
// Metric naming convention: govcircuit_<stage>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric descriptor emitted by the circuit.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Event bus ────────────────────────────────────────────────────────────

	// EventsPublishedTotal counts events published to the bus, by topic.
	EventsPublishedTotal *prometheus.CounterVec

	// SubscriberErrorsTotal counts isolated subscriber failures, by topic.
	SubscriberErrorsTotal *prometheus.CounterVec

	// ─── Detector ─────────────────────────────────────────────────────────────

	// ThresholdEventsTotal counts ThresholdEvents emitted, by metric and severity.
	ThresholdEventsTotal *prometheus.CounterVec

	// ─── Simulator ────────────────────────────────────────────────────────────

	// SimulationRunsTotal counts Monte-Carlo runs attempted.
	SimulationRunsTotal prometheus.Counter

	// SimulationFailedRunsTotal counts dropped (failed) Monte-Carlo runs.
	SimulationFailedRunsTotal prometheus.Counter

	// SimulationDuration records wall-clock Simulator latency.
	SimulationDuration prometheus.Histogram

	// ─── Deliberator ──────────────────────────────────────────────────────────

	// VotesCastTotal counts stakeholder votes, by decision.
	VotesCastTotal *prometheus.CounterVec

	// DeliberationDecisionsTotal counts aggregated deliberation outcomes, by decision.
	DeliberationDecisionsTotal *prometheus.CounterVec

	// ─── Intervenor ───────────────────────────────────────────────────────────

	// GatesProcessedTotal counts gate evaluations, by gate kind and result.
	GatesProcessedTotal *prometheus.CounterVec

	// RollbacksTotal counts attempted rollbacks, by outcome.
	RollbacksTotal *prometheus.CounterVec

	// AuditChainLength is the current length of the enforcement audit trail.
	AuditChainLength prometheus.Gauge

	// ─── Storage ──────────────────────────────────────────────────────────────

	// StorageWriteLatency records BoltDB write transaction latency.
	StorageWriteLatency prometheus.Histogram

	// StorageAuditEntries is the current number of persisted audit entries.
	StorageAuditEntries prometheus.Gauge

	// ─── Process ──────────────────────────────────────────────────────────────

	// CircuitInvocationsTotal counts completed circuit runs, by final decision.
	CircuitInvocationsTotal *prometheus.CounterVec

	// UptimeSeconds is the number of seconds since process start.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers every circuit Prometheus metric on a
// dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govcircuit",
			Subsystem: "eventbus",
			Name:      "published_total",
			Help:      "Total events published to the bus, by topic.",
		}, []string{"topic"}),

		SubscriberErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govcircuit",
			Subsystem: "eventbus",
			Name:      "subscriber_errors_total",
			Help:      "Total isolated subscriber failures, by topic.",
		}, []string{"topic"}),

		ThresholdEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govcircuit",
			Subsystem: "detection",
			Name:      "threshold_events_total",
			Help:      "Total ThresholdEvents emitted, by metric and severity.",
		}, []string{"metric", "severity"}),

		SimulationRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "govcircuit",
			Subsystem: "simulation",
			Name:      "runs_total",
			Help:      "Total Monte-Carlo runs attempted.",
		}),

		SimulationFailedRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "govcircuit",
			Subsystem: "simulation",
			Name:      "failed_runs_total",
			Help:      "Total Monte-Carlo runs dropped due to evaluation failure.",
		}),

		SimulationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "govcircuit",
			Subsystem: "simulation",
			Name:      "duration_seconds",
			Help:      "Simulator wall-clock latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		VotesCastTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govcircuit",
			Subsystem: "deliberation",
			Name:      "votes_cast_total",
			Help:      "Total stakeholder votes cast, by decision.",
		}, []string{"decision"}),

		DeliberationDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govcircuit",
			Subsystem: "deliberation",
			Name:      "decisions_total",
			Help:      "Total aggregated deliberation outcomes, by decision.",
		}, []string{"decision"}),

		GatesProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govcircuit",
			Subsystem: "intervention",
			Name:      "gates_processed_total",
			Help:      "Total gate evaluations, by gate kind and result.",
		}, []string{"kind", "result"}),

		RollbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govcircuit",
			Subsystem: "intervention",
			Name:      "rollbacks_total",
			Help:      "Total attempted rollbacks, by outcome.",
		}, []string{"outcome"}),

		AuditChainLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "govcircuit",
			Subsystem: "intervention",
			Name:      "audit_chain_length",
			Help:      "Current length of the most recent enforcement audit trail.",
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "govcircuit",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "BoltDB write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		StorageAuditEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "govcircuit",
			Subsystem: "storage",
			Name:      "audit_entries",
			Help:      "Current number of persisted audit entries in BoltDB.",
		}),

		CircuitInvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govcircuit",
			Subsystem: "circuit",
			Name:      "invocations_total",
			Help:      "Total completed circuit runs, by final decision.",
		}, []string{"decision"}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "govcircuit",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the process started.",
		}),
	}

	reg.MustRegister(
		m.EventsPublishedTotal,
		m.SubscriberErrorsTotal,
		m.ThresholdEventsTotal,
		m.SimulationRunsTotal,
		m.SimulationFailedRunsTotal,
		m.SimulationDuration,
		m.VotesCastTotal,
		m.DeliberationDecisionsTotal,
		m.GatesProcessedTotal,
		m.RollbacksTotal,
		m.AuditChainLength,
		m.StorageWriteLatency,
		m.StorageAuditEntries,
		m.CircuitInvocationsTotal,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr. Blocks
// until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
