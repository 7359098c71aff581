// Package telemetry registers exactly the metrics enumerated in the
// observability section of the pipeline's external interfaces: RPC
// request/error counters, inbox attempt and DLQ counters, head/log fetch
// latency histograms, and backlog/circuit-open/unpublished gauges. It
// serves them at /metrics via promhttp and a minimal /healthz. Structure
// and naming style (namespace/subsystem promauto.NewXVec constructors,
// small Observe*/Record* wrapper methods) are grounded on
// 0xmhha-indexer-go/events/metrics.go, the one metrics package present
// across the retrieved examples.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "logindexer"

// Metrics holds every Prometheus collector the pipeline emits, registered
// against a private Registry so tests can construct as many independent
// instances as they need without colliding on the default global
// registry.
type Metrics struct {
	registry *prometheus.Registry

	RPCRequestsTotal *prometheus.CounterVec
	RPCErrorsTotal   *prometheus.CounterVec

	InboxAttemptsTotal *prometheus.CounterVec
	DLQTotal           *prometheus.CounterVec

	HeadFetchDuration prometheus.Histogram
	LogFetchDuration  prometheus.Histogram

	IndexerBacklog          *prometheus.GaugeVec
	CircuitOpenSeconds      *prometheus.GaugeVec
	DomainOutboxUnpublished prometheus.Gauge
}

// New constructs and registers all collectors. Each call returns an
// independent Registry; use New once per process in production and once
// per test in unit tests.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Total chain RPC calls attempted, by method.",
		}, []string{"method"}),
		RPCErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_errors_total",
			Help:      "Total chain RPC calls that returned an error, by method.",
		}, []string{"method"}),

		InboxAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_attempts_total",
			Help:      "Total dispatcher handler invocations, by handler_kind and terminal status.",
		}, []string{"handler_kind", "status"}),
		DLQTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dlq_total",
			Help:      "Total inbox entries that reached DLQ, by handler_kind.",
		}, []string{"handler_kind"}),

		HeadFetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "head_fetch_duration_seconds",
			Help:      "Latency of get_head_block calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		LogFetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "log_fetch_duration_seconds",
			Help:      "Latency of get_logs calls.",
			Buckets:   prometheus.DefBuckets,
		}),

		IndexerBacklog: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexer_backlog",
			Help:      "head - cursor for a shard, in blocks.",
		}, []string{"shard"}),
		CircuitOpenSeconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cb_open_seconds",
			Help:      "Configured open-state duration of the named circuit breaker pool, last time it tripped.",
		}, []string{"pool"}),
		DomainOutboxUnpublished: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "domain_outbox_unpublished",
			Help:      "Rows in domain.domain_outbox with executed_at IS NULL.",
		}),
	}
}

// ObserveRPCRequest implements rpcadapter.Recorder.
func (m *Metrics) ObserveRPCRequest(method string, err error, elapsedSeconds float64) {
	m.RPCRequestsTotal.WithLabelValues(method).Inc()
	if err != nil {
		m.RPCErrorsTotal.WithLabelValues(method).Inc()
	}
	switch method {
	case "eth_blockNumber":
		m.HeadFetchDuration.Observe(elapsedSeconds)
	case "eth_getLogs":
		m.LogFetchDuration.Observe(elapsedSeconds)
	}
}

// ObserveCircuitOpenSeconds implements rpcadapter.Recorder.
func (m *Metrics) ObserveCircuitOpenSeconds(pool string, openSeconds float64) {
	m.CircuitOpenSeconds.WithLabelValues(pool).Set(openSeconds)
}

// RecordInboxAttempt records one terminal dispatcher settle, and mirrors
// it into DLQTotal when status is "dlq".
func (m *Metrics) RecordInboxAttempt(handlerKind, status string) {
	m.InboxAttemptsTotal.WithLabelValues(handlerKind, status).Inc()
	if status == "dlq" {
		m.DLQTotal.WithLabelValues(handlerKind).Inc()
	}
}

// SetBacklog records head - cursor for a shard.
func (m *Metrics) SetBacklog(shard string, head, cursor uint64) {
	backlog := float64(0)
	if head > cursor {
		backlog = float64(head - cursor)
	}
	m.IndexerBacklog.WithLabelValues(shard).Set(backlog)
}

// SetDomainOutboxUnpublished records the executor's current pending count.
func (m *Metrics) SetDomainOutboxUnpublished(n int) {
	m.DomainOutboxUnpublished.Set(float64(n))
}

// Handler returns the /metrics HTTP handler for this Metrics' registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Pinger is the narrow store capability /healthz uses to confirm the
// owning component can still reach its backing store.
type Pinger interface {
	EnsureSchema(ctx context.Context) error
}

// HealthzHandler returns 200 "ok" once ping succeeds within timeout, and
// 503 otherwise.
func HealthzHandler(pinger Pinger, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := pinger.EnsureSchema(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ok: " + err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
