package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine metrics. Registered on a dedicated registry so embedding
// applications keep control of their default registry.
var (
	registry = prometheus.NewRegistry()

	StoreAppends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talkie_store_appends_total",
		Help: "Records appended to the message store.",
	})
	StoreMerges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talkie_store_merges_total",
		Help: "Upserts merged into an existing record.",
	})
	StoreReconciled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talkie_store_reconciled_total",
		Help: "Pending sends reconciled with their server ack.",
	})
	StoreDuplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talkie_store_duplicates_total",
		Help: "Upserts suppressed as duplicates.",
	})
	StoreTombstones = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talkie_store_tombstones_total",
		Help: "Delete-for-everyone tombstones applied.",
	})
	RouterEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talkie_router_events_total",
		Help: "Realtime events processed, by event name.",
	}, []string{"event"})
	RouterDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talkie_router_dropped_total",
		Help: "Realtime events dropped, by reason.",
	}, []string{"reason"})
	SendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talkie_send_failures_total",
		Help: "Outbound sends rolled back after a network failure.",
	})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "talkie_ingest_queue_depth",
		Help: "Current depth of the ingest queue.",
	})
)

func init() {
	registry.MustRegister(
		StoreAppends, StoreMerges, StoreReconciled, StoreDuplicates,
		StoreTombstones, RouterEvents, RouterDropped, SendFailures,
		QueueDepth,
	)
}

// Registry exposes the engine registry for embedding applications.
func Registry() *prometheus.Registry { return registry }

// Handler returns an HTTP handler serving the engine metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
