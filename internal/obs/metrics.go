// Package obs holds the observability surface
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all metrics
type Metrics struct {
	ItemInserts   prometheus.Counter
	ItemUpdates   prometheus.Counter
	ItemDeletes   prometheus.Counter
	SearchQueries prometheus.Counter
	SearchErrors  prometheus.Counter
	SearchLatency prometheus.Histogram
	CommitLatency prometheus.Histogram
	Tombstones    prometheus.Gauge
	Compactions   prometheus.Counter
}

// NewMetrics registers the metric set against the given registerer. By
// default each open index gets a private registry so two handles never
// collide; a registerer supplied by the caller is used as given.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ItemInserts: factory.NewCounter(prometheus.CounterOpts{
			Name: "vektordb_item_inserts_total",
			Help: "Total item insertions",
		}),
		ItemUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "vektordb_item_updates_total",
			Help: "Total item updates",
		}),
		ItemDeletes: factory.NewCounter(prometheus.CounterOpts{
			Name: "vektordb_item_deletes_total",
			Help: "Total item deletions",
		}),
		SearchQueries: factory.NewCounter(prometheus.CounterOpts{
			Name: "vektordb_search_queries_total",
			Help: "Total search queries",
		}),
		SearchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vektordb_search_errors_total",
			Help: "Total search errors",
		}),
		SearchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "vektordb_search_latency_seconds",
			Help: "Search latency",
		}),
		CommitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "vektordb_commit_latency_seconds",
			Help: "Transaction commit latency",
		}),
		Tombstones: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vektordb_tombstones",
			Help: "Tombstoned items awaiting compaction",
		}),
		Compactions: factory.NewCounter(prometheus.CounterOpts{
			Name: "vektordb_compactions_total",
			Help: "Completed compactions",
		}),
	}
}
