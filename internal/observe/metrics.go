package observe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters the transaction core emits. One instance is
// shared by the ledger and the coordinator.
type Metrics struct {
	OrdersCommitted      prometheus.Counter
	OrdersInsufficient   prometheus.Counter
	OrdersInvalid        prometheus.Counter
	CompensationsRun     prometheus.Counter
	CompensationFailures prometheus.Counter
	CacheHits            prometheus.Counter
	CacheMisses          prometheus.Counter
	ReserveDuration      prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OrdersCommitted: f.NewCounter(prometheus.CounterOpts{
			Name: "stockcore_orders_committed_total",
			Help: "Orders whose stock reservation and persistence both succeeded.",
		}),
		OrdersInsufficient: f.NewCounter(prometheus.CounterOpts{
			Name: "stockcore_orders_insufficient_stock_total",
			Help: "Order attempts rejected for lack of stock.",
		}),
		OrdersInvalid: f.NewCounter(prometheus.CounterOpts{
			Name: "stockcore_orders_invalid_total",
			Help: "Order attempts rejected at validation.",
		}),
		CompensationsRun: f.NewCounter(prometheus.CounterOpts{
			Name: "stockcore_compensations_total",
			Help: "Compensating stock releases executed after a failed persist.",
		}),
		CompensationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "stockcore_compensation_failures_total",
			Help: "Compensating releases that failed and were escalated.",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "stockcore_summary_cache_hits_total",
			Help: "Summary reads served from cache.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "stockcore_summary_cache_misses_total",
			Help: "Summary reads that had to hit the ledger.",
		}),
		ReserveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockcore_reserve_duration_seconds",
			Help:    "Latency of multi-item stock reservations.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
