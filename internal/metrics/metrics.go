// Package metrics holds the Prometheus collectors shared by the sync core and
// the HTTP surface. Collectors exist from package init so code paths that
// record them work in tests without registration; Register exposes them.
package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendsync_cycles_total",
			Help: "Completed sync cycles, by status and dedup strategy.",
		},
		[]string{"status", "strategy"},
	)

	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendsync_records_total",
			Help: "Records processed by sync cycles, by class (new, repeat, skipped, backfilled).",
		},
		[]string{"class"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trendsync_cycle_duration_seconds",
			Help:    "Duration of sync cycles.",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trendsync_cache_fallbacks_total",
			Help: "Cycles that deduplicated against the mirror because the cache was unavailable.",
		},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trendsync_cache_hits_total",
			Help: "Identifiers found in the fingerprint cache.",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trendsync_cache_misses_total",
			Help: "Identifiers not found in the fingerprint cache.",
		},
	)

	MirrorRowsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendsync_mirror_rows_appended_total",
			Help: "Rows appended to the mirror, by sheet.",
		},
		[]string{"sheet"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trendsync_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by endpoint and method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trendsync_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)
)

// Register registers all collectors on reg. Call once at startup.
// DB pool gauges are only added when pool is non-nil.
func Register(reg prometheus.Registerer, pool *pgxpool.Pool) {
	if pool != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "trendsync_db_connection_pool_active",
					Help: "Number of active database connections.",
				},
				func() float64 {
					return float64(pool.Stat().AcquiredConns())
				},
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "trendsync_db_connection_pool_idle",
					Help: "Number of idle database connections.",
				},
				func() float64 {
					return float64(pool.Stat().IdleConns())
				},
			),
		)
	}

	reg.MustRegister(
		CyclesTotal,
		RecordsTotal,
		CycleDuration,
		CacheFallbacks,
		CacheHits,
		CacheMisses,
		MirrorRowsAppended,
		RequestDuration,
		RequestsInFlight,
	)
}
