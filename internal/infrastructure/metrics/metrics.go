package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors for the platform integration.
type Metrics struct {
	APIRequests    *prometheus.CounterVec
	TokenRefreshes *prometheus.CounterVec
	SyncRuns       *prometheus.CounterVec
	SyncPages      prometheus.Counter
	SyncRecords    prometheus.Counter
	SyncDuration   prometheus.Histogram
}

// New registers the integration collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tiktok_api_requests_total",
			Help: "Platform API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tiktok_token_refreshes_total",
			Help: "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tiktok_sync_runs_total",
			Help: "Sync runs by final status.",
		}, []string{"status"}),
		SyncPages: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiktok_sync_pages_total",
			Help: "Statement pages fetched across all sync runs.",
		}),
		SyncRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiktok_sync_records_total",
			Help: "Statement records upserted across all sync runs.",
		}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiktok_sync_duration_seconds",
			Help:    "Wall time of one sync run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}
