// Package metrics provides Prometheus metrics for the sync pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reporemix"

// Metrics holds the sync collectors. A nil *Metrics is valid and records
// nothing, so callers never need to guard.
type Metrics struct {
	JobsTotal          *prometheus.CounterVec
	ReposSynced        prometheus.Counter
	ReposFailed        prometheus.Counter
	RepoSyncDuration   prometheus.Histogram
	RateLimitRemaining prometheus.Gauge
	RateLimitWaits     prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them through promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_jobs_total",
			Help:      "Sync jobs that reached a terminal state, by status",
		}, []string{"status"}),
		ReposSynced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repos_synced_total",
			Help:      "Repositories persisted successfully",
		}),
		ReposFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repos_failed_total",
			Help:      "Repositories skipped because fetching or persisting failed",
		}),
		RepoSyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repo_sync_duration_seconds",
			Help:      "Time to fetch, analyze and persist one repository",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		RateLimitRemaining: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "github_rate_limit_remaining",
			Help:      "Remaining core GitHub API requests at the last check",
		}),
		RateLimitWaits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "github_rate_limit_waits_total",
			Help:      "Times a batch fetch slept until the rate limit reset",
		}),
	}
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RepoSynced(d time.Duration) {
	if m == nil {
		return
	}
	m.ReposSynced.Inc()
	m.RepoSyncDuration.Observe(d.Seconds())
}

func (m *Metrics) RepoFailed() {
	if m == nil {
		return
	}
	m.ReposFailed.Inc()
}

func (m *Metrics) ObserveRateLimit(remaining int) {
	if m == nil {
		return
	}
	m.RateLimitRemaining.Set(float64(remaining))
}

func (m *Metrics) RateLimitWait() {
	if m == nil {
		return
	}
	m.RateLimitWaits.Inc()
}
