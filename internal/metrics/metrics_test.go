package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.JobFinished("completed")
	m.RepoSynced(120 * time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["reporemix_sync_jobs_total"])
	assert.True(t, names["reporemix_repos_synced_total"])
	assert.True(t, names["reporemix_repo_sync_duration_seconds"])
}

func TestRecording(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.JobFinished("completed")
	m.JobFinished("completed")
	m.JobFinished("failed")
	m.RepoSynced(time.Second)
	m.RepoFailed()
	m.ObserveRateLimit(42)
	m.RateLimitWait()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReposSynced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReposFailed))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.RateLimitRemaining))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitWaits))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RepoSyncDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobFinished("completed")
		m.RepoSynced(time.Second)
		m.RepoFailed()
		m.ObserveRateLimit(1)
		m.RateLimitWait()
	})
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
