package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinmichaelchen/reporemix/internal/embedding"
	"github.com/kevinmichaelchen/reporemix/internal/metrics"
	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/ontology"
	"github.com/kevinmichaelchen/reporemix/internal/store"
)

var fixedNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// --- fake data source ---

type fakeSource struct {
	repos      []models.Repo
	listErr    error
	failLangs  map[string]bool
	onTopics   func(name string)
	topicsSeen []string
	mu         sync.Mutex
}

func (f *fakeSource) ListRepositories(context.Context) ([]models.Repo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.repos, nil
}

func (f *fakeSource) ListLanguages(_ context.Context, _, name string) ([]models.Language, error) {
	if f.failLangs[name] {
		return nil, fmt.Errorf("languages for %s: 502 bad gateway", name)
	}
	return []models.Language{{Name: "Go", Bytes: 100, Percentage: 100}}, nil
}

func (f *fakeSource) ListTopics(_ context.Context, _, name string) ([]string, error) {
	f.mu.Lock()
	f.topicsSeen = append(f.topicsSeen, name)
	f.mu.Unlock()
	if f.onTopics != nil {
		f.onTopics(name)
	}
	return []string{"agent"}, nil
}

func repos(n int) []models.Repo {
	out := make([]models.Repo, n)
	for i := range out {
		name := "repo-" + strconv.Itoa(i)
		out[i] = models.Repo{
			GitHubID: int64(i + 1),
			Owner:    "octo",
			Name:     name,
			FullName: "octo/" + name,
			Stars:    i * 10,
		}
	}
	return out
}

// --- in-memory store ---

type repoRecord struct {
	repo      models.Repo
	langs     []models.Language
	analysis  ontology.Analysis
	vec       embedding.Vector
	starCount []int
}

type memStore struct {
	mu          sync.Mutex
	jobs        map[string]*models.SyncJob
	users       map[string]*models.User
	repos       map[string]*repoRecord
	checkpoints []int
	failTx      map[string]bool
	strictCtx   bool
}

func newMemStore() *memStore {
	return &memStore{
		jobs:   map[string]*models.SyncJob{},
		users:  map[string]*models.User{},
		repos:  map[string]*repoRecord{},
		failTx: map[string]bool{},
	}
}

var _ store.Store = (*memStore)(nil)

func (m *memStore) checkCtx(ctx context.Context) error {
	if m.strictCtx {
		return ctx.Err()
	}
	return nil
}

func (m *memStore) EnsureUser(_ context.Context, login string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[login]; ok {
		return *u, nil
	}
	u := &models.User{ID: "user-" + login, Login: login}
	m.users[login] = u
	return *u, nil
}

func (m *memStore) TouchUserSynced(ctx context.Context, userID string, at time.Time) error {
	if err := m.checkCtx(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == userID {
			u.LastSyncedAt = &at
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) CreateJob(_ context.Context, userID string) (models.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := &models.SyncJob{ID: "job-" + strconv.Itoa(len(m.jobs)+1), UserID: userID, Status: models.JobRunning, StartedAt: fixedNow}
	m.jobs[j.ID] = j
	return *j, nil
}

func (m *memStore) job(jobID, userID string) (*models.SyncJob, error) {
	j, ok := m.jobs[jobID]
	if !ok || j.UserID != userID {
		return nil, store.ErrNotFound
	}
	return j, nil
}

func (m *memStore) GetJob(_ context.Context, jobID, userID string) (models.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.job(jobID, userID)
	if err != nil {
		return models.SyncJob{}, err
	}
	return *j, nil
}

func (m *memStore) ListJobs(context.Context, string, int) ([]models.SyncJob, error) {
	return nil, nil
}

func (m *memStore) mutateRunning(ctx context.Context, jobID, userID string, fn func(*models.SyncJob)) error {
	if err := m.checkCtx(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.job(jobID, userID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return store.ErrNotFound
	}
	fn(j)
	return nil
}

func (m *memStore) SetJobTotal(ctx context.Context, jobID, userID string, total int) error {
	return m.mutateRunning(ctx, jobID, userID, func(j *models.SyncJob) { j.TotalRepos = total })
}

func (m *memStore) SetJobProgress(ctx context.Context, jobID, userID string, synced int) error {
	return m.mutateRunning(ctx, jobID, userID, func(j *models.SyncJob) {
		j.ReposSynced = synced
		m.checkpoints = append(m.checkpoints, synced)
	})
}

func (m *memStore) CompleteJob(ctx context.Context, jobID, userID string, synced int) error {
	return m.mutateRunning(ctx, jobID, userID, func(j *models.SyncJob) {
		j.Status = models.JobCompleted
		j.ReposSynced = synced
		at := fixedNow
		j.CompletedAt = &at
	})
}

func (m *memStore) FailJob(ctx context.Context, jobID, userID, message string) error {
	return m.mutateRunning(ctx, jobID, userID, func(j *models.SyncJob) {
		j.Status = models.JobFailed
		j.ErrorMessage = message
		at := fixedNow
		j.CompletedAt = &at
	})
}

// WithinTx stages writes on a copy and applies them only on success.
func (m *memStore) WithinTx(_ context.Context, fn func(store.Tx) error) (err error) {
	tx := &memTx{store: m, staged: map[string]*repoRecord{}}
	defer store.Recover(&err)
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range tx.staged {
		if prev, ok := m.repos[id]; ok {
			rec.starCount = append(prev.starCount, rec.starCount...)
		}
		m.repos[id] = rec
	}
	return nil
}

func (m *memStore) Similar(context.Context, string, string, int) ([]models.Neighbor, error) {
	return nil, nil
}

func (m *memStore) Stats(context.Context, string) (models.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.Stats{Total: len(m.repos)}, nil
}

func (m *memStore) CategoryBreakdown(context.Context, string) ([]models.CategoryCount, error) {
	return nil, nil
}

func (m *memStore) StarTrends(context.Context, string, string) ([]models.StarTrend, error) {
	return nil, nil
}

func (m *memStore) LanguageBreakdown(context.Context, string) ([]models.LanguageStat, error) {
	return nil, nil
}

func (m *memStore) ListRepositories(context.Context, string, store.RepoFilter) (models.RepoPage, error) {
	return models.RepoPage{}, nil
}

func (m *memStore) Close() error { return nil }

type memTx struct {
	store  *memStore
	staged map[string]*repoRecord
}

func (t *memTx) UpsertRepository(_ context.Context, _ string, r models.Repo) (string, error) {
	id := "repo:" + strconv.FormatInt(r.GitHubID, 10)
	t.staged[id] = &repoRecord{repo: r}
	return id, nil
}

func (t *memTx) ReplaceLanguages(_ context.Context, id string, langs []models.Language) error {
	t.staged[id].langs = langs
	return nil
}

func (t *memTx) UpsertAnalysis(_ context.Context, id string, a ontology.Analysis) error {
	t.staged[id].analysis = a
	return nil
}

func (t *memTx) UpsertEmbedding(_ context.Context, id string, v embedding.Vector) error {
	if t.store.failTx[t.staged[id].repo.Name] {
		return errors.New("vector dimension mismatch")
	}
	t.staged[id].vec = v
	return nil
}

func (t *memTx) AppendStarSample(_ context.Context, id string, stars int, _ time.Time) error {
	t.staged[id].starCount = append(t.staged[id].starCount, stars)
	return nil
}

// --- helpers ---

func newWorker(t *testing.T, st store.Store, src Source, opts ...Option) *Worker {
	t.Helper()
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedNow }),
	}
	return New(st, func(token string) (Source, error) {
		if token == "" {
			return nil, errors.New("missing token")
		}
		return src, nil
	}, append(base, opts...)...)
}

func startJob(t *testing.T, w *Worker) models.SyncJob {
	t.Helper()
	job, err := w.Start(context.Background(), "octo")
	require.NoError(t, err)
	require.Equal(t, models.JobRunning, job.Status)
	return job
}

func finalJob(t *testing.T, st *memStore, job models.SyncJob) models.SyncJob {
	t.Helper()
	got, err := st.GetJob(context.Background(), job.ID, job.UserID)
	require.NoError(t, err)
	return got
}

// --- tests ---

func TestRun_SkipsFailingRepository(t *testing.T) {
	st := newMemStore()
	src := &fakeSource{repos: repos(5), failLangs: map[string]bool{"repo-2": true}}
	m := metrics.New(prometheus.NewRegistry())
	w := newWorker(t, st, src, WithMetrics(m))
	job := startJob(t, w)

	require.NoError(t, w.Run(context.Background(), job.UserID, "token", job.ID))

	got := finalJob(t, st, job)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, 5, got.TotalRepos)
	assert.Equal(t, 4, got.ReposSynced)
	assert.Empty(t, got.ErrorMessage)
	assert.Len(t, st.repos, 4)
	assert.NotContains(t, st.repos, "repo:3")

	assert.NotNil(t, st.users["octo"].LastSyncedAt)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.ReposSynced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReposFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("completed")))
}

func TestRun_ListingFailureFailsJob(t *testing.T) {
	st := newMemStore()
	src := &fakeSource{listErr: errors.New("401 Bad credentials")}
	w := newWorker(t, st, src)
	job := startJob(t, w)

	err := w.Run(context.Background(), job.UserID, "token", job.ID)
	require.Error(t, err)

	got := finalJob(t, st, job)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "401 Bad credentials", got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)
	assert.Zero(t, got.TotalRepos)
	assert.Nil(t, st.users["octo"].LastSyncedAt)
}

func TestRun_SourceConstructionFailureFailsJob(t *testing.T) {
	st := newMemStore()
	w := newWorker(t, st, &fakeSource{})
	job := startJob(t, w)

	require.Error(t, w.Run(context.Background(), job.UserID, "", job.ID))
	assert.Equal(t, models.JobFailed, finalJob(t, st, job).Status)
}

func TestRun_CheckpointsEveryTenSuccesses(t *testing.T) {
	st := newMemStore()
	src := &fakeSource{repos: repos(25), failLangs: map[string]bool{"repo-4": true}}
	w := newWorker(t, st, src)
	job := startJob(t, w)

	require.NoError(t, w.Run(context.Background(), job.UserID, "token", job.ID))

	assert.Equal(t, []int{10, 20}, st.checkpoints)
	got := finalJob(t, st, job)
	assert.Equal(t, 24, got.ReposSynced)
	assert.Equal(t, 25, got.TotalRepos)
}

func TestRun_EmptyListCompletes(t *testing.T) {
	st := newMemStore()
	w := newWorker(t, st, &fakeSource{})
	job := startJob(t, w)

	require.NoError(t, w.Run(context.Background(), job.UserID, "token", job.ID))

	got := finalJob(t, st, job)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Zero(t, got.ReposSynced)
}

func TestRun_TransactionFailureLeavesNoPartialWrites(t *testing.T) {
	st := newMemStore()
	st.failTx["repo-1"] = true
	src := &fakeSource{repos: repos(3)}
	w := newWorker(t, st, src)
	job := startJob(t, w)

	require.NoError(t, w.Run(context.Background(), job.UserID, "token", job.ID))

	assert.Equal(t, 2, finalJob(t, st, job).ReposSynced)
	assert.NotContains(t, st.repos, "repo:2")
	assert.Contains(t, st.repos, "repo:1")
	assert.Contains(t, st.repos, "repo:3")
}

func TestRun_CancellationStopsLoopButCompletesJob(t *testing.T) {
	st := newMemStore()
	st.strictCtx = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{repos: repos(6), onTopics: func(name string) {
		if name == "repo-2" {
			cancel()
		}
	}}
	w := newWorker(t, st, src)
	job := startJob(t, w)

	require.NoError(t, w.Run(ctx, job.UserID, "token", job.ID))

	got := finalJob(t, st, job)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, 6, got.TotalRepos)
	assert.Less(t, got.ReposSynced, 6)
	assert.NotContains(t, src.topicsSeen, "repo-3")
}

func TestSyncRepository_PersistsEverything(t *testing.T) {
	st := newMemStore()
	src := &fakeSource{}
	w := newWorker(t, st, src)

	repo := models.Repo{GitHubID: 7, Owner: "octo", Name: "bot", FullName: "octo/bot", Description: "autonomous agent", Stars: 33}
	require.NoError(t, w.SyncRepository(context.Background(), "user-octo", src, repo))

	rec := st.repos["repo:7"]
	require.NotNil(t, rec)
	assert.Equal(t, []string{"agent"}, rec.repo.Topics)
	assert.Equal(t, ontology.Agent, rec.analysis.Category)
	assert.Len(t, rec.vec.Values, embedding.Dimension)
	assert.Equal(t, embedding.Model, rec.vec.Model)
	assert.Equal(t, []int{33}, rec.starCount)
	assert.Equal(t, "Go", rec.langs[0].Name)

	// Star history is append-only across syncs.
	repo.Stars = 40
	require.NoError(t, w.SyncRepository(context.Background(), "user-octo", src, repo))
	assert.Equal(t, []int{33, 40}, st.repos["repo:7"].starCount)
}

func TestRunAsync(t *testing.T) {
	st := newMemStore()
	w := newWorker(t, st, &fakeSource{repos: repos(3)})
	job := startJob(t, w)

	select {
	case err := <-w.RunAsync(context.Background(), job, "token"):
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not finish")
	}

	got := finalJob(t, st, job)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, 3, got.ReposSynced)
}

func TestRun_JobsAreScopedByUser(t *testing.T) {
	st := newMemStore()
	w := newWorker(t, st, &fakeSource{repos: repos(2)})
	job := startJob(t, w)

	// Running under another user's id cannot touch this job.
	require.NoError(t, w.Run(context.Background(), "user-mallory", "token", job.ID))

	got := finalJob(t, st, job)
	assert.Equal(t, models.JobRunning, got.Status)
	assert.Zero(t, got.TotalRepos)
}
