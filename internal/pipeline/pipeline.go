// Package pipeline runs a user's repository sync: list everything from the
// data source, then fetch, classify, embed and persist one repository at a
// time while keeping the job record up to date.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kevinmichaelchen/reporemix/internal/embedding"
	"github.com/kevinmichaelchen/reporemix/internal/metrics"
	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/ontology"
	"github.com/kevinmichaelchen/reporemix/internal/store"
)

// checkpointEvery is how many successful repositories pass between
// repos_synced writes.
const checkpointEvery = 10

// Source is the data-source capability the sync needs. *github.Client
// satisfies it.
type Source interface {
	ListRepositories(ctx context.Context) ([]models.Repo, error)
	ListLanguages(ctx context.Context, owner, name string) ([]models.Language, error)
	ListTopics(ctx context.Context, owner, name string) ([]string, error)
}

// SourceFactory builds a Source authenticated as the user owning token.
type SourceFactory func(token string) (Source, error)

type Worker struct {
	store     store.Store
	newSource SourceFactory
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Worker)

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func New(st store.Store, newSource SourceFactory, opts ...Option) *Worker {
	w := &Worker{
		store:     st,
		newSource: newSource,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start ensures the user exists and opens a running job for them. The
// returned job's UserID is the id to pass to Run.
func (w *Worker) Start(ctx context.Context, login string) (models.SyncJob, error) {
	user, err := w.store.EnsureUser(ctx, login)
	if err != nil {
		return models.SyncJob{}, fmt.Errorf("ensure user: %w", err)
	}
	job, err := w.store.CreateJob(ctx, user.ID)
	if err != nil {
		return models.SyncJob{}, fmt.Errorf("create job: %w", err)
	}
	w.logger.Info("sync job created", "job_id", job.ID, "user_id", user.ID, "login", login)
	return job, nil
}

// RunAsync runs the job in its own goroutine. The channel receives Run's
// result and is then closed.
func (w *Worker) RunAsync(ctx context.Context, job models.SyncJob, token string) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- w.Run(ctx, job.UserID, token, job.ID)
	}()
	return done
}

// Run drives one sync job to a terminal state. Only a failure to list the
// repositories fails the job, and only then does Run return an error. Every
// per-repository failure is logged and skipped. A cancelled ctx stops the loop
// before the next repository and the job still completes with the count so far.
func (w *Worker) Run(ctx context.Context, userID, token, jobID string) error {
	log := w.logger.With("job_id", jobID, "user_id", userID)
	log.Info("starting repository sync")

	// Job bookkeeping must land even after ctx is cancelled.
	bg := context.WithoutCancel(ctx)

	src, err := w.newSource(token)
	if err != nil {
		return w.fail(bg, log, jobID, userID, fmt.Errorf("create data source: %w", err))
	}

	repos, err := src.ListRepositories(ctx)
	if err != nil {
		return w.fail(bg, log, jobID, userID, err)
	}

	if err := w.store.SetJobTotal(bg, jobID, userID, len(repos)); err != nil {
		log.Warn("recording job total failed", "error", err)
	}

	synced := 0
	for _, repo := range repos {
		if ctx.Err() != nil {
			log.Warn("sync cancelled", "synced", synced, "total", len(repos))
			break
		}

		started := w.now()
		if err := w.SyncRepository(ctx, userID, src, repo); err != nil {
			log.Error("syncing repository failed", "repo", repo.FullName, "error", err)
			w.metrics.RepoFailed()
			continue
		}
		w.metrics.RepoSynced(w.now().Sub(started))
		synced++

		if synced%checkpointEvery == 0 {
			if err := w.store.SetJobProgress(bg, jobID, userID, synced); err != nil {
				log.Warn("checkpointing progress failed", "synced", synced, "error", err)
			}
		}
	}

	if err := w.store.CompleteJob(bg, jobID, userID, synced); err != nil {
		log.Error("completing job failed", "error", err)
	}
	if err := w.store.TouchUserSynced(bg, userID, w.now()); err != nil {
		log.Warn("stamping last sync failed", "error", err)
	}
	w.metrics.JobFinished(string(models.JobCompleted))

	log.Info("repository sync complete", "synced", synced, "total", len(repos))
	return nil
}

func (w *Worker) fail(ctx context.Context, log *slog.Logger, jobID, userID string, cause error) error {
	log.Error("sync failed", "error", cause)
	if err := w.store.FailJob(ctx, jobID, userID, cause.Error()); err != nil {
		log.Error("marking job failed", "error", err)
	}
	w.metrics.JobFinished(string(models.JobFailed))
	return fmt.Errorf("sync job %s: %w", jobID, cause)
}

// SyncRepository fetches languages and topics for repo, then writes the
// repository, its languages, analysis, embedding and a star sample in one
// unit of work.
func (w *Worker) SyncRepository(ctx context.Context, userID string, src Source, repo models.Repo) error {
	var (
		langs  []models.Language
		topics []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		langs, err = src.ListLanguages(gctx, repo.Owner, repo.Name)
		return err
	})
	g.Go(func() error {
		var err error
		topics, err = src.ListTopics(gctx, repo.Owner, repo.Name)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fetch %s: %w", repo.FullName, err)
	}

	repo = repo.WithTopics(topics)
	now := w.now()
	analysis := ontology.AnalyzeAt(repo, now)
	vec := embedding.Compute(repo, analysis)

	return w.store.WithinTx(ctx, func(tx store.Tx) error {
		repoID, err := tx.UpsertRepository(ctx, userID, repo)
		if err != nil {
			return err
		}
		if err := tx.ReplaceLanguages(ctx, repoID, langs); err != nil {
			return err
		}
		if err := tx.UpsertAnalysis(ctx, repoID, analysis); err != nil {
			return err
		}
		if err := tx.UpsertEmbedding(ctx, repoID, vec); err != nil {
			return err
		}
		return tx.AppendStarSample(ctx, repoID, repo.Stars, now)
	})
}
