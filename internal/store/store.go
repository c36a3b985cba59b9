// Package store defines the persistence port used by the sync pipeline and
// the read-side commands. internal/postgres and internal/surrealdb implement it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kevinmichaelchen/reporemix/internal/embedding"
	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/ontology"
)

// ErrNotFound is returned when a lookup matches no row for the given owner.
var ErrNotFound = errors.New("not found")

// Store is the job ledger plus the catalog read side. Every job write is
// scoped by job id and user id.
type Store interface {
	EnsureUser(ctx context.Context, login string) (models.User, error)
	TouchUserSynced(ctx context.Context, userID string, at time.Time) error

	CreateJob(ctx context.Context, userID string) (models.SyncJob, error)
	GetJob(ctx context.Context, jobID, userID string) (models.SyncJob, error)
	// ListJobs returns the newest jobs first.
	ListJobs(ctx context.Context, userID string, limit int) ([]models.SyncJob, error)
	SetJobTotal(ctx context.Context, jobID, userID string, total int) error
	SetJobProgress(ctx context.Context, jobID, userID string, synced int) error
	CompleteJob(ctx context.Context, jobID, userID string, synced int) error
	FailJob(ctx context.Context, jobID, userID, message string) error

	// WithinTx runs fn in one unit of work. It commits when fn returns nil and
	// rolls back when fn returns an error or panics.
	WithinTx(ctx context.Context, fn func(Tx) error) error

	Similar(ctx context.Context, userID, fullName string, k int) ([]models.Neighbor, error)
	Stats(ctx context.Context, userID string) (models.Stats, error)
	CategoryBreakdown(ctx context.Context, userID string) ([]models.CategoryCount, error)
	// StarTrends returns up to 30 days of star totals, newest first. A
	// non-empty fullName narrows it to one repository.
	StarTrends(ctx context.Context, userID, fullName string) ([]models.StarTrend, error)
	// LanguageBreakdown returns the 20 languages used by the most repositories.
	LanguageBreakdown(ctx context.Context, userID string) ([]models.LanguageStat, error)
	ListRepositories(ctx context.Context, userID string, filter RepoFilter) (models.RepoPage, error)

	Close() error
}

// Tx carries the per-repository writes of one sync step.
type Tx interface {
	// UpsertRepository inserts or updates by (user, GitHub id) and returns the
	// internal repository id.
	UpsertRepository(ctx context.Context, userID string, repo models.Repo) (string, error)
	ReplaceLanguages(ctx context.Context, repoID string, langs []models.Language) error
	UpsertAnalysis(ctx context.Context, repoID string, analysis ontology.Analysis) error
	// UpsertEmbedding supersedes any earlier vector for the repository.
	UpsertEmbedding(ctx context.Context, repoID string, vec embedding.Vector) error
	// AppendStarSample is append-only.
	AppendStarSample(ctx context.Context, repoID string, stars int, at time.Time) error
}

// Recover turns a panic inside a unit of work into a *PanicError. Backends
// defer it in WithinTx ahead of their own rollback.
func Recover(errp *error) {
	if r := recover(); r != nil {
		*errp = &PanicError{Value: r}
	}
}

type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in transaction: %v", e.Value)
}
