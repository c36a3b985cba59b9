package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevinmichaelchen/reporemix/internal/embedding"
	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/ontology"
	"github.com/kevinmichaelchen/reporemix/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL and pgvector.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// --- Users ---

func (s *Store) EnsureUser(ctx context.Context, login string) (models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (login) VALUES ($1)
		 ON CONFLICT (login) DO UPDATE SET login = EXCLUDED.login
		 RETURNING id::text, login, last_synced_at`, login).
		Scan(&u.ID, &u.Login, &u.LastSyncedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("ensure user %s: %w", login, err)
	}
	return u, nil
}

func (s *Store) TouchUserSynced(ctx context.Context, userID string, at time.Time) error {
	if !validID(userID) {
		return fmt.Errorf("touch user %s: %w", userID, store.ErrNotFound)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_synced_at = $2 WHERE id = $1`, userID, at)
	return execExpectOne(tag, err, "touch user %s", userID)
}

// --- Sync jobs ---

const jobColumns = `id::text, user_id::text, status, total_repos, repos_synced,
	COALESCE(error_message, ''), started_at, completed_at`

func scanJob(row scannable) (models.SyncJob, error) {
	var j models.SyncJob
	var status string
	err := row.Scan(&j.ID, &j.UserID, &status, &j.TotalRepos, &j.ReposSynced,
		&j.ErrorMessage, &j.StartedAt, &j.CompletedAt)
	j.Status = models.JobStatus(status)
	return j, err
}

func (s *Store) CreateJob(ctx context.Context, userID string) (models.SyncJob, error) {
	if !validID(userID) {
		return models.SyncJob{}, fmt.Errorf("create job for %s: %w", userID, store.ErrNotFound)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO sync_jobs (id, user_id, status) VALUES ($1, $2, 'running')
		 RETURNING `+jobColumns, uuid.NewString(), userID)
	j, err := scanJob(row)
	if err != nil {
		return models.SyncJob{}, fmt.Errorf("create job for %s: %w", userID, err)
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, jobID, userID string) (models.SyncJob, error) {
	if !validID(jobID) || !validID(userID) {
		return models.SyncJob{}, fmt.Errorf("get job %s: %w", jobID, store.ErrNotFound)
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1 AND user_id = $2`, jobID, userID)
	j, err := scanJob(row)
	if err != nil {
		return models.SyncJob{}, notFoundWrap(err, "get job %s", jobID)
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, userID string, limit int) ([]models.SyncJob, error) {
	if !validID(userID) {
		return []models.SyncJob{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.SyncJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) SetJobTotal(ctx context.Context, jobID, userID string, total int) error {
	if !validID(jobID) || !validID(userID) {
		return fmt.Errorf("set total for job %s: %w", jobID, store.ErrNotFound)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_jobs SET total_repos = $3
		 WHERE id = $1 AND user_id = $2 AND status = 'running'`, jobID, userID, total)
	return execExpectOne(tag, err, "set total for job %s", jobID)
}

func (s *Store) SetJobProgress(ctx context.Context, jobID, userID string, synced int) error {
	if !validID(jobID) || !validID(userID) {
		return fmt.Errorf("set progress for job %s: %w", jobID, store.ErrNotFound)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_jobs SET repos_synced = $3
		 WHERE id = $1 AND user_id = $2 AND status = 'running'`, jobID, userID, synced)
	return execExpectOne(tag, err, "set progress for job %s", jobID)
}

// CompleteJob and FailJob only move a running job; a terminal job is left
// untouched and reported as not found.
func (s *Store) CompleteJob(ctx context.Context, jobID, userID string, synced int) error {
	if !validID(jobID) || !validID(userID) {
		return fmt.Errorf("complete job %s: %w", jobID, store.ErrNotFound)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_jobs SET status = 'completed', repos_synced = $3, completed_at = now()
		 WHERE id = $1 AND user_id = $2 AND status = 'running'`, jobID, userID, synced)
	return execExpectOne(tag, err, "complete job %s", jobID)
}

func (s *Store) FailJob(ctx context.Context, jobID, userID, message string) error {
	if !validID(jobID) || !validID(userID) {
		return fmt.Errorf("fail job %s: %w", jobID, store.ErrNotFound)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_jobs SET status = 'failed', error_message = $3, completed_at = now()
		 WHERE id = $1 AND user_id = $2 AND status = 'running'`, jobID, userID, message)
	return execExpectOne(tag, err, "fail job %s", jobID)
}

// --- Unit of work ---

func (s *Store) WithinTx(ctx context.Context, fn func(store.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit
	defer store.Recover(&err)

	if err := fn(&repoTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type repoTx struct {
	tx pgx.Tx
}

func (t *repoTx) UpsertRepository(ctx context.Context, userID string, r models.Repo) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx,
		`INSERT INTO repositories (
			user_id, github_id, name, full_name, description, owner,
			is_fork, is_private, is_owner, parent_repo, source_repo,
			stars, forks_count, watchers, open_issues, size_kb,
			primary_language, default_branch, license, homepage_url, url,
			clone_url, ssh_url, topics, has_issues, has_wiki, has_pages,
			archived, disabled, priority, created_at, updated_at, pushed_at, last_synced_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, now()
		)
		ON CONFLICT (user_id, github_id) DO UPDATE SET
			name = EXCLUDED.name,
			full_name = EXCLUDED.full_name,
			description = EXCLUDED.description,
			is_owner = EXCLUDED.is_owner,
			stars = EXCLUDED.stars,
			forks_count = EXCLUDED.forks_count,
			watchers = EXCLUDED.watchers,
			open_issues = EXCLUDED.open_issues,
			size_kb = EXCLUDED.size_kb,
			primary_language = EXCLUDED.primary_language,
			topics = EXCLUDED.topics,
			archived = EXCLUDED.archived,
			updated_at = EXCLUDED.updated_at,
			pushed_at = EXCLUDED.pushed_at,
			last_synced_at = now()
		RETURNING id::text`,
		userID, r.GitHubID, r.Name, r.FullName, r.Description, r.Owner,
		r.IsFork, r.IsPrivate, r.IsOwner, r.ParentRepo, r.SourceRepo,
		r.Stars, r.Forks, r.Watchers, r.OpenIssues, r.SizeKB,
		r.Language, r.DefaultBranch, r.License, r.HomepageURL, r.URL,
		r.CloneURL, r.SSHURL, pgTextArray(r.Topics), r.HasIssues, r.HasWiki, r.HasPages,
		r.Archived, r.Disabled, r.Priority, nullTime(r.CreatedAt), nullTime(r.UpdatedAt), nullTime(r.PushedAt),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert repository %s: %w", r.FullName, err)
	}
	return id, nil
}

func (t *repoTx) ReplaceLanguages(ctx context.Context, repoID string, langs []models.Language) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM languages WHERE repository_id = $1`, repoID); err != nil {
		return fmt.Errorf("clear languages: %w", err)
	}
	if len(langs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, l := range langs {
		batch.Queue(`INSERT INTO languages (repository_id, name, bytes, percentage) VALUES ($1, $2, $3, $4)`,
			repoID, l.Name, l.Bytes, l.Percentage)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert languages: %w", err)
	}
	return nil
}

func (t *repoTx) UpsertAnalysis(ctx context.Context, repoID string, a ontology.Analysis) error {
	weights, err := json.Marshal(a.Weights)
	if err != nil {
		return fmt.Errorf("marshal category weights: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO repository_categories (
			repository_id, category, confidence, reasoning, vibe_score, complexity_score,
			install_difficulty, debug_time_hours, learning_curve, maintenance_load, category_weights
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (repository_id) DO UPDATE SET
			category = EXCLUDED.category,
			confidence = EXCLUDED.confidence,
			reasoning = EXCLUDED.reasoning,
			vibe_score = EXCLUDED.vibe_score,
			complexity_score = EXCLUDED.complexity_score,
			install_difficulty = EXCLUDED.install_difficulty,
			debug_time_hours = EXCLUDED.debug_time_hours,
			learning_curve = EXCLUDED.learning_curve,
			maintenance_load = EXCLUDED.maintenance_load,
			category_weights = EXCLUDED.category_weights,
			updated_at = now()`,
		repoID, string(a.Category), a.Confidence, a.Reasoning, a.VibeScore, a.ComplexityScore,
		a.InstallDifficulty, a.DebugTimeHours, a.LearningCurve, a.MaintenanceLoad, weights)
	if err != nil {
		return fmt.Errorf("upsert analysis: %w", err)
	}
	return nil
}

func (t *repoTx) UpsertEmbedding(ctx context.Context, repoID string, vec embedding.Vector) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO repository_embeddings (repository_id, model, embedding_vector)
		 VALUES ($1, $2, $3::vector)
		 ON CONFLICT (repository_id) DO UPDATE SET
			model = EXCLUDED.model,
			embedding_vector = EXCLUDED.embedding_vector,
			created_at = now()`,
		repoID, vec.Model, embedding.Format(vec.Values))
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

func (t *repoTx) AppendStarSample(ctx context.Context, repoID string, stars int, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO star_history (repository_id, star_count, "timestamp") VALUES ($1, $2, $3)`,
		repoID, stars, at)
	if err != nil {
		return fmt.Errorf("append star sample: %w", err)
	}
	return nil
}

// --- Read side ---

// Similar returns the k repositories nearest to fullName by cosine distance.
func (s *Store) Similar(ctx context.Context, userID, fullName string, k int) ([]models.Neighbor, error) {
	if !validID(userID) {
		return nil, fmt.Errorf("similar to %s: %w", fullName, store.ErrNotFound)
	}

	var target string
	err := s.pool.QueryRow(ctx,
		`SELECT re.embedding_vector::text
		 FROM repository_embeddings re
		 JOIN repositories r ON r.id = re.repository_id
		 WHERE r.user_id = $1 AND r.full_name = $2`, userID, fullName).Scan(&target)
	if err != nil {
		return nil, notFoundWrap(err, "embedding for %s", fullName)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT r.full_name, r.description, COALESCE(rc.category, ''), r.stars, r.url,
			1 - (re.embedding_vector <=> $3::vector) AS score
		 FROM repository_embeddings re
		 JOIN repositories r ON r.id = re.repository_id
		 LEFT JOIN repository_categories rc ON rc.repository_id = r.id
		 WHERE r.user_id = $1 AND r.full_name <> $2
		 ORDER BY re.embedding_vector <=> $3::vector
		 LIMIT $4`, userID, fullName, target, k)
	if err != nil {
		return nil, fmt.Errorf("similar to %s: %w", fullName, err)
	}
	defer rows.Close()

	out := []models.Neighbor{}
	for rows.Next() {
		var n models.Neighbor
		if err := rows.Scan(&n.FullName, &n.Description, &n.Category, &n.Stars, &n.URL, &n.Score); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context, userID string) (models.Stats, error) {
	var st models.Stats
	if !validID(userID) {
		return st, nil
	}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE r.is_fork),
			COALESCE(SUM(r.stars), 0),
			COUNT(DISTINCT NULLIF(r.primary_language, '')),
			COUNT(rc.repository_id),
			COUNT(re.repository_id),
			COALESCE(AVG(rc.vibe_score), 0)
		 FROM repositories r
		 LEFT JOIN repository_categories rc ON rc.repository_id = r.id
		 LEFT JOIN repository_embeddings re ON re.repository_id = r.id
		 WHERE r.user_id = $1`, userID).
		Scan(&st.Total, &st.Forks, &st.TotalStars, &st.Languages, &st.Analyzed, &st.Embedded, &st.AvgVibe)
	if err != nil {
		return models.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

func (s *Store) CategoryBreakdown(ctx context.Context, userID string) ([]models.CategoryCount, error) {
	if !validID(userID) {
		return []models.CategoryCount{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT rc.category, COUNT(*), AVG(rc.vibe_score)
		 FROM repositories r
		 JOIN repository_categories rc ON rc.repository_id = r.id
		 WHERE r.user_id = $1
		 GROUP BY rc.category
		 ORDER BY COUNT(*) DESC, rc.category`, userID)
	if err != nil {
		return nil, fmt.Errorf("category breakdown: %w", err)
	}
	defer rows.Close()

	out := []models.CategoryCount{}
	for rows.Next() {
		var c models.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count, &c.AvgVibe); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
