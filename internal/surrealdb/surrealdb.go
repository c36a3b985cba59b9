// Package surrealdb is the SurrealDB implementation of store.Store. A synced
// repository is a single document carrying its metadata, ontology analysis
// and embedding; languages, star samples and sync jobs live in side tables.
package surrealdb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	sdk "github.com/surrealdb/surrealdb.go"

	"github.com/kevinmichaelchen/reporemix/internal/config"
	"github.com/kevinmichaelchen/reporemix/internal/embedding"
	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/store"
)

var _ store.Store = (*Store)(nil)

type execFunc func(ctx context.Context, query string, vars map[string]any) error

type Store struct {
	db   *sdk.DB
	exec execFunc
}

func NewClient(ctx context.Context, cfg config.Surreal) (*Store, error) {
	db, err := sdk.FromEndpointURLString(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, sdk.Auth{
		Namespace: cfg.NS,
		Database:  cfg.DB,
		Username:  cfg.User,
		Password:  cfg.Pass,
	}); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("signing in: %w", err)
	}

	if err := db.Use(ctx, cfg.NS, cfg.DB); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("selecting ns/db: %w", err)
	}

	s := &Store{db: db}
	s.exec = func(ctx context.Context, q string, vars map[string]any) error {
		_, err := sdk.Query[any](ctx, s.db, q, vars)
		return err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close(context.Background())
}

const schema = `
DEFINE TABLE IF NOT EXISTS user SCHEMAFULL;
DEFINE FIELD IF NOT EXISTS login          ON TABLE user TYPE string;
DEFINE FIELD IF NOT EXISTS last_synced_at ON TABLE user TYPE option<datetime>;

DEFINE TABLE IF NOT EXISTS repository SCHEMAFULL;
DEFINE FIELD IF NOT EXISTS user_id            ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS github_id          ON TABLE repository TYPE int;
DEFINE FIELD IF NOT EXISTS owner              ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS name               ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS full_name          ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS description        ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS url                ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS homepage_url       ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS language           ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS license            ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS topics             ON TABLE repository TYPE array<string>;
DEFINE FIELD IF NOT EXISTS stars              ON TABLE repository TYPE int;
DEFINE FIELD IF NOT EXISTS forks_count        ON TABLE repository TYPE int;
DEFINE FIELD IF NOT EXISTS watchers           ON TABLE repository TYPE int;
DEFINE FIELD IF NOT EXISTS open_issues        ON TABLE repository TYPE int;
DEFINE FIELD IF NOT EXISTS size_kb            ON TABLE repository TYPE int;
DEFINE FIELD IF NOT EXISTS is_fork            ON TABLE repository TYPE bool;
DEFINE FIELD IF NOT EXISTS is_private         ON TABLE repository TYPE bool;
DEFINE FIELD IF NOT EXISTS is_owner           ON TABLE repository TYPE bool;
DEFINE FIELD IF NOT EXISTS archived           ON TABLE repository TYPE bool;
DEFINE FIELD IF NOT EXISTS created_at         ON TABLE repository TYPE option<string>;
DEFINE FIELD IF NOT EXISTS updated_at         ON TABLE repository TYPE option<string>;
DEFINE FIELD IF NOT EXISTS pushed_at          ON TABLE repository TYPE option<string>;
DEFINE FIELD IF NOT EXISTS last_synced_at     ON TABLE repository TYPE datetime DEFAULT time::now();
DEFINE FIELD IF NOT EXISTS category           ON TABLE repository TYPE option<string>;
DEFINE FIELD IF NOT EXISTS confidence         ON TABLE repository TYPE option<float>;
DEFINE FIELD IF NOT EXISTS reasoning          ON TABLE repository TYPE option<string>;
DEFINE FIELD IF NOT EXISTS vibe_score         ON TABLE repository TYPE option<float>;
DEFINE FIELD IF NOT EXISTS complexity_score   ON TABLE repository TYPE option<int>;
DEFINE FIELD IF NOT EXISTS install_difficulty ON TABLE repository TYPE option<int>;
DEFINE FIELD IF NOT EXISTS debug_time_hours   ON TABLE repository TYPE option<int>;
DEFINE FIELD IF NOT EXISTS learning_curve     ON TABLE repository TYPE option<int>;
DEFINE FIELD IF NOT EXISTS maintenance_load   ON TABLE repository TYPE option<int>;
DEFINE FIELD IF NOT EXISTS category_weights   ON TABLE repository FLEXIBLE TYPE option<object>;
DEFINE FIELD IF NOT EXISTS embedding_model    ON TABLE repository TYPE option<string>;
DEFINE FIELD IF NOT EXISTS embedding          ON TABLE repository TYPE option<array<float>>;

REMOVE INDEX IF EXISTS idx_github_id ON TABLE repository;
DEFINE INDEX IF NOT EXISTS idx_user_github_id ON TABLE repository FIELDS user_id, github_id UNIQUE;
DEFINE INDEX IF NOT EXISTS idx_user_full_name ON TABLE repository FIELDS user_id, full_name;
REMOVE INDEX IF EXISTS idx_hnsw_embedding ON TABLE repository;
DEFINE INDEX idx_hnsw_embedding ON TABLE repository FIELDS embedding HNSW DIMENSION 1536 DIST COSINE;

DEFINE TABLE IF NOT EXISTS language SCHEMAFULL;
DEFINE FIELD IF NOT EXISTS repo_id    ON TABLE language TYPE string;
DEFINE FIELD IF NOT EXISTS name       ON TABLE language TYPE string;
DEFINE FIELD IF NOT EXISTS bytes      ON TABLE language TYPE int;
DEFINE FIELD IF NOT EXISTS percentage ON TABLE language TYPE float;
DEFINE INDEX IF NOT EXISTS idx_language_repo ON TABLE language FIELDS repo_id;

DEFINE TABLE IF NOT EXISTS star_sample SCHEMAFULL;
DEFINE FIELD IF NOT EXISTS repo_id    ON TABLE star_sample TYPE string;
DEFINE FIELD IF NOT EXISTS star_count ON TABLE star_sample TYPE int;
DEFINE FIELD IF NOT EXISTS sampled_at ON TABLE star_sample TYPE datetime;

DEFINE TABLE IF NOT EXISTS sync_job SCHEMAFULL;
DEFINE FIELD IF NOT EXISTS job_id        ON TABLE sync_job TYPE string;
DEFINE FIELD IF NOT EXISTS user_id       ON TABLE sync_job TYPE string;
DEFINE FIELD IF NOT EXISTS status        ON TABLE sync_job TYPE string
	ASSERT $value IN ["running", "completed", "failed"];
DEFINE FIELD IF NOT EXISTS total_repos   ON TABLE sync_job TYPE int DEFAULT 0;
DEFINE FIELD IF NOT EXISTS repos_synced  ON TABLE sync_job TYPE int DEFAULT 0;
DEFINE FIELD IF NOT EXISTS error_message ON TABLE sync_job TYPE option<string>;
DEFINE FIELD IF NOT EXISTS started_at    ON TABLE sync_job TYPE datetime DEFAULT time::now();
DEFINE FIELD IF NOT EXISTS completed_at  ON TABLE sync_job TYPE option<datetime>;
DEFINE INDEX IF NOT EXISTS idx_job_user ON TABLE sync_job FIELDS user_id, started_at;
`

func (s *Store) InitSchema(ctx context.Context) error {
	if err := s.exec(ctx, schema, nil); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// --- Users ---

type userRow struct {
	Login        string  `json:"login"`
	LastSyncedAt *string `json:"last_synced_at"`
}

// EnsureUser keys users by login, so the user id is the login itself.
func (s *Store) EnsureUser(ctx context.Context, login string) (models.User, error) {
	vars := map[string]any{"login": login}
	if err := s.exec(ctx, `UPSERT type::thing("user", $login) MERGE { login: $login }`, vars); err != nil {
		return models.User{}, fmt.Errorf("ensure user %s: %w", login, err)
	}

	rows, err := queryRows[userRow](ctx, s.db,
		`SELECT login, (IF last_synced_at IS NONE THEN NONE ELSE <string> last_synced_at END) AS last_synced_at
		 FROM type::thing("user", $login)`, vars)
	if err != nil {
		return models.User{}, fmt.Errorf("read user %s: %w", login, err)
	}
	if len(rows) == 0 {
		return models.User{}, fmt.Errorf("read user %s: %w", login, store.ErrNotFound)
	}
	return models.User{ID: login, Login: login, LastSyncedAt: parseTimePtr(rows[0].LastSyncedAt)}, nil
}

func (s *Store) TouchUserSynced(ctx context.Context, userID string, at time.Time) error {
	return s.updateOne(ctx,
		`UPDATE type::thing("user", $user_id) SET last_synced_at = <datetime> $at RETURN login`,
		map[string]any{"user_id": userID, "at": formatTime(at)},
		"touch user %s", userID)
}

// --- Sync jobs ---

type jobRow struct {
	JobID        string  `json:"job_id"`
	UserID       string  `json:"user_id"`
	Status       string  `json:"status"`
	TotalRepos   int     `json:"total_repos"`
	ReposSynced  int     `json:"repos_synced"`
	ErrorMessage *string `json:"error_message"`
	StartedAt    string  `json:"started_at"`
	CompletedAt  *string `json:"completed_at"`
}

func (r jobRow) toModel() models.SyncJob {
	j := models.SyncJob{
		ID:          r.JobID,
		UserID:      r.UserID,
		Status:      models.JobStatus(r.Status),
		TotalRepos:  r.TotalRepos,
		ReposSynced: r.ReposSynced,
		CompletedAt: parseTimePtr(r.CompletedAt),
	}
	if r.ErrorMessage != nil {
		j.ErrorMessage = *r.ErrorMessage
	}
	if t := parseTimePtr(&r.StartedAt); t != nil {
		j.StartedAt = *t
	}
	return j
}

const jobProjection = `job_id, user_id, status, total_repos, repos_synced, error_message, started_at AS started,
	<string> started_at AS started_at,
	(IF completed_at IS NONE THEN NONE ELSE <string> completed_at END) AS completed_at`

func (s *Store) CreateJob(ctx context.Context, userID string) (models.SyncJob, error) {
	jobID := uuid.NewString()
	err := s.exec(ctx,
		`CREATE type::thing("sync_job", $job_id) SET job_id = $job_id, user_id = $user_id, status = "running"`,
		map[string]any{"job_id": jobID, "user_id": userID})
	if err != nil {
		return models.SyncJob{}, fmt.Errorf("create job for %s: %w", userID, err)
	}
	return s.GetJob(ctx, jobID, userID)
}

func (s *Store) GetJob(ctx context.Context, jobID, userID string) (models.SyncJob, error) {
	rows, err := queryRows[jobRow](ctx, s.db,
		`SELECT `+jobProjection+` FROM sync_job WHERE job_id = $job_id AND user_id = $user_id`,
		map[string]any{"job_id": jobID, "user_id": userID})
	if err != nil {
		return models.SyncJob{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(rows) == 0 {
		return models.SyncJob{}, fmt.Errorf("get job %s: %w", jobID, store.ErrNotFound)
	}
	return rows[0].toModel(), nil
}

func (s *Store) ListJobs(ctx context.Context, userID string, limit int) ([]models.SyncJob, error) {
	rows, err := queryRows[jobRow](ctx, s.db,
		`SELECT `+jobProjection+` FROM sync_job WHERE user_id = $user_id
		 ORDER BY started DESC LIMIT $limit`,
		map[string]any{"user_id": userID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]models.SyncJob, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toModel())
	}
	return jobs, nil
}

func (s *Store) SetJobTotal(ctx context.Context, jobID, userID string, total int) error {
	return s.updateJob(ctx, jobID, userID, `total_repos = $n`, map[string]any{"n": total}, "set total for job %s")
}

func (s *Store) SetJobProgress(ctx context.Context, jobID, userID string, synced int) error {
	return s.updateJob(ctx, jobID, userID, `repos_synced = $n`, map[string]any{"n": synced}, "set progress for job %s")
}

func (s *Store) CompleteJob(ctx context.Context, jobID, userID string, synced int) error {
	return s.updateJob(ctx, jobID, userID,
		`status = "completed", repos_synced = $n, completed_at = time::now()`,
		map[string]any{"n": synced}, "complete job %s")
}

func (s *Store) FailJob(ctx context.Context, jobID, userID, message string) error {
	return s.updateJob(ctx, jobID, userID,
		`status = "failed", error_message = $message, completed_at = time::now()`,
		map[string]any{"message": message}, "fail job %s")
}

// updateJob only touches running jobs owned by userID.
func (s *Store) updateJob(ctx context.Context, jobID, userID, set string, vars map[string]any, format string) error {
	vars["job_id"] = jobID
	vars["user_id"] = userID
	return s.updateOne(ctx,
		`UPDATE sync_job SET `+set+` WHERE job_id = $job_id AND user_id = $user_id AND status = "running" RETURN job_id`,
		vars, format, jobID)
}

func (s *Store) updateOne(ctx context.Context, q string, vars map[string]any, format string, args ...any) error {
	rows, err := queryRows[map[string]any](ctx, s.db, q, vars)
	if err != nil {
		return wrapf(err, format, args...)
	}
	if len(rows) == 0 {
		return wrapf(store.ErrNotFound, format, args...)
	}
	return nil
}

// wrapf prefixes err with a formatted message. The message is never itself
// used as a format string.
func wrapf(err error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// --- Unit of work ---

// WithinTx collects the writes made through the Tx and ships them as one
// BEGIN/COMMIT query. When fn fails nothing is sent.
func (s *Store) WithinTx(ctx context.Context, fn func(store.Tx) error) (err error) {
	defer store.Recover(&err)

	buf := &txBuffer{}
	if err := fn(buf); err != nil {
		return err
	}
	if buf.empty() {
		return nil
	}

	q, vars := buf.build()
	if err := s.exec(ctx, q, vars); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Read side ---

type neighborRow struct {
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	Category    *string   `json:"category"`
	Stars       int       `json:"stars"`
	URL         string    `json:"url"`
	Score       float64   `json:"score"`
	Embedding   []float32 `json:"embedding"`
}

func (s *Store) Similar(ctx context.Context, userID, fullName string, k int) ([]models.Neighbor, error) {
	targets, err := queryRows[neighborRow](ctx, s.db,
		`SELECT embedding FROM repository
		 WHERE user_id = $user_id AND full_name = $full_name AND embedding IS NOT NONE LIMIT 1`,
		map[string]any{"user_id": userID, "full_name": fullName})
	if err != nil {
		return nil, fmt.Errorf("embedding for %s: %w", fullName, err)
	}
	if len(targets) == 0 || len(targets[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding for %s: %w", fullName, store.ErrNotFound)
	}

	// Brute-force cosine; the HNSW KNN operator has returned empty results
	// right after the index is redefined.
	rows, err := queryRows[neighborRow](ctx, s.db,
		`SELECT full_name, description, category, stars, url,
			vector::similarity::cosine(embedding, $query_vec) AS score
		 FROM repository
		 WHERE user_id = $user_id AND full_name != $full_name AND embedding IS NOT NONE
		 ORDER BY score DESC
		 LIMIT $k`,
		map[string]any{"user_id": userID, "full_name": fullName, "query_vec": targets[0].Embedding, "k": k})
	if err != nil {
		return nil, fmt.Errorf("similar to %s: %w", fullName, err)
	}

	out := make([]models.Neighbor, 0, len(rows))
	for _, r := range rows {
		n := models.Neighbor{
			FullName:    r.FullName,
			Description: r.Description,
			Stars:       r.Stars,
			URL:         r.URL,
			Score:       r.Score,
		}
		if r.Category != nil {
			n.Category = *r.Category
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context, userID string) (models.Stats, error) {
	vars := map[string]any{"user_id": userID}
	rows, err := queryRows[map[string]any](ctx, s.db,
		`SELECT
			count() AS total,
			math::sum(IF is_fork THEN 1 ELSE 0 END) AS forks,
			math::sum(stars) AS total_stars,
			math::sum(IF category IS NOT NONE THEN 1 ELSE 0 END) AS analyzed,
			math::sum(IF embedding IS NOT NONE THEN 1 ELSE 0 END) AS embedded,
			math::sum(IF vibe_score IS NOT NONE THEN vibe_score ELSE 0 END) AS vibe_sum
		FROM repository WHERE user_id = $user_id GROUP ALL`, vars)
	if err != nil {
		return models.Stats{}, fmt.Errorf("getting stats: %w", err)
	}
	if len(rows) == 0 {
		return models.Stats{}, nil
	}
	row := rows[0]
	st := models.Stats{
		Total:      toInt(row["total"]),
		Forks:      toInt(row["forks"]),
		TotalStars: toInt(row["total_stars"]),
		Analyzed:   toInt(row["analyzed"]),
		Embedded:   toInt(row["embedded"]),
	}
	if st.Analyzed > 0 {
		st.AvgVibe = toFloat(row["vibe_sum"]) / float64(st.Analyzed)
	}

	langs, err := queryRows[string](ctx, s.db,
		`SELECT VALUE language FROM repository WHERE user_id = $user_id AND language != ""`, vars)
	if err != nil {
		return models.Stats{}, fmt.Errorf("getting languages: %w", err)
	}
	st.Languages = countDistinct(langs)
	return st, nil
}

func (s *Store) CategoryBreakdown(ctx context.Context, userID string) ([]models.CategoryCount, error) {
	rows, err := queryRows[map[string]any](ctx, s.db,
		`SELECT category, count() AS count, math::mean(vibe_score) AS avg_vibe
		 FROM repository WHERE user_id = $user_id AND category IS NOT NONE
		 GROUP BY category`,
		map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("getting categories: %w", err)
	}

	out := make([]models.CategoryCount, 0, len(rows))
	for _, row := range rows {
		cat, _ := row["category"].(string)
		out = append(out, models.CategoryCount{
			Category: cat,
			Count:    toInt(row["count"]),
			AvgVibe:  toFloat(row["avg_vibe"]),
		})
	}
	sortCategories(out)
	return out, nil
}

func queryRows[T any](ctx context.Context, db *sdk.DB, q string, vars map[string]any) ([]T, error) {
	results, err := sdk.Query[[]T](ctx, db, q, vars)
	if err != nil {
		return nil, err
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[len(*results)-1].Result, nil
}

func sortCategories(cats []models.CategoryCount) {
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].Count != cats[j].Count {
			return cats[i].Count > cats[j].Count
		}
		return cats[i].Category < cats[j].Category
	})
}

func countDistinct(values []string) int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// formatStamp is fixed width, so stored stamps sort as strings.
func formatStamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, strings.Trim(*s, `"'`))
	if err != nil {
		return nil
	}
	return &t
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}

// embeddingValues keeps the vector finite before it is sent.
func embeddingValues(v embedding.Vector) []float32 {
	out := make([]float32, len(v.Values))
	for i, x := range v.Values {
		if f := float64(x); !math.IsNaN(f) && !math.IsInf(f, 0) {
			out[i] = x
		}
	}
	return out
}
