package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kevinmichaelchen/reporemix/internal/embedding"
	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/store"
)

// StarTrends keeps the last sample per repository per UTC day, so a day
// synced twice is not counted twice.
func (s *Store) StarTrends(ctx context.Context, userID, fullName string) ([]models.StarTrend, error) {
	if !validID(userID) {
		return []models.StarTrend{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT day, SUM(star_count)::bigint, COUNT(*)
		 FROM (
			SELECT DISTINCT ON (sh.repository_id, (sh."timestamp" AT TIME ZONE 'UTC')::date)
				(sh."timestamp" AT TIME ZONE 'UTC')::date AS day, sh.star_count
			FROM star_history sh
			JOIN repositories r ON r.id = sh.repository_id
			WHERE r.user_id = $1 AND ($2::text = '' OR r.full_name = $2)
			ORDER BY sh.repository_id, (sh."timestamp" AT TIME ZONE 'UTC')::date, sh."timestamp" DESC
		 ) latest
		 GROUP BY day
		 ORDER BY day DESC
		 LIMIT 30`, userID, fullName)
	if err != nil {
		return nil, fmt.Errorf("star trends: %w", err)
	}
	defer rows.Close()

	out := []models.StarTrend{}
	for rows.Next() {
		var t models.StarTrend
		if err := rows.Scan(&t.Date, &t.TotalStars, &t.ReposTracked); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		t.Date = t.Date.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) LanguageBreakdown(ctx context.Context, userID string) ([]models.LanguageStat, error) {
	if !validID(userID) {
		return []models.LanguageStat{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT l.name, COUNT(DISTINCT r.id), SUM(l.bytes)::bigint, AVG(l.percentage)::float8
		 FROM languages l
		 JOIN repositories r ON r.id = l.repository_id
		 WHERE r.user_id = $1
		 GROUP BY l.name
		 ORDER BY COUNT(DISTINCT r.id) DESC, SUM(l.bytes) DESC, l.name
		 LIMIT 20`, userID)
	if err != nil {
		return nil, fmt.Errorf("language breakdown: %w", err)
	}
	defer rows.Close()

	out := []models.LanguageStat{}
	for rows.Next() {
		var l models.LanguageStat
		if err := rows.Scan(&l.Name, &l.RepoCount, &l.TotalBytes, &l.AvgPercentage); err != nil {
			return nil, fmt.Errorf("scan language: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

var sortColumns = map[string]string{
	store.SortName:    "r.name",
	store.SortStars:   "r.stars",
	store.SortUpdated: "r.updated_at",
	store.SortCreated: "r.created_at",
	store.SortVibe:    "rc.vibe_score",
}

const catalogColumns = `r.github_id, r.owner, r.name, r.full_name, r.description, r.url,
	r.homepage_url, r.clone_url, r.ssh_url, r.default_branch, r.license, r.primary_language,
	r.topics, r.stars, r.forks_count, r.watchers, r.open_issues, r.size_kb,
	r.is_fork, r.is_private, r.is_owner, r.parent_repo, r.source_repo,
	r.has_issues, r.has_wiki, r.has_pages, r.archived, r.disabled, r.priority,
	r.created_at, r.updated_at, r.pushed_at,
	COALESCE(rc.category, ''), COALESCE(rc.confidence, 0), COALESCE(rc.vibe_score, 0),
	COALESCE(rc.complexity_score, 0), COALESCE(rc.install_difficulty, 0),
	COALESCE(rc.debug_time_hours, 0), COALESCE(rc.learning_curve, 0), COALESCE(rc.maintenance_load, 0),
	COALESCE((
		SELECT json_agg(json_build_object('name', l.name, 'bytes', l.bytes, 'percentage', l.percentage)
			ORDER BY l.bytes DESC, l.name)
		FROM languages l WHERE l.repository_id = r.id
	), '[]'::json),
	COALESCE(re.model, '')`

// ListRepositories pages through the user's catalog. Total counts every
// matching row.
func (s *Store) ListRepositories(ctx context.Context, userID string, filter store.RepoFilter) (models.RepoPage, error) {
	f := filter.Normalized()
	page := models.RepoPage{Repositories: []models.CatalogRepo{}, Limit: f.Limit, Offset: f.Offset}
	if !validID(userID) {
		return page, nil
	}

	where, args := repoFilterClause(userID, f)
	from := ` FROM repositories r
		LEFT JOIN repository_categories rc ON rc.repository_id = r.id
		LEFT JOIN repository_embeddings re ON re.repository_id = r.id
		WHERE ` + where

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*)`+from, args...).Scan(&page.Total); err != nil {
		return models.RepoPage{}, fmt.Errorf("count repositories: %w", err)
	}

	vector := `''`
	if f.WithEmbedding {
		vector = `COALESCE(re.embedding_vector::text, '')`
	}
	n := len(args)
	q := `SELECT ` + catalogColumns + `, ` + vector + from +
		` ORDER BY ` + orderClause(f) +
		` LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)

	rows, err := s.pool.Query(ctx, q, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return models.RepoPage{}, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanCatalogRepo(rows)
		if err != nil {
			return models.RepoPage{}, fmt.Errorf("scan repository: %w", err)
		}
		page.Repositories = append(page.Repositories, r)
	}
	if err := rows.Err(); err != nil {
		return models.RepoPage{}, fmt.Errorf("list repositories: %w", err)
	}
	return page, nil
}

// repoFilterClause builds the WHERE body for f with userID bound to $1.
func repoFilterClause(userID string, f store.RepoFilter) (string, []any) {
	conds := []string{"r.user_id = $1"}
	args := []any{userID}
	bind := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Category != "" {
		conds = append(conds, "rc.category = "+bind(f.Category))
	}
	if f.Language != "" {
		conds = append(conds, "r.primary_language = "+bind(f.Language))
	}
	if f.Fork != nil {
		conds = append(conds, "r.is_fork = "+bind(*f.Fork))
	}
	if f.Search != "" {
		like, term := bind(likePattern(f.Search)), bind(f.Search)
		conds = append(conds, fmt.Sprintf("(r.name ILIKE %s OR r.description ILIKE %s OR %s = ANY(r.topics))", like, like, term))
	}
	return strings.Join(conds, " AND "), args
}

func orderClause(f store.RepoFilter) string {
	col, ok := sortColumns[f.Sort]
	if !ok {
		col = sortColumns[store.SortUpdated]
	}
	dir := "DESC"
	if f.Order == "asc" {
		dir = "ASC"
	}
	return col + " " + dir + " NULLS LAST, r.full_name"
}

// likePattern matches term anywhere, treating LIKE wildcards in it literally.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

func scanCatalogRepo(row scannable) (models.CatalogRepo, error) {
	var (
		c                        models.CatalogRepo
		created, updated, pushed *time.Time
		langs                    []byte
		vector                   string
	)
	err := row.Scan(
		&c.GitHubID, &c.Owner, &c.Name, &c.FullName, &c.Description, &c.URL,
		&c.HomepageURL, &c.CloneURL, &c.SSHURL, &c.DefaultBranch, &c.License, &c.Language,
		&c.Topics, &c.Stars, &c.Forks, &c.Watchers, &c.OpenIssues, &c.SizeKB,
		&c.IsFork, &c.IsPrivate, &c.IsOwner, &c.ParentRepo, &c.SourceRepo,
		&c.HasIssues, &c.HasWiki, &c.HasPages, &c.Archived, &c.Disabled, &c.Priority,
		&created, &updated, &pushed,
		&c.Category, &c.Confidence, &c.VibeScore,
		&c.ComplexityScore, &c.InstallDifficulty,
		&c.DebugTimeHours, &c.LearningCurve, &c.MaintenanceLoad,
		&langs, &c.EmbeddingModel, &vector,
	)
	if err != nil {
		return models.CatalogRepo{}, err
	}
	c.CreatedAt, c.UpdatedAt, c.PushedAt = derefTime(created), derefTime(updated), derefTime(pushed)
	if err := json.Unmarshal(langs, &c.Languages); err != nil {
		return models.CatalogRepo{}, fmt.Errorf("decode languages of %s: %w", c.FullName, err)
	}
	if vector != "" {
		if c.Embedding, err = embedding.Parse(vector); err != nil {
			return models.CatalogRepo{}, fmt.Errorf("decode embedding of %s: %w", c.FullName, err)
		}
	}
	return c, nil
}
