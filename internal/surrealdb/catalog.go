package surrealdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/store"
)

const (
	maxTrendDays     = 30
	maxLanguageStats = 20
)

var sortFields = map[string]string{
	store.SortName:    "name",
	store.SortStars:   "stars",
	store.SortUpdated: "updated_at",
	store.SortCreated: "created_at",
	store.SortVibe:    "vibe_score",
}

type sampleRow struct {
	RepoID    string `json:"repo_id"`
	StarCount int    `json:"star_count"`
	SampledAt string `json:"sampled_at"`
}

type languageRow struct {
	RepoID     string  `json:"repo_id"`
	Name       string  `json:"name"`
	Bytes      int64   `json:"bytes"`
	Percentage float64 `json:"percentage"`
}

// repoIDs returns the stored ids ("repository:<key>") of the user's
// repositories, narrowed to fullName when it is set.
func (s *Store) repoIDs(ctx context.Context, userID, fullName string) ([]string, error) {
	q := `SELECT VALUE record::id(id) FROM repository WHERE user_id = $user_id`
	vars := map[string]any{"user_id": userID}
	if fullName != "" {
		q += ` AND full_name = $full_name`
		vars["full_name"] = fullName
	}
	keys, err := queryRows[string](ctx, s.db, q, vars)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = repoTable + ":" + k
	}
	return ids, nil
}

func (s *Store) StarTrends(ctx context.Context, userID, fullName string) ([]models.StarTrend, error) {
	ids, err := s.repoIDs(ctx, userID, fullName)
	if err != nil {
		return nil, fmt.Errorf("star trends: %w", err)
	}
	if len(ids) == 0 {
		return []models.StarTrend{}, nil
	}
	rows, err := queryRows[sampleRow](ctx, s.db,
		`SELECT repo_id, star_count, <string> sampled_at AS sampled_at FROM star_sample WHERE repo_id IN $ids`,
		map[string]any{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("star trends: %w", err)
	}
	return dailyTrends(rows), nil
}

// dailyTrends keeps the last sample per repository per UTC day and sums
// each day, newest first.
func dailyTrends(rows []sampleRow) []models.StarTrend {
	type repoDay struct {
		repo string
		day  time.Time
	}
	type sample struct {
		at    time.Time
		stars int
	}
	latest := map[repoDay]sample{}
	for _, r := range rows {
		at := parseTimePtr(&r.SampledAt)
		if at == nil {
			continue
		}
		k := repoDay{repo: r.RepoID, day: at.UTC().Truncate(24 * time.Hour)}
		if cur, ok := latest[k]; !ok || at.After(cur.at) {
			latest[k] = sample{at: *at, stars: r.StarCount}
		}
	}

	byDay := map[time.Time]*models.StarTrend{}
	for k, v := range latest {
		t, ok := byDay[k.day]
		if !ok {
			t = &models.StarTrend{Date: k.day}
			byDay[k.day] = t
		}
		t.TotalStars += v.stars
		t.ReposTracked++
	}

	out := make([]models.StarTrend, 0, len(byDay))
	for _, t := range byDay {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if len(out) > maxTrendDays {
		out = out[:maxTrendDays]
	}
	return out
}

func (s *Store) LanguageBreakdown(ctx context.Context, userID string) ([]models.LanguageStat, error) {
	ids, err := s.repoIDs(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("language breakdown: %w", err)
	}
	if len(ids) == 0 {
		return []models.LanguageStat{}, nil
	}
	rows, err := s.languagesOf(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("language breakdown: %w", err)
	}
	return languageStats(rows), nil
}

func (s *Store) languagesOf(ctx context.Context, ids []string) ([]languageRow, error) {
	return queryRows[languageRow](ctx, s.db,
		`SELECT repo_id, name, bytes, percentage FROM language WHERE repo_id IN $ids`,
		map[string]any{"ids": ids})
}

// languageStats ranks languages by how many repositories use them, then by
// total bytes.
func languageStats(rows []languageRow) []models.LanguageStat {
	type acc struct {
		repos   map[string]struct{}
		bytes   int64
		pctSum  float64
		samples int
	}
	byName := map[string]*acc{}
	for _, r := range rows {
		a, ok := byName[r.Name]
		if !ok {
			a = &acc{repos: map[string]struct{}{}}
			byName[r.Name] = a
		}
		a.repos[r.RepoID] = struct{}{}
		a.bytes += r.Bytes
		a.pctSum += r.Percentage
		a.samples++
	}

	out := make([]models.LanguageStat, 0, len(byName))
	for name, a := range byName {
		out = append(out, models.LanguageStat{
			Name:          name,
			RepoCount:     len(a.repos),
			TotalBytes:    a.bytes,
			AvgPercentage: a.pctSum / float64(a.samples),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RepoCount != out[j].RepoCount {
			return out[i].RepoCount > out[j].RepoCount
		}
		if out[i].TotalBytes != out[j].TotalBytes {
			return out[i].TotalBytes > out[j].TotalBytes
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > maxLanguageStats {
		out = out[:maxLanguageStats]
	}
	return out
}

type catalogRow struct {
	Key               string    `json:"key"`
	GitHubID          int64     `json:"github_id"`
	Owner             string    `json:"owner"`
	Name              string    `json:"name"`
	FullName          string    `json:"full_name"`
	Description       string    `json:"description"`
	URL               string    `json:"url"`
	HomepageURL       string    `json:"homepage_url"`
	Language          string    `json:"language"`
	License           string    `json:"license"`
	Topics            []string  `json:"topics"`
	Stars             int       `json:"stars"`
	Forks             int       `json:"forks_count"`
	Watchers          int       `json:"watchers"`
	OpenIssues        int       `json:"open_issues"`
	SizeKB            int       `json:"size_kb"`
	IsFork            bool      `json:"is_fork"`
	IsPrivate         bool      `json:"is_private"`
	IsOwner           bool      `json:"is_owner"`
	Archived          bool      `json:"archived"`
	CreatedAt         *string   `json:"created_at"`
	UpdatedAt         *string   `json:"updated_at"`
	PushedAt          *string   `json:"pushed_at"`
	Category          *string   `json:"category"`
	Confidence        *float64  `json:"confidence"`
	VibeScore         *float64  `json:"vibe_score"`
	ComplexityScore   *int      `json:"complexity_score"`
	InstallDifficulty *int      `json:"install_difficulty"`
	DebugTimeHours    *int      `json:"debug_time_hours"`
	LearningCurve     *int      `json:"learning_curve"`
	MaintenanceLoad   *int      `json:"maintenance_load"`
	EmbeddingModel    *string   `json:"embedding_model"`
	Embedding         []float32 `json:"embedding"`
}

func (r catalogRow) toModel() models.CatalogRepo {
	c := models.CatalogRepo{
		Repo: models.Repo{
			GitHubID:    r.GitHubID,
			Owner:       r.Owner,
			Name:        r.Name,
			FullName:    r.FullName,
			Description: r.Description,
			URL:         r.URL,
			HomepageURL: r.HomepageURL,
			Language:    r.Language,
			License:     r.License,
			Topics:      r.Topics,
			Stars:       r.Stars,
			Forks:       r.Forks,
			Watchers:    r.Watchers,
			OpenIssues:  r.OpenIssues,
			SizeKB:      r.SizeKB,
			IsFork:      r.IsFork,
			IsPrivate:   r.IsPrivate,
			IsOwner:     r.IsOwner,
			Archived:    r.Archived,
		},
		Confidence:        deref(r.Confidence),
		VibeScore:         deref(r.VibeScore),
		ComplexityScore:   deref(r.ComplexityScore),
		InstallDifficulty: deref(r.InstallDifficulty),
		DebugTimeHours:    deref(r.DebugTimeHours),
		LearningCurve:     deref(r.LearningCurve),
		MaintenanceLoad:   deref(r.MaintenanceLoad),
		Category:          deref(r.Category),
		EmbeddingModel:    deref(r.EmbeddingModel),
		Embedding:         r.Embedding,
		Languages:         []models.Language{},
	}
	if c.Topics == nil {
		c.Topics = []string{}
	}
	c.CreatedAt, c.UpdatedAt, c.PushedAt = stamp(r.CreatedAt), stamp(r.UpdatedAt), stamp(r.PushedAt)
	return c
}

func stamp(s *string) time.Time {
	return deref(parseTimePtr(s))
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

const catalogProjection = `record::id(id) AS key, github_id, owner, name, full_name, description, url,
	homepage_url, language, license, topics, stars, forks_count, watchers, open_issues, size_kb,
	is_fork, is_private, is_owner, archived, created_at, updated_at, pushed_at,
	category, confidence, vibe_score, complexity_score, install_difficulty,
	debug_time_hours, learning_curve, maintenance_load, embedding_model`

// listQuery builds the page and count queries for f. f must be normalized.
func listQuery(userID string, f store.RepoFilter) (page, count string, vars map[string]any) {
	conds := []string{"user_id = $user_id"}
	vars = map[string]any{"user_id": userID, "limit": f.Limit, "offset": f.Offset}

	if f.Category != "" {
		conds = append(conds, "category = $category")
		vars["category"] = f.Category
	}
	if f.Language != "" {
		conds = append(conds, "language = $language")
		vars["language"] = f.Language
	}
	if f.Fork != nil {
		conds = append(conds, "is_fork = $fork")
		vars["fork"] = *f.Fork
	}
	if f.Search != "" {
		conds = append(conds, "(string::lowercase(name) CONTAINS $needle"+
			" OR string::lowercase(description) CONTAINS $needle OR topics CONTAINS $search)")
		vars["needle"] = strings.ToLower(f.Search)
		vars["search"] = f.Search
	}
	where := strings.Join(conds, " AND ")

	projection := catalogProjection
	if f.WithEmbedding {
		projection += ", embedding"
	}
	field, ok := sortFields[f.Sort]
	if !ok {
		field = sortFields[store.SortUpdated]
	}
	dir := "DESC"
	if f.Order == "asc" {
		dir = "ASC"
	}

	page = `SELECT ` + projection + ` FROM repository WHERE ` + where +
		` ORDER BY ` + field + ` ` + dir + `, full_name ASC LIMIT $limit START $offset`
	count = `SELECT count() AS total FROM repository WHERE ` + where + ` GROUP ALL`
	return page, count, vars
}

func (s *Store) ListRepositories(ctx context.Context, userID string, filter store.RepoFilter) (models.RepoPage, error) {
	f := filter.Normalized()
	pageQ, countQ, vars := listQuery(userID, f)

	counts, err := queryRows[map[string]any](ctx, s.db, countQ, vars)
	if err != nil {
		return models.RepoPage{}, fmt.Errorf("count repositories: %w", err)
	}
	rows, err := queryRows[catalogRow](ctx, s.db, pageQ, vars)
	if err != nil {
		return models.RepoPage{}, fmt.Errorf("list repositories: %w", err)
	}

	page := models.RepoPage{Repositories: make([]models.CatalogRepo, 0, len(rows)), Limit: f.Limit, Offset: f.Offset}
	if len(counts) > 0 {
		page.Total = toInt(counts[0]["total"])
	}
	if len(rows) == 0 {
		return page, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = repoTable + ":" + r.Key
	}
	langs, err := s.languagesOf(ctx, ids)
	if err != nil {
		return models.RepoPage{}, fmt.Errorf("list languages: %w", err)
	}
	byRepo := groupLanguages(langs)
	for i, r := range rows {
		c := r.toModel()
		if l, ok := byRepo[ids[i]]; ok {
			c.Languages = l
		}
		page.Repositories = append(page.Repositories, c)
	}
	return page, nil
}

// groupLanguages keys language rows by repo id, largest first.
func groupLanguages(rows []languageRow) map[string][]models.Language {
	out := map[string][]models.Language{}
	for _, r := range rows {
		out[r.RepoID] = append(out[r.RepoID], models.Language{Name: r.Name, Bytes: r.Bytes, Percentage: r.Percentage})
	}
	for _, langs := range out {
		sort.Slice(langs, func(i, j int) bool {
			if langs[i].Bytes != langs[j].Bytes {
				return langs[i].Bytes > langs[j].Bytes
			}
			return langs[i].Name < langs[j].Name
		})
	}
	return out
}
