package surrealdb

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kevinmichaelchen/reporemix/internal/embedding"
	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/ontology"
)

const repoTable = "repository"

// txBuffer implements store.Tx by recording statements. Each statement's
// variables are prefixed with s<N>_ so they cannot collide in the combined
// query.
type txBuffer struct {
	stmts []string
	vars  map[string]any
}

func (b *txBuffer) empty() bool { return len(b.stmts) == 0 }

// add appends stmt, rewriting each $name in vars to $s<N>_name.
func (b *txBuffer) add(stmt string, vars map[string]any) {
	if b.vars == nil {
		b.vars = map[string]any{}
	}
	prefix := "s" + strconv.Itoa(len(b.stmts)) + "_"

	// Longest names first so $n never clobbers $name.
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sortByLenDesc(names)

	for _, k := range names {
		stmt = strings.ReplaceAll(stmt, "$"+k, "$"+prefix+k)
		b.vars[prefix+k] = vars[k]
	}
	b.stmts = append(b.stmts, stmt)
}

func (b *txBuffer) build() (string, map[string]any) {
	var q strings.Builder
	q.WriteString("BEGIN TRANSACTION;\n")
	for _, s := range b.stmts {
		q.WriteString(s)
		q.WriteString(";\n")
	}
	q.WriteString("COMMIT TRANSACTION;")
	return q.String(), b.vars
}

// repoKey turns "repository:octo_123" (or a bare "octo_123") into the record key.
func repoKey(repoID string) string {
	return strings.TrimPrefix(repoID, repoTable+":")
}

// recordKey scopes a repository record to the user that synced it, so two
// users starring the same repository never share a document.
func recordKey(userID string, githubID int64) string {
	return userID + "_" + strconv.FormatInt(githubID, 10)
}

func (b *txBuffer) UpsertRepository(_ context.Context, userID string, r models.Repo) (string, error) {
	key := recordKey(userID, r.GitHubID)

	topics := r.Topics
	if topics == nil {
		topics = []string{}
	}
	data := map[string]any{
		"user_id":      userID,
		"github_id":    r.GitHubID,
		"owner":        r.Owner,
		"name":         r.Name,
		"full_name":    r.FullName,
		"description":  r.Description,
		"url":          r.URL,
		"homepage_url": r.HomepageURL,
		"language":     r.Language,
		"license":      r.License,
		"topics":       topics,
		"stars":        r.Stars,
		"forks_count":  r.Forks,
		"watchers":     r.Watchers,
		"open_issues":  r.OpenIssues,
		"size_kb":      r.SizeKB,
		"is_fork":      r.IsFork,
		"is_private":   r.IsPrivate,
		"is_owner":     r.IsOwner,
		"archived":     r.Archived,
	}
	// Optional fields are omitted rather than sent as NULL, which SurrealDB
	// rejects for option<T>.
	for field, t := range map[string]time.Time{
		"created_at": r.CreatedAt,
		"updated_at": r.UpdatedAt,
		"pushed_at":  r.PushedAt,
	} {
		if !t.IsZero() {
			data[field] = formatStamp(t)
		}
	}

	b.add(`UPSERT type::thing("repository", $key) MERGE $data`,
		map[string]any{"key": key, "data": data})
	b.add(`UPDATE type::thing("repository", $key) SET last_synced_at = time::now()`,
		map[string]any{"key": key})
	return repoTable + ":" + key, nil
}

func (b *txBuffer) ReplaceLanguages(_ context.Context, repoID string, langs []models.Language) error {
	b.add(`DELETE language WHERE repo_id = $repo_id`, map[string]any{"repo_id": repoID})
	if len(langs) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(langs))
	for _, l := range langs {
		rows = append(rows, map[string]any{
			"repo_id":    repoID,
			"name":       l.Name,
			"bytes":      l.Bytes,
			"percentage": l.Percentage,
		})
	}
	b.add(`INSERT INTO language $rows`, map[string]any{"rows": rows})
	return nil
}

func (b *txBuffer) UpsertAnalysis(_ context.Context, repoID string, a ontology.Analysis) error {
	weights := make(map[string]any, len(a.Weights))
	for _, w := range a.Weights {
		weights[string(w.Category)] = w.Weight
	}
	b.add(`UPDATE type::thing("repository", $key) MERGE $data`, map[string]any{
		"key": repoKey(repoID),
		"data": map[string]any{
			"category":           string(a.Category),
			"confidence":         a.Confidence,
			"reasoning":          a.Reasoning,
			"vibe_score":         a.VibeScore,
			"complexity_score":   a.ComplexityScore,
			"install_difficulty": a.InstallDifficulty,
			"debug_time_hours":   a.DebugTimeHours,
			"learning_curve":     a.LearningCurve,
			"maintenance_load":   a.MaintenanceLoad,
			"category_weights":   weights,
		},
	})
	return nil
}

func (b *txBuffer) UpsertEmbedding(_ context.Context, repoID string, vec embedding.Vector) error {
	if len(vec.Values) != embedding.Dimension {
		return fmt.Errorf("embedding has %d values, want %d", len(vec.Values), embedding.Dimension)
	}
	b.add(`UPDATE type::thing("repository", $key) SET embedding_model = $model, embedding = $embedding`,
		map[string]any{
			"key":       repoKey(repoID),
			"model":     vec.Model,
			"embedding": embeddingValues(vec),
		})
	return nil
}

func (b *txBuffer) AppendStarSample(_ context.Context, repoID string, stars int, at time.Time) error {
	b.add(`CREATE star_sample SET repo_id = $repo_id, star_count = $stars, sampled_at = <datetime> $at`,
		map[string]any{"repo_id": repoID, "stars": stars, "at": formatTime(at)})
	return nil
}

func sortByLenDesc(s []string) {
	sort.Slice(s, func(i, j int) bool {
		if len(s[i]) != len(s[j]) {
			return len(s[i]) > len(s[j])
		}
		return s[i] < s[j]
	})
}
