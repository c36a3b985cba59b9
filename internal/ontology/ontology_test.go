package ontology

import (
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinmichaelchen/reporemix/internal/models"
)

var refNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCategorize_AgentRepo(t *testing.T) {
	repo := models.Repo{
		Name:        "Multi-Agent Orchestrator",
		Description: "Autonomous workflow automation",
		Topics:      []string{"automation"},
	}

	got := Categorize(repo)

	assert.Equal(t, Agent, got.Category)
	assert.Greater(t, got.Confidence, 0.0)
	assert.Equal(t, 100.0, got.Confidence)
	assert.Equal(t, "Contains keywords: agent, autonomous, multi-agent. Topics: automation", got.Reasoning)
}

func TestCategorize_PlainRepoFallsBackToOther(t *testing.T) {
	repo := models.Repo{Name: "Plain Repo", Description: "Nothing special here", Topics: []string{}}

	got := Categorize(repo)

	assert.Equal(t, Other, got.Category)
	assert.Zero(t, got.Confidence)
	assert.Empty(t, got.Reasoning)
	require.Len(t, got.Weights, 8)
	for _, w := range got.Weights {
		assert.Zero(t, w.Weight, w.Category)
	}
}

func TestCategorize_TieGoesToDeclarationOrder(t *testing.T) {
	got := Categorize(models.Repo{Name: "cli framework"})

	assert.Equal(t, Foundation, got.Category)
	assert.Equal(t, 50.0, got.Confidence)
}

func TestCategorize_WeightsFollowDeclarationOrder(t *testing.T) {
	got := Categorize(models.Repo{Name: "react dashboard", Language: "TypeScript"})

	var order []Category
	for _, w := range got.Weights {
		order = append(order, w.Category)
	}
	assert.Equal(t, Categories(), order)
	assert.Equal(t, UI, got.Category)
	assert.Equal(t, "Contains keywords: react, dashboard. Primary language: TypeScript", got.Reasoning)
}

func TestCategorize_CategoryIsFirstArgmax(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	words := []string{"agent", "cli", "docker", "react", "data", "awesome", "sdk", "plain", "etl", "theme"}

	for range 500 {
		var repo models.Repo
		for range rng.IntN(6) {
			repo.Description += words[rng.IntN(len(words))] + " "
		}

		got := Categorize(repo)
		require.True(t, got.Category.Valid())
		require.GreaterOrEqual(t, got.Confidence, 0.0)
		require.LessOrEqual(t, got.Confidence, 100.0)

		want, maxW, total := Other, 0, 0
		for _, w := range got.Weights {
			total += w.Weight
			if w.Weight > maxW {
				want, maxW = w.Category, w.Weight
			}
		}
		require.Equal(t, want, got.Category, repo.Description)
		if total == 0 {
			require.Zero(t, got.Confidence)
		} else {
			require.InDelta(t, float64(maxW)/float64(total)*100, got.Confidence, 0.005)
		}
	}
}

func TestVibeScore(t *testing.T) {
	tests := []struct {
		name string
		repo models.Repo
		want float64
	}{
		{
			name: "popular and just pushed",
			repo: models.Repo{Stars: 1000, Forks: 100, PushedAt: refNow},
			want: 70.0,
		},
		{
			name: "never pushed and no stars",
			repo: models.Repo{},
			want: 0,
		},
		{
			name: "saturated components",
			repo: models.Repo{Stars: 1_000_000_000, Forks: 1_000_000_000, PushedAt: refNow},
			want: 100,
		},
		{
			name: "negative counts are treated as zero",
			repo: models.Repo{Stars: -5, Forks: -3, PushedAt: refNow.Add(-100 * 24 * time.Hour)},
			want: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, VibeScore(tt.repo, refNow), 0.01)
		})
	}
}

func TestVibeScore_RecentPopularRepoIsStrictlyInside(t *testing.T) {
	score := VibeScore(models.Repo{Stars: 1000, Forks: 100, PushedAt: refNow}, refNow)
	assert.Greater(t, score, 0.0)
	assert.Less(t, score, 100.0)
}

func TestComplexityScore(t *testing.T) {
	assert.Equal(t, 1, ComplexityScore(models.Repo{}))
	assert.Equal(t, 8, ComplexityScore(models.Repo{
		SizeKB:      200000,
		Language:    "Go",
		Description: "A Distributed system",
	}))
	assert.Equal(t, 3, ComplexityScore(models.Repo{SizeKB: 60000}))
	assert.Equal(t, 2, ComplexityScore(models.Repo{SizeKB: 10001}))
}

func TestInstallDifficulty(t *testing.T) {
	assert.Equal(t, 3, InstallDifficulty(models.Repo{Language: "COBOL"}))
	assert.Equal(t, 2, InstallDifficulty(models.Repo{Language: "Python"}))
	assert.Equal(t, 10, InstallDifficulty(models.Repo{
		Language:    "Rust",
		Description: "uses Docker",
		Topics:      []string{"compiler"},
	}))
	assert.Equal(t, 10, InstallDifficulty(models.Repo{
		Language:    "C++",
		Description: "needs postgres",
		Topics:      []string{"build-tool"},
	}))
}

func TestDebugTimeHours(t *testing.T) {
	repo := models.Repo{SizeKB: 200000, Language: "Go", Description: "distributed system"}
	assert.Equal(t, 13, DebugTimeHours(repo))
	assert.Equal(t, 1, DebugTimeHours(models.Repo{}))
}

func TestLearningCurve(t *testing.T) {
	assert.Equal(t, 4, LearningCurve(models.Repo{}))
	assert.Equal(t, 9, LearningCurve(models.Repo{
		SizeKB: 60000,
		Topics: []string{"go", "machine-learning"},
	}))
	assert.Equal(t, 3, LearningCurve(models.Repo{
		Description: "A long enough description that clearly explains the project.",
	}))
	// 30 emoji are 60 UTF-16 code units, so the description counts as long.
	assert.Equal(t, 3, LearningCurve(models.Repo{Description: strings.Repeat("🚀", 30)}))
	assert.Equal(t, 4, LearningCurve(models.Repo{Description: strings.Repeat("🚀", 24)}))
}

func TestMaintenanceLoad(t *testing.T) {
	assert.Equal(t, 2, MaintenanceLoad(models.Repo{}, refNow))
	assert.Equal(t, 9, MaintenanceLoad(models.Repo{
		OpenIssues: 200,
		Watchers:   2000,
		PushedAt:   refNow,
	}, refNow))
	assert.Equal(t, 3, MaintenanceLoad(models.Repo{PushedAt: refNow.Add(-20 * 24 * time.Hour)}, refNow))
}

func TestScoresStayInRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	langs := []string{"", "Go", "Rust", "C++", "Python", "Haskell", "Zig"}
	topics := []string{"compiler", "build-tool", "blockchain", "ui", "cli"}

	for range 1000 {
		repo := models.Repo{
			Name:        "repo",
			Description: "distributed docker thing",
			Language:    langs[rng.IntN(len(langs))],
			Topics:      []string{topics[rng.IntN(len(topics))], topics[rng.IntN(len(topics))]},
			Stars:       rng.IntN(1_000_000) - 10,
			Forks:       rng.IntN(100_000),
			Watchers:    rng.IntN(5000),
			OpenIssues:  rng.IntN(500),
			SizeKB:      rng.IntN(500_000),
			PushedAt:    refNow.Add(-time.Duration(rng.IntN(5000)) * time.Hour),
		}

		a := AnalyzeAt(repo, refNow)
		require.GreaterOrEqual(t, a.VibeScore, 0.0)
		require.LessOrEqual(t, a.VibeScore, 100.0)
		for _, s := range []int{a.ComplexityScore, a.InstallDifficulty, a.LearningCurve, a.MaintenanceLoad} {
			require.GreaterOrEqual(t, s, 1)
			require.LessOrEqual(t, s, 10)
		}
		require.GreaterOrEqual(t, a.DebugTimeHours, 0)
	}
}

func TestAnalyzeAt_ComposesEveryScore(t *testing.T) {
	repo := models.Repo{
		Name:        "kube-deployer",
		Description: "Kubernetes deployment tool",
		Language:    "Go",
		Topics:      []string{"devops", "cli"},
		Stars:       42,
		Forks:       4,
		Watchers:    42,
		OpenIssues:  12,
		SizeKB:      12000,
		PushedAt:    refNow.Add(-48 * time.Hour),
	}

	a := AnalyzeAt(repo, refNow)

	assert.Equal(t, Categorize(repo).Category, a.Category)
	assert.Equal(t, Infrastructure, a.Category)
	assert.Equal(t, VibeScore(repo, refNow), a.VibeScore)
	assert.Equal(t, ComplexityScore(repo), a.ComplexityScore)
	assert.Equal(t, InstallDifficulty(repo), a.InstallDifficulty)
	assert.Equal(t, DebugTimeHours(repo), a.DebugTimeHours)
	assert.Equal(t, LearningCurve(repo), a.LearningCurve)
	assert.Equal(t, MaintenanceLoad(repo, refNow), a.MaintenanceLoad)
	assert.Contains(t, a.Weights, CategoryWeight{Category: Infrastructure, Weight: 3})
	assert.Contains(t, a.Weights, CategoryWeight{Category: Tool, Weight: 2})
}
