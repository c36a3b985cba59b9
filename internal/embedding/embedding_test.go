package embedding

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/ontology"
)

var refNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRepo() models.Repo {
	return models.Repo{
		Name:        "vector-db",
		Description: "A distributed database for embeddings",
		Language:    "Rust",
		Topics:      []string{"database", "vector-search"},
		Stars:       2500,
		Forks:       180,
		Watchers:    2500,
		OpenIssues:  40,
		SizeKB:      64000,
		PushedAt:    refNow.Add(-72 * time.Hour),
	}
}

func requireWellFormed(t *testing.T, v Vector) {
	t.Helper()
	require.Equal(t, Model, v.Model)
	require.Len(t, v.Values, Dimension)
	for i, x := range v.Values {
		require.False(t, math.IsNaN(float64(x)) || math.IsInf(float64(x), 0), "value %d is not finite", i)
	}
}

func TestCompute_LengthAndFiniteness(t *testing.T) {
	repo := sampleRepo()
	requireWellFormed(t, Compute(repo, ontology.AnalyzeAt(repo, refNow)))
}

func TestCompute_SparseInput(t *testing.T) {
	requireWellFormed(t, Compute(models.Repo{}, ontology.Analysis{}))
	requireWellFormed(t, Compute(models.Repo{Stars: -10, Forks: -1}, ontology.Analysis{VibeScore: math.NaN()}))
}

func TestCompute_Deterministic(t *testing.T) {
	repo := sampleRepo()
	analysis := ontology.AnalyzeAt(repo, refNow)

	assert.Equal(t, Compute(repo, analysis).Values, Compute(repo, analysis).Values)
}

func TestCompute_StarsChangeTheVector(t *testing.T) {
	repo := sampleRepo()
	analysis := ontology.AnalyzeAt(repo, refNow)

	repo.Stars = 0
	low := Compute(repo, analysis)
	repo.Stars = 10000
	high := Compute(repo, analysis)

	assert.NotEqual(t, low.Values, high.Values)
}

func TestCompute_NoDeadFeatures(t *testing.T) {
	base := sampleRepo()
	baseAnalysis := ontology.AnalyzeAt(base, refNow)
	want := Compute(base, baseAnalysis).Values

	mutations := map[string]func(r *models.Repo, a *ontology.Analysis){
		"forks":       func(r *models.Repo, _ *ontology.Analysis) { r.Forks = 9000 },
		"watchers":    func(r *models.Repo, _ *ontology.Analysis) { r.Watchers = 3 },
		"size":        func(r *models.Repo, _ *ontology.Analysis) { r.SizeKB = 10 },
		"vibe":        func(_ *models.Repo, a *ontology.Analysis) { a.VibeScore = 5 },
		"complexity":  func(_ *models.Repo, a *ontology.Analysis) { a.ComplexityScore = 1 },
		"install":     func(_ *models.Repo, a *ontology.Analysis) { a.InstallDifficulty = 1 },
		"debug":       func(_ *models.Repo, a *ontology.Analysis) { a.DebugTimeHours = 39 },
		"learning":    func(_ *models.Repo, a *ontology.Analysis) { a.LearningCurve = 10 },
		"maintenance": func(_ *models.Repo, a *ontology.Analysis) { a.MaintenanceLoad = 10 },
		"confidence":  func(_ *models.Repo, a *ontology.Analysis) { a.Confidence = 1 },
		"priority":    func(r *models.Repo, _ *ontology.Analysis) { r.Priority = "high" },
		"topics":      func(r *models.Repo, _ *ontology.Analysis) { r.Topics = nil },
		"category":    func(_ *models.Repo, a *ontology.Analysis) { a.Category = ontology.Tool },
		"language":    func(r *models.Repo, _ *ontology.Analysis) { r.Language = "Go" },
		"fork":        func(r *models.Repo, _ *ontology.Analysis) { r.IsFork = true },
		"weights": func(_ *models.Repo, a *ontology.Analysis) {
			a.Weights = append([]ontology.CategoryWeight(nil), a.Weights...)
			a.Weights[0].Weight = 4
		},
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			repo, analysis := base, baseAnalysis
			mutate(&repo, &analysis)
			assert.NotEqual(t, want, Compute(repo, analysis).Values)
		})
	}
}

func TestFeatures_Palette(t *testing.T) {
	repo := sampleRepo()
	features := Features(repo, ontology.AnalyzeAt(repo, refNow))

	require.Len(t, features, 16+len(ontology.Categories()))
	assert.Equal(t, "stars", features[0].Label)
	assert.Equal(t, "is_fork", features[15].Label)
	assert.Equal(t, "cat_Agent", features[16].Label)
	assert.Equal(t, "cat_Other", features[len(features)-1].Label)

	for i, f := range features {
		assert.Equal(t, i, f.Index)
		assert.GreaterOrEqual(t, f.Value, 0.0, f.Label)
		assert.LessOrEqual(t, f.Value, 1.0, f.Label)
	}

	// s+t+a+r+s = 557, 557 mod 360 = 197 degrees.
	assert.InDelta(t, 197*math.Pi/180, features[0].Phase, 1e-12)
}

func TestFeatures_Defaults(t *testing.T) {
	features := Features(models.Repo{}, ontology.Analysis{})
	byLabel := map[string]Feature{}
	for _, f := range features {
		byLabel[f.Label] = f
	}

	require.Len(t, features, 16)
	assert.Equal(t, defaultPriority, byLabel["priority"].Value)
	assert.InDelta(t, hashString("other"), byLabel["category_hash"].Value, 1e-12)
	assert.InDelta(t, hashString("unknown"), byLabel["language_hash"].Value, 1e-12)
	assert.Zero(t, byLabel["is_fork"].Value)
}

func TestHashString(t *testing.T) {
	assert.InDelta(t, 0.495, hashString("Agent"), 1e-12)
	assert.Zero(t, hashString(""))
	assert.Equal(t, 1.0, clamp01(hashString(strings.Repeat("z", 20))))
}

func TestSynthesize_EmptyPaletteIsZeroVector(t *testing.T) {
	out := synthesize(nil)
	require.Len(t, out, Dimension)
	for _, v := range out {
		require.Zero(t, v)
	}
}

func TestFormatParse_RoundTrip(t *testing.T) {
	repo := sampleRepo()
	values := Compute(repo, ontology.AnalyzeAt(repo, refNow)).Values

	text := Format(values)
	require.True(t, strings.HasPrefix(text, "["))

	parsed, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, parsed, len(values))
	for i := range values {
		require.InDelta(t, values[i], parsed[i], 1e-6)
	}
}

func TestFormat_NonFiniteBecomesZero(t *testing.T) {
	got := Format([]float32{float32(math.NaN()), float32(math.Inf(1)), 0.5})
	assert.Equal(t, "[0.000000,0.000000,0.500000]", got)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("1,2,3")
	assert.Error(t, err)

	_, err = Parse("[1,abc]")
	assert.Error(t, err)

	_, err = Parse("[1,NaN]")
	assert.Error(t, err)

	got, err := Parse("[]")
	require.NoError(t, err)
	assert.Empty(t, got)
}

