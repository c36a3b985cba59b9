package ontology

import (
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/kevinmichaelchen/reporemix/internal/models"
)

// defaultAgeDays is used when a repository has never been pushed.
const defaultAgeDays = 365

var (
	complexLanguages = []string{"C++", "Rust", "Go", "Java", "Scala", "Haskell"}
	complexKeywords  = []string{"distributed", "microservice", "architecture", "enterprise", "kubernetes", "cluster"}
	systemDeps       = []string{"docker", "kubernetes", "postgres", "mongodb", "redis"}
	advancedTopics   = []string{"machine-learning", "deep-learning", "blockchain", "cryptography", "distributed-systems"}

	languageDifficulty = map[string]int{
		"JavaScript": 2,
		"TypeScript": 2,
		"Python":     2,
		"Go":         4,
		"Rust":       7,
		"C++":        8,
		"C":          8,
		"Java":       5,
		"Swift":      4,
		"Kotlin":     4,
	}
)

// VibeScore combines popularity (log stars, up to 50), recent activity (up to
// 30, decaying one point per ten days since the last push) and fork engagement
// (up to 20). The result is in [0,100] with two decimals.
func VibeScore(repo models.Repo, now time.Time) float64 {
	stars := float64(max(repo.Stars, 0))
	forks := float64(max(repo.Forks, 0))

	popularity := math.Min(50, math.Log10(stars+1)*10)
	activity := math.Max(0, 30-daysSincePush(repo, now)/10)

	var engagement float64
	if stars > 0 {
		engagement = math.Min(20, forks/stars*100)
	}

	score := round2(clamp(popularity+activity+engagement, 0, 100))
	if math.IsNaN(score) {
		return 0
	}
	return score
}

func ComplexityScore(repo models.Repo) int {
	score := 1
	switch {
	case repo.SizeKB > 100000:
		score += 3
	case repo.SizeKB > 50000:
		score += 2
	case repo.SizeKB > 10000:
		score++
	}
	if slices.Contains(complexLanguages, repo.Language) {
		score += 2
	}
	if containsAny(strings.ToLower(repo.Description), complexKeywords) {
		score += 2
	}
	return clampInt(score, 1, 10)
}

func InstallDifficulty(repo models.Repo) int {
	difficulty, ok := languageDifficulty[repo.Language]
	if !ok {
		difficulty = 3
	}
	if containsAny(strings.ToLower(repo.Description), systemDeps) {
		difficulty += 2
	}
	if slices.Contains(repo.Topics, "build-tool") || slices.Contains(repo.Topics, "compiler") {
		difficulty++
	}
	return clampInt(difficulty, 1, 10)
}

// DebugTimeHours scales twice the complexity by the install difficulty
// relative to a midpoint of 5.
func DebugTimeHours(repo models.Repo) int {
	base := float64(ComplexityScore(repo) * 2)
	return int(math.Round(base * float64(InstallDifficulty(repo)) / 5))
}

func LearningCurve(repo models.Repo) int {
	curve := 3
	switch {
	case repo.SizeKB > 50000:
		curve += 2
	case repo.SizeKB > 10000:
		curve++
	}
	// Length is measured in UTF-16 code units, like charSum in embedding.
	if len(utf16.Encode([]rune(repo.Description))) < 50 {
		curve++
	}
	if slices.ContainsFunc(repo.Topics, func(t string) bool { return slices.Contains(advancedTopics, t) }) {
		curve += 3
	}
	return clampInt(curve, 1, 10)
}

func MaintenanceLoad(repo models.Repo, now time.Time) int {
	load := 2
	switch {
	case repo.OpenIssues > 100:
		load += 3
	case repo.OpenIssues > 50:
		load += 2
	case repo.OpenIssues > 10:
		load++
	}
	switch {
	case repo.Watchers > 1000:
		load += 2
	case repo.Watchers > 100:
		load++
	}
	switch days := daysSincePush(repo, now); {
	case days < 7:
		load += 2
	case days < 30:
		load++
	}
	return clampInt(load, 1, 10)
}

func daysSincePush(repo models.Repo, now time.Time) float64 {
	if repo.PushedAt.IsZero() {
		return defaultAgeDays
	}
	return now.Sub(repo.PushedAt).Hours() / 24
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func clampInt(v, lo, hi int) int {
	return min(hi, max(lo, v))
}
