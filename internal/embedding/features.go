package embedding

import (
	"math"
	"strings"
	"unicode/utf16"

	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/ontology"
)

// Feature is one normalized scalar fed into the synthesizer.
type Feature struct {
	Label  string
	Value  float64
	Weight float64
	Phase  float64
	Index  int
}

var priorities = map[string]float64{
	"high":   1,
	"medium": 0.5,
	"low":    0.2,
}

const defaultPriority = 0.4

// Features builds the ordered feature palette for a repository and its
// analysis. Labels, weights and order are part of the model identity: changing
// any of them requires bumping Model.
func Features(repo models.Repo, analysis ontology.Analysis) []Feature {
	category := string(analysis.Category)
	if category == "" {
		category = "other"
	}
	language := repo.Language
	if language == "" {
		language = "unknown"
	}
	priority, ok := priorities[strings.ToLower(repo.Priority)]
	if !ok {
		priority = defaultPriority
	}
	isFork := 0.0
	if repo.IsFork {
		isFork = 1
	}

	palette := []Feature{
		{Label: "stars", Value: clamp01(logNormalize(float64(repo.Stars))), Weight: 1.1},
		{Label: "forks", Value: clamp01(logNormalize(float64(repo.Forks))), Weight: 0.95},
		{Label: "watchers", Value: clamp01(logNormalize(float64(repo.Watchers))), Weight: 0.8},
		{Label: "size", Value: clamp01(logNormalize(float64(repo.SizeKB))), Weight: 0.7},
		{Label: "vibe", Value: clamp01(analysis.VibeScore / 100), Weight: 1.0},
		{Label: "complexity", Value: clamp01(float64(analysis.ComplexityScore) / 10), Weight: 0.9},
		{Label: "install", Value: clamp01(float64(analysis.InstallDifficulty) / 10), Weight: 0.6},
		{Label: "debug", Value: clamp01(float64(analysis.DebugTimeHours) / 40), Weight: 0.45},
		{Label: "learning", Value: clamp01(float64(analysis.LearningCurve) / 10), Weight: 0.5},
		{Label: "maintenance", Value: clamp01(float64(analysis.MaintenanceLoad) / 10), Weight: 0.5},
		{Label: "confidence", Value: clamp01(analysis.Confidence / 100), Weight: 0.35},
		{Label: "priority", Value: clamp01(priority), Weight: 0.4},
		{Label: "topic_count", Value: clamp01(float64(len(repo.Topics)) / 20), Weight: 0.35},
		{Label: "category_hash", Value: clamp01(hashString(category)), Weight: 0.3},
		{Label: "language_hash", Value: clamp01(hashString(language)), Weight: 0.3},
		{Label: "is_fork", Value: isFork, Weight: 0.2},
	}
	for _, w := range analysis.Weights {
		palette = append(palette, Feature{
			Label:  "cat_" + string(w.Category),
			Value:  clamp01(float64(w.Weight) / 5),
			Weight: 0.25,
		})
	}

	out := palette[:0]
	for i, f := range palette {
		if !finite(f.Value) {
			continue
		}
		f.Phase = float64(charSum(f.Label)%360) * math.Pi / 180
		f.Index = i
		out = append(out, f)
	}
	return out
}

func logNormalize(v float64) float64 {
	return math.Log10(math.Max(v+1, 1)) / 6
}

// hashString is a deliberately crude, non-semantic spread of a string into
// [0, ~1]. It must stay exactly this formula for vectors to remain comparable.
func hashString(s string) float64 {
	return float64(charSum(s)) / 1000
}

// charSum adds up the UTF-16 code units of s.
func charSum(s string) int {
	sum := 0
	for _, u := range utf16.Encode([]rune(s)) {
		sum += int(u)
	}
	return sum
}

func clamp01(v float64) float64 {
	if !finite(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
