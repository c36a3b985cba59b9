// Package ontology classifies repositories into a fixed set of categories and
// derives heuristic quality scores from their metadata. Everything here is a
// pure function of its input (plus the reference time for activity scores).
package ontology

import (
	"time"

	"github.com/kevinmichaelchen/reporemix/internal/models"
)

// Analysis is the full ontology record persisted for a repository. A new
// Analysis replaces the previous one on every sync; it is never mutated.
type Analysis struct {
	Category          Category         `json:"category"`
	Confidence        float64          `json:"confidence"`
	Reasoning         string           `json:"reasoning"`
	VibeScore         float64          `json:"vibe_score"`
	ComplexityScore   int              `json:"complexity_score"`
	InstallDifficulty int              `json:"install_difficulty"`
	DebugTimeHours    int              `json:"debug_time_hours"`
	LearningCurve     int              `json:"learning_curve"`
	MaintenanceLoad   int              `json:"maintenance_load"`
	Weights           []CategoryWeight `json:"weights"`
}

// Analyze runs every classifier and score against repo using the current time.
func Analyze(repo models.Repo) Analysis {
	return AnalyzeAt(repo, time.Now())
}

// AnalyzeAt is Analyze with an explicit reference time for the activity-based
// scores.
func AnalyzeAt(repo models.Repo, now time.Time) Analysis {
	c := Categorize(repo)
	return Analysis{
		Category:          c.Category,
		Confidence:        c.Confidence,
		Reasoning:         c.Reasoning,
		VibeScore:         VibeScore(repo, now),
		ComplexityScore:   ComplexityScore(repo),
		InstallDifficulty: InstallDifficulty(repo),
		DebugTimeHours:    DebugTimeHours(repo),
		LearningCurve:     LearningCurve(repo),
		MaintenanceLoad:   MaintenanceLoad(repo, now),
		Weights:           c.Weights,
	}
}

