package models

import "time"

// StarTrend is one day of star history across the repositories it covers.
// Each repository contributes its last sample of the day.
type StarTrend struct {
	Date         time.Time `json:"date"`
	TotalStars   int       `json:"total_stars"`
	ReposTracked int       `json:"repos_tracked"`
}

type LanguageStat struct {
	Name          string  `json:"name"`
	RepoCount     int     `json:"repo_count"`
	TotalBytes    int64   `json:"total_bytes"`
	AvgPercentage float64 `json:"avg_percentage"`
}

// CatalogRepo is a stored repository joined with its analysis. Analysis
// fields are zero for a repository that was never classified.
type CatalogRepo struct {
	Repo
	Category          string     `json:"category,omitempty"`
	Confidence        float64    `json:"confidence"`
	VibeScore         float64    `json:"vibe_score"`
	ComplexityScore   int        `json:"complexity_score"`
	InstallDifficulty int        `json:"install_difficulty"`
	DebugTimeHours    int        `json:"debug_time_hours"`
	LearningCurve     int        `json:"learning_curve"`
	MaintenanceLoad   int        `json:"maintenance_load"`
	Languages         []Language `json:"languages"`
	EmbeddingModel    string     `json:"embedding_model,omitempty"`
	Embedding         []float32  `json:"embedding,omitempty"`
}

// RepoPage is one page of a filtered listing. Total counts every row that
// matches the filter, not just this page.
type RepoPage struct {
	Repositories []CatalogRepo `json:"repositories"`
	Total        int           `json:"total"`
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
}
