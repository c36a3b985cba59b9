package ontology

import (
	"math"
	"strings"

	"github.com/kevinmichaelchen/reporemix/internal/models"
)

type Category string

const (
	Agent          Category = "Agent"
	Foundation     Category = "Foundation"
	Tool           Category = "Tool"
	Knowledge      Category = "Knowledge"
	Infrastructure Category = "Infrastructure"
	UI             Category = "UI"
	Data           Category = "Data"
	Other          Category = "Other"
)

// pattern is one row of the keyword table. The table order is the tie-break
// order, so it must not be re-sorted.
type pattern struct {
	category Category
	keywords []string
}

var patterns = []pattern{
	{Agent, []string{
		"agent", "autonomous", "ai assistant", "chatbot", "llm", "gpt", "claude",
		"multi-agent", "jarvis", "automation", "workflow", "orchestration",
	}},
	{Foundation, []string{
		"framework", "library", "sdk", "core", "base", "platform", "engine",
		"toolkit", "foundation", "infrastructure",
	}},
	{Tool, []string{
		"tool", "cli", "utility", "helper", "converter", "downloader", "scraper",
		"parser", "generator", "optimizer",
	}},
	{Knowledge, []string{
		"awesome", "guide", "tutorial", "documentation", "docs", "learning",
		"resources", "book", "course", "cheatsheet", "examples",
	}},
	{Infrastructure, []string{
		"docker", "kubernetes", "devops", "deployment", "server", "database",
		"monitoring", "logging", "backup", "terraform", "ansible",
	}},
	{UI, []string{
		"ui", "frontend", "react", "vue", "component", "design system",
		"visualization", "dashboard", "interface", "theme",
	}},
	{Data, []string{
		"data", "analytics", "ml", "machine learning", "deep learning", "neural",
		"dataset", "pipeline", "etl", "processing",
	}},
	{Other, nil},
}

// Categories lists every category in declaration order.
func Categories() []Category {
	out := make([]Category, len(patterns))
	for i, p := range patterns {
		out[i] = p.category
	}
	return out
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	for _, p := range patterns {
		if p.category == c {
			return true
		}
	}
	return false
}

// CategoryWeight is the keyword-match count of one category.
type CategoryWeight struct {
	Category Category `json:"category"`
	Weight   int      `json:"weight"`
}

// Categorization is the output of Categorize.
type Categorization struct {
	Category   Category         `json:"category"`
	Confidence float64          `json:"confidence"`
	Reasoning  string           `json:"reasoning"`
	Weights    []CategoryWeight `json:"weights"`
}

// Categorize assigns repo to the category whose keywords appear most often in
// its name, description and topics. Ties go to the earlier category; with no
// matches at all the result is Other with zero confidence.
func Categorize(repo models.Repo) Categorization {
	text := searchText(repo)

	weights := make([]CategoryWeight, len(patterns))
	best, maxWeight, total := 0, 0, 0
	for i, p := range patterns {
		w := 0
		for _, kw := range p.keywords {
			if strings.Contains(text, kw) {
				w++
			}
		}
		weights[i] = CategoryWeight{Category: p.category, Weight: w}
		total += w
		if w > maxWeight {
			best, maxWeight = i, w
		}
	}
	if maxWeight == 0 {
		best = len(patterns) - 1
	}

	var confidence float64
	if total > 0 {
		confidence = round2(float64(maxWeight) / float64(total) * 100)
	}

	return Categorization{
		Category:   patterns[best].category,
		Confidence: confidence,
		Reasoning:  reasoning(repo, text, patterns[best]),
		Weights:    weights,
	}
}

func searchText(repo models.Repo) string {
	return strings.ToLower(repo.Name + " " + repo.Description + " " + strings.Join(repo.Topics, " "))
}

func reasoning(repo models.Repo, text string, p pattern) string {
	var matched []string
	for _, kw := range p.keywords {
		if strings.Contains(text, kw) {
			matched = append(matched, kw)
		}
	}

	var reasons []string
	if len(matched) > 0 {
		reasons = append(reasons, "Contains keywords: "+strings.Join(firstN(matched, 3), ", "))
	}
	if repo.Language != "" {
		reasons = append(reasons, "Primary language: "+repo.Language)
	}
	if len(repo.Topics) > 0 {
		reasons = append(reasons, "Topics: "+strings.Join(firstN(repo.Topics, 3), ", "))
	}
	return strings.Join(reasons, ". ")
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
