package store

import (
	"fmt"
	"strings"

	"github.com/kevinmichaelchen/reporemix/internal/ontology"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Sort keys accepted by RepoFilter.
const (
	SortName    = "name"
	SortStars   = "stars"
	SortUpdated = "updated"
	SortCreated = "created"
	SortVibe    = "vibe"
)

// RepoFilter narrows a repository listing. Empty fields match everything.
type RepoFilter struct {
	Category string
	Language string
	// Fork filters on the fork flag when set.
	Fork *bool
	// Search matches name or description case-insensitively, or a topic exactly.
	Search string
	Sort   string
	Order  string
	Limit  int
	Offset int
	// WithEmbedding loads each repository's vector into the page.
	WithEmbedding bool
}

// Normalized returns f with an allowed sort key, a lower-case order, and a
// page window clamped to [1, MaxPageSize] from a non-negative offset. Unknown
// sort keys fall back to SortUpdated and unknown orders to descending.
func (f RepoFilter) Normalized() RepoFilter {
	switch f.Sort {
	case SortName, SortStars, SortUpdated, SortCreated, SortVibe:
	default:
		f.Sort = SortUpdated
	}
	if o := strings.ToLower(f.Order); o == "asc" {
		f.Order = "asc"
	} else {
		f.Order = "desc"
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

// Validate rejects a category the classifier never assigns.
func (f RepoFilter) Validate() error {
	if f.Category != "" && !ontology.Category(f.Category).Valid() {
		return fmt.Errorf("unknown category %q", f.Category)
	}
	return nil
}
