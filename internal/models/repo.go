package models

import "time"

// Repo is the repository metadata fetched from GitHub. It is read-only to the
// analysis pipeline; zero values stand in for anything GitHub did not return.
type Repo struct {
	GitHubID      int64     `json:"github_id"`
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Description   string    `json:"description"`
	URL           string    `json:"url"`
	HomepageURL   string    `json:"homepage_url"`
	CloneURL      string    `json:"clone_url"`
	SSHURL        string    `json:"ssh_url"`
	DefaultBranch string    `json:"default_branch"`
	License       string    `json:"license"`
	Language      string    `json:"language"`
	Topics        []string  `json:"topics"`
	Stars         int       `json:"stars"`
	Forks         int       `json:"forks_count"`
	Watchers      int       `json:"watchers"`
	OpenIssues    int       `json:"open_issues"`
	SizeKB        int       `json:"size_kb"`
	IsFork        bool      `json:"is_fork"`
	IsPrivate     bool      `json:"is_private"`
	IsOwner       bool      `json:"is_owner"`
	CanPush       bool      `json:"can_push"`
	ParentRepo    string    `json:"parent_repo"`
	SourceRepo    string    `json:"source_repo"`
	HasIssues     bool      `json:"has_issues"`
	HasWiki       bool      `json:"has_wiki"`
	HasPages      bool      `json:"has_pages"`
	Archived      bool      `json:"archived"`
	Disabled      bool      `json:"disabled"`
	Priority      string    `json:"priority"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	PushedAt      time.Time `json:"pushed_at"`
}

// WithTopics returns a copy of r carrying the given topics. A nil slice is
// normalized to an empty one.
func (r Repo) WithTopics(topics []string) Repo {
	if topics == nil {
		topics = []string{}
	}
	r.Topics = topics
	return r
}

// Language is one row of a repository's language breakdown.
type Language struct {
	Name       string  `json:"name"`
	Bytes      int64   `json:"bytes"`
	Percentage float64 `json:"percentage"`
}

// Neighbor is a repository returned by a similarity query.
type Neighbor struct {
	FullName    string  `json:"full_name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Stars       int     `json:"stars"`
	URL         string  `json:"url"`
	Score       float64 `json:"score"`
}

// Stats is the catalog overview for one user.
type Stats struct {
	Total      int     `json:"total_repos"`
	Forks      int     `json:"total_forks"`
	TotalStars int     `json:"total_stars"`
	Languages  int     `json:"languages_count"`
	Analyzed   int     `json:"analyzed"`
	Embedded   int     `json:"embedded"`
	AvgVibe    float64 `json:"avg_vibe_score"`
}

type CategoryCount struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	AvgVibe  float64 `json:"avg_vibe_score"`
}
