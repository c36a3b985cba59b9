package models

import "time"

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// SyncJob tracks one sync run for a user. It is created running and moves
// exactly once to completed or failed.
type SyncJob struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Status       JobStatus  `json:"status"`
	TotalRepos   int        `json:"total_repos"`
	ReposSynced  int        `json:"repos_synced"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type User struct {
	ID           string     `json:"id"`
	Login        string     `json:"login"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}
