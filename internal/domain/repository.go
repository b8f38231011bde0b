package domain

// RepositoryTask is a unit of work for the collector: one repository to ingest
type RepositoryTask struct {
	RepoGit string `json:"repo_git"`
	RepoID  int64  `json:"repo_id"`

	// Given echoes the broker's "given" block when the task came from a registration call
	Given map[string]string `json:"given,omitempty"`
}

// CompletedTask is the notification sent to the broker after an issue is processed
type CompletedTask struct {
	RepositoryTask
	WorkerID string `json:"worker_id"`
}

// RepositoryStats summarizes what has been ingested for a repository
type RepositoryStats struct {
	RepoID    int64  `json:"repo_id"`
	RepoGit   string `json:"repo_git"`
	Issues    int64  `json:"issues"`
	Messages  int64  `json:"messages"`
	Events    int64  `json:"events"`
	Labels    int64  `json:"labels"`
	Assignees int64  `json:"assignees"`
}

// Provenance is stamped on every row written by the collector
type Provenance struct {
	ToolSource  string
	ToolVersion string
	DataSource  string
}
