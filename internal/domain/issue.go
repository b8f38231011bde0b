package domain

import "time"

// Issue represents a row in the issues table
type Issue struct {
	ID            int64
	RepoID        int64
	ReporterID    int64
	CloserID      *int64
	PullRequest   *int64
	PullRequestID *int64

	Title        string
	Body         string
	State        string
	CommentCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time

	GHIssueID     int64
	GHIssueNumber int
	GHUserID      int64
	NodeID        string

	RepositoryURL string
	IssueURL      string
	LabelsURL     string
	CommentsURL   string
	EventsURL     string
	HTMLURL       string

	Provenance
}

// IssueLabel represents a row in the issue_labels table
type IssueLabel struct {
	IssueID     int64
	Text        string
	Description *string
	Color       string

	Provenance
}

// IssueAssignee represents a row in the issue_assignees table
type IssueAssignee struct {
	IssueID       int64
	ContributorID int64

	Provenance
}

// IssueEvent represents a row in the issue_events table
type IssueEvent struct {
	IssueID       int64
	NodeID        string
	NodeURL       string
	ContributorID int64
	Action        string
	CommitHash    *string
	CreatedAt     time.Time

	Provenance
}

// Message represents a row in the message table (an issue comment)
type Message struct {
	ID            int64
	PlatformID    int64
	PlatformMsgID int64
	Text          string
	Timestamp     time.Time
	ContributorID int64

	Provenance
}

// IssueMessageRef joins a message to the issue it was posted on
type IssueMessageRef struct {
	IssueID int64
	MsgID   int64

	Provenance
}

// KeySeeds holds the current maximum surrogate keys found in the store.
// A nil field means the table is empty.
type KeySeeds struct {
	IssueID       *int64
	ContributorID *int64
	MsgID         *int64
}
