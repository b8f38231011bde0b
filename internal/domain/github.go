package domain

import "time"

// RemoteUser is a user reference embedded in GitHub payloads
type RemoteUser struct {
	Login string
	ID    int64
}

// RemoteProfile is the full GitHub user profile
type RemoteProfile struct {
	Login             string
	ID                int64
	NodeID            string
	Email             string
	CreatedAt         *time.Time
	URL               string
	HTMLURL           string
	AvatarURL         string
	GravatarID        string
	FollowersURL      string
	FollowingURL      string
	GistsURL          string
	StarredURL        string
	SubscriptionsURL  string
	OrganizationsURL  string
	ReposURL          string
	EventsURL         string
	ReceivedEventsURL string
	Type              string
	SiteAdmin         bool
}

// RemoteLabel is a label attached to a GitHub issue
type RemoteLabel struct {
	Name        string
	Description *string
	Color       string
}

// RemoteIssue is an issue as returned by the GitHub issues endpoint
type RemoteIssue struct {
	ID       int64
	Number   int
	NodeID   string
	Title    string
	Body     string
	State    string
	Comments int

	User      *RemoteUser
	Assignee  *RemoteUser
	Assignees []*RemoteUser
	Labels    []RemoteLabel

	// HasPullRequest is set when the payload carries the pull_request marker
	HasPullRequest bool

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time

	URL           string
	RepositoryURL string
	LabelsURL     string
	CommentsURL   string
	EventsURL     string
	HTMLURL       string
}

// RemoteEvent is an entry of an issue's event stream
type RemoteEvent struct {
	ID        int64
	NodeID    string
	URL       string
	Event     string
	Actor     *RemoteUser
	CommitID  *string
	CreatedAt time.Time
}

// RemoteComment is an issue comment
type RemoteComment struct {
	ID        int64
	Body      string
	User      *RemoteUser
	CreatedAt time.Time
}
