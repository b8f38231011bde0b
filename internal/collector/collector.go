package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kurihiro0119/github-issue-worker/internal/domain"
)

// Collector defines the read-only GitHub surface the ingestion pipeline consumes.
// Every method consults the rate gate before each outbound page.
type Collector interface {
	// ListContributors retrieves the contributors of a repository
	ListContributors(ctx context.Context, owner, repo string) ([]*domain.RemoteUser, error)

	// GetUser retrieves a single user's full profile
	GetUser(ctx context.Context, login string) (*domain.RemoteProfile, error)

	// ListIssues retrieves every issue of a repository, pull requests included
	ListIssues(ctx context.Context, owner, repo string) ([]*domain.RemoteIssue, error)

	// ListIssueEvents retrieves the event stream of one issue
	ListIssueEvents(ctx context.Context, owner, repo string, number int) ([]*domain.RemoteEvent, error)

	// ListIssueComments retrieves the comments of one issue
	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]*domain.RemoteComment, error)
}

// ParseRepoURL extracts owner and name from a repository git URL such as
// https://github.com/owner/name or https://github.com/owner/name.git
func ParseRepoURL(repoGit string) (owner, name string, err error) {
	u, err := url.Parse(strings.TrimSpace(repoGit))
	if err != nil {
		return "", "", fmt.Errorf("invalid repository url %q: %w", repoGit, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository url %q, expected https://host/owner/name", repoGit)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
