package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/github-issue-worker/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-worker/internal/errors"
)

const (
	headerRateLimit     = "X-RateLimit-Limit"
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"

	perPage = 100
)

// GitHubCollector implements Collector using the GitHub REST API
type GitHubCollector struct {
	client *github.Client
	gate   *RateGate
}

// NewGitHubCollector creates a new GitHub collector. An empty token makes
// unauthenticated calls.
func NewGitHubCollector(token string, gateOpts ...GateOption) *GitHubCollector {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		hc = oauth2.NewClient(context.Background(), ts)
		hc.Timeout = 30 * time.Second
	}
	return NewGitHubCollectorWithClient(github.NewClient(hc), gateOpts...)
}

// NewGitHubCollectorWithClient wraps an existing go-github client
func NewGitHubCollectorWithClient(client *github.Client, gateOpts ...GateOption) *GitHubCollector {
	c := &GitHubCollector{client: client}
	c.gate = NewRateGate(c, gateOpts...)
	return c
}

// Gate returns the rate gate every call goes through
func (c *GitHubCollector) Gate() *RateGate {
	return c.gate
}

// FetchQuota implements QuotaSource. The rate_limit endpoint does not count
// against the quota, so it is not gated.
func (c *GitHubCollector) FetchQuota(ctx context.Context) (Quota, error) {
	req, err := c.client.NewRequest(http.MethodGet, "rate_limit", nil)
	if err != nil {
		return Quota{}, err
	}

	resp, err := c.client.Do(ctx, req, nil)
	if err != nil {
		var rle *github.RateLimitError
		if errors.As(err, &rle) {
			return Quota{
				Limit:     rle.Rate.Limit,
				Remaining: rle.Rate.Remaining,
				Reset:     rle.Rate.Reset.Time,
			}, nil
		}
		return Quota{}, fmt.Errorf("failed to fetch rate limit: %w", err)
	}

	return quotaFromHeaders(resp.Header)
}

// quotaFromHeaders reads the rate headers. The reset header is an absolute Unix
// time; a value that does not parse is a configuration problem, not a transient one.
func quotaFromHeaders(h http.Header) (Quota, error) {
	var q Quota
	var err error

	if q.Limit, err = strconv.Atoi(h.Get(headerRateLimit)); err != nil {
		return Quota{}, apperrors.NewConfigError("unreadable "+headerRateLimit+" header", err)
	}
	if q.Remaining, err = strconv.Atoi(h.Get(headerRateRemaining)); err != nil {
		return Quota{}, apperrors.NewConfigError("unreadable "+headerRateRemaining+" header", err)
	}
	reset, err := strconv.ParseInt(h.Get(headerRateReset), 10, 64)
	if err != nil {
		return Quota{}, apperrors.NewConfigError("unreadable "+headerRateReset+" header", err)
	}
	q.Reset = time.Unix(reset, 0)
	return q, nil
}

// observe updates the gate from API response headers
func (c *GitHubCollector) observe(resp *github.Response) {
	if resp == nil || resp.Response == nil || resp.Header.Get(headerRateRemaining) == "" {
		return
	}
	c.gate.Observe(resp.Rate.Limit, resp.Rate.Remaining, resp.Rate.Reset.Time)
}

// ListContributors retrieves the contributors of a repository
func (c *GitHubCollector) ListContributors(ctx context.Context, owner, repo string) ([]*domain.RemoteUser, error) {
	var all []*domain.RemoteUser
	opts := &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		if err := c.gate.Consume(ctx); err != nil {
			return nil, err
		}

		contributors, resp, err := c.client.Repositories.ListContributors(ctx, owner, repo, opts)
		c.observe(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to list contributors for %s/%s: %w", owner, repo, err)
		}

		for _, contributor := range contributors {
			all = append(all, &domain.RemoteUser{
				Login: contributor.GetLogin(),
				ID:    contributor.GetID(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// GetUser retrieves a single user's full profile
func (c *GitHubCollector) GetUser(ctx context.Context, login string) (*domain.RemoteProfile, error) {
	if err := c.gate.Consume(ctx); err != nil {
		return nil, err
	}

	user, resp, err := c.client.Users.Get(ctx, login)
	c.observe(resp)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, apperrors.NewNotFoundError("user " + login)
		}
		return nil, fmt.Errorf("failed to get user %s: %w", login, err)
	}
	if user.GetLogin() == "" {
		return nil, apperrors.NewMalformedResponseError("user " + login + " has no login")
	}

	return convertUser(user), nil
}

// ListIssues retrieves every issue of a repository, pull requests included
func (c *GitHubCollector) ListIssues(ctx context.Context, owner, repo string) ([]*domain.RemoteIssue, error) {
	var all []*domain.RemoteIssue
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "asc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		if err := c.gate.Consume(ctx); err != nil {
			return nil, err
		}

		issues, resp, err := c.client.Issues.ListByRepo(ctx, owner, repo, opts)
		c.observe(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues for %s/%s: %w", owner, repo, err)
		}

		for _, issue := range issues {
			all = append(all, convertIssue(issue))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// issueEvent is decoded directly because the event's node_id is the key we
// deduplicate on
type issueEvent struct {
	ID        int64            `json:"id"`
	NodeID    string           `json:"node_id"`
	URL       string           `json:"url"`
	Actor     *github.User     `json:"actor"`
	Event     string           `json:"event"`
	CommitID  *string          `json:"commit_id"`
	CreatedAt github.Timestamp `json:"created_at"`
}

// ListIssueEvents retrieves the event stream of one issue
func (c *GitHubCollector) ListIssueEvents(ctx context.Context, owner, repo string, number int) ([]*domain.RemoteEvent, error) {
	var all []*domain.RemoteEvent
	page := 1

	for {
		if err := c.gate.Consume(ctx); err != nil {
			return nil, err
		}

		u := fmt.Sprintf("repos/%s/%s/issues/%d/events?per_page=%d&page=%d", owner, repo, number, perPage, page)
		req, err := c.client.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}

		var events []*issueEvent
		resp, err := c.client.Do(ctx, req, &events)
		c.observe(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to list events for %s/%s#%d: %w", owner, repo, number, err)
		}

		for _, e := range events {
			event := &domain.RemoteEvent{
				ID:        e.ID,
				NodeID:    e.NodeID,
				URL:       e.URL,
				Event:     e.Event,
				CommitID:  e.CommitID,
				CreatedAt: e.CreatedAt.Time,
			}
			if e.Actor != nil {
				event.Actor = &domain.RemoteUser{Login: e.Actor.GetLogin(), ID: e.Actor.GetID()}
			}
			all = append(all, event)
		}

		if resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}

	return all, nil
}

// ListIssueComments retrieves the comments of one issue
func (c *GitHubCollector) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]*domain.RemoteComment, error) {
	var all []*domain.RemoteComment
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		if err := c.gate.Consume(ctx); err != nil {
			return nil, err
		}

		comments, resp, err := c.client.Issues.ListComments(ctx, owner, repo, number, opts)
		c.observe(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments for %s/%s#%d: %w", owner, repo, number, err)
		}

		for _, comment := range comments {
			all = append(all, &domain.RemoteComment{
				ID:        comment.GetID(),
				Body:      comment.GetBody(),
				User:      convertUserRef(comment.User),
				CreatedAt: comment.GetCreatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

func convertUserRef(u *github.User) *domain.RemoteUser {
	if u == nil {
		return nil
	}
	return &domain.RemoteUser{Login: u.GetLogin(), ID: u.GetID()}
}

func convertUser(u *github.User) *domain.RemoteProfile {
	p := &domain.RemoteProfile{
		Login:             u.GetLogin(),
		ID:                u.GetID(),
		NodeID:            u.GetNodeID(),
		Email:             u.GetEmail(),
		URL:               u.GetURL(),
		HTMLURL:           u.GetHTMLURL(),
		AvatarURL:         u.GetAvatarURL(),
		GravatarID:        u.GetGravatarID(),
		FollowersURL:      u.GetFollowersURL(),
		FollowingURL:      u.GetFollowingURL(),
		GistsURL:          u.GetGistsURL(),
		StarredURL:        u.GetStarredURL(),
		SubscriptionsURL:  u.GetSubscriptionsURL(),
		OrganizationsURL:  u.GetOrganizationsURL(),
		ReposURL:          u.GetReposURL(),
		EventsURL:         u.GetEventsURL(),
		ReceivedEventsURL: u.GetReceivedEventsURL(),
		Type:              u.GetType(),
		SiteAdmin:         u.GetSiteAdmin(),
	}
	if u.CreatedAt != nil {
		t := u.CreatedAt.Time
		p.CreatedAt = &t
	}
	return p
}

func convertIssue(issue *github.Issue) *domain.RemoteIssue {
	ri := &domain.RemoteIssue{
		ID:             issue.GetID(),
		Number:         issue.GetNumber(),
		NodeID:         issue.GetNodeID(),
		Title:          issue.GetTitle(),
		Body:           issue.GetBody(),
		State:          issue.GetState(),
		Comments:       issue.GetComments(),
		User:           convertUserRef(issue.User),
		Assignee:       convertUserRef(issue.Assignee),
		HasPullRequest: issue.IsPullRequest(),
		CreatedAt:      issue.GetCreatedAt().Time,
		UpdatedAt:      issue.GetUpdatedAt().Time,
		URL:            issue.GetURL(),
		RepositoryURL:  issue.GetRepositoryURL(),
		LabelsURL:      issue.GetLabelsURL(),
		CommentsURL:    issue.GetCommentsURL(),
		EventsURL:      issue.GetEventsURL(),
		HTMLURL:        issue.GetHTMLURL(),
	}
	if issue.ClosedAt != nil {
		t := issue.ClosedAt.Time
		ri.ClosedAt = &t
	}
	for _, a := range issue.Assignees {
		if a != nil {
			ri.Assignees = append(ri.Assignees, convertUserRef(a))
		}
	}
	for _, l := range issue.Labels {
		if l == nil {
			continue
		}
		ri.Labels = append(ri.Labels, domain.RemoteLabel{
			Name:        l.GetName(),
			Description: l.Description,
			Color:       l.GetColor(),
		})
	}
	return ri
}
