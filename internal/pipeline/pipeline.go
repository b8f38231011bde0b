// Package pipeline ingests one repository task: contributors first, then each issue
// together with its events, comments, labels and assignees.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kurihiro0119/github-issue-worker/internal/collector"
	"github.com/kurihiro0119/github-issue-worker/internal/dedup"
	"github.com/kurihiro0119/github-issue-worker/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-worker/internal/errors"
	"github.com/kurihiro0119/github-issue-worker/internal/logger"
	"github.com/kurihiro0119/github-issue-worker/internal/storage"
)

// State names a step of repository ingestion
type State string

const (
	StateFetchingContributors State = "FetchingContributors"
	StateFetchingIssues       State = "FetchingIssues"
	StateFetchingEvents       State = "FetchingEvents"
	StateFetchingComments     State = "FetchingComments"
	StateFetchingLabels       State = "FetchingLabels"
	StateFetchingAssignees    State = "FetchingAssignees"
	StateCommitted            State = "Committed"
	StateTaskComplete         State = "TaskComplete"
)

// DefaultPlatformID is the pltfrm_id stamped on messages
const DefaultPlatformID int64 = 25150

// Resolver maps a login to a contributor id, creating the contributor if needed
type Resolver interface {
	Resolve(ctx context.Context, login string) (int64, error)
}

// IssueKeys hands out issue and message ids
type IssueKeys interface {
	NextIssue() int64
	NextMessage() int64
}

// Notifier is told when an issue of a task has been fully processed
type Notifier interface {
	NotifyCompleted(ctx context.Context, task *domain.RepositoryTask) error
}

// Config holds the collaborators of a Pipeline
type Config struct {
	Collector  collector.Collector
	Store      storage.Storage
	Resolver   Resolver
	Keys       IssueKeys
	Notifier   Notifier
	Provenance domain.Provenance
	PlatformID int64
}

// Pipeline processes repository tasks. It owns no global state, so several pipelines
// can run side by side against different stores.
type Pipeline struct {
	collector  collector.Collector
	store      storage.Storage
	resolver   Resolver
	keys       IssueKeys
	notifier   Notifier
	provenance domain.Provenance
	platformID int64
}

// New creates a new pipeline
func New(cfg Config) *Pipeline {
	platformID := cfg.PlatformID
	if platformID == 0 {
		platformID = DefaultPlatformID
	}
	return &Pipeline{
		collector:  cfg.Collector,
		store:      cfg.Store,
		resolver:   cfg.Resolver,
		keys:       cfg.Keys,
		notifier:   cfg.Notifier,
		provenance: cfg.Provenance,
		platformID: platformID,
	}
}

// Summary counts what one ProcessRepository call did
type Summary struct {
	RunID   string `json:"run_id"`
	RepoID  int64  `json:"repo_id"`
	RepoGit string `json:"repo_git"`

	Contributors  int `json:"contributors"`
	Issues        int `json:"issues"`
	Events        int `json:"events"`
	Messages      int `json:"messages"`
	Labels        int `json:"labels"`
	Assignees     int `json:"assignees"`
	Notifications int `json:"notifications"`

	// IssuesSkipped were already stored; IssuesMalformed lacked a required field;
	// IssuesFailed were aborted part way
	IssuesSkipped   int `json:"issues_skipped"`
	IssuesMalformed int `json:"issues_malformed"`
	IssuesFailed    int `json:"issues_failed"`
	// RecordsSkipped were dropped for a missing key or bad payload, or failed to resolve
	RecordsSkipped int `json:"records_skipped"`
}

// run carries the state of one task through the pipeline
type run struct {
	id      string
	task    *domain.RepositoryTask
	owner   string
	name    string
	summary *Summary
}

func (r *run) enter(state State, format string, args ...any) {
	logger.Info("[%s] %s %s: %s", r.id[:8], r.task.RepoGit, state, fmt.Sprintf(format, args...))
}

// ProcessRepository ingests every new issue of a repository. A failure confined to
// one issue is logged and the next issue proceeds; a rejected store write aborts the
// task, and fatal errors are returned for the worker to stop on. The summary is
// returned in every case.
func (p *Pipeline) ProcessRepository(ctx context.Context, task *domain.RepositoryTask) (*Summary, error) {
	if task == nil {
		return nil, apperrors.NewBadRequestError("nil task")
	}
	summary := &Summary{RunID: uuid.NewString(), RepoID: task.RepoID, RepoGit: task.RepoGit}

	owner, name, err := collector.ParseRepoURL(task.RepoGit)
	if err != nil {
		return summary, apperrors.NewBadRequestError(err.Error())
	}
	r := &run{id: summary.RunID, task: task, owner: owner, name: name, summary: summary}

	r.enter(StateFetchingContributors, "listing contributors of %s/%s", owner, name)
	if err := p.collectContributors(ctx, r); err != nil {
		return summary, err
	}

	r.enter(StateFetchingIssues, "listing issues")
	remote, err := p.collector.ListIssues(ctx, owner, name)
	if err != nil {
		return summary, fmt.Errorf("failed to list issues: %w", err)
	}
	filtered, err := dedup.Filter(ctx, p.store, issueIdentity(task.RepoID), remote)
	if err != nil {
		return summary, err
	}
	summary.IssuesSkipped = filtered.Present
	summary.RecordsSkipped += filtered.Skipped
	logger.Info("[%s] %d issues listed, %d new", r.id[:8], len(remote), len(filtered.Insert))

	for _, issue := range filtered.Insert {
		if err := p.processIssue(ctx, r, issue); err != nil {
			if aborts(err) {
				logger.Error("[%s] aborting task at issue #%d: %v", r.id[:8], issue.Number, err)
				return summary, err
			}
			if apperrors.IsMalformedResponse(err) {
				summary.IssuesMalformed++
			} else {
				summary.IssuesFailed++
			}
			logger.Warn("[%s] skipping issue #%d: %v", r.id[:8], issue.Number, err)
			continue
		}
		summary.Issues++

		if p.notifier != nil {
			if err := p.notifier.NotifyCompleted(ctx, task); err != nil {
				logger.Warn("[%s] completion notification failed: %v", r.id[:8], err)
			} else {
				summary.Notifications++
			}
		}
	}

	r.enter(StateTaskComplete, "%d issues written, %d already stored, %d malformed, %d failed",
		summary.Issues, summary.IssuesSkipped, summary.IssuesMalformed, summary.IssuesFailed)
	return summary, nil
}

// aborts reports errors that end the whole task rather than one issue
func aborts(err error) bool {
	return apperrors.IsStoreWriteFailed(err) || apperrors.IsFatal(err)
}

func (p *Pipeline) collectContributors(ctx context.Context, r *run) error {
	users, err := p.collector.ListContributors(ctx, r.owner, r.name)
	if err != nil {
		if aborts(err) {
			return err
		}
		// Contributors are also created lazily from issues, so a failed listing only
		// costs the up-front pass.
		logger.Warn("[%s] failed to list contributors: %v", r.id[:8], err)
		return nil
	}

	filtered, err := dedup.Filter(ctx, p.store, contributorIdentity, users)
	if err != nil {
		return err
	}
	r.summary.RecordsSkipped += filtered.Skipped

	for _, u := range filtered.Insert {
		if _, err := p.resolver.Resolve(ctx, u.Login); err != nil {
			if aborts(err) {
				return err
			}
			r.summary.RecordsSkipped++
			logger.Warn("[%s] %v", r.id[:8], err)
			continue
		}
		r.summary.Contributors++
	}
	return nil
}
