package pipeline

import (
	"context"
	"fmt"

	"github.com/kurihiro0119/github-issue-worker/internal/dedup"
	"github.com/kurihiro0119/github-issue-worker/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-worker/internal/errors"
	"github.com/kurihiro0119/github-issue-worker/internal/logger"
)

// processIssue writes one issue and its dependents. Both event and comment streams
// are fetched before the issue row exists: the closer comes from the events, and a
// failed fetch must not leave a half written issue behind.
func (p *Pipeline) processIssue(ctx context.Context, r *run, remote *domain.RemoteIssue) error {
	if remote.User == nil || remote.User.Login == "" {
		return apperrors.NewMalformedResponseError(fmt.Sprintf("issue #%d has no reporter", remote.Number))
	}

	r.enter(StateFetchingEvents, "issue #%d", remote.Number)
	events, err := p.collector.ListIssueEvents(ctx, r.owner, r.name, remote.Number)
	if err != nil {
		return fmt.Errorf("failed to list events of issue #%d: %w", remote.Number, err)
	}

	r.enter(StateFetchingComments, "issue #%d", remote.Number)
	comments, err := p.collector.ListIssueComments(ctx, r.owner, r.name, remote.Number)
	if err != nil {
		return fmt.Errorf("failed to list comments of issue #%d: %w", remote.Number, err)
	}

	reporterID, err := p.resolver.Resolve(ctx, remote.User.Login)
	if err != nil {
		return err
	}
	var closerID *int64
	if remote.ClosedAt != nil {
		if login := closer(events); login != "" {
			id, err := p.resolver.Resolve(ctx, login)
			if err != nil {
				return err
			}
			closerID = &id
		}
	}

	issue := p.newIssue(r.task.RepoID, remote, reporterID, closerID)
	if err := p.store.SaveIssue(ctx, issue); err != nil {
		return err
	}
	logger.Debug("[%s] issue #%d stored as %d", r.id[:8], remote.Number, issue.ID)

	if err := p.writeEvents(ctx, r, issue.ID, events); err != nil {
		return err
	}
	if err := p.writeComments(ctx, r, issue.ID, comments); err != nil {
		return err
	}

	r.enter(StateFetchingLabels, "issue #%d", remote.Number)
	if err := p.writeLabels(ctx, r, issue.ID, remote.Labels); err != nil {
		return err
	}

	r.enter(StateFetchingAssignees, "issue #%d", remote.Number)
	if err := p.writeAssignees(ctx, r, issue.ID, remote); err != nil {
		return err
	}

	r.enter(StateCommitted, "issue #%d as issue_id %d", remote.Number, issue.ID)
	return nil
}

// closer returns the actor of the last "closed" event, or "" when there is none
func closer(events []*domain.RemoteEvent) string {
	login := ""
	for _, e := range events {
		if e.Event == "closed" && e.Actor != nil && e.Actor.Login != "" {
			login = e.Actor.Login
		}
	}
	return login
}

func (p *Pipeline) newIssue(repoID int64, remote *domain.RemoteIssue, reporterID int64, closerID *int64) *domain.Issue {
	issue := &domain.Issue{
		ID:            p.keys.NextIssue(),
		RepoID:        repoID,
		ReporterID:    reporterID,
		CloserID:      closerID,
		Title:         remote.Title,
		Body:          remote.Body,
		State:         remote.State,
		CommentCount:  remote.Comments,
		CreatedAt:     remote.CreatedAt,
		UpdatedAt:     remote.UpdatedAt,
		ClosedAt:      remote.ClosedAt,
		GHIssueID:     remote.ID,
		GHIssueNumber: remote.Number,
		GHUserID:      remote.User.ID,
		NodeID:        remote.NodeID,
		RepositoryURL: remote.RepositoryURL,
		IssueURL:      remote.URL,
		LabelsURL:     remote.LabelsURL,
		CommentsURL:   remote.CommentsURL,
		EventsURL:     remote.EventsURL,
		HTMLURL:       remote.HTMLURL,
		Provenance:    p.provenance,
	}
	// A pull request is reported through the issues endpoint with a marker field. Its
	// pull request columns point back at the issue row itself.
	if remote.HasPullRequest {
		pr := issue.ID
		prID := issue.ID
		issue.PullRequest = &pr
		issue.PullRequestID = &prID
	}
	return issue
}

// skip drops one record and keeps the batch going, unless the error ends the task
func skip(r *run, what string, err error) error {
	if aborts(err) {
		return err
	}
	r.summary.RecordsSkipped++
	logger.Warn("[%s] skipping %s: %v", r.id[:8], what, err)
	return nil
}

func (p *Pipeline) writeEvents(ctx context.Context, r *run, issueID int64, events []*domain.RemoteEvent) error {
	filtered, err := dedup.Filter(ctx, p.store, eventIdentity, events)
	if err != nil {
		return err
	}
	r.summary.RecordsSkipped += filtered.Skipped

	for _, e := range filtered.Insert {
		if e.Actor == nil || e.Actor.Login == "" {
			if err := skip(r, "event "+e.NodeID, apperrors.NewMalformedResponseError("event has no actor")); err != nil {
				return err
			}
			continue
		}
		actorID, err := p.resolver.Resolve(ctx, e.Actor.Login)
		if err != nil {
			if err := skip(r, "event "+e.NodeID, err); err != nil {
				return err
			}
			continue
		}
		if err := p.store.SaveIssueEvent(ctx, &domain.IssueEvent{
			IssueID:       issueID,
			NodeID:        e.NodeID,
			NodeURL:       e.URL,
			ContributorID: actorID,
			Action:        e.Event,
			CommitHash:    e.CommitID,
			CreatedAt:     e.CreatedAt,
			Provenance:    p.provenance,
		}); err != nil {
			return err
		}
		r.summary.Events++
	}
	return nil
}

func (p *Pipeline) writeComments(ctx context.Context, r *run, issueID int64, comments []*domain.RemoteComment) error {
	filtered, err := dedup.Filter(ctx, p.store, commentIdentity, comments)
	if err != nil {
		return err
	}
	r.summary.RecordsSkipped += filtered.Skipped

	for _, c := range filtered.Insert {
		what := fmt.Sprintf("comment %d", c.ID)
		if c.User == nil || c.User.Login == "" {
			if err := skip(r, what, apperrors.NewMalformedResponseError("comment has no author")); err != nil {
				return err
			}
			continue
		}
		authorID, err := p.resolver.Resolve(ctx, c.User.Login)
		if err != nil {
			if err := skip(r, what, err); err != nil {
				return err
			}
			continue
		}

		msg := &domain.Message{
			ID:            p.keys.NextMessage(),
			PlatformID:    p.platformID,
			PlatformMsgID: c.ID,
			Text:          c.Body,
			Timestamp:     c.CreatedAt,
			ContributorID: authorID,
			Provenance:    p.provenance,
		}
		ref := &domain.IssueMessageRef{IssueID: issueID, MsgID: msg.ID, Provenance: p.provenance}
		if err := p.store.SaveMessage(ctx, msg, ref); err != nil {
			return err
		}
		r.summary.Messages++
	}
	return nil
}

func (p *Pipeline) writeLabels(ctx context.Context, r *run, issueID int64, labels []domain.RemoteLabel) error {
	candidates := make([]*domain.IssueLabel, 0, len(labels))
	for _, l := range labels {
		candidates = append(candidates, &domain.IssueLabel{
			IssueID:     issueID,
			Text:        l.Name,
			Description: l.Description,
			Color:       l.Color,
			Provenance:  p.provenance,
		})
	}

	filtered, err := dedup.Filter(ctx, p.store, labelIdentity, candidates)
	if err != nil {
		return err
	}
	r.summary.RecordsSkipped += filtered.Skipped

	for _, l := range filtered.Insert {
		if err := p.store.SaveIssueLabel(ctx, l); err != nil {
			return err
		}
		r.summary.Labels++
	}
	return nil
}

// mergeAssignees combines the plural and singular assignee fields into one list of
// logins, in that order, without repeats
func mergeAssignees(remote *domain.RemoteIssue) []string {
	seen := make(map[string]bool)
	var logins []string
	add := func(u *domain.RemoteUser) {
		if u == nil || u.Login == "" || seen[u.Login] {
			return
		}
		seen[u.Login] = true
		logins = append(logins, u.Login)
	}
	for _, u := range remote.Assignees {
		add(u)
	}
	add(remote.Assignee)
	return logins
}

func (p *Pipeline) writeAssignees(ctx context.Context, r *run, issueID int64, remote *domain.RemoteIssue) error {
	logins := mergeAssignees(remote)
	if len(logins) == 0 {
		return nil
	}

	candidates := make([]*domain.IssueAssignee, 0, len(logins))
	for _, login := range logins {
		id, err := p.resolver.Resolve(ctx, login)
		if err != nil {
			if err := skip(r, "assignee "+login, err); err != nil {
				return err
			}
			continue
		}
		candidates = append(candidates, &domain.IssueAssignee{IssueID: issueID, ContributorID: id, Provenance: p.provenance})
	}

	filtered, err := dedup.Filter(ctx, p.store, assigneeIdentity, candidates)
	if err != nil {
		return err
	}

	for _, a := range filtered.Insert {
		if err := p.store.SaveIssueAssignee(ctx, a); err != nil {
			return err
		}
		r.summary.Assignees++
	}
	return nil
}
