// Package memory is an in-process Storage. It enforces the same uniqueness and
// foreign-key rules as the SQL schemas, so it can stand in for a database in dry
// runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/kurihiro0119/github-issue-worker/internal/dedup"
	"github.com/kurihiro0119/github-issue-worker/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-worker/internal/errors"
	"github.com/kurihiro0119/github-issue-worker/internal/storage"
)

// Write records one accepted insert, in commit order
type Write struct {
	Table string
	Key   int64
}

// Storage implements storage.Storage in memory
type Storage struct {
	mu sync.RWMutex

	repos        map[int64]*domain.RepositoryTask
	nextRepoID   int64
	contributors map[int64]*domain.Contributor
	logins       map[string]int64
	issues       map[int64]*domain.Issue
	events       []*domain.IssueEvent
	labels       []*domain.IssueLabel
	assignees    []*domain.IssueAssignee
	messages     map[int64]*domain.Message
	refs         []*domain.IssueMessageRef

	keys   *dedup.Index
	writes []Write

	// FailOn makes inserts into the named table fail, for exercising error paths
	FailOn map[string]error
	// FailReads makes reads of the named table fail
	FailReads map[string]error
}

var _ storage.Storage = (*Storage)(nil)

// New creates an empty in-memory store
func New() *Storage {
	return &Storage{
		repos:        make(map[int64]*domain.RepositoryTask),
		nextRepoID:   1,
		contributors: make(map[int64]*domain.Contributor),
		logins:       make(map[string]int64),
		issues:       make(map[int64]*domain.Issue),
		messages:     make(map[int64]*domain.Message),
		keys:         dedup.NewIndex(),
		FailOn:       make(map[string]error),
		FailReads:    make(map[string]error),
	}
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func (s *Storage) fail(table string) error {
	if err, ok := s.FailOn[table]; ok {
		return apperrors.NewStoreWriteError(table, err)
	}
	return nil
}

func (s *Storage) hasContributor(cntrbID int64) bool {
	_, ok := s.contributors[cntrbID]
	return ok
}

func violation(table, format string, args ...any) error {
	return apperrors.NewStoreWriteError(table, fmt.Errorf(format, args...))
}

// Migrate is a no-op
func (s *Storage) Migrate(context.Context) error { return nil }

// Close is a no-op
func (s *Storage) Close() error { return nil }

// SaveRepository registers a repository, returning the existing row if it is known
func (s *Storage) SaveRepository(_ context.Context, repoGit string) (*domain.RepositoryTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.repos {
		if r.RepoGit == repoGit {
			cp := *r
			return &cp, nil
		}
	}
	r := &domain.RepositoryTask{RepoGit: repoGit, RepoID: s.nextRepoID}
	s.repos[r.RepoID] = r
	s.nextRepoID++
	s.writes = append(s.writes, Write{Table: "repo", Key: r.RepoID})

	cp := *r
	return &cp, nil
}

// AddRepository registers a repository under a known id, as a broker-managed store
// would already hold it
func (s *Storage) AddRepository(task *domain.RepositoryTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *task
	s.repos[task.RepoID] = &cp
	if task.RepoID >= s.nextRepoID {
		s.nextRepoID = task.RepoID + 1
	}
}

// GetRepositories returns every repository, in id order
func (s *Storage) GetRepositories(context.Context) ([]*domain.RepositoryTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.FailReads["repo"]; err != nil {
		return nil, fmt.Errorf("failed to query repositories: %w", err)
	}

	out := make([]*domain.RepositoryTask, 0, len(s.repos))
	for _, r := range s.repos {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepoID < out[j].RepoID })
	return out, nil
}

// GetRepositoryByGitURL looks a repository up by its git URL
func (s *Storage) GetRepositoryByGitURL(_ context.Context, repoGit string) (*domain.RepositoryTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.repos {
		if r.RepoGit == repoGit {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperrors.NewNotFoundError("repository " + repoGit)
}

// GetRepositoryStats counts the rows ingested for each repository
func (s *Storage) GetRepositoryStats(ctx context.Context) ([]*domain.RepositoryStats, error) {
	repos, err := s.GetRepositories(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	byRepo := make(map[int64]*domain.RepositoryStats, len(repos))
	out := make([]*domain.RepositoryStats, 0, len(repos))
	for _, r := range repos {
		st := &domain.RepositoryStats{RepoID: r.RepoID, RepoGit: r.RepoGit}
		byRepo[r.RepoID] = st
		out = append(out, st)
	}
	repoOf := func(issueID int64) *domain.RepositoryStats {
		if issue, ok := s.issues[issueID]; ok {
			return byRepo[issue.RepoID]
		}
		return nil
	}

	for _, issue := range s.issues {
		if st := byRepo[issue.RepoID]; st != nil {
			st.Issues++
		}
	}
	for _, ref := range s.refs {
		if st := repoOf(ref.IssueID); st != nil {
			st.Messages++
		}
	}
	for _, e := range s.events {
		if st := repoOf(e.IssueID); st != nil {
			st.Events++
		}
	}
	for _, l := range s.labels {
		if st := repoOf(l.IssueID); st != nil {
			st.Labels++
		}
	}
	for _, a := range s.assignees {
		if st := repoOf(a.IssueID); st != nil {
			st.Assignees++
		}
	}
	return out, nil
}

// GetMaxIDs returns the largest issue, contributor and message ids
func (s *Storage) GetMaxIDs(context.Context) (*domain.KeySeeds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seeds := &domain.KeySeeds{}
	for k := range s.issues {
		if seeds.IssueID == nil || k > *seeds.IssueID {
			v := k
			seeds.IssueID = &v
		}
	}
	for k := range s.contributors {
		if seeds.ContributorID == nil || k > *seeds.ContributorID {
			v := k
			seeds.ContributorID = &v
		}
	}
	for k := range s.messages {
		if seeds.MsgID == nil || k > *seeds.MsgID {
			v := k
			seeds.MsgID = &v
		}
	}
	return seeds, nil
}

// ExistingKeys returns the stored values of identity columns
func (s *Storage) ExistingKeys(ctx context.Context, table string, columns []string) ([][]string, error) {
	if err := storage.ValidateIdentity(table, columns); err != nil {
		return nil, err
	}
	return s.keys.ExistingKeys(ctx, table, columns)
}

// GetContributorIDByLogin looks a contributor up by login
func (s *Storage) GetContributorIDByLogin(_ context.Context, login string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cid, ok := s.logins[login]; ok {
		return cid, nil
	}
	return 0, apperrors.NewNotFoundError("contributor " + login)
}

// SaveContributor inserts a contributor unless the login is already present
func (s *Storage) SaveContributor(_ context.Context, c *domain.Contributor) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("contributors"); err != nil {
		return false, err
	}
	if _, ok := s.logins[c.Login]; ok {
		return false, nil
	}
	if _, ok := s.contributors[c.ID]; ok {
		return false, violation("contributors", "duplicate cntrb_id %d", c.ID)
	}

	cp := *c
	s.contributors[c.ID] = &cp
	s.logins[c.Login] = c.ID
	s.keys.Add("contributors", map[string]string{
		"cntrb_id":    id(c.ID),
		"cntrb_login": c.Login,
		"gh_user_id":  id(c.GHUserID),
	})
	s.writes = append(s.writes, Write{Table: "contributors", Key: c.ID})
	return true, nil
}

// SaveIssue inserts an issue row
func (s *Storage) SaveIssue(_ context.Context, issue *domain.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("issues"); err != nil {
		return err
	}
	if _, ok := s.issues[issue.ID]; ok {
		return violation("issues", "duplicate issue_id %d", issue.ID)
	}
	if _, ok := s.repos[issue.RepoID]; !ok {
		return violation("issues", "repo_id %d does not exist", issue.RepoID)
	}
	if !s.hasContributor(issue.ReporterID) {
		return violation("issues", "reporter_id %d does not exist", issue.ReporterID)
	}
	if issue.CloserID != nil && !s.hasContributor(*issue.CloserID) {
		return violation("issues", "cntrb_id %d does not exist", *issue.CloserID)
	}
	for _, existing := range s.issues {
		if existing.RepoID == issue.RepoID && existing.GHIssueID == issue.GHIssueID {
			return violation("issues", "gh_issue_id %d already stored for repo %d", issue.GHIssueID, issue.RepoID)
		}
	}

	cp := *issue
	s.issues[issue.ID] = &cp
	s.keys.Add("issues", map[string]string{
		"issue_id":        id(issue.ID),
		"gh_issue_id":     id(issue.GHIssueID),
		"repo_id":         id(issue.RepoID),
		"gh_issue_number": strconv.Itoa(issue.GHIssueNumber),
	})
	s.writes = append(s.writes, Write{Table: "issues", Key: issue.ID})
	return nil
}

// SaveIssueEvent inserts an issue event row
func (s *Storage) SaveIssueEvent(_ context.Context, event *domain.IssueEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("issue_events"); err != nil {
		return err
	}
	if _, ok := s.issues[event.IssueID]; !ok {
		return violation("issue_events", "issue_id %d does not exist", event.IssueID)
	}
	if !s.hasContributor(event.ContributorID) {
		return violation("issue_events", "cntrb_id %d does not exist", event.ContributorID)
	}
	for _, e := range s.events {
		if e.NodeID == event.NodeID {
			return violation("issue_events", "duplicate node_id %s", event.NodeID)
		}
	}

	cp := *event
	s.events = append(s.events, &cp)
	s.keys.Add("issue_events", map[string]string{
		"node_id":  event.NodeID,
		"issue_id": id(event.IssueID),
	})
	s.writes = append(s.writes, Write{Table: "issue_events", Key: event.IssueID})
	return nil
}

// SaveIssueLabel inserts an issue label row
func (s *Storage) SaveIssueLabel(_ context.Context, label *domain.IssueLabel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("issue_labels"); err != nil {
		return err
	}
	if _, ok := s.issues[label.IssueID]; !ok {
		return violation("issue_labels", "issue_id %d does not exist", label.IssueID)
	}
	for _, l := range s.labels {
		if l.IssueID == label.IssueID && l.Text == label.Text {
			return violation("issue_labels", "duplicate label %q on issue %d", label.Text, label.IssueID)
		}
	}

	cp := *label
	s.labels = append(s.labels, &cp)
	s.keys.Add("issue_labels", map[string]string{
		"issue_id":   id(label.IssueID),
		"label_text": label.Text,
	})
	s.writes = append(s.writes, Write{Table: "issue_labels", Key: label.IssueID})
	return nil
}

// SaveIssueAssignee inserts an issue assignee row
func (s *Storage) SaveIssueAssignee(_ context.Context, assignee *domain.IssueAssignee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("issue_assignees"); err != nil {
		return err
	}
	if _, ok := s.issues[assignee.IssueID]; !ok {
		return violation("issue_assignees", "issue_id %d does not exist", assignee.IssueID)
	}
	if !s.hasContributor(assignee.ContributorID) {
		return violation("issue_assignees", "cntrb_id %d does not exist", assignee.ContributorID)
	}
	for _, a := range s.assignees {
		if a.IssueID == assignee.IssueID && a.ContributorID == assignee.ContributorID {
			return violation("issue_assignees", "duplicate assignee %d on issue %d", assignee.ContributorID, assignee.IssueID)
		}
	}

	cp := *assignee
	s.assignees = append(s.assignees, &cp)
	s.keys.Add("issue_assignees", map[string]string{
		"issue_id": id(assignee.IssueID),
		"cntrb_id": id(assignee.ContributorID),
	})
	s.writes = append(s.writes, Write{Table: "issue_assignees", Key: assignee.IssueID})
	return nil
}

// SaveMessage writes a comment and its issue reference together
func (s *Storage) SaveMessage(_ context.Context, msg *domain.Message, ref *domain.IssueMessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("message"); err != nil {
		return err
	}
	if _, ok := s.messages[msg.ID]; ok {
		return violation("message", "duplicate msg_id %d", msg.ID)
	}
	if !s.hasContributor(msg.ContributorID) {
		return violation("message", "cntrb_id %d does not exist", msg.ContributorID)
	}
	for _, m := range s.messages {
		if m.PlatformMsgID == msg.PlatformMsgID {
			return violation("message", "duplicate platform_msg_id %d", msg.PlatformMsgID)
		}
	}
	if err := s.fail("issue_message_ref"); err != nil {
		return err
	}
	if _, ok := s.issues[ref.IssueID]; !ok {
		return violation("issue_message_ref", "issue_id %d does not exist", ref.IssueID)
	}
	if ref.MsgID != msg.ID {
		return violation("issue_message_ref", "msg_id %d does not match message %d", ref.MsgID, msg.ID)
	}

	m := *msg
	r := *ref
	s.messages[msg.ID] = &m
	s.refs = append(s.refs, &r)
	s.keys.Add("message", map[string]string{
		"msg_id":          id(msg.ID),
		"platform_msg_id": id(msg.PlatformMsgID),
		"cntrb_id":        id(msg.ContributorID),
	})
	s.keys.Add("issue_message_ref", map[string]string{
		"issue_id": id(ref.IssueID),
		"msg_id":   id(ref.MsgID),
	})
	s.writes = append(s.writes,
		Write{Table: "message", Key: msg.ID},
		Write{Table: "issue_message_ref", Key: ref.IssueID},
	)
	return nil
}

// Writes returns the accepted inserts in commit order
func (s *Storage) Writes() []Write {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Write(nil), s.writes...)
}

// Count returns the number of rows in a table
func (s *Storage) Count(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch table {
	case "repo":
		return len(s.repos)
	case "contributors":
		return len(s.contributors)
	case "issues":
		return len(s.issues)
	case "issue_events":
		return len(s.events)
	case "issue_labels":
		return len(s.labels)
	case "issue_assignees":
		return len(s.assignees)
	case "message":
		return len(s.messages)
	case "issue_message_ref":
		return len(s.refs)
	}
	return 0
}

// Issues returns a copy of the stored issues ordered by issue_id
func (s *Storage) Issues() []domain.Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Issue, 0, len(s.issues))
	for _, issue := range s.issues {
		out = append(out, *issue)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Labels returns a copy of the stored labels
func (s *Storage) Labels() []domain.IssueLabel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.IssueLabel, 0, len(s.labels))
	for _, l := range s.labels {
		out = append(out, *l)
	}
	return out
}

// Assignees returns a copy of the stored assignees
func (s *Storage) Assignees() []domain.IssueAssignee {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.IssueAssignee, 0, len(s.assignees))
	for _, a := range s.assignees {
		out = append(out, *a)
	}
	return out
}

// Contributor returns the contributor stored under a login
func (s *Storage) Contributor(login string) (*domain.Contributor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cid, ok := s.logins[login]
	if !ok {
		return nil, false
	}
	cp := *s.contributors[cid]
	return &cp, true
}
