package sqlite

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-issue-worker/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-worker/internal/errors"
	"github.com/kurihiro0119/github-issue-worker/internal/storage"
)

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "issues.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedIssue(t *testing.T, s storage.Storage) (*domain.RepositoryTask, int64) {
	t.Helper()
	ctx := context.Background()

	repo, err := s.SaveRepository(ctx, "https://github.com/acme/widget")
	require.NoError(t, err)

	inserted, err := s.SaveContributor(ctx, &domain.Contributor{ID: 7, Login: "alice", GHUserID: 1})
	require.NoError(t, err)
	require.True(t, inserted)

	require.NoError(t, s.SaveIssue(ctx, &domain.Issue{
		ID:         500,
		RepoID:     repo.RepoID,
		ReporterID: 7,
		Title:      "crash",
		State:      "open",
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		GHIssueID:  100,
	}))
	return repo, 500
}

func TestSQLiteStorage_Repositories(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	first, err := s.SaveRepository(ctx, "https://github.com/acme/widget")
	require.NoError(t, err)
	again, err := s.SaveRepository(ctx, "https://github.com/acme/widget")
	require.NoError(t, err)
	assert.Equal(t, first.RepoID, again.RepoID)

	_, err = s.SaveRepository(ctx, "https://github.com/acme/gadget")
	require.NoError(t, err)

	repos, err := s.GetRepositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "https://github.com/acme/widget", repos[0].RepoGit)

	_, err = s.GetRepositoryByGitURL(ctx, "https://github.com/acme/missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSQLiteStorage_GetMaxIDs(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	seeds, err := s.GetMaxIDs(ctx)
	require.NoError(t, err)
	assert.Nil(t, seeds.IssueID)
	assert.Nil(t, seeds.ContributorID)
	assert.Nil(t, seeds.MsgID)

	seedIssue(t, s)

	seeds, err = s.GetMaxIDs(ctx)
	require.NoError(t, err)
	require.NotNil(t, seeds.IssueID)
	require.NotNil(t, seeds.ContributorID)
	assert.Equal(t, int64(500), *seeds.IssueID)
	assert.Equal(t, int64(7), *seeds.ContributorID)
	assert.Nil(t, seeds.MsgID)
}

func TestSQLiteStorage_Contributors(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.GetContributorIDByLogin(ctx, "alice")
	assert.True(t, apperrors.IsNotFound(err))

	inserted, err := s.SaveContributor(ctx, &domain.Contributor{ID: 10, Login: "alice"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.SaveContributor(ctx, &domain.Contributor{ID: 11, Login: "alice"})
	require.NoError(t, err)
	assert.False(t, inserted, "a second row for the same login is ignored")

	id, err := s.GetContributorIDByLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), id)
}

func TestSQLiteStorage_ExistingKeys(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	repo, _ := seedIssue(t, s)

	keys, err := s.ExistingKeys(ctx, "issues", []string{"gh_issue_id", "repo_id"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"100", strconv.FormatInt(repo.RepoID, 10)}}, keys)

	keys, err = s.ExistingKeys(ctx, "contributors", []string{"cntrb_login"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"alice"}}, keys)

	_, err = s.ExistingKeys(ctx, "issues", []string{"issue_body"})
	assert.Error(t, err)
}

func TestSQLiteStorage_ChildRows(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	_, issueID := seedIssue(t, s)

	require.NoError(t, s.SaveIssueEvent(ctx, &domain.IssueEvent{
		IssueID: issueID, NodeID: "CE_1", ContributorID: 7, Action: "closed",
	}))
	require.NoError(t, s.SaveIssueLabel(ctx, &domain.IssueLabel{IssueID: issueID, Text: "bug", Color: "d73a4a"}))
	require.NoError(t, s.SaveIssueAssignee(ctx, &domain.IssueAssignee{IssueID: issueID, ContributorID: 7}))
	require.NoError(t, s.SaveMessage(ctx,
		&domain.Message{ID: 900, PlatformID: 25150, PlatformMsgID: 3, Text: "hi", ContributorID: 7},
		&domain.IssueMessageRef{IssueID: issueID, MsgID: 900},
	))

	stats, err := s.GetRepositoryStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].Issues)
	assert.Equal(t, int64(1), stats[0].Messages)
	assert.Equal(t, int64(1), stats[0].Events)
	assert.Equal(t, int64(1), stats[0].Labels)
	assert.Equal(t, int64(1), stats[0].Assignees)
}

func TestSQLiteStorage_WriteFailures(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	t.Run("child of a missing issue is rejected", func(t *testing.T) {
		err := s.SaveIssueLabel(ctx, &domain.IssueLabel{IssueID: 404, Text: "bug"})
		assert.True(t, apperrors.IsStoreWriteFailed(err))
	})

	t.Run("message and ref are all or nothing", func(t *testing.T) {
		seedIssue(t, s)

		err := s.SaveMessage(ctx,
			&domain.Message{ID: 901, PlatformID: 25150, PlatformMsgID: 4, Text: "orphan", ContributorID: 7},
			&domain.IssueMessageRef{IssueID: 404, MsgID: 901},
		)
		assert.True(t, apperrors.IsStoreWriteFailed(err))

		keys, err := s.ExistingKeys(ctx, "message", []string{"msg_id"})
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}
