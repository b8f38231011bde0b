package storage

import (
	"context"
	"fmt"

	"github.com/kurihiro0119/github-issue-worker/internal/domain"
)

// Storage is the abstract interface for the persistence layer.
// Insert methods wrap rejected writes in a STORE_WRITE_FAILED error.
type Storage interface {
	// Repository operations
	SaveRepository(ctx context.Context, repoGit string) (*domain.RepositoryTask, error)
	GetRepositories(ctx context.Context) ([]*domain.RepositoryTask, error)
	GetRepositoryByGitURL(ctx context.Context, repoGit string) (*domain.RepositoryTask, error)
	GetRepositoryStats(ctx context.Context) ([]*domain.RepositoryStats, error)

	// Surrogate key seeding
	GetMaxIDs(ctx context.Context) (*domain.KeySeeds, error)

	// Identity columns already persisted, for duplicate filtering
	ExistingKeys(ctx context.Context, table string, columns []string) ([][]string, error)

	// Contributor operations. SaveContributor ignores a conflicting login and
	// reports whether the row was written.
	GetContributorIDByLogin(ctx context.Context, login string) (int64, error)
	SaveContributor(ctx context.Context, c *domain.Contributor) (bool, error)

	// Issue operations
	SaveIssue(ctx context.Context, issue *domain.Issue) error
	SaveIssueEvent(ctx context.Context, event *domain.IssueEvent) error
	SaveIssueLabel(ctx context.Context, label *domain.IssueLabel) error
	SaveIssueAssignee(ctx context.Context, assignee *domain.IssueAssignee) error

	// SaveMessage writes a comment and its issue reference in one transaction
	SaveMessage(ctx context.Context, msg *domain.Message, ref *domain.IssueMessageRef) error

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}

// identityColumns lists the columns ExistingKeys may be asked for. Table and column
// names are interpolated into SQL, so nothing outside this list is accepted.
var identityColumns = map[string]map[string]bool{
	"contributors":      {"cntrb_id": true, "cntrb_login": true, "gh_user_id": true},
	"issues":            {"issue_id": true, "gh_issue_id": true, "repo_id": true, "gh_issue_number": true},
	"issue_events":      {"node_id": true, "issue_id": true},
	"issue_labels":      {"issue_id": true, "label_text": true},
	"issue_assignees":   {"issue_id": true, "cntrb_id": true},
	"message":           {"msg_id": true, "platform_msg_id": true, "cntrb_id": true},
	"issue_message_ref": {"issue_id": true, "msg_id": true},
}

// ValidateIdentity rejects tables and columns that are not identity columns
func ValidateIdentity(table string, columns []string) error {
	allowed, ok := identityColumns[table]
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	if len(columns) == 0 {
		return fmt.Errorf("no columns requested from %s", table)
	}
	for _, col := range columns {
		if !allowed[col] {
			return fmt.Errorf("column %q of %s is not an identity column", col, table)
		}
	}
	return nil
}
