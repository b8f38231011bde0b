package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/github-issue-worker/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-worker/internal/errors"
	"github.com/kurihiro0119/github-issue-worker/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate creates the collector schema if it does not exist
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS repo (
		repo_id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_git TEXT NOT NULL UNIQUE,
		repo_added TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS contributors (
		cntrb_id INTEGER PRIMARY KEY,
		cntrb_login TEXT NOT NULL UNIQUE,
		cntrb_created_at TIMESTAMP,
		cntrb_canonical TEXT,
		gh_user_id INTEGER,
		gh_login TEXT,
		gh_url TEXT,
		gh_html_url TEXT,
		gh_node_id TEXT,
		gh_avatar_url TEXT,
		gh_gravatar_id TEXT,
		gh_followers_url TEXT,
		gh_following_url TEXT,
		gh_gists_url TEXT,
		gh_starred_url TEXT,
		gh_subscriptions_url TEXT,
		gh_organizations_url TEXT,
		gh_repos_url TEXT,
		gh_events_url TEXT,
		gh_received_events_url TEXT,
		gh_type TEXT,
		gh_site_admin INTEGER,
		tool_source TEXT,
		tool_version TEXT,
		data_source TEXT,
		data_collection_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS issues (
		issue_id INTEGER PRIMARY KEY,
		repo_id INTEGER NOT NULL REFERENCES repo(repo_id),
		reporter_id INTEGER NOT NULL REFERENCES contributors(cntrb_id),
		cntrb_id INTEGER REFERENCES contributors(cntrb_id),
		pull_request INTEGER,
		pull_request_id INTEGER,
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		closed_at TIMESTAMP,
		issue_title TEXT,
		issue_body TEXT,
		comment_count INTEGER,
		repository_url TEXT,
		issue_url TEXT,
		labels_url TEXT,
		comments_url TEXT,
		events_url TEXT,
		html_url TEXT,
		issue_state TEXT,
		issue_node_id TEXT,
		gh_issue_id INTEGER NOT NULL,
		gh_issue_number INTEGER,
		gh_user_id INTEGER,
		tool_source TEXT,
		tool_version TEXT,
		data_source TEXT,
		data_collection_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (repo_id, gh_issue_id)
	);

	CREATE TABLE IF NOT EXISTS issue_events (
		event_id INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id INTEGER NOT NULL REFERENCES issues(issue_id),
		node_id TEXT NOT NULL UNIQUE,
		node_url TEXT,
		cntrb_id INTEGER NOT NULL REFERENCES contributors(cntrb_id),
		action TEXT NOT NULL,
		action_commit_hash TEXT,
		created_at TIMESTAMP,
		tool_source TEXT,
		tool_version TEXT,
		data_source TEXT,
		data_collection_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS issue_labels (
		issue_label_id INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id INTEGER NOT NULL REFERENCES issues(issue_id),
		label_text TEXT NOT NULL,
		label_description TEXT,
		label_color TEXT,
		tool_source TEXT,
		tool_version TEXT,
		data_source TEXT,
		data_collection_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (issue_id, label_text)
	);

	CREATE TABLE IF NOT EXISTS issue_assignees (
		issue_assignee_id INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id INTEGER NOT NULL REFERENCES issues(issue_id),
		cntrb_id INTEGER NOT NULL REFERENCES contributors(cntrb_id),
		tool_source TEXT,
		tool_version TEXT,
		data_source TEXT,
		data_collection_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (issue_id, cntrb_id)
	);

	CREATE TABLE IF NOT EXISTS message (
		msg_id INTEGER PRIMARY KEY,
		pltfrm_id INTEGER NOT NULL,
		platform_msg_id INTEGER NOT NULL UNIQUE,
		msg_text TEXT,
		msg_timestamp TIMESTAMP,
		cntrb_id INTEGER NOT NULL REFERENCES contributors(cntrb_id),
		tool_source TEXT,
		tool_version TEXT,
		data_source TEXT,
		data_collection_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS issue_message_ref (
		issue_msg_ref_id INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id INTEGER NOT NULL REFERENCES issues(issue_id),
		msg_id INTEGER NOT NULL UNIQUE REFERENCES message(msg_id),
		tool_source TEXT,
		tool_version TEXT,
		data_source TEXT,
		data_collection_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_issues_repo_id ON issues(repo_id);
	CREATE INDEX IF NOT EXISTS idx_issue_events_issue_id ON issue_events(issue_id);
	CREATE INDEX IF NOT EXISTS idx_issue_message_ref_issue_id ON issue_message_ref(issue_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveRepository registers a repository, returning the existing row if it is known
func (s *sqliteStorage) SaveRepository(ctx context.Context, repoGit string) (*domain.RepositoryTask, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO repo (repo_git) VALUES (?) ON CONFLICT (repo_git) DO NOTHING`, repoGit)
	if err != nil {
		return nil, apperrors.NewStoreWriteError("repo", err)
	}
	return s.GetRepositoryByGitURL(ctx, repoGit)
}

// GetRepositories returns every repository in the store, in id order
func (s *sqliteStorage) GetRepositories(ctx context.Context) ([]*domain.RepositoryTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT repo_git, repo_id FROM repo ORDER BY repo_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*domain.RepositoryTask
	for rows.Next() {
		repo := &domain.RepositoryTask{}
		if err := rows.Scan(&repo.RepoGit, &repo.RepoID); err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// GetRepositoryByGitURL looks a repository up by its git URL
func (s *sqliteStorage) GetRepositoryByGitURL(ctx context.Context, repoGit string) (*domain.RepositoryTask, error) {
	repo := &domain.RepositoryTask{}
	err := s.db.QueryRowContext(ctx, `SELECT repo_git, repo_id FROM repo WHERE repo_git = ?`, repoGit).
		Scan(&repo.RepoGit, &repo.RepoID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("repository " + repoGit)
	}
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// GetRepositoryStats counts the rows ingested for each repository
func (s *sqliteStorage) GetRepositoryStats(ctx context.Context) ([]*domain.RepositoryStats, error) {
	query := `
		SELECT r.repo_id, r.repo_git,
			(SELECT COUNT(*) FROM issues i WHERE i.repo_id = r.repo_id),
			(SELECT COUNT(*) FROM issue_message_ref m JOIN issues i ON i.issue_id = m.issue_id WHERE i.repo_id = r.repo_id),
			(SELECT COUNT(*) FROM issue_events e JOIN issues i ON i.issue_id = e.issue_id WHERE i.repo_id = r.repo_id),
			(SELECT COUNT(*) FROM issue_labels l JOIN issues i ON i.issue_id = l.issue_id WHERE i.repo_id = r.repo_id),
			(SELECT COUNT(*) FROM issue_assignees a JOIN issues i ON i.issue_id = a.issue_id WHERE i.repo_id = r.repo_id)
		FROM repo r
		ORDER BY r.repo_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*domain.RepositoryStats
	for rows.Next() {
		st := &domain.RepositoryStats{}
		if err := rows.Scan(&st.RepoID, &st.RepoGit, &st.Issues, &st.Messages, &st.Events, &st.Labels, &st.Assignees); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// GetMaxIDs returns the largest issue, contributor and message ids
func (s *sqliteStorage) GetMaxIDs(ctx context.Context) (*domain.KeySeeds, error) {
	seeds := &domain.KeySeeds{}
	targets := []struct {
		query string
		dest  **int64
	}{
		{`SELECT MAX(issue_id) FROM issues`, &seeds.IssueID},
		{`SELECT MAX(cntrb_id) FROM contributors`, &seeds.ContributorID},
		{`SELECT MAX(msg_id) FROM message`, &seeds.MsgID},
	}
	for _, t := range targets {
		var max sql.NullInt64
		if err := s.db.QueryRowContext(ctx, t.query).Scan(&max); err != nil {
			return nil, err
		}
		if max.Valid {
			v := max.Int64
			*t.dest = &v
		}
	}
	return seeds, nil
}

// ExistingKeys returns the stored values of identity columns, skipping rows with NULLs
func (s *sqliteStorage) ExistingKeys(ctx context.Context, table string, columns []string) ([][]string, error) {
	if err := storage.ValidateIdentity(table, columns); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(columns, ", "), table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys [][]string
	vals := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range vals {
		dest[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		key := make([]string, 0, len(columns))
		for _, v := range vals {
			if !v.Valid {
				break
			}
			key = append(key, v.String)
		}
		if len(key) == len(columns) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

// GetContributorIDByLogin looks a contributor up by login
func (s *sqliteStorage) GetContributorIDByLogin(ctx context.Context, login string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT cntrb_id FROM contributors WHERE cntrb_login = ?`, login).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.NewNotFoundError("contributor " + login)
	}
	return id, err
}

// SaveContributor inserts a contributor unless the login is already present
func (s *sqliteStorage) SaveContributor(ctx context.Context, c *domain.Contributor) (bool, error) {
	query := `
		INSERT INTO contributors (
			cntrb_id, cntrb_login, cntrb_created_at, cntrb_canonical,
			gh_user_id, gh_login, gh_url, gh_html_url, gh_node_id, gh_avatar_url, gh_gravatar_id,
			gh_followers_url, gh_following_url, gh_gists_url, gh_starred_url, gh_subscriptions_url,
			gh_organizations_url, gh_repos_url, gh_events_url, gh_received_events_url,
			gh_type, gh_site_admin, tool_source, tool_version, data_source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cntrb_login) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		c.ID, c.Login, c.CreatedAt, c.CanonicalEmail,
		c.GHUserID, c.Login, c.URL, c.HTMLURL, c.GHNodeID, c.AvatarURL, c.GravatarID,
		c.FollowersURL, c.FollowingURL, c.GistsURL, c.StarredURL, c.SubscriptionsURL,
		c.OrganizationsURL, c.ReposURL, c.EventsURL, c.ReceivedEventsURL,
		c.Type, c.SiteAdmin, c.ToolSource, c.ToolVersion, c.DataSource,
	)
	if err != nil {
		return false, apperrors.NewStoreWriteError("contributors", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewStoreWriteError("contributors", err)
	}
	return n == 1, nil
}

// SaveIssue inserts an issue row
func (s *sqliteStorage) SaveIssue(ctx context.Context, issue *domain.Issue) error {
	query := `
		INSERT INTO issues (
			issue_id, repo_id, reporter_id, cntrb_id, pull_request, pull_request_id,
			created_at, updated_at, closed_at, issue_title, issue_body, comment_count,
			repository_url, issue_url, labels_url, comments_url, events_url, html_url,
			issue_state, issue_node_id, gh_issue_id, gh_issue_number, gh_user_id,
			tool_source, tool_version, data_source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		issue.ID, issue.RepoID, issue.ReporterID, issue.CloserID, issue.PullRequest, issue.PullRequestID,
		issue.CreatedAt, issue.UpdatedAt, issue.ClosedAt, issue.Title, issue.Body, issue.CommentCount,
		issue.RepositoryURL, issue.IssueURL, issue.LabelsURL, issue.CommentsURL, issue.EventsURL, issue.HTMLURL,
		issue.State, issue.NodeID, issue.GHIssueID, issue.GHIssueNumber, issue.GHUserID,
		issue.ToolSource, issue.ToolVersion, issue.DataSource,
	)
	if err != nil {
		return apperrors.NewStoreWriteError("issues", err)
	}
	return nil
}

// SaveIssueEvent inserts an issue event row
func (s *sqliteStorage) SaveIssueEvent(ctx context.Context, event *domain.IssueEvent) error {
	query := `
		INSERT INTO issue_events (
			issue_id, node_id, node_url, cntrb_id, action, action_commit_hash, created_at,
			tool_source, tool_version, data_source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.IssueID, event.NodeID, event.NodeURL, event.ContributorID, event.Action, event.CommitHash, event.CreatedAt,
		event.ToolSource, event.ToolVersion, event.DataSource,
	)
	if err != nil {
		return apperrors.NewStoreWriteError("issue_events", err)
	}
	return nil
}

// SaveIssueLabel inserts an issue label row
func (s *sqliteStorage) SaveIssueLabel(ctx context.Context, label *domain.IssueLabel) error {
	query := `
		INSERT INTO issue_labels (
			issue_id, label_text, label_description, label_color, tool_source, tool_version, data_source
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		label.IssueID, label.Text, label.Description, label.Color,
		label.ToolSource, label.ToolVersion, label.DataSource,
	)
	if err != nil {
		return apperrors.NewStoreWriteError("issue_labels", err)
	}
	return nil
}

// SaveIssueAssignee inserts an issue assignee row
func (s *sqliteStorage) SaveIssueAssignee(ctx context.Context, assignee *domain.IssueAssignee) error {
	query := `
		INSERT INTO issue_assignees (issue_id, cntrb_id, tool_source, tool_version, data_source)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		assignee.IssueID, assignee.ContributorID,
		assignee.ToolSource, assignee.ToolVersion, assignee.DataSource,
	)
	if err != nil {
		return apperrors.NewStoreWriteError("issue_assignees", err)
	}
	return nil
}

// SaveMessage writes a comment and its issue reference in one transaction
func (s *sqliteStorage) SaveMessage(ctx context.Context, msg *domain.Message, ref *domain.IssueMessageRef) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreWriteError("message", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO message (
			msg_id, pltfrm_id, platform_msg_id, msg_text, msg_timestamp, cntrb_id,
			tool_source, tool_version, data_source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID, msg.PlatformID, msg.PlatformMsgID, msg.Text, msg.Timestamp, msg.ContributorID,
		msg.ToolSource, msg.ToolVersion, msg.DataSource,
	)
	if err != nil {
		return apperrors.NewStoreWriteError("message", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO issue_message_ref (issue_id, msg_id, tool_source, tool_version, data_source)
		VALUES (?, ?, ?, ?, ?)
	`,
		ref.IssueID, ref.MsgID, ref.ToolSource, ref.ToolVersion, ref.DataSource,
	)
	if err != nil {
		return apperrors.NewStoreWriteError("issue_message_ref", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreWriteError("message", err)
	}
	return nil
}

// Close closes the database connection
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
