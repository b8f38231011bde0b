package pipeline

import (
	"strconv"

	"github.com/kurihiro0119/github-issue-worker/internal/dedup"
	"github.com/kurihiro0119/github-issue-worker/internal/domain"
)

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

var contributorIdentity = dedup.Identity[*domain.RemoteUser]{
	Table: "contributors",
	Columns: []dedup.Column[*domain.RemoteUser]{
		{Name: "cntrb_login", Key: func(u *domain.RemoteUser) (string, bool) {
			if u == nil {
				return "", false
			}
			return u.Login, u.Login != ""
		}},
	},
}

func issueIdentity(repoID int64) dedup.Identity[*domain.RemoteIssue] {
	return dedup.Identity[*domain.RemoteIssue]{
		Table: "issues",
		Columns: []dedup.Column[*domain.RemoteIssue]{
			{Name: "gh_issue_id", Key: func(i *domain.RemoteIssue) (string, bool) {
				return itoa(i.ID), i.ID != 0
			}},
			{Name: "repo_id", Key: func(*domain.RemoteIssue) (string, bool) {
				return itoa(repoID), true
			}},
		},
	}
}

var eventIdentity = dedup.Identity[*domain.RemoteEvent]{
	Table: "issue_events",
	Columns: []dedup.Column[*domain.RemoteEvent]{
		{Name: "node_id", Key: func(e *domain.RemoteEvent) (string, bool) {
			return e.NodeID, e.NodeID != ""
		}},
	},
}

var commentIdentity = dedup.Identity[*domain.RemoteComment]{
	Table: "message",
	Columns: []dedup.Column[*domain.RemoteComment]{
		{Name: "platform_msg_id", Key: func(c *domain.RemoteComment) (string, bool) {
			return itoa(c.ID), c.ID != 0
		}},
	},
}

var labelIdentity = dedup.Identity[*domain.IssueLabel]{
	Table: "issue_labels",
	Columns: []dedup.Column[*domain.IssueLabel]{
		{Name: "issue_id", Key: func(l *domain.IssueLabel) (string, bool) {
			return itoa(l.IssueID), true
		}},
		{Name: "label_text", Key: func(l *domain.IssueLabel) (string, bool) {
			return l.Text, l.Text != ""
		}},
	},
}

var assigneeIdentity = dedup.Identity[*domain.IssueAssignee]{
	Table: "issue_assignees",
	Columns: []dedup.Column[*domain.IssueAssignee]{
		{Name: "issue_id", Key: func(a *domain.IssueAssignee) (string, bool) {
			return itoa(a.IssueID), true
		}},
		{Name: "cntrb_id", Key: func(a *domain.IssueAssignee) (string, bool) {
			return itoa(a.ContributorID), true
		}},
	},
}
