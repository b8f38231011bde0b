package dedup

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type candidate struct {
	ID     int64
	Login  string
	RepoID int64
}

var byLogin = Identity[candidate]{
	Table: "contributors",
	Columns: []Column[candidate]{
		{Name: "cntrb_login", Key: func(c candidate) (string, bool) { return c.Login, c.Login != "" }},
	},
}

var byIssue = Identity[candidate]{
	Table: "issues",
	Columns: []Column[candidate]{
		{Name: "gh_issue_id", Key: func(c candidate) (string, bool) { return strconv.FormatInt(c.ID, 10), c.ID != 0 }},
		{Name: "repo_id", Key: func(c candidate) (string, bool) { return strconv.FormatInt(c.RepoID, 10), true }},
	},
}

type failingSource struct{}

func (failingSource) ExistingKeys(context.Context, string, []string) ([][]string, error) {
	return nil, errors.New("connection refused")
}

func TestFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store means nothing is a duplicate", func(t *testing.T) {
		res, err := Filter(ctx, NewIndex(), byLogin, []candidate{{Login: "alice"}, {Login: "bob"}})

		require.NoError(t, err)
		assert.Len(t, res.Insert, 2)
		assert.Zero(t, res.Present)
	})

	t.Run("stored keys are removed", func(t *testing.T) {
		idx := NewIndex()
		idx.Add("contributors", map[string]string{"cntrb_login": "alice"})

		res, err := Filter(ctx, idx, byLogin, []candidate{{Login: "alice"}, {Login: "bob"}})

		require.NoError(t, err)
		require.Len(t, res.Insert, 1)
		assert.Equal(t, "bob", res.Insert[0].Login)
		assert.Equal(t, 1, res.Present)
	})

	t.Run("missing key skips only that candidate", func(t *testing.T) {
		res, err := Filter(ctx, NewIndex(), byLogin, []candidate{{Login: ""}, {Login: "carol"}})

		require.NoError(t, err)
		require.Len(t, res.Insert, 1)
		assert.Equal(t, "carol", res.Insert[0].Login)
		assert.Equal(t, 1, res.Skipped)
	})

	t.Run("repeats within the batch are kept once", func(t *testing.T) {
		res, err := Filter(ctx, NewIndex(), byLogin, []candidate{{Login: "dan"}, {Login: "dan"}})

		require.NoError(t, err)
		assert.Len(t, res.Insert, 1)
		assert.Equal(t, 1, res.Present)
	})

	t.Run("composite keys must match on every column", func(t *testing.T) {
		idx := NewIndex()
		idx.Add("issues", map[string]string{"gh_issue_id": "100", "repo_id": "42"})

		res, err := Filter(ctx, idx, byIssue, []candidate{
			{ID: 100, RepoID: 42},
			{ID: 100, RepoID: 43},
			{ID: 101, RepoID: 42},
		})

		require.NoError(t, err)
		assert.Equal(t, []candidate{{ID: 100, RepoID: 43}, {ID: 101, RepoID: 42}}, res.Insert)
		assert.Equal(t, 1, res.Present)
	})

	t.Run("source failure is returned", func(t *testing.T) {
		_, err := Filter(ctx, failingSource{}, byLogin, []candidate{{Login: "eve"}})

		assert.ErrorContains(t, err, "connection refused")
	})

	t.Run("no candidates does not query the store", func(t *testing.T) {
		res, err := Filter(ctx, failingSource{}, byLogin, nil)

		require.NoError(t, err)
		assert.Empty(t, res.Insert)
	})
}

func TestFilter_SecondPassIsEmpty(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	batch := []candidate{{Login: "alice"}, {Login: "bob"}, {Login: "carol"}}

	first, err := Filter(ctx, idx, byLogin, batch)
	require.NoError(t, err)
	for _, c := range first.Insert {
		idx.Add("contributors", map[string]string{"cntrb_login": c.Login})
	}

	second, err := Filter(ctx, idx, byLogin, batch)
	require.NoError(t, err)
	assert.Empty(t, second.Insert)
	assert.Equal(t, 3, second.Present)
}
