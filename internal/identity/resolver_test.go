package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-issue-worker/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-worker/internal/errors"
	"github.com/kurihiro0119/github-issue-worker/internal/keys"
	"github.com/kurihiro0119/github-issue-worker/internal/storage/memory"
)

type fakeProfiles struct {
	calls atomic.Int32
	err   error
}

func (f *fakeProfiles) GetUser(_ context.Context, login string) (*domain.RemoteProfile, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RemoteProfile{Login: login, ID: 1000 + int64(len(login)), NodeID: "U_" + login, Email: login + "@example.com"}, nil
}

// racingStore reports every login as unknown once, then loses the insert to a
// writer that stored the login under id 77.
type racingStore struct {
	lookups int
}

func (s *racingStore) GetContributorIDByLogin(_ context.Context, login string) (int64, error) {
	s.lookups++
	if s.lookups == 1 {
		return 0, apperrors.NewNotFoundError("contributor " + login)
	}
	return 77, nil
}

func (s *racingStore) SaveContributor(context.Context, *domain.Contributor) (bool, error) {
	return false, nil
}

var testProvenance = domain.Provenance{ToolSource: "GitHub API Worker", ToolVersion: "0.0.1", DataSource: "GitHub API"}

func newResolver(store Store, profiles ProfileFetcher) (*Resolver, *keys.Allocator) {
	alloc := keys.NewAllocator(domain.KeySeeds{}, keys.DefaultSeed)
	return NewResolver(store, profiles, alloc, testProvenance), alloc
}

func TestResolve_NewLogin(t *testing.T) {
	store := memory.New()
	profiles := &fakeProfiles{}
	r, _ := newResolver(store, profiles)

	id, err := r.Resolve(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, keys.DefaultSeed+1, id)
	assert.Equal(t, int32(1), profiles.calls.Load())

	c, ok := store.Contributor("alice")
	require.True(t, ok)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, "U_alice", c.GHNodeID)
	require.NotNil(t, c.CanonicalEmail)
	assert.Equal(t, "alice@example.com", *c.CanonicalEmail)
	assert.Equal(t, testProvenance, c.Provenance)
}

func TestResolve_KnownLoginSkipsFetch(t *testing.T) {
	store := memory.New()
	_, err := store.SaveContributor(context.Background(), &domain.Contributor{ID: 12, Login: "bob"})
	require.NoError(t, err)

	profiles := &fakeProfiles{}
	r, alloc := newResolver(store, profiles)

	id, err := r.Resolve(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
	assert.Zero(t, profiles.calls.Load())

	_, next, _ := alloc.Peek()
	assert.Equal(t, keys.DefaultSeed+1, next, "no id is taken for a known login")
}

func TestResolve_Failures(t *testing.T) {
	tests := []struct {
		name     string
		login    string
		profiles *fakeProfiles
	}{
		{name: "empty login", login: "", profiles: &fakeProfiles{}},
		{name: "profile fetch fails", login: "ghost", profiles: &fakeProfiles{err: apperrors.NewNotFoundError("user ghost")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			r, _ := newResolver(store, tt.profiles)

			id, err := r.Resolve(context.Background(), tt.login)
			assert.Zero(t, id)
			assert.True(t, apperrors.IsResolutionFailed(err))
			assert.Equal(t, 0, store.Count("contributors"))
		})
	}
}

func TestResolve_StoreWriteFails(t *testing.T) {
	store := memory.New()
	store.FailOn["contributors"] = errors.New("read-only")
	r, _ := newResolver(store, &fakeProfiles{})

	_, err := r.Resolve(context.Background(), "alice")
	assert.True(t, apperrors.IsStoreWriteFailed(err), "a rejected write aborts the task, not just the issue")
}

func TestResolve_FatalErrorPassesThrough(t *testing.T) {
	profiles := &fakeProfiles{err: apperrors.NewConfigError("bad reset header", nil)}
	r, _ := newResolver(memory.New(), profiles)

	_, err := r.Resolve(context.Background(), "alice")
	assert.True(t, apperrors.IsFatal(err))
}

func TestResolve_LostInsertRereadsWinner(t *testing.T) {
	store := &racingStore{}
	r, _ := newResolver(store, &fakeProfiles{})

	id, err := r.Resolve(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
	assert.Equal(t, 2, store.lookups)
}

func TestResolve_ConcurrentSameLogin(t *testing.T) {
	store := memory.New()
	profiles := &fakeProfiles{}
	r, _ := newResolver(store, profiles)

	const n = 8
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Resolve(context.Background(), "alice")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, int32(1), profiles.calls.Load())
	assert.Equal(t, 1, store.Count("contributors"))
}
