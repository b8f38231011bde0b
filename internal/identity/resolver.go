// Package identity maps GitHub logins to contributor surrogate keys, creating the
// contributor row on first sight.
package identity

import (
	"context"
	"sync"

	"github.com/kurihiro0119/github-issue-worker/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-worker/internal/errors"
	"github.com/kurihiro0119/github-issue-worker/internal/logger"
)

// Store is the part of storage.Storage the resolver needs
type Store interface {
	GetContributorIDByLogin(ctx context.Context, login string) (int64, error)
	SaveContributor(ctx context.Context, c *domain.Contributor) (bool, error)
}

// ProfileFetcher retrieves a user's full profile
type ProfileFetcher interface {
	GetUser(ctx context.Context, login string) (*domain.RemoteProfile, error)
}

// IDSource hands out contributor ids
type IDSource interface {
	NextContributor() int64
}

// Resolver resolves logins to cntrb_id values
type Resolver struct {
	store      Store
	profiles   ProfileFetcher
	ids        IDSource
	provenance domain.Provenance

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewResolver creates a new resolver
func NewResolver(store Store, profiles ProfileFetcher, ids IDSource, provenance domain.Provenance) *Resolver {
	return &Resolver{
		store:      store,
		profiles:   profiles,
		ids:        ids,
		provenance: provenance,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (r *Resolver) lockFor(login string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[login]
	if !ok {
		l = &sync.Mutex{}
		r.locks[login] = l
	}
	return l
}

// Resolve returns the contributor id for a login. An unknown login has its profile
// fetched and stored under a freshly allocated id. Resolution never falls back to a
// placeholder id. Failures are reported as RESOLUTION_FAILED, except rejected
// writes and fatal errors which are returned as they are.
func (r *Resolver) Resolve(ctx context.Context, login string) (int64, error) {
	if login == "" {
		return 0, apperrors.NewResolutionFailedError(login, apperrors.NewBadRequestError("empty login"))
	}

	l := r.lockFor(login)
	l.Lock()
	defer l.Unlock()

	id, err := r.store.GetContributorIDByLogin(ctx, login)
	if err == nil {
		return id, nil
	}
	if !apperrors.IsNotFound(err) {
		return 0, apperrors.NewResolutionFailedError(login, err)
	}

	profile, err := r.profiles.GetUser(ctx, login)
	if err != nil {
		return 0, wrap(login, err)
	}

	c := r.contributorFromProfile(login, profile)
	inserted, err := r.store.SaveContributor(ctx, c)
	if err != nil {
		return 0, wrap(login, err)
	}
	if inserted {
		logger.Debug("Added contributor %s as %d", login, c.ID)
		return c.ID, nil
	}

	// Another writer stored the login first; its id wins.
	id, err = r.store.GetContributorIDByLogin(ctx, login)
	if err != nil {
		return 0, apperrors.NewResolutionFailedError(login, err)
	}
	return id, nil
}

// wrap reports a failure as RESOLUTION_FAILED unless the caller has to react to it
// more broadly: rejected writes abort the task and fatal errors stop the worker.
func wrap(login string, err error) error {
	if apperrors.IsStoreWriteFailed(err) || apperrors.IsFatal(err) {
		return err
	}
	return apperrors.NewResolutionFailedError(login, err)
}

func (r *Resolver) contributorFromProfile(login string, p *domain.RemoteProfile) *domain.Contributor {
	c := &domain.Contributor{
		ID:                r.ids.NextContributor(),
		Login:             login,
		GHUserID:          p.ID,
		GHNodeID:          p.NodeID,
		CreatedAt:         p.CreatedAt,
		URL:               p.URL,
		HTMLURL:           p.HTMLURL,
		AvatarURL:         p.AvatarURL,
		GravatarID:        p.GravatarID,
		FollowersURL:      p.FollowersURL,
		FollowingURL:      p.FollowingURL,
		GistsURL:          p.GistsURL,
		StarredURL:        p.StarredURL,
		SubscriptionsURL:  p.SubscriptionsURL,
		OrganizationsURL:  p.OrganizationsURL,
		ReposURL:          p.ReposURL,
		EventsURL:         p.EventsURL,
		ReceivedEventsURL: p.ReceivedEventsURL,
		Type:              p.Type,
		SiteAdmin:         p.SiteAdmin,
		Provenance:        r.provenance,
	}
	if p.Email != "" {
		email := p.Email
		c.CanonicalEmail = &email
	}
	return c
}
