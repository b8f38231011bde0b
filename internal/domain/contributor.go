package domain

import "time"

// Contributor represents a row in the contributors table
type Contributor struct {
	ID             int64
	Login          string
	GHUserID       int64
	GHNodeID       string
	CreatedAt      *time.Time
	CanonicalEmail *string

	URL               string
	HTMLURL           string
	AvatarURL         string
	GravatarID        string
	FollowersURL      string
	FollowingURL      string
	GistsURL          string
	StarredURL        string
	SubscriptionsURL  string
	OrganizationsURL  string
	ReposURL          string
	EventsURL         string
	ReceivedEventsURL string
	Type              string
	SiteAdmin         bool

	Provenance
}
