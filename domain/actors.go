package domain

import (
	"time"

	"github.com/google/uuid"
)

// Actor is any identity participating in the federation protocol, local or
// remote. The URI is the identity key and never changes; the public key may
// be replaced on rotation.
type Actor struct {
	Id             uuid.UUID
	URI            string
	Username       string
	DisplayName    string
	Summary        string
	InboxURI       string
	SharedInboxURI string
	OutboxURI      string
	FollowersURI   string
	PublicKeyPem   string
	PrivateKeyPem  string // only set for local actors
	InstanceId     uuid.UUID
	Local          bool
	Tombstoned     bool
	LastFetchedAt  time.Time
	CreatedAt      time.Time
}

// NeedsRefresh reports whether the cached copy of a remote actor is stale.
func (a *Actor) NeedsRefresh(maxAge time.Duration) bool {
	if a.Local {
		return false
	}
	return a.LastFetchedAt.IsZero() || time.Since(a.LastFetchedAt) > maxAge
}

// Instance is the server an actor belongs to.
type Instance struct {
	Id           uuid.UUID
	PublicDomain string
	Local        bool
	Blocked      bool
	CreatedAt    time.Time
}
