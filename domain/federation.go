package domain

import (
	"time"

	"github.com/google/uuid"
)

// Follow represents a follow relationship between two actors.
type Follow struct {
	Id            uuid.UUID
	ActorId       uuid.UUID // the follower
	TargetActorId uuid.UUID // the actor being followed
	URI           string    // Follow activity URI (empty for imported relations)
	Accepted      bool
	CreatedAt     time.Time
}

// Like represents a like on an article.
type Like struct {
	Id        uuid.UUID
	ActorId   uuid.UUID
	ArticleId uuid.UUID
	URI       string
	CreatedAt time.Time
}

// Reshare represents an Announce of an article.
type Reshare struct {
	Id        uuid.UUID
	ActorId   uuid.UUID
	ArticleId uuid.UUID
	URI       string
	CreatedAt time.Time
}

// InboxRecord is the durable dedup ledger entry for an applied activity.
// Keyed by the activity URI, written once, never mutated.
type InboxRecord struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string
	ActorURI     string
	CreatedAt    time.Time
}

// Notification kinds emitted by the dispatcher.
const (
	NotifyFollow  = "follow"
	NotifyLike    = "like"
	NotifyReshare = "reshare"
	NotifyMention = "mention"
)

// Notification tells a local actor that something happened to them.
type Notification struct {
	Id            uuid.UUID
	Kind          string
	ActorId       uuid.UUID // who triggered it
	TargetActorId uuid.UUID // who it is for
	ObjectURI     string
	Read          bool
	CreatedAt     time.Time
}
