package domain

import (
	"time"

	"github.com/google/uuid"
)

// Article is a published piece of content, local or ingested from a remote
// actor. Deletion tombstones the row instead of removing it.
type Article struct {
	Id         uuid.UUID
	URI        string
	AuthorId   uuid.UUID
	Title      string
	Content    string
	Summary    string
	Tombstoned bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TimelineEntry folds an applied activity into the content feed.
type TimelineEntry struct {
	Id        uuid.UUID
	Kind      string // create, like, reshare
	ArticleId uuid.UUID
	ActorId   uuid.UUID
	CreatedAt time.Time
}
