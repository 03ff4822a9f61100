package activitypub

import (
	"github.com/google/uuid"
	"github.com/mkweber/inkpot/domain"
)

// Store is the domain-store collaborator the protocol engine runs against.
// db.DB implements it; tests use an in-memory fake. Connections are never
// held across network calls: every method spans one bounded store operation.
type Store interface {
	// Actors
	ActorByURI(uri string) (error, *domain.Actor)
	ActorById(id uuid.UUID) (error, *domain.Actor)
	ActorByUsername(username string) (error, *domain.Actor)
	CreateActor(a *domain.Actor) error // insert-if-absent keyed by URI
	UpdateActorProfile(a *domain.Actor) error
	UpdateActorKeys(id uuid.UUID, publicPem, privatePem string) error
	TombstoneActor(id uuid.UUID) error

	// Instances
	EnsureInstance(publicDomain string, local bool) (error, *domain.Instance)
	InstanceByDomain(publicDomain string) (error, *domain.Instance)

	// Articles
	ArticleByURI(uri string) (error, *domain.Article)
	ArticleById(id uuid.UUID) (error, *domain.Article)
	ArticlesByAuthor(authorId uuid.UUID, limit int) (error, *[]domain.Article)
	RecentArticles(limit int) (error, *[]domain.Article)
	CreateArticle(a *domain.Article) error // insert-if-absent keyed by URI
	UpdateArticle(a *domain.Article) error
	TombstoneArticle(id uuid.UUID) error

	// Follows
	FollowByPair(actorId, targetActorId uuid.UUID) (error, *domain.Follow)
	FollowByURI(uri string) (error, *domain.Follow)
	FollowersOf(actorId uuid.UUID) (error, *[]domain.Actor)
	CreateFollow(f *domain.Follow) error
	AcceptFollowByURI(uri string) error
	DeleteFollow(id uuid.UUID) error

	// Likes and reshares
	LikeByPair(actorId, articleId uuid.UUID) (error, *domain.Like)
	CreateLike(l *domain.Like) error
	DeleteLike(id uuid.UUID) error
	ReshareByPair(actorId, articleId uuid.UUID) (error, *domain.Reshare)
	CreateReshare(r *domain.Reshare) error
	DeleteReshare(id uuid.UUID) error

	// Dedup ledger
	InboxRecordExists(activityURI string) (error, bool)
	CreateInboxRecord(rec *domain.InboxRecord) error

	// Content feed
	AddToTimeline(entry *domain.TimelineEntry) error
}

// Notifier is the notification collaborator. The engine emits events; it
// never formats or renders them.
type Notifier interface {
	Notify(n *domain.Notification) error
}
