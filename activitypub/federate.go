package activitypub

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/mkweber/inkpot/domain"
	"github.com/mkweber/inkpot/util"
)

// Federator originates local activities and hands them to the broadcaster.
// It is the write-side counterpart of the dispatcher: everything a local
// actor does that remotes should learn about goes through here.
type Federator struct {
	store       Store
	conf        *util.AppConfig
	resolver    *Resolver
	broadcaster *Broadcaster
}

func NewFederator(store Store, conf *util.AppConfig, resolver *Resolver, broadcaster *Broadcaster) *Federator {
	return &Federator{store: store, conf: conf, resolver: resolver, broadcaster: broadcaster}
}

func (f *Federator) activityId() string {
	return f.conf.LocalURI("activities/%s", uuid.New().String())
}

// PublishArticle persists a local article and broadcasts its Create to the
// author's followers. The Create carries an embedded object signature so
// relayed copies stay verifiable without our HTTP headers.
func (f *Federator) PublishArticle(author *domain.Actor, title, content, summary string) (*domain.Article, error) {
	now := time.Now()
	article := &domain.Article{
		Id:        uuid.New(),
		URI:       f.conf.LocalURI("articles/%s", uuid.New().String()),
		AuthorId:  author.Id,
		Title:     title,
		Content:   content,
		Summary:   summary,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.store.CreateArticle(article); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	entry := &domain.TimelineEntry{
		Id:        uuid.New(),
		Kind:      "create",
		ArticleId: article.Id,
		ActorId:   author.Id,
		CreatedAt: now,
	}
	if err := f.store.AddToTimeline(entry); err != nil {
		log.Warn("Federator: failed to add timeline entry", "article", article.URI, "err", err)
	}

	activity := f.buildCreate(author, article)
	f.signActivity(activity, author)
	f.broadcastToFollowers(author, activity)
	return article, nil
}

// UpdateArticle persists an edit and broadcasts the Update.
func (f *Federator) UpdateArticle(author *domain.Actor, article *domain.Article) error {
	article.UpdatedAt = time.Now()
	if err := f.store.UpdateArticle(article); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	activity := f.buildCreate(author, article)
	activity["id"] = f.activityId()
	activity["type"] = "Update"
	f.signActivity(activity, author)
	f.broadcastToFollowers(author, activity)
	return nil
}

// DeleteArticle tombstones a local article, broadcasts the Delete, and
// schedules a delayed key rotation so a leaked key cannot be used to forge
// content under URIs that just went away.
func (f *Federator) DeleteArticle(author *domain.Actor, article *domain.Article) error {
	if err := f.store.TombstoneArticle(article.Id); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	activity := map[string]interface{}{
		"@context": ActivityContext,
		"id":       f.activityId(),
		"type":     "Delete",
		"actor":    author.URI,
		"to":       []string{PublicAudience},
		"object": map[string]interface{}{
			"id":   article.URI,
			"type": "Tombstone",
		},
	}
	f.signActivity(activity, author)
	f.broadcastToFollowers(author, activity)

	delay := time.Duration(f.conf.Conf.KeyRotationDelayMin) * time.Minute
	f.broadcaster.ScheduleKeyRotation(author, delay)
	return nil
}

// AcceptFollow answers an inbound follow. Wired to Dispatcher.OnFollow.
func (f *Federator) AcceptFollow(follow *domain.Follow, follower, target *domain.Actor) {
	activity := map[string]interface{}{
		"@context": ActivityContext,
		"id":       f.activityId(),
		"type":     "Accept",
		"actor":    target.URI,
		"object": map[string]interface{}{
			"id":     follow.URI,
			"type":   "Follow",
			"actor":  follower.URI,
			"object": target.URI,
		},
	}
	f.broadcaster.Broadcast(activity, target, []domain.Actor{*follower})
}

// FollowActor sends a Follow from a local actor to a remote one. The
// relation is stored pending and flips to accepted when their Accept
// arrives through the inbox.
func (f *Federator) FollowActor(ctx context.Context, actor *domain.Actor, targetURI string) error {
	target, err := f.resolver.ResolveActor(ctx, targetURI)
	if err != nil {
		return err
	}

	if err, existing := f.store.FollowByPair(actor.Id, target.Id); err == nil && existing != nil {
		return nil
	}

	follow := &domain.Follow{
		Id:            uuid.New(),
		ActorId:       actor.Id,
		TargetActorId: target.Id,
		URI:           f.activityId(),
		Accepted:      false,
		CreatedAt:     time.Now(),
	}
	if err := f.store.CreateFollow(follow); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	activity := map[string]interface{}{
		"@context": ActivityContext,
		"id":       follow.URI,
		"type":     "Follow",
		"actor":    actor.URI,
		"object":   target.URI,
	}
	f.broadcaster.Broadcast(activity, actor, []domain.Actor{*target})
	return nil
}

// ToggleLike likes an article, or removes an existing like by sending the
// matching Undo. Returns true when the article is liked afterwards.
func (f *Federator) ToggleLike(ctx context.Context, actor *domain.Actor, articleURI string) (bool, error) {
	article, err := f.resolver.ResolveArticle(ctx, articleURI)
	if err != nil {
		return false, err
	}

	err, existing := f.store.LikeByPair(actor.Id, article.Id)
	if err == nil && existing != nil {
		if err := f.store.DeleteLike(existing.Id); err != nil {
			return true, fmt.Errorf("%w: %v", ErrStore, err)
		}
		f.broadcastUndo(actor, article, existing.URI, "Like")
		return false, nil
	}

	like := &domain.Like{
		Id:        uuid.New(),
		ActorId:   actor.Id,
		ArticleId: article.Id,
		URI:       f.activityId(),
		CreatedAt: time.Now(),
	}
	if err := f.store.CreateLike(like); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStore, err)
	}

	activity := map[string]interface{}{
		"@context": ActivityContext,
		"id":       like.URI,
		"type":     "Like",
		"actor":    actor.URI,
		"object":   article.URI,
	}
	f.broadcastInteraction(actor, article, activity)
	return true, nil
}

// ToggleReshare announces an article, or takes the announce back.
func (f *Federator) ToggleReshare(ctx context.Context, actor *domain.Actor, articleURI string) (bool, error) {
	article, err := f.resolver.ResolveArticle(ctx, articleURI)
	if err != nil {
		return false, err
	}

	err, existing := f.store.ReshareByPair(actor.Id, article.Id)
	if err == nil && existing != nil {
		if err := f.store.DeleteReshare(existing.Id); err != nil {
			return true, fmt.Errorf("%w: %v", ErrStore, err)
		}
		f.broadcastUndo(actor, article, existing.URI, "Announce")
		return false, nil
	}

	reshare := &domain.Reshare{
		Id:        uuid.New(),
		ActorId:   actor.Id,
		ArticleId: article.Id,
		URI:       f.activityId(),
		CreatedAt: time.Now(),
	}
	if err := f.store.CreateReshare(reshare); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStore, err)
	}

	activity := map[string]interface{}{
		"@context": ActivityContext,
		"id":       reshare.URI,
		"type":     "Announce",
		"actor":    actor.URI,
		"to":       []string{PublicAudience},
		"object":   article.URI,
	}
	f.broadcastInteraction(actor, article, activity)
	return true, nil
}

func (f *Federator) buildCreate(author *domain.Actor, article *domain.Article) map[string]interface{} {
	followersURI := author.FollowersURI
	if followersURI == "" {
		followersURI = f.conf.LocalURI("users/%s/followers", author.Username)
	}
	return map[string]interface{}{
		"@context":  []string{ActivityContext, SecurityContext},
		"id":        f.activityId(),
		"type":      "Create",
		"actor":     author.URI,
		"published": article.CreatedAt.Format(time.RFC3339),
		"to":        []string{PublicAudience},
		"cc":        []string{followersURI},
		"object": map[string]interface{}{
			"id":           article.URI,
			"type":         "Article",
			"name":         article.Title,
			"summary":      article.Summary,
			"content":      article.Content,
			"attributedTo": author.URI,
			"published":    article.CreatedAt.Format(time.RFC3339),
			"updated":      article.UpdatedAt.Format(time.RFC3339),
			"to":           []string{PublicAudience},
			"cc":           []string{followersURI},
		},
	}
}

func (f *Federator) buildUndo(actor *domain.Actor, innerURI, innerType, objectURI string) map[string]interface{} {
	return map[string]interface{}{
		"@context": ActivityContext,
		"id":       f.activityId(),
		"type":     "Undo",
		"actor":    actor.URI,
		"object": map[string]interface{}{
			"id":     innerURI,
			"type":   innerType,
			"actor":  actor.URI,
			"object": objectURI,
		},
	}
}

func (f *Federator) broadcastUndo(actor *domain.Actor, article *domain.Article, innerURI, innerType string) {
	activity := f.buildUndo(actor, innerURI, innerType, article.URI)
	f.broadcastInteraction(actor, article, activity)
}

func (f *Federator) signActivity(activity map[string]interface{}, actor *domain.Actor) {
	privateKey, err := ParsePrivateKey(actor.PrivateKeyPem)
	if err != nil {
		log.Warn("Federator: cannot sign activity, no usable key", "actor", actor.URI, "err", err)
		return
	}
	if err := SignObject(activity, actor.URI+"#main-key", privateKey); err != nil {
		log.Warn("Federator: failed to sign activity", "actor", actor.URI, "err", err)
	}
}

// broadcastInteraction delivers to the actor's followers plus the article
// author, with the author counted exactly once.
func (f *Federator) broadcastInteraction(actor *domain.Actor, article *domain.Article, activity map[string]interface{}) {
	recipients := f.followersOf(actor)

	if err, author := f.store.ActorById(article.AuthorId); err == nil && author != nil && !author.Local {
		present := false
		for _, rec := range recipients {
			if rec.Id == author.Id {
				present = true
				break
			}
		}
		if !present {
			recipients = append(recipients, *author)
		}
	}

	f.broadcaster.Broadcast(activity, actor, recipients)
}

func (f *Federator) broadcastToFollowers(actor *domain.Actor, activity map[string]interface{}) {
	recipients := f.followersOf(actor)
	if len(recipients) == 0 {
		log.Debug("Federator: no followers to deliver to", "actor", actor.Username)
		return
	}
	f.broadcaster.Broadcast(activity, actor, recipients)
}

func (f *Federator) followersOf(actor *domain.Actor) []domain.Actor {
	err, followers := f.store.FollowersOf(actor.Id)
	if err != nil || followers == nil {
		if err != nil {
			log.Warn("Federator: failed to load followers", "actor", actor.Username, "err", err)
		}
		return nil
	}
	return *followers
}
