package web

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mkweber/inkpot/activitypub"
	"github.com/mkweber/inkpot/domain"
)

func (s *Server) actorDoc(username string) (error, gin.H) {
	err, actor := s.db.ActorByUsername(username)
	if err != nil || actor == nil {
		return fmt.Errorf("actor %s not found", username), nil
	}

	displayName := actor.DisplayName
	if displayName == "" {
		displayName = actor.Username
	}

	return nil, gin.H{
		"@context": []string{
			activitypub.ActivityContext,
			activitypub.SecurityContext,
		},
		"id":                        actor.URI,
		"type":                      "Person",
		"preferredUsername":         actor.Username,
		"name":                      displayName,
		"summary":                   actor.Summary,
		"inbox":                     actor.InboxURI,
		"outbox":                    actor.OutboxURI,
		"followers":                 actor.FollowersURI,
		"url":                       actor.URI,
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"endpoints": gin.H{
			"sharedInbox": s.conf.LocalURI("inbox"),
		},
		"publicKey": gin.H{
			"id":           actor.URI + "#main-key",
			"owner":        actor.URI,
			"publicKeyPem": actor.PublicKeyPem,
		},
	}
}

func (s *Server) articleDoc(article *domain.Article) (error, gin.H) {
	err, author := s.db.ActorById(article.AuthorId)
	if err != nil || author == nil {
		return fmt.Errorf("author of %s not found", article.URI), nil
	}

	doc := gin.H{
		"@context":     activitypub.ActivityContext,
		"id":           article.URI,
		"type":         "Article",
		"name":         article.Title,
		"summary":      article.Summary,
		"content":      article.Content,
		"attributedTo": author.URI,
		"published":    article.CreatedAt.Format(time.RFC3339),
		"to":           []string{activitypub.PublicAudience},
		"cc":           []string{author.FollowersURI},
	}
	if article.UpdatedAt.After(article.CreatedAt) {
		doc["updated"] = article.UpdatedAt.Format(time.RFC3339)
	}
	return nil, doc
}

// outboxDoc renders an actor's recent articles as an ordered collection of
// Create activities, the shape the enrichment import on the other side
// expects to find.
func (s *Server) outboxDoc(username string, limit int) (error, gin.H) {
	err, actor := s.db.ActorByUsername(username)
	if err != nil || actor == nil {
		return fmt.Errorf("actor %s not found", username), nil
	}

	err, articles := s.db.ArticlesByAuthor(actor.Id, limit)
	if err != nil {
		return err, nil
	}

	items := make([]gin.H, 0, len(*articles))
	for _, article := range *articles {
		article := article
		err, doc := s.articleDoc(&article)
		if err != nil {
			continue
		}
		delete(doc, "@context")
		items = append(items, gin.H{
			"id":        article.URI + "#create",
			"type":      "Create",
			"actor":     actor.URI,
			"published": article.CreatedAt.Format(time.RFC3339),
			"object":    doc,
		})
	}

	return nil, gin.H{
		"@context":     activitypub.ActivityContext,
		"id":           actor.OutboxURI,
		"type":         "OrderedCollection",
		"totalItems":   len(items),
		"orderedItems": items,
	}
}

func (s *Server) followersDoc(username string) (error, gin.H) {
	err, actor := s.db.ActorByUsername(username)
	if err != nil || actor == nil {
		return fmt.Errorf("actor %s not found", username), nil
	}

	err, followers := s.db.FollowersOf(actor.Id)
	if err != nil {
		return err, nil
	}

	items := make([]string, 0, len(*followers))
	for _, follower := range *followers {
		items = append(items, follower.URI)
	}

	return nil, gin.H{
		"@context":     activitypub.ActivityContext,
		"id":           actor.FollowersURI,
		"type":         "OrderedCollection",
		"totalItems":   len(items),
		"orderedItems": items,
	}
}
