package web

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/feeds"
	"github.com/mkweber/inkpot/domain"
	"github.com/mkweber/inkpot/util"
)

const feedLimit = 50

// GetRSS renders the newest articles as an RSS feed, optionally filtered to
// one local author.
func (s *Server) GetRSS(username string) (string, error) {
	var articles *[]domain.Article
	var title string
	var author string

	link := s.conf.LocalURI("feed")

	if username != "" {
		err, actor := s.db.ActorByUsername(username)
		if err != nil || actor == nil {
			return "", errors.New("error retrieving articles by username")
		}
		err, articles = s.db.ArticlesByAuthor(actor.Id, feedLimit)
		if err != nil || articles == nil {
			log.Warn("Could not get articles", "username", username, "err", err)
			return "", errors.New("error retrieving articles by username")
		}
		title = fmt.Sprintf("Inkpot Articles - %s", username)
		author = username
		link = fmt.Sprintf("%s?username=%s", link, username)
	} else {
		err, recent := s.db.RecentArticles(feedLimit)
		if err != nil || recent == nil {
			log.Warn("Could not get articles", "err", err)
			return "", errors.New("error retrieving articles")
		}
		articles = recent
		title = "All Inkpot Articles"
		author = "everyone"
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: "federated articles published on this instance",
		Author:      &feeds.Author{Name: author, Email: fmt.Sprintf("%s@%s", author, s.conf.Conf.SslDomain)},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, article := range *articles {
		itemTitle := article.Title
		if itemTitle == "" {
			itemTitle = article.CreatedAt.Format(util.DateTimeFormat())
		}
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      article.Id.String(),
				Title:   itemTitle,
				Link:    &feeds.Link{Href: article.URI},
				Content: article.Content,
				Created: article.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}
