package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/mkweber/inkpot/activitypub"
	"github.com/mkweber/inkpot/db"
	"github.com/mkweber/inkpot/util"
)

const activityJSON = "application/activity+json; charset=utf-8"

// Server wires the HTTP surface to the protocol engine. Everything it needs
// is passed in; handlers hold no globals.
type Server struct {
	conf       *util.AppConfig
	db         *db.DB
	dispatcher *activitypub.Dispatcher
	federator  *activitypub.Federator
}

func NewServer(conf *util.AppConfig, database *db.DB, dispatcher *activitypub.Dispatcher, federator *activitypub.Federator) *Server {
	return &Server{conf: conf, db: database, dispatcher: dispatcher, federator: federator}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Inbound federation gets a stricter limit and a body cap.
	apLimiter := NewRateLimiter(rate.Limit(5), 10)
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.handleInbox)
	g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.handleInbox)

	g.GET("/users/:actor", func(c *gin.Context) {
		c.Header("Content-Type", activityJSON)
		err, doc := s.actorDoc(c.Param("actor"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
			return
		}
		c.JSON(200, doc)
	})

	g.GET("/users/:actor/outbox", func(c *gin.Context) {
		c.Header("Content-Type", activityJSON)
		err, doc := s.outboxDoc(c.Param("actor"), 20)
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
			return
		}
		c.JSON(200, doc)
	})

	g.GET("/users/:actor/followers", func(c *gin.Context) {
		c.Header("Content-Type", activityJSON)
		err, doc := s.followersDoc(c.Param("actor"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
			return
		}
		c.JSON(200, doc)
	})

	g.GET("/articles/:id", func(c *gin.Context) {
		c.Header("Content-Type", activityJSON)
		err, article := s.db.ArticleByURI(s.conf.LocalURI("articles/%s", c.Param("id")))
		if err != nil || article == nil || article.Tombstoned {
			c.JSON(404, gin.H{"error": "Article not found"})
			return
		}
		err, doc := s.articleDoc(article)
		if err != nil {
			c.JSON(404, gin.H{"error": "Article not found"})
			return
		}
		c.JSON(200, doc)
	})

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		resource := c.Query("resource")
		if !strings.HasPrefix(resource, "acct:") {
			c.JSON(404, webFingerNotFound())
			return
		}
		resource = strings.TrimPrefix(resource, "acct:")
		resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", s.conf.Conf.SslDomain))
		err, doc := s.webfingerDoc(resource)
		if err != nil {
			c.JSON(404, webFingerNotFound())
			return
		}
		c.JSON(200, doc)
	})

	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := s.GetRSS(c.Query("username"))
		if err != nil {
			c.Render(404, render.String{Format: ""})
			return
		}
		c.Render(200, render.String{Format: rss})
	})

	g.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.apiRoutes(g)
	return g
}

// Run starts the HTTP server and blocks.
func (s *Server) Run() error {
	log.Info("Starting federation server", "host", s.conf.Conf.Host, "port", s.conf.Conf.HttpPort)
	return s.Router().Run(fmt.Sprintf(":%d", s.conf.Conf.HttpPort))
}

// handleInbox serves both the shared inbox and the per-actor inbox. The
// reply is uniform: 202 whenever the delivery was handled, including
// duplicates and silent discards, and a bare 400 for every rejection so the
// sender cannot tell which stage refused it. Detail goes to the log only.
func (s *Server) handleInbox(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if _, err := s.dispatcher.HandleDelivery(c.Request.Context(), c.Request, body); err != nil {
		log.Info("Inbox: delivery rejected", "err", err)
		c.Status(http.StatusBadRequest)
		return
	}
	c.Status(http.StatusAccepted)
}
