package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mkweber/inkpot/domain"
)

// apiRoutes mounts the token-guarded local API. This is how articles get
// published and remote actors followed; there is no session-based UI.
func (s *Server) apiRoutes(g *gin.Engine) {
	api := g.Group("/api", TokenAuthMiddleware(s.conf.Conf.ApiToken))

	api.POST("/articles", s.handlePublish)
	api.DELETE("/articles/:id", s.handleDeleteArticle)
	api.POST("/follow", s.handleFollow)
	api.POST("/like", s.handleLike)
	api.POST("/reshare", s.handleReshare)
	api.GET("/notifications", s.handleNotifications)
}

func (s *Server) localActor(c *gin.Context, username string) *domain.Actor {
	err, actor := s.db.ActorByUsername(username)
	if err != nil || actor == nil || !actor.Local {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown local actor"})
		return nil
	}
	return actor
}

func (s *Server) handlePublish(c *gin.Context) {
	var req struct {
		Author  string `json:"author" binding:"required"`
		Title   string `json:"title" binding:"required"`
		Content string `json:"content" binding:"required"`
		Summary string `json:"summary"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	author := s.localActor(c, req.Author)
	if author == nil {
		return
	}

	article, err := s.federator.PublishArticle(author, req.Title, req.Content, req.Summary)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to publish article"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": article.Id.String(), "uri": article.URI})
}

func (s *Server) handleDeleteArticle(c *gin.Context) {
	articleId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid article ID"})
		return
	}

	err, article := s.db.ArticleById(articleId)
	if err != nil || article == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Article not found"})
		return
	}

	err, author := s.db.ActorById(article.AuthorId)
	if err != nil || author == nil || !author.Local {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a local article"})
		return
	}

	if err := s.federator.DeleteArticle(author, article); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete article"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleFollow(c *gin.Context) {
	var req struct {
		Actor  string `json:"actor" binding:"required"`
		Target string `json:"target" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := s.localActor(c, req.Actor)
	if actor == nil {
		return
	}

	if err := s.federator.FollowActor(c.Request.Context(), actor, req.Target); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to follow actor"})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleLike(c *gin.Context) {
	var req struct {
		Actor   string `json:"actor" binding:"required"`
		Article string `json:"article" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := s.localActor(c, req.Actor)
	if actor == nil {
		return
	}

	liked, err := s.federator.ToggleLike(c.Request.Context(), actor, req.Article)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to toggle like"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked})
}

func (s *Server) handleReshare(c *gin.Context) {
	var req struct {
		Actor   string `json:"actor" binding:"required"`
		Article string `json:"article" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := s.localActor(c, req.Actor)
	if actor == nil {
		return
	}

	reshared, err := s.federator.ToggleReshare(c.Request.Context(), actor, req.Article)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to toggle reshare"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reshared": reshared})
}

func (s *Server) handleNotifications(c *gin.Context) {
	username := c.Query("actor")
	actor := s.localActor(c, username)
	if actor == nil {
		return
	}

	err, notifications := s.db.NotificationsFor(actor.Id, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load notifications"})
		return
	}

	out := make([]gin.H, 0, len(*notifications))
	for _, n := range *notifications {
		out = append(out, gin.H{
			"id":        n.Id.String(),
			"kind":      n.Kind,
			"actorId":   n.ActorId.String(),
			"objectUri": n.ObjectURI,
			"read":      n.Read,
			"createdAt": n.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out})
}
