package web

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

func (s *Server) webfingerDoc(username string) (error, gin.H) {
	err, actor := s.db.ActorByUsername(username)
	if err != nil || actor == nil {
		return fmt.Errorf("actor %s not found", username), nil
	}

	return nil, gin.H{
		"subject": fmt.Sprintf("acct:%s@%s", actor.Username, s.conf.Conf.SslDomain),
		"links": []gin.H{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": actor.URI,
			},
		},
	}
}

func webFingerNotFound() gin.H {
	return gin.H{"detail": "Not Found"}
}
