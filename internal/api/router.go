package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/middleware"
	"github.com/lalith-99/viewify/internal/repository"
	"github.com/lalith-99/viewify/internal/session"
)

// Register mounts every authenticated route on v1. The caller owns the
// group and its middleware.
func Register(v1 *gin.RouterGroup, sessions *session.Manager, users repository.UserRepository, logger *zap.Logger) {
	comments := NewCommentHandler(sessions, logger)
	chats := NewChatHandler(sessions, logger)
	follows := NewFollowHandler(sessions, logger)
	sess := NewSessionHandler(sessions, logger)
	usersH := NewUserHandler(users, logger)

	v1.POST("/session", sess.Start)
	v1.DELETE("/session", sess.End)
	v1.GET("/ws", sess.Stream)

	v1.GET("/users/me", usersH.GetMe)
	v1.GET("/users/:id", usersH.GetByID)

	post := v1.Group("/posts/:postId/comments")
	post.GET("", comments.List)
	post.POST("", comments.Create)
	post.DELETE("", comments.Close)
	post.PATCH("/:id", comments.Edit)
	post.DELETE("/:id", comments.Delete)
	post.POST("/:id/expand", comments.Expand)
	post.POST("/:id/collapse", comments.Collapse)
	post.POST("/:id/retry", comments.Retry)
	post.POST("/:id/discard", comments.Discard)

	v1.GET("/chats", chats.Conversations)
	chat := v1.Group("/chats/:peerId")
	chat.GET("/messages", chats.List)
	chat.POST("/messages", chats.Send)
	chat.PATCH("/messages/:id", chats.Edit)
	chat.DELETE("/messages/:id", chats.Delete)
	chat.POST("/messages/:id/retry", chats.Retry)
	chat.POST("/messages/:id/discard", chats.Discard)
	chat.POST("/read", chats.MarkRead)

	v1.GET("/overlay", chats.Overlay)
	v1.PUT("/overlay", chats.OpenOverlay)
	v1.DELETE("/overlay", chats.CloseOverlay)

	v1.GET("/follows", follows.List)
	v1.GET("/follows/:userId", follows.Get)
	v1.PUT("/follows/:userId", follows.Follow)
	v1.DELETE("/follows/:userId", follows.Unfollow)
}

// NewRouter builds the engine: a public health check and the v1 routes
// behind token auth.
func NewRouter(secret string, sessions *session.Manager, users repository.UserRepository, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/v1/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(secret))
	Register(v1, sessions, users, logger)
	return r
}
