package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/follow"
	"github.com/lalith-99/viewify/internal/middleware"
	"github.com/lalith-99/viewify/internal/observ"
	"github.com/lalith-99/viewify/internal/session"
)

type FollowHandler struct {
	sessions *session.Manager
	logger   *zap.Logger
}

func NewFollowHandler(sessions *session.Manager, logger *zap.Logger) *FollowHandler {
	return &FollowHandler{sessions: sessions, logger: observ.OrNop(logger)}
}

func (h *FollowHandler) following(c *gin.Context) (*follow.Following, bool) {
	s, err := h.sessions.Get(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, h.logger, "failed to open session", err)
		return nil, false
	}
	f, err := s.Following(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "failed to load follows", err)
		return nil, false
	}
	return f, true
}

// List handles GET /v1/follows
func (h *FollowHandler) List(c *gin.Context) {
	f, ok := h.following(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, f.IDs())
}

// Get handles GET /v1/follows/:userId
func (h *FollowHandler) Get(c *gin.Context) {
	f, ok := h.following(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": f.IsFollowing(c.Param("userId"))})
}

// Follow handles PUT /v1/follows/:userId
func (h *FollowHandler) Follow(c *gin.Context) {
	f, ok := h.following(c)
	if !ok {
		return
	}
	op, err := f.Follow(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, h.logger, "failed to follow", err)
		return
	}
	accepted(c, h.logger, "failed to follow", op)
}

// Unfollow handles DELETE /v1/follows/:userId
func (h *FollowHandler) Unfollow(c *gin.Context) {
	f, ok := h.following(c)
	if !ok {
		return
	}
	op, err := f.Unfollow(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, h.logger, "failed to unfollow", err)
		return
	}
	accepted(c, h.logger, "failed to unfollow", op)
}
