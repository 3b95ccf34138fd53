package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/middleware"
	"github.com/lalith-99/viewify/internal/observ"
	"github.com/lalith-99/viewify/internal/repository"
)

// UserHandler serves profile lookups.
type UserHandler struct {
	repo   repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, logger: observ.OrNop(logger)}
}

// GetMe handles GET /v1/users/me
func (h *UserHandler) GetMe(c *gin.Context) {
	h.get(c, middleware.GetUserID(c))
}

// GetByID handles GET /v1/users/:id
func (h *UserHandler) GetByID(c *gin.Context) {
	h.get(c, c.Param("id"))
}

func (h *UserHandler) get(c *gin.Context, id string) {
	user, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	// The repo returns nil, nil for an unknown id.
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}
