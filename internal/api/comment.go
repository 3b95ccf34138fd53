package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/commenttree"
	"github.com/lalith-99/viewify/internal/middleware"
	"github.com/lalith-99/viewify/internal/observ"
	"github.com/lalith-99/viewify/internal/reconcile"
	"github.com/lalith-99/viewify/internal/session"
)

// CommentHandler exposes the comment tree of a post.
type CommentHandler struct {
	sessions *session.Manager
	logger   *zap.Logger
}

func NewCommentHandler(sessions *session.Manager, logger *zap.Logger) *CommentHandler {
	return &CommentHandler{sessions: sessions, logger: observ.OrNop(logger)}
}

type createCommentRequest struct {
	Text     string `json:"text" binding:"required"`
	ParentID string `json:"parent_id"`
}

// tree returns the caller's tree for :postId, or writes the error.
func (h *CommentHandler) tree(c *gin.Context) (*commenttree.Tree, string, bool) {
	userID := middleware.GetUserID(c)
	s, err := h.sessions.Get(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.logger, "failed to open session", err)
		return nil, "", false
	}
	t, err := s.Post(c.Request.Context(), c.Param("postId"))
	if err != nil {
		writeError(c, h.logger, "failed to load comments", err)
		return nil, "", false
	}
	return t, userID, true
}

// List handles GET /v1/posts/:postId/comments
func (h *CommentHandler) List(c *gin.Context) {
	t, _, ok := h.tree(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, t.Snapshot())
}

// Create handles POST /v1/posts/:postId/comments. A parent_id makes it a
// reply.
func (h *CommentHandler) Create(c *gin.Context) {
	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, userID, ok := h.tree(c)
	if !ok {
		return
	}

	var (
		op  *reconcile.Op
		err error
	)
	if req.ParentID == "" {
		op, err = t.AddTopLevel(c.Request.Context(), userID, req.Text)
	} else {
		op, err = t.AddReply(c.Request.Context(), req.ParentID, userID, req.Text)
	}
	if err != nil {
		writeError(c, h.logger, "failed to add comment", err)
		return
	}
	accepted(c, h.logger, "failed to add comment", op)
}

// Edit handles PATCH /v1/posts/:postId/comments/:id
func (h *CommentHandler) Edit(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, userID, ok := h.tree(c)
	if !ok {
		return
	}
	op, err := t.Edit(c.Request.Context(), userID, c.Param("id"), req.Text)
	if err != nil {
		writeError(c, h.logger, "failed to edit comment", err)
		return
	}
	accepted(c, h.logger, "failed to edit comment", op)
}

// Delete handles DELETE /v1/posts/:postId/comments/:id
func (h *CommentHandler) Delete(c *gin.Context) {
	t, userID, ok := h.tree(c)
	if !ok {
		return
	}
	op, err := t.Delete(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to delete comment", err)
		return
	}
	accepted(c, h.logger, "failed to delete comment", op)
}

// Expand handles POST /v1/posts/:postId/comments/:id/expand
func (h *CommentHandler) Expand(c *gin.Context) {
	t, _, ok := h.tree(c)
	if !ok {
		return
	}
	if err := t.Expand(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, "failed to load replies", err)
		return
	}
	c.JSON(http.StatusOK, t.Snapshot())
}

// Collapse handles POST /v1/posts/:postId/comments/:id/collapse
func (h *CommentHandler) Collapse(c *gin.Context) {
	t, _, ok := h.tree(c)
	if !ok {
		return
	}
	t.Collapse(c.Param("id"))
	c.JSON(http.StatusOK, t.Snapshot())
}

// Retry handles POST /v1/posts/:postId/comments/:id/retry for a failed
// submission, addressed by its temporary id.
func (h *CommentHandler) Retry(c *gin.Context) {
	t, _, ok := h.tree(c)
	if !ok {
		return
	}
	op, err := t.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to retry comment", err)
		return
	}
	accepted(c, h.logger, "failed to retry comment", op)
}

// Discard handles POST /v1/posts/:postId/comments/:id/discard
func (h *CommentHandler) Discard(c *gin.Context) {
	t, _, ok := h.tree(c)
	if !ok {
		return
	}
	if err := t.Discard(c.Param("id")); err != nil {
		writeError(c, h.logger, "failed to discard comment", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Close handles DELETE /v1/posts/:postId/comments: the client left the
// post, so its tree and feed handlers go away.
func (h *CommentHandler) Close(c *gin.Context) {
	s, err := h.sessions.Get(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, h.logger, "failed to open session", err)
		return
	}
	s.ClosePost(c.Param("postId"))
	c.Status(http.StatusNoContent)
}
