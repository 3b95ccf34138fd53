package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/middleware"
	"github.com/lalith-99/viewify/internal/observ"
	"github.com/lalith-99/viewify/internal/session"
	"github.com/lalith-99/viewify/internal/timeline"
)

// ChatHandler exposes conversations, the chat overlay and read state.
type ChatHandler struct {
	sessions *session.Manager
	logger   *zap.Logger
}

func NewChatHandler(sessions *session.Manager, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{sessions: sessions, logger: observ.OrNop(logger)}
}

func (h *ChatHandler) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, h.logger, "failed to open session", err)
		return nil, false
	}
	return s, true
}

func (h *ChatHandler) timeline(c *gin.Context) (*timeline.Timeline, bool) {
	s, ok := h.session(c)
	if !ok {
		return nil, false
	}
	tl, err := s.Chat(c.Request.Context(), c.Param("peerId"))
	if err != nil {
		writeError(c, h.logger, "failed to load conversation", err)
		return nil, false
	}
	return tl, true
}

// Conversations handles GET /v1/chats
func (h *ChatHandler) Conversations(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	list, err := s.Conversations(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "failed to list conversations", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// List handles GET /v1/chats/:peerId/messages
func (h *ChatHandler) List(c *gin.Context) {
	tl, ok := h.timeline(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": tl.List(),
		"failed":   tl.Failed(),
		"unread":   tl.Unread(),
	})
}

// Send handles POST /v1/chats/:peerId/messages
func (h *ChatHandler) Send(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tl, ok := h.timeline(c)
	if !ok {
		return
	}
	op, err := tl.Send(c.Request.Context(), req.Text)
	if err != nil {
		writeError(c, h.logger, "failed to send message", err)
		return
	}
	accepted(c, h.logger, "failed to send message", op)
}

// Edit handles PATCH /v1/chats/:peerId/messages/:id
func (h *ChatHandler) Edit(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tl, ok := h.timeline(c)
	if !ok {
		return
	}
	op, err := tl.Edit(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		writeError(c, h.logger, "failed to edit message", err)
		return
	}
	accepted(c, h.logger, "failed to edit message", op)
}

// Delete handles DELETE /v1/chats/:peerId/messages/:id
func (h *ChatHandler) Delete(c *gin.Context) {
	tl, ok := h.timeline(c)
	if !ok {
		return
	}
	op, err := tl.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to delete message", err)
		return
	}
	accepted(c, h.logger, "failed to delete message", op)
}

// Retry handles POST /v1/chats/:peerId/messages/:id/retry
func (h *ChatHandler) Retry(c *gin.Context) {
	tl, ok := h.timeline(c)
	if !ok {
		return
	}
	op, err := tl.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to retry message", err)
		return
	}
	accepted(c, h.logger, "failed to retry message", op)
}

// Discard handles POST /v1/chats/:peerId/messages/:id/discard
func (h *ChatHandler) Discard(c *gin.Context) {
	tl, ok := h.timeline(c)
	if !ok {
		return
	}
	if err := tl.Discard(c.Param("id")); err != nil {
		writeError(c, h.logger, "failed to discard message", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkRead handles POST /v1/chats/:peerId/read
func (h *ChatHandler) MarkRead(c *gin.Context) {
	tl, ok := h.timeline(c)
	if !ok {
		return
	}
	ops, err := tl.MarkRead(c.Request.Context(), tl.Peer())
	if err != nil {
		writeError(c, h.logger, "failed to mark read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": len(ops)})
}

type overlayRequest struct {
	PeerID string `json:"peer_id" binding:"required"`
}

// Overlay handles GET /v1/overlay
func (h *ChatHandler) Overlay(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Overlay())
}

// OpenOverlay handles PUT /v1/overlay
func (h *ChatHandler) OpenOverlay(c *gin.Context) {
	var req overlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	tl, err := s.OpenOverlay(c.Request.Context(), req.PeerID)
	if err != nil {
		writeError(c, h.logger, "failed to open chat", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"overlay":  s.Overlay(),
		"messages": tl.List(),
	})
}

// CloseOverlay handles DELETE /v1/overlay
func (h *ChatHandler) CloseOverlay(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.CloseOverlay()
	c.Status(http.StatusNoContent)
}
