package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/follow"
	"github.com/lalith-99/viewify/internal/reconcile"
	"github.com/lalith-99/viewify/internal/repository"
	"github.com/lalith-99/viewify/internal/session"
)

// waitTimeout bounds how long ?wait=true holds a request open for the
// store's answer.
const waitTimeout = 15 * time.Second

// writeError maps core errors to status codes. Anything unexpected is
// logged and answered with a generic message.
func writeError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, reconcile.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, reconcile.ErrUnauthorizedMutation):
		status = http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, follow.ErrNotFollowing):
		status = http.StatusNotFound
	case errors.Is(err, reconcile.ErrNotConfirmed), errors.Is(err, follow.ErrAlreadyFollowing):
		status = http.StatusConflict
	case errors.Is(err, reconcile.ErrUnmounted), errors.Is(err, session.ErrClosed):
		status = http.StatusGone
	case errors.Is(err, reconcile.ErrParentFailed), errors.Is(err, reconcile.ErrStoreCallFailed):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// accepted answers a mutation. By default the change is only applied
// locally and the store call continues in the background: 202 with the
// temporary id. With ?wait=true the handler waits for the store.
func accepted(c *gin.Context, logger *zap.Logger, msg string, op *reconcile.Op) {
	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, gin.H{"local_id": op.LocalID()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), waitTimeout)
	defer cancel()
	e, err := op.Wait(ctx)
	if err != nil {
		writeError(c, logger, msg, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type textRequest struct {
	Text string `json:"text" binding:"required"`
}
