package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/middleware"
	"github.com/lalith-99/viewify/internal/observ"
	"github.com/lalith-99/viewify/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// SessionHandler starts and ends sessions and streams their updates.
type SessionHandler struct {
	sessions *session.Manager
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewSessionHandler(sessions *session.Manager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: observ.OrNop(logger),
	}
}

// Start handles POST /v1/session
func (h *SessionHandler) Start(c *gin.Context) {
	s, err := h.sessions.Get(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, h.logger, "failed to open session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.ID(), "user_id": s.UserID()})
}

// End handles DELETE /v1/session, i.e. sign-out. Everything the session
// had open is torn down.
func (h *SessionHandler) End(c *gin.Context) {
	h.sessions.End(middleware.GetUserID(c))
	c.Status(http.StatusNoContent)
}

// Stream handles GET /v1/ws: every view update of the caller's session is
// written to the socket as one JSON message. The stream ends when the
// client goes away or the session is closed.
func (h *SessionHandler) Stream(c *gin.Context) {
	s, err := h.sessions.Get(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, h.logger, "failed to open session", err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()
	log := h.logger.With(zap.String("session_id", s.ID()))
	log.Info("update stream opened")

	// Read side: only control frames and close are expected.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Info("update stream read", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	updates := s.Updates()
	for {
		select {
		case u, ok := <-updates:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := ws.WriteJSON(u); err != nil {
				log.Info("update stream write", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			log.Info("update stream closed")
			return
		}
	}
}
