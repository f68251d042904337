// Package ops implements the ambient operational HTTP and WebSocket
// surface: a small gin router exposing liveness, a statistics
// snapshot, and a link-toggle endpoint, plus a WebSocket broadcast of
// the same information. It only ever reads agent state through the
// small published snapshot and the shared link_state primitive — it
// never mutates agent-owned fields directly.
package ops

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/tesgazer-edge/internal/linkwatch"
	"github.com/langchou/tesgazer-edge/pkg/ws"
)

// StatsProvider is the agent's Stats method, kept as an interface seam
// so the router does not depend on the agent package directly.
type StatsProvider func() interface{}

// Handler wires the router's endpoints to the agent it observes.
type Handler struct {
	logger    *zap.Logger
	linkState *linkwatch.LinkState
	stats     StatsProvider
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	onToggle  func(online bool)
}

// New creates a Handler. stats returns the agent's latest published
// snapshot; onToggle, if non-nil, is called after each HTTP-driven
// link flip so the agent can broadcast it the same way as a stdin
// toggle.
func New(logger *zap.Logger, linkState *linkwatch.LinkState, stats StatsProvider, hub *ws.Hub, onToggle func(online bool)) *Handler {
	return &Handler{
		logger:    logger,
		linkState: linkState,
		stats:     stats,
		hub:       hub,
		onToggle:  onToggle,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes attaches the operational endpoints to r.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/stats", h.getStats)
	r.POST("/link/toggle", h.toggleLink)
	r.GET("/ws", h.handleWebSocket)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.hub.ClientCount(),
	})
}

func (h *Handler) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats())
}

func (h *Handler) toggleLink(c *gin.Context) {
	online := h.linkState.Flip()
	h.logger.Info("link state toggled via operational surface", zap.Bool("online", online))
	if h.onToggle != nil {
		h.onToggle(online)
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}

func (h *Handler) handleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection", zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn)
	client.Register()

	go client.ReadPump()
	go client.WritePump()
}
