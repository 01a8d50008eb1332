package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shared-grid/backend/internal/model"
	"github.com/shared-grid/backend/internal/ws"
)

// WebSocketHandler handles WebSocket connections for shared tables.
type WebSocketHandler struct {
	wsHandler *ws.Handler
	logger    *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		wsHandler: wsHandler,
		logger:    logger,
	}
}

// Connect handles WS /ws/:tableId - joins a shared table.
// Unsupported tables are still upgraded and then closed with a policy-violation code.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	tableID := c.Param("tableId")
	if tableID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Table ID is required")
		return
	}

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, tableID); err != nil {
		if errors.Is(err, model.ErrUnsupportedTable) {
			// Already closed with 1008 and logged by the relay
			return
		}
		// The upgrader has already written the HTTP error response
		h.logger.Warn("websocket upgrade failed", zap.String("table", tableID), zap.Error(err))
	}
}

// RegisterRoutes registers the WebSocket route on a Gin router.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws/:tableId", h.Connect)
}
