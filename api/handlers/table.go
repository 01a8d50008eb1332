package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shared-grid/backend/internal/model"
	"github.com/shared-grid/backend/internal/repository"
	"github.com/shared-grid/backend/internal/ws"
)

// EditLister reads the edit journal.
type EditLister interface {
	ListRecent(ctx context.Context, tableID string, limit int) ([]*model.Edit, error)
}

// TableHandler serves read-only table status.
type TableHandler struct {
	service *ws.Service
	edits   EditLister
}

// NewTableHandler creates a new TableHandler. edits may be nil when the journal is disabled.
func NewTableHandler(service *ws.Service, edits EditLister) *TableHandler {
	return &TableHandler{
		service: service,
		edits:   edits,
	}
}

// TableResponse represents a table in API responses.
type TableResponse struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	Connections int    `json:"connections"`
}

// EditsResponse represents a page of journal entries.
type EditsResponse struct {
	TableID string        `json:"tableId"`
	Edits   []*model.Edit `json:"edits"`
}

// Get handles GET /api/tables/:tableId - returns the current serialized state.
func (h *TableHandler) Get(c *gin.Context) {
	tableID := c.Param("tableId")
	if !h.service.Handler().IsSupported(tableID) {
		sendError(c, http.StatusNotFound, "TABLE_NOT_FOUND", "Table "+tableID+" not found")
		return
	}

	state, err := h.service.Store().Serialized(tableID)
	if err != nil {
		if errors.Is(err, model.ErrTableNotFound) {
			sendError(c, http.StatusNotFound, "TABLE_NOT_FOUND", "Table "+tableID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read table: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, TableResponse{
		ID:          tableID,
		State:       state,
		Connections: h.service.TableConnectionCount(tableID),
	})
}

// ListEdits handles GET /api/tables/:tableId/edits - returns recent journal entries.
func (h *TableHandler) ListEdits(c *gin.Context) {
	tableID := c.Param("tableId")
	if !h.service.Handler().IsSupported(tableID) {
		sendError(c, http.StatusNotFound, "TABLE_NOT_FOUND", "Table "+tableID+" not found")
		return
	}
	if h.edits == nil {
		sendError(c, http.StatusServiceUnavailable, "JOURNAL_DISABLED", "Edit journal is disabled")
		return
	}

	limit := repository.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = n
	}

	edits, err := h.edits.ListRecent(c.Request.Context(), tableID, limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list edits: "+err.Error())
		return
	}
	if edits == nil {
		edits = []*model.Edit{}
	}

	c.JSON(http.StatusOK, EditsResponse{TableID: tableID, Edits: edits})
}

// RegisterRoutes registers the table routes on a Gin router group.
func (h *TableHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tables/:tableId", h.Get)
	rg.GET("/tables/:tableId/edits", h.ListEdits)
}
