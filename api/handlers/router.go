package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shared-grid/backend/internal/ws"
)

// NewRouter builds the gin engine with all routes registered.
func NewRouter(service *ws.Service, edits EditLister, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	NewStatusHandler(service).RegisterRoutes(r)
	NewWebSocketHandler(service.Handler(), logger).RegisterRoutes(r)

	api := r.Group("/api")
	{
		NewTableHandler(service, edits).RegisterRoutes(api)
	}

	return r
}
