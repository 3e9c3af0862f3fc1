package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/ICShapy/shapy/internal/hub"
	"github.com/ICShapy/shapy/internal/service"
	"github.com/ICShapy/shapy/pkg/log"
	"github.com/ICShapy/shapy/pkg/middleware"
	"github.com/ICShapy/shapy/pkg/response"
)

// Handler handles HTTP requests for the edit service.
type Handler struct {
	engine         *service.Engine
	hub            *hub.Hub
	ws             *WSHandler
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(engine *service.Engine, h *hub.Hub, ws *WSHandler, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		engine:         engine,
		hub:            h,
		ws:             ws,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api", h.authMiddleware.OptionalAuth())
	{
		api.GET("/edit/:scene_id", h.ws.HandleWebSocket)
		api.GET("/scenes/:scene_id/state", h.GetSceneState)
	}
}

// GetSceneState returns the live state of a scene.
func (h *Handler) GetSceneState(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	sceneID := c.Param("scene_id")

	state, err := h.engine.State(ctx, sceneID, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrAccessDenied) {
			response.Forbidden(c, "no access to scene")
			return
		}
		l.Error().Err(err).Str(log.FieldSceneID, sceneID).Msg("failed to get scene state")
		response.InternalError(c, "failed to get scene state")
		return
	}

	response.Success(c, state)
}

// HealthCheck reports liveness and the number of connected clients.
func (h *Handler) HealthCheck(c *gin.Context) {
	response.Success(c, gin.H{
		"status":  "ok",
		"clients": h.hub.Count(),
	})
}
