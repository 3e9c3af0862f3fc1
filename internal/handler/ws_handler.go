package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ICShapy/shapy/internal/config"
	"github.com/ICShapy/shapy/internal/hub"
	"github.com/ICShapy/shapy/internal/service"
	"github.com/ICShapy/shapy/pkg/log"
	"github.com/ICShapy/shapy/pkg/middleware"
)

const (
	openTimeout  = 10 * time.Second
	closeTimeout = 10 * time.Second
)

type WSHandler struct {
	hub      *hub.Hub
	engine   *service.Engine
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, engine *service.Engine, wsCfg config.WebSocketConfig, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:    h,
		engine: engine,
		wsCfg:  wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

// HandleWebSocket upgrades the request and serves one editing session on
// the request goroutine until the connection ends.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	sceneID := c.Param("scene_id")
	userID := middleware.GetUserID(c)
	l := log.Ctx(c.Request.Context())

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Str(log.FieldSceneID, sceneID).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)
	h.hub.Register(client)
	go client.WritePump()

	// Detached from the request so cleanup still runs after cancellation.
	base := log.WithLogger(context.Background(), l)

	openCtx, cancel := context.WithTimeout(base, openTimeout)
	sess, err := h.engine.Open(openCtx, service.OpenParams{
		SessionID: client.ID,
		SceneID:   sceneID,
		UserID:    userID,
	}, client)
	cancel()
	if err != nil {
		if !errors.Is(err, service.ErrAccessDenied) {
			l.Error().Err(err).Str(log.FieldSceneID, sceneID).Msg("failed to open session")
			_ = client.Close(service.CloseInternalError, "failed to open scene")
		}
		h.hub.Unregister(client)
		return
	}

	client.SetDisconnectHandler(func(*hub.Client) {
		ctx, cancel := context.WithTimeout(base, closeTimeout)
		defer cancel()
		if err := sess.Close(ctx); err != nil {
			l.Warn().Err(err).Msg("session closed with errors")
		}
	})

	client.ReadPump(func(c *hub.Client, message []byte) {
		if err := sess.Handle(base, message); err != nil {
			l.Error().Err(err).Str(log.FieldSessionID, c.ID).Msg("closing session after failure")
			_ = c.Close(service.CloseInternalError, "scene update failed")
		}
	})
}

// checkOrigin allows any origin when the list is empty.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
