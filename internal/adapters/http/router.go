package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mkrav/confa/internal/adapters/signal"
	"github.com/mkrav/confa/internal/app"
	"github.com/mkrav/confa/internal/config"
	"github.com/mkrav/confa/internal/domain"
)

// SetupRouter wires the admin REST surface, the login endpoint that feeds
// the session record, the signaling websocket and the metrics endpoint.
func SetupRouter(ctx context.Context, cfg *config.Config, rooms *app.RoomManager, ctl *signal.Controller, metrics prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ConfaSession", store))

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": rooms.List()})
	})

	api.POST("/rooms", func(c *gin.Context) {
		var req struct {
			Name           string `json:"name"`
			Password       string `json:"password"`
			VideoCodec     string `json:"videoCodec"`
			SaveChatPolicy bool   `json:"saveChatPolicy"`
			SymmetricMode  bool   `json:"symmetricMode"`
		}
		if err := c.BindJSON(&req); err != nil || req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		codec := domain.VideoCodec(req.VideoCodec)
		if codec == "" {
			codec = domain.CodecVP8
		}
		room, err := rooms.Create(c.Request.Context(), app.CreateRoomParams{
			Name:           domain.RoomName(req.Name),
			Password:       req.Password,
			VideoCodec:     codec,
			SaveChatPolicy: req.SaveChatPolicy,
			SymmetricMode:  req.SymmetricMode,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": room.ID(), "name": room.Meta().Name})
	})

	api.PUT("/rooms/:id", func(c *gin.Context) {
		id := domain.RoomID(c.Param("id"))
		var req struct {
			Name           *string `json:"name"`
			Password       *string `json:"password"`
			SaveChatPolicy *bool   `json:"saveChatPolicy"`
			SymmetricMode  *bool   `json:"symmetricMode"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		params := app.UpdateRoomParams{
			Password:       req.Password,
			SaveChatPolicy: req.SaveChatPolicy,
			SymmetricMode:  req.SymmetricMode,
		}
		if req.Name != nil {
			name := domain.RoomName(*req.Name)
			params.Name = &name
		}
		if err := rooms.Update(c.Request.Context(), id, params); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.DELETE("/rooms/:id", func(c *gin.Context) {
		id := domain.RoomID(c.Param("id"))
		if err := rooms.Remove(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	// Router capability set for the room; clients load their device against
	// this before declaring their own capabilities over the signaling socket.
	api.GET("/rooms/:id/capabilities", func(c *gin.Context) {
		id := domain.RoomID(c.Param("id"))
		room, ok := rooms.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.Data(http.StatusOK, "application/json", room.RouterCapabilities())
	})

	// Live dashboard view: userId -> display name.
	api.GET("/rooms/:id/users", func(c *gin.Context) {
		id := domain.RoomID(c.Param("id"))
		room, ok := rooms.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, room.ActiveUserList())
	})

	// Password verification; on success the room id is recorded in the
	// session, which is what the signaling handshake checks.
	api.POST("/rooms/:id/login", func(c *gin.Context) {
		id := domain.RoomID(c.Param("id"))
		var req struct {
			Password string `json:"password"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		if !rooms.CheckPassword(id, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "wrong password"})
			return
		}
		sess := signal.LoadSession(c)
		sess.Authorize(id)
		if err := signal.SaveSession(c, sess); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics, promhttp.HandlerOpts{})))

	return r
}
