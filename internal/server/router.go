package server

import (
	"net/http"

	"chathub/internal/chat"
	"chathub/internal/config"
	"chathub/internal/metrics"
	"chathub/internal/mw"
	"chathub/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Deps 是 HTTP 层的依赖，限速器为 nil 时不限速。
type Deps struct {
	Hub         *ws.Hub
	Router      *chat.Router
	Log         chat.DurableLog
	HTTPLimiter *mw.RL
	WSLimiter   *mw.RL
}

// SetupRouter 统一初始化 Gin 中间件、查询 API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, err any) {
		log.Error().Interface("panic", err).Str("path", c.Request.URL.Path).Msg("handler panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}))
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", ws.Serve(d.Hub, cfg, d.WSLimiter))
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Chat hub is running. Connect a client to /ws.")
	})

	h := NewHandler(d.Hub, d.Router, d.Log)
	api := r.Group("/api")
	if d.HTTPLimiter != nil {
		api.Use(mw.RateLimit(d.HTTPLimiter))
	}
	api.GET("/messages", h.ListMessages)
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:roomId/messages", h.ListRoomMessages)
	api.GET("/users", h.ListUsers)
	api.GET("/users/:userId", h.GetUser)
	api.GET("/health", h.Health)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return r
}
