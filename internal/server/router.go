package server

import (
	"net/http"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/mw"
	"chatrelay/internal/service"
	"chatrelay/internal/store"
	"chatrelay/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, st *store.Store, hub *ws.Hub, limiter *mw.Limiter) *gin.Engine {
	h := NewHandler(
		service.NewUserService(st, cfg),
		service.NewRoomService(st, hub),
		service.NewMessageService(st),
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSAllow))
	if limiter != nil {
		r.Use(mw.RateLimit(limiter))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", hub.Serve())

	api := r.Group("/api/v1")
	api.POST("/login", h.Login)
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:id/messages", h.ListMessages)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.Middleware(cfg.JWTSecret))
	authed.GET("/me/rooms/joined", h.JoinedRooms)
	authed.GET("/me/rooms/joinable", h.JoinableRooms)
	authed.POST("/me/rooms/:id/join", h.JoinRoom)

	admin := authed.Group("")
	admin.Use(auth.AdminOnly())
	admin.POST("/rooms", h.CreateRoom)
	admin.PUT("/rooms/:id", h.RenameRoom)
	admin.DELETE("/rooms/:id", h.DeleteRoom)

	return r
}
