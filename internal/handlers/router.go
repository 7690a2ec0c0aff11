package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mossy-p/studyroom-signaling/internal/middleware"
)

// NewRouter builds the gin engine serving the REST API and the websocket endpoint.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Metrics())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(h.cfg.AllowedOrigins))

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	{
		// Create room (requires JWT)
		apiGroup.POST("/rooms", middleware.JWTAuth(h.cfg.JWTSecret), h.CreateRoom)

		// Room info and polling snapshot (public)
		apiGroup.GET("/rooms/:roomId", h.GetRoom)
		apiGroup.GET("/rooms/:roomId/state", h.GetRoomState)

		// Delete room (requires JWT, host only)
		apiGroup.DELETE("/rooms/:roomId", middleware.JWTAuth(h.cfg.JWTSecret), h.DeleteRoom)
	}

	wsGroup := router.Group("/ws")
	{
		// Identity comes from an optional token; the room from join-room
		wsGroup.GET("/room", middleware.OptionalJWT(h.cfg.JWTSecret), h.HandleWebSocket)
	}

	return router
}
