package api

import (
	"github.com/gin-gonic/gin"
	"github.com/stephencjuliano/streambox/internal/api/handlers"
	"github.com/stephencjuliano/streambox/internal/api/middleware"
	"github.com/stephencjuliano/streambox/internal/config"
	"github.com/stephencjuliano/streambox/internal/db"
	"github.com/stephencjuliano/streambox/pkg/ffmpeg"
)

// NewRouter creates and configures the Gin router
func NewRouter(database *db.DB, cfg *config.Config, sessions *ffmpeg.SessionManager) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// Global middleware
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger())

	streamHandler := handlers.NewStreamHandler(database, cfg, sessions)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// HLS streaming
	stream := router.Group("/stream")
	{
		stream.GET("/:file_id/index.m3u8", streamHandler.GetMasterPlaylist)
		stream.GET("/:file_id/:kind/:idx/:profile/index.m3u8", streamHandler.GetVariantPlaylist)
		stream.GET("/:file_id/:kind/:idx/:profile/:segment", streamHandler.GetSegment)
	}

	return router
}
