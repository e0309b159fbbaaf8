package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"screencopy/service"
)

// Dependencies are the services the HTTP surface dispatches to.
type Dependencies struct {
	// BaseContext outlives requests; commands run under it.
	BaseContext context.Context
	Devices     *service.DeviceManager
	Commands    *service.Commands
	Streaming   *service.StreamingService
	History     *service.HistoryService
	Hub         *WebSocketHub
	Gatherer    prometheus.Gatherer
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	// Enable CORS
	router.Use(CORSMiddleware())

	router.GET("/health", func(c *gin.Context) {
		HealthCheck(c, deps.Hub)
	})

	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// API routes
	api := router.Group("/api")
	{
		devices := api.Group("/devices")
		{
			devices.GET("", func(c *gin.Context) {
				GetDevices(c, deps.Devices)
			})
			devices.GET("/:serial", func(c *gin.Context) {
				GetDevice(c, deps.Devices)
			})
			devices.POST("/scan", func(c *gin.Context) {
				ScanDevices(c, deps.Devices)
			})
		}

		api.POST("/commands/:name", func(c *gin.Context) {
			RunCommand(c, deps.BaseContext, deps.Commands)
		})

		streaming := api.Group("/streaming")
		{
			streaming.GET("/status", func(c *gin.Context) {
				GetStreamingStatus(c, deps.Streaming, deps.Hub)
			})
			streaming.POST("/stop/:panel_id", func(c *gin.Context) {
				StopStreaming(c, deps.Streaming)
			})
		}

		panels := api.Group("/panels")
		{
			panels.GET("/:panel_id", func(c *gin.Context) {
				GetPanel(c, deps.Hub)
			})
			panels.DELETE("/:panel_id", func(c *gin.Context) {
				DisposePanel(c, deps.Hub)
			})
		}

		api.GET("/sessions", func(c *gin.Context) {
			GetSessions(c, deps.History)
		})
	}

	// WebSocket route
	router.GET("/ws", func(c *gin.Context) {
		HandleWebSocket(deps.Hub, c)
	})
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
