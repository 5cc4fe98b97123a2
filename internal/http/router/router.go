package router

import (
	"github.com/gin-gonic/gin"

	"nexus.app/ingest/internal/http/handler"
	"nexus.app/ingest/internal/http/handler/webhook"
	"nexus.app/ingest/internal/http/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Webhook   *webhook.Handler
	Items     *handler.ItemHandler
	Whitelist *handler.WhitelistHandler
	Sessions  *handler.SessionHandler
}

func SetupRoutes(router *gin.Engine, h Handlers, adminAPIKey string) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider-facing ingress; authenticated per provider inside the relay.
	router.POST("/webhook/:agent/:source/:type", h.Webhook.Handle)

	// Agent/operator API behind the shared admin key.
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RequireAPIKey(adminAPIKey))
	{
		ItemRouter(v1, h.Items)
		WhitelistRouter(v1.Group("/whitelist"), h.Whitelist)
		v1.POST("/sessions", h.Sessions.Create)
	}
}
