package router

import (
	"github.com/gin-gonic/gin"

	"nexus.app/ingest/internal/http/handler"
)

func WhitelistRouter(rg *gin.RouterGroup, h *handler.WhitelistHandler) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.DELETE("/:kind/:value", h.Delete)
}
