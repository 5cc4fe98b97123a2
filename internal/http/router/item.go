package router

import (
	"github.com/gin-gonic/gin"

	"nexus.app/ingest/internal/http/handler"
)

func ItemRouter(rg *gin.RouterGroup, h *handler.ItemHandler) {
	rg.GET("/agents/:agent/items", h.List)
	rg.GET("/items/:id/blobs/:key", h.GetBlob)
	rg.DELETE("/items/:id", h.Delete)
}
