package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nexus.app/ingest/internal/store"
)

const (
	defaultItemLimit = 50
	maxItemLimit     = 200
)

// ItemHandler serves the pull side of the pipeline: agents list their
// items, fetch blob content and delete what they have consumed.
type ItemHandler struct {
	items store.ItemStore
	blobs store.BlobStore
}

func NewItemHandler(items store.ItemStore, blobs store.BlobStore) *ItemHandler {
	return &ItemHandler{
		items: items,
		blobs: blobs,
	}
}

// List serves GET /api/v1/agents/:agent/items.
func (h *ItemHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	agent := c.Param("agent")
	sourceType := c.Query("source_type")

	limit := int32(defaultItemLimit)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = int32(min(parsed, maxItemLimit))
	}

	items, err := h.items.ListByAgent(ctx, agent, sourceType, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list items", "error", err, "agent", agent)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list items"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// GetBlob serves GET /api/v1/items/:id/blobs/:key. The key is the logical
// name ("body", "transcript"), resolved through the item's blob key map.
func (h *ItemHandler) GetBlob(c *gin.Context) {
	ctx := c.Request.Context()

	item, err := h.items.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to load item", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load item"})
		return
	}

	objectKey, ok := item.BlobKeys[c.Param("key")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "blob not found"})
		return
	}

	content, contentType, err := h.blobs.Get(ctx, objectKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "blob not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to load blob", "error", err, "key", objectKey)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load blob"})
		return
	}

	c.Data(http.StatusOK, contentType, content)
}

// Delete serves DELETE /api/v1/items/:id. Blob objects are removed best
// effort after the row; an orphaned object costs storage, a dangling
// reference costs correctness.
func (h *ItemHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()

	id := c.Param("id")
	item, err := h.items.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to load item", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete item"})
		return
	}

	if err := h.items.Delete(ctx, id); err != nil {
		slog.ErrorContext(ctx, "failed to delete item", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete item"})
		return
	}

	for logical, objectKey := range item.BlobKeys {
		if err := h.blobs.Remove(ctx, objectKey); err != nil {
			slog.WarnContext(ctx, "failed to remove blob object",
				"error", err, "logical", logical, "key", objectKey)
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
