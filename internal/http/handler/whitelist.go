package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"nexus.app/ingest/internal/model"
	"nexus.app/ingest/internal/whitelist"
)

// WhitelistHandler exposes manual allow-list management. Adding entries
// also promotes any pending items the new entries cover.
type WhitelistHandler struct {
	whitelist *whitelist.Service
}

func NewWhitelistHandler(svc *whitelist.Service) *WhitelistHandler {
	return &WhitelistHandler{whitelist: svc}
}

type addEntriesRequest struct {
	Domains []string `json:"domains"`
	Emails  []string `json:"emails"`
}

// Create serves POST /api/v1/whitelist.
func (h *WhitelistHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req addEntriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Domains) == 0 && len(req.Emails) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no entries provided"})
		return
	}

	added, err := h.whitelist.AddEntries(ctx, req.Domains, req.Emails, model.AddedByManual)
	if err != nil {
		slog.ErrorContext(ctx, "failed to add whitelist entries", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add entries"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"added": added, "count": len(added)})
}

// List serves GET /api/v1/whitelist.
func (h *WhitelistHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	entries, err := h.whitelist.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list whitelist entries", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list entries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// Delete serves DELETE /api/v1/whitelist/:kind/:value.
func (h *WhitelistHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()

	kind := model.WhitelistKind(c.Param("kind"))
	if kind != model.WhitelistDomain && kind != model.WhitelistEmail {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be domain or email"})
		return
	}

	if err := h.whitelist.RemoveEntry(ctx, kind, c.Param("value")); err != nil {
		slog.ErrorContext(ctx, "failed to remove whitelist entry", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove entry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
