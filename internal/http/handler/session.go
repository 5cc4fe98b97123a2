package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"nexus.app/ingest/internal/model"
	"nexus.app/ingest/internal/store"
)

// MaxSessionBytes caps one transcript upload. The sync daemon enforces the
// same limit client-side; the server limit is authoritative.
const MaxSessionBytes = 10 << 20

const sessionSourceType = "session-transcript"

// SessionHandler ingests agent session transcripts uploaded by the sync
// daemon. Uploads are idempotent per session id: a replay is a 409, which
// the daemon treats as success.
type SessionHandler struct {
	items store.ItemStore
	blobs store.BlobStore
}

func NewSessionHandler(items store.ItemStore, blobs store.BlobStore) *SessionHandler {
	return &SessionHandler{
		items: items,
		blobs: blobs,
	}
}

type sessionUploadRequest struct {
	AgentID    string `json:"agentId"`
	SessionID  string `json:"sessionId"`
	Transcript string `json:"transcript"`
}

type sessionRecord struct {
	SessionID  string    `json:"session_id"`
	AgentID    string    `json:"agent_id"`
	Bytes      int       `json:"bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Create serves POST /api/v1/sessions.
func (h *SessionHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxSessionBytes+4096)

	var req sessionUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "transcript too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if req.AgentID == "" || req.Transcript == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agentId and transcript are required"})
		return
	}
	if _, err := uuid.Parse(req.SessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId must be a UUID"})
		return
	}
	if len(req.Transcript) > MaxSessionBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "transcript too large"})
		return
	}

	itemID := model.ItemID(sessionSourceType, req.SessionID)
	if _, err := h.items.GetByID(ctx, itemID); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "session already uploaded"})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.ErrorContext(ctx, "failed to check session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store session"})
		return
	}

	blobKey := model.BlobKey(sessionSourceType, "transcript", []byte(req.Transcript))
	if err := h.blobs.Put(ctx, blobKey, []byte(req.Transcript), "application/x-ndjson"); err != nil {
		slog.ErrorContext(ctx, "failed to store session transcript", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store session"})
		return
	}

	record := sessionRecord{
		SessionID:  req.SessionID,
		AgentID:    req.AgentID,
		Bytes:      len(req.Transcript),
		UploadedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode session record", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store session"})
		return
	}

	item := &model.Item{
		ID:         itemID,
		SourceType: sessionSourceType,
		AgentName:  req.AgentID,
		Payload:    payload,
		BlobKeys:   map[string]string{"transcript": blobKey},
		ReceivedAt: record.UploadedAt,
	}
	if err := h.items.Upsert(ctx, item); err != nil {
		slog.ErrorContext(ctx, "failed to store session item", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store session"})
		return
	}

	slog.InfoContext(ctx, "session uploaded",
		"session_id", req.SessionID,
		"agent", req.AgentID,
		"bytes", record.Bytes)

	c.JSON(http.StatusCreated, gin.H{"status": "stored", "item_id": itemID})
}
