package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Item is the canonical unit produced by a type handler and stored for
// downstream agents. Its ID is deterministic so replayed notifications
// converge on a single record (upsert, not insert).
type Item struct {
	ID          string            `json:"id"`
	SourceType  string            `json:"source_type"`
	AgentName   string            `json:"agent_name"`
	Payload     json.RawMessage   `json:"payload"`
	SenderEmail string            `json:"sender_email,omitempty"`
	BlobKeys    map[string]string `json:"blob_keys,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Blob holds large text content destined for the object store rather than
// the structured record.
type Blob struct {
	Key         string
	Content     []byte
	ContentType string
}

// SourceTypeKey builds the lower-cased source-type composite key.
func SourceTypeKey(source, typ string) string {
	return strings.ToLower(source) + "-" + strings.ToLower(typ)
}

// ItemID derives a deterministic item id from the source-type composite and
// the provider's resource id. Hashing avoids collisions between providers
// whose ids share a truncated prefix.
func ItemID(sourceType, resourceID string) string {
	sum := sha256.Sum256([]byte(sourceType + ":" + resourceID))
	return hex.EncodeToString(sum[:])[:32]
}

// BlobKey derives a content-addressed object name. Two items that share a
// truncated provider identifier still get distinct objects.
func BlobKey(sourceType, logical string, content []byte) string {
	sum := sha256.Sum256(content)
	return sourceType + "/" + hex.EncodeToString(sum[:])[:24] + "-" + logical + ".txt"
}
