package store

import (
	"context"
	"errors"
	"time"

	"nexus.app/ingest/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ItemStore defines the contract for canonical item access. Upsert keys on
// the deterministic item id so replayed notifications converge on one row.
type ItemStore interface {
	Upsert(ctx context.Context, item *model.Item) error
	GetByID(ctx context.Context, id string) (*model.Item, error)
	ListByAgent(ctx context.Context, agent, sourceType string, limit int32) ([]model.Item, error)
	Delete(ctx context.Context, id string) error
}

// PendingStore holds parked items keyed by sender domain. Promote moves a
// parked item into the canonical store atomically.
type PendingStore interface {
	Create(ctx context.Context, pending *model.PendingItem) error
	ListByDomain(ctx context.Context, domain string) ([]model.PendingItem, error)
	Promote(ctx context.Context, pending model.PendingItem) error
	Delete(ctx context.Context, id int64) error
}

// WhitelistStore defines the contract for allow-list entries. Increments
// are conditional on the caller's last-read count so concurrent processors
// never lock the row.
type WhitelistStore interface {
	Get(ctx context.Context, kind model.WhitelistKind, value string) (*model.WhitelistEntry, error)
	CreateIfAbsent(ctx context.Context, entry *model.WhitelistEntry) (bool, error)
	IncrementMatchCount(ctx context.Context, kind model.WhitelistKind, value string, expected int64) (bool, error)
	List(ctx context.Context) ([]model.WhitelistEntry, error)
	Delete(ctx context.Context, kind model.WhitelistKind, value string) error
}

// SubscriptionStore tracks provider push subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *model.Subscription) error
	GetByID(ctx context.Context, id string) (*model.Subscription, error)
	List(ctx context.Context) ([]model.Subscription, error)
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// BlobStore holds large text content in object storage, keyed by
// content-derived names.
type BlobStore interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Remove(ctx context.Context, key string) error
}
