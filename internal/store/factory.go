package store

import (
	"nexus.app/ingest/core/db"
)

type Stores struct {
	db *db.DB
}

func NewStores(database *db.DB) *Stores {
	return &Stores{db: database}
}

func (s *Stores) Items() ItemStore {
	return &itemStore{pool: s.db.Pool()}
}

func (s *Stores) Pending() PendingStore {
	return &pendingStore{db: s.db}
}

func (s *Stores) Whitelist() WhitelistStore {
	return &whitelistStore{pool: s.db.Pool()}
}

func (s *Stores) Subscriptions() SubscriptionStore {
	return &subscriptionStore{pool: s.db.Pool()}
}
