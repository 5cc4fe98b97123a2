// Package whitelist implements sender-based admission control: a two-tier
// allow list (exact address, then domain), parking for non-matching items,
// and promotion of parked items when entries are added.
package whitelist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nexus.app/ingest/common/id"
	"nexus.app/ingest/common/logger"
	"nexus.app/ingest/internal/model"
	"nexus.app/ingest/internal/store"
)

// Decision is the outcome of admitting one item.
type Decision string

const (
	DecisionStored Decision = "stored"
	DecisionParked Decision = "parked"
)

// counterRetries bounds the optimistic increment loop. Counters are
// advisory, so after exhaustion the increment is dropped, never the item.
const counterRetries = 3

type Service struct {
	entries store.WhitelistStore
	pending store.PendingStore
	items   store.ItemStore
}

func NewService(entries store.WhitelistStore, pending store.PendingStore, items store.ItemStore) *Service {
	return &Service{
		entries: entries,
		pending: pending,
		items:   items,
	}
}

// Allowed returns the matching whitelist entry for a sender, or nil when
// none matches. The email partition is checked first (more specific);
// domain and email partitions are independent namespaces.
func (s *Service) Allowed(ctx context.Context, email string) (*model.WhitelistEntry, error) {
	address := model.NormalizeEmail(email)

	entry, err := s.entries.Get(ctx, model.WhitelistEmail, address)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up email entry: %w", err)
	}

	entry, err = s.entries.Get(ctx, model.WhitelistDomain, model.DomainOf(address))
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up domain entry: %w", err)
	}

	return nil, nil
}

// IsSenderAllowed reports whether any whitelist entry matches the sender.
func (s *Service) IsSenderAllowed(ctx context.Context, email string) (bool, error) {
	entry, err := s.Allowed(ctx, email)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// Admit gates one mail-like item. Allowed senders get the matching entry's
// counter bumped and the item stored; everyone else is parked under the
// sender's domain. Non-matching senders are never dropped.
func (s *Service) Admit(ctx context.Context, item *model.Item) (Decision, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "ingest.whitelist",
		ItemID:    logger.Ptr(item.ID),
	})

	entry, err := s.Allowed(ctx, item.SenderEmail)
	if err != nil {
		return "", err
	}

	if entry == nil {
		pending := &model.PendingItem{
			ID:     id.New(),
			Domain: model.DomainOf(item.SenderEmail),
			Item:   *item,
		}
		if err := s.pending.Create(ctx, pending); err != nil {
			return "", fmt.Errorf("parking item: %w", err)
		}
		slog.InfoContext(ctx, "item parked pending whitelist",
			"sender", item.SenderEmail,
			"domain", pending.Domain)
		return DecisionParked, nil
	}

	s.bumpMatchCount(ctx, entry)

	if err := s.items.Upsert(ctx, item); err != nil {
		return "", fmt.Errorf("storing admitted item: %w", err)
	}
	slog.InfoContext(ctx, "item admitted",
		"sender", item.SenderEmail,
		"matched_kind", entry.Kind,
		"matched_value", entry.Value)
	return DecisionStored, nil
}

// bumpMatchCount increments the entry's counter with optimistic retries.
// Repeated conflicts drop the increment in favor of availability.
func (s *Service) bumpMatchCount(ctx context.Context, entry *model.WhitelistEntry) {
	current := entry
	for attempt := 0; attempt < counterRetries; attempt++ {
		ok, err := s.entries.IncrementMatchCount(ctx, current.Kind, current.Value, current.MatchCount)
		if err != nil {
			slog.WarnContext(ctx, "match count increment failed", "error", err)
			return
		}
		if ok {
			return
		}

		refreshed, err := s.entries.Get(ctx, current.Kind, current.Value)
		if err != nil {
			slog.WarnContext(ctx, "match count re-read failed", "error", err)
			return
		}
		current = refreshed
	}

	slog.DebugContext(ctx, "match count increment dropped after conflicts",
		"kind", current.Kind, "value", current.Value)
}

// AddEntries inserts absent entries and runs a promotion sweep for every
// requested key, newly added or already present. Returns the entries that
// were actually created.
func (s *Service) AddEntries(ctx context.Context, domains, emails []string, addedBy model.AddedBy) ([]model.WhitelistEntry, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "ingest.whitelist"})

	var added []model.WhitelistEntry

	for _, domain := range domains {
		normalized := model.NormalizeEmail(domain)
		if normalized == "" {
			continue
		}
		entry := model.WhitelistEntry{Kind: model.WhitelistDomain, Value: normalized, AddedBy: addedBy}
		created, err := s.entries.CreateIfAbsent(ctx, &entry)
		if err != nil {
			return added, fmt.Errorf("adding domain %s: %w", normalized, err)
		}
		if created {
			added = append(added, entry)
		}
		if err := s.promoteDomain(ctx, normalized); err != nil {
			return added, err
		}
	}

	for _, email := range emails {
		normalized := model.NormalizeEmail(email)
		if normalized == "" {
			continue
		}
		entry := model.WhitelistEntry{Kind: model.WhitelistEmail, Value: normalized, AddedBy: addedBy}
		created, err := s.entries.CreateIfAbsent(ctx, &entry)
		if err != nil {
			return added, fmt.Errorf("adding email %s: %w", normalized, err)
		}
		if created {
			added = append(added, entry)
		}
		if err := s.promoteEmail(ctx, normalized); err != nil {
			return added, err
		}
	}

	return added, nil
}

// RemoveEntry deletes an entry. Absence is not an error.
func (s *Service) RemoveEntry(ctx context.Context, kind model.WhitelistKind, value string) error {
	return s.entries.Delete(ctx, kind, model.NormalizeEmail(value))
}

// List returns all whitelist entries.
func (s *Service) List(ctx context.Context) ([]model.WhitelistEntry, error) {
	return s.entries.List(ctx)
}

// promoteDomain moves every pending item parked under the domain into the
// canonical store. Promotion is insert-then-delete; an interruption leaves
// the pending row to be reconsidered by a later sweep.
func (s *Service) promoteDomain(ctx context.Context, domain string) error {
	parked, err := s.pending.ListByDomain(ctx, domain)
	if err != nil {
		return fmt.Errorf("listing pending for domain %s: %w", domain, err)
	}

	for _, pending := range parked {
		if err := s.promote(ctx, pending); err != nil {
			return err
		}
	}
	return nil
}

// promoteEmail moves only pending items whose sender equals the exact
// address, even when other pending items share its domain.
func (s *Service) promoteEmail(ctx context.Context, email string) error {
	parked, err := s.pending.ListByDomain(ctx, model.DomainOf(email))
	if err != nil {
		return fmt.Errorf("listing pending for email %s: %w", email, err)
	}

	for _, pending := range parked {
		if model.NormalizeEmail(pending.Item.SenderEmail) != email {
			continue
		}
		if err := s.promote(ctx, pending); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) promote(ctx context.Context, pending model.PendingItem) error {
	if err := s.pending.Promote(ctx, pending); err != nil {
		return err
	}

	slog.InfoContext(ctx, "pending item promoted",
		"item_id", pending.Item.ID,
		"sender", pending.Item.SenderEmail,
		"domain", pending.Domain)
	return nil
}
