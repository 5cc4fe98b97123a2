package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"nexus.app/ingest/core/db"
	"nexus.app/ingest/internal/model"
)

type pendingStore struct {
	db *db.DB
}

func (s *pendingStore) Create(ctx context.Context, pending *model.PendingItem) error {
	item, err := json.Marshal(pending.Item)
	if err != nil {
		return fmt.Errorf("encoding pending item: %w", err)
	}

	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO pending_items (id, domain, item)
		VALUES ($1, $2, $3)
		RETURNING parked_at`,
		pending.ID, pending.Domain, item)

	if err := row.Scan(&pending.ParkedAt); err != nil {
		return fmt.Errorf("parking item: %w", err)
	}
	return nil
}

func (s *pendingStore) ListByDomain(ctx context.Context, domain string) ([]model.PendingItem, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, domain, item, parked_at
		FROM pending_items WHERE domain = $1
		ORDER BY parked_at ASC`, domain)
	if err != nil {
		return nil, fmt.Errorf("listing pending items: %w", err)
	}
	defer rows.Close()

	var result []model.PendingItem
	for rows.Next() {
		var (
			pending model.PendingItem
			item    []byte
		)
		if err := rows.Scan(&pending.ID, &pending.Domain, &item, &pending.ParkedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(item, &pending.Item); err != nil {
			return nil, fmt.Errorf("decoding pending item %d: %w", pending.ID, err)
		}
		result = append(result, pending)
	}
	return result, rows.Err()
}

func (s *pendingStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.Pool().Exec(ctx, `DELETE FROM pending_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting pending item: %w", err)
	}
	return nil
}

// Promote moves a parked item into the canonical store and removes the
// pending row in one transaction.
func (s *pendingStore) Promote(ctx context.Context, pending model.PendingItem) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		item := pending.Item
		if err := upsertItem(ctx, tx, &item); err != nil {
			return fmt.Errorf("promoting pending item %d: %w", pending.ID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM pending_items WHERE id = $1`, pending.ID); err != nil {
			return fmt.Errorf("removing promoted pending item %d: %w", pending.ID, err)
		}
		return nil
	})
}
