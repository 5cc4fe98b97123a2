package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nexus.app/ingest/internal/model"
)

type itemStore struct {
	pool *pgxpool.Pool
}

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, so the item
// upsert can run standalone or inside a promotion transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func upsertItem(ctx context.Context, q rowQuerier, item *model.Item) error {
	blobKeys, err := json.Marshal(item.BlobKeys)
	if err != nil {
		return fmt.Errorf("encoding blob keys: %w", err)
	}

	row := q.QueryRow(ctx, `
		INSERT INTO items (id, source_type, agent_name, payload, sender_email, blob_keys, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			payload = EXCLUDED.payload,
			sender_email = EXCLUDED.sender_email,
			blob_keys = EXCLUDED.blob_keys,
			received_at = EXCLUDED.received_at,
			updated_at = now()
		RETURNING created_at, updated_at`,
		item.ID, item.SourceType, item.AgentName, []byte(item.Payload),
		nullable(item.SenderEmail), blobKeys, item.ReceivedAt)

	if err := row.Scan(&item.CreatedAt, &item.UpdatedAt); err != nil {
		return fmt.Errorf("upserting item: %w", err)
	}
	return nil
}

func (s *itemStore) Upsert(ctx context.Context, item *model.Item) error {
	return upsertItem(ctx, s.pool, item)
}

func (s *itemStore) GetByID(ctx context.Context, id string) (*model.Item, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, source_type, agent_name, payload, sender_email, blob_keys, received_at, created_at, updated_at
		FROM items WHERE id = $1`, id)

	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

// listItemsQuery builds the filtered listing statement. Every value,
// the limit included, binds as a parameter.
func listItemsQuery(agent, sourceType string, limit int32) (string, []any) {
	query := `
		SELECT id, source_type, agent_name, payload, sender_email, blob_keys, received_at, created_at, updated_at
		FROM items WHERE agent_name = $1`
	args := []any{agent}

	if sourceType != "" {
		query += ` AND source_type = $2`
		args = append(args, sourceType)
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY received_at DESC LIMIT $%d`, len(args))
	return query, args
}

func (s *itemStore) ListByAgent(ctx context.Context, agent, sourceType string, limit int32) ([]model.Item, error) {
	query, args := listItemsQuery(agent, sourceType, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *itemStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

func scanItem(row pgx.Row) (*model.Item, error) {
	var (
		item        model.Item
		payload     []byte
		senderEmail *string
		blobKeys    []byte
	)
	if err := row.Scan(&item.ID, &item.SourceType, &item.AgentName, &payload,
		&senderEmail, &blobKeys, &item.ReceivedAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}

	item.Payload = json.RawMessage(payload)
	if senderEmail != nil {
		item.SenderEmail = *senderEmail
	}
	if len(blobKeys) > 0 {
		if err := json.Unmarshal(blobKeys, &item.BlobKeys); err != nil {
			return nil, fmt.Errorf("decoding blob keys: %w", err)
		}
	}
	return &item, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
