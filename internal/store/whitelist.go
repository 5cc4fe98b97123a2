package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nexus.app/ingest/internal/model"
)

type whitelistStore struct {
	pool *pgxpool.Pool
}

func (s *whitelistStore) Get(ctx context.Context, kind model.WhitelistKind, value string) (*model.WhitelistEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT kind, value, added_by, match_count, added_at
		FROM whitelist_entries WHERE kind = $1 AND value = $2`,
		string(kind), value)

	var entry model.WhitelistEntry
	if err := row.Scan(&entry.Kind, &entry.Value, &entry.AddedBy, &entry.MatchCount, &entry.AddedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (s *whitelistStore) CreateIfAbsent(ctx context.Context, entry *model.WhitelistEntry) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO whitelist_entries (kind, value, added_by, match_count)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (kind, value) DO NOTHING`,
		string(entry.Kind), entry.Value, string(entry.AddedBy))
	if err != nil {
		return false, fmt.Errorf("inserting whitelist entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementMatchCount applies an optimistic conditional update: the
// increment lands only if the row still carries the count the caller last
// read. Returns false on conflict so the caller can re-read and retry.
func (s *whitelistStore) IncrementMatchCount(ctx context.Context, kind model.WhitelistKind, value string, expected int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE whitelist_entries
		SET match_count = match_count + 1
		WHERE kind = $1 AND value = $2 AND match_count = $3`,
		string(kind), value, expected)
	if err != nil {
		return false, fmt.Errorf("incrementing match count: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *whitelistStore) List(ctx context.Context) ([]model.WhitelistEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, value, added_by, match_count, added_at
		FROM whitelist_entries ORDER BY kind, value`)
	if err != nil {
		return nil, fmt.Errorf("listing whitelist entries: %w", err)
	}
	defer rows.Close()

	var entries []model.WhitelistEntry
	for rows.Next() {
		var entry model.WhitelistEntry
		if err := rows.Scan(&entry.Kind, &entry.Value, &entry.AddedBy, &entry.MatchCount, &entry.AddedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *whitelistStore) Delete(ctx context.Context, kind model.WhitelistKind, value string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM whitelist_entries WHERE kind = $1 AND value = $2`,
		string(kind), value)
	if err != nil {
		return fmt.Errorf("deleting whitelist entry: %w", err)
	}
	return nil
}
