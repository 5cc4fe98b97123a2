package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nexus.app/ingest/internal/model"
)

type subscriptionStore struct {
	pool *pgxpool.Pool
}

func (s *subscriptionStore) Create(ctx context.Context, sub *model.Subscription) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (id, resource, change_types, agent_name, kind, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		sub.ID, sub.Resource, sub.ChangeTypes, sub.AgentName, sub.Kind, sub.ExpiresAt)

	if err := row.Scan(&sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return fmt.Errorf("creating subscription row: %w", err)
	}
	return nil
}

func (s *subscriptionStore) GetByID(ctx context.Context, id string) (*model.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, resource, change_types, agent_name, kind, expires_at, created_at, updated_at
		FROM subscriptions WHERE id = $1`, id)

	var sub model.Subscription
	if err := row.Scan(&sub.ID, &sub.Resource, &sub.ChangeTypes, &sub.AgentName,
		&sub.Kind, &sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *subscriptionStore) List(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, resource, change_types, agent_name, kind, expires_at, created_at, updated_at
		FROM subscriptions ORDER BY expires_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.ID, &sub.Resource, &sub.ChangeTypes, &sub.AgentName,
			&sub.Kind, &sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *subscriptionStore) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET expires_at = $2, updated_at = now() WHERE id = $1`,
		id, expiresAt)
	if err != nil {
		return fmt.Errorf("updating subscription expiry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *subscriptionStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting subscription row: %w", err)
	}
	return nil
}
