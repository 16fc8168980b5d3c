package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RegisterWebhook inserts or replaces a webhook registration.
func (s *Store) RegisterWebhook(ctx context.Context, wh *WebhookConfig) error {
	events := wh.Events
	if events == nil {
		events = []string{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook events: %w", err)
	}
	if wh.CreatedAt.IsZero() {
		wh.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO webhooks (webhook_id, url, secret, events, created_at, active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		wh.WebhookID, wh.URL, wh.Secret, string(eventsJSON), wh.CreatedAt.UTC(), wh.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to register webhook %s: %w", wh.WebhookID, err)
	}
	return nil
}

// ListWebhooks returns every registered webhook, oldest first.
func (s *Store) ListWebhooks(ctx context.Context) ([]*WebhookConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT webhook_id, url, secret, events, created_at, active
		FROM webhooks ORDER BY created_at ASC, webhook_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []*WebhookConfig
	for rows.Next() {
		var (
			wh     WebhookConfig
			events string
		)
		if err := rows.Scan(&wh.WebhookID, &wh.URL, &wh.Secret, &events, &wh.CreatedAt, &wh.Active); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		if err := json.Unmarshal([]byte(events), &wh.Events); err != nil {
			return nil, fmt.Errorf("failed to decode events for webhook %s: %w", wh.WebhookID, err)
		}
		hooks = append(hooks, &wh)
	}
	return hooks, rows.Err()
}

// DeleteWebhook removes a webhook. Deleting an unknown id returns ErrNotFound.
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE webhook_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete webhook %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("webhook %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetSystemState returns the value stored under key, or ErrNotFound.
func (s *Store) GetSystemState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("system state %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state %s: %w", key, err)
	}
	return value, nil
}

// SetSystemState upserts a key.
func (s *Store) SetSystemState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set system state %s: %w", key, err)
	}
	return nil
}
