package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetIndexState reads a durable string value. Missing keys return "".
func (s *Store) GetIndexState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM index_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading index state %q: %w", key, err)
	}
	return value, nil
}

// SetIndexState writes a durable string value.
func (s *Store) SetIndexState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing index state %q: %w", key, err)
	}
	return nil
}
