package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrKeyNotFound = errors.New("key not found")

func GetBlob(ctx context.Context, db *sql.DB, key string) ([]byte, error) {
	var value []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to query key: %w", err)
	}
	return value, nil
}

func SetBlob(ctx context.Context, db *sql.DB, key string, value []byte) error {
	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`

	if _, err := db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}
	return nil
}

func DeleteBlob(ctx context.Context, db *sql.DB, key string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}
