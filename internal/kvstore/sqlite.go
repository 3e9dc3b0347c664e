package kvstore

import (
	"context"
	"database/sql"
	"errors"

	"stickerstudio/internal/database"
)

type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := database.Initialize(path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// NewSQLite wraps an already migrated database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := database.GetBlob(ctx, s.db, key)
	if errors.Is(err, database.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	return database.SetBlob(ctx, s.db, key, value)
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	return database.DeleteBlob(ctx, s.db, key)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
