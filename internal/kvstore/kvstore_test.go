package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"stickerstudio/internal/database"

	_ "github.com/mattn/go-sqlite3"
)

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "k", []byte("one")); err != nil {
		t.Fatal("Failed to set:", err)
	}
	if err := s.Set(ctx, "k", []byte("two")); err != nil {
		t.Fatal("Failed to overwrite:", err)
	}

	value, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal("Failed to get:", err)
	}
	if string(value) != "two" {
		t.Errorf("Expected 'two', got %s", value)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal("Failed to delete:", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	buf := []byte("abc")
	m.Set(ctx, "k", buf)
	buf[0] = 'x'

	value, _ := m.Get(ctx, "k")
	if string(value) != "abc" {
		t.Errorf("Expected stored copy 'abc', got %s", value)
	}
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal("Failed to open test database:", err)
	}
	db.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatal("Failed to run migrations:", err)
	}

	s := NewSQLite(db)
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Options{Backend: "etcd"}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
