package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"
)

// SQLite stores node data in a single sqlite database with one row per
// (namespace, key) pair. Values are msgpack-encoded.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) the backing database.
func NewSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	schema := `
	CREATE TABLE IF NOT EXISTS node_data (
		namespace TEXT NOT NULL,
		key       TEXT NOT NULL,
		value     BLOB,
		PRIMARY KEY (namespace, key)
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Store(ctx context.Context, namespace, key string, value any) error {
	enc, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO node_data (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value
	`, namespace, key, enc)
	return err
}

func (s *SQLite) Get(ctx context.Context, namespace, key string) (any, error) {
	var enc []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM node_data WHERE namespace = ? AND key = ?
	`, namespace, key).Scan(&enc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var value any
	if err := msgpack.Unmarshal(enc, &value); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return value, nil
}
