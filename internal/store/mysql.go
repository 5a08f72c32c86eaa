package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore implements Store using MySQL.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL connection pool and creates the table.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	query := `
	CREATE TABLE IF NOT EXISTS kv_store (
		store_key VARCHAR(191) NOT NULL PRIMARY KEY,
		store_value LONGBLOB NOT NULL,
		updated_at DATETIME NOT NULL
	)`
	if _, err := db.ExecContext(ctx, query); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[MySQLStore] Initialized")
	return &MySQLStore{db: db}, nil
}

// Get retrieves a value by key.
func (s *MySQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT store_value FROM kv_store WHERE store_key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// Set upserts a value.
func (s *MySQLStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv_store (store_key, store_value, updated_at)
		VALUES (?, ?, NOW())
		ON DUPLICATE KEY UPDATE
			store_value = VALUES(store_value),
			updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Remove deletes a key.
func (s *MySQLStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE store_key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// Keys lists all keys.
func (s *MySQLStore) Keys(ctx context.Context) ([]string, error) {
	return queryKeys(ctx, s.db, `SELECT store_key FROM kv_store ORDER BY store_key`)
}

// Close closes the connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
