package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// KVStore is a small key-value scratch area for persisted state such as
// classifier weights.
type KVStore interface {
	// Get returns the value for key, or (nil, false, nil) if absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores the value under key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// KVRepo implements KVStore over the kv table.
type KVRepo struct {
	db *sql.DB
}

// NewKVRepo creates a new KVRepo.
func NewKVRepo(db *sql.DB) *KVRepo {
	return &KVRepo{db: db}
}

// Get returns the value for key, or (nil, false, nil) if absent.
func (r *KVRepo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query kv: %w", err)
	}
	return value, true, nil
}

// Put stores the value under key, replacing any existing value.
func (r *KVRepo) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to put kv: %w", err)
	}
	return nil
}

// Delete removes key.
func (r *KVRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete kv: %w", err)
	}
	return nil
}
