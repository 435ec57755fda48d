package repository

import (
	"context"
	"time"

	"github.com/storeline/scan-station/internal/database"
)

// KVStore keeps opaque blobs under string keys in the station-local SQLite
// file. It backs the offline cache snapshot.
type KVStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

type kvStore struct {
	db database.DBTX
}

func NewKVStore(db database.DBTX) KVStore {
	return &kvStore{db: db}
}

// Load returns nil without error when key has never been saved.
func (r *kvStore) Load(ctx context.Context, key string) ([]byte, error) {
	value, err := getOptional[[]byte](ctx, r.db, `SELECT value FROM kv_store WHERE key = ?`, key)
	if err != nil || value == nil {
		return nil, err
	}
	return *value, nil
}

func (r *kvStore) Save(ctx context.Context, key string, data []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, data, time.Now().UnixMilli())
	return err
}

func (r *kvStore) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key)
	return err
}
