package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CacheStore persists the offline cache snapshot in Redis, so stations that
// share an instance share their correlation hints.
type CacheStore struct {
	client *Client
}

func NewCacheStore(client *Client) *CacheStore {
	return &CacheStore{client: client}
}

// Load returns nil without error when nothing has been saved yet.
func (s *CacheStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (s *CacheStore) Save(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
