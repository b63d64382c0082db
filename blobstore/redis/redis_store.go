package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/compcache/blobstore"
)

// Store implements blobstore.Store for Redis.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Compile time check to ensure Store satisfies the Store interface.
var _ blobstore.Store = (*Store)(nil)

// NewStore creates a new Redis blob store.
// prefix is prepended to all keys (e.g. "compcache:").
// ttl of zero stores entries without expiry.
func NewStore(client *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

// Get returns the blob stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, blobstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put stores the blob under key, refreshing the TTL if configured.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, s.key(key), data, s.ttl).Err()
}

// Delete removes the blob. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
