package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xXDeath420Xx/livebot/internal/liveness"
)

// Store is a JSON-encoded shared cache layer for liveness.Cache.
type Store[V any] struct {
	rdb    *goredis.Client
	prefix string
}

// NewStore creates a store whose keys live under livebot:cache:<name>:.
func NewStore[V any](rdb *goredis.Client, name string) *Store[V] {
	return &Store[V]{rdb: rdb, prefix: keyPrefix + "cache:" + name + ":"}
}

var _ liveness.Store[int] = (*Store[int])(nil)

func (s *Store[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return v, true, nil
}

func (s *Store[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := s.rdb.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

func (s *Store[V]) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}
