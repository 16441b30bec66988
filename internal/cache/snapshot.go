package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/socialinbox/inbox-cli/internal/api"
)

// Snapshotter persists the last-known conversation list of a scope.
type Snapshotter interface {
	Load(ctx context.Context, scope api.Scope) ([]api.Conversation, bool, error)
	Save(ctx context.Context, scope api.Scope, list []api.Conversation) error
}

// Store is a Snapshotter that can also drop the snapshot of one scope.
type Store interface {
	Snapshotter
	Clear(ctx context.Context, scope api.Scope) error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// RedisStore stores snapshots in Redis so several processes watching the
// same scope share one warm copy.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a RedisStore. Keys are "<prefix>:<baseURL hash>:<scope>".
func NewRedisStore(client redis.UniversalClient, baseURL string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: "inbox:" + snapshotKey + ":" + shortHash(baseURL),
		ttl:    ttl,
	}
}

// NewRedisStoreFromURL parses a redis:// URL and connects lazily.
func NewRedisStoreFromURL(rawURL, baseURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), baseURL, ttl), nil
}

func (r *RedisStore) key(scope api.Scope) string {
	return r.prefix + ":" + scope.Key()
}

// Load implements Snapshotter. A missing key is a miss, not an error.
func (r *RedisStore) Load(ctx context.Context, scope api.Scope) ([]api.Conversation, bool, error) {
	data, err := r.client.Get(ctx, r.key(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}
	var list []api.Conversation
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return list, true, nil
}

// Save implements Snapshotter.
func (r *RedisStore) Save(ctx context.Context, scope api.Scope, list []api.Conversation) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.key(scope), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Clear deletes the snapshot of scope.
func (r *RedisStore) Clear(ctx context.Context, scope api.Scope) error {
	return r.client.Del(ctx, r.key(scope)).Err()
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
