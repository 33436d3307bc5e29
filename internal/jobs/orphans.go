package jobs

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// OrphanSetKey is the Redis set of storage keys no record references.
const OrphanSetKey = "videos:orphans"

// OrphanStore remembers published keys that were never referenced by a ready record.
type OrphanStore interface {
	Add(ctx context.Context, keys ...string) error
	// Pop removes and returns up to n keys.
	Pop(ctx context.Context, n int) ([]string, error)
}

// RedisOrphans keeps orphaned keys in a Redis set shared by all instances.
type RedisOrphans struct {
	client *redis.Client
}

// NewRedisOrphans creates a Redis-backed orphan store.
func NewRedisOrphans(client *redis.Client) *RedisOrphans {
	return &RedisOrphans{client: client}
}

func (r *RedisOrphans) Add(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	return r.client.SAdd(ctx, OrphanSetKey, members...).Err()
}

func (r *RedisOrphans) Pop(ctx context.Context, n int) ([]string, error) {
	keys, err := r.client.SPopN(ctx, OrphanSetKey, int64(n)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return keys, err
}

// MemoryOrphans is an in-process OrphanStore.
type MemoryOrphans struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewMemoryOrphans creates an empty store.
func NewMemoryOrphans() *MemoryOrphans {
	return &MemoryOrphans{keys: make(map[string]struct{})}
}

func (m *MemoryOrphans) Add(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.keys[k] = struct{}{}
	}
	return nil
}

func (m *MemoryOrphans) Pop(_ context.Context, n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, n)
	for k := range m.keys {
		if len(out) == n {
			break
		}
		out = append(out, k)
		delete(m.keys, k)
	}
	return out, nil
}

// Len returns the number of remembered keys.
func (m *MemoryOrphans) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}
