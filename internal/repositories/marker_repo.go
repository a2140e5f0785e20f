package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// OnceMarker remembers keys for a while so work keyed by them runs once.
type OnceMarker interface {
	// MarkOnce sets key and reports whether it was not set before. A ttl of
	// zero keeps the key forever.
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type RedisMarker struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisMarker(rdb *redis.Client, prefix string) *RedisMarker {
	return &RedisMarker{rdb: rdb, prefix: prefix}
}

func (m *RedisMarker) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.rdb.SetNX(ctx, m.prefix+key, "1", ttl).Result()
}

type MemoryMarker struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{keys: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryMarker) MarkOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.keys[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	m.keys[key] = exp
	return true, nil
}
