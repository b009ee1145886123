package lti

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Replay enforces single-use semantics on a (kind, value) pair for a TTL.
// Used for launch nonces and login state binding.
type Replay interface {
	// Use marks (kind,value) as consumed and returns true if this is the
	// first time it is seen (or the previous entry expired).
	Use(ctx context.Context, kind, value string, ttl time.Duration) (bool, error)
}

// InMemoryReplay is a process-local Replay. Safe for concurrent use;
// purges expired entries opportunistically on writes.
type InMemoryReplay struct {
	mu       sync.Mutex
	entries  map[string]time.Time
	useCount uint64
	purgeN   uint64
}

func NewInMemoryReplay() *InMemoryReplay {
	return &InMemoryReplay{entries: make(map[string]time.Time, 256), purgeN: 1024}
}

func (m *InMemoryReplay) Use(_ context.Context, kind, value string, ttl time.Duration) (bool, error) {
	kind = strings.TrimSpace(strings.ToLower(kind))
	value = strings.TrimSpace(value)
	if kind == "" || value == "" {
		return false, fmt.Errorf("replay: kind and value are required")
	}
	now := time.Now()
	k := kind + "|" + value

	m.mu.Lock()
	defer m.mu.Unlock()

	m.useCount++
	if m.useCount%m.purgeN == 0 {
		for key, until := range m.entries {
			if !until.After(now) {
				delete(m.entries, key)
			}
		}
	}

	if until, ok := m.entries[k]; ok && until.After(now) {
		return false, nil
	}
	m.entries[k] = now.Add(ttl)
	return true, nil
}

// RedisReplay shares the replay window across processes. SETNX with TTL is
// the atomic mark-as-used.
type RedisReplay struct {
	client *redis.Client
	prefix string
}

func NewRedisReplay(client *redis.Client) *RedisReplay {
	return &RedisReplay{client: client, prefix: "ltireplay:"}
}

func (r *RedisReplay) Use(ctx context.Context, kind, value string, ttl time.Duration) (bool, error) {
	kind = strings.TrimSpace(strings.ToLower(kind))
	value = strings.TrimSpace(value)
	if kind == "" || value == "" {
		return false, fmt.Errorf("replay: kind and value are required")
	}
	ok, err := r.client.SetNX(ctx, r.prefix+kind+"|"+value, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay: redis: %w", err)
	}
	return ok, nil
}
