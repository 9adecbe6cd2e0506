package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter answers whether a principal may take one more action on a route
// inside the current fixed window.
type Limiter interface {
	Allow(ctx context.Context, principal, route string) (bool, error)
}

// windowScript counts the request and sets the window expiry on first hit,
// atomically, so two first-hits cannot both create an unexpiring key.
var windowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisLimiter is a fixed-window counter shared across instances.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{rdb: rdb, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, principal, route string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", principal, route)
	n, err := windowScript.Run(ctx, l.rdb, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit: %w", err)
	}
	return n <= int64(l.limit), nil
}

// MemoryLimiter is a process-local fixed-window counter for tests and
// single-node use.
type MemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	counts map[string]int
	starts map[string]time.Time
	clock  func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		counts: make(map[string]int),
		starts: make(map[string]time.Time),
		clock:  time.Now,
	}
}

// SetClock is for window-rollover tests.
func (l *MemoryLimiter) SetClock(clock func() time.Time) { l.clock = clock }

func (l *MemoryLimiter) Allow(ctx context.Context, principal, route string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := principal + ":" + route
	now := l.clock()

	if start, ok := l.starts[key]; !ok || now.Sub(start) >= l.window {
		l.starts[key] = now
		l.counts[key] = 0
	}
	l.counts[key]++
	return l.counts[key] <= l.limit, nil
}
