package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const noncePrefix = "webhook:nonce:"

// RedisNonceStore backs the replay guard with SET NX PX: the reservation and
// the duplicate check are one atomic operation.
type RedisNonceStore struct {
	rdb *redis.Client
}

func NewRedisNonceStore(rdb *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{rdb: rdb}
}

func (s *RedisNonceStore) Record(ctx context.Context, provider, nonce string, ttl time.Duration) (bool, error) {
	key := noncePrefix + provider + ":" + nonce
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("webhook: record nonce: %w", err)
	}
	return ok, nil
}

// MemoryNonceStore is a process-local NonceStore for tests.
type MemoryNonceStore struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	clock func() time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{seen: make(map[string]time.Time), clock: time.Now}
}

func (s *MemoryNonceStore) SetClock(clock func() time.Time) { s.clock = clock }

func (s *MemoryNonceStore) Record(ctx context.Context, provider, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := provider + ":" + nonce
	now := s.clock()
	if deadline, ok := s.seen[key]; ok && now.Before(deadline) {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}
