package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	snapKeyPrefix = "idem:snap:"
	lockKeyPrefix = "idem:lock:"
)

// completeScript publishes the snapshot and releases the lock in one step, so
// an Admit racing with Complete sees either the lock or the snapshot, never a
// gap between them.
var completeScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('DEL', KEYS[2])
return 1
`)

// RedisStore is the shared idempotency Store. Locks and snapshots both expire
// after the configured TTL; a crash before Complete leaves the lock until
// expiry.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Admit(ctx context.Context, key string) (Decision, error) {
	raw, err := s.rdb.Get(ctx, snapKeyPrefix+key).Bytes()
	if err == nil {
		var snap Snapshot
		if uerr := json.Unmarshal(raw, &snap); uerr != nil {
			return Decision{}, fmt.Errorf("idempotency: decode snapshot: %w", uerr)
		}
		return Decision{Outcome: OutcomeReplay, Snapshot: snap}, nil
	}
	if !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("idempotency: read snapshot: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, lockKeyPrefix+key, "1", s.ttl).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("idempotency: acquire lock: %w", err)
	}
	if !ok {
		return Decision{Outcome: OutcomeBusy}, nil
	}
	return Decision{Outcome: OutcomeProceed}, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("idempotency: encode snapshot: %w", err)
	}
	keys := []string{snapKeyPrefix + key, lockKeyPrefix + key}
	if err := completeScript.Run(ctx, s.rdb, keys, raw, s.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	return nil
}
