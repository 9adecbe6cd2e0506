package idempotency

import (
	"context"
	"sync"
	"time"
)

// Snapshot is the stored response of a completed idempotent request.
// Replays return these bytes unchanged.
type Snapshot struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Outcome of admitting a request under an idempotency key.
type Outcome string

const (
	// OutcomeProceed: this caller holds the key, run the handler.
	OutcomeProceed Outcome = "proceed"
	// OutcomeReplay: the key already completed, serve the snapshot.
	OutcomeReplay Outcome = "replay"
	// OutcomeBusy: another request holds the key right now.
	OutcomeBusy Outcome = "busy"
)

type Decision struct {
	Outcome  Outcome
	Snapshot Snapshot
}

// Store reserves idempotency keys and records response snapshots.
//
// The contract: Admit either finds a snapshot (Replay), takes the in-flight
// lock (Proceed) or observes someone else's lock (Busy). Complete publishes
// the snapshot and releases the lock so that no later Admit can land between
// the two. A reservation that never reaches Complete (process crash) stays
// locked until the TTL expires.
type Store interface {
	Admit(ctx context.Context, key string) (Decision, error)
	Complete(ctx context.Context, key string, snap Snapshot) error
}

type memoryEntry struct {
	snap     *Snapshot
	deadline time.Time
}

// MemoryStore is a process-local Store for tests and single-node use.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*memoryEntry
	clock   func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]*memoryEntry),
		clock:   time.Now,
	}
}

// SetClock is for expiry tests.
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

func (s *MemoryStore) Admit(ctx context.Context, key string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()

	e, ok := s.entries[key]
	if ok && now.After(e.deadline) {
		delete(s.entries, key)
		ok = false
	}
	if ok {
		if e.snap != nil {
			return Decision{Outcome: OutcomeReplay, Snapshot: *e.snap}, nil
		}
		return Decision{Outcome: OutcomeBusy}, nil
	}
	s.entries[key] = &memoryEntry{deadline: now.Add(s.ttl)}
	return Decision{Outcome: OutcomeProceed}, nil
}

func (s *MemoryStore) Complete(ctx context.Context, key string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memoryEntry{snap: &snap, deadline: s.clock().Add(s.ttl)}
	return nil
}
