package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests. The mutex gives it the same
// single-key atomicity the SQL compare-and-set updates provide.
type MemoryStore struct {
	mu   sync.Mutex
	txns map[string]*Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txns: map[string]*Transaction{}}
}

func (s *MemoryStore) Create(ctx context.Context, txn Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := txn
	s.txns[txn.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return *t, nil
}

func (s *MemoryStore) GetByProviderRef(ctx context.Context, providerRef string) (Transaction, error) {
	if providerRef == "" {
		return Transaction{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txns {
		if t.ProviderRef == providerRef {
			return *t, nil
		}
	}
	return Transaction{}, ErrNotFound
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, t := range s.txns {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListPending(ctx context.Context, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, t := range s.txns {
		if t.Status == StatusPending || t.Status == "" {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TransitionFromPending(ctx context.Context, id string, to Status, fin Finalization) (bool, error) {
	return s.transition(id, []Status{StatusPending, ""}, to, fin)
}

func (s *MemoryStore) TransitionFromFailed(ctx context.Context, id string, to Status, fin Finalization) (bool, error) {
	return s.transition(id, []Status{StatusFailed}, to, fin)
}

func (s *MemoryStore) transition(id string, from []Status, to Status, fin Finalization) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return false, ErrNotFound
	}
	matched := false
	for _, f := range from {
		if t.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	t.Status = to
	if fin.ProviderRef != "" && t.ProviderRef == "" {
		t.ProviderRef = fin.ProviderRef
	}
	t.FailureReason = appendReason(t.FailureReason, fin.FailureReason)
	if fin.CompletedAt != nil {
		t.CompletedAt = fin.CompletedAt
	}
	return true, nil
}

func (s *MemoryStore) SetProviderRef(ctx context.Context, id, providerRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return ErrNotFound
	}
	if t.ProviderRef == "" && (t.Status == StatusPending || t.Status == "") {
		t.ProviderRef = providerRef
	}
	return nil
}

func (s *MemoryStore) RecordRetryAttempt(ctx context.Context, id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return ErrNotFound
	}
	t.RetryCount++
	at = at.UTC()
	t.LastRetryAt = &at
	t.FailureReason = appendReason(t.FailureReason, reason)
	return nil
}

func (s *MemoryStore) RecordCheckAttempt(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return ErrNotFound
	}
	t.CheckCount++
	at = at.UTC()
	t.LastCheckedAt = &at
	return nil
}

func (s *MemoryStore) AppendFailureReason(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return ErrNotFound
	}
	t.FailureReason = appendReason(t.FailureReason, reason)
	return nil
}
