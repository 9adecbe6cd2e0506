package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests. It honors the same invariants
// as PostgresStore: append-only ledger, op-key idempotency, no negative balance.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
	byOpKey  map[string]Entry // key: userID + "\x00" + opKey
	entries  []Entry

	Clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: map[string]int64{},
		byOpKey:  map[string]Entry{},
		Clock:    time.Now,
	}
}

// Seed sets a starting balance without a ledger entry. Tests only.
func (s *MemoryStore) Seed(userID string, balanceMinor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balanceMinor
}

// Entries returns a copy of the ledger for assertions.
func (s *MemoryStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *MemoryStore) Balance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[userID]
	if !ok {
		return Balance{}, ErrNotFound
	}
	return Balance{UserID: userID, BalanceMinor: bal, UpdatedAt: s.Clock().UTC()}, nil
}

func (s *MemoryStore) Debit(ctx context.Context, userID string, amountMinor int64, opKey, reference string) (Entry, error) {
	return s.apply(userID, EntryTypeDebit, -amountMinor, opKey, reference)
}

func (s *MemoryStore) Credit(ctx context.Context, userID string, amountMinor int64, opKey, reference string) (Entry, error) {
	return s.apply(userID, EntryTypeCredit, amountMinor, opKey, reference)
}

func (s *MemoryStore) apply(userID string, typ EntryType, deltaMinor int64, opKey, reference string) (Entry, error) {
	amount := deltaMinor
	if amount < 0 {
		amount = -amount
	}
	if err := validateOp(userID, amount, opKey); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := userID + "\x00" + opKey
	if existing, ok := s.byOpKey[key]; ok {
		return existing, nil
	}

	bal, ok := s.balances[userID]
	if !ok {
		// Credits may land on wallets that have no row yet.
		if deltaMinor < 0 {
			return Entry{}, ErrNotFound
		}
		bal = 0
	}
	if deltaMinor < 0 && bal+deltaMinor < 0 {
		return Entry{}, ErrInsufficientFunds
	}

	e := Entry{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        typ,
		AmountMinor: deltaMinor,
		OpKey:       opKey,
		Reference:   reference,
		CreatedAt:   s.Clock().UTC(),
	}
	s.balances[userID] = bal + deltaMinor
	s.byOpKey[key] = e
	s.entries = append(s.entries, e)
	return e, nil
}
