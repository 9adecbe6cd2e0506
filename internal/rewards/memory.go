package rewards

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu       sync.Mutex
	points   map[string]int64
	byOpKey  map[string]struct{}
	earnings []Earning
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		points:  map[string]int64{},
		byOpKey: map[string]struct{}{},
	}
}

func (s *MemoryStore) Points(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points[userID], nil
}

func (s *MemoryStore) Earn(ctx context.Context, userID string, points int64, opKey, reference string) error {
	if userID == "" || opKey == "" || points <= 0 {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userID + "\x00" + opKey
	if _, ok := s.byOpKey[key]; ok {
		return nil
	}
	s.byOpKey[key] = struct{}{}
	s.points[userID] += points
	s.earnings = append(s.earnings, Earning{
		ID:        uuid.NewString(),
		UserID:    userID,
		Points:    points,
		OpKey:     opKey,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}
