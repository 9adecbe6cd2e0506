package rewards

import (
	"context"
	"errors"
	"time"
)

// Store records reward points earned on completed purchases.
//
// Same discipline as the wallet ledger: append-only, idempotent per opKey, so
// a finalize raced by webhook and sweep credits points at most once.
type Store interface {
	Points(ctx context.Context, userID string) (int64, error)
	Earn(ctx context.Context, userID string, points int64, opKey, reference string) error
}

var ErrInvalidArgument = errors.New("invalid argument")

// Earning is an append-only reward entry.
type Earning struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Points    int64     `json:"points"`
	OpKey     string    `json:"op_key"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
