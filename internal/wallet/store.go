package wallet

import (
	"context"
	"errors"
	"time"
)

// Store is the wallet contract consumed by the transaction ledger.
//
// Money invariants:
// - No balance update without a ledger entry; the ledger is append-only.
// - Every money operation carries an operation key and is idempotent with
//   respect to it: re-applying the same opKey returns the original entry and
//   leaves the balance untouched.
// - Debit never drives a balance negative.
type Store interface {
	Balance(ctx context.Context, userID string) (Balance, error)

	// Debit moves amountMinor out of the wallet. Returns ErrInsufficientFunds
	// when the balance cannot cover it. Idempotent per (userID, opKey).
	Debit(ctx context.Context, userID string, amountMinor int64, opKey, reference string) (Entry, error)

	// Credit moves amountMinor into the wallet. Idempotent per (userID, opKey).
	Credit(ctx context.Context, userID string, amountMinor int64, opKey, reference string) (Entry, error)
}

var (
	ErrNotFound          = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
)

type Balance struct {
	UserID       string    `json:"user_id"`
	BalanceMinor int64     `json:"balance_minor"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Entry is an immutable append-only ledger row.
// Credits are positive, debits negative.
type Entry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Type        EntryType `json:"type"`
	AmountMinor int64     `json:"amount_minor"`

	// OpKey makes the money operation idempotent. For transaction-driven
	// effects this is "<transaction_id>:<leg>" (debit / credit / refund).
	OpKey string `json:"op_key"`

	// Reference is optional context: transaction id, admin action id, etc.
	Reference string `json:"reference,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EntryType string

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
	EntryTypeRefund EntryType = "refund"
)

func validateOp(userID string, amountMinor int64, opKey string) error {
	if userID == "" || opKey == "" {
		return ErrInvalidArgument
	}
	if amountMinor <= 0 {
		return ErrInvalidArgument
	}
	return nil
}
