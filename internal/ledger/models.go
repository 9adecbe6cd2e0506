package ledger

import (
	"errors"
	"fmt"
	"time"

	"billpay-platform/internal/pricing"
)

// Status is the transaction lifecycle state.
//
// Allowed transitions:
//
//	pending -> completed | failed | cancelled
//	failed  -> refunded
//
// Terminal states are never re-entered; only audit fields (failure reason,
// retry/check counters) may still be appended.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRefunded, StatusCancelled:
		return true
	default:
		return false
	}
}

// Transaction is the append-only unit of work. Records are never deleted;
// the full audit trail (retry counters, timestamps, failure reason) is kept
// for support and dispute resolution.
type Transaction struct {
	ID     string       `json:"id"`
	UserID string       `json:"user_id"`
	Kind   pricing.Kind `json:"kind"`

	AmountMinor int64 `json:"amount_minor"`
	FeeMinor    int64 `json:"fee_minor"`

	Status Status `json:"status"`

	// ProviderRef is the provider's external reference, set once known.
	// Transactions that never reached the provider have none.
	ProviderRef string `json:"provider_ref,omitempty"`

	// Params are the provider parameters captured at admission so retries
	// re-submit the identical purchase.
	Params map[string]string `json:"params,omitempty"`

	RetryCount  int        `json:"retry_count"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`

	// CheckCount / LastCheckedAt track reconciliation lookups that got no
	// definitive answer from the provider.
	CheckCount    int        `json:"check_count"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`

	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// TotalMinor is the full wallet impact of the transaction.
func (t Transaction) TotalMinor() int64 {
	return t.AmountMinor + t.FeeMinor
}

var (
	ErrNotFound          = errors.New("transaction not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotCancellable    = errors.New("transaction is not cancellable")
)

// ValidationError reports a rejected request field. Client error, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Wallet op keys. One key per money leg makes every wallet effect idempotent
// with respect to the transaction.
func debitOpKey(txnID string) string  { return txnID + ":debit" }
func creditOpKey(txnID string) string { return txnID + ":credit" }
func refundOpKey(txnID string) string { return txnID + ":refund" }
func rewardOpKey(txnID string) string { return txnID + ":reward" }
