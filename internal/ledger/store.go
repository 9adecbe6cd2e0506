package ledger

import (
	"context"
	"time"
)

// Finalization carries the fields written together with a status transition.
type Finalization struct {
	// ProviderRef is stored if non-empty and not already set.
	ProviderRef   string
	FailureReason string
	CompletedAt   *time.Time
}

// Store is the transaction persistence contract.
//
// Records are append-only: there is no delete, and status moves only through
// the two compare-and-set transitions below. Everything else appends audit
// metadata.
type Store interface {
	Create(ctx context.Context, txn Transaction) error
	Get(ctx context.Context, id string) (Transaction, error)
	GetByProviderRef(ctx context.Context, providerRef string) (Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error)

	// ListPending returns up to limit pending transactions, oldest first.
	// A missing/null status is treated as pending.
	ListPending(ctx context.Context, limit int) ([]Transaction, error)

	// TransitionFromPending atomically moves pending -> to and applies fin.
	// Returns false when the transaction was no longer pending: the caller
	// lost the finalize race and must not apply wallet effects.
	TransitionFromPending(ctx context.Context, id string, to Status, fin Finalization) (bool, error)

	// TransitionFromFailed atomically moves failed -> refunded.
	TransitionFromFailed(ctx context.Context, id string, to Status, fin Finalization) (bool, error)

	// SetProviderRef stores the external reference on a still-pending
	// transaction (ambiguous outcomes that returned a ref).
	SetProviderRef(ctx context.Context, id, providerRef string) error

	// RecordRetryAttempt increments retry_count and stamps last_retry_at.
	RecordRetryAttempt(ctx context.Context, id, reason string, at time.Time) error

	// RecordCheckAttempt increments check_count and stamps last_checked_at.
	RecordCheckAttempt(ctx context.Context, id string, at time.Time) error

	// AppendFailureReason appends audit metadata without touching status.
	AppendFailureReason(ctx context.Context, id, reason string) error
}

// appendReason accumulates failure reasons instead of replacing them, so each
// retry's error stays visible in the audit trail.
func appendReason(existing, next string) string {
	if next == "" {
		return existing
	}
	if existing == "" {
		return next
	}
	return existing + "; " + next
}
