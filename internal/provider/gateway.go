package provider

import (
	"context"

	"billpay-platform/internal/pricing"
)

// Gateway is the provider-agnostic interface to the upstream bill-payment API.
//
// Rules:
// - No provider HTTP calls outside this package.
// - Failure is data, not control flow: both calls return a tagged result so
//   the state machine's branches stay exhaustive and testable. Transport
//   errors are folded into the result classification.
type Gateway interface {
	Name() string
	Purchase(ctx context.Context, req PurchaseRequest) PurchaseResult
	QueryStatus(ctx context.Context, providerRef string) StatusResult
}

type PurchaseRequest struct {
	// Reference is our transaction id; providers echo it back in callbacks.
	Reference string `json:"reference"`

	Kind        pricing.Kind      `json:"kind"`
	AmountMinor int64             `json:"amount_minor"`
	Params      map[string]string `json:"params"`
}

// Outcome classifies a purchase attempt.
type Outcome string

const (
	// OutcomeAccepted: the provider took the order; ProviderRef is set.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeRejected: definite permanent refusal (bad meter number, unknown
	// product code). Never retried.
	OutcomeRejected Outcome = "rejected"
	// OutcomeRetryable: definite failure of a transient class; eligible for
	// the retry schedule.
	OutcomeRetryable Outcome = "retryable"
	// OutcomeAmbiguous: timeout or no usable response. The transaction must
	// stay pending for a webhook or the reconciliation sweep to resolve.
	OutcomeAmbiguous Outcome = "ambiguous"
)

// FailureClass refines non-accepted outcomes.
type FailureClass string

const (
	FailureNone        FailureClass = ""
	FailureNetwork     FailureClass = "network_error"
	FailureTimeout     FailureClass = "timeout"
	FailureServer      FailureClass = "server_error"
	FailureRateLimited FailureClass = "rate_limited"
	FailureRejected    FailureClass = "provider_rejected"
)

type PurchaseResult struct {
	Outcome     Outcome
	ProviderRef string
	Class       FailureClass
	Reason      string
}

// Status is the provider-reported state of a previously submitted purchase.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	// StatusUnknown: the provider could not answer (lookup failed, transport
	// problem). Never treated as a definitive state.
	StatusUnknown Status = "unknown"
)

type StatusResult struct {
	Status Status
	Reason string
}

// ParseStatus maps a provider status string to the internal enum,
// case-insensitively. Unrecognized values are unknown, not failed.
func ParseStatus(raw string) Status {
	switch normalize(raw) {
	case "pending", "processing", "queued":
		return StatusPending
	case "success", "successful", "completed", "delivered":
		return StatusSuccess
	case "failed", "failure", "reversed", "declined":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

func normalize(s string) string {
	b := []byte(s)
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c == ' ' || c == '\t' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
