package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event is an internal audit record. Events are only ever appended.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`

	// ActorUserID is the acting principal (customer or admin); system events
	// (webhook finalize, sweep) use the reserved actor "system".
	ActorUserID string `json:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty"`

	TransactionID string `json:"transaction_id,omitempty"`
	WalletUserID  string `json:"wallet_user_id,omitempty"`

	Message  string `json:"message"`
	Metadata string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeFinalize    EventType = "finalize"
	EventTypeRefund      EventType = "refund"
	EventTypeCancel      EventType = "cancel"
	EventTypeAdminCredit EventType = "admin_credit"
)

const ActorSystem = "system"

// Repository is the persistence contract for audit events. Append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Service logs internal audit information.
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorUserID == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogFinalize records a transaction reaching a terminal state.
func (s *Service) LogFinalize(ctx context.Context, txnID, userID, status, source string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeFinalize,
		ActorUserID:   ActorSystem,
		TransactionID: txnID,
		WalletUserID:  userID,
		Message:       "transaction " + status + " via " + source,
	})
}

// LogRefund records a compensating credit.
func (s *Service) LogRefund(ctx context.Context, txnID, userID string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeRefund,
		ActorUserID:   ActorSystem,
		TransactionID: txnID,
		WalletUserID:  userID,
		Message:       "wallet refunded",
	})
}

// LogAdminCredit records a privileged manual credit.
func (s *Service) LogAdminCredit(ctx context.Context, adminID, adminRole, walletUserID, reason string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeAdminCredit,
		ActorUserID:  adminID,
		ActorRole:    adminRole,
		WalletUserID: walletUserID,
		Message:      reason,
	})
}
