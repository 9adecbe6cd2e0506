package notify

import (
	"context"
	"log/slog"
	"time"
)

// Event describes a transaction outcome worth telling the user about.
type Event struct {
	UserID        string
	TransactionID string
	Kind          string
	Status        string
	AmountMinor   int64

	// FundsHeld tells the user whether money left the wallet and, on
	// failure, whether a refund is on the way.
	FundsHeld bool
	Refunded  bool

	Message string
}

// Notifier is a fire-and-forget sink. Implementations must never block the
// caller and must swallow their own failures.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// LogNotifier writes notifications to the structured log. It stands in for
// push/SMS/email delivery, which live behind the same interface.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("component", "notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, e Event) {
	go func() {
		// Detach from the request context; the caller does not wait.
		_ = ctx
		n.log.Info("notify",
			"user_id", e.UserID,
			"transaction_id", e.TransactionID,
			"kind", e.Kind,
			"status", e.Status,
			"amount_minor", e.AmountMinor,
			"funds_held", e.FundsHeld,
			"refunded", e.Refunded,
			"message", e.Message,
			"at", time.Now().UTC(),
		)
	}()
}

// NopNotifier discards everything. Tests use it when notifications are not
// under assertion.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, e Event) {}
