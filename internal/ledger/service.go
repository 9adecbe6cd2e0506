package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"billpay-platform/internal/audit"
	"billpay-platform/internal/metrics"
	"billpay-platform/internal/notify"
	"billpay-platform/internal/pricing"
	"billpay-platform/internal/provider"
	"billpay-platform/internal/rewards"
	"billpay-platform/internal/wallet"

	"github.com/google/uuid"
)

// RetryScheduler queues a bounded re-attempt of a pending transaction's
// provider call. Implemented by internal/retry.
type RetryScheduler interface {
	Schedule(txnID string, attempt int)
}

// Finalize sources, recorded in metrics and audit events.
const (
	sourceSync      = "sync"
	sourceWebhook   = "webhook"
	sourceReconcile = "reconcile"
	sourceRetry     = "retry"
	sourceCancel    = "cancel"
)

// Service owns the transaction state machine and the wallet-adjustment side
// effects. It is the only mutator of transaction records.
//
// Consistency model:
// - Finalize serializes on a per-transaction compare-and-set (pending ->
//   terminal). Only the winner applies wallet/reward effects; webhook, sweep
//   and retry all funnel through the same path, so duplicates no-op.
// - Every wallet/reward effect carries a per-transaction op key and is
//   idempotent, a second line of defense behind the CAS.
// - Retryable provider failures keep the transaction pending; only permanent
//   failure (or budget exhaustion) moves it to failed. Terminal states are
//   never re-entered.
type Service struct {
	store    Store
	wallets  wallet.Store
	rewards  rewards.Store
	gateway  provider.Gateway
	retries  RetryScheduler
	audits   *audit.Service
	notifier notify.Notifier
	log      *slog.Logger
	clock    func() time.Time
}

func NewService(store Store, wallets wallet.Store, rew rewards.Store, gateway provider.Gateway, audits *audit.Service, notifier notify.Notifier, log *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Service{
		store:    store,
		wallets:  wallets,
		rewards:  rew,
		gateway:  gateway,
		audits:   audits,
		notifier: notifier,
		log:      log.With("component", "ledger"),
		clock:    time.Now,
	}
}

// SetRetryScheduler breaks the construction cycle: the orchestrator needs the
// service's attempt callback, the service needs the orchestrator's queue.
func (s *Service) SetRetryScheduler(r RetryScheduler) { s.retries = r }

// SetClock is for deterministic tests.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// CreateAndExecute admits a payment request, creates the pending transaction
// and drives the provider call to a synchronous classification.
//
// Rejected pre-checks (validation, insufficient funds) create no record.
func (s *Service) CreateAndExecute(ctx context.Context, userID string, kind pricing.Kind, amountMinor int64, params map[string]string) (Transaction, error) {
	if userID == "" {
		return Transaction{}, ValidationError{Field: "user_id"}
	}
	if amountMinor <= 0 {
		return Transaction{}, ValidationError{Field: "amount_minor", Reason: "must be > 0"}
	}
	sched, ok := pricing.ForKind(kind)
	if !ok {
		return Transaction{}, ValidationError{Field: "kind", Reason: "unsupported"}
	}
	if missing := sched.ValidateParams(params); missing != "" {
		return Transaction{}, ValidationError{Field: missing, Reason: "required"}
	}

	total := amountMinor + sched.FeeMinor
	if sched.Direction == pricing.DirectionDebit {
		bal, err := s.wallets.Balance(ctx, userID)
		if errors.Is(err, wallet.ErrNotFound) {
			return Transaction{}, ErrInsufficientFunds
		}
		if err != nil {
			return Transaction{}, err
		}
		if bal.BalanceMinor < total {
			return Transaction{}, ErrInsufficientFunds
		}
	}

	now := s.clock().UTC()
	txn := Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		AmountMinor: amountMinor,
		FeeMinor:    sched.FeeMinor,
		Status:      StatusPending,
		Params:      params,
		CreatedAt:   now,
	}
	if err := s.store.Create(ctx, txn); err != nil {
		return Transaction{}, err
	}

	if sched.DebitUpfront {
		if _, err := s.wallets.Debit(ctx, userID, total, debitOpKey(txn.ID), txn.ID); err != nil {
			// Balance moved between pre-check and debit. Nothing reached the
			// provider; close the record out without wallet effects.
			reason := "upfront debit failed: " + err.Error()
			if _, ferr := s.store.TransitionFromPending(ctx, txn.ID, StatusFailed, Finalization{FailureReason: reason}); ferr != nil {
				s.log.Error("finalize after debit failure", "transaction_id", txn.ID, "err", ferr)
			}
			metrics.PaymentsTotal.WithLabelValues(string(kind), string(StatusFailed)).Inc()
			if errors.Is(err, wallet.ErrInsufficientFunds) {
				return Transaction{}, ErrInsufficientFunds
			}
			return Transaction{}, err
		}
	}

	res := s.gateway.Purchase(ctx, provider.PurchaseRequest{
		Reference:   txn.ID,
		Kind:        kind,
		AmountMinor: amountMinor,
		Params:      params,
	})

	switch res.Outcome {
	case provider.OutcomeAccepted:
		if err := s.finalizeSuccess(ctx, txn, res.ProviderRef, sourceSync); err != nil {
			return Transaction{}, err
		}
	case provider.OutcomeRejected:
		if err := s.finalizeFailure(ctx, txn, failureReasonOr(res.Reason, "provider rejected"), sourceSync); err != nil {
			return Transaction{}, err
		}
	case provider.OutcomeRetryable:
		if err := s.store.AppendFailureReason(ctx, txn.ID, string(res.Class)+": "+res.Reason); err != nil {
			s.log.Warn("record failure reason", "transaction_id", txn.ID, "err", err)
		}
		if s.retries != nil {
			s.retries.Schedule(txn.ID, 1)
		}
	case provider.OutcomeAmbiguous:
		// The provider may have the order. Keep the transaction pending for
		// the webhook or the reconciliation sweep.
		if res.ProviderRef != "" {
			if err := s.store.SetProviderRef(ctx, txn.ID, res.ProviderRef); err != nil {
				s.log.Warn("store provider ref", "transaction_id", txn.ID, "err", err)
			}
		}
		s.log.Info("ambiguous provider outcome",
			"transaction_id", txn.ID, "class", res.Class, "reason", res.Reason)
	}

	out, err := s.store.Get(ctx, txn.ID)
	if err != nil {
		return Transaction{}, err
	}
	metrics.PaymentsTotal.WithLabelValues(string(kind), string(out.Status)).Inc()
	return out, nil
}

// FinalizeFromWebhook resolves a pending transaction from a provider
// callback. Unknown references are discarded: webhooks may reference foreign
// or long-expired orders, which is not an error.
func (s *Service) FinalizeFromWebhook(ctx context.Context, providerRef string, status provider.Status, reason string) error {
	txn, err := s.store.GetByProviderRef(ctx, providerRef)
	if errors.Is(err, ErrNotFound) {
		s.log.Info("webhook for unknown provider ref", "provider_ref", providerRef)
		return nil
	}
	if err != nil {
		return err
	}
	return s.finalizeFromReport(ctx, txn, provider.StatusResult{Status: status, Reason: reason}, sourceWebhook)
}

// FinalizeFromReconciliation applies a provider-reported status found by the
// sweep. Same idempotent finalize path as the webhook: first wins, the rest
// no-op.
func (s *Service) FinalizeFromReconciliation(ctx context.Context, txn Transaction, res provider.StatusResult) error {
	return s.finalizeFromReport(ctx, txn, res, sourceReconcile)
}

func (s *Service) finalizeFromReport(ctx context.Context, txn Transaction, res provider.StatusResult, source string) error {
	if txn.Status.Terminal() {
		metrics.FinalizeRaceLostTotal.Inc()
		return nil
	}
	switch res.Status {
	case provider.StatusSuccess:
		return s.finalizeSuccess(ctx, txn, txn.ProviderRef, source)
	case provider.StatusFailed:
		return s.finalizeFailure(ctx, txn, failureReasonOr(res.Reason, "provider reported failure"), source)
	default:
		// Pending/unknown never finalizes anything.
		return nil
	}
}

// finalizeSuccess moves pending -> completed and applies the money effects.
// Losing the CAS means another finalizer already settled the transaction.
func (s *Service) finalizeSuccess(ctx context.Context, txn Transaction, providerRef, source string) error {
	now := s.clock().UTC()
	won, err := s.store.TransitionFromPending(ctx, txn.ID, StatusCompleted, Finalization{
		ProviderRef: providerRef,
		CompletedAt: &now,
	})
	if err != nil {
		return err
	}
	if !won {
		metrics.FinalizeRaceLostTotal.Inc()
		return nil
	}
	metrics.FinalizationsTotal.WithLabelValues(source, string(StatusCompleted)).Inc()

	sched, _ := pricing.ForKind(txn.Kind)
	switch {
	case sched.Direction == pricing.DirectionCredit:
		if _, err := s.wallets.Credit(ctx, txn.UserID, txn.AmountMinor, creditOpKey(txn.ID), txn.ID); err != nil {
			s.walletEffectFailed(ctx, txn, "settlement credit failed", err)
		}
	case !sched.DebitUpfront:
		if _, err := s.wallets.Debit(ctx, txn.UserID, txn.TotalMinor(), debitOpKey(txn.ID), txn.ID); err != nil {
			s.walletEffectFailed(ctx, txn, "settlement debit failed", err)
		}
	}

	if pts := sched.RewardPoints(txn.AmountMinor); pts > 0 {
		if err := s.rewards.Earn(ctx, txn.UserID, pts, rewardOpKey(txn.ID), txn.ID); err != nil {
			s.walletEffectFailed(ctx, txn, "reward credit failed", err)
		}
	}

	if s.audits != nil {
		_ = s.audits.LogFinalize(ctx, txn.ID, txn.UserID, string(StatusCompleted), source)
	}
	s.notifier.Notify(ctx, notify.Event{
		UserID:        txn.UserID,
		TransactionID: txn.ID,
		Kind:          string(txn.Kind),
		Status:        string(StatusCompleted),
		AmountMinor:   txn.AmountMinor,
		FundsHeld:     sched.Direction == pricing.DirectionDebit,
		Message:       "payment completed",
	})
	return nil
}

// finalizeFailure moves pending -> failed. When the transaction had already
// moved money out (upfront-debit kinds), the winner issues the compensating
// credit and moves failed -> refunded.
func (s *Service) finalizeFailure(ctx context.Context, txn Transaction, reason, source string) error {
	won, err := s.store.TransitionFromPending(ctx, txn.ID, StatusFailed, Finalization{FailureReason: reason})
	if err != nil {
		return err
	}
	if !won {
		metrics.FinalizeRaceLostTotal.Inc()
		return nil
	}
	metrics.FinalizationsTotal.WithLabelValues(source, string(StatusFailed)).Inc()

	sched, _ := pricing.ForKind(txn.Kind)
	refunded := false
	if sched.DebitUpfront {
		// Refund is idempotent per transaction: the op key guarantees at
		// most one compensating credit even if two finalizers reach here.
		if _, err := s.wallets.Credit(ctx, txn.UserID, txn.TotalMinor(), refundOpKey(txn.ID), txn.ID); err != nil {
			s.walletEffectFailed(ctx, txn, "refund credit failed", err)
		} else {
			refunded = true
			if _, err := s.store.TransitionFromFailed(ctx, txn.ID, StatusRefunded, Finalization{}); err != nil {
				s.log.Error("mark refunded", "transaction_id", txn.ID, "err", err)
			}
			if s.audits != nil {
				_ = s.audits.LogRefund(ctx, txn.ID, txn.UserID)
			}
		}
	}

	if s.audits != nil {
		_ = s.audits.LogFinalize(ctx, txn.ID, txn.UserID, string(StatusFailed), source)
	}
	s.notifier.Notify(ctx, notify.Event{
		UserID:        txn.UserID,
		TransactionID: txn.ID,
		Kind:          string(txn.Kind),
		Status:        string(StatusFailed),
		AmountMinor:   txn.AmountMinor,
		FundsHeld:     sched.DebitUpfront,
		Refunded:      refunded,
		Message:       reason,
	})
	return nil
}

// RetryAttempt re-invokes the provider call for a still-pending transaction.
// Returns true when the orchestrator should schedule another attempt.
// last marks the final budgeted attempt; a retryable failure then becomes a
// permanent one.
func (s *Service) RetryAttempt(ctx context.Context, txnID string, attempt int, last bool) bool {
	txn, err := s.store.Get(ctx, txnID)
	if err != nil {
		s.log.Error("retry lookup", "transaction_id", txnID, "err", err)
		return false
	}
	if txn.Status.Terminal() {
		metrics.RetryAttemptsTotal.WithLabelValues("already_final").Inc()
		return false
	}

	res := s.gateway.Purchase(ctx, provider.PurchaseRequest{
		Reference:   txn.ID,
		Kind:        txn.Kind,
		AmountMinor: txn.AmountMinor,
		Params:      txn.Params,
	})

	switch res.Outcome {
	case provider.OutcomeAccepted:
		metrics.RetryAttemptsTotal.WithLabelValues("succeeded").Inc()
		if err := s.finalizeSuccess(ctx, txn, res.ProviderRef, sourceRetry); err != nil {
			s.log.Error("retry finalize", "transaction_id", txn.ID, "err", err)
		}
		return false
	case provider.OutcomeRejected:
		metrics.RetryAttemptsTotal.WithLabelValues("rejected").Inc()
		if err := s.finalizeFailure(ctx, txn, failureReasonOr(res.Reason, "provider rejected"), sourceRetry); err != nil {
			s.log.Error("retry finalize", "transaction_id", txn.ID, "err", err)
		}
		return false
	case provider.OutcomeAmbiguous:
		// Do not burn budget on an outcome the provider may have accepted;
		// record the ref if one came back and leave it to the sweep.
		metrics.RetryAttemptsTotal.WithLabelValues("ambiguous").Inc()
		if res.ProviderRef != "" {
			_ = s.store.SetProviderRef(ctx, txn.ID, res.ProviderRef)
		}
		return false
	default: // provider.OutcomeRetryable
		reason := string(res.Class) + ": " + res.Reason
		if err := s.store.RecordRetryAttempt(ctx, txn.ID, reason, s.clock().UTC()); err != nil {
			s.log.Error("record retry attempt", "transaction_id", txn.ID, "err", err)
		}
		if last {
			metrics.RetryAttemptsTotal.WithLabelValues("exhausted").Inc()
			if err := s.finalizeFailure(ctx, txn, "retry budget exhausted: "+reason, sourceRetry); err != nil {
				s.log.Error("retry finalize", "transaction_id", txn.ID, "err", err)
			}
			return false
		}
		metrics.RetryAttemptsTotal.WithLabelValues("rescheduled").Inc()
		return true
	}
}

// ScheduleInitialRetry queues the first retry for a transaction the sweep
// found pending without a provider ref (it never reached the provider).
// Returns false when no scheduler is attached, as in the one-shot reconcile
// binary; the transaction stays pending for a process that has one.
func (s *Service) ScheduleInitialRetry(txnID string) bool {
	if s.retries == nil {
		return false
	}
	s.retries.Schedule(txnID, 1)
	return true
}

// Cancel aborts a still-pending transaction on behalf of its owner.
// Upfront-debited money is returned.
func (s *Service) Cancel(ctx context.Context, txnID, userID string) (Transaction, error) {
	txn, err := s.store.Get(ctx, txnID)
	if err != nil {
		return Transaction{}, err
	}
	if txn.UserID != userID {
		return Transaction{}, ErrNotFound
	}

	won, err := s.store.TransitionFromPending(ctx, txnID, StatusCancelled, Finalization{FailureReason: "cancelled by user"})
	if err != nil {
		return Transaction{}, err
	}
	if !won {
		return Transaction{}, ErrNotCancellable
	}
	metrics.FinalizationsTotal.WithLabelValues(sourceCancel, string(StatusCancelled)).Inc()

	sched, _ := pricing.ForKind(txn.Kind)
	if sched.DebitUpfront {
		if _, err := s.wallets.Credit(ctx, txn.UserID, txn.TotalMinor(), refundOpKey(txn.ID), txn.ID); err != nil {
			s.walletEffectFailed(ctx, txn, "cancel refund failed", err)
		}
	}
	if s.audits != nil {
		_ = s.audits.Append(ctx, audit.Event{
			Type:          audit.EventTypeCancel,
			ActorUserID:   userID,
			TransactionID: txn.ID,
			WalletUserID:  txn.UserID,
			Message:       "cancelled by user",
		})
	}
	return s.store.Get(ctx, txnID)
}

// Get returns a transaction scoped to its owner.
func (s *Service) Get(ctx context.Context, txnID, userID string) (Transaction, error) {
	txn, err := s.store.Get(ctx, txnID)
	if err != nil {
		return Transaction{}, err
	}
	if txn.UserID != userID {
		return Transaction{}, ErrNotFound
	}
	return txn, nil
}

// ListForUser returns the owner's transaction history, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// walletEffectFailed records a money effect that failed after a won CAS.
// The transaction status is already settled; this is an operator signal, not
// a rollback (the op keys make a later manual replay safe).
func (s *Service) walletEffectFailed(ctx context.Context, txn Transaction, what string, err error) {
	metrics.WalletEffectErrorsTotal.Inc()
	s.log.Error(what, "transaction_id", txn.ID, "user_id", txn.UserID, "err", err)
	_ = s.store.AppendFailureReason(ctx, txn.ID, what+": "+err.Error())
}

func failureReasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
