package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"billpay-platform/internal/ledger"
	"billpay-platform/internal/metrics"
	"billpay-platform/internal/provider"
)

// Summary reports one sweep pass. Skipped counts transactions that needed a
// retry in a process with no retry scheduler attached.
type Summary struct {
	Scanned   int
	Completed int
	Failed    int
	Retried   int
	Skipped   int
	Unknown   int
}

// Sweeper resolves transactions stuck pending: queries the provider when a
// reference exists, hands never-sent transactions back to the retry queue.
//
// Sweeps take no locks. Concurrent sweeps and webhooks are safe because all
// resolution funnels through the ledger's idempotent finalize.
type Sweeper struct {
	svc     *ledger.Service
	txns    ledger.Store
	gateway provider.Gateway
	log     *slog.Logger
	clock   func() time.Time
}

func NewSweeper(svc *ledger.Service, txns ledger.Store, gateway provider.Gateway, log *slog.Logger) *Sweeper {
	return &Sweeper{
		svc:     svc,
		txns:    txns,
		gateway: gateway,
		log:     log.With("component", "reconcile"),
		clock:   time.Now,
	}
}

// SetClock is for check-stamp tests.
func (s *Sweeper) SetClock(clock func() time.Time) { s.clock = clock }

// Sweep examines up to batchLimit of the oldest pending transactions.
// "No answer" from the provider is never an error: the transaction keeps its
// pending status and only its check counters move.
func (s *Sweeper) Sweep(ctx context.Context, batchLimit int) (Summary, error) {
	if batchLimit <= 0 {
		batchLimit = 100
	}
	start := s.clock()
	defer func() {
		metrics.SweepDuration.Observe(s.clock().Sub(start).Seconds())
	}()

	pending, err := s.txns.ListPending(ctx, batchLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("reconcile: list pending: %w", err)
	}

	var sum Summary
	for _, txn := range pending {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Scanned++

		if txn.ProviderRef == "" {
			// Never reached the provider. Re-driving the purchase belongs to
			// the retry queue, not the sweep.
			if s.svc.ScheduleInitialRetry(txn.ID) {
				metrics.SweepTransactionsTotal.WithLabelValues("retried").Inc()
				sum.Retried++
			} else {
				metrics.SweepTransactionsTotal.WithLabelValues("skipped").Inc()
				sum.Skipped++
			}
			continue
		}

		res := s.gateway.QueryStatus(ctx, txn.ProviderRef)
		switch res.Status {
		case provider.StatusSuccess:
			if err := s.svc.FinalizeFromReconciliation(ctx, txn, res); err != nil {
				s.log.Error("sweep finalize", "transaction_id", txn.ID, "err", err)
				continue
			}
			metrics.SweepTransactionsTotal.WithLabelValues("completed").Inc()
			sum.Completed++
		case provider.StatusFailed:
			if err := s.svc.FinalizeFromReconciliation(ctx, txn, res); err != nil {
				s.log.Error("sweep finalize", "transaction_id", txn.ID, "err", err)
				continue
			}
			metrics.SweepTransactionsTotal.WithLabelValues("failed").Inc()
			sum.Failed++
		default:
			// pending or unknown
			if err := s.txns.RecordCheckAttempt(ctx, txn.ID, s.clock().UTC()); err != nil {
				s.log.Error("record check attempt", "transaction_id", txn.ID, "err", err)
			}
			metrics.SweepTransactionsTotal.WithLabelValues("unresolved").Inc()
			sum.Unknown++
		}
	}

	s.log.Info("sweep finished",
		"scanned", sum.Scanned, "completed", sum.Completed, "failed", sum.Failed,
		"retried", sum.Retried, "skipped", sum.Skipped, "unresolved", sum.Unknown)
	return sum, nil
}

// Run sweeps on a fixed interval until the context is cancelled. Used by the
// in-process ticker in the API server.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, batchLimit int) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, batchLimit); err != nil && ctx.Err() == nil {
				s.log.Error("sweep", "err", err)
			}
		}
	}
}
