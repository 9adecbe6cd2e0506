package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AttemptFunc re-executes the provider call for a transaction. attempt is
// 1-based; last marks the final budgeted attempt. Returning true asks for
// another attempt.
type AttemptFunc func(ctx context.Context, txnID string, attempt int, last bool) bool

// Config bounds the retry schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c *Config) withDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Minute
	}
}

// Orchestrator runs capped exponential-backoff retries for pending
// transactions. Delays and the attempt budget live here; the state decisions
// (still pending? exhausted?) live in the attempt callback.
//
// Scheduling is in-process and best effort: a restart drops queued retries,
// which the reconciliation sweep picks back up.
type Orchestrator struct {
	cfg     Config
	attempt AttemptFunc
	log     *slog.Logger

	after func(time.Duration) <-chan time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewOrchestrator(cfg Config, attempt AttemptFunc, log *slog.Logger) *Orchestrator {
	cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		attempt:  attempt,
		log:      log.With("component", "retry"),
		after:    time.After,
		inflight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Delay returns the backoff before the given 1-based attempt:
// base * 2^(attempt-1), capped at MaxDelay.
func (o *Orchestrator) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := o.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= o.cfg.MaxDelay {
			return o.cfg.MaxDelay
		}
	}
	if d > o.cfg.MaxDelay {
		return o.cfg.MaxDelay
	}
	return d
}

// Schedule queues the given attempt for a transaction. Attempts beyond the
// budget and duplicate schedules for an already-queued transaction are
// dropped.
func (o *Orchestrator) Schedule(txnID string, attempt int) {
	if attempt < 1 || attempt > o.cfg.MaxAttempts {
		return
	}
	o.mu.Lock()
	if _, dup := o.inflight[txnID]; dup {
		o.mu.Unlock()
		return
	}
	o.inflight[txnID] = struct{}{}
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(txnID, attempt)
}

func (o *Orchestrator) run(txnID string, attempt int) {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			o.forget(txnID)
			return
		case <-o.after(o.Delay(attempt)):
		}

		last := attempt == o.cfg.MaxAttempts
		o.log.Info("retry attempt",
			"transaction_id", txnID, "attempt", attempt, "max_attempts", o.cfg.MaxAttempts)
		again := o.attempt(o.ctx, txnID, attempt, last)
		if !again || last {
			o.forget(txnID)
			return
		}
		attempt++
	}
}

func (o *Orchestrator) forget(txnID string) {
	o.mu.Lock()
	delete(o.inflight, txnID)
	o.mu.Unlock()
}

// Close stops scheduling and waits for in-flight attempts to finish. Queued
// but not yet fired attempts are abandoned.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}
