package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level collectors, registered once via promauto.

var (
	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billpay_payments_total",
		Help: "Payment requests by kind and outcome status.",
	}, []string{"kind", "status"})

	FinalizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billpay_finalizations_total",
		Help: "Transaction finalizations by source (sync, webhook, reconcile, retry) and result.",
	}, []string{"source", "result"})

	FinalizeRaceLostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billpay_finalize_race_lost_total",
		Help: "Finalize attempts that found the transaction already terminal (expected no-ops).",
	})

	WalletEffectErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billpay_wallet_effect_errors_total",
		Help: "Wallet/reward effects that failed after a won finalize. Requires operator attention.",
	})

	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billpay_webhooks_total",
		Help: "Webhook deliveries by provider and disposition.",
	}, []string{"provider", "disposition"})

	RetryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billpay_retry_attempts_total",
		Help: "Provider retry attempts by verdict.",
	}, []string{"verdict"})

	SweepTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billpay_sweep_transactions_total",
		Help: "Transactions examined by the reconciliation sweep, by resolution.",
	}, []string{"resolution"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "billpay_sweep_duration_seconds",
		Help:    "Duration of reconciliation sweeps.",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billpay_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
