package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"billpay-platform/internal/audit"
	"billpay-platform/internal/config"
	"billpay-platform/internal/ledger"
	"billpay-platform/internal/notify"
	"billpay-platform/internal/provider"
	"billpay-platform/internal/reconcile"
	"billpay-platform/internal/rewards"
	"billpay-platform/internal/wallet"
	"billpay-platform/pkg/logger"
	"billpay-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// One-shot reconciliation sweep for cron and operators. The periodic sweep in
// the API server uses the same Sweeper; this binary exists so a stuck batch
// can be driven by hand without touching the serving process.
func main() {
	batch := flag.Int("batch", 100, "max pending transactions to examine")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime,
	})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	txnStore := ledger.NewPostgresStore(db)
	gateway := provider.NewHTTPGateway("biller", cfg.Provider, log)
	auditor := audit.NewService(audit.NewPostgresRepo(db))

	// No retry orchestrator here: a one-shot process cannot honor backoff
	// timers. Transactions without a provider ref are left for the API
	// server's scheduler.
	svc := ledger.NewService(txnStore, wallet.NewPostgresStore(db), rewards.NewPostgresStore(db), gateway, auditor, notify.NewLogNotifier(log), log)

	sweeper := reconcile.NewSweeper(svc, txnStore, gateway, log)
	sum, err := sweeper.Sweep(ctx, *batch)
	if err != nil {
		log.Error("sweep failed", "err", err)
		os.Exit(1)
	}
	log.Info("sweep done",
		"scanned", sum.Scanned, "completed", sum.Completed, "failed", sum.Failed,
		"retried", sum.Retried, "skipped", sum.Skipped, "unresolved", sum.Unknown)
}
