package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billpay-platform/internal/audit"
	"billpay-platform/internal/auth"
	"billpay-platform/internal/config"
	"billpay-platform/internal/httpapi"
	"billpay-platform/internal/idempotency"
	"billpay-platform/internal/ledger"
	"billpay-platform/internal/notify"
	"billpay-platform/internal/provider"
	"billpay-platform/internal/ratelimit"
	"billpay-platform/internal/reconcile"
	"billpay-platform/internal/retry"
	"billpay-platform/internal/rewards"
	"billpay-platform/internal/wallet"
	"billpay-platform/internal/webhook"
	"billpay-platform/pkg/logger"
	"billpay-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const sweepInterval = time.Minute

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{
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

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Stores
	txnStore := ledger.NewPostgresStore(db)
	walletStore := wallet.NewPostgresStore(db)
	rewardStore := rewards.NewPostgresStore(db)
	auditor := audit.NewService(audit.NewPostgresRepo(db))

	// Provider gateway and the transaction service around it
	gateway := provider.NewHTTPGateway("biller", cfg.Provider, log)
	svc := ledger.NewService(txnStore, walletStore, rewardStore, gateway, auditor, notify.NewLogNotifier(log), log)

	retries := retry.NewOrchestrator(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}, svc.RetryAttempt, log)
	defer retries.Close()
	svc.SetRetryScheduler(retries)

	sweeper := reconcile.NewSweeper(svc, txnStore, gateway, log)
	go sweeper.Run(rootCtx, sweepInterval, 100)

	// Webhook verification chain
	if len(cfg.Webhook.Secrets) == 0 {
		log.Warn("no webhook secrets configured, every provider callback will answer 501")
	}
	webhookAuth := webhook.NewAuthenticator(cfg.Webhook.Secrets)
	guard := webhook.NewGuard(webhook.NewRedisNonceStore(rdb), cfg.Webhook.ReplayWindow, nil)
	webhookHandler := webhook.NewHandler(webhookAuth, guard, svc, log)

	apiHandler := httpapi.NewHandler(svc, walletStore, wallet.NewPostgresPinStore(db), rewardStore, sweeper, auditor, log)
	idemStore := idempotency.NewRedisStore(rdb, cfg.Guard.IdempotencyTTL)
	limiter := ratelimit.NewRedisLimiter(rdb, cfg.Guard.RateLimit, cfg.Guard.RateLimitWindow)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(httpapi.MetricsMiddleware())

	registerRoutes(r, routeDeps{
		db:        db,
		auth:      authManager,
		api:       apiHandler,
		webhooks:  webhookHandler,
		idemStore: idemStore,
		limiter:   limiter,
		log:       log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
