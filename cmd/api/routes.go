package main

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"billpay-platform/internal/auth"
	"billpay-platform/internal/httpapi"
	"billpay-platform/internal/idempotency"
	"billpay-platform/internal/ratelimit"
	"billpay-platform/internal/rbac"
	"billpay-platform/internal/webhook"
	"billpay-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	db        *sql.DB
	auth      *auth.Manager
	api       *httpapi.Handler
	webhooks  *webhook.Handler
	idemStore idempotency.Store
	limiter   ratelimit.Limiter
	log       *slog.Logger
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	// Public surface: health, metrics, provider callbacks.
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/webhooks/billing/:provider", d.webhooks.Handle)

	// Authenticated customer surface.
	v1 := r.Group("/v1", auth.RequireAccessToken(d.auth))
	v1.POST("/payments",
		ratelimit.Middleware(d.limiter, d.log),
		idempotency.Middleware(d.idemStore, d.log),
		d.api.CreatePayment)
	v1.GET("/transactions", d.api.ListTransactions)
	v1.GET("/transactions/:id", d.api.GetTransaction)
	v1.POST("/transactions/:id/cancel", d.api.CancelTransaction)
	v1.GET("/wallet/balance", d.api.WalletBalance)
	v1.GET("/wallet/rewards", d.api.RewardsBalance)

	// Back-office surface.
	admin := v1.Group("/admin", rbac.RequireAnyRole(rbac.RoleFinance, rbac.RoleSupport))
	admin.POST("/wallets/manual-credit", rbac.RequireAnyRole(rbac.RoleFinance), d.api.AdminManualCredit)
	admin.POST("/reconcile", d.api.AdminReconcile)
}
