package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"billpay-platform/internal/auth"
	"billpay-platform/internal/config"
	"billpay-platform/internal/idempotency"
	"billpay-platform/internal/ledger"
	"billpay-platform/internal/provider"
	"billpay-platform/internal/ratelimit"
	"billpay-platform/internal/rbac"
	"billpay-platform/internal/reconcile"
	"billpay-platform/internal/rewards"
	"billpay-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

type apiFixture struct {
	router  *gin.Engine
	tokens  *auth.Manager
	store   *ledger.MemoryStore
	wallets *wallet.MemoryStore
	pins    *wallet.MemoryPinStore
	gateway *provider.MockGateway
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &apiFixture{
		store:   ledger.NewMemoryStore(),
		wallets: wallet.NewMemoryStore(),
		pins:    wallet.NewMemoryPinStore(),
		gateway: provider.NewMockGateway(),
	}
	f.pins.SetPin("u1", "1234")
	rew := rewards.NewMemoryStore()
	svc := ledger.NewService(f.store, f.wallets, rew, f.gateway, nil, nil, log)
	sweeper := reconcile.NewSweeper(svc, f.store, f.gateway, log)
	h := NewHandler(svc, f.wallets, f.pins, rew, sweeper, nil, log)

	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	f.tokens = tokens

	idemStore := idempotency.NewMemoryStore(time.Minute)
	limiter := ratelimit.NewMemoryLimiter(100, time.Minute)

	r := gin.New()
	v1 := r.Group("/v1", auth.RequireAccessToken(tokens))
	v1.POST("/payments", ratelimit.Middleware(limiter, log), idempotency.Middleware(idemStore, log), h.CreatePayment)
	v1.GET("/transactions", h.ListTransactions)
	v1.GET("/transactions/:id", h.GetTransaction)
	v1.POST("/transactions/:id/cancel", h.CancelTransaction)
	v1.GET("/wallet/balance", h.WalletBalance)
	v1.GET("/wallet/rewards", h.RewardsBalance)

	admin := v1.Group("/admin", rbac.RequireAnyRole(rbac.RoleFinance))
	admin.POST("/wallets/manual-credit", h.AdminManualCredit)
	admin.POST("/reconcile", h.AdminReconcile)

	f.router = r
	return f
}

func (f *apiFixture) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := f.tokens.Issue(time.Now(), userID, role, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestPaymentFlowEndToEnd(t *testing.T) {
	f := newAPIFixture(t)
	f.wallets.Seed("u1", 100_000)
	tok := f.token(t, "u1", rbac.RoleCustomer)

	body := `{"kind":"airtime","amount_minor":5000,"pin":"1234","params":{"phone_number":"08030000000","network":"mtn"}}`
	w := f.do(t, http.MethodPost, "/v1/payments", tok, body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var created struct {
		Transaction ledger.Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Transaction.Status != ledger.StatusCompleted {
		t.Fatalf("transaction status = %s, want completed", created.Transaction.Status)
	}

	// The owner can read it back.
	w = f.do(t, http.MethodGet, "/v1/transactions/"+created.Transaction.ID, tok, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", w.Code)
	}

	// Another user cannot.
	other := f.token(t, "u2", rbac.RoleCustomer)
	w = f.do(t, http.MethodGet, "/v1/transactions/"+created.Transaction.ID, other, "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign get status = %d, want 404", w.Code)
	}

	// Wallet reflects amount plus fee.
	w = f.do(t, http.MethodGet, "/v1/wallet/balance", tok, "", nil)
	var balResp struct {
		Balance wallet.Balance `json:"balance"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &balResp); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if want := int64(100_000 - 5_050); balResp.Balance.BalanceMinor != want {
		t.Fatalf("balance = %d, want %d", balResp.Balance.BalanceMinor, want)
	}
}

func TestPaymentRequiresAuth(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/v1/payments", "", `{"kind":"airtime","amount_minor":5000}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestPaymentInvalidPin(t *testing.T) {
	f := newAPIFixture(t)
	f.wallets.Seed("u1", 100_000)
	tok := f.token(t, "u1", rbac.RoleCustomer)

	body := `{"kind":"airtime","amount_minor":5000,"pin":"9999","params":{"phone_number":"08030000000","network":"mtn"}}`
	w := f.do(t, http.MethodPost, "/v1/payments", tok, body, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for wrong pin", w.Code)
	}
	if f.gateway.PurchaseCallCount() != 0 {
		t.Fatal("provider called despite failed pin check")
	}
}

func TestPaymentInsufficientFunds(t *testing.T) {
	f := newAPIFixture(t)
	f.wallets.Seed("u1", 100)
	tok := f.token(t, "u1", rbac.RoleCustomer)

	body := `{"kind":"airtime","amount_minor":5000,"pin":"1234","params":{"phone_number":"08030000000","network":"mtn"}}`
	w := f.do(t, http.MethodPost, "/v1/payments", tok, body, nil)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
}

func TestPaymentValidationError(t *testing.T) {
	f := newAPIFixture(t)
	f.wallets.Seed("u1", 100_000)
	tok := f.token(t, "u1", rbac.RoleCustomer)

	body := `{"kind":"airtime","amount_minor":5000,"pin":"1234","params":{"phone_number":"08030000000"}}`
	w := f.do(t, http.MethodPost, "/v1/payments", tok, body, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp struct {
		Field string `json:"field"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Field != "network" {
		t.Fatalf("field = %q, want network", resp.Field)
	}
}

func TestPaymentIdempotencyKeyDeduplicates(t *testing.T) {
	f := newAPIFixture(t)
	f.wallets.Seed("u1", 100_000)
	tok := f.token(t, "u1", rbac.RoleCustomer)

	body := `{"kind":"airtime","amount_minor":5000,"pin":"1234","params":{"phone_number":"08030000000","network":"mtn"}}`
	headers := map[string]string{"Idempotency-Key": "pay-once"}

	first := f.do(t, http.MethodPost, "/v1/payments", tok, body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", first.Code)
	}
	second := f.do(t, http.MethodPost, "/v1/payments", tok, body, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want 201", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatal("replay body differs from original")
	}
	if f.gateway.PurchaseCallCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", f.gateway.PurchaseCallCount())
	}

	bal, _ := f.wallets.Balance(context.Background(), "u1")
	if want := int64(100_000 - 5_050); bal.BalanceMinor != want {
		t.Fatalf("balance = %d, want %d (charged once)", bal.BalanceMinor, want)
	}
}

func TestPendingPaymentReturnsAccepted(t *testing.T) {
	f := newAPIFixture(t)
	f.wallets.Seed("u1", 100_000)
	tok := f.token(t, "u1", rbac.RoleCustomer)
	f.gateway.PurchaseScript = []provider.PurchaseResult{
		{Outcome: provider.OutcomeAmbiguous, ProviderRef: "prov-9", Reason: "timeout"},
	}

	body := `{"kind":"airtime","amount_minor":5000,"pin":"1234","params":{"phone_number":"08030000000","network":"mtn"}}`
	w := f.do(t, http.MethodPost, "/v1/payments", tok, body, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 for pending", w.Code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.wallets.Seed("u1", 100_000)
	tok := f.token(t, "u1", rbac.RoleCustomer)
	f.gateway.PurchaseScript = []provider.PurchaseResult{
		{Outcome: provider.OutcomeAmbiguous, Reason: "timeout"},
	}

	body := `{"kind":"airtime","amount_minor":5000,"pin":"1234","params":{"phone_number":"08030000000","network":"mtn"}}`
	w := f.do(t, http.MethodPost, "/v1/payments", tok, body, nil)
	var created struct {
		Transaction ledger.Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = f.do(t, http.MethodPost, "/v1/transactions/"+created.Transaction.ID+"/cancel", tok, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200: %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodPost, "/v1/transactions/"+created.Transaction.ID+"/cancel", tok, "", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want 409", w.Code)
	}
}

func TestAdminEndpointsRequireRole(t *testing.T) {
	f := newAPIFixture(t)
	customer := f.token(t, "u1", rbac.RoleCustomer)
	finance := f.token(t, "fin1", rbac.RoleFinance)

	body := `{"user_id":"u1","amount_minor":10000,"reference":"chargeback-42"}`
	if w := f.do(t, http.MethodPost, "/v1/admin/wallets/manual-credit", customer, body, nil); w.Code != http.StatusForbidden {
		t.Fatalf("customer status = %d, want 403", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/admin/wallets/manual-credit", finance, body, nil); w.Code != http.StatusOK {
		t.Fatalf("finance status = %d, want 200: %s", w.Code, w.Body.String())
	}

	// Same reference replays, does not double-credit.
	if w := f.do(t, http.MethodPost, "/v1/admin/wallets/manual-credit", finance, body, nil); w.Code != http.StatusOK {
		t.Fatalf("replayed credit status = %d, want 200", w.Code)
	}
	bal, _ := f.wallets.Balance(context.Background(), "u1")
	if bal.BalanceMinor != 10_000 {
		t.Fatalf("balance = %d, want 10000 credited once", bal.BalanceMinor)
	}
}

func TestAdminReconcileSweeps(t *testing.T) {
	f := newAPIFixture(t)
	f.wallets.Seed("u1", 100_000)
	tok := f.token(t, "u1", rbac.RoleCustomer)
	f.gateway.PurchaseScript = []provider.PurchaseResult{
		{Outcome: provider.OutcomeAmbiguous, ProviderRef: "prov-sweep", Reason: "timeout"},
	}

	body := `{"kind":"airtime","amount_minor":5000,"pin":"1234","params":{"phone_number":"08030000000","network":"mtn"}}`
	if w := f.do(t, http.MethodPost, "/v1/payments", tok, body, nil); w.Code != http.StatusAccepted {
		t.Fatalf("payment status = %d, want 202", w.Code)
	}

	f.gateway.StatusScript = []provider.StatusResult{{Status: provider.StatusSuccess}}
	finance := f.token(t, "fin1", rbac.RoleFinance)
	w := f.do(t, http.MethodPost, "/v1/admin/reconcile", finance, `{"batch_limit":10}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Summary reconcile.Summary `json:"summary"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Summary.Completed != 1 {
		t.Fatalf("summary = %+v, want one completed", resp.Summary)
	}
}
