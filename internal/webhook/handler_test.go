package webhook

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"billpay-platform/internal/ledger"
	"billpay-platform/internal/pricing"
	"billpay-platform/internal/provider"
	"billpay-platform/internal/rewards"
	"billpay-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

const testSecret = "s3cret"

type webhookFixture struct {
	router  *gin.Engine
	svc     *ledger.Service
	store   *ledger.MemoryStore
	wallets *wallet.MemoryStore
	gateway *provider.MockGateway
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &webhookFixture{
		store:   ledger.NewMemoryStore(),
		wallets: wallet.NewMemoryStore(),
		gateway: provider.NewMockGateway(),
	}
	f.svc = ledger.NewService(f.store, f.wallets, rewards.NewMemoryStore(), f.gateway, nil, nil, log)

	auth := NewAuthenticator(map[string]string{"paystack": testSecret})
	guard := NewGuard(NewMemoryNonceStore(), 5*time.Minute, nil)
	h := NewHandler(auth, guard, f.svc, log)

	f.router = gin.New()
	f.router.POST("/webhooks/billing/:provider", h.Handle)
	return f
}

// pendingTxn creates a transaction stuck pending with the given provider ref.
func (f *webhookFixture) pendingTxn(t *testing.T, ref string) ledger.Transaction {
	t.Helper()
	f.wallets.Seed("u1", 100_000)
	f.gateway.PurchaseScript = append(f.gateway.PurchaseScript,
		provider.PurchaseResult{Outcome: provider.OutcomeAmbiguous, ProviderRef: ref, Reason: "timeout"})
	txn, err := f.svc.CreateAndExecute(context.Background(), "u1", pricing.KindAirtime, 5_000,
		map[string]string{"phone_number": "08030000000", "network": "mtn"})
	if err != nil {
		t.Fatalf("CreateAndExecute: %v", err)
	}
	return txn
}

func (f *webhookFixture) post(provider, body, signature, timestamp, nonce string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing/"+provider, bytes.NewBufferString(body))
	if signature != "" {
		req.Header.Set("X-Signature", signature)
	}
	if timestamp != "" {
		req.Header.Set("X-Timestamp", timestamp)
	}
	if nonce != "" {
		req.Header.Set("X-Nonce", nonce)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func nowUnix() string { return strconv.FormatInt(time.Now().Unix(), 10) }

func TestSignedWebhookFinalizesTransaction(t *testing.T) {
	f := newWebhookFixture(t)
	txn := f.pendingTxn(t, "prov-1")

	body := `{"reference":"prov-1","status":"success"}`
	w := f.post("paystack", body, Sign(testSecret, []byte(body)), nowUnix(), "n-1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	got, err := f.store.Get(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ledger.StatusCompleted {
		t.Fatalf("txn status = %s, want completed", got.Status)
	}
}

func TestBadSignatureRejected(t *testing.T) {
	f := newWebhookFixture(t)
	txn := f.pendingTxn(t, "prov-2")

	body := `{"reference":"prov-2","status":"success"}`
	w := f.post("paystack", body, Sign("wrong-secret", []byte(body)), nowUnix(), "n-1")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	got, _ := f.store.Get(context.Background(), txn.ID)
	if got.Status != ledger.StatusPending {
		t.Fatalf("txn status = %s, unsigned webhook must not finalize", got.Status)
	}
}

func TestTamperedBodyRejected(t *testing.T) {
	f := newWebhookFixture(t)
	f.pendingTxn(t, "prov-3")

	signed := `{"reference":"prov-3","status":"failed"}`
	tampered := `{"reference":"prov-3","status":"success"}`
	w := f.post("paystack", tampered, Sign(testSecret, []byte(signed)), nowUnix(), "n-1")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for tampered body", w.Code)
	}
}

func TestUnconfiguredProviderNotImplemented(t *testing.T) {
	f := newWebhookFixture(t)
	body := `{"reference":"x","status":"success"}`
	w := f.post("flutterwave", body, Sign(testSecret, []byte(body)), nowUnix(), "n-1")
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501 for unconfigured provider", w.Code)
	}
}

func TestDuplicateNonceConflict(t *testing.T) {
	f := newWebhookFixture(t)
	f.pendingTxn(t, "prov-4")

	body := `{"reference":"prov-4","status":"success"}`
	sig := Sign(testSecret, []byte(body))
	ts := nowUnix()

	if w := f.post("paystack", body, sig, ts, "n-dup"); w.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d, want 200", w.Code)
	}
	if w := f.post("paystack", body, sig, ts, "n-dup"); w.Code != http.StatusConflict {
		t.Fatalf("replayed delivery status = %d, want 409", w.Code)
	}

	// One finalize, one debit.
	if entries := f.wallets.Entries(); len(entries) != 1 {
		t.Fatalf("wallet entries = %d, want 1", len(entries))
	}
}

func TestStaleTimestampRejected(t *testing.T) {
	f := newWebhookFixture(t)
	f.pendingTxn(t, "prov-5")

	body := `{"reference":"prov-5","status":"success"}`
	old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	w := f.post("paystack", body, Sign(testSecret, []byte(body)), old, "n-1")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for stale timestamp", w.Code)
	}
}

func TestMissingReplayHeadersRejected(t *testing.T) {
	f := newWebhookFixture(t)
	body := `{"reference":"x","status":"success"}`
	w := f.post("paystack", body, Sign(testSecret, []byte(body)), "", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing headers", w.Code)
	}
}

func TestUnknownReferenceAcknowledged(t *testing.T) {
	f := newWebhookFixture(t)
	body := `{"reference":"never-seen","status":"success"}`
	w := f.post("paystack", body, Sign(testSecret, []byte(body)), nowUnix(), "n-1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 no-op for unknown reference", w.Code)
	}
}

func TestMalformedPayloadRejected(t *testing.T) {
	f := newWebhookFixture(t)
	body := `{"status":"success"}` // no reference
	w := f.post("paystack", body, Sign(testSecret, []byte(body)), nowUnix(), "n-1")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for payload without reference", w.Code)
	}
}

func TestGuardSkipsBareProvider(t *testing.T) {
	g := NewGuard(NewMemoryNonceStore(), 5*time.Minute, []string{"legacybiller"})
	if err := g.CheckAndRecord(context.Background(), "legacybiller", "", ""); err != nil {
		t.Fatalf("bare provider rejected: %v", err)
	}
	if err := g.CheckAndRecord(context.Background(), "paystack", "", ""); err == nil {
		t.Fatal("provider with headers required passed without them")
	}
}
