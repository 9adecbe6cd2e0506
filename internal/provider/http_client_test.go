package provider

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"billpay-platform/internal/config"
	"billpay-platform/internal/pricing"
)

func testGateway(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPGateway("testbiller", config.ProviderConfig{
		BaseURL:     srv.URL,
		APIKey:      "k",
		CallTimeout: timeout,
	}, slog.Default())
}

func purchaseReq() PurchaseRequest {
	return PurchaseRequest{
		Reference:   "tx-1",
		Kind:        pricing.KindAirtime,
		AmountMinor: 500,
		Params:      map[string]string{"phone_number": "0800", "network": "mtn"},
	}
}

func TestPurchase_Accepted(t *testing.T) {
	g := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing api key header")
		}
		w.Write([]byte(`{"status":"success","provider_ref":"ref-9"}`))
	}, 2*time.Second)

	res := g.Purchase(context.Background(), purchaseReq())
	if res.Outcome != OutcomeAccepted || res.ProviderRef != "ref-9" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPurchase_RejectedOn4xx(t *testing.T) {
	g := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"reason":"invalid meter number"}`))
	}, 2*time.Second)

	res := g.Purchase(context.Background(), purchaseReq())
	if res.Outcome != OutcomeRejected || res.Class != FailureRejected {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Reason != "invalid meter number" {
		t.Fatalf("expected provider reason, got %q", res.Reason)
	}
}

func TestPurchase_RetryableOn5xxAnd429(t *testing.T) {
	g := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, 2*time.Second)
	if res := g.Purchase(context.Background(), purchaseReq()); res.Outcome != OutcomeRetryable || res.Class != FailureServer {
		t.Fatalf("unexpected result: %+v", res)
	}

	g = testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}, 2*time.Second)
	if res := g.Purchase(context.Background(), purchaseReq()); res.Outcome != OutcomeRetryable || res.Class != FailureRateLimited {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPurchase_TimeoutIsAmbiguous(t *testing.T) {
	g := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}, 20*time.Millisecond)

	res := g.Purchase(context.Background(), purchaseReq())
	if res.Outcome != OutcomeAmbiguous || res.Class != FailureTimeout {
		t.Fatalf("timeout must stay ambiguous, got %+v", res)
	}
}

func TestPurchase_ProviderPendingKeepsRef(t *testing.T) {
	g := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"PENDING","provider_ref":"ref-3"}`))
	}, 2*time.Second)

	res := g.Purchase(context.Background(), purchaseReq())
	if res.Outcome != OutcomeAmbiguous || res.ProviderRef != "ref-3" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestQueryStatus_MapsCaseInsensitively(t *testing.T) {
	g := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"Successful"}`))
	}, 2*time.Second)

	res := g.QueryStatus(context.Background(), "ref-1")
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestQueryStatus_LookupFailureIsUnknown(t *testing.T) {
	g := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, 2*time.Second)

	res := g.QueryStatus(context.Background(), "ref-1")
	if res.Status != StatusUnknown {
		t.Fatalf("lookup failure must be unknown, got %+v", res)
	}
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"SUCCESS":    StatusSuccess,
		"delivered":  StatusSuccess,
		"Pending":    StatusPending,
		"processing": StatusPending,
		"FAILED":     StatusFailed,
		"reversed":   StatusFailed,
		"whatever":   StatusUnknown,
		"":           StatusUnknown,
	}
	for raw, want := range cases {
		if got := ParseStatus(raw); got != want {
			t.Errorf("ParseStatus(%q) = %v, want %v", raw, got, want)
		}
	}
}
