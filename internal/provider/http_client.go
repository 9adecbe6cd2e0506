package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"billpay-platform/internal/config"
)

// HTTPGateway talks to the upstream aggregator over HTTP.
//
// Every call carries a hard timeout from config. Expiry is classified as an
// ambiguous outcome: the provider may well have processed the order, so the
// caller must leave the transaction pending rather than fail it.
type HTTPGateway struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	log     *slog.Logger
}

func NewHTTPGateway(name string, cfg config.ProviderConfig, log *slog.Logger) *HTTPGateway {
	return &HTTPGateway{
		name:    name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.CallTimeout},
		log:     log.With("gateway", name),
	}
}

func (g *HTTPGateway) Name() string { return g.name }

type purchaseResponse struct {
	Status      string `json:"status"`
	ProviderRef string `json:"provider_ref"`
	Reason      string `json:"reason"`
}

func (g *HTTPGateway) Purchase(ctx context.Context, req PurchaseRequest) PurchaseResult {
	body, err := json.Marshal(req)
	if err != nil {
		return PurchaseResult{Outcome: OutcomeRejected, Class: FailureRejected, Reason: "unencodable request"}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/purchases", bytes.NewReader(body))
	if err != nil {
		return PurchaseResult{Outcome: OutcomeRejected, Class: FailureRejected, Reason: "bad request"}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return PurchaseResult{Outcome: OutcomeRetryable, Class: FailureRateLimited, Reason: "provider rate limit"}
	case resp.StatusCode >= 500:
		return PurchaseResult{Outcome: OutcomeRetryable, Class: FailureServer, Reason: "provider 5xx"}
	case resp.StatusCode >= 400:
		reason := readReason(resp.Body)
		return PurchaseResult{Outcome: OutcomeRejected, Class: FailureRejected, Reason: reason}
	}

	var parsed purchaseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		// 2xx with an unreadable body: the provider may have accepted the
		// order, so treat it like a lost response.
		g.log.Warn("unparseable purchase response", "err", err)
		return PurchaseResult{Outcome: OutcomeAmbiguous, Class: FailureNetwork, Reason: "unparseable response"}
	}

	switch ParseStatus(parsed.Status) {
	case StatusSuccess:
		return PurchaseResult{Outcome: OutcomeAccepted, ProviderRef: parsed.ProviderRef}
	case StatusFailed:
		return PurchaseResult{Outcome: OutcomeRejected, Class: FailureRejected, Reason: parsed.Reason}
	case StatusPending:
		// Accepted for async processing; keep the ref, resolve later.
		return PurchaseResult{Outcome: OutcomeAmbiguous, ProviderRef: parsed.ProviderRef, Reason: "provider pending"}
	default:
		return PurchaseResult{Outcome: OutcomeAmbiguous, Reason: "unrecognized provider status"}
	}
}

type statusResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (g *HTTPGateway) QueryStatus(ctx context.Context, providerRef string) StatusResult {
	if providerRef == "" {
		return StatusResult{Status: StatusUnknown, Reason: "empty provider ref"}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/purchases/"+providerRef, nil)
	if err != nil {
		return StatusResult{Status: StatusUnknown, Reason: "bad request"}
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return StatusResult{Status: StatusUnknown, Reason: "transport error"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusResult{Status: StatusUnknown, Reason: "status lookup failed"}
	}

	var parsed statusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return StatusResult{Status: StatusUnknown, Reason: "unparseable response"}
	}
	return StatusResult{Status: ParseStatus(parsed.Status), Reason: parsed.Reason}
}

func (g *HTTPGateway) classifyTransportError(ctx context.Context, err error) PurchaseResult {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return PurchaseResult{Outcome: OutcomeAmbiguous, Class: FailureTimeout, Reason: "provider call timed out"}
	case errors.As(err, &netErr) && netErr.Timeout():
		return PurchaseResult{Outcome: OutcomeAmbiguous, Class: FailureTimeout, Reason: "provider call timed out"}
	default:
		// Connection refused / DNS failure: the request never reached the
		// provider, safe to classify as retryable.
		return PurchaseResult{Outcome: OutcomeRetryable, Class: FailureNetwork, Reason: "network error"}
	}
}

func readReason(r io.Reader) string {
	var parsed purchaseResponse
	if err := json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&parsed); err == nil && parsed.Reason != "" {
		return parsed.Reason
	}
	return "provider rejected request"
}
