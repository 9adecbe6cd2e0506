package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"billpay-platform/internal/ledger"
	"billpay-platform/internal/metrics"
	"billpay-platform/internal/provider"

	"github.com/gin-gonic/gin"
)

const (
	signatureHeader = "X-Signature"
	timestampHeader = "X-Timestamp"
	nonceHeader     = "X-Nonce"

	maxBodyBytes = 1 << 20
)

// payload is the normalized provider callback body. Providers agree on this
// shape at onboarding; reference is the id they returned at purchase time.
type payload struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

// Handler terminates provider webhooks: signature first, then replay guard,
// then finalize. Acceptance is acknowledged 200 even when the referenced
// transaction is unknown or already terminal, so providers stop redelivering.
type Handler struct {
	auth   *Authenticator
	guard  *Guard
	ledger *ledger.Service
	log    *slog.Logger
}

func NewHandler(auth *Authenticator, guard *Guard, svc *ledger.Service, log *slog.Logger) *Handler {
	return &Handler{auth: auth, guard: guard, ledger: svc, log: log.With("component", "webhook")}
}

// Handle serves POST /webhooks/billing/:provider.
func (h *Handler) Handle(c *gin.Context) {
	prov := strings.ToLower(c.Param("provider"))

	if !h.auth.Known(prov) {
		h.reject(c, prov, "unconfigured", http.StatusNotImplemented, "provider not configured")
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.reject(c, prov, "unreadable", http.StatusBadRequest, "unreadable body")
		return
	}

	if err := h.auth.Verify(prov, rawBody, c.GetHeader(signatureHeader)); err != nil {
		h.reject(c, prov, "bad_signature", http.StatusUnauthorized, "invalid signature")
		return
	}

	ctx := c.Request.Context()
	if err := h.guard.CheckAndRecord(ctx, prov, c.GetHeader(timestampHeader), c.GetHeader(nonceHeader)); err != nil {
		switch {
		case errors.Is(err, ErrDuplicate):
			h.reject(c, prov, "replay", http.StatusConflict, "duplicate delivery")
		case errors.Is(err, ErrStaleTimestamp):
			h.reject(c, prov, "stale", http.StatusBadRequest, "stale timestamp")
		case errors.Is(err, ErrMissingReplayHeaders):
			h.reject(c, prov, "missing_headers", http.StatusBadRequest, "missing timestamp or nonce")
		default:
			h.log.Error("replay guard", "provider", prov, "err", err)
			h.reject(c, prov, "guard_error", http.StatusInternalServerError, "internal error")
		}
		return
	}

	var p payload
	if err := json.Unmarshal(rawBody, &p); err != nil || p.Reference == "" {
		h.reject(c, prov, "malformed", http.StatusBadRequest, "malformed payload")
		return
	}

	status := provider.ParseStatus(p.Status)
	if err := h.ledger.FinalizeFromWebhook(ctx, p.Reference, status, p.Reason); err != nil {
		h.log.Error("webhook finalize", "provider", prov, "reference", p.Reference, "err", err)
		h.reject(c, prov, "finalize_error", http.StatusInternalServerError, "internal error")
		return
	}

	metrics.WebhooksTotal.WithLabelValues(prov, "accepted").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) reject(c *gin.Context, prov, disposition string, status int, msg string) {
	metrics.WebhooksTotal.WithLabelValues(prov, disposition).Inc()
	c.JSON(status, gin.H{"error": msg})
}
