package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrUnknownProvider: no secret configured for this provider. Policy is
	// fail closed, the endpoint rejects rather than skipping verification.
	ErrUnknownProvider = errors.New("webhook: provider not configured")
	ErrMissingSignature = errors.New("webhook: missing signature")
	ErrBadSignature     = errors.New("webhook: signature mismatch")
)

// Authenticator verifies provider callback signatures. The signature is
// HMAC-SHA256 over the exact raw request body, hex encoded, optionally
// prefixed "sha256=". Verification runs before any JSON parsing.
type Authenticator struct {
	secrets map[string]string
}

// NewAuthenticator takes the per-provider shared secrets, keyed by lowercase
// provider name.
func NewAuthenticator(secrets map[string]string) *Authenticator {
	out := make(map[string]string, len(secrets))
	for name, secret := range secrets {
		out[strings.ToLower(name)] = secret
	}
	return &Authenticator{secrets: out}
}

// Known reports whether a secret is configured for the provider.
func (a *Authenticator) Known(provider string) bool {
	_, ok := a.secrets[strings.ToLower(provider)]
	return ok
}

// Verify checks the signature against the raw body.
func (a *Authenticator) Verify(provider string, rawBody []byte, signature string) error {
	secret, ok := a.secrets[strings.ToLower(provider)]
	if !ok {
		return ErrUnknownProvider
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return ErrMissingSignature
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the signature for a body, for tests and outbound tooling.
func Sign(secret string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}
