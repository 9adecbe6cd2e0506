package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "app", Name: "billpay"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Provider: ProviderConfig{
			BaseURL: "https://biller.example.com",
		},
		Webhook: WebhookConfig{
			Secrets: map[string]string{"paystack": "whsec"},
		},
	}
}

func TestValidate_AppliesDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Provider.CallTimeout != 30*time.Second {
		t.Fatalf("expected 30s provider timeout default, got %v", c.Provider.CallTimeout)
	}
	if c.Webhook.ReplayWindow != 5*time.Minute {
		t.Fatalf("expected 5m replay window default, got %v", c.Webhook.ReplayWindow)
	}
	if c.Guard.IdempotencyTTL != 5*time.Minute {
		t.Fatalf("expected 5m idempotency TTL default, got %v", c.Guard.IdempotencyTTL)
	}
	if c.Retry.MaxAttempts != 3 {
		t.Fatalf("expected retry budget default 3, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay != 5*time.Second || c.Retry.MaxDelay != 5*time.Minute {
		t.Fatalf("unexpected retry delay defaults: %v %v", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode default disable outside production, got %q", c.DB.SSLMode)
	}
}

func TestValidate_ProductionRequirements(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Webhook.Secrets = nil
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"DB_SSLMODE", "JWT_ISSUER", "JWT_AUDIENCE", "BILLER_API_KEY", "WEBHOOK_SECRETS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %s in error, got %v", want, err)
		}
	}
}

func TestValidate_RejectsBadRetryBounds(t *testing.T) {
	c := validConfig()
	c.Retry.BaseDelay = time.Minute
	c.Retry.MaxDelay = time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for max delay < base delay")
	}
}

func TestValidate_RejectsIdlePoolAboveOpen(t *testing.T) {
	c := validConfig()
	c.DB.MaxOpenConns = 10
	c.DB.MaxIdleConns = 20
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for idle conns above open conns")
	}
}

func TestParseSecretPairs(t *testing.T) {
	got := parseSecretPairs(" Paystack=abc, switchpay=def ,=zzz,broken,")
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %v", got)
	}
	if got["paystack"] != "abc" || got["switchpay"] != "def" {
		t.Fatalf("unexpected map: %v", got)
	}
}
