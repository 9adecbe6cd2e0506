package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestMemoryLimiterWindow(t *testing.T) {
	l := NewMemoryLimiter(3, time.Minute)
	now := time.Now()
	l.SetClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "u1", "/v1/payments")
		if err != nil || !ok {
			t.Fatalf("request %d = %v, %v; want allowed", i+1, ok, err)
		}
	}
	if ok, _ := l.Allow(ctx, "u1", "/v1/payments"); ok {
		t.Fatal("request over limit allowed")
	}

	// Other principals and routes have their own windows.
	if ok, _ := l.Allow(ctx, "u2", "/v1/payments"); !ok {
		t.Fatal("different principal throttled")
	}
	if ok, _ := l.Allow(ctx, "u1", "/v1/transactions"); !ok {
		t.Fatal("different route throttled")
	}

	// Window rollover resets the count.
	now = now.Add(61 * time.Second)
	if ok, _ := l.Allow(ctx, "u1", "/v1/payments"); !ok {
		t.Fatal("request after window rollover throttled")
	}
}

func TestMiddlewareThrottles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := NewMemoryLimiter(2, time.Minute)

	r := gin.New()
	r.POST("/v1/payments", func(c *gin.Context) {
		c.Set("user_id", "u1")
		c.Next()
	}, Middleware(l, log), func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/payments", nil))
		codes = append(codes, w.Code)
	}
	want := []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}
}
