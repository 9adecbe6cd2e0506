package idempotency

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newRouter(store Store, handled *atomic.Int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r.POST("/v1/payments", func(c *gin.Context) {
		c.Set("user_id", "u1")
		c.Next()
	}, Middleware(store, log), func(c *gin.Context) {
		n := handled.Add(1)
		c.JSON(http.StatusCreated, gin.H{"call": n})
	})
	return r
}

func doPost(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/payments", nil)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDuplicateKeyReplaysSnapshot(t *testing.T) {
	var handled atomic.Int64
	r := newRouter(NewMemoryStore(time.Minute), &handled)

	first := doPost(r, "k-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", first.Code)
	}
	second := doPost(r, "k-1")
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want 201", second.Code)
	}
	if got, want := second.Body.String(), first.Body.String(); got != want {
		t.Fatalf("replay body = %q, want byte-identical %q", got, want)
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatal("replay marker header missing")
	}
	if handled.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", handled.Load())
	}
}

func TestDistinctKeysRunIndependently(t *testing.T) {
	var handled atomic.Int64
	r := newRouter(NewMemoryStore(time.Minute), &handled)

	doPost(r, "k-1")
	doPost(r, "k-2")
	if handled.Load() != 2 {
		t.Fatalf("handler ran %d times, want 2", handled.Load())
	}
}

func TestMissingKeyBypassesGate(t *testing.T) {
	var handled atomic.Int64
	r := newRouter(NewMemoryStore(time.Minute), &handled)

	doPost(r, "")
	doPost(r, "")
	if handled.Load() != 2 {
		t.Fatalf("handler ran %d times, want 2 without a key", handled.Load())
	}
}

func TestInFlightKeyIsBusy(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	key := "u1:POST:/v1/payments:k-busy"
	if dec, err := store.Admit(context.Background(), key); err != nil || dec.Outcome != OutcomeProceed {
		t.Fatalf("first admit = %+v, %v", dec, err)
	}

	var handled atomic.Int64
	r := newRouter(store, &handled)
	w := doPost(r, "k-busy")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 while key is held", w.Code)
	}
	if handled.Load() != 0 {
		t.Fatal("handler ran for a busy key")
	}
}

func TestServerErrorIsSnapshotted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.SetClock(func() time.Time { return now })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	var handled atomic.Int64
	r := gin.New()
	r.POST("/v1/payments", Middleware(store, log), func(c *gin.Context) {
		if handled.Add(1) == 1 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	if w := doPost(r, "k-err"); w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	// The handler may have debited before failing, so a retry inside the
	// TTL must replay the stored 500, not run again.
	retry := doPost(r, "k-err")
	if retry.Code != http.StatusInternalServerError {
		t.Fatalf("retry status = %d, want replayed 500", retry.Code)
	}
	if retry.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatal("replay marker header missing on stored failure")
	}
	if handled.Load() != 1 {
		t.Fatalf("handler ran %d times under one key inside the TTL, want 1", handled.Load())
	}

	now = now.Add(2 * time.Minute)
	if w := doPost(r, "k-err"); w.Code != http.StatusCreated {
		t.Fatalf("status after expiry = %d, want 201 (fresh run)", w.Code)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	key := "k-ttl"
	if _, err := store.Admit(context.Background(), key); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := store.Complete(context.Background(), key, Snapshot{Status: 201, Body: []byte(`{}`)}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	dec, err := store.Admit(context.Background(), key)
	if err != nil || dec.Outcome != OutcomeReplay {
		t.Fatalf("admit before expiry = %+v, %v; want replay", dec, err)
	}

	now = now.Add(2 * time.Minute)
	dec, err = store.Admit(context.Background(), key)
	if err != nil || dec.Outcome != OutcomeProceed {
		t.Fatalf("admit after expiry = %+v, %v; want proceed", dec, err)
	}
}
