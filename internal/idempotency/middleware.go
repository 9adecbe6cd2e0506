package idempotency

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const keyHeader = "Idempotency-Key"

// bodyCapture tees the response body so a snapshot can be stored after the
// handler runs.
type bodyCapture struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyCapture) Write(p []byte) (int, error) {
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}

func (w *bodyCapture) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware deduplicates requests carrying an Idempotency-Key header. The
// key is scoped to the authenticated user and route so different callers (or
// different endpoints) cannot collide. Requests without the header pass
// through untouched.
//
// Every final response is snapshotted, 5xx included: the handler may have
// produced side effects before failing, so a retry must replay the stored
// answer rather than run again. A fresh attempt needs a fresh key (or the
// TTL to pass).
func Middleware(store Store, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := c.GetHeader(keyHeader)
		if clientKey == "" {
			c.Next()
			return
		}

		key := c.GetString("user_id") + ":" + c.Request.Method + ":" + c.FullPath() + ":" + clientKey
		ctx := c.Request.Context()

		dec, err := store.Admit(ctx, key)
		if err != nil {
			log.Error("idempotency admit", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		switch dec.Outcome {
		case OutcomeReplay:
			ct := dec.Snapshot.ContentType
			if ct == "" {
				ct = "application/json"
			}
			c.Header("X-Idempotent-Replay", "true")
			c.Data(dec.Snapshot.Status, ct, dec.Snapshot.Body)
			c.Abort()
			return
		case OutcomeBusy:
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "request with this idempotency key is in flight"})
			return
		}

		capture := &bodyCapture{ResponseWriter: c.Writer}
		c.Writer = capture
		c.Next()

		snap := Snapshot{
			Status:      capture.Status(),
			ContentType: capture.Header().Get("Content-Type"),
			Body:        capture.buf.Bytes(),
		}
		if err := store.Complete(ctx, key, snap); err != nil {
			log.Error("idempotency complete", "err", err)
		}
	}
}
