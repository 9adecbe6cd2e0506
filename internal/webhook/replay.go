package webhook

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	ErrMissingReplayHeaders = errors.New("webhook: missing timestamp or nonce")
	ErrStaleTimestamp       = errors.New("webhook: timestamp outside replay window")
	ErrDuplicate            = errors.New("webhook: duplicate delivery")
)

// NonceStore records first sight of a (provider, nonce) pair. Record returns
// false when the pair was already seen inside the TTL. The write must be
// atomic with the check so concurrent duplicates cannot both pass.
type NonceStore interface {
	Record(ctx context.Context, provider, nonce string, ttl time.Duration) (bool, error)
}

// Guard rejects replayed and stale webhook deliveries. Timestamps are unix
// seconds; deliveries older (or newer, clock skew) than the window are
// rejected before the nonce is consulted.
type Guard struct {
	nonces NonceStore
	window time.Duration
	clock  func() time.Time

	// bare providers are known not to send timestamp/nonce headers and skip
	// the guard entirely. Everyone else must send both.
	bare map[string]bool
}

func NewGuard(nonces NonceStore, window time.Duration, bareProviders []string) *Guard {
	if window <= 0 {
		window = 5 * time.Minute
	}
	bare := make(map[string]bool, len(bareProviders))
	for _, p := range bareProviders {
		bare[p] = true
	}
	return &Guard{nonces: nonces, window: window, clock: time.Now, bare: bare}
}

// SetClock is for staleness tests.
func (g *Guard) SetClock(clock func() time.Time) { g.clock = clock }

// CheckAndRecord validates freshness and claims the nonce. A nil return means
// the delivery is new and has been recorded.
func (g *Guard) CheckAndRecord(ctx context.Context, provider, timestamp, nonce string) error {
	if g.bare[provider] {
		return nil
	}
	if timestamp == "" || nonce == "" {
		return ErrMissingReplayHeaders
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	age := g.clock().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > g.window {
		return ErrStaleTimestamp
	}

	fresh, err := g.nonces.Record(ctx, provider, nonce, g.window)
	if err != nil {
		return err
	}
	if !fresh {
		return ErrDuplicate
	}
	return nil
}
