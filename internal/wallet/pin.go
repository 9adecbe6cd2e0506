package wallet

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"sync"
)

var ErrInvalidPin = errors.New("invalid pin")

// PinVerifier checks the transaction PIN a user submits with a payment.
// PIN management (set/change) belongs to the upstream account service; this
// side only verifies.
type PinVerifier interface {
	VerifyPin(ctx context.Context, userID, pin string) error
}

func hashPin(salt []byte, pin string) string {
	mac := hmac.New(sha256.New, salt)
	mac.Write([]byte(pin))
	return hex.EncodeToString(mac.Sum(nil))
}

// PostgresPinStore reads salted PIN hashes from wallet_pins.
type PostgresPinStore struct {
	db *sql.DB
}

func NewPostgresPinStore(db *sql.DB) *PostgresPinStore {
	return &PostgresPinStore{db: db}
}

func (s *PostgresPinStore) VerifyPin(ctx context.Context, userID, pin string) error {
	if userID == "" || pin == "" {
		return ErrInvalidPin
	}
	const q = `SELECT pin_hash, salt FROM wallet_pins WHERE user_id = $1`
	var storedHash, saltHex string
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&storedHash, &saltHex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No PIN on file means the wallet cannot transact.
			return ErrInvalidPin
		}
		return err
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return ErrInvalidPin
	}
	if !hmac.Equal([]byte(hashPin(salt, pin)), []byte(storedHash)) {
		return ErrInvalidPin
	}
	return nil
}

// MemoryPinStore is a process-local PinVerifier for tests.
type MemoryPinStore struct {
	mu   sync.Mutex
	pins map[string]struct {
		hash string
		salt []byte
	}
}

func NewMemoryPinStore() *MemoryPinStore {
	return &MemoryPinStore{pins: map[string]struct {
		hash string
		salt []byte
	}{}}
}

// SetPin stores a PIN for a user. Tests only.
func (s *MemoryPinStore) SetPin(userID, pin string) {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[userID] = struct {
		hash string
		salt []byte
	}{hash: hashPin(salt, pin), salt: salt}
}

func (s *MemoryPinStore) VerifyPin(ctx context.Context, userID, pin string) error {
	if userID == "" || pin == "" {
		return ErrInvalidPin
	}
	s.mu.Lock()
	rec, ok := s.pins[userID]
	s.mu.Unlock()
	if !ok {
		return ErrInvalidPin
	}
	if !hmac.Equal([]byte(hashPin(rec.salt, pin)), []byte(rec.hash)) {
		return ErrInvalidPin
	}
	return nil
}
