package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"billpay-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore implements Store on the following tables:
// - wallet_ledger   (immutable append-only, UNIQUE (user_id, op_key))
// - wallet_balances (projection updated atomically alongside ledger inserts)
//
// Concurrent money operations per user serialize on the balance row lock.
type PostgresStore struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Balance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	const q = `
SELECT user_id, balance_minor, updated_at
FROM wallet_balances
WHERE user_id = $1
`
	var b Balance
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.BalanceMinor, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func (s *PostgresStore) Debit(ctx context.Context, userID string, amountMinor int64, opKey, reference string) (Entry, error) {
	return s.apply(ctx, userID, EntryTypeDebit, -amountMinor, opKey, reference)
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, amountMinor int64, opKey, reference string) (Entry, error) {
	return s.apply(ctx, userID, EntryTypeCredit, amountMinor, opKey, reference)
}

func (s *PostgresStore) apply(ctx context.Context, userID string, typ EntryType, deltaMinor int64, opKey, reference string) (Entry, error) {
	amount := deltaMinor
	if amount < 0 {
		amount = -amount
	}
	if err := validateOp(userID, amount, opKey); err != nil {
		return Entry{}, err
	}

	now := s.clock().UTC()
	entryID := uuid.NewString()

	var out Entry
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Idempotency: a prior entry for this op wins; the balance was already
		// adjusted when it was written.
		if existing, ok, err := findEntryByOpKey(ctx, tx, userID, opKey); err != nil {
			return err
		} else if ok {
			out = existing
			return nil
		}

		if deltaMinor > 0 {
			// Credits may land on wallets that have no row yet.
			if err := ensureBalanceRow(ctx, tx, userID, now); err != nil {
				return err
			}
		}
		b, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if deltaMinor < 0 && b.BalanceMinor+deltaMinor < 0 {
			return ErrInsufficientFunds
		}

		out = Entry{
			ID:          entryID,
			UserID:      userID,
			Type:        typ,
			AmountMinor: deltaMinor,
			OpKey:       opKey,
			Reference:   reference,
			CreatedAt:   now,
		}
		if err := insertEntry(ctx, tx, out); err != nil {
			return err
		}
		return updateBalance(ctx, tx, userID, deltaMinor, now)
	})
	if err != nil {
		return Entry{}, err
	}
	return out, nil
}

func ensureBalanceRow(ctx context.Context, tx *sql.Tx, userID string, now time.Time) error {
	const q = `
INSERT INTO wallet_balances (user_id, balance_minor, updated_at)
VALUES ($1, 0, $2)
ON CONFLICT (user_id) DO NOTHING
`
	_, err := tx.ExecContext(ctx, q, userID, now)
	return err
}

func lockBalance(ctx context.Context, tx *sql.Tx, userID string) (Balance, error) {
	const q = `
SELECT user_id, balance_minor, updated_at
FROM wallet_balances
WHERE user_id = $1
FOR UPDATE
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.BalanceMinor, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func findEntryByOpKey(ctx context.Context, tx *sql.Tx, userID, opKey string) (Entry, bool, error) {
	const q = `
SELECT id, user_id, type, amount_minor, op_key, reference, created_at
FROM wallet_ledger
WHERE user_id = $1 AND op_key = $2
LIMIT 1
`
	var e Entry
	err := tx.QueryRowContext(ctx, q, userID, opKey).Scan(
		&e.ID, &e.UserID, &e.Type, &e.AmountMinor, &e.OpKey, &e.Reference, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e Entry) error {
	const q = `
INSERT INTO wallet_ledger (id, user_id, type, amount_minor, op_key, reference, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := tx.ExecContext(ctx, q, e.ID, e.UserID, e.Type, e.AmountMinor, e.OpKey, e.Reference, e.CreatedAt)
	return err
}

func updateBalance(ctx context.Context, tx *sql.Tx, userID string, deltaMinor int64, now time.Time) error {
	// The row is already locked; this is a plain projection update.
	const q = `
UPDATE wallet_balances
SET balance_minor = balance_minor + $2, updated_at = $3
WHERE user_id = $1
`
	_, err := tx.ExecContext(ctx, q, userID, deltaMinor, now)
	return err
}
