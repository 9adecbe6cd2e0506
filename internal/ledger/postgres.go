package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresStore persists transactions in a single append-only table.
// Status transitions are single-row compare-and-set updates; no multi-key
// transactions are needed.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txnColumns = `
id, user_id, kind, amount_minor, fee_minor, status, provider_ref, params,
retry_count, last_retry_at, check_count, last_checked_at, failure_reason,
created_at, completed_at`

func (s *PostgresStore) Create(ctx context.Context, txn Transaction) error {
	params, err := json.Marshal(txn.Params)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO transactions (` + txnColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`
	_, err = s.db.ExecContext(ctx, q,
		txn.ID, txn.UserID, txn.Kind, txn.AmountMinor, txn.FeeMinor,
		txn.Status, nullable(txn.ProviderRef), params,
		txn.RetryCount, txn.LastRetryAt, txn.CheckCount, txn.LastCheckedAt,
		nullable(txn.FailureReason), txn.CreatedAt, txn.CompletedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Transaction, error) {
	const q = `SELECT ` + txnColumns + ` FROM transactions WHERE id = $1`
	return scanTxn(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresStore) GetByProviderRef(ctx context.Context, providerRef string) (Transaction, error) {
	const q = `SELECT ` + txnColumns + ` FROM transactions WHERE provider_ref = $1 LIMIT 1`
	return scanTxn(s.db.QueryRowContext(ctx, q, providerRef))
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	const q = `
SELECT ` + txnColumns + `
FROM transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTxns(rows)
}

func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]Transaction, error) {
	// Null status is read as pending.
	const q = `
SELECT ` + txnColumns + `
FROM transactions
WHERE status = 'pending' OR status IS NULL
ORDER BY created_at ASC
LIMIT $1
`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTxns(rows)
}

func (s *PostgresStore) TransitionFromPending(ctx context.Context, id string, to Status, fin Finalization) (bool, error) {
	// Failure reasons accumulate; see appendReason.
	const q = `
UPDATE transactions
SET status = $2,
    provider_ref = COALESCE(provider_ref, NULLIF($3, '')),
    failure_reason = CASE
        WHEN NULLIF($4, '') IS NULL THEN failure_reason
        WHEN COALESCE(failure_reason, '') = '' THEN $4
        ELSE failure_reason || '; ' || $4
    END,
    completed_at = COALESCE($5, completed_at)
WHERE id = $1 AND (status = 'pending' OR status IS NULL)
`
	res, err := s.db.ExecContext(ctx, q, id, to, fin.ProviderRef, fin.FailureReason, fin.CompletedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *PostgresStore) TransitionFromFailed(ctx context.Context, id string, to Status, fin Finalization) (bool, error) {
	const q = `
UPDATE transactions
SET status = $2,
    failure_reason = CASE
        WHEN NULLIF($3, '') IS NULL THEN failure_reason
        WHEN COALESCE(failure_reason, '') = '' THEN $3
        ELSE failure_reason || '; ' || $3
    END
WHERE id = $1 AND status = 'failed'
`
	res, err := s.db.ExecContext(ctx, q, id, to, fin.FailureReason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *PostgresStore) SetProviderRef(ctx context.Context, id, providerRef string) error {
	const q = `
UPDATE transactions
SET provider_ref = $2
WHERE id = $1 AND provider_ref IS NULL AND (status = 'pending' OR status IS NULL)
`
	_, err := s.db.ExecContext(ctx, q, id, providerRef)
	return err
}

func (s *PostgresStore) RecordRetryAttempt(ctx context.Context, id, reason string, at time.Time) error {
	const q = `
UPDATE transactions
SET retry_count = retry_count + 1,
    last_retry_at = $3,
    failure_reason = CASE
        WHEN NULLIF($2, '') IS NULL THEN failure_reason
        WHEN COALESCE(failure_reason, '') = '' THEN $2
        ELSE failure_reason || '; ' || $2
    END
WHERE id = $1
`
	_, err := s.db.ExecContext(ctx, q, id, reason, at)
	return err
}

func (s *PostgresStore) RecordCheckAttempt(ctx context.Context, id string, at time.Time) error {
	const q = `
UPDATE transactions
SET check_count = check_count + 1, last_checked_at = $2
WHERE id = $1
`
	_, err := s.db.ExecContext(ctx, q, id, at)
	return err
}

func (s *PostgresStore) AppendFailureReason(ctx context.Context, id, reason string) error {
	const q = `
UPDATE transactions
SET failure_reason = CASE
        WHEN NULLIF($2, '') IS NULL THEN failure_reason
        WHEN COALESCE(failure_reason, '') = '' THEN $2
        ELSE failure_reason || '; ' || $2
    END
WHERE id = $1
`
	_, err := s.db.ExecContext(ctx, q, id, reason)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTxn(row rowScanner) (Transaction, error) {
	var t Transaction
	var status, providerRef, failureReason sql.NullString
	var params []byte

	err := row.Scan(
		&t.ID, &t.UserID, &t.Kind, &t.AmountMinor, &t.FeeMinor,
		&status, &providerRef, &params,
		&t.RetryCount, &t.LastRetryAt, &t.CheckCount, &t.LastCheckedAt,
		&failureReason, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}

	t.ProviderRef = providerRef.String
	t.FailureReason = failureReason.String
	t.Status = Status(status.String)
	if t.Status == "" {
		t.Status = StatusPending
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &t.Params); err != nil {
			return Transaction{}, err
		}
	}
	return t, nil
}

func collectTxns(rows *sql.Rows) ([]Transaction, error) {
	var out []Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
