package rewards

import (
	"context"
	"database/sql"
	"time"

	"billpay-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore persists earnings in reward_ledger (UNIQUE (user_id, op_key))
// with a points projection in reward_balances.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Points(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidArgument
	}
	const q = `SELECT COALESCE(points, 0) FROM reward_balances WHERE user_id = $1`
	var points int64
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&points)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return points, err
}

func (s *PostgresStore) Earn(ctx context.Context, userID string, points int64, opKey, reference string) error {
	if userID == "" || opKey == "" || points <= 0 {
		return ErrInvalidArgument
	}
	now := s.clock().UTC()

	// ON CONFLICT DO NOTHING makes the earn idempotent; the projection update
	// is gated on the insert actually landing.
	const ins = `
INSERT INTO reward_ledger (id, user_id, points, op_key, reference, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id, op_key) DO NOTHING
`
	const upsert = `
INSERT INTO reward_balances (user_id, points, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (user_id)
DO UPDATE SET points = reward_balances.points + EXCLUDED.points, updated_at = EXCLUDED.updated_at
`
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, ins, uuid.NewString(), userID, points, opKey, reference, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		_, err = tx.ExecContext(ctx, upsert, userID, points, now)
		return err
	})
}
