package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// EnsureUser upserts the user row and refreshes the display fields.
func (d *DB) EnsureUser(ctx context.Context, userID int64, username, firstName string) (User, error) {
	var u User
	err := d.Pool.QueryRow(ctx, `
INSERT INTO users (user_id, username, first_name)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username, first_name = EXCLUDED.first_name, updated_at = now()
RETURNING user_id, username, first_name, balance, referral_balance, referred_by, is_blocked, created_at
`, userID, username, firstName).Scan(&u.UserID, &u.Username, &u.FirstName, &u.Balance, &u.ReferralBalance, &u.ReferredBy, &u.IsBlocked, &u.CreatedAt)
	return u, err
}

func (d *DB) GetUser(ctx context.Context, userID int64) (User, error) {
	var u User
	err := d.Pool.QueryRow(ctx, `
SELECT user_id, username, first_name, balance, referral_balance, referred_by, is_blocked, created_at
FROM users WHERE user_id=$1
`, userID).Scan(&u.UserID, &u.Username, &u.FirstName, &u.Balance, &u.ReferralBalance, &u.ReferredBy, &u.IsBlocked, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// SetReferrer records who invited the user; only the first call wins.
func (d *DB) SetReferrer(ctx context.Context, userID, referrerID int64) error {
	if userID == referrerID {
		return nil
	}
	_, err := d.Pool.Exec(ctx, `
UPDATE users SET referred_by=$2, updated_at=now()
WHERE user_id=$1 AND referred_by IS NULL
`, userID, referrerID)
	return err
}

func (d *DB) SetBlocked(ctx context.Context, userID int64, blocked bool) error {
	tag, err := d.Pool.Exec(ctx, `UPDATE users SET is_blocked=$2, updated_at=now() WHERE user_id=$1`, userID, blocked)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DebitUserTx spends from the main balance with a check-then-update in
// a single statement, so concurrent spends cannot overdraw.
func (d *DB) DebitUserTx(ctx context.Context, tx pgx.Tx, userID, amount int64) error {
	return debitUser(ctx, tx, userID, amount)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func debitUser(ctx context.Context, q querier, userID, amount int64) error {
	tag, err := q.Exec(ctx, `
UPDATE users SET balance = balance - $1, updated_at = now()
WHERE user_id = $2 AND balance >= $1 AND NOT is_blocked
`, amount, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotEnough
	}
	return nil
}

// CreditUserTx adds to the main balance.
func (d *DB) CreditUserTx(ctx context.Context, tx pgx.Tx, userID, amount int64) error {
	return creditUser(ctx, tx, userID, amount)
}

func creditUser(ctx context.Context, q querier, userID, amount int64) error {
	tag, err := q.Exec(ctx, `
UPDATE users SET balance = balance + $1, updated_at = now()
WHERE user_id = $2
`, amount, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreditReferral accrues referral earnings.
func (d *DB) CreditReferralTx(ctx context.Context, tx pgx.Tx, userID, amount int64) error {
	tag, err := tx.Exec(ctx, `
UPDATE users SET referral_balance = referral_balance + $1, updated_at = now()
WHERE user_id = $2
`, amount, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MoveReferralToBalanceTx moves the whole referral balance to the main
// balance if it meets the minimum; the internal transfer leaves the
// user's aggregate liability unchanged.
func (d *DB) MoveReferralToBalanceTx(ctx context.Context, tx pgx.Tx, userID, minAmount int64) (int64, error) {
	var moved int64
	err := tx.QueryRow(ctx, `
SELECT referral_balance FROM users
WHERE user_id=$1 AND NOT is_blocked
FOR UPDATE
`, userID).Scan(&moved)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if moved < minAmount || moved <= 0 {
		return 0, ErrNotEnough
	}
	_, err = tx.Exec(ctx, `
UPDATE users
SET balance = balance + referral_balance,
    referral_balance = 0,
    updated_at = now()
WHERE user_id = $1
`, userID)
	return moved, err
}
