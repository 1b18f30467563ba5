package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateWithdrawalTx inserts a withdrawal request inside the caller's
// transaction, after the gross amount was debited in the same tx. The
// partial unique index behind HasActiveWithdrawal keeps one in-flight
// request per user.
func (d *DB) CreateWithdrawalTx(ctx context.Context, tx pgx.Tx, w Withdrawal) error {
	_, err := tx.Exec(ctx, `
INSERT INTO withdrawals (withdrawal_id, user_id, amount, fee, net_amount, recipient, asset, status, requires_approval)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, w.WithdrawalID, w.UserID, w.Amount, w.Fee, w.NetAmount, w.Recipient, w.Asset, w.Status, w.RequiresApproval)
	return err
}

// HasActiveWithdrawal reports whether the user already has a request
// that has not reached a terminal status.
func (d *DB) HasActiveWithdrawal(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := d.Pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM withdrawals
	WHERE user_id=$1 AND status IN ('pending','approved','processing')
)
`, userID).Scan(&exists)
	return exists, err
}

const withdrawalCols = `withdrawal_id, user_id, amount, fee, net_amount, recipient, asset, status, requires_approval, transfer_id, reason, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (Withdrawal, error) {
	var w Withdrawal
	err := row.Scan(&w.WithdrawalID, &w.UserID, &w.Amount, &w.Fee, &w.NetAmount, &w.Recipient, &w.Asset, &w.Status, &w.RequiresApproval, &w.TransferID, &w.Reason, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Withdrawal{}, ErrNotFound
	}
	return w, err
}

func (d *DB) GetWithdrawal(ctx context.Context, id uuid.UUID) (Withdrawal, error) {
	return scanWithdrawal(d.Pool.QueryRow(ctx,
		`SELECT `+withdrawalCols+` FROM withdrawals WHERE withdrawal_id=$1`, id))
}

// TransitionWithdrawal moves a withdrawal from one status to another.
// The from-status gate serializes concurrent workers: whoever loses the
// race gets ErrConflict and must re-read.
func (d *DB) TransitionWithdrawal(ctx context.Context, id uuid.UUID, from, to, reason string) (Withdrawal, error) {
	return scanWithdrawal(d.Pool.QueryRow(ctx, `
UPDATE withdrawals
SET status=$3, reason=CASE WHEN $4 <> '' THEN $4 ELSE reason END, updated_at=now()
WHERE withdrawal_id=$1 AND status=$2
RETURNING `+withdrawalCols, id, from, to, reason))
}

// TransitionWithdrawalTx is TransitionWithdrawal inside the caller's
// transaction, for steps that must commit together with a balance
// mutation (reject refund, failure compensation).
func (d *DB) TransitionWithdrawalTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to, reason string) (Withdrawal, error) {
	w, err := scanWithdrawal(tx.QueryRow(ctx, `
UPDATE withdrawals
SET status=$3, reason=CASE WHEN $4 <> '' THEN $4 ELSE reason END, updated_at=now()
WHERE withdrawal_id=$1 AND status=$2
RETURNING `+withdrawalCols, id, from, to, reason))
	if errors.Is(err, ErrNotFound) {
		return Withdrawal{}, ErrConflict
	}
	return w, err
}

// CompleteWithdrawal stores the gateway transfer id alongside the
// terminal status so reconciliation can tie both sides together.
func (d *DB) CompleteWithdrawal(ctx context.Context, id uuid.UUID, transferID int64) (Withdrawal, error) {
	w, err := scanWithdrawal(d.Pool.QueryRow(ctx, `
UPDATE withdrawals
SET status='completed', transfer_id=$2, updated_at=now()
WHERE withdrawal_id=$1 AND status='processing'
RETURNING `+withdrawalCols, id, transferID))
	if errors.Is(err, ErrNotFound) {
		return Withdrawal{}, ErrConflict
	}
	return w, err
}

func (d *DB) ListWithdrawals(ctx context.Context, status string, limit int64) ([]Withdrawal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := d.Pool.Query(ctx, `
SELECT `+withdrawalCols+` FROM withdrawals
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC LIMIT $2
`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Withdrawal
	for rows.Next() {
		var w Withdrawal
		if err := rows.Scan(&w.WithdrawalID, &w.UserID, &w.Amount, &w.Fee, &w.NetAmount, &w.Recipient, &w.Asset, &w.Status, &w.RequiresApproval, &w.TransferID, &w.Reason, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (d *DB) ListUserWithdrawals(ctx context.Context, userID int64, limit int64) ([]Withdrawal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := d.Pool.Query(ctx, `
SELECT `+withdrawalCols+` FROM withdrawals
WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Withdrawal
	for rows.Next() {
		var w Withdrawal
		if err := rows.Scan(&w.WithdrawalID, &w.UserID, &w.Amount, &w.Fee, &w.NetAmount, &w.Recipient, &w.Asset, &w.Status, &w.RequiresApproval, &w.TransferID, &w.Reason, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
