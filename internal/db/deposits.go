package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateDeposit records a pending deposit tied to a gateway invoice.
func (d *DB) CreateDeposit(ctx context.Context, userID, invoiceID, amount int64, asset string) (int64, error) {
	var id int64
	err := d.Pool.QueryRow(ctx, `
INSERT INTO deposits (user_id, invoice_id, amount, asset, status)
VALUES ($1, $2, $3, $4, 'pending')
RETURNING deposit_id
`, userID, invoiceID, amount, asset).Scan(&id)
	return id, err
}

func (d *DB) GetDepositByInvoice(ctx context.Context, invoiceID int64) (Deposit, error) {
	var dep Deposit
	err := d.Pool.QueryRow(ctx, `
SELECT deposit_id, user_id, invoice_id, amount, net_amount, fee, asset, status, created_at, paid_at
FROM deposits WHERE invoice_id=$1
`, invoiceID).Scan(&dep.DepositID, &dep.UserID, &dep.InvoiceID, &dep.Amount, &dep.NetAmount, &dep.Fee, &dep.Asset, &dep.Status, &dep.CreatedAt, &dep.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Deposit{}, ErrNotFound
	}
	return dep, err
}

// MarkDepositPaidTx flips a pending deposit to paid and credits the
// user, both inside the caller's transaction. The status gate makes the
// webhook/poll race harmless: the second caller gets ErrConflict.
func (d *DB) MarkDepositPaidTx(ctx context.Context, tx pgx.Tx, invoiceID, netAmount, fee int64, paidAt time.Time) (Deposit, error) {
	var dep Deposit
	err := tx.QueryRow(ctx, `
UPDATE deposits
SET status='paid', net_amount=$2, fee=$3, paid_at=$4
WHERE invoice_id=$1 AND status='pending'
RETURNING deposit_id, user_id, invoice_id, amount, net_amount, fee, asset, status, created_at, paid_at
`, invoiceID, netAmount, fee, paidAt).Scan(&dep.DepositID, &dep.UserID, &dep.InvoiceID, &dep.Amount, &dep.NetAmount, &dep.Fee, &dep.Asset, &dep.Status, &dep.CreatedAt, &dep.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Deposit{}, ErrConflict
	}
	if err != nil {
		return Deposit{}, err
	}
	if err := d.CreditUserTx(ctx, tx, dep.UserID, dep.NetAmount); err != nil {
		return Deposit{}, err
	}
	return dep, nil
}

// MarkDepositClosed terminates a pending deposit without credit
// (expired or failed invoices).
func (d *DB) MarkDepositClosed(ctx context.Context, invoiceID int64, status string) error {
	tag, err := d.Pool.Exec(ctx, `
UPDATE deposits SET status=$2
WHERE invoice_id=$1 AND status='pending'
`, invoiceID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (d *DB) ListDeposits(ctx context.Context, userID int64, limit int64) ([]Deposit, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := d.Pool.Query(ctx, `
SELECT deposit_id, user_id, invoice_id, amount, net_amount, fee, asset, status, created_at, paid_at
FROM deposits WHERE user_id=$1
ORDER BY created_at DESC LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Deposit
	for rows.Next() {
		var dep Deposit
		if err := rows.Scan(&dep.DepositID, &dep.UserID, &dep.InvoiceID, &dep.Amount, &dep.NetAmount, &dep.Fee, &dep.Asset, &dep.Status, &dep.CreatedAt, &dep.PaidAt); err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}
