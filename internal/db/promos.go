package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrPromoExhausted means the code hit its activation cap.
	ErrPromoExhausted = errors.New("promocode exhausted")
	// ErrPromoRedeemed means this user already redeemed the code.
	ErrPromoRedeemed = errors.New("promocode already redeemed")
)

func (d *DB) CreatePromocode(ctx context.Context, p Promocode) error {
	_, err := d.Pool.Exec(ctx, `
INSERT INTO promocodes (code, kind, value, max_activations)
VALUES ($1, $2, $3, $4)
`, p.Code, p.Kind, p.Value, p.MaxActivations)
	return err
}

// RedeemPromocodeTx burns one activation for the user and returns the
// code's value. The activation bump is conditional on the cap, and the
// redemption row's primary key blocks a second redemption by the same
// user, so both checks are race-free.
func (d *DB) RedeemPromocodeTx(ctx context.Context, tx pgx.Tx, code string, userID int64) (Promocode, error) {
	var p Promocode
	err := tx.QueryRow(ctx, `
UPDATE promocodes SET activations = activations + 1
WHERE code=$1 AND activations < max_activations
RETURNING code, kind, value, max_activations, activations, created_at
`, code).Scan(&p.Code, &p.Kind, &p.Value, &p.MaxActivations, &p.Activations, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing code from an exhausted one.
		var exists bool
		if err2 := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM promocodes WHERE code=$1)`, code).Scan(&exists); err2 != nil {
			return Promocode{}, err2
		}
		if exists {
			return Promocode{}, ErrPromoExhausted
		}
		return Promocode{}, ErrNotFound
	}
	if err != nil {
		return Promocode{}, err
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO promo_redemptions (code, user_id, value)
VALUES ($1, $2, $3)
ON CONFLICT (code, user_id) DO NOTHING
`, code, userID, p.Value)
	if err != nil {
		return Promocode{}, err
	}
	if tag.RowsAffected() == 0 {
		return Promocode{}, ErrPromoRedeemed
	}
	return p, nil
}

func (d *DB) GetPromocode(ctx context.Context, code string) (Promocode, error) {
	var p Promocode
	err := d.Pool.QueryRow(ctx, `
SELECT code, kind, value, max_activations, activations, created_at
FROM promocodes WHERE code=$1
`, code).Scan(&p.Code, &p.Kind, &p.Value, &p.MaxActivations, &p.Activations, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Promocode{}, ErrNotFound
	}
	return p, err
}

// InsertReferralPayoutTx records a referral cash-out for the
// recalculation aggregates.
func (d *DB) InsertReferralPayoutTx(ctx context.Context, tx pgx.Tx, userID, amount int64) error {
	_, err := tx.Exec(ctx, `
INSERT INTO referral_payouts (user_id, amount) VALUES ($1, $2)
`, userID, amount)
	return err
}

// InsertOwnerWithdrawal records an owner draw against the operational
// balance.
func (d *DB) InsertOwnerWithdrawal(ctx context.Context, amount int64, note string) error {
	_, err := d.Pool.Exec(ctx, `
INSERT INTO owner_withdrawals (amount, note) VALUES ($1, $2)
`, amount, note)
	return err
}
