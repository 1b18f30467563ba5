package db

import (
	"context"
)

// GameAggregate is one game type's lifetime totals as derived from the
// games table. Wins are gross payouts (stake returned plus profit).
type GameAggregate struct {
	GameType string `json:"game_type"`
	Count    int64  `json:"count"`
	Bets     int64  `json:"bets"`
	Wins     int64  `json:"wins"`
}

// SumUserBalances totals live user liabilities, referral balances
// included (they are owed on demand too). Blocked accounts are
// excluded: their funds are frozen.
func (d *DB) SumUserBalances(ctx context.Context) (int64, error) {
	var total int64
	err := d.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(balance + referral_balance), 0) FROM users WHERE NOT is_blocked`).Scan(&total)
	return total, err
}

// SumDeposits returns gross paid deposits and the gateway fees kept out
// of user credits.
func (d *DB) SumDeposits(ctx context.Context) (gross, fees int64, err error) {
	err = d.Pool.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0), COALESCE(SUM(fee), 0)
FROM deposits WHERE status='paid'
`).Scan(&gross, &fees)
	return gross, fees, err
}

// SumWithdrawals returns gross completed withdrawals and the withdrawal
// fees retained by the house.
func (d *DB) SumWithdrawals(ctx context.Context) (gross, fees int64, err error) {
	err = d.Pool.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0), COALESCE(SUM(fee), 0)
FROM withdrawals WHERE status='completed'
`).Scan(&gross, &fees)
	return gross, fees, err
}

// GameAggregates rebuilds the per-game-type stats from the settled
// rounds.
func (d *DB) GameAggregates(ctx context.Context) ([]GameAggregate, error) {
	rows, err := d.Pool.Query(ctx, `
SELECT game_type,
       COUNT(*),
       COALESCE(SUM(bet), 0),
       COALESCE(SUM(CASE WHEN win THEN bet + profit ELSE 0 END), 0)
FROM games GROUP BY game_type ORDER BY game_type
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GameAggregate
	for rows.Next() {
		var a GameAggregate
		if err := rows.Scan(&a.GameType, &a.Count, &a.Bets, &a.Wins); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SumDuelCommissions totals the house rake on completed duels.
func (d *DB) SumDuelCommissions(ctx context.Context) (int64, error) {
	var total int64
	err := d.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(commission), 0) FROM duels WHERE status='completed'`).Scan(&total)
	return total, err
}

// SumPromoExpenses totals balance credited through promocode
// redemptions.
func (d *DB) SumPromoExpenses(ctx context.Context) (int64, error) {
	var total int64
	err := d.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(value), 0) FROM promo_redemptions WHERE status='completed'`).Scan(&total)
	return total, err
}

// SumReferralPayouts totals referral cash-outs (stats only, the money
// moved between a user's own buckets).
func (d *DB) SumReferralPayouts(ctx context.Context) (int64, error) {
	var total int64
	err := d.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM referral_payouts`).Scan(&total)
	return total, err
}

// SumOwnerWithdrawals totals owner draws against the operational
// balance.
func (d *DB) SumOwnerWithdrawals(ctx context.Context) (int64, error) {
	var total int64
	err := d.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM owner_withdrawals`).Scan(&total)
	return total, err
}
