package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// InsertGameTx records a settled round in the same transaction as the
// balance mutation, so the games table and user balances never drift.
func (d *DB) InsertGameTx(ctx context.Context, tx pgx.Tx, g Game) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
INSERT INTO games (user_id, game_type, bet, profit, win, seed_hash, client_seed, nonce, roll)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING game_id
`, g.UserID, g.GameType, g.Bet, g.Profit, g.Win, g.SeedHash, g.ClientSeed, g.Nonce, g.Roll).Scan(&id)
	return id, err
}

func (d *DB) ListGames(ctx context.Context, userID int64, limit int64) ([]Game, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := d.Pool.Query(ctx, `
SELECT game_id, user_id, game_type, bet, profit, win, seed_hash, client_seed, nonce, roll, created_at
FROM games WHERE user_id=$1
ORDER BY created_at DESC LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Game
	for rows.Next() {
		var g Game
		if err := rows.Scan(&g.GameID, &g.UserID, &g.GameType, &g.Bet, &g.Profit, &g.Win, &g.SeedHash, &g.ClientSeed, &g.Nonce, &g.Roll, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
