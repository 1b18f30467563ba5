package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateDuelTx opens a duel in the same transaction that debits the
// creator's stake.
func (d *DB) CreateDuelTx(ctx context.Context, tx pgx.Tx, duel Duel) error {
	_, err := tx.Exec(ctx, `
INSERT INTO duels (duel_id, creator_id, stake, status)
VALUES ($1, $2, $3, 'open')
`, duel.DuelID, duel.CreatorID, duel.Stake)
	return err
}

const duelCols = `duel_id, creator_id, opponent_id, stake, commission, winner_id, status, created_at, settled_at`

func scanDuel(row pgx.Row) (Duel, error) {
	var duel Duel
	err := row.Scan(&duel.DuelID, &duel.CreatorID, &duel.OpponentID, &duel.Stake, &duel.Commission, &duel.WinnerID, &duel.Status, &duel.CreatedAt, &duel.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Duel{}, ErrNotFound
	}
	return duel, err
}

func (d *DB) GetDuel(ctx context.Context, id uuid.UUID) (Duel, error) {
	return scanDuel(d.Pool.QueryRow(ctx,
		`SELECT `+duelCols+` FROM duels WHERE duel_id=$1`, id))
}

// JoinDuelTx attaches the opponent to an open duel. The open gate makes
// a double join impossible: the loser of the race gets ErrConflict.
func (d *DB) JoinDuelTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, opponentID int64) (Duel, error) {
	duel, err := scanDuel(tx.QueryRow(ctx, `
UPDATE duels SET opponent_id=$2, status='active'
WHERE duel_id=$1 AND status='open' AND creator_id <> $2
RETURNING `+duelCols, id, opponentID))
	if errors.Is(err, ErrNotFound) {
		return Duel{}, ErrConflict
	}
	return duel, err
}

// SettleDuelTx records the winner and the house commission.
func (d *DB) SettleDuelTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, winnerID, commission int64, at time.Time) (Duel, error) {
	duel, err := scanDuel(tx.QueryRow(ctx, `
UPDATE duels SET winner_id=$2, commission=$3, status='completed', settled_at=$4
WHERE duel_id=$1 AND status='active'
RETURNING `+duelCols, id, winnerID, commission, at))
	if errors.Is(err, ErrNotFound) {
		return Duel{}, ErrConflict
	}
	return duel, err
}

// CancelDuelTx closes an open duel so the creator's stake can be
// refunded in the same transaction.
func (d *DB) CancelDuelTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, creatorID int64) (Duel, error) {
	duel, err := scanDuel(tx.QueryRow(ctx, `
UPDATE duels SET status='cancelled'
WHERE duel_id=$1 AND status='open' AND creator_id=$2
RETURNING `+duelCols, id, creatorID))
	if errors.Is(err, ErrNotFound) {
		return Duel{}, ErrConflict
	}
	return duel, err
}

func (d *DB) ListOpenDuels(ctx context.Context, limit int64) ([]Duel, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := d.Pool.Query(ctx, `
SELECT `+duelCols+` FROM duels WHERE status='open'
ORDER BY created_at DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Duel
	for rows.Next() {
		var duel Duel
		if err := rows.Scan(&duel.DuelID, &duel.CreatorID, &duel.OpponentID, &duel.Stake, &duel.Commission, &duel.WinnerID, &duel.Status, &duel.CreatedAt, &duel.SettledAt); err != nil {
			return nil, err
		}
		out = append(out, duel)
	}
	return out, rows.Err()
}
