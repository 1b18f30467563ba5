package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotEnough is returned when a conditional balance update finds
	// insufficient funds. No state is mutated in that case.
	ErrNotEnough = errors.New("not enough balance")
	// ErrNotFound is returned for missing rows.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a status-gated update matched no row,
	// i.e. another worker already moved the record past the expected state.
	ErrConflict = errors.New("conflicting state transition")
)

// DB wraps the pgx pool and exposes the system-of-record repositories.
type DB struct {
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, url string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	d.Pool.Close()
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
func (d *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Migrate applies the schema. Statements are idempotent so the call is
// safe on every boot.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id          BIGINT PRIMARY KEY,
		username         TEXT NOT NULL DEFAULT '',
		first_name       TEXT NOT NULL DEFAULT '',
		balance          BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		referral_balance BIGINT NOT NULL DEFAULT 0 CHECK (referral_balance >= 0),
		referred_by      BIGINT,
		is_blocked       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_state (
		id                       INT PRIMARY KEY CHECK (id = 1),
		total_user_balance       BIGINT NOT NULL DEFAULT 0,
		operational_balance      BIGINT NOT NULL DEFAULT 0,
		reserve_percentage       BIGINT NOT NULL DEFAULT 20,
		reserve_balance          BIGINT NOT NULL DEFAULT 0,
		available_for_withdrawal BIGINT NOT NULL DEFAULT 0,
		total_deposits           BIGINT NOT NULL DEFAULT 0,
		total_withdrawals        BIGINT NOT NULL DEFAULT 0,
		total_bets               BIGINT NOT NULL DEFAULT 0,
		total_wins               BIGINT NOT NULL DEFAULT 0,
		total_commissions        BIGINT NOT NULL DEFAULT 0,
		total_promocode_expenses BIGINT NOT NULL DEFAULT 0,
		total_cryptobot_fees     BIGINT NOT NULL DEFAULT 0,
		total_owner_withdrawals  BIGINT NOT NULL DEFAULT 0,
		total_referral_payments  BIGINT NOT NULL DEFAULT 0,
		game_stats               JSONB NOT NULL DEFAULT '{}'::jsonb,
		commission_breakdown     JSONB NOT NULL DEFAULT '{}'::jsonb,
		warnings                 JSONB NOT NULL DEFAULT '{}'::jsonb,
		history                  JSONB NOT NULL DEFAULT '[]'::jsonb,
		last_calculated          TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_owner_withdrawal    TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS deposits (
		deposit_id BIGSERIAL PRIMARY KEY,
		user_id    BIGINT NOT NULL REFERENCES users(user_id),
		invoice_id BIGINT UNIQUE,
		amount     BIGINT NOT NULL CHECK (amount > 0),
		net_amount BIGINT NOT NULL DEFAULT 0,
		fee        BIGINT NOT NULL DEFAULT 0,
		asset      TEXT NOT NULL DEFAULT 'USDT',
		status     TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		paid_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS deposits_user_idx ON deposits(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS withdrawals (
		withdrawal_id     UUID PRIMARY KEY,
		user_id           BIGINT NOT NULL REFERENCES users(user_id),
		amount            BIGINT NOT NULL CHECK (amount > 0),
		fee               BIGINT NOT NULL DEFAULT 0,
		net_amount        BIGINT NOT NULL DEFAULT 0,
		recipient         TEXT NOT NULL,
		asset             TEXT NOT NULL DEFAULT 'USDT',
		status            TEXT NOT NULL DEFAULT 'pending',
		requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
		transfer_id       BIGINT,
		reason            TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS withdrawals_user_idx ON withdrawals(user_id, created_at DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS withdrawals_active_uniq ON withdrawals(user_id)
		WHERE status IN ('pending','approved','processing')`,
	`CREATE INDEX IF NOT EXISTS withdrawals_status_idx ON withdrawals(status)`,
	`CREATE TABLE IF NOT EXISTS games (
		game_id     BIGSERIAL PRIMARY KEY,
		user_id     BIGINT NOT NULL REFERENCES users(user_id),
		game_type   TEXT NOT NULL,
		bet         BIGINT NOT NULL CHECK (bet > 0),
		profit      BIGINT NOT NULL DEFAULT 0,
		win         BOOLEAN NOT NULL DEFAULT FALSE,
		seed_hash   TEXT NOT NULL DEFAULT '',
		client_seed TEXT NOT NULL DEFAULT '',
		nonce       BIGINT NOT NULL DEFAULT 0,
		roll        BIGINT NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS games_type_idx ON games(game_type)`,
	`CREATE INDEX IF NOT EXISTS games_user_idx ON games(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS duels (
		duel_id     UUID PRIMARY KEY,
		creator_id  BIGINT NOT NULL REFERENCES users(user_id),
		opponent_id BIGINT,
		stake       BIGINT NOT NULL CHECK (stake > 0),
		commission  BIGINT NOT NULL DEFAULT 0,
		winner_id   BIGINT,
		status      TEXT NOT NULL DEFAULT 'open',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		settled_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS duels_status_idx ON duels(status)`,
	`CREATE TABLE IF NOT EXISTS promocodes (
		code            TEXT PRIMARY KEY,
		kind            TEXT NOT NULL DEFAULT 'balance',
		value           BIGINT NOT NULL CHECK (value > 0),
		max_activations BIGINT NOT NULL DEFAULT 1,
		activations     BIGINT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS promo_redemptions (
		code       TEXT NOT NULL REFERENCES promocodes(code),
		user_id    BIGINT NOT NULL REFERENCES users(user_id),
		value      BIGINT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'completed',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (code, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS referral_payouts (
		payout_id   BIGSERIAL PRIMARY KEY,
		user_id     BIGINT NOT NULL REFERENCES users(user_id),
		amount      BIGINT NOT NULL CHECK (amount > 0),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS owner_withdrawals (
		id          BIGSERIAL PRIMARY KEY,
		amount      BIGINT NOT NULL CHECK (amount > 0),
		note        TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
