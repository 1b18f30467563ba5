package duels

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"tgcasino/internal/config"
	"tgcasino/internal/db"
	"tgcasino/internal/fair"
	"tgcasino/internal/ledger"
)

var (
	ErrStakeOutOfRange = errors.New("duels: stake out of range")
	ErrNotJoinable     = errors.New("duels: duel is not open for joining")
	ErrNotCancellable  = errors.New("duels: only the creator can cancel an open duel")
)

// Service runs PvP duels. Both stakes are reserved with conditional
// debits; the join settles the duel immediately with a fair roll, so a
// duel is never left holding two stakes across requests.
type Service struct {
	db     *db.DB
	ledger *ledger.Service
	gen    *fair.Generator
	cfg    config.GamesConfig
	log    *zap.Logger
}

func New(d *db.DB, l *ledger.Service, gen *fair.Generator, cfg config.GamesConfig, log *zap.Logger) *Service {
	return &Service{db: d, ledger: l, gen: gen, cfg: cfg, log: log}
}

// Create opens a duel and reserves the creator's stake.
func (s *Service) Create(ctx context.Context, creatorID, stake int64) (db.Duel, error) {
	if stake < s.cfg.DuelMinStake || stake > s.cfg.DuelMaxStake {
		return db.Duel{}, ErrStakeOutOfRange
	}
	duel := db.Duel{DuelID: uuid.New(), CreatorID: creatorID, Stake: stake, Status: db.DuelOpen}
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.db.DebitUserTx(ctx, tx, creatorID, stake); err != nil {
			return err
		}
		return s.db.CreateDuelTx(ctx, tx, duel)
	})
	if err != nil {
		return db.Duel{}, err
	}
	return duel, nil
}

// Join reserves the opponent's stake and settles the duel atomically.
// The winner takes the pot minus the house commission. Exactly one of
// two concurrent joins wins the open->active transition; the other gets
// ErrNotJoinable with nothing debited.
func (s *Service) Join(ctx context.Context, duelID uuid.UUID, opponentID int64, clientSeed string) (db.Duel, error) {
	roll, _ := s.gen.Roll(clientSeed)

	var settled db.Duel
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		duel, err := s.db.JoinDuelTx(ctx, tx, duelID, opponentID)
		if errors.Is(err, db.ErrConflict) {
			return ErrNotJoinable
		}
		if err != nil {
			return err
		}
		if err := s.db.DebitUserTx(ctx, tx, opponentID, duel.Stake); err != nil {
			return err
		}

		pot := duel.Stake * 2
		commission := pot * s.cfg.DuelCommissionBP / 10000
		winnerID := duel.CreatorID
		if roll%2 == 1 {
			winnerID = opponentID
		}
		if err := s.db.CreditUserTx(ctx, tx, winnerID, pot-commission); err != nil {
			return err
		}

		settled, err = s.db.SettleDuelTx(ctx, tx, duelID, winnerID, commission, time.Now().UTC())
		return err
	})
	if err != nil {
		return db.Duel{}, err
	}

	if err := s.ledger.DuelSettled(ctx, settled.Commission); err != nil {
		s.log.Error("duels: ledger update failed",
			zap.String("duel_id", settled.DuelID.String()), zap.Error(err))
	}
	return settled, nil
}

// Cancel refunds the creator's stake of a still-open duel.
func (s *Service) Cancel(ctx context.Context, duelID uuid.UUID, creatorID int64) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		duel, err := s.db.CancelDuelTx(ctx, tx, duelID, creatorID)
		if errors.Is(err, db.ErrConflict) {
			return ErrNotCancellable
		}
		if err != nil {
			return err
		}
		if err := s.db.CreditUserTx(ctx, tx, duel.CreatorID, duel.Stake); err != nil {
			return fmt.Errorf("duels: refund stake: %w", err)
		}
		return nil
	})
}

// Get returns one duel; participants poll it for the settled outcome.
func (s *Service) Get(ctx context.Context, duelID uuid.UUID) (db.Duel, error) {
	return s.db.GetDuel(ctx, duelID)
}

// ListOpen returns joinable duels.
func (s *Service) ListOpen(ctx context.Context, limit int64) ([]db.Duel, error) {
	return s.db.ListOpenDuels(ctx, limit)
}
