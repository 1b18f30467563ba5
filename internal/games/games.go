package games

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"tgcasino/internal/config"
	"tgcasino/internal/db"
	"tgcasino/internal/fair"
	"tgcasino/internal/ledger"
)

var (
	ErrUnknownGame   = errors.New("games: unknown game type")
	ErrUnknownChoice = errors.New("games: unknown choice")
	ErrBetOutOfRange = errors.New("games: bet out of range")
)

// Result is one settled round as returned to the player.
type Result struct {
	GameID  int64      `json:"game_id"`
	Game    string     `json:"game"`
	Bet     int64      `json:"bet"`
	Win     bool       `json:"win"`
	Payout  int64      `json:"payout"` // gross, 0 on loss
	Profit  int64      `json:"profit"` // net win
	Roll    int64      `json:"roll"`
	Proof   fair.Proof `json:"proof"`
	Balance int64      `json:"balance"`
}

// Service plays single-player games. A round is one transaction: the
// conditional stake debit, the win credit, the referral accrual and the
// round record commit together or not at all; the ledger follows after
// commit.
type Service struct {
	db     *db.DB
	ledger *ledger.Service
	gen    *fair.Generator
	cfg    config.GamesConfig
	ref    config.ReferralConfig
	log    *zap.Logger
}

func New(d *db.DB, l *ledger.Service, gen *fair.Generator, cfg config.GamesConfig, ref config.ReferralConfig, log *zap.Logger) *Service {
	return &Service{db: d, ledger: l, gen: gen, cfg: cfg, ref: ref, log: log}
}

// SeedHash exposes the current fairness commitment.
func (s *Service) SeedHash() string { return s.gen.SeedHash() }

// RotateSeed reveals the current server seed and commits to a new one.
func (s *Service) RotateSeed() (string, error) { return s.gen.Rotate() }

// outcome maps a roll to a gross payout for one game/choice pair.
// Payout tables keep a house edge on every game.
func outcome(game, choice string, bet, roll int64) (payout int64, err error) {
	switch game {
	case "dice":
		// 47.5% to double up; choice picks the half.
		switch choice {
		case "low":
			if roll < 4750 {
				return bet * 2, nil
			}
		case "high":
			if roll >= 5250 {
				return bet * 2, nil
			}
		default:
			return 0, ErrUnknownChoice
		}
		return 0, nil
	case "coinflip":
		// 49% per side, 1.95x.
		switch choice {
		case "heads":
			if roll < 4900 {
				return bet * 195 / 100, nil
			}
		case "tails":
			if roll >= 5100 {
				return bet * 195 / 100, nil
			}
		default:
			return 0, ErrUnknownChoice
		}
		return 0, nil
	case "slots":
		// Tiered: 1% jackpot 10x, 5% big 5x, 14% small 2x.
		switch {
		case roll < 100:
			return bet * 10, nil
		case roll < 600:
			return bet * 5, nil
		case roll < 2000:
			return bet * 2, nil
		}
		return 0, nil
	}
	return 0, ErrUnknownGame
}

// Play settles one round for the user.
func (s *Service) Play(ctx context.Context, userID int64, game, choice string, bet int64, clientSeed string) (Result, error) {
	if bet < s.cfg.MinBet || bet > s.cfg.MaxBet {
		return Result{}, ErrBetOutOfRange
	}

	roll, proof := s.gen.Roll(clientSeed)
	payout, err := outcome(game, choice, bet, roll)
	if err != nil {
		return Result{}, err
	}
	win := payout > 0
	profit := payout - bet
	if !win {
		profit = 0
	}

	user, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("games: load user: %w", err)
	}

	var accrual int64
	record := db.Game{
		UserID:     userID,
		GameType:   game,
		Bet:        bet,
		Profit:     profit,
		Win:        win,
		SeedHash:   proof.SeedHash,
		ClientSeed: proof.ClientSeed,
		Nonce:      proof.Nonce,
		Roll:       roll,
	}
	var gameID int64
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.db.DebitUserTx(ctx, tx, userID, bet); err != nil {
			return err
		}
		if win {
			if err := s.db.CreditUserTx(ctx, tx, userID, payout); err != nil {
				return err
			}
		} else if user.ReferredBy != nil {
			accrual = bet * s.ref.LossShareBP / 10000
			if accrual > 0 {
				if err := s.db.CreditReferralTx(ctx, tx, *user.ReferredBy, accrual); err != nil {
					return err
				}
			}
		}
		id, err := s.db.InsertGameTx(ctx, tx, record)
		if err != nil {
			return err
		}
		gameID = id
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if err := s.ledger.GameSettled(ctx, ledger.GameResult{
		GameType:        game,
		Bet:             bet,
		Profit:          profit,
		Win:             win,
		ReferralAccrual: accrual,
	}); err != nil {
		// The round itself is committed; the aggregate catches up on
		// the next recalculation.
		s.log.Error("games: ledger update failed", zap.Int64("game_id", gameID), zap.Error(err))
	}

	after, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("games: reload user: %w", err)
	}
	return Result{
		GameID:  gameID,
		Game:    game,
		Bet:     bet,
		Win:     win,
		Payout:  payout,
		Profit:  profit,
		Roll:    roll,
		Proof:   proof,
		Balance: after.Balance,
	}, nil
}

// History lists the user's recent rounds.
func (s *Service) History(ctx context.Context, userID int64, limit int64) ([]db.Game, error) {
	return s.db.ListGames(ctx, userID, limit)
}
