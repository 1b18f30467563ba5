package promo

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"tgcasino/internal/config"
	"tgcasino/internal/db"
	"tgcasino/internal/ledger"
)

var (
	ErrBadCode        = errors.New("promo: empty or malformed code")
	ErrCodeExists     = errors.New("promo: code already exists")
	ErrPayoutTooSmall = errors.New("promo: referral balance below minimum payout")
)

// Service redeems promocodes and pays out referral balances.
type Service struct {
	db     *db.DB
	ledger *ledger.Service
	cfg    config.ReferralConfig
	log    *zap.Logger
}

func New(d *db.DB, l *ledger.Service, cfg config.ReferralConfig, log *zap.Logger) *Service {
	return &Service{db: d, ledger: l, cfg: cfg, log: log}
}

// Redeem burns one activation of a balance promocode for the user and
// credits its value. One redemption per user per code; the credit and
// the redemption record commit together.
func (s *Service) Redeem(ctx context.Context, userID int64, code string) (int64, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return 0, ErrBadCode
	}

	var value int64
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		p, err := s.db.RedeemPromocodeTx(ctx, tx, code, userID)
		if err != nil {
			return err
		}
		value = p.Value
		return s.db.CreditUserTx(ctx, tx, userID, p.Value)
	})
	if err != nil {
		return 0, err
	}

	if err := s.ledger.PromoRedeemed(ctx, value); err != nil {
		s.log.Error("promo: ledger update failed", zap.String("code", code), zap.Error(err))
	}
	return value, nil
}

// Create registers a new balance promocode (admin only).
func (s *Service) Create(ctx context.Context, code string, value, maxActivations int64) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || value <= 0 || maxActivations <= 0 {
		return ErrBadCode
	}
	if _, err := s.db.GetPromocode(ctx, code); err == nil {
		return ErrCodeExists
	} else if !errors.Is(err, db.ErrNotFound) {
		return err
	}
	return s.db.CreatePromocode(ctx, db.Promocode{
		Code:           code,
		Kind:           "balance",
		Value:          value,
		MaxActivations: maxActivations,
	})
}

// ClaimReferral moves the user's whole referral balance to the main
// balance. The move is internal: total liability to the user does not
// change, so the ledger only counts it as a statistic.
func (s *Service) ClaimReferral(ctx context.Context, userID int64) (int64, error) {
	var moved int64
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		moved, err = s.db.MoveReferralToBalanceTx(ctx, tx, userID, s.cfg.MinPayout)
		if errors.Is(err, db.ErrNotEnough) {
			return ErrPayoutTooSmall
		}
		if err != nil {
			return err
		}
		return s.db.InsertReferralPayoutTx(ctx, tx, userID, moved)
	})
	if err != nil {
		return 0, err
	}

	if err := s.ledger.ReferralPaid(ctx, moved); err != nil {
		s.log.Error("promo: ledger update failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	return moved, nil
}
