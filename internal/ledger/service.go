package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInvalidAmount rejects non-positive amounts before any mutation.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrExceedsAvailable rejects an owner withdrawal above the free
	// operational balance.
	ErrExceedsAvailable = errors.New("ledger: amount exceeds available for withdrawal")
	// ErrBelowMinimum rejects an owner withdrawal under the configured floor.
	ErrBelowMinimum = errors.New("ledger: amount below minimum withdrawal")
)

// EventCategory is the game type whose profit is reported as events
// commission.
const EventCategory = "events"

// Service is the single sanctioned write path to the ledger. Every
// financial event lands here as exactly one method call; nothing else
// in the codebase mutates State fields.
type Service struct {
	store      Store
	recalc     *Recalculator
	staleAfter time.Duration
	minOwner   int64
	log        *zap.Logger
}

func NewService(store Store, recalc *Recalculator, staleAfter time.Duration, minOwnerWithdraw int64, log *zap.Logger) *Service {
	return &Service{
		store:      store,
		recalc:     recalc,
		staleAfter: staleAfter,
		minOwner:   minOwnerWithdraw,
		log:        log,
	}
}

// GameResult is one settled round as the ledger sees it. Profit is the
// net win; on a loss it is ignored. ReferralAccrual is what the round
// credited to the referrer's referral balance, which is a user
// liability and must be mirrored here.
type GameResult struct {
	GameType        string
	Bet             int64
	Profit          int64
	Win             bool
	ReferralAccrual int64
}

// GameSettled applies one round. On a loss the stake becomes house
// profit; on a win the net payout comes out of it. The user-liability
// mirror moves by the same delta the user's balance moved.
func (s *Service) GameSettled(ctx context.Context, r GameResult) error {
	if r.Bet <= 0 {
		return ErrInvalidAmount
	}
	return s.apply(ctx, "game_settled", r.Bet, r.GameType, func(st *State) {
		st.TotalBets += r.Bet
		gs := st.GameStats[r.GameType]
		gs.TotalGames++
		gs.TotalBets += r.Bet
		if r.Win {
			gross := r.Bet + r.Profit
			st.TotalWins += gross
			gs.TotalWins += gross
			st.OperationalBalance -= r.Profit
			st.TotalUserBalance += r.Profit
		} else {
			st.OperationalBalance += r.Bet
			st.TotalUserBalance -= r.Bet
		}
		gs.Profit = gs.TotalBets - gs.TotalWins
		st.GameStats[r.GameType] = gs
		st.TotalUserBalance += r.ReferralAccrual
	})
}

// DepositConfirmed moves custody in: gross hits the gateway, net is
// owed to the user, the difference is the gateway fee. House profit is
// untouched; a deposit is not income.
func (s *Service) DepositConfirmed(ctx context.Context, gross, net, fee int64) error {
	if gross <= 0 || net <= 0 || fee < 0 {
		return ErrInvalidAmount
	}
	return s.apply(ctx, "deposit_confirmed", gross, "", func(st *State) {
		st.TotalDeposits += gross
		st.TotalUserBalance += net
		st.TotalCryptoBotFees += fee
	})
}

// WithdrawalCompleted moves custody out. The gross amount was already
// debited from the user; house profit is untouched.
func (s *Service) WithdrawalCompleted(ctx context.Context, gross, fee int64) error {
	if gross <= 0 || fee < 0 {
		return ErrInvalidAmount
	}
	return s.apply(ctx, "withdrawal_completed", gross, "", func(st *State) {
		st.TotalWithdrawals += gross
		st.TotalUserBalance -= gross
		st.TotalCryptoBotFees += fee
	})
}

// DuelSettled books the house rake of one finished duel. The rest of
// the pot moved between the two players.
func (s *Service) DuelSettled(ctx context.Context, commission int64) error {
	if commission < 0 {
		return ErrInvalidAmount
	}
	return s.apply(ctx, "duel_settled", commission, "", func(st *State) {
		st.TotalCommissions += commission
		st.CommissionBreakdown.Duels += commission
		st.OperationalBalance += commission
		st.TotalUserBalance -= commission
	})
}

// PromoRedeemed books a balance-type promocode: house profit funds the
// credited balance.
func (s *Service) PromoRedeemed(ctx context.Context, value int64) error {
	if value <= 0 {
		return ErrInvalidAmount
	}
	return s.apply(ctx, "promo_redeemed", value, "", func(st *State) {
		st.TotalPromocodeExpenses += value
		st.OperationalBalance -= value
		st.TotalUserBalance += value
	})
}

// ReferralPaid is statistics only. The payout moved money between two
// buckets of the same user's already-accounted liability, so neither
// the operational balance nor the liability total changes.
func (s *Service) ReferralPaid(ctx context.Context, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.apply(ctx, "referral_paid", amount, "", func(st *State) {
		st.TotalReferralPayments += amount
	})
}

// OwnerWithdrawal draws house profit out, bounded below by the
// configured minimum and above by the reserve-adjusted available
// amount.
func (s *Service) OwnerWithdrawal(ctx context.Context, amount int64, note string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount < s.minOwner {
		return ErrBelowMinimum
	}
	return s.store.Update(ctx, func(st *State) error {
		st.refreshDerived()
		if amount > st.AvailableForWithdrawal {
			return ErrExceedsAvailable
		}
		st.OperationalBalance -= amount
		st.TotalOwnerWithdrawals += amount
		now := time.Now().UTC()
		st.LastOwnerWithdrawal = &now
		st.appendHistory(0, HistoryEntry{At: now, Op: "owner_withdrawal", Amount: amount, Note: note})
		return nil
	})
}

// Snapshot returns the current state, first rebuilding it from the
// source of record when it has gone stale.
func (s *Service) Snapshot(ctx context.Context) (State, error) {
	st, err := s.store.Get(ctx)
	if err != nil {
		return State{}, err
	}
	if s.recalc != nil && s.staleAfter > 0 && time.Since(st.LastCalculated) > s.staleAfter {
		s.log.Info("ledger state stale, recalculating",
			zap.Time("last_calculated", st.LastCalculated))
		if st, err = s.recalc.Run(ctx); err != nil {
			return State{}, err
		}
	}
	return st, nil
}

// Recalculate rebuilds the state on demand (admin trigger).
func (s *Service) Recalculate(ctx context.Context) (State, error) {
	return s.recalc.Run(ctx)
}

func (s *Service) apply(ctx context.Context, op string, amount int64, note string, mutate func(*State)) error {
	err := s.store.Update(ctx, func(st *State) error {
		mutate(st)
		st.appendHistory(0, HistoryEntry{At: time.Now().UTC(), Op: op, Amount: amount, Note: note})
		return nil
	})
	if err != nil {
		s.log.Error("ledger operation failed", zap.String("op", op), zap.Int64("amount", amount), zap.Error(err))
		return err
	}
	return nil
}
