package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tgcasino/internal/db"
)

// Sources are the system-of-record aggregate queries a full
// recalculation rebuilds the state from. *db.DB satisfies it; tests
// plug in fixtures.
type Sources interface {
	SumUserBalances(ctx context.Context) (int64, error)
	SumDeposits(ctx context.Context) (gross, fees int64, err error)
	SumWithdrawals(ctx context.Context) (gross, fees int64, err error)
	GameAggregates(ctx context.Context) ([]db.GameAggregate, error)
	SumDuelCommissions(ctx context.Context) (int64, error)
	SumPromoExpenses(ctx context.Context) (int64, error)
	SumReferralPayouts(ctx context.Context) (int64, error)
	SumOwnerWithdrawals(ctx context.Context) (int64, error)
}

// Recalculator rebuilds the whole State from source aggregates,
// discarding incremental drift. Safe to run at any time; the result
// depends only on the source records.
type Recalculator struct {
	store   Store
	sources Sources
	log     *zap.Logger
}

func NewRecalculator(store Store, sources Sources, log *zap.Logger) *Recalculator {
	return &Recalculator{store: store, sources: sources, log: log}
}

// Run replaces every total with its source-of-record aggregate. The
// operational balance is recomputed from scratch as
// (bets - wins) + commissions - promoExpenses; carrying the previous
// value over would make drift permanent, which defeats the point.
func (r *Recalculator) Run(ctx context.Context) (State, error) {
	started := time.Now().UTC()

	userTotal, err := r.sources.SumUserBalances(ctx)
	if err != nil {
		return State{}, errors.Wrap(err, "recalc: user balances")
	}
	depositGross, depositFees, err := r.sources.SumDeposits(ctx)
	if err != nil {
		return State{}, errors.Wrap(err, "recalc: deposits")
	}
	withdrawalGross, withdrawalFees, err := r.sources.SumWithdrawals(ctx)
	if err != nil {
		return State{}, errors.Wrap(err, "recalc: withdrawals")
	}
	aggregates, err := r.sources.GameAggregates(ctx)
	if err != nil {
		return State{}, errors.Wrap(err, "recalc: games")
	}
	duelCommissions, err := r.sources.SumDuelCommissions(ctx)
	if err != nil {
		return State{}, errors.Wrap(err, "recalc: duel commissions")
	}
	promoExpenses, err := r.sources.SumPromoExpenses(ctx)
	if err != nil {
		return State{}, errors.Wrap(err, "recalc: promo expenses")
	}
	referralPayouts, err := r.sources.SumReferralPayouts(ctx)
	if err != nil {
		return State{}, errors.Wrap(err, "recalc: referral payouts")
	}
	ownerWithdrawals, err := r.sources.SumOwnerWithdrawals(ctx)
	if err != nil {
		return State{}, errors.Wrap(err, "recalc: owner withdrawals")
	}

	var out State
	err = r.store.Update(ctx, func(st *State) error {
		st.TotalUserBalance = userTotal
		st.TotalDeposits = depositGross
		st.TotalWithdrawals = withdrawalGross

		st.TotalBets, st.TotalWins = 0, 0
		st.GameStats = make(map[string]GameStat, len(aggregates))
		for _, a := range aggregates {
			st.TotalBets += a.Bets
			st.TotalWins += a.Wins
			st.GameStats[a.GameType] = GameStat{
				TotalGames: a.Count,
				TotalBets:  a.Bets,
				TotalWins:  a.Wins,
				Profit:     a.Bets - a.Wins,
			}
		}

		// Events pay their commission as category profit, not as
		// explicit commission rows.
		eventsCommission := st.GameStats[EventCategory].Profit
		st.CommissionBreakdown = CommissionBreakdown{
			Duels:  duelCommissions,
			Events: eventsCommission,
		}
		st.TotalCommissions = duelCommissions + eventsCommission

		st.TotalPromocodeExpenses = promoExpenses
		st.TotalCryptoBotFees = depositFees + withdrawalFees
		st.TotalOwnerWithdrawals = ownerWithdrawals
		st.TotalReferralPayments = referralPayouts

		st.OperationalBalance = (st.TotalBets - st.TotalWins) +
			st.TotalCommissions - st.TotalPromocodeExpenses

		st.LastCalculated = started
		st.appendHistory(0, HistoryEntry{At: started, Op: "full_recalculation"})
		return nil
	})
	if err != nil {
		return State{}, errors.Wrap(err, "recalc: persist")
	}

	out, err = r.store.Get(ctx)
	if err != nil {
		return State{}, errors.Wrap(err, "recalc: reload")
	}
	r.log.Info("full recalculation complete",
		zap.Int64("total_user_balance", out.TotalUserBalance),
		zap.Int64("operational_balance", out.OperationalBalance),
		zap.Duration("took", time.Since(started)))
	return out, nil
}
