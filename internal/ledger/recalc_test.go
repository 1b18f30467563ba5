package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tgcasino/internal/db"
)

type fakeSources struct {
	userBalances     int64
	depositsGross    int64
	depositFees      int64
	withdrawalsGross int64
	withdrawalFees   int64
	games            []db.GameAggregate
	duelCommissions  int64
	promoExpenses    int64
	referralPayouts  int64
	ownerWithdrawals int64
}

func (f *fakeSources) SumUserBalances(context.Context) (int64, error) { return f.userBalances, nil }
func (f *fakeSources) SumDeposits(context.Context) (int64, int64, error) {
	return f.depositsGross, f.depositFees, nil
}
func (f *fakeSources) SumWithdrawals(context.Context) (int64, int64, error) {
	return f.withdrawalsGross, f.withdrawalFees, nil
}
func (f *fakeSources) GameAggregates(context.Context) ([]db.GameAggregate, error) {
	return f.games, nil
}
func (f *fakeSources) SumDuelCommissions(context.Context) (int64, error) {
	return f.duelCommissions, nil
}
func (f *fakeSources) SumPromoExpenses(context.Context) (int64, error) { return f.promoExpenses, nil }
func (f *fakeSources) SumReferralPayouts(context.Context) (int64, error) {
	return f.referralPayouts, nil
}
func (f *fakeSources) SumOwnerWithdrawals(context.Context) (int64, error) {
	return f.ownerWithdrawals, nil
}

func TestRecalcRebuildsOperationalFromScratch(t *testing.T) {
	store := NewMemStore(20, 200)
	ctx := context.Background()

	// Poison the stored state with drift; recalculation must ignore it.
	require.NoError(t, store.Update(ctx, func(s *State) error {
		s.OperationalBalance = 999999
		s.TotalUserBalance = -5
		return nil
	}))

	src := &fakeSources{
		userBalances:     1200,
		depositsGross:    5000,
		depositFees:      50,
		withdrawalsGross: 2000,
		withdrawalFees:   20,
		games: []db.GameAggregate{
			{GameType: "dice", Count: 100, Bets: 4000, Wins: 3500},
			{GameType: "slots", Count: 40, Bets: 1000, Wins: 600},
		},
		duelCommissions:  80,
		promoExpenses:    120,
		referralPayouts:  30,
		ownerWithdrawals: 400,
	}
	recalc := NewRecalculator(store, src, zap.NewNop())

	s, err := recalc.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1200), s.TotalUserBalance)
	assert.Equal(t, int64(5000), s.TotalDeposits)
	assert.Equal(t, int64(2000), s.TotalWithdrawals)
	assert.Equal(t, int64(5000), s.TotalBets)
	assert.Equal(t, int64(4100), s.TotalWins)
	assert.Equal(t, int64(80), s.TotalCommissions)
	assert.Equal(t, int64(120), s.TotalPromocodeExpenses)
	assert.Equal(t, int64(70), s.TotalCryptoBotFees)
	assert.Equal(t, int64(400), s.TotalOwnerWithdrawals)
	assert.Equal(t, int64(30), s.TotalReferralPayments)

	// (5000-4100) + 80 - 120, nothing of the poisoned 999999 survives.
	assert.Equal(t, int64(860), s.OperationalBalance)

	require.NotEmpty(t, s.History)
	assert.Equal(t, "full_recalculation", s.History[len(s.History)-1].Op)
}

func TestRecalcEventsCommissionIsCategoryProfit(t *testing.T) {
	store := NewMemStore(20, 200)
	src := &fakeSources{
		games: []db.GameAggregate{
			{GameType: "dice", Count: 10, Bets: 500, Wins: 450},
			{GameType: EventCategory, Count: 3, Bets: 300, Wins: 100},
		},
		duelCommissions: 40,
	}
	recalc := NewRecalculator(store, src, zap.NewNop())

	s, err := recalc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(200), s.CommissionBreakdown.Events)
	assert.Equal(t, int64(40), s.CommissionBreakdown.Duels)
	assert.Equal(t, int64(240), s.TotalCommissions)
}

func TestRecalcIdempotent(t *testing.T) {
	store := NewMemStore(20, 200)
	src := &fakeSources{
		userBalances:  800,
		depositsGross: 3000,
		games:         []db.GameAggregate{{GameType: "coinflip", Count: 5, Bets: 250, Wins: 200}},
	}
	recalc := NewRecalculator(store, src, zap.NewNop())
	ctx := context.Background()

	first, err := recalc.Run(ctx)
	require.NoError(t, err)
	second, err := recalc.Run(ctx)
	require.NoError(t, err)

	first.History, second.History = nil, nil
	first.LastCalculated = second.LastCalculated
	assert.Equal(t, first, second)
}

// Applying events incrementally and rebuilding from the equivalent
// source records must land on identical balances; any gap here is
// exactly the drift the recalculation engine exists to kill.
func TestIncrementalMatchesRecalculated(t *testing.T) {
	incStore := NewMemStore(20, 200)
	svc := NewService(incStore, nil, 0, 1, zap.NewNop())
	ctx := context.Background()

	// Deposits: 1000 gross / 990 net / 10 fee, and 500 flat.
	require.NoError(t, svc.DepositConfirmed(ctx, 1000, 990, 10))
	require.NoError(t, svc.DepositConfirmed(ctx, 500, 500, 0))
	// Games: dice loss 100, dice win 100 -> +90 profit, slots loss 200.
	require.NoError(t, svc.GameSettled(ctx, GameResult{GameType: "dice", Bet: 100}))
	require.NoError(t, svc.GameSettled(ctx, GameResult{GameType: "dice", Bet: 100, Profit: 90, Win: true}))
	require.NoError(t, svc.GameSettled(ctx, GameResult{GameType: "slots", Bet: 200}))
	// Duel: two stakes of 150, winner paid 285, commission 15.
	require.NoError(t, svc.DuelSettled(ctx, 15))
	// Promo 50, withdrawal 300 gross / 3 fee, referral payout 20.
	require.NoError(t, svc.PromoRedeemed(ctx, 50))
	require.NoError(t, svc.WithdrawalCompleted(ctx, 300, 3))
	require.NoError(t, svc.ReferralPaid(ctx, 20))

	incremental, err := incStore.Get(ctx)
	require.NoError(t, err)

	// The same events as source-of-record aggregates.
	src := &fakeSources{
		userBalances:     incremental.TotalUserBalance,
		depositsGross:    1500,
		depositFees:      10,
		withdrawalsGross: 300,
		withdrawalFees:   3,
		games: []db.GameAggregate{
			{GameType: "dice", Count: 2, Bets: 200, Wins: 190},
			{GameType: "slots", Count: 1, Bets: 200, Wins: 0},
		},
		duelCommissions: 15,
		promoExpenses:   50,
		referralPayouts: 20,
	}
	recalcStore := NewMemStore(20, 200)
	recalc := NewRecalculator(recalcStore, src, zap.NewNop())

	rebuilt, err := recalc.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, incremental.OperationalBalance, rebuilt.OperationalBalance)
	assert.Equal(t, incremental.TotalUserBalance, rebuilt.TotalUserBalance)
	assert.Equal(t, incremental.TotalBets, rebuilt.TotalBets)
	assert.Equal(t, incremental.TotalWins, rebuilt.TotalWins)
	assert.Equal(t, incremental.TotalCommissions, rebuilt.TotalCommissions)
	assert.Equal(t, incremental.TotalCryptoBotFees, rebuilt.TotalCryptoBotFees)
	assert.Equal(t, incremental.ReserveBalance, rebuilt.ReserveBalance)
	assert.Equal(t, incremental.AvailableForWithdrawal, rebuilt.AvailableForWithdrawal)
}
