package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *MemStore) {
	t.Helper()
	store := NewMemStore(20, 200)
	return NewService(store, nil, 0, 10_00, zap.NewNop()), store
}

func requireReserveIdentity(t *testing.T, s State) {
	t.Helper()
	require.Equal(t, s.TotalUserBalance*s.ReservePercentage/100, s.ReserveBalance)
	want := s.OperationalBalance - s.ReserveBalance
	if want < 0 {
		want = 0
	}
	require.Equal(t, want, s.AvailableForWithdrawal)
}

func TestDepositConfirmed(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// 100 gross, 3 gateway fee, 97 credited.
	require.NoError(t, svc.DepositConfirmed(ctx, 100, 97, 3))

	s, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(97), s.TotalUserBalance)
	assert.Equal(t, int64(100), s.TotalDeposits)
	assert.Equal(t, int64(3), s.TotalCryptoBotFees)
	assert.Zero(t, s.OperationalBalance, "deposit principal must not touch house profit")
	requireReserveIdentity(t, s)
}

func TestWithdrawalCompletedKeepsOperationalUntouched(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.DepositConfirmed(ctx, 1000, 1000, 0))
	before, err := store.Get(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.WithdrawalCompleted(ctx, 400, 4))

	s, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.OperationalBalance, s.OperationalBalance)
	assert.Equal(t, int64(600), s.TotalUserBalance)
	assert.Equal(t, int64(400), s.TotalWithdrawals)
	assert.Equal(t, int64(4), s.TotalCryptoBotFees)
	requireReserveIdentity(t, s)
}

func TestGameSettled(t *testing.T) {
	tests := []struct {
		name            string
		result          GameResult
		wantOperational int64
		wantUserDelta   int64
		wantWins        int64
	}{
		{
			name:            "loss moves stake to house",
			result:          GameResult{GameType: "dice", Bet: 50},
			wantOperational: 50,
			wantUserDelta:   -50,
		},
		{
			name:            "win pays profit out of house",
			result:          GameResult{GameType: "dice", Bet: 50, Profit: 45, Win: true},
			wantOperational: -45,
			wantUserDelta:   45,
			wantWins:        95,
		},
		{
			name:            "loss with referral accrual",
			result:          GameResult{GameType: "slots", Bet: 100, ReferralAccrual: 5},
			wantOperational: 100,
			wantUserDelta:   -95,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)
			ctx := context.Background()
			require.NoError(t, svc.DepositConfirmed(ctx, 1000, 1000, 0))

			require.NoError(t, svc.GameSettled(ctx, tt.result))

			s, err := store.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOperational, s.OperationalBalance)
			assert.Equal(t, int64(1000)+tt.wantUserDelta, s.TotalUserBalance)
			assert.Equal(t, tt.result.Bet, s.TotalBets)
			assert.Equal(t, tt.wantWins, s.TotalWins)
			gs := s.GameStats[tt.result.GameType]
			assert.Equal(t, int64(1), gs.TotalGames)
			assert.Equal(t, gs.TotalBets-gs.TotalWins, gs.Profit)
			requireReserveIdentity(t, s)
		})
	}
}

func TestDuelSettled(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.DepositConfirmed(ctx, 1000, 1000, 0))

	require.NoError(t, svc.DuelSettled(ctx, 10))

	s, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.TotalCommissions)
	assert.Equal(t, int64(10), s.CommissionBreakdown.Duels)
	assert.Equal(t, int64(10), s.OperationalBalance)
	assert.Equal(t, int64(990), s.TotalUserBalance)
	requireReserveIdentity(t, s)
}

func TestPromoRedeemed(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.PromoRedeemed(ctx, 25))

	s, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), s.TotalPromocodeExpenses)
	assert.Equal(t, int64(-25), s.OperationalBalance)
	assert.Equal(t, int64(25), s.TotalUserBalance)
	assert.True(t, s.Warnings.NegativeOperational)
	requireReserveIdentity(t, s)
}

func TestReferralPaidIsStatsOnly(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.DepositConfirmed(ctx, 500, 500, 0))
	before, err := store.Get(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.ReferralPaid(ctx, 40))

	s, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40), s.TotalReferralPayments)
	assert.Equal(t, before.TotalUserBalance, s.TotalUserBalance)
	assert.Equal(t, before.OperationalBalance, s.OperationalBalance)
}

func TestOwnerWithdrawal(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// Deposits 20000, then 10000 lost to the house: liabilities 10000,
	// profit 10000, reserve 2000, available 8000.
	require.NoError(t, svc.DepositConfirmed(ctx, 20000, 20000, 0))
	for i := 0; i < 10; i++ {
		require.NoError(t, svc.GameSettled(ctx, GameResult{GameType: "dice", Bet: 1000}))
	}
	s, err := store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10000), s.OperationalBalance)

	t.Run("below minimum", func(t *testing.T) {
		assert.ErrorIs(t, svc.OwnerWithdrawal(ctx, 5_00, "too small"), ErrBelowMinimum)
	})
	t.Run("exceeds available", func(t *testing.T) {
		assert.ErrorIs(t, svc.OwnerWithdrawal(ctx, 999999, "too big"), ErrExceedsAvailable)
	})
	t.Run("within bounds", func(t *testing.T) {
		require.NoError(t, svc.OwnerWithdrawal(ctx, 5000, "payday"))
		s, err := store.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), s.OperationalBalance)
		assert.Equal(t, int64(5000), s.TotalOwnerWithdrawals)
		assert.NotNil(t, s.LastOwnerWithdrawal)
		requireReserveIdentity(t, s)
	})
}

func TestInvalidAmountsRejected(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.DepositConfirmed(ctx, 0, 0, 0), ErrInvalidAmount)
	assert.ErrorIs(t, svc.WithdrawalCompleted(ctx, -5, 0), ErrInvalidAmount)
	assert.ErrorIs(t, svc.GameSettled(ctx, GameResult{GameType: "dice"}), ErrInvalidAmount)
	assert.ErrorIs(t, svc.PromoRedeemed(ctx, 0), ErrInvalidAmount)
	assert.ErrorIs(t, svc.ReferralPaid(ctx, -1), ErrInvalidAmount)

	s, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.History, "rejected operations must not mutate state")
}

func TestHistoryBounded(t *testing.T) {
	store := NewMemStore(20, 5)
	svc := NewService(store, nil, 0, 10_00, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, svc.DepositConfirmed(ctx, 10, 10, 0))
	}
	s, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, s.History, 5)
	for _, e := range s.History {
		assert.Equal(t, "deposit_confirmed", e.Op)
	}
}

func TestWarnings(t *testing.T) {
	store := NewMemStore(20, 200)
	ctx := context.Background()

	// High exposure: liabilities dominate custody.
	require.NoError(t, store.Update(ctx, func(s *State) error {
		s.TotalUserBalance = 9000
		s.OperationalBalance = 100
		return nil
	}))
	s, err := store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, s.Warnings.HighRiskRatio)
	assert.True(t, s.Warnings.LowReserve)
	assert.False(t, s.Warnings.NegativeOperational)

	// Healthy: house profit well above the reserve.
	require.NoError(t, store.Update(ctx, func(s *State) error {
		s.TotalUserBalance = 1000
		s.OperationalBalance = 5000
		return nil
	}))
	s, err = store.Get(ctx)
	require.NoError(t, err)
	assert.False(t, s.Warnings.HighRiskRatio)
	assert.False(t, s.Warnings.LowReserve)
	assert.False(t, s.Warnings.NegativeOperational)
}

func TestSnapshotTriggersRecalcWhenStale(t *testing.T) {
	store := NewMemStore(20, 200)
	src := &fakeSources{userBalances: 777, depositsGross: 777}
	recalc := NewRecalculator(store, src, zap.NewNop())
	svc := NewService(store, recalc, time.Hour, 10_00, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, func(s *State) error {
		s.LastCalculated = time.Now().Add(-2 * time.Hour)
		return nil
	}))

	s, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(777), s.TotalUserBalance)
	assert.WithinDuration(t, time.Now(), s.LastCalculated, time.Minute)
}
