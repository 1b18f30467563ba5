package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tgcasino/internal/cryptopay"
	"tgcasino/internal/ledger"
)

type fakeGateway struct {
	balance cryptopay.Balance
	err     error
}

func (f *fakeGateway) GetBalance(context.Context) (cryptopay.Balance, error) {
	return f.balance, f.err
}

type fakeSnapshotter struct {
	state ledger.State
	err   error
}

func (f *fakeSnapshotter) Snapshot(context.Context) (ledger.State, error) {
	return f.state, f.err
}

type fakeNotifier struct {
	critical []Report
	err      error
}

func (f *fakeNotifier) NotifyCritical(_ context.Context, r Report) error {
	f.critical = append(f.critical, r)
	return f.err
}

func newMonitor(gw *fakeGateway, snap *fakeSnapshotter, notifier *fakeNotifier) (*Monitor, *MemHistory) {
	history := NewMemHistory(100)
	m := NewMonitor(gw, snap, history, notifier, Thresholds{Minor: 1, Critical: 100}, zap.NewNop())
	return m, history
}

// Consistent books: deposits 1500, withdrawals 400, owner 100 ->
// expected 1000, of which 600 owed to users and 400 house profit.
func consistentState() ledger.State {
	return ledger.State{
		TotalUserBalance:      600,
		OperationalBalance:    400,
		TotalDeposits:         1500,
		TotalWithdrawals:      400,
		TotalOwnerWithdrawals: 100,
	}
}

func TestReconcileBalanced(t *testing.T) {
	gw := &fakeGateway{balance: cryptopay.Balance{Available: 900, OnHold: 100, Total: 1000}}
	m, history := newMonitor(gw, &fakeSnapshotter{state: consistentState()}, &fakeNotifier{})

	r, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusOK, r.Status)
	assert.Equal(t, SeverityOK, r.Severity)
	assert.Zero(t, r.Discrepancy)
	assert.False(t, r.LogicViolation)
	assert.Equal(t, int64(1000), r.Expected.Expected)
	assert.Equal(t, r.Expected.Expected, r.Expected.Alternative)

	reports, err := history.List(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
}

func TestReconcileModerateShortfall(t *testing.T) {
	// Gateway short by 50 with minor=1, critical=100.
	gw := &fakeGateway{balance: cryptopay.Balance{Available: 950, Total: 950}}
	m, _ := newMonitor(gw, &fakeSnapshotter{state: consistentState()}, &fakeNotifier{})

	r, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SeverityModerate, r.Severity)
	assert.Equal(t, int64(-50), r.Discrepancy)
	assert.NotEmpty(t, r.Analysis)
	require.NotEmpty(t, r.Recommendations)
	assert.Contains(t, r.Recommendations[0], "investigate")
}

func TestReconcileLiabilitiesExceedCustody(t *testing.T) {
	// Users are owed 600 but the gateway only holds 500: always
	// critical, whatever the numeric thresholds say.
	gw := &fakeGateway{balance: cryptopay.Balance{Available: 500, Total: 500}}
	notifier := &fakeNotifier{}
	m, _ := newMonitor(gw, &fakeSnapshotter{state: consistentState()}, notifier)

	r, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SeverityCritical, r.Severity)
	assert.True(t, r.LogicViolation)
	require.Len(t, notifier.critical, 1)
	require.NotEmpty(t, r.Recommendations)
	assert.Contains(t, r.Recommendations[0], "halt withdrawals")
}

func TestReconcileGatewayFailure(t *testing.T) {
	gw := &fakeGateway{err: errors.New("connection refused")}
	notifier := &fakeNotifier{}
	m, history := newMonitor(gw, &fakeSnapshotter{state: consistentState()}, notifier)

	r, err := m.Run(context.Background())
	require.NoError(t, err, "gateway failure must not fail the run")

	assert.Equal(t, StatusError, r.Status)
	assert.Equal(t, SeverityUnknown, r.Severity)
	assert.Contains(t, r.Error, "connection refused")
	assert.Empty(t, notifier.critical, "unknown severity is not critical")

	reports, err := history.List(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, reports, 1, "error reports are persisted too")
}

func TestReconcileDerivationCrossCheck(t *testing.T) {
	// Cash-flow says 1000 but liabilities sum to 900: the ledger
	// disagrees with itself.
	state := consistentState()
	state.OperationalBalance = 300
	gw := &fakeGateway{balance: cryptopay.Balance{Available: 1000, Total: 1000}}
	m, _ := newMonitor(gw, &fakeSnapshotter{state: state}, &fakeNotifier{})

	r, err := m.Run(context.Background())
	require.NoError(t, err)

	found := false
	for _, line := range r.Analysis {
		if strings.Contains(line, "derivations disagree") {
			found = true
		}
	}
	assert.True(t, found, "mutual disagreement must be surfaced: %v", r.Analysis)
}

func TestNotifierFailureDoesNotFailRun(t *testing.T) {
	gw := &fakeGateway{balance: cryptopay.Balance{Total: 0}}
	state := consistentState() // liabilities > 0 custody -> critical
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	m, history := newMonitor(gw, &fakeSnapshotter{state: state}, notifier)

	_, err := m.Run(context.Background())
	require.NoError(t, err)

	reports, err := history.List(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
}

func TestMemHistoryBoundedNewestFirst(t *testing.T) {
	h := NewMemHistory(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, h.Push(ctx, Report{Discrepancy: int64(i)}))
	}
	reports, err := h.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, int64(4), reports[0].Discrepancy)
	assert.Equal(t, int64(2), reports[2].Discrepancy)

	page, err := h.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(3), page[0].Discrepancy)
}

func TestMemHistoryClampsPagination(t *testing.T) {
	h := NewMemHistory(10)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Push(ctx, Report{Discrepancy: int64(i)}))
	}

	reports, err := h.List(ctx, -1, 20)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, int64(2), reports[0].Discrepancy)

	reports, err = h.List(ctx, -5, -5)
	require.NoError(t, err)
	require.Len(t, reports, 3)

	reports, err = h.List(ctx, 99, 10)
	require.NoError(t, err)
	require.Empty(t, reports)
}

func TestSeverityBands(t *testing.T) {
	m := &Monitor{thresholds: Thresholds{Minor: 1_00, Critical: 100_00}}
	tests := []struct {
		abs  int64
		want string
	}{
		{0, SeverityOK},
		{1_00, SeverityOK},
		{5_00, SeverityMinor},
		{50_00, SeverityModerate},
		{100_00, SeverityModerate},
		{100_01, SeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.classify(tt.abs), "abs=%d", tt.abs)
	}
}
