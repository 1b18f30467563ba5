package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tgcasino/internal/config"
	"tgcasino/internal/cryptopay"
	"tgcasino/internal/db"
	"tgcasino/internal/events"
)

// fakeStore keeps everything in maps. WithTx just runs the callback:
// the workflows under test are exercised for their orchestration, not
// for transactional isolation.
type fakeStore struct {
	mu          sync.Mutex
	balances    map[int64]int64
	withdrawals map[uuid.UUID]db.Withdrawal
	deposits    map[int64]db.Deposit
	nextDeposit int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances:    map[int64]int64{},
		withdrawals: map[uuid.UUID]db.Withdrawal{},
		deposits:    map[int64]db.Deposit{},
	}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (f *fakeStore) DebitUserTx(ctx context.Context, _ pgx.Tx, userID, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[userID] < amount {
		return db.ErrNotEnough
	}
	f.balances[userID] -= amount
	return nil
}

func (f *fakeStore) CreditUserTx(ctx context.Context, _ pgx.Tx, userID, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] += amount
	return nil
}

func (f *fakeStore) CreateWithdrawalTx(ctx context.Context, _ pgx.Tx, w db.Withdrawal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawals[w.WithdrawalID] = w
	return nil
}

func (f *fakeStore) HasActiveWithdrawal(ctx context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.withdrawals {
		if w.UserID != userID {
			continue
		}
		switch w.Status {
		case db.WithdrawalPending, db.WithdrawalApproved, db.WithdrawalProcessing:
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) GetWithdrawal(ctx context.Context, id uuid.UUID) (db.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.withdrawals[id]
	if !ok {
		return db.Withdrawal{}, db.ErrNotFound
	}
	return w, nil
}

func (f *fakeStore) transition(id uuid.UUID, from, to, reason string) (db.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.withdrawals[id]
	if !ok || w.Status != from {
		return db.Withdrawal{}, db.ErrConflict
	}
	w.Status = to
	if reason != "" {
		w.Reason = reason
	}
	f.withdrawals[id] = w
	return w, nil
}

func (f *fakeStore) TransitionWithdrawal(ctx context.Context, id uuid.UUID, from, to, reason string) (db.Withdrawal, error) {
	return f.transition(id, from, to, reason)
}

func (f *fakeStore) TransitionWithdrawalTx(ctx context.Context, _ pgx.Tx, id uuid.UUID, from, to, reason string) (db.Withdrawal, error) {
	return f.transition(id, from, to, reason)
}

func (f *fakeStore) CompleteWithdrawal(ctx context.Context, id uuid.UUID, transferID int64) (db.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.withdrawals[id]
	if !ok || w.Status != db.WithdrawalProcessing {
		return db.Withdrawal{}, db.ErrConflict
	}
	w.Status = db.WithdrawalCompleted
	w.TransferID = &transferID
	f.withdrawals[id] = w
	return w, nil
}

func (f *fakeStore) ListWithdrawals(ctx context.Context, status string, limit int64) ([]db.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.Withdrawal
	for _, w := range f.withdrawals {
		if status == "" || w.Status == status {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeStore) ListUserWithdrawals(ctx context.Context, userID, limit int64) ([]db.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.Withdrawal
	for _, w := range f.withdrawals {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateDeposit(ctx context.Context, userID, invoiceID, amount int64, asset string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextDeposit++
	f.deposits[invoiceID] = db.Deposit{
		DepositID: f.nextDeposit,
		UserID:    userID,
		InvoiceID: invoiceID,
		Amount:    amount,
		Asset:     asset,
		Status:    db.DepositPending,
	}
	return f.nextDeposit, nil
}

func (f *fakeStore) GetDepositByInvoice(ctx context.Context, invoiceID int64) (db.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dep, ok := f.deposits[invoiceID]
	if !ok {
		return db.Deposit{}, db.ErrNotFound
	}
	return dep, nil
}

func (f *fakeStore) MarkDepositPaidTx(ctx context.Context, _ pgx.Tx, invoiceID, netAmount, fee int64, paidAt time.Time) (db.Deposit, error) {
	f.mu.Lock()
	dep, ok := f.deposits[invoiceID]
	if !ok || dep.Status != db.DepositPending {
		f.mu.Unlock()
		return db.Deposit{}, db.ErrConflict
	}
	dep.Status = db.DepositPaid
	dep.NetAmount = netAmount
	dep.Fee = fee
	dep.PaidAt = &paidAt
	f.deposits[invoiceID] = dep
	f.mu.Unlock()

	return dep, f.CreditUserTx(ctx, nil, dep.UserID, netAmount)
}

func (f *fakeStore) MarkDepositClosed(ctx context.Context, invoiceID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dep, ok := f.deposits[invoiceID]
	if !ok || dep.Status != db.DepositPending {
		return db.ErrConflict
	}
	dep.Status = status
	f.deposits[invoiceID] = dep
	return nil
}

func (f *fakeStore) ListDeposits(ctx context.Context, userID, limit int64) ([]db.Deposit, error) {
	return nil, nil
}

type fakeLedger struct {
	mu          sync.Mutex
	deposits    [][3]int64 // gross, net, fee
	withdrawals [][2]int64 // gross, fee
}

func (f *fakeLedger) DepositConfirmed(ctx context.Context, gross, net, fee int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposits = append(f.deposits, [3]int64{gross, net, fee})
	return nil
}

func (f *fakeLedger) WithdrawalCompleted(ctx context.Context, gross, fee int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawals = append(f.withdrawals, [2]int64{gross, fee})
	return nil
}

type fakePayGateway struct {
	balance     cryptopay.Balance
	balanceErr  error
	transferErr error
	transfers   []string // spend ids
	invoices    map[int64]cryptopay.Invoice
	nextInvoice int64
}

func (f *fakePayGateway) GetBalance(ctx context.Context) (cryptopay.Balance, error) {
	return f.balance, f.balanceErr
}

func (f *fakePayGateway) SendTransfer(ctx context.Context, recipientID, amount int64, spendID string) (cryptopay.Transfer, error) {
	if f.transferErr != nil {
		return cryptopay.Transfer{}, f.transferErr
	}
	f.transfers = append(f.transfers, spendID)
	return cryptopay.Transfer{TransferID: int64(len(f.transfers)), Amount: amount}, nil
}

func (f *fakePayGateway) CreateInvoice(ctx context.Context, amount int64, payload string) (cryptopay.Invoice, error) {
	f.nextInvoice++
	inv := cryptopay.Invoice{InvoiceID: f.nextInvoice, Status: cryptopay.InvoiceActive, Asset: "USDT", Amount: amount}
	if f.invoices == nil {
		f.invoices = map[int64]cryptopay.Invoice{}
	}
	f.invoices[inv.InvoiceID] = inv
	return inv, nil
}

func (f *fakePayGateway) GetInvoice(ctx context.Context, invoiceID int64) (cryptopay.Invoice, error) {
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return cryptopay.Invoice{}, db.ErrNotFound
	}
	return inv, nil
}

func (f *fakePayGateway) Asset() string { return "USDT" }

func testWithdrawCfg() config.WithdrawConfig {
	return config.WithdrawConfig{
		MinAmount:         10,
		MaxAmount:         100000,
		FeePercent:        100, // 1%
		ApprovalThreshold: 50000,
		SafetyMargin:      1.1,
	}
}

func newWithdrawals(store *fakeStore, gw *fakePayGateway, ledger *fakeLedger) *Withdrawals {
	return NewWithdrawals(store, ledger, gw, events.NewBus(), testWithdrawCfg(), zap.NewNop())
}

func TestWithdrawalHappyPath(t *testing.T) {
	store := newFakeStore()
	store.balances[7] = 10000
	gw := &fakePayGateway{balance: cryptopay.Balance{Available: 1000000}}
	ledgerRec := &fakeLedger{}
	w := newWithdrawals(store, gw, ledgerRec)

	wd, err := w.Create(context.Background(), 7, 1000, "42")
	require.NoError(t, err)

	assert.Equal(t, db.WithdrawalCompleted, wd.Status)
	assert.Equal(t, int64(10), wd.Fee)
	assert.Equal(t, int64(990), wd.NetAmount)
	require.NotNil(t, wd.TransferID)
	assert.Equal(t, int64(9000), store.balances[7])
	require.Len(t, gw.transfers, 1)
	assert.Equal(t, wd.WithdrawalID.String(), gw.transfers[0], "withdrawal id is the idempotency key")
	require.Len(t, ledgerRec.withdrawals, 1)
	assert.Equal(t, [2]int64{1000, 10}, ledgerRec.withdrawals[0])
}

func TestWithdrawalInsufficientBalance(t *testing.T) {
	store := newFakeStore()
	store.balances[7] = 100
	gw := &fakePayGateway{balance: cryptopay.Balance{Available: 1000000}}
	w := newWithdrawals(store, gw, &fakeLedger{})

	_, err := w.Create(context.Background(), 7, 150, "42")
	assert.ErrorIs(t, err, db.ErrNotEnough)
	assert.Equal(t, int64(100), store.balances[7], "nothing debited")
	assert.Empty(t, store.withdrawals)
}

func TestConcurrentSpendsSingleSuccess(t *testing.T) {
	store := newFakeStore()
	store.balances[7] = 100
	gw := &fakePayGateway{balance: cryptopay.Balance{Available: 1000000}}
	w := newWithdrawals(store, gw, &fakeLedger{})

	// Two spends of 60 against a balance of 100: the conditional debit
	// must let exactly one through, whichever order they land in.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.Create(context.Background(), 7, 60, "42")
		}(i)
	}
	wg.Wait()

	var successes int
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		require.True(t,
			errors.Is(err, db.ErrNotEnough) || errors.Is(err, ErrWithdrawalActive),
			"unexpected failure: %v", err)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, int64(40), store.balances[7])
}

func TestWithdrawalGatewayInsolvency(t *testing.T) {
	store := newFakeStore()
	store.balances[7] = 10000
	// Needs 1000*1.1 = 1100 available; gateway has 1050.
	gw := &fakePayGateway{balance: cryptopay.Balance{Available: 1050}}
	w := newWithdrawals(store, gw, &fakeLedger{})

	_, err := w.Create(context.Background(), 7, 1000, "42")
	assert.ErrorIs(t, err, ErrGatewayInsolvent)
	assert.Equal(t, int64(10000), store.balances[7])
}

func TestWithdrawalTransferFailureRefunds(t *testing.T) {
	store := newFakeStore()
	store.balances[7] = 10000
	gw := &fakePayGateway{
		balance:     cryptopay.Balance{Available: 1000000},
		transferErr: errors.New("gateway timeout"),
	}
	ledgerRec := &fakeLedger{}
	w := newWithdrawals(store, gw, ledgerRec)

	wd, err := w.Create(context.Background(), 7, 1000, "42")
	require.NoError(t, err)

	assert.Equal(t, db.WithdrawalFailed, wd.Status)
	assert.Equal(t, int64(10000), store.balances[7], "compensating refund restores the balance")
	assert.Empty(t, ledgerRec.withdrawals, "no ledger operation for money that never left")
}

// strandProcessing seeds a row the way a crash between the status
// transition and the gateway call leaves it: debited, in processing,
// no transfer recorded.
func strandProcessing(store *fakeStore, userID int64) uuid.UUID {
	id := uuid.New()
	store.withdrawals[id] = db.Withdrawal{
		WithdrawalID: id,
		UserID:       userID,
		Amount:       1000,
		Fee:          10,
		NetAmount:    990,
		Recipient:    "42",
		Asset:        "USDT",
		Status:       db.WithdrawalProcessing,
	}
	return id
}

func TestRecoverStuckResendsTransfer(t *testing.T) {
	store := newFakeStore()
	gw := &fakePayGateway{balance: cryptopay.Balance{Available: 1000000}}
	ledgerRec := &fakeLedger{}
	w := newWithdrawals(store, gw, ledgerRec)
	id := strandProcessing(store, 7)

	require.NoError(t, w.RecoverStuck(context.Background()))

	wd, err := store.GetWithdrawal(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, db.WithdrawalCompleted, wd.Status)
	require.Len(t, gw.transfers, 1)
	assert.Equal(t, id.String(), gw.transfers[0])
	require.Len(t, ledgerRec.withdrawals, 1)
	assert.Zero(t, store.balances[7], "no refund for a paid withdrawal")
}

func TestRecoverStuckDuplicateSpendCompletes(t *testing.T) {
	// The earlier attempt got the transfer out before crashing; the
	// gateway rejects the retried spend id. The withdrawal completes
	// and the user is never refunded money that already left.
	store := newFakeStore()
	gw := &fakePayGateway{
		balance:     cryptopay.Balance{Available: 1000000},
		transferErr: cryptopay.ErrDuplicateSpendID,
	}
	ledgerRec := &fakeLedger{}
	w := newWithdrawals(store, gw, ledgerRec)
	id := strandProcessing(store, 7)

	require.NoError(t, w.RecoverStuck(context.Background()))

	wd, err := store.GetWithdrawal(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, db.WithdrawalCompleted, wd.Status)
	assert.Zero(t, store.balances[7])
	require.Len(t, ledgerRec.withdrawals, 1)
}

func TestRecoverStuckGatewayFailureRefunds(t *testing.T) {
	store := newFakeStore()
	gw := &fakePayGateway{
		balance:     cryptopay.Balance{Available: 1000000},
		transferErr: errors.New("gateway down"),
	}
	ledgerRec := &fakeLedger{}
	w := newWithdrawals(store, gw, ledgerRec)
	id := strandProcessing(store, 7)

	require.NoError(t, w.RecoverStuck(context.Background()))

	wd, err := store.GetWithdrawal(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, db.WithdrawalFailed, wd.Status)
	assert.Equal(t, int64(1000), store.balances[7], "gross debit restored")
	assert.Empty(t, ledgerRec.withdrawals)
}

func TestWithdrawalAboveThresholdAwaitsApproval(t *testing.T) {
	store := newFakeStore()
	store.balances[7] = 100000
	gw := &fakePayGateway{balance: cryptopay.Balance{Available: 10000000}}
	ledgerRec := &fakeLedger{}
	w := newWithdrawals(store, gw, ledgerRec)

	wd, err := w.Create(context.Background(), 7, 60000, "42")
	require.NoError(t, err)
	assert.Equal(t, db.WithdrawalPending, wd.Status)
	assert.True(t, wd.RequiresApproval)
	assert.Empty(t, gw.transfers, "no transfer before approval")
	assert.Equal(t, int64(40000), store.balances[7], "debited at creation")

	approved, err := w.Approve(context.Background(), wd.WithdrawalID)
	require.NoError(t, err)
	assert.Equal(t, db.WithdrawalCompleted, approved.Status)
	require.Len(t, gw.transfers, 1)
}

func TestWithdrawalSingleInFlight(t *testing.T) {
	store := newFakeStore()
	store.balances[7] = 100000
	gw := &fakePayGateway{balance: cryptopay.Balance{Available: 10000000}}
	w := newWithdrawals(store, gw, &fakeLedger{})

	first, err := w.Create(context.Background(), 7, 60000, "42")
	require.NoError(t, err)
	require.Equal(t, db.WithdrawalPending, first.Status)

	_, err = w.Create(context.Background(), 7, 100, "42")
	assert.ErrorIs(t, err, ErrWithdrawalActive)
}

func TestWithdrawalRejectRefunds(t *testing.T) {
	store := newFakeStore()
	store.balances[7] = 100000
	gw := &fakePayGateway{balance: cryptopay.Balance{Available: 10000000}}
	ledgerRec := &fakeLedger{}
	w := newWithdrawals(store, gw, ledgerRec)

	wd, err := w.Create(context.Background(), 7, 60000, "42")
	require.NoError(t, err)

	rejected, err := w.Reject(context.Background(), wd.WithdrawalID, "suspicious")
	require.NoError(t, err)
	assert.Equal(t, db.WithdrawalRejected, rejected.Status)
	assert.Equal(t, "suspicious", rejected.Reason)
	assert.Equal(t, int64(100000), store.balances[7])
	assert.Empty(t, ledgerRec.withdrawals)
}

func TestWithdrawalCancelOnlyByOwner(t *testing.T) {
	store := newFakeStore()
	store.balances[7] = 100000
	gw := &fakePayGateway{balance: cryptopay.Balance{Available: 10000000}}
	w := newWithdrawals(store, gw, &fakeLedger{})

	wd, err := w.Create(context.Background(), 7, 60000, "42")
	require.NoError(t, err)

	_, err = w.Cancel(context.Background(), wd.WithdrawalID, 8, "not mine")
	assert.ErrorIs(t, err, ErrNotOwner)

	cancelled, err := w.Cancel(context.Background(), wd.WithdrawalID, 7, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, db.WithdrawalRejected, cancelled.Status)
	assert.Equal(t, int64(100000), store.balances[7])
}

func TestWithdrawalValidation(t *testing.T) {
	store := newFakeStore()
	store.balances[7] = 100000
	gw := &fakePayGateway{balance: cryptopay.Balance{Available: 10000000}}
	w := newWithdrawals(store, gw, &fakeLedger{})
	ctx := context.Background()

	_, err := w.Create(ctx, 7, 5, "42")
	assert.ErrorIs(t, err, ErrAmountOutOfRange)

	_, err = w.Create(ctx, 7, 999999, "42")
	assert.ErrorIs(t, err, ErrAmountOutOfRange)

	_, err = w.Create(ctx, 7, 1000, "@username")
	assert.ErrorIs(t, err, ErrBadRecipient)
}

func TestDepositConfirmOnce(t *testing.T) {
	store := newFakeStore()
	gw := &fakePayGateway{}
	ledgerRec := &fakeLedger{}
	d := NewDeposits(store, ledgerRec, gw, events.NewBus(), 10, zap.NewNop())
	ctx := context.Background()

	inv, err := d.CreateInvoice(ctx, 7, 100)
	require.NoError(t, err)

	// Gateway reports it paid with a 3 unit fee.
	paid := inv
	paid.Status = cryptopay.InvoicePaid
	paid.Fee = 3

	require.NoError(t, d.Confirm(ctx, paid))
	require.NoError(t, d.Confirm(ctx, paid), "second confirmation is a no-op")

	assert.Equal(t, int64(97), store.balances[7], "net credited exactly once")
	require.Len(t, ledgerRec.deposits, 1)
	assert.Equal(t, [3]int64{100, 97, 3}, ledgerRec.deposits[0])

	dep, err := store.GetDepositByInvoice(ctx, inv.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, db.DepositPaid, dep.Status)
}

func TestDepositCheckExpired(t *testing.T) {
	store := newFakeStore()
	gw := &fakePayGateway{}
	d := NewDeposits(store, &fakeLedger{}, gw, events.NewBus(), 10, zap.NewNop())
	ctx := context.Background()

	inv, err := d.CreateInvoice(ctx, 7, 100)
	require.NoError(t, err)

	expired := gw.invoices[inv.InvoiceID]
	expired.Status = cryptopay.InvoiceExpired
	gw.invoices[inv.InvoiceID] = expired

	dep, err := d.Check(ctx, inv.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, db.DepositExpired, dep.Status)
	assert.Zero(t, store.balances[7])
}
