package payments

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"tgcasino/internal/config"
	"tgcasino/internal/cryptopay"
	"tgcasino/internal/db"
	"tgcasino/internal/events"
)

var (
	ErrAmountOutOfRange = errors.New("payments: amount out of range")
	ErrBadRecipient     = errors.New("payments: recipient must be a telegram user id")
	ErrWithdrawalActive = errors.New("payments: another withdrawal is already in flight")
	ErrGatewayInsolvent = errors.New("payments: gateway balance below safety headroom")
	ErrNotOwner         = errors.New("payments: withdrawal belongs to another user")
)

// Withdrawals drives the withdrawal state machine:
// pending -> approved -> processing -> completed, with pending ->
// rejected and processing -> failed branches. A failed transfer always
// credits the debited amount back; the debit can never silently stick.
type Withdrawals struct {
	store   Store
	ledger  Ledger
	gateway Gateway
	bus     *events.Bus
	cfg     config.WithdrawConfig
	log     *zap.Logger
}

func NewWithdrawals(store Store, ledger Ledger, gateway Gateway, bus *events.Bus, cfg config.WithdrawConfig, log *zap.Logger) *Withdrawals {
	return &Withdrawals{store: store, ledger: ledger, gateway: gateway, bus: bus, cfg: cfg, log: log}
}

func (w *Withdrawals) feeFor(amount int64) int64 {
	return amount * w.cfg.FeePercent / 10000
}

func parseRecipient(recipient string) (int64, error) {
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrBadRecipient
	}
	return id, nil
}

// Create validates the request, reserves the gross amount with a
// conditional debit and opens the withdrawal in the same transaction.
// Amounts above the approval threshold wait for an operator; the rest
// go straight to processing.
func (w *Withdrawals) Create(ctx context.Context, userID, amount int64, recipient string) (db.Withdrawal, error) {
	if amount < w.cfg.MinAmount || amount > w.cfg.MaxAmount {
		return db.Withdrawal{}, ErrAmountOutOfRange
	}
	if _, err := parseRecipient(recipient); err != nil {
		return db.Withdrawal{}, err
	}
	active, err := w.store.HasActiveWithdrawal(ctx, userID)
	if err != nil {
		return db.Withdrawal{}, pkgerrors.Wrap(err, "check in-flight withdrawals")
	}
	if active {
		return db.Withdrawal{}, ErrWithdrawalActive
	}

	// Solvency headroom before touching the balance: the gateway must
	// hold the amount with margin to spare.
	balance, err := w.gateway.GetBalance(ctx)
	if err != nil {
		return db.Withdrawal{}, pkgerrors.Wrap(err, "gateway balance")
	}
	if float64(balance.Available) < float64(amount)*w.cfg.SafetyMargin {
		return db.Withdrawal{}, ErrGatewayInsolvent
	}

	fee := w.feeFor(amount)
	wd := db.Withdrawal{
		WithdrawalID:     uuid.New(),
		UserID:           userID,
		Amount:           amount,
		Fee:              fee,
		NetAmount:        amount - fee,
		Recipient:        recipient,
		Asset:            w.gateway.Asset(),
		Status:           db.WithdrawalApproved,
		RequiresApproval: amount >= w.cfg.ApprovalThreshold,
	}
	if wd.RequiresApproval {
		wd.Status = db.WithdrawalPending
	}

	err = w.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := w.store.DebitUserTx(ctx, tx, userID, amount); err != nil {
			return err
		}
		return w.store.CreateWithdrawalTx(ctx, tx, wd)
	})
	if err != nil {
		return db.Withdrawal{}, err
	}
	w.publish(wd)

	if !wd.RequiresApproval {
		return w.process(ctx, wd.WithdrawalID, db.WithdrawalApproved)
	}
	return wd, nil
}

// Approve moves an operator-held withdrawal on to the transfer.
func (w *Withdrawals) Approve(ctx context.Context, id uuid.UUID) (db.Withdrawal, error) {
	return w.process(ctx, id, db.WithdrawalPending)
}

// process runs the external transfer leg: from -> processing ->
// completed, or -> failed with a compensating refund.
func (w *Withdrawals) process(ctx context.Context, id uuid.UUID, from string) (db.Withdrawal, error) {
	wd, err := w.store.TransitionWithdrawal(ctx, id, from, db.WithdrawalProcessing, "")
	if err != nil {
		return db.Withdrawal{}, err
	}
	w.publish(wd)
	return w.execute(ctx, wd)
}

// execute sends the transfer for a withdrawal already in processing
// and settles it either way. Safe to re-run: the withdrawal id is the
// gateway spend_id, so a transfer that already went out comes back as
// a duplicate instead of paying twice.
func (w *Withdrawals) execute(ctx context.Context, wd db.Withdrawal) (db.Withdrawal, error) {
	recipientID, err := parseRecipient(wd.Recipient)
	if err != nil {
		return w.fail(ctx, wd, "invalid recipient")
	}

	transfer, err := w.gateway.SendTransfer(ctx, recipientID, wd.NetAmount, wd.WithdrawalID.String())
	switch {
	case errors.Is(err, cryptopay.ErrDuplicateSpendID):
		// The money left on an earlier attempt that crashed before the
		// row was closed. Complete, never refund.
		w.log.Warn("withdrawal transfer already sent, completing",
			zap.String("withdrawal_id", wd.WithdrawalID.String()))
	case err != nil:
		w.log.Warn("withdrawal transfer failed",
			zap.String("withdrawal_id", wd.WithdrawalID.String()), zap.Error(err))
		return w.fail(ctx, wd, err.Error())
	}

	completed, err := w.store.CompleteWithdrawal(ctx, wd.WithdrawalID, transfer.TransferID)
	if err != nil {
		return db.Withdrawal{}, pkgerrors.Wrap(err, "record completed withdrawal")
	}
	if err := w.ledger.WithdrawalCompleted(ctx, completed.Amount, completed.Fee); err != nil {
		w.log.Error("withdrawal ledger update failed",
			zap.String("withdrawal_id", wd.WithdrawalID.String()), zap.Error(err))
	}
	w.publish(completed)
	return completed, nil
}

// RecoverStuck re-drives withdrawals left in processing by a crash
// between the status transition and the gateway call. Run once at
// boot, before the API starts taking traffic.
func (w *Withdrawals) RecoverStuck(ctx context.Context) error {
	stuck, err := w.store.ListWithdrawals(ctx, db.WithdrawalProcessing, 200)
	if err != nil {
		return pkgerrors.Wrap(err, "list stuck withdrawals")
	}
	for _, wd := range stuck {
		w.log.Info("re-driving stuck withdrawal",
			zap.String("withdrawal_id", wd.WithdrawalID.String()),
			zap.Int64("user_id", wd.UserID))
		if _, err := w.execute(ctx, wd); err != nil {
			w.log.Error("stuck withdrawal recovery failed",
				zap.String("withdrawal_id", wd.WithdrawalID.String()), zap.Error(err))
		}
	}
	return nil
}

// fail marks the withdrawal failed and refunds the gross debit in one
// transaction. The refund is the priority: if this transaction cannot
// commit, the error escalates loudly instead of leaving the user short.
func (w *Withdrawals) fail(ctx context.Context, wd db.Withdrawal, reason string) (db.Withdrawal, error) {
	var failed db.Withdrawal
	err := w.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		failed, err = w.store.TransitionWithdrawalTx(ctx, tx, wd.WithdrawalID, db.WithdrawalProcessing, db.WithdrawalFailed, reason)
		if err != nil {
			return err
		}
		return w.store.CreditUserTx(ctx, tx, wd.UserID, wd.Amount)
	})
	if err != nil {
		w.log.Error("withdrawal refund failed, user debited without payout",
			zap.String("withdrawal_id", wd.WithdrawalID.String()),
			zap.Int64("user_id", wd.UserID),
			zap.Int64("amount", wd.Amount),
			zap.Error(err))
		w.bus.Publish(events.TypeCriticalAlert, map[string]any{
			"reason":        "withdrawal refund failed",
			"withdrawal_id": wd.WithdrawalID.String(),
			"user_id":       wd.UserID,
			"amount":        wd.Amount,
		})
		return db.Withdrawal{}, pkgerrors.Wrap(err, "compensating refund")
	}
	w.publish(failed)
	return failed, nil
}

// Reject refunds and closes a pending withdrawal (operator decision).
func (w *Withdrawals) Reject(ctx context.Context, id uuid.UUID, reason string) (db.Withdrawal, error) {
	return w.reject(ctx, id, reason)
}

// Cancel is a user-initiated rejection, allowed from pending only.
func (w *Withdrawals) Cancel(ctx context.Context, id uuid.UUID, userID int64, reason string) (db.Withdrawal, error) {
	wd, err := w.store.GetWithdrawal(ctx, id)
	if err != nil {
		return db.Withdrawal{}, err
	}
	if wd.UserID != userID {
		return db.Withdrawal{}, ErrNotOwner
	}
	return w.reject(ctx, id, reason)
}

func (w *Withdrawals) reject(ctx context.Context, id uuid.UUID, reason string) (db.Withdrawal, error) {
	var rejected db.Withdrawal
	err := w.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		rejected, err = w.store.TransitionWithdrawalTx(ctx, tx, id, db.WithdrawalPending, db.WithdrawalRejected, reason)
		if err != nil {
			return err
		}
		// The money never left the system; no ledger operation.
		return w.store.CreditUserTx(ctx, tx, rejected.UserID, rejected.Amount)
	})
	if err != nil {
		return db.Withdrawal{}, err
	}
	w.publish(rejected)
	return rejected, nil
}

// List is the operator view, optionally filtered by status.
func (w *Withdrawals) List(ctx context.Context, status string, limit int64) ([]db.Withdrawal, error) {
	return w.store.ListWithdrawals(ctx, status, limit)
}

// ListForUser is the owner's history.
func (w *Withdrawals) ListForUser(ctx context.Context, userID, limit int64) ([]db.Withdrawal, error) {
	return w.store.ListUserWithdrawals(ctx, userID, limit)
}

func (w *Withdrawals) publish(wd db.Withdrawal) {
	w.bus.Publish(events.TypeWithdrawal, map[string]any{
		"withdrawal_id": wd.WithdrawalID.String(),
		"user_id":       wd.UserID,
		"amount":        wd.Amount,
		"status":        wd.Status,
	})
}
