package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tgcasino/internal/cryptopay"
	"tgcasino/internal/db"
)

// Store is the slice of the system of record the settlement workflows
// touch. *db.DB satisfies it; tests use in-memory fakes.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error

	DebitUserTx(ctx context.Context, tx pgx.Tx, userID, amount int64) error
	CreditUserTx(ctx context.Context, tx pgx.Tx, userID, amount int64) error

	CreateWithdrawalTx(ctx context.Context, tx pgx.Tx, w db.Withdrawal) error
	HasActiveWithdrawal(ctx context.Context, userID int64) (bool, error)
	GetWithdrawal(ctx context.Context, id uuid.UUID) (db.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, id uuid.UUID, from, to, reason string) (db.Withdrawal, error)
	TransitionWithdrawalTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to, reason string) (db.Withdrawal, error)
	CompleteWithdrawal(ctx context.Context, id uuid.UUID, transferID int64) (db.Withdrawal, error)
	ListWithdrawals(ctx context.Context, status string, limit int64) ([]db.Withdrawal, error)
	ListUserWithdrawals(ctx context.Context, userID, limit int64) ([]db.Withdrawal, error)

	CreateDeposit(ctx context.Context, userID, invoiceID, amount int64, asset string) (int64, error)
	GetDepositByInvoice(ctx context.Context, invoiceID int64) (db.Deposit, error)
	MarkDepositPaidTx(ctx context.Context, tx pgx.Tx, invoiceID, netAmount, fee int64, paidAt time.Time) (db.Deposit, error)
	MarkDepositClosed(ctx context.Context, invoiceID int64, status string) error
	ListDeposits(ctx context.Context, userID, limit int64) ([]db.Deposit, error)
}

// Ledger is the aggregate write path the workflows report into.
type Ledger interface {
	DepositConfirmed(ctx context.Context, gross, net, fee int64) error
	WithdrawalCompleted(ctx context.Context, gross, fee int64) error
}

// Gateway is the external payment service. *cryptopay.Client satisfies
// it.
type Gateway interface {
	GetBalance(ctx context.Context) (cryptopay.Balance, error)
	SendTransfer(ctx context.Context, recipientID, amount int64, spendID string) (cryptopay.Transfer, error)
	CreateInvoice(ctx context.Context, amount int64, payload string) (cryptopay.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID int64) (cryptopay.Invoice, error)
	Asset() string
}
