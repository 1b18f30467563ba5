package payments

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"tgcasino/internal/cryptopay"
	"tgcasino/internal/db"
	"tgcasino/internal/events"
)

var ErrDepositAmount = errors.New("payments: deposit amount out of range")

// Deposits opens gateway invoices and confirms them, from webhook push
// or status poll. Confirmation is idempotent: the pending->paid
// transition happens exactly once no matter how many times either path
// fires.
type Deposits struct {
	store     Store
	ledger    Ledger
	gateway   Gateway
	bus       *events.Bus
	minAmount int64
	log       *zap.Logger
}

func NewDeposits(store Store, ledger Ledger, gateway Gateway, bus *events.Bus, minAmount int64, log *zap.Logger) *Deposits {
	return &Deposits{store: store, ledger: ledger, gateway: gateway, bus: bus, minAmount: minAmount, log: log}
}

// CreateInvoice opens a gateway invoice for the user and records the
// pending deposit.
func (d *Deposits) CreateInvoice(ctx context.Context, userID, amount int64) (cryptopay.Invoice, error) {
	if amount < d.minAmount {
		return cryptopay.Invoice{}, ErrDepositAmount
	}
	invoice, err := d.gateway.CreateInvoice(ctx, amount, strconv.FormatInt(userID, 10))
	if err != nil {
		return cryptopay.Invoice{}, pkgerrors.Wrap(err, "create invoice")
	}
	if _, err := d.store.CreateDeposit(ctx, userID, invoice.InvoiceID, amount, invoice.Asset); err != nil {
		return cryptopay.Invoice{}, pkgerrors.Wrap(err, "record deposit")
	}
	return invoice, nil
}

// Confirm settles a paid invoice: credit the net amount, mark the
// deposit paid, then report the gross/net/fee split to the ledger. A
// second confirmation of the same invoice is a no-op.
func (d *Deposits) Confirm(ctx context.Context, invoice cryptopay.Invoice) error {
	if invoice.Status != cryptopay.InvoicePaid {
		return nil
	}
	paidAt := invoice.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	net := invoice.Amount - invoice.Fee

	var dep db.Deposit
	err := d.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		dep, err = d.store.MarkDepositPaidTx(ctx, tx, invoice.InvoiceID, net, invoice.Fee, paidAt)
		return err
	})
	if errors.Is(err, db.ErrConflict) {
		// Webhook and poller raced; the other one won.
		return nil
	}
	if err != nil {
		return pkgerrors.Wrap(err, "confirm deposit")
	}

	if err := d.ledger.DepositConfirmed(ctx, dep.Amount, dep.NetAmount, dep.Fee); err != nil {
		d.log.Error("deposit ledger update failed",
			zap.Int64("invoice_id", invoice.InvoiceID), zap.Error(err))
	}
	d.bus.Publish(events.TypeDeposit, map[string]any{
		"user_id":    dep.UserID,
		"invoice_id": dep.InvoiceID,
		"amount":     dep.Amount,
		"net":        dep.NetAmount,
	})
	return nil
}

// HandleWebhook settles the invoice carried by a verified gateway push.
func (d *Deposits) HandleWebhook(ctx context.Context, update cryptopay.WebhookUpdate) error {
	if update.UpdateType != "invoice_paid" {
		return nil
	}
	invoice, err := update.PaidInvoice()
	if err != nil {
		return pkgerrors.Wrap(err, "webhook invoice")
	}
	return d.Confirm(ctx, invoice)
}

// Check polls the gateway for an invoice the webhook may have missed.
func (d *Deposits) Check(ctx context.Context, invoiceID int64) (db.Deposit, error) {
	invoice, err := d.gateway.GetInvoice(ctx, invoiceID)
	if err != nil {
		return db.Deposit{}, pkgerrors.Wrap(err, "poll invoice")
	}
	switch invoice.Status {
	case cryptopay.InvoicePaid:
		if err := d.Confirm(ctx, invoice); err != nil {
			return db.Deposit{}, err
		}
	case cryptopay.InvoiceExpired:
		if err := d.store.MarkDepositClosed(ctx, invoiceID, db.DepositExpired); err != nil && !errors.Is(err, db.ErrConflict) {
			return db.Deposit{}, pkgerrors.Wrap(err, "close expired deposit")
		}
	}
	return d.store.GetDepositByInvoice(ctx, invoiceID)
}

// ListForUser is the user's deposit history.
func (d *Deposits) ListForUser(ctx context.Context, userID, limit int64) ([]db.Deposit, error) {
	return d.store.ListDeposits(ctx, userID, limit)
}
