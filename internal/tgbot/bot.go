package tgbot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tgcasino/internal/ledger"
	"tgcasino/internal/payments"
	"tgcasino/internal/reconcile"
)

// Bot is the operator surface: ledger snapshots, recalculation and
// reconciliation triggers, withdrawal approvals. Only the configured
// admin chat is answered.
type Bot struct {
	api         *tgbotapi.BotAPI
	adminID     int64
	ledger      *ledger.Service
	monitor     *reconcile.Monitor
	withdrawals *payments.Withdrawals
	log         *zap.Logger
}

func New(token string, adminID int64, l *ledger.Service, m *reconcile.Monitor, w *payments.Withdrawals, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("tgbot: init: %w", err)
	}
	return &Bot{api: api, adminID: adminID, ledger: l, monitor: m, withdrawals: w, log: log}, nil
}

// SetMonitor wires the reconciliation monitor after construction. The bot is
// the monitor's critical-alert notifier, so one of the two has to come first.
func (b *Bot) SetMonitor(m *reconcile.Monitor) { b.monitor = m }

// Run polls updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)
	b.log.Info("operator bot polling", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != b.adminID {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	var reply string
	switch msg.Command() {
	case "ledger":
		reply = b.ledgerSnapshot(ctx)
	case "recalc":
		reply = b.recalculate(ctx)
	case "reconcile":
		reply = b.reconcile(ctx)
	case "withdrawals":
		reply = b.pendingWithdrawals(ctx)
	case "approve":
		reply = b.approve(ctx, msg.CommandArguments())
	case "reject":
		reply = b.reject(ctx, msg.CommandArguments())
	default:
		reply = "Commands: /ledger /recalc /reconcile /withdrawals /approve <id> /reject <id> [reason]"
	}
	b.send(reply)
}

func (b *Bot) ledgerSnapshot(ctx context.Context) string {
	s, err := b.ledger.Snapshot(ctx)
	if err != nil {
		return "ledger snapshot failed: " + err.Error()
	}
	return formatState(s)
}

func (b *Bot) recalculate(ctx context.Context) string {
	s, err := b.ledger.Recalculate(ctx)
	if err != nil {
		return "recalculation failed: " + err.Error()
	}
	return "recalculated\n" + formatState(s)
}

func (b *Bot) reconcile(ctx context.Context) string {
	r, err := b.monitor.Run(ctx)
	if err != nil {
		return "reconciliation failed: " + err.Error()
	}
	return formatReport(r)
}

func (b *Bot) pendingWithdrawals(ctx context.Context) string {
	list, err := b.withdrawals.List(ctx, "pending", 20)
	if err != nil {
		return "list failed: " + err.Error()
	}
	if len(list) == 0 {
		return "no pending withdrawals"
	}
	var sb strings.Builder
	for _, w := range list {
		fmt.Fprintf(&sb, "%s  user=%d  %s (fee %s)\n",
			w.WithdrawalID, w.UserID, formatAmount(w.Amount), formatAmount(w.Fee))
	}
	return sb.String()
}

func (b *Bot) approve(ctx context.Context, args string) string {
	id, err := uuid.Parse(strings.TrimSpace(args))
	if err != nil {
		return "usage: /approve <withdrawal id>"
	}
	w, err := b.withdrawals.Approve(ctx, id)
	if err != nil {
		return "approve failed: " + err.Error()
	}
	return fmt.Sprintf("withdrawal %s -> %s", w.WithdrawalID, w.Status)
}

func (b *Bot) reject(ctx context.Context, args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "usage: /reject <withdrawal id> [reason]"
	}
	id, err := uuid.Parse(fields[0])
	if err != nil {
		return "usage: /reject <withdrawal id> [reason]"
	}
	reason := "rejected by operator"
	if len(fields) > 1 {
		reason = strings.Join(fields[1:], " ")
	}
	w, err := b.withdrawals.Reject(ctx, id, reason)
	if err != nil {
		return "reject failed: " + err.Error()
	}
	return fmt.Sprintf("withdrawal %s rejected, %s refunded", w.WithdrawalID, formatAmount(w.Amount))
}

// NotifyCritical pushes a critical reconciliation report to the admin
// chat. Satisfies reconcile.Notifier.
func (b *Bot) NotifyCritical(ctx context.Context, r reconcile.Report) error {
	msg := tgbotapi.NewMessage(b.adminID, "CRITICAL DISCREPANCY\n"+formatReport(r))
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) send(text string) {
	if text == "" {
		return
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(b.adminID, text)); err != nil {
		b.log.Warn("tgbot send failed", zap.Error(err))
	}
}
