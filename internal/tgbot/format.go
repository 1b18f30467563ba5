package tgbot

import (
	"fmt"
	"strings"

	"tgcasino/internal/ledger"
	"tgcasino/internal/reconcile"
)

// formatAmount renders minor units as a decimal string.
func formatAmount(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func formatState(s ledger.State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "user balance: %s\n", formatAmount(s.TotalUserBalance))
	fmt.Fprintf(&sb, "operational: %s\n", formatAmount(s.OperationalBalance))
	fmt.Fprintf(&sb, "reserve (%d%%): %s\n", s.ReservePercentage, formatAmount(s.ReserveBalance))
	fmt.Fprintf(&sb, "available for owner: %s\n", formatAmount(s.AvailableForWithdrawal))
	fmt.Fprintf(&sb, "deposits: %s  withdrawals: %s\n", formatAmount(s.TotalDeposits), formatAmount(s.TotalWithdrawals))
	fmt.Fprintf(&sb, "bets: %s  wins: %s\n", formatAmount(s.TotalBets), formatAmount(s.TotalWins))
	fmt.Fprintf(&sb, "commissions: %s  promo: %s\n", formatAmount(s.TotalCommissions), formatAmount(s.TotalPromocodeExpenses))
	fmt.Fprintf(&sb, "gateway fees: %s  owner draws: %s\n", formatAmount(s.TotalCryptoBotFees), formatAmount(s.TotalOwnerWithdrawals))
	if s.Warnings.NegativeOperational {
		sb.WriteString("warning: operational balance is negative\n")
	}
	if s.Warnings.LowReserve {
		sb.WriteString("warning: low reserve coverage\n")
	}
	if s.Warnings.HighRiskRatio {
		sb.WriteString("warning: high exposure to user liabilities\n")
	}
	fmt.Fprintf(&sb, "calculated: %s", s.LastCalculated.Format("2006-01-02 15:04:05 MST"))
	return sb.String()
}

func formatReport(r reconcile.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "status: %s  severity: %s\n", r.Status, r.Severity)
	if r.Error != "" {
		fmt.Fprintf(&sb, "error: %s\n", r.Error)
	}
	fmt.Fprintf(&sb, "gateway: %s (onhold %s)\n", formatAmount(r.GatewayBalance.Total), formatAmount(r.GatewayBalance.OnHold))
	fmt.Fprintf(&sb, "expected: %s (alt %s)\n", formatAmount(r.Expected.Expected), formatAmount(r.Expected.Alternative))
	fmt.Fprintf(&sb, "discrepancy: %s\n", formatAmount(r.Discrepancy))
	for _, a := range r.Analysis {
		fmt.Fprintf(&sb, "- %s\n", a)
	}
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&sb, "> %s\n", rec)
	}
	return strings.TrimRight(sb.String(), "\n")
}
