package reconcile

import (
	"time"

	"tgcasino/internal/cryptopay"
)

// Report statuses.
const (
	StatusOK    = "ok"
	StatusError = "error" // gateway unreachable, balances unknown
)

// Severity levels, ordered.
const (
	SeverityOK       = "ok"
	SeverityMinor    = "minor"
	SeverityModerate = "moderate"
	SeverityCritical = "critical"
	SeverityUnknown  = "unknown"
)

// ExpectedBalance is the ledger-side derivation of what the gateway
// should hold, with the breakdown it was computed from. Expected uses
// the cash-flow formula; Alternative is the liability formula
// (operational + user balances). The two are independent derivations
// of the same number and cross-check each other.
type ExpectedBalance struct {
	Expected    int64 `json:"expected"`
	Alternative int64 `json:"alternative"`

	TotalDeposits         int64 `json:"total_deposits"`
	TotalWithdrawals      int64 `json:"total_withdrawals"`
	TotalOwnerWithdrawals int64 `json:"total_owner_withdrawals"`
	OperationalBalance    int64 `json:"operational_balance"`
	TotalUserBalance      int64 `json:"total_user_balance"`
}

// Report is one reconciliation run's outcome. Immutable after
// creation.
type Report struct {
	Timestamp       time.Time         `json:"timestamp"`
	Status          string            `json:"status"`
	GatewayBalance  cryptopay.Balance `json:"gateway_balance"`
	Expected        ExpectedBalance   `json:"expected"`
	Discrepancy     int64             `json:"discrepancy"` // gateway total - expected
	Severity        string            `json:"severity"`
	LogicViolation  bool              `json:"logic_violation"`
	Analysis        []string          `json:"analysis"`
	Recommendations []string          `json:"recommendations"`
	Error           string            `json:"error,omitempty"`
}
