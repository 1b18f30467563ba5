package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tgcasino/internal/cryptopay"
	"tgcasino/internal/ledger"
)

// Gateway is the custody oracle. GetBalance may fail; a failure becomes
// a Status "error" report, never a crash.
type Gateway interface {
	GetBalance(ctx context.Context) (cryptopay.Balance, error)
}

// Snapshotter yields the current ledger state, recalculating first if
// it is stale. The monitor only reads.
type Snapshotter interface {
	Snapshot(ctx context.Context) (ledger.State, error)
}

// History persists finished reports, newest first, capped.
type History interface {
	Push(ctx context.Context, r Report) error
	List(ctx context.Context, offset, limit int64) ([]Report, error)
}

// Notifier delivers critical alerts. Fire-and-forget: its errors are
// logged and dropped.
type Notifier interface {
	NotifyCritical(ctx context.Context, r Report) error
}

// Thresholds classify the absolute discrepancy.
type Thresholds struct {
	Minor    int64 // at or below: ok
	Critical int64 // above: critical
}

// Monitor compares the gateway's custody balance with what the ledger
// says it should hold. Read-only with respect to ledger state, so it is
// safe to run concurrently with update operations.
type Monitor struct {
	gateway    Gateway
	ledger     Snapshotter
	history    History
	notifier   Notifier
	thresholds Thresholds
	log        *zap.Logger
}

func NewMonitor(gateway Gateway, snap Snapshotter, history History, notifier Notifier, thresholds Thresholds, log *zap.Logger) *Monitor {
	return &Monitor{
		gateway:    gateway,
		ledger:     snap,
		history:    history,
		notifier:   notifier,
		thresholds: thresholds,
		log:        log,
	}
}

// Run performs one reconciliation pass and persists the report.
func (m *Monitor) Run(ctx context.Context) (Report, error) {
	type balanceResult struct {
		balance cryptopay.Balance
		err     error
	}
	balanceCh := make(chan balanceResult, 1)
	go func() {
		b, err := m.gateway.GetBalance(ctx)
		balanceCh <- balanceResult{b, err}
	}()

	state, stateErr := m.ledger.Snapshot(ctx)
	gw := <-balanceCh

	report := Report{Timestamp: time.Now().UTC()}
	switch {
	case stateErr != nil:
		report.Status = StatusError
		report.Severity = SeverityUnknown
		report.Error = fmt.Sprintf("ledger snapshot: %v", stateErr)
	case gw.err != nil:
		report.Status = StatusError
		report.Severity = SeverityUnknown
		report.Expected = expectedFrom(state)
		report.Error = fmt.Sprintf("gateway balance: %v", gw.err)
		report.Analysis = []string{"gateway balance unavailable; custody cannot be verified this run"}
		report.Recommendations = []string{"retry; if the gateway stays unreachable, halt withdrawals until custody is verified"}
	default:
		report = m.evaluate(state, gw.balance)
	}

	if err := m.history.Push(ctx, report); err != nil {
		m.log.Warn("reconcile: persist report failed", zap.Error(err))
	}
	if report.Severity == SeverityCritical && m.notifier != nil {
		if err := m.notifier.NotifyCritical(ctx, report); err != nil {
			m.log.Warn("reconcile: critical alert failed", zap.Error(err))
		}
	}

	m.log.Info("reconciliation run",
		zap.String("status", report.Status),
		zap.String("severity", report.Severity),
		zap.Int64("discrepancy", report.Discrepancy))
	return report, nil
}

func expectedFrom(s ledger.State) ExpectedBalance {
	return ExpectedBalance{
		Expected:              s.TotalDeposits - s.TotalWithdrawals - s.TotalOwnerWithdrawals,
		Alternative:           s.OperationalBalance + s.TotalUserBalance,
		TotalDeposits:         s.TotalDeposits,
		TotalWithdrawals:      s.TotalWithdrawals,
		TotalOwnerWithdrawals: s.TotalOwnerWithdrawals,
		OperationalBalance:    s.OperationalBalance,
		TotalUserBalance:      s.TotalUserBalance,
	}
}

func (m *Monitor) evaluate(state ledger.State, gw cryptopay.Balance) Report {
	expected := expectedFrom(state)
	discrepancy := gw.Total - expected.Expected
	abs := discrepancy
	if abs < 0 {
		abs = -abs
	}

	r := Report{
		Timestamp:      time.Now().UTC(),
		Status:         StatusOK,
		GatewayBalance: gw,
		Expected:       expected,
		Discrepancy:    discrepancy,
		Severity:       m.classify(abs),
	}

	// Logic checks override the numeric classification: these are not
	// drift, they are impossible states.
	if expected.TotalUserBalance > gw.Total {
		r.LogicViolation = true
		r.Severity = SeverityCritical
		r.Analysis = append(r.Analysis,
			fmt.Sprintf("user liabilities (%d) exceed gateway custody (%d): funds owed cannot be covered", expected.TotalUserBalance, gw.Total))
	}
	if expected.Expected < 0 {
		r.LogicViolation = true
		r.Severity = SeverityCritical
		r.Analysis = append(r.Analysis,
			fmt.Sprintf("expected balance is negative (%d): recorded withdrawals exceed recorded deposits", expected.Expected))
	}

	// The two derivations should agree with each other regardless of
	// the gateway; mutual disagreement points at a ledger bug, not a
	// custody problem.
	crossDiff := expected.Expected - expected.Alternative
	if crossDiff < 0 {
		crossDiff = -crossDiff
	}
	if crossDiff > m.thresholds.Minor {
		r.Analysis = append(r.Analysis,
			fmt.Sprintf("internal derivations disagree: cash-flow expected %d vs liability-sum %d; run a full recalculation", expected.Expected, expected.Alternative))
	}

	switch {
	case discrepancy > 0 && r.Severity != SeverityOK:
		r.Analysis = append(r.Analysis,
			"gateway holds more than expected: possible unrecorded deposits, or fees counted that the gateway never charged")
	case discrepancy < 0 && r.Severity != SeverityOK:
		r.Analysis = append(r.Analysis,
			"gateway holds less than expected: possible unrecorded withdrawals, missed gateway fees, or in-flight transfers")
	}

	switch r.Severity {
	case SeverityOK, SeverityMinor:
		r.Recommendations = append(r.Recommendations, "routine: no action required")
	case SeverityModerate:
		r.Recommendations = append(r.Recommendations, "investigate recent transactions and gateway fee records")
	case SeverityCritical:
		r.Recommendations = append(r.Recommendations, "halt withdrawals and escalate; audit ledger against gateway statement")
	}
	return r
}

func (m *Monitor) classify(abs int64) string {
	minorUpper := m.thresholds.Minor * 10
	if minorUpper >= m.thresholds.Critical {
		minorUpper = m.thresholds.Minor
	}
	switch {
	case abs <= m.thresholds.Minor:
		return SeverityOK
	case abs <= minorUpper:
		return SeverityMinor
	case abs <= m.thresholds.Critical:
		return SeverityModerate
	default:
		return SeverityCritical
	}
}

// RunPeriodically reconciles on the interval until ctx is cancelled.
func (m *Monitor) RunPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Run(ctx); err != nil {
				m.log.Error("reconciliation run failed", zap.Error(err))
			}
		}
	}
}
