package ledger

import (
	"time"
)

// GameStat is one game type's lifetime totals.
type GameStat struct {
	TotalGames int64 `json:"total_games"`
	TotalBets  int64 `json:"total_bets"`
	TotalWins  int64 `json:"total_wins"`
	Profit     int64 `json:"profit"`
}

// CommissionBreakdown splits house commissions by source. Events
// commission is the profit of the event game category.
type CommissionBreakdown struct {
	Duels  int64 `json:"duels"`
	Events int64 `json:"events"`
}

// Warnings are pure functions of the rest of the state. They are never
// set directly; checkWarnings derives them on every persist.
type Warnings struct {
	LowReserve          bool `json:"low_reserve"`
	HighRiskRatio       bool `json:"high_risk_ratio"`
	NegativeOperational bool `json:"negative_operational"`
}

// HistoryEntry is one line of the bounded mutation log.
type HistoryEntry struct {
	At     time.Time `json:"at"`
	Op     string    `json:"op"`
	Amount int64     `json:"amount"`
	Note   string    `json:"note,omitempty"`
}

// State is the aggregate financial record of the platform. One durable
// row per deployment. OperationalBalance is house profit/loss, not a
// cash balance: deposit and withdrawal principal never flows through
// it.
//
// ReserveBalance, AvailableForWithdrawal and Warnings are derived; the
// store recomputes them on every mutation so they can never be stale
// relative to the totals they are computed from.
type State struct {
	TotalUserBalance   int64 `json:"total_user_balance"`
	OperationalBalance int64 `json:"operational_balance"`

	ReservePercentage      int64 `json:"reserve_percentage"`
	ReserveBalance         int64 `json:"reserve_balance"`
	AvailableForWithdrawal int64 `json:"available_for_withdrawal"`

	TotalDeposits    int64 `json:"total_deposits"`
	TotalWithdrawals int64 `json:"total_withdrawals"`

	TotalBets int64               `json:"total_bets"`
	TotalWins int64               `json:"total_wins"`
	GameStats map[string]GameStat `json:"game_stats"`

	TotalCommissions    int64               `json:"total_commissions"`
	CommissionBreakdown CommissionBreakdown `json:"commission_breakdown"`

	TotalPromocodeExpenses int64 `json:"total_promocode_expenses"`
	TotalCryptoBotFees     int64 `json:"total_cryptobot_fees"`
	TotalOwnerWithdrawals  int64 `json:"total_owner_withdrawals"`
	TotalReferralPayments  int64 `json:"total_referral_payments"`

	Warnings Warnings `json:"warnings"`

	LastCalculated      time.Time  `json:"last_calculated"`
	LastOwnerWithdrawal *time.Time `json:"last_owner_withdrawal,omitempty"`

	History []HistoryEntry `json:"history"`
}

// refreshDerived recomputes every derived field from the totals. Called
// by the store after each mutation, before the single persist write.
func (s *State) refreshDerived() {
	s.calculateReserve()
	s.checkWarnings()
}

// calculateReserve holds back ReservePercentage of user liabilities;
// what remains of the operational balance is free for the owner.
func (s *State) calculateReserve() {
	s.ReserveBalance = s.TotalUserBalance * s.ReservePercentage / 100
	s.AvailableForWithdrawal = s.OperationalBalance - s.ReserveBalance
	if s.AvailableForWithdrawal < 0 {
		s.AvailableForWithdrawal = 0
	}
}

// Warning thresholds. Policy, not correctness: the flags only have to
// be deterministic functions of the current totals.
const (
	lowReserveCoveragePct = 10 // available below 10% of operational
	highRiskExposurePct   = 80 // liabilities above 80% of custody
)

func (s *State) checkWarnings() {
	s.Warnings.NegativeOperational = s.OperationalBalance < 0

	s.Warnings.LowReserve = s.OperationalBalance > 0 &&
		s.AvailableForWithdrawal*100 < s.OperationalBalance*lowReserveCoveragePct

	custody := s.OperationalBalance + s.TotalUserBalance
	s.Warnings.HighRiskRatio = custody > 0 &&
		s.TotalUserBalance*100 > custody*highRiskExposurePct
}

// appendHistory logs one mutation, newest last, dropping the oldest
// entries past limit.
func (s *State) appendHistory(limit int, e HistoryEntry) {
	s.History = append(s.History, e)
	if limit > 0 && len(s.History) > limit {
		s.History = s.History[len(s.History)-limit:]
	}
}
