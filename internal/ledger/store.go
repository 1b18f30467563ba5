package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"tgcasino/internal/db"
)

// Store persists the singleton State. Update serializes concurrent
// mutators and recomputes derived fields before the single write, so a
// persisted state can never carry a stale reserve or warning set.
type Store interface {
	Get(ctx context.Context) (State, error)
	Update(ctx context.Context, fn func(s *State) error) error
}

// PGStore keeps the state in one Postgres row, locked FOR UPDATE for
// the duration of each mutation.
type PGStore struct {
	db           *db.DB
	reservePct   int64
	historyLimit int
}

func NewPGStore(d *db.DB, reservePct int64, historyLimit int) *PGStore {
	return &PGStore{db: d, reservePct: reservePct, historyLimit: historyLimit}
}

const stateCols = `total_user_balance, operational_balance, reserve_percentage, reserve_balance,
	available_for_withdrawal, total_deposits, total_withdrawals, total_bets, total_wins,
	total_commissions, total_promocode_expenses, total_cryptobot_fees, total_owner_withdrawals,
	total_referral_payments, game_stats, commission_breakdown, warnings, history,
	last_calculated, last_owner_withdrawal`

func scanState(row pgx.Row) (State, error) {
	var s State
	err := row.Scan(
		&s.TotalUserBalance, &s.OperationalBalance, &s.ReservePercentage, &s.ReserveBalance,
		&s.AvailableForWithdrawal, &s.TotalDeposits, &s.TotalWithdrawals, &s.TotalBets, &s.TotalWins,
		&s.TotalCommissions, &s.TotalPromocodeExpenses, &s.TotalCryptoBotFees, &s.TotalOwnerWithdrawals,
		&s.TotalReferralPayments, &s.GameStats, &s.CommissionBreakdown, &s.Warnings, &s.History,
		&s.LastCalculated, &s.LastOwnerWithdrawal,
	)
	if s.GameStats == nil {
		s.GameStats = map[string]GameStat{}
	}
	return s, err
}

func (p *PGStore) Get(ctx context.Context) (State, error) {
	if _, err := p.db.Pool.Exec(ctx, `
INSERT INTO ledger_state (id, reserve_percentage, last_calculated)
VALUES (1, $1, $2) ON CONFLICT (id) DO NOTHING
`, p.reservePct, time.Now().UTC()); err != nil {
		return State{}, fmt.Errorf("ledger: ensure state row: %w", err)
	}
	s, err := scanState(p.db.Pool.QueryRow(ctx,
		`SELECT `+stateCols+` FROM ledger_state WHERE id=1`))
	if err != nil {
		return State{}, fmt.Errorf("ledger: load state: %w", err)
	}
	return s, nil
}

func (p *PGStore) Update(ctx context.Context, fn func(s *State) error) error {
	return p.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO ledger_state (id, reserve_percentage, last_calculated)
VALUES (1, $1, $2) ON CONFLICT (id) DO NOTHING
`, p.reservePct, time.Now().UTC()); err != nil {
			return fmt.Errorf("ledger: ensure state row: %w", err)
		}

		s, err := scanState(tx.QueryRow(ctx,
			`SELECT `+stateCols+` FROM ledger_state WHERE id=1 FOR UPDATE`))
		if err != nil {
			return fmt.Errorf("ledger: lock state: %w", err)
		}

		if err := fn(&s); err != nil {
			return err
		}
		s.refreshDerived()
		if p.historyLimit > 0 && len(s.History) > p.historyLimit {
			s.History = s.History[len(s.History)-p.historyLimit:]
		}

		_, err = tx.Exec(ctx, `
UPDATE ledger_state SET
	total_user_balance=$1, operational_balance=$2, reserve_percentage=$3, reserve_balance=$4,
	available_for_withdrawal=$5, total_deposits=$6, total_withdrawals=$7, total_bets=$8,
	total_wins=$9, total_commissions=$10, total_promocode_expenses=$11, total_cryptobot_fees=$12,
	total_owner_withdrawals=$13, total_referral_payments=$14, game_stats=$15,
	commission_breakdown=$16, warnings=$17, history=$18, last_calculated=$19,
	last_owner_withdrawal=$20
WHERE id=1
`,
			s.TotalUserBalance, s.OperationalBalance, s.ReservePercentage, s.ReserveBalance,
			s.AvailableForWithdrawal, s.TotalDeposits, s.TotalWithdrawals, s.TotalBets,
			s.TotalWins, s.TotalCommissions, s.TotalPromocodeExpenses, s.TotalCryptoBotFees,
			s.TotalOwnerWithdrawals, s.TotalReferralPayments, s.GameStats,
			s.CommissionBreakdown, s.Warnings, s.History, s.LastCalculated,
			s.LastOwnerWithdrawal,
		)
		if err != nil {
			return fmt.Errorf("ledger: persist state: %w", err)
		}
		return nil
	})
}

// MemStore holds the state in memory behind a mutex. Used by tests and
// available as a degraded mode when no database is configured.
type MemStore struct {
	mu           sync.Mutex
	state        State
	historyLimit int
}

func NewMemStore(reservePct int64, historyLimit int) *MemStore {
	return &MemStore{
		state: State{
			ReservePercentage: reservePct,
			GameStats:         map[string]GameStat{},
			LastCalculated:    time.Now().UTC(),
		},
		historyLimit: historyLimit,
	}
}

func (m *MemStore) Get(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.state), nil
}

func (m *MemStore) Update(ctx context.Context, fn func(s *State) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := cloneState(m.state)
	if err := fn(&s); err != nil {
		return err
	}
	s.refreshDerived()
	if m.historyLimit > 0 && len(s.History) > m.historyLimit {
		s.History = s.History[len(s.History)-m.historyLimit:]
	}
	m.state = s
	return nil
}

func cloneState(s State) State {
	out := s
	out.GameStats = make(map[string]GameStat, len(s.GameStats))
	for k, v := range s.GameStats {
		out.GameStats[k] = v
	}
	out.History = append([]HistoryEntry(nil), s.History...)
	return out
}
