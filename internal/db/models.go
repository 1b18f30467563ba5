package db

import (
	"time"

	"github.com/google/uuid"
)

// User is the authoritative per-user balance record. The ledger treats
// it as the system of record during recalculation; all mutations go
// through conditional updates so a balance can never go negative.
type User struct {
	UserID          int64     `json:"user_id"`
	Username        string    `json:"username"`
	FirstName       string    `json:"first_name"`
	Balance         int64     `json:"balance"`
	ReferralBalance int64     `json:"referral_balance"`
	ReferredBy      *int64    `json:"referred_by,omitempty"`
	IsBlocked       bool      `json:"is_blocked"`
	CreatedAt       time.Time `json:"created_at"`
}

// Deposit statuses: pending -> paid | failed | expired. A deposit
// transitions to a terminal status exactly once.
type Deposit struct {
	DepositID int64      `json:"deposit_id"`
	UserID    int64      `json:"user_id"`
	InvoiceID int64      `json:"invoice_id"`
	Amount    int64      `json:"amount"`     // gross, minor units
	NetAmount int64      `json:"net_amount"` // credited to the user
	Fee       int64      `json:"fee"`        // gateway fee
	Asset     string     `json:"asset"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// Withdrawal statuses: pending -> approved -> processing -> completed,
// pending -> rejected, processing -> failed (then refunded).
type Withdrawal struct {
	WithdrawalID     uuid.UUID `json:"withdrawal_id"`
	UserID           int64     `json:"user_id"`
	Amount           int64     `json:"amount"` // gross, debited from the user
	Fee              int64     `json:"fee"`
	NetAmount        int64     `json:"net_amount"` // sent to the recipient
	Recipient        string    `json:"recipient"`
	Asset            string    `json:"asset"`
	Status           string    `json:"status"`
	RequiresApproval bool      `json:"requires_approval"`
	TransferID       *int64    `json:"transfer_id,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const (
	WithdrawalPending    = "pending"
	WithdrawalApproved   = "approved"
	WithdrawalProcessing = "processing"
	WithdrawalCompleted  = "completed"
	WithdrawalRejected   = "rejected"
	WithdrawalFailed     = "failed"

	DepositPending = "pending"
	DepositPaid    = "paid"
	DepositFailed  = "failed"
	DepositExpired = "expired"
)

// Game is one settled round. Profit is the net win (0 on loss); the
// gross payout on a win is bet+profit.
type Game struct {
	GameID     int64     `json:"game_id"`
	UserID     int64     `json:"user_id"`
	GameType   string    `json:"game_type"`
	Bet        int64     `json:"bet"`
	Profit     int64     `json:"profit"`
	Win        bool      `json:"win"`
	SeedHash   string    `json:"seed_hash"`
	ClientSeed string    `json:"client_seed"`
	Nonce      int64     `json:"nonce"`
	Roll       int64     `json:"roll"`
	CreatedAt  time.Time `json:"created_at"`
}

// Duel statuses: open -> active -> completed, open -> cancelled.
type Duel struct {
	DuelID     uuid.UUID  `json:"duel_id"`
	CreatorID  int64      `json:"creator_id"`
	OpponentID *int64     `json:"opponent_id,omitempty"`
	Stake      int64      `json:"stake"`
	Commission int64      `json:"commission"`
	WinnerID   *int64     `json:"winner_id,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	SettledAt  *time.Time `json:"settled_at,omitempty"`
}

const (
	DuelOpen      = "open"
	DuelActive    = "active"
	DuelCompleted = "completed"
	DuelCancelled = "cancelled"
)

type Promocode struct {
	Code           string    `json:"code"`
	Kind           string    `json:"kind"`
	Value          int64     `json:"value"`
	MaxActivations int64     `json:"max_activations"`
	Activations    int64     `json:"activations"`
	CreatedAt      time.Time `json:"created_at"`
}
