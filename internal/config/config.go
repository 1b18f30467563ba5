package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every tunable the platform reads at startup. All
// monetary values are minor units (1 coin = 100 units).
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	BotToken string `yaml:"bot_token"`
	AdminID  int64  `yaml:"admin_id"`

	CryptoPayToken         string        `yaml:"cryptopay_token"`
	CryptoPayBaseURL       string        `yaml:"cryptopay_base_url"`
	CryptoPayWebhookSecret string        `yaml:"cryptopay_webhook_secret"`
	GatewayTimeout         time.Duration `yaml:"gateway_timeout"`
	GatewayAsset           string        `yaml:"gateway_asset"`

	RunAPI bool `yaml:"run_api"`
	RunBot bool `yaml:"run_bot"`

	Ledger    LedgerConfig    `yaml:"ledger"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Withdraw  WithdrawConfig  `yaml:"withdraw"`
	Games     GamesConfig     `yaml:"games"`
	Referral  ReferralConfig  `yaml:"referral"`
}

// LedgerConfig governs the aggregate financial-state record.
type LedgerConfig struct {
	ReservePercentage int64         `yaml:"reserve_percentage"` // % of user liabilities held back
	MinOwnerWithdraw  int64         `yaml:"min_owner_withdraw"`
	StaleAfter        time.Duration `yaml:"stale_after"` // snapshot older than this triggers a recalculation
	HistoryLimit      int           `yaml:"history_limit"`
}

// ReconcileConfig holds discrepancy-severity thresholds and scheduling.
type ReconcileConfig struct {
	MinorThreshold    int64         `yaml:"minor_threshold"`    // |discrepancy| <= this is ok
	CriticalThreshold int64         `yaml:"critical_threshold"` // |discrepancy| > this is critical
	Interval          time.Duration `yaml:"interval"`
	HistoryLimit      int64         `yaml:"history_limit"`
}

// WithdrawConfig bounds the withdrawal workflow.
type WithdrawConfig struct {
	MinAmount         int64   `yaml:"min_amount"`
	MaxAmount         int64   `yaml:"max_amount"`
	FeePercent        int64   `yaml:"fee_percent"` // basis points
	ApprovalThreshold int64   `yaml:"approval_threshold"`
	SafetyMargin      float64 `yaml:"safety_margin"` // gateway must hold amount*margin
}

type GamesConfig struct {
	MinBet           int64 `yaml:"min_bet"`
	MaxBet           int64 `yaml:"max_bet"`
	DuelCommissionBP int64 `yaml:"duel_commission_bp"` // of the total pot, basis points
	DuelMinStake     int64 `yaml:"duel_min_stake"`
	DuelMaxStake     int64 `yaml:"duel_max_stake"`
}

type ReferralConfig struct {
	LossShareBP int64 `yaml:"loss_share_bp"` // referrer share of referee losses
	MinPayout   int64 `yaml:"min_payout"`
}

// Load reads CONFIG_PATH (YAML) when set, then lets environment
// variables override. Defaults are production-sane.
func Load() Config {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			panic(fmt.Sprintf("config: read %s: %v", path, err))
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			panic(fmt.Sprintf("config: parse %s: %v", path, err))
		}
	}

	applyEnv(&cfg)
	return cfg
}

func defaults() Config {
	return Config{
		CryptoPayBaseURL: "https://pay.crypt.bot/api",
		GatewayTimeout:   30 * time.Second,
		GatewayAsset:     "USDT",
		RunAPI:           true,
		RunBot:           true,
		Ledger: LedgerConfig{
			ReservePercentage: 20,
			MinOwnerWithdraw:  10_00,
			StaleAfter:        time.Hour,
			HistoryLimit:      200,
		},
		Reconcile: ReconcileConfig{
			MinorThreshold:    1_00,
			CriticalThreshold: 100_00,
			Interval:          10 * time.Minute,
			HistoryLimit:      100,
		},
		Withdraw: WithdrawConfig{
			MinAmount:         1_00,
			MaxAmount:         10_000_00,
			FeePercent:        100, // 1%
			ApprovalThreshold: 500_00,
			SafetyMargin:      1.1,
		},
		Games: GamesConfig{
			MinBet:           10,
			MaxBet:           1_000_00,
			DuelCommissionBP: 500, // 5% of the pot
			DuelMinStake:     50,
			DuelMaxStake:     5_000_00,
		},
		Referral: ReferralConfig{
			LossShareBP: 500, // 5% of referee losses
			MinPayout:   1_00,
		},
	}
}

func applyEnv(cfg *Config) {
	setStr(&cfg.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.RedisURL, "REDIS_URL")
	setStr(&cfg.BotToken, "BOT_TOKEN")
	setInt(&cfg.AdminID, "ADMIN_ID")
	setStr(&cfg.CryptoPayToken, "CRYPTOPAY_TOKEN")
	setStr(&cfg.CryptoPayBaseURL, "CRYPTOPAY_BASE_URL")
	setStr(&cfg.CryptoPayWebhookSecret, "CRYPTOPAY_WEBHOOK_SECRET")
	setStr(&cfg.GatewayAsset, "GATEWAY_ASSET")
	setDur(&cfg.GatewayTimeout, "GATEWAY_TIMEOUT")
	setBool(&cfg.RunAPI, "RUN_API")
	setBool(&cfg.RunBot, "RUN_BOT")

	setInt(&cfg.Ledger.ReservePercentage, "LEDGER_RESERVE_PCT")
	setInt(&cfg.Ledger.MinOwnerWithdraw, "LEDGER_MIN_OWNER_WITHDRAW")
	setDur(&cfg.Ledger.StaleAfter, "LEDGER_STALE_AFTER")

	setInt(&cfg.Reconcile.MinorThreshold, "RECONCILE_MINOR_THRESHOLD")
	setInt(&cfg.Reconcile.CriticalThreshold, "RECONCILE_CRITICAL_THRESHOLD")
	setDur(&cfg.Reconcile.Interval, "RECONCILE_INTERVAL")

	setInt(&cfg.Withdraw.MinAmount, "WITHDRAW_MIN")
	setInt(&cfg.Withdraw.MaxAmount, "WITHDRAW_MAX")
	setInt(&cfg.Withdraw.FeePercent, "WITHDRAW_FEE_BP")
	setInt(&cfg.Withdraw.ApprovalThreshold, "WITHDRAW_APPROVAL_THRESHOLD")

	setInt(&cfg.Games.MinBet, "GAMES_MIN_BET")
	setInt(&cfg.Games.MaxBet, "GAMES_MAX_BET")
	setInt(&cfg.Games.DuelCommissionBP, "DUEL_COMMISSION_BP")

	setInt(&cfg.Referral.LossShareBP, "REFERRAL_LOSS_SHARE_BP")
	setInt(&cfg.Referral.MinPayout, "REFERRAL_MIN_PAYOUT")
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v == "1" || strings.EqualFold(v, "true")
	}
}

func setDur(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
