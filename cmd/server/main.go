package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tgcasino/internal/antiabuse"
	"tgcasino/internal/api"
	"tgcasino/internal/config"
	"tgcasino/internal/cryptopay"
	"tgcasino/internal/db"
	"tgcasino/internal/duels"
	"tgcasino/internal/events"
	"tgcasino/internal/fair"
	"tgcasino/internal/games"
	"tgcasino/internal/ledger"
	"tgcasino/internal/payments"
	"tgcasino/internal/promo"
	"tgcasino/internal/reconcile"
	"tgcasino/internal/tgbot"
)

func main() {
	log, err := buildLogger()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	// Reconciliation history: Redis when configured, in-process otherwise.
	var history reconcile.History
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("redis url", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis ping", zap.Error(err))
		}
		history = reconcile.NewRedisHistory(rdb, cfg.Reconcile.HistoryLimit)
	} else {
		history = reconcile.NewMemHistory(int(cfg.Reconcile.HistoryLimit))
		log.Warn("no redis configured, reconciliation history is in-memory only")
	}

	gateway := cryptopay.New(cfg.CryptoPayBaseURL, cfg.CryptoPayToken, cfg.GatewayAsset, cfg.GatewayTimeout, log)

	store := ledger.NewPGStore(database, cfg.Ledger.ReservePercentage, cfg.Ledger.HistoryLimit)
	recalc := ledger.NewRecalculator(store, database, log)
	ledgerSvc := ledger.NewService(store, recalc, cfg.Ledger.StaleAfter, cfg.Ledger.MinOwnerWithdraw, log)

	// Rebuild aggregates on boot so the snapshot starts honest.
	if _, err := ledgerSvc.Recalculate(ctx); err != nil {
		log.Fatal("initial recalculation", zap.Error(err))
	}

	gen, err := fair.NewGenerator()
	if err != nil {
		log.Fatal("seed generator", zap.Error(err))
	}

	bus := events.NewBus()
	hub := events.NewHub(bus, log)

	withdrawals := payments.NewWithdrawals(database, ledgerSvc, gateway, bus, cfg.Withdraw, log)
	// A crash can strand a withdrawal in processing; re-drive those
	// before taking traffic. The spend_id makes the retry safe.
	if err := withdrawals.RecoverStuck(ctx); err != nil {
		log.Error("withdrawal recovery sweep failed", zap.Error(err))
	}
	deposits := payments.NewDeposits(database, ledgerSvc, gateway, bus, cfg.Withdraw.MinAmount, log)
	gamesSvc := games.New(database, ledgerSvc, gen, cfg.Games, cfg.Referral, log)
	duelsSvc := duels.New(database, ledgerSvc, gen, cfg.Games, log)
	promoSvc := promo.New(database, ledgerSvc, cfg.Referral, log)

	// The bot is also the monitor's critical-alert channel, so it is built
	// first and the monitor is attached afterwards.
	var bot *tgbot.Bot
	var notifier reconcile.Notifier
	if cfg.RunBot && strings.TrimSpace(cfg.BotToken) != "" {
		bot, err = tgbot.New(cfg.BotToken, cfg.AdminID, ledgerSvc, nil, withdrawals, log)
		if err != nil {
			log.Fatal("bot init", zap.Error(err))
		}
		notifier = bot
	}

	monitor := reconcile.NewMonitor(gateway, ledgerSvc, history, notifier, reconcile.Thresholds{
		Minor:    cfg.Reconcile.MinorThreshold,
		Critical: cfg.Reconcile.CriticalThreshold,
	}, log)
	if bot != nil {
		bot.SetMonitor(monitor)
		go bot.Run(ctx)
	}
	if cfg.Reconcile.Interval > 0 {
		go monitor.RunPeriodically(ctx, cfg.Reconcile.Interval)
	}

	limiter := antiabuse.NewLimiter(antiabuse.DefaultRules())
	go limiter.RunPruner(ctx, 5*time.Minute)

	apiSrv := &api.API{
		Cfg:         cfg,
		DB:          database,
		Ledger:      ledgerSvc,
		Monitor:     monitor,
		History:     history,
		Withdrawals: withdrawals,
		Deposits:    deposits,
		Games:       gamesSvc,
		Duels:       duelsSvc,
		Promo:       promoSvc,
		Bus:         bus,
		Hub:         hub,
		Limiter:     limiter,
		Log:         log,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           apiSrv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.RunAPI {
		go func() {
			log.Info("http listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal("http", zap.Error(err))
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	cancel()

	ctxShut, cancelShut := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShut()
	_ = srv.Shutdown(ctxShut)
}

func buildLogger() (*zap.Logger, error) {
	if strings.EqualFold(os.Getenv("LOG_MODE"), "dev") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
