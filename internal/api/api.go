package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tgcasino/internal/antiabuse"
	"tgcasino/internal/config"
	"tgcasino/internal/cryptopay"
	"tgcasino/internal/db"
	"tgcasino/internal/duels"
	"tgcasino/internal/events"
	"tgcasino/internal/games"
	"tgcasino/internal/ledger"
	"tgcasino/internal/payments"
	"tgcasino/internal/promo"
	"tgcasino/internal/reconcile"
	"tgcasino/internal/telegram"
)

const (
	initDataMaxAge = 24 * time.Hour
	maxBodyBytes   = 64 << 10
)

type API struct {
	Cfg         config.Config
	DB          *db.DB
	Ledger      *ledger.Service
	Monitor     *reconcile.Monitor
	History     reconcile.History
	Withdrawals *payments.Withdrawals
	Deposits    *payments.Deposits
	Games       *games.Service
	Duels       *duels.Service
	Promo       *promo.Service
	Bus         *events.Bus
	Hub         *events.Hub
	Limiter     *antiabuse.Limiter
	Log         *zap.Logger
}

type envelope struct {
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

type stateRequest struct {
	InitData string `json:"init_data"`
	Referrer int64  `json:"referrer"`
}

type playRequest struct {
	InitData   string `json:"init_data"`
	Game       string `json:"game"`
	Choice     string `json:"choice"`
	Bet        int64  `json:"bet"`
	ClientSeed string `json:"client_seed"`
}

type listRequest struct {
	InitData string `json:"init_data"`
	Limit    int64  `json:"limit"`
}

type duelCreateRequest struct {
	InitData string `json:"init_data"`
	Stake    int64  `json:"stake"`
}

type duelJoinRequest struct {
	InitData   string `json:"init_data"`
	DuelID     string `json:"duel_id"`
	ClientSeed string `json:"client_seed"`
}

type duelRefRequest struct {
	InitData string `json:"init_data"`
	DuelID   string `json:"duel_id"`
}

type invoiceRequest struct {
	InitData string `json:"init_data"`
	Amount   int64  `json:"amount"`
}

type invoiceCheckRequest struct {
	InitData  string `json:"init_data"`
	InvoiceID int64  `json:"invoice_id"`
}

type withdrawCreateRequest struct {
	InitData  string `json:"init_data"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
}

type withdrawCancelRequest struct {
	InitData     string `json:"init_data"`
	WithdrawalID string `json:"withdrawal_id"`
	Reason       string `json:"reason"`
}

type promoRedeemRequest struct {
	InitData string `json:"init_data"`
	Code     string `json:"code"`
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(a.corsMiddleware)
	r.Use(a.securityHeaders)

	r.Get("/health", a.health)

	r.Post("/state", a.state)
	r.Get("/games/seed", a.seedHash)
	r.Post("/games/play", a.play)
	r.Post("/games/history", a.gamesHistory)

	r.Post("/duels/create", a.duelCreate)
	r.Post("/duels/join", a.duelJoin)
	r.Post("/duels/get", a.duelGet)
	r.Post("/duels/cancel", a.duelCancel)
	r.Post("/duels/list", a.duelList)

	r.Post("/deposit/invoice", a.depositInvoice)
	r.Post("/deposit/check", a.depositCheck)
	r.Post("/deposit/my", a.depositMy)
	r.Post("/cryptopay/webhook", a.cryptoPayWebhook)

	r.Post("/withdraw/create", a.withdrawCreate)
	r.Post("/withdraw/cancel", a.withdrawCancel)
	r.Post("/withdraw/my", a.withdrawMy)

	r.Post("/promo/redeem", a.promoRedeem)
	r.Post("/referral/claim", a.referralClaim)

	r.Post("/admin/ledger", a.adminLedger)
	r.Post("/admin/ledger/recalculate", a.adminRecalculate)
	r.Post("/admin/reconcile", a.adminReconcile)
	r.Post("/admin/reconcile/history", a.adminReconcileHistory)
	r.Post("/admin/withdrawals/list", a.adminWithdrawalsList)
	r.Post("/admin/withdrawals/approve", a.adminWithdrawalApprove)
	r.Post("/admin/withdrawals/reject", a.adminWithdrawalReject)
	r.Post("/admin/owner/withdraw", a.adminOwnerWithdraw)
	r.Post("/admin/promo/create", a.adminPromoCreate)
	r.Post("/admin/users/block", a.adminUserBlock)
	r.Post("/admin/seed/rotate", a.adminRotateSeed)

	r.Get("/ws/ops", a.Hub.ServeWS)

	return r
}

func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbOK := true
	var one int
	if err := a.DB.Pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil || one != 1 {
		dbOK = false
	}

	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, envelope{OK: dbOK, Data: map[string]interface{}{
		"service": "tgcasino",
		"ts":      time.Now().Unix(),
		"db_ok":   dbOK,
	}})
}

func (a *API) state(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	ctx := r.Context()

	u, err := a.DB.EnsureUser(ctx, user.ID, user.Username, user.FirstName)
	if err != nil {
		a.Log.Error("ensure user", zap.Int64("user_id", user.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, envelope{Error: "internal error"})
		return
	}
	if req.Referrer != 0 && req.Referrer != u.UserID && u.ReferredBy == nil {
		if err := a.DB.SetReferrer(ctx, u.UserID, req.Referrer); err != nil {
			a.Log.Warn("set referrer", zap.Int64("user_id", u.UserID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, envelope{OK: true, Data: map[string]interface{}{
		"user_id":          u.UserID,
		"balance":          u.Balance,
		"referral_balance": u.ReferralBalance,
		"seed_hash":        a.Games.SeedHash(),
		"asset":            a.Cfg.GatewayAsset,
	}})
}

func (a *API) seedHash(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: map[string]string{
		"seed_hash": a.Games.SeedHash(),
	}})
}

func (a *API) play(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	if !a.allow(user.ID, "play") {
		writeJSON(w, http.StatusTooManyRequests, envelope{Error: "slow down"})
		return
	}
	result, err := a.Games.Play(r.Context(), user.ID, req.Game, req.Choice, req.Bet, req.ClientSeed)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: result})
}

func (a *API) gamesHistory(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	list, err := a.Games.History(r.Context(), user.ID, req.Limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: list})
}

func (a *API) duelCreate(w http.ResponseWriter, r *http.Request) {
	var req duelCreateRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	if !a.allow(user.ID, "duel") {
		writeJSON(w, http.StatusTooManyRequests, envelope{Error: "slow down"})
		return
	}
	duel, err := a.Duels.Create(r.Context(), user.ID, req.Stake)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: duel})
}

func (a *API) duelJoin(w http.ResponseWriter, r *http.Request) {
	var req duelJoinRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	duelID, err := uuid.Parse(req.DuelID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad duel id"})
		return
	}
	if !a.allow(user.ID, "duel") {
		writeJSON(w, http.StatusTooManyRequests, envelope{Error: "slow down"})
		return
	}
	duel, err := a.Duels.Join(r.Context(), duelID, user.ID, req.ClientSeed)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: duel})
}

func (a *API) duelGet(w http.ResponseWriter, r *http.Request) {
	var req duelRefRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	if _, ok := a.authUserFrom(req.InitData); !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	duelID, err := uuid.Parse(req.DuelID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad duel id"})
		return
	}
	duel, err := a.Duels.Get(r.Context(), duelID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: duel})
}

func (a *API) duelCancel(w http.ResponseWriter, r *http.Request) {
	var req duelRefRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	duelID, err := uuid.Parse(req.DuelID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad duel id"})
		return
	}
	if err := a.Duels.Cancel(r.Context(), duelID, user.ID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true})
}

func (a *API) duelList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	if _, ok := a.authUserFrom(req.InitData); !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	list, err := a.Duels.ListOpen(r.Context(), req.Limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: list})
}

func (a *API) depositInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	if _, err := a.DB.EnsureUser(r.Context(), user.ID, user.Username, user.FirstName); err != nil {
		a.writeError(w, err)
		return
	}
	if !a.allow(user.ID, "deposit") {
		writeJSON(w, http.StatusTooManyRequests, envelope{Error: "slow down"})
		return
	}
	inv, err := a.Deposits.CreateInvoice(r.Context(), user.ID, req.Amount)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: inv})
}

func (a *API) depositCheck(w http.ResponseWriter, r *http.Request) {
	var req invoiceCheckRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	dep, err := a.Deposits.Check(r.Context(), req.InvoiceID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if dep.UserID != user.ID {
		writeJSON(w, http.StatusNotFound, envelope{Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: dep})
}

func (a *API) depositMy(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	list, err := a.Deposits.ListForUser(r.Context(), user.ID, req.Limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: list})
}

// cryptoPayWebhook is hit by the payment gateway, not the WebApp, so it is
// authenticated by signature instead of init data.
func (a *API) cryptoPayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	sig := r.Header.Get("Crypto-Pay-Api-Signature")
	if !cryptopay.VerifyWebhookSignature(a.Cfg.CryptoPayToken, body, sig) {
		a.Log.Warn("webhook signature rejected")
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "bad signature"})
		return
	}
	update, err := cryptopay.ParseWebhook(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad payload"})
		return
	}
	if err := a.Deposits.HandleWebhook(r.Context(), update); err != nil {
		a.Log.Error("webhook handling", zap.Int64("update_id", update.UpdateID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, envelope{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true})
}

func (a *API) withdrawCreate(w http.ResponseWriter, r *http.Request) {
	var req withdrawCreateRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	if !a.allow(user.ID, "withdraw") {
		writeJSON(w, http.StatusTooManyRequests, envelope{Error: "slow down"})
		return
	}
	wd, err := a.Withdrawals.Create(r.Context(), user.ID, req.Amount, req.Recipient)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: wd})
}

func (a *API) withdrawCancel(w http.ResponseWriter, r *http.Request) {
	var req withdrawCancelRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	id, err := uuid.Parse(req.WithdrawalID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad withdrawal id"})
		return
	}
	wd, err := a.Withdrawals.Cancel(r.Context(), id, user.ID, req.Reason)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: wd})
}

func (a *API) withdrawMy(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	list, err := a.Withdrawals.ListForUser(r.Context(), user.ID, req.Limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: list})
}

func (a *API) promoRedeem(w http.ResponseWriter, r *http.Request) {
	var req promoRedeemRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	if !a.allow(user.ID, "promo") {
		writeJSON(w, http.StatusTooManyRequests, envelope{Error: "slow down"})
		return
	}
	value, err := a.Promo.Redeem(r.Context(), user.ID, req.Code)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: map[string]int64{"credited": value}})
}

func (a *API) referralClaim(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad request"})
		return
	}
	user, ok := a.authUserFrom(req.InitData)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
		return
	}
	moved, err := a.Promo.ClaimReferral(r.Context(), user.ID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: map[string]int64{"moved": moved}})
}

func (a *API) allow(userID int64, action string) bool {
	return a.Limiter == nil || a.Limiter.Allow(userID, action)
}

func (a *API) authUserFrom(initData string) (telegram.WebAppUser, bool) {
	user, err := telegram.VerifyInitData(initData, a.Cfg.BotToken, initDataMaxAge)
	if err != nil {
		return telegram.WebAppUser{}, false
	}
	return user, true
}

// writeError maps domain errors to client responses. Anything unrecognized
// becomes an opaque 500 with the detail kept in the logs.
func (a *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotEnough):
		writeJSON(w, http.StatusBadRequest, envelope{Error: "not enough balance"})
	case errors.Is(err, db.ErrNotFound):
		writeJSON(w, http.StatusNotFound, envelope{Error: "not found"})
	case errors.Is(err, payments.ErrNotOwner):
		writeJSON(w, http.StatusForbidden, envelope{Error: "forbidden"})
	case errors.Is(err, games.ErrBetOutOfRange),
		errors.Is(err, games.ErrUnknownGame),
		errors.Is(err, games.ErrUnknownChoice),
		errors.Is(err, duels.ErrStakeOutOfRange),
		errors.Is(err, duels.ErrNotJoinable),
		errors.Is(err, duels.ErrNotCancellable),
		errors.Is(err, payments.ErrAmountOutOfRange),
		errors.Is(err, payments.ErrBadRecipient),
		errors.Is(err, payments.ErrWithdrawalActive),
		errors.Is(err, payments.ErrGatewayInsolvent),
		errors.Is(err, payments.ErrDepositAmount),
		errors.Is(err, promo.ErrBadCode),
		errors.Is(err, promo.ErrCodeExists),
		errors.Is(err, promo.ErrPayoutTooSmall),
		errors.Is(err, db.ErrPromoExhausted),
		errors.Is(err, db.ErrPromoRedeemed),
		errors.Is(err, db.ErrConflict),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrBelowMinimum),
		errors.Is(err, ledger.ErrExceedsAvailable):
		writeJSON(w, http.StatusBadRequest, envelope{Error: err.Error()})
	default:
		a.Log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, envelope{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(dst)
}
