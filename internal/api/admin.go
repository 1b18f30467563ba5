package api

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tgcasino/internal/events"
)

type adminListRequest struct {
	InitData string `json:"init_data"`
	Status   string `json:"status"`
	Offset   int64  `json:"offset"`
	Limit    int64  `json:"limit"`
}

type adminWithdrawalRequest struct {
	InitData     string `json:"init_data"`
	WithdrawalID string `json:"withdrawal_id"`
	Reason       string `json:"reason"`
}

type ownerWithdrawRequest struct {
	InitData string `json:"init_data"`
	Amount   int64  `json:"amount"`
	Note     string `json:"note"`
}

type promoCreateRequest struct {
	InitData       string `json:"init_data"`
	Code           string `json:"code"`
	Value          int64  `json:"value"`
	MaxActivations int64  `json:"max_activations"`
}

func (a *API) isAdmin(initData string) bool {
	user, ok := a.authUserFrom(initData)
	return ok && user.ID == a.Cfg.AdminID
}

func (a *API) adminLedger(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := readJSON(r, &req); err != nil || !a.isAdmin(req.InitData) {
		writeJSON(w, http.StatusForbidden, envelope{Error: "forbidden"})
		return
	}
	state, err := a.Ledger.Snapshot(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: state})
}

func (a *API) adminRecalculate(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := readJSON(r, &req); err != nil || !a.isAdmin(req.InitData) {
		writeJSON(w, http.StatusForbidden, envelope{Error: "forbidden"})
		return
	}
	state, err := a.Ledger.Recalculate(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.Bus.Publish(events.TypeLedgerUpdated, state)
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: state})
}

func (a *API) adminReconcile(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := readJSON(r, &req); err != nil || !a.isAdmin(req.InitData) {
		writeJSON(w, http.StatusForbidden, envelope{Error: "forbidden"})
		return
	}
	report, err := a.Monitor.Run(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.Bus.Publish(events.TypeReconcileReport, report)
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: report})
}

func (a *API) adminReconcileHistory(w http.ResponseWriter, r *http.Request) {
	var req adminListRequest
	if err := readJSON(r, &req); err != nil || !a.isAdmin(req.InitData) {
		writeJSON(w, http.StatusForbidden, envelope{Error: "forbidden"})
		return
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	reports, err := a.History.List(r.Context(), req.Offset, req.Limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: reports})
}

func (a *API) adminWithdrawalsList(w http.ResponseWriter, r *http.Request) {
	var req adminListRequest
	if err := readJSON(r, &req); err != nil || !a.isAdmin(req.InitData) {
		writeJSON(w, http.StatusForbidden, envelope{Error: "forbidden"})
		return
	}
	list, err := a.Withdrawals.List(r.Context(), req.Status, req.Limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: list})
}

func (a *API) adminWithdrawalApprove(w http.ResponseWriter, r *http.Request) {
	var req adminWithdrawalRequest
	if err := readJSON(r, &req); err != nil || !a.isAdmin(req.InitData) {
		writeJSON(w, http.StatusForbidden, envelope{Error: "forbidden"})
		return
	}
	id, err := uuid.Parse(req.WithdrawalID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad withdrawal id"})
		return
	}
	wd, err := a.Withdrawals.Approve(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: wd})
}

func (a *API) adminWithdrawalReject(w http.ResponseWriter, r *http.Request) {
	var req adminWithdrawalRequest
	if err := readJSON(r, &req); err != nil || !a.isAdmin(req.InitData) {
		writeJSON(w, http.StatusForbidden, envelope{Error: "forbidden"})
		return
	}
	id, err := uuid.Parse(req.WithdrawalID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "bad withdrawal id"})
		return
	}
	wd, err := a.Withdrawals.Reject(r.Context(), id, req.Reason)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: wd})
}

// adminOwnerWithdraw books a profits payout: the ledger op enforces the
// available-for-withdrawal ceiling, the owner_withdrawals row keeps the
// reconciliation arithmetic honest. Funds move out of the gateway manually.
func (a *API) adminOwnerWithdraw(w http.ResponseWriter, r *http.Request) {
	var req ownerWithdrawRequest
	if err := readJSON(r, &req); err != nil || !a.isAdmin(req.InitData) {
		writeJSON(w, http.StatusForbidden, envelope{Error: "forbidden"})
		return
	}
	if err := a.Ledger.OwnerWithdrawal(r.Context(), req.Amount, req.Note); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.DB.InsertOwnerWithdrawal(r.Context(), req.Amount, req.Note); err != nil {
		// Ledger already moved; the missing row will surface as a
		// reconciliation discrepancy until fixed by hand.
		a.Log.Error("record owner withdrawal", zap.Int64("amount", req.Amount), zap.Error(err))
	}
	a.Bus.Publish(events.TypeLedgerUpdated, map[string]int64{"owner_withdrawal": req.Amount})
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: map[string]int64{"amount": req.Amount}})
}

func (a *API) adminPromoCreate(w http.ResponseWriter, r *http.Request) {
	var req promoCreateRequest
	if err := readJSON(r, &req); err != nil || !a.isAdmin(req.InitData) {
		writeJSON(w, http.StatusForbidden, envelope{Error: "forbidden"})
		return
	}
	if err := a.Promo.Create(r.Context(), req.Code, req.Value, req.MaxActivations); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true})
}

type userBlockRequest struct {
	InitData string `json:"init_data"`
	UserID   int64  `json:"user_id"`
	Blocked  bool   `json:"blocked"`
}

// adminUserBlock freezes or unfreezes a user. A blocked user cannot
// spend and drops out of the liability total.
func (a *API) adminUserBlock(w http.ResponseWriter, r *http.Request) {
	var req userBlockRequest
	if err := readJSON(r, &req); err != nil || !a.isAdmin(req.InitData) {
		writeJSON(w, http.StatusForbidden, envelope{Error: "forbidden"})
		return
	}
	if err := a.DB.SetBlocked(r.Context(), req.UserID, req.Blocked); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: map[string]interface{}{
		"user_id": req.UserID,
		"blocked": req.Blocked,
	}})
}

func (a *API) adminRotateSeed(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := readJSON(r, &req); err != nil || !a.isAdmin(req.InitData) {
		writeJSON(w, http.StatusForbidden, envelope{Error: "forbidden"})
		return
	}
	revealed, err := a.Games.RotateSeed()
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: map[string]string{
		"revealed_seed": revealed,
		"new_seed_hash": a.Games.SeedHash(),
	}})
}
