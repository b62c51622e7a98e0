package handlers

import (
	"net/http"

	"github.com/aistylehub/tokenledger/internal/api/httpx"
	"github.com/aistylehub/tokenledger/internal/catalog"
	"github.com/aistylehub/tokenledger/internal/middleware"
	"github.com/aistylehub/tokenledger/internal/services"
	"github.com/go-chi/chi/v5"
)

type ChargeHandler struct {
	charges *services.ChargeService
}

func NewChargeHandler(c *services.ChargeService) *ChargeHandler {
	return &ChargeHandler{charges: c}
}

type chargeReq struct {
	Operation string         `json:"operation"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (h *ChargeHandler) cost(w http.ResponseWriter, r *http.Request) (accountID, operation string, cost int64, ok bool) {
	accountID, authed := middleware.AccountID(r.Context())
	if !authed {
		writeServiceError(w, services.ErrUnauthenticated)
		return "", "", 0, false
	}
	var req chargeReq
	if err := httpx.Decode(r, &req); err != nil || req.Operation == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", "operation is required", nil)
		return "", "", 0, false
	}
	c, known := catalog.OperationCost(req.Operation)
	if !known {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", "unknown operation "+req.Operation, nil)
		return "", "", 0, false
	}
	return accountID, req.Operation, c, true
}

// Preflight is advisory only. A green preflight does not hold tokens;
// the commit can still fail if the balance moved in between.
func (h *ChargeHandler) Preflight(w http.ResponseWriter, r *http.Request) {
	accountID, _, cost, ok := h.cost(w, r)
	if !ok {
		return
	}
	res, err := h.charges.Preflight(r.Context(), accountID, cost)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *ChargeHandler) Commit(w http.ResponseWriter, r *http.Request) {
	accountID, authed := middleware.AccountID(r.Context())
	if !authed {
		writeServiceError(w, services.ErrUnauthenticated)
		return
	}
	var req chargeReq
	if err := httpx.Decode(r, &req); err != nil || req.Operation == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", "operation is required", nil)
		return
	}
	cost, known := catalog.OperationCost(req.Operation)
	if !known {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", "unknown operation "+req.Operation, nil)
		return
	}
	newBalance, err := h.charges.CommitCharge(r.Context(), accountID, cost, req.Operation, req.Metadata)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"operation":      req.Operation,
		"tokens_charged": cost,
		"new_balance":    newBalance,
	})
}

func (h *ChargeHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	accountID, operation, cost, ok := h.cost(w, r)
	if !ok {
		return
	}
	res, err := h.charges.Reserve(r.Context(), accountID, cost, operation)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *ChargeHandler) CommitReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.charges.CommitReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *ChargeHandler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.charges.ReleaseReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

type refundTokensReq struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason,omitempty"`
}

// RefundTokens re-credits tokens without touching money. Admin only; the
// money side lives in the payment refund endpoint.
func (h *ChargeHandler) RefundTokens(w http.ResponseWriter, r *http.Request) {
	var req refundTokensReq
	if err := httpx.Decode(r, &req); err != nil || req.AccountID == "" || req.Amount <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", "account_id and a positive amount are required", nil)
		return
	}
	newBalance, err := h.charges.RefundTokens(r.Context(), req.AccountID, req.Amount, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"account_id":  req.AccountID,
		"refunded":    req.Amount,
		"new_balance": newBalance,
	})
}
