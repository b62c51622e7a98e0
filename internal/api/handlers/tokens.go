package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/aistylehub/tokenledger/internal/api/httpx"
	"github.com/aistylehub/tokenledger/internal/catalog"
	"github.com/aistylehub/tokenledger/internal/middleware"
	"github.com/aistylehub/tokenledger/internal/payment"
	"github.com/aistylehub/tokenledger/internal/services"
	"github.com/shopspring/decimal"
)

const maxWebhookBody = 1 << 20

type TokenHandler struct {
	purchases   *services.PurchaseService
	frontendURL string
}

func NewTokenHandler(p *services.PurchaseService, frontendURL string) *TokenHandler {
	return &TokenHandler{purchases: p, frontendURL: frontendURL}
}

func (h *TokenHandler) Packages(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	pkgs := catalog.Packages()
	if currency != "" {
		filtered := pkgs[:0]
		for _, p := range pkgs {
			if p.Currency == currency {
				filtered = append(filtered, p)
			}
		}
		pkgs = filtered
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"packages": pkgs})
}

func (h *TokenHandler) PaymentMethods(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"payment_methods": catalog.PaymentMethods(currency)})
}

// Request fields accept the camelCase spellings alongside snake_case;
// clients of the original API send camelCase.
type purchaseReq struct {
	PackageID            string `json:"package_id"`
	PaymentMethodID      string `json:"payment_method_id"`
	Email                string `json:"email,omitempty"`
	PackageIDCamel       string `json:"packageId,omitempty"`
	PaymentMethodIDCamel string `json:"paymentMethodId,omitempty"`
}

func (h *TokenHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		writeServiceError(w, services.ErrUnauthenticated)
		return
	}
	var req purchaseReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", "malformed request body", nil)
		return
	}
	res, err := h.purchases.Initiate(r.Context(), services.InitiateParams{
		AccountID: accountID,
		Email:     req.Email,
		PackageID: firstOf(req.PackageID, req.PackageIDCamel),
		MethodID:  firstOf(req.PaymentMethodID, req.PaymentMethodIDCamel),
		BaseURL:   h.frontendURL,
		IPAddress: clientIP(r),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

type confirmReq struct {
	TransactionID      string `json:"transaction_id"`
	PackageID          string `json:"package_id"`
	Provider           string `json:"provider,omitempty"`
	TransactionIDCamel string `json:"transactionId,omitempty"`
	PackageIDCamel     string `json:"packageId,omitempty"`
}

// Confirm is safe to retry: a replay settles nothing new and comes back
// 200 with already_settled set.
func (h *TokenHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		writeServiceError(w, services.ErrUnauthenticated)
		return
	}
	var req confirmReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", "malformed request body", nil)
		return
	}
	if req.Provider == "" {
		req.Provider = "stripe"
	}
	txnID := firstOf(req.TransactionID, req.TransactionIDCamel)
	pkgID := firstOf(req.PackageID, req.PackageIDCamel)
	res, err := h.purchases.Confirm(r.Context(), accountID, req.Provider, txnID, pkgID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// Webhook receives provider notifications on /webhook?provider=<name>.
// Unknown-state provider errors come back 502 so the gateway retries;
// settlement itself is idempotent, so retries are harmless.
func (h *TokenHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	providerName := r.URL.Query().Get("provider")
	if providerName == "" {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", "provider query parameter is required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_body", "unreadable body", nil)
		return
	}
	res, err := h.purchases.HandleWebhook(r.Context(), providerName, r.Header, r.URL.Query(), body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"received":        true,
		"already_settled": res.AlreadySettled,
	})
}

// Callback is where redirect-based gateways land the buyer. It carries no
// trusted data itself; the transaction reference is re-verified with the
// provider before settling, then the buyer is bounced to the frontend.
func (h *TokenHandler) Callback(w http.ResponseWriter, r *http.Request) {
	providerName := r.URL.Query().Get("provider")
	txnID := callbackTxnID(r)
	if providerName == "" || txnID == "" {
		http.Redirect(w, r, h.frontendURL+"/tokens?payment=failed", http.StatusFound)
		return
	}
	_, err := h.purchases.SettleNotification(r.Context(), providerName, &payment.Notification{TransactionID: txnID})
	if err != nil {
		status := "failed"
		if errors.Is(err, services.ErrNotCompleted) {
			status = "pending"
		}
		http.Redirect(w, r, h.frontendURL+"/tokens?payment="+status, http.StatusFound)
		return
	}
	http.Redirect(w, r, h.frontendURL+"/tokens?payment=success", http.StatusFound)
}

func callbackTxnID(r *http.Request) string {
	q := r.URL.Query()
	for _, key := range []string{"token", "orderId", "transaction_id"} {
		if v := q.Get(key); v != "" {
			return v
		}
	}
	return ""
}

type refundReq struct {
	AccountID             string          `json:"account_id"`
	Provider              string          `json:"provider"`
	CaptureReference      string          `json:"capture_reference"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency,omitempty"`
	AccountIDCamel        string          `json:"accountId,omitempty"`
	CaptureReferenceCamel string          `json:"captureReference,omitempty"`
}

// Refund moves money back at the provider. Token balances are untouched;
// re-crediting tokens is a separate admin call.
func (h *TokenHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", "malformed request body", nil)
		return
	}
	var amount *decimal.Decimal
	if !req.Amount.IsZero() {
		amount = &req.Amount
	}
	status, err := h.purchases.Refund(r.Context(), services.RefundParams{
		AccountID:        firstOf(req.AccountID, req.AccountIDCamel),
		Provider:         req.Provider,
		CaptureReference: firstOf(req.CaptureReference, req.CaptureReferenceCamel),
		Amount:           amount,
		Currency:         req.Currency,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"refund_status": status})
}

func (h *TokenHandler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		writeServiceError(w, services.ErrUnauthenticated)
		return
	}
	summary, err := h.purchases.Balance(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, summary)
}

func (h *TokenHandler) Purchases(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		writeServiceError(w, services.ErrUnauthenticated)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	list, err := h.purchases.History(r.Context(), accountID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"purchases": list})
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func clientIP(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		return v
	}
	return r.RemoteAddr
}
