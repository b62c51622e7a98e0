package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aistylehub/tokenledger/internal/auth"
	"github.com/aistylehub/tokenledger/internal/config"
	"github.com/aistylehub/tokenledger/internal/middleware"
	"github.com/aistylehub/tokenledger/internal/models"
	"github.com/aistylehub/tokenledger/internal/payment"
	repo "github.com/aistylehub/tokenledger/internal/repository"
	"github.com/aistylehub/tokenledger/internal/services"
)

// routerStore is a minimal in-memory repository set for transport tests.
type routerStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	byTxn    map[string]models.Purchase
	events   []models.AuditEvent
	seq      int
}

func newRouterStore() *routerStore {
	return &routerStore{accounts: make(map[string]*models.Account), byTxn: make(map[string]models.Purchase)}
}

func (s *routerStore) Create(_ context.Context, email, hash, role string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	a := &models.Account{ID: "acct-" + strconv.Itoa(s.seq), Email: email, PasswordHash: hash, Role: role}
	s.accounts[a.ID] = a
	return *a, nil
}

func (s *routerStore) GetByID(_ context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return models.Account{}, repo.ErrNotFound
	}
	return *a, nil
}

func (s *routerStore) GetByEmail(_ context.Context, email string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return *a, nil
		}
	}
	return models.Account{}, repo.ErrNotFound
}

func (s *routerStore) Credit(_ context.Context, id string, amount int64, e models.AuditEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditLocked(id, amount, e)
}

func (s *routerStore) creditLocked(id string, amount int64, e models.AuditEvent) (int64, error) {
	a, ok := s.accounts[id]
	if !ok {
		return 0, repo.ErrNotFound
	}
	a.TokenBalance += amount
	a.TotalPurchased += amount
	s.events = append(s.events, e)
	return a.TokenBalance, nil
}

func (s *routerStore) Debit(_ context.Context, id string, amount int64, e models.AuditEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return 0, repo.ErrNotFound
	}
	if a.TokenBalance < amount {
		return 0, repo.ErrInsufficientBalance
	}
	a.TokenBalance -= amount
	a.TotalUsed += amount
	s.events = append(s.events, e)
	return a.TokenBalance, nil
}

func (s *routerStore) Refund(_ context.Context, id string, amount int64, e models.AuditEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return 0, repo.ErrNotFound
	}
	a.TokenBalance += amount
	a.TotalUsed -= amount
	s.events = append(s.events, e)
	return a.TokenBalance, nil
}

func (s *routerStore) Settle(_ context.Context, p models.Purchase, e models.AuditEvent) (models.Purchase, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, dup := s.byTxn[p.ProviderTxnID]; dup {
		return existing, false, nil
	}
	s.seq++
	p.ID = "pur-" + strconv.Itoa(s.seq)
	if _, err := s.creditLocked(p.AccountID, p.TokensCredited, e); err != nil {
		return models.Purchase{}, false, err
	}
	s.byTxn[p.ProviderTxnID] = p
	return p, true, nil
}

func (s *routerStore) GetByProviderTxnID(_ context.Context, txn string) (models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byTxn[txn]
	if !ok {
		return models.Purchase{}, repo.ErrNotFound
	}
	return p, nil
}

func (s *routerStore) ListByAccount(_ context.Context, id string, limit int) ([]models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Purchase
	for _, p := range s.byTxn {
		if p.AccountID == id && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *routerStore) Hold(context.Context, string, int64, string, models.AuditEvent) (models.Reservation, error) {
	return models.Reservation{}, repo.ErrNotFound
}
func (s *routerStore) Commit(context.Context, string) (models.Reservation, error) {
	return models.Reservation{}, repo.ErrNotFound
}
func (s *routerStore) Release(context.Context, string, models.AuditEvent) (models.Reservation, error) {
	return models.Reservation{}, repo.ErrNotFound
}
func (s *routerStore) Get(context.Context, string) (models.Reservation, error) {
	return models.Reservation{}, repo.ErrNotFound
}

type routerAudit struct{ *routerStore }

func (v routerAudit) Append(_ context.Context, e models.AuditEvent) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = append(v.events, e)
	return nil
}

func (v routerAudit) ListByAccount(context.Context, string, int) ([]models.AuditEvent, error) {
	return nil, nil
}

func (v routerAudit) ListRecent(_ context.Context, limit int) ([]models.AuditEvent, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.AuditEvent, len(v.events))
	copy(out, v.events)
	return out, nil
}

const momoTestSecret = "momo-secret"

func newTestRouter(t *testing.T, st *routerStore) http.Handler {
	return newTestRouterStripe(t, st, "")
}

// newTestRouterStripe points the Stripe adapter at a local backend so
// purchase flows run without network access.
func newTestRouterStripe(t *testing.T, st *routerStore, stripeBase string) http.Handler {
	t.Helper()
	tm := auth.NewTokenManager("a-secret", "r-secret", "test", 15*time.Minute, time.Hour)
	audit := routerAudit{st}
	ledger := services.NewLedgerService(st, st, nil, nil)
	providers := payment.NewRegistry(
		payment.NewStripe(payment.StripeConfig{SecretKey: "sk", WebhookSecret: "whsec", BaseURL: stripeBase}),
		payment.NewMoMo(payment.MoMoConfig{PartnerCode: "P", AccessKey: "A", SecretKey: momoTestSecret}),
	)
	return NewRouter(RouterDeps{
		Cfg:         config.Config{Env: "dev", BaseURL: "http://app.local"},
		AccountSvc:  services.NewAccountService(st, st, tm),
		PurchaseSvc: services.NewPurchaseService(providers, ledger, st, st, audit),
		ChargeSvc:   services.NewChargeService(st, st, st, audit, ledger),
		AuditRepo:   audit,
		Auth:        middleware.NewAuthMiddleware(tm, "dev"),
	})
}

func seedRouterAccount(t *testing.T, st *routerStore, balance int64) string {
	t.Helper()
	a, err := st.Create(context.Background(), fmt.Sprintf("u%d@example.com", balance), "x", "user")
	if err != nil {
		t.Fatal(err)
	}
	st.mu.Lock()
	st.accounts[a.ID].TokenBalance = balance
	st.accounts[a.ID].TotalPurchased = balance
	st.mu.Unlock()
	return a.ID
}

func doJSON(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterRequiresAuth(t *testing.T) {
	h := newTestRouter(t, newRouterStore())
	rec := doJSON(t, h, http.MethodGet, "/api/v1/tokens/balance", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRouterPackagesPublic(t *testing.T) {
	h := newTestRouter(t, newRouterStore())
	rec := doJSON(t, h, http.MethodGet, "/api/v1/tokens/packages?currency=USD", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out struct {
		Packages []models.Package `json:"packages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Packages) != 4 {
		t.Fatalf("USD packages = %d, want 4", len(out.Packages))
	}
}

func TestRouterCommitChargeInsufficient(t *testing.T) {
	st := newRouterStore()
	h := newTestRouter(t, st)
	accountID := seedRouterAccount(t, st, 1)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/charges/commit", "dev-"+accountID,
		map[string]any{"operation": "custom_model"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body)
	}
	var out struct {
		Code    string `json:"code"`
		Details struct {
			Balance          int64  `json:"balance"`
			Deficit          int64  `json:"deficit"`
			SuggestedPackage string `json:"suggested_package"`
		} `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Code != "insufficient_balance" || out.Details.Deficit != 2 || out.Details.SuggestedPackage == "" {
		t.Fatalf("unexpected body: %s", rec.Body)
	}
}

func TestRouterPurchaseCamelCasePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents" {
			fmt.Fprint(w, `{"id":"pi_9","status":"requires_payment_method","client_secret":"pi_9_secret"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	st := newRouterStore()
	h := newTestRouterStripe(t, st, srv.URL)
	accountID := seedRouterAccount(t, st, 0)

	// The documented camelCase spelling initiates a purchase, 200.
	rec := doJSON(t, h, http.MethodPost, "/api/v1/tokens/purchase", "dev-"+accountID,
		map[string]any{"packageId": "starter", "paymentMethodId": "stripe"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var out struct {
		TransactionID string `json:"transaction_id"`
		ClientSecret  string `json:"client_secret"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.TransactionID != "pi_9" || out.ClientSecret == "" {
		t.Fatalf("unexpected body: %s", rec.Body)
	}

	// An unknown package id sent camelCase is a 404, not a missing-field
	// 400, so the key really was read.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/tokens/purchase", "dev-"+accountID,
		map[string]any{"packageId": "nope", "paymentMethodId": "stripe"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", rec.Code, rec.Body)
	}
}

func TestRouterCommitCharge(t *testing.T) {
	st := newRouterStore()
	h := newTestRouter(t, st)
	accountID := seedRouterAccount(t, st, 5)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/charges/commit", "dev-"+accountID,
		map[string]any{"operation": "generate_image"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var out struct {
		NewBalance int64 `json:"new_balance"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out.NewBalance != 3 {
		t.Fatalf("new_balance = %d, want 3", out.NewBalance)
	}
}

// A webhook whose signature does not verify is rejected with 400 and
// mutates nothing.
func TestRouterWebhookBadSignature(t *testing.T) {
	st := newRouterStore()
	h := newTestRouter(t, st)
	accountID := seedRouterAccount(t, st, 7)

	body := `{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_evil","metadata":{"account_id":"` + accountID + `","package_id":"enterprise"}}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tokens/webhook?provider=stripe", bytes.NewReader([]byte(body)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body)
	}
	acct, _ := st.GetByID(context.Background(), accountID)
	if acct.TokenBalance != 7 {
		t.Fatalf("forged webhook moved balance to %d", acct.TokenBalance)
	}
}

func signedMoMoIPN(t *testing.T, orderID, extraData string) []byte {
	t.Helper()
	fields := map[string]any{
		"partnerCode": "P", "orderId": orderID, "requestId": "req-1",
		"amount": int64(399000), "orderInfo": "Token package pro_vnd",
		"orderType": "momo_wallet", "transId": int64(42), "resultCode": 0,
		"message": "Successful.", "payType": "qr",
		"responseTime": int64(1700000000000), "extraData": extraData,
	}
	raw := "accessKey=A" +
		"&amount=399000" +
		"&extraData=" + extraData +
		"&message=Successful." +
		"&orderId=" + orderID +
		"&orderInfo=Token package pro_vnd" +
		"&orderType=momo_wallet" +
		"&partnerCode=P" +
		"&payType=qr" +
		"&requestId=req-1" +
		"&responseTime=1700000000000" +
		"&resultCode=0" +
		"&transId=42"
	mac := hmac.New(sha256.New, []byte(momoTestSecret))
	mac.Write([]byte(raw))
	fields["signature"] = hex.EncodeToString(mac.Sum(nil))

	body, err := json.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

// The full async ingress path: a signed IPN settles once, and the
// gateway's redelivery comes back 200 without crediting again.
func TestRouterWebhookSettlesOnce(t *testing.T) {
	st := newRouterStore()
	h := newTestRouter(t, st)
	accountID := seedRouterAccount(t, st, 0)

	orderID := "TOKEN_" + accountID + "_1700000000000000000"
	extra := base64.StdEncoding.EncodeToString([]byte(`{"package_id":"pro_vnd"}`))
	body := signedMoMoIPN(t, orderID, extra)

	deliver := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tokens/webhook?provider=momo", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := deliver()
	if rec.Code != http.StatusOK {
		t.Fatalf("first delivery: %d: %s", rec.Code, rec.Body)
	}
	acct, _ := st.GetByID(context.Background(), accountID)
	if acct.TokenBalance != 120 {
		t.Fatalf("balance = %d, want 120", acct.TokenBalance)
	}

	rec = deliver()
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery: %d: %s", rec.Code, rec.Body)
	}
	var out struct {
		AlreadySettled bool `json:"already_settled"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if !out.AlreadySettled {
		t.Fatal("redelivery not reported as already settled")
	}
	acct, _ = st.GetByID(context.Background(), accountID)
	if acct.TokenBalance != 120 {
		t.Fatalf("redelivery changed balance to %d", acct.TokenBalance)
	}
}

func TestRouterAdminOnly(t *testing.T) {
	st := newRouterStore()
	h := newTestRouter(t, st)
	accountID := seedRouterAccount(t, st, 0)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/audit/events", "dev-"+accountID, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
