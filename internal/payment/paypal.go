package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const paypalSandboxBase = "https://api-m.sandbox.paypal.com"

// PayPal drives the Orders v2 API. Orders carry the account and package
// ids in custom_id, and the reference id follows the TOKEN_ convention as
// a fallback for reconciliation.
type PayPal struct {
	clientID     string
	clientSecret string
	baseURL      string
	client       *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Timeout      time.Duration
}

func NewPayPal(cfg PayPalConfig) *PayPal {
	base := cfg.BaseURL
	if base == "" {
		base = paypalSandboxBase
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &PayPal{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		baseURL:      strings.TrimRight(base, "/"),
		client:       &http.Client{Timeout: timeout},
	}
}

func (p *PayPal) Name() string { return "paypal" }

type paypalCustomID struct {
	AccountID string `json:"account_id"`
	PackageID string `json:"package_id"`
}

type paypalPurchaseUnit struct {
	ReferenceID string `json:"reference_id,omitempty"`
	Description string `json:"description,omitempty"`
	CustomID    string `json:"custom_id,omitempty"`
	Amount      *struct {
		CurrencyCode string `json:"currency_code"`
		Value        string `json:"value"`
	} `json:"amount,omitempty"`
	Payments *struct {
		Captures []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"captures"`
	} `json:"payments,omitempty"`
}

type paypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	Links         []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

func (p *PayPal) CreatePayment(ctx context.Context, params CreateParams) (*CreateResult, error) {
	if params.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	custom, _ := json.Marshal(paypalCustomID{AccountID: params.AccountID, PackageID: params.PackageID})

	order := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": NewTxRef(params.AccountID),
			"description":  "Token package " + params.PackageID,
			"custom_id":    string(custom),
			"amount": map[string]string{
				"currency_code": strings.ToUpper(params.Currency),
				"value":         params.Amount.StringFixed(2),
			},
		}},
		"application_context": map[string]string{
			"return_url":  params.ReturnURL,
			"cancel_url":  params.CancelURL,
			"user_action": "PAY_NOW",
		},
	}

	var created paypalOrder
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", order, &created); err != nil {
		return nil, err
	}
	res := &CreateResult{TransactionID: created.ID}
	for _, l := range created.Links {
		if l.Rel == "approve" {
			res.RedirectURL = l.Href
		}
	}
	return res, nil
}

func (p *PayPal) Verify(ctx context.Context, transactionID string) (*Verification, error) {
	var order paypalOrder
	if err := p.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(transactionID), nil, &order); err != nil {
		return nil, err
	}
	v := &Verification{TransactionID: order.ID, Status: paypalStatus(order.Status)}
	if len(order.PurchaseUnits) > 0 {
		pu := order.PurchaseUnits[0]
		if pu.Amount != nil {
			v.Currency = pu.Amount.CurrencyCode
			if amt, err := decimal.NewFromString(pu.Amount.Value); err == nil {
				v.Amount = amt
			}
		}
		v.AccountID, v.PackageID = paypalIdentity(pu)
	}
	return v, nil
}

// Capture finalizes an approved order. PayPal completes only on capture,
// so the confirm path captures before settling.
func (p *PayPal) Capture(ctx context.Context, transactionID string) (*CaptureResult, error) {
	var order paypalOrder
	path := "/v2/checkout/orders/" + url.PathEscape(transactionID) + "/capture"
	if err := p.do(ctx, http.MethodPost, path, struct{}{}, &order); err != nil {
		return nil, err
	}
	res := &CaptureResult{Status: paypalStatus(order.Status)}
	if len(order.PurchaseUnits) > 0 {
		pu := order.PurchaseUnits[0]
		res.AccountID, res.PackageID = paypalIdentity(pu)
		if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			res.CaptureID = pu.Payments.Captures[0].ID
		}
	}
	if res.Status != StatusCompleted {
		return res, fmt.Errorf("%w: paypal order %s", ErrNotCompleted, order.Status)
	}
	return res, nil
}

// Refund refunds a capture. It reports the gateway outcome only; token
// balances are untouched by design.
func (p *PayPal) Refund(ctx context.Context, captureID string, amount *decimal.Decimal, currency string) (*RefundResult, error) {
	body := any(struct{}{})
	if amount != nil {
		body = map[string]any{"amount": map[string]string{
			"currency_code": strings.ToUpper(currency),
			"value":         amount.StringFixed(2),
		}}
	}
	var out struct {
		Status string `json:"status"`
	}
	path := "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund"
	if err := p.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &RefundResult{Status: out.Status}, nil
}

// ParseNotification extracts the order id only. PayPal events are not
// locally signed, so the caller re-verifies through the Orders API; the
// empty AccountID signals that.
func (p *PayPal) ParseNotification(_ http.Header, query url.Values, body []byte) (*Notification, error) {
	var event struct {
		Resource struct {
			ID string `json:"id"`
		} `json:"resource"`
	}
	_ = json.Unmarshal(body, &event)

	orderID := event.Resource.ID
	if orderID == "" {
		orderID = query.Get("token")
	}
	if orderID == "" {
		return nil, fmt.Errorf("%w: paypal notification missing order id", ErrValidation)
	}
	return &Notification{TransactionID: orderID}, nil
}

func paypalIdentity(pu paypalPurchaseUnit) (accountID, packageID string) {
	var custom paypalCustomID
	if pu.CustomID != "" && json.Unmarshal([]byte(pu.CustomID), &custom) == nil && custom.AccountID != "" {
		return custom.AccountID, custom.PackageID
	}
	if id, ok := AccountFromTxRef(pu.ReferenceID); ok {
		return id, ""
	}
	return "", ""
}

func paypalStatus(s string) PaymentStatus {
	switch s {
	case "COMPLETED":
		return StatusCompleted
	case "VOIDED":
		return StatusFailed
	default:
		return StatusPending
	}
}

func (p *PayPal) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(p.clientID + ":" + p.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: paypal auth: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: paypal auth returned %d", ErrUnavailable, resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("%w: paypal auth response", ErrUnavailable)
	}
	p.accessToken = tok.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn-60) * time.Second)
	return p.accessToken, nil
}

func (p *PayPal) do(ctx context.Context, method, path string, body, out any) error {
	tok, err := p.token(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = strings.NewReader(string(raw))
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: paypal: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: paypal returned %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%w: paypal: %s", ErrValidation, apiErr.Message)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
