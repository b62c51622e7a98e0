package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const stripeAPIBase = "https://api.stripe.com"

// Stripe drives the PaymentIntents API directly over its form-encoded
// REST surface. Account and package ids travel in intent metadata, so
// webhook and verification data carry them back authenticated.
type Stripe struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	client        *http.Client

	// now is swapped in tests to pin webhook signature timestamps.
	now func() time.Time
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

func NewStripe(cfg StripeConfig) *Stripe {
	base := cfg.BaseURL
	if base == "" {
		base = stripeAPIBase
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Stripe{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimRight(base, "/"),
		client:        &http.Client{Timeout: timeout},
		now:           time.Now,
	}
}

func (s *Stripe) Name() string { return "stripe" }

type stripeIntent struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
}

func (s *Stripe) CreatePayment(ctx context.Context, p CreateParams) (*CreateResult, error) {
	units, err := MinorUnits(p.Amount, p.Currency)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(units, 10))
	form.Set("currency", strings.ToLower(p.Currency))
	form.Set("metadata[account_id]", p.AccountID)
	form.Set("metadata[package_id]", p.PackageID)
	form.Set("description", "Token purchase - package "+p.PackageID)
	if p.Email != "" {
		form.Set("receipt_email", p.Email)
	}

	var intent stripeIntent
	if err := s.do(ctx, http.MethodPost, "/v1/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	return &CreateResult{TransactionID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

func (s *Stripe) Verify(ctx context.Context, transactionID string) (*Verification, error) {
	var intent stripeIntent
	if err := s.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(transactionID), nil, &intent); err != nil {
		return nil, err
	}
	return &Verification{
		TransactionID: intent.ID,
		Status:        stripeStatus(intent.Status),
		Amount:        fromMinorUnits(intent.Amount, intent.Currency),
		Currency:      strings.ToUpper(intent.Currency),
		AccountID:     intent.Metadata["account_id"],
		PackageID:     intent.Metadata["package_id"],
	}, nil
}

// Capture finalizes a manually-captured intent. Intents created by
// CreatePayment capture automatically; this exists for gateways configured
// with capture_method=manual.
func (s *Stripe) Capture(ctx context.Context, transactionID string) (*CaptureResult, error) {
	var intent stripeIntent
	path := "/v1/payment_intents/" + url.PathEscape(transactionID) + "/capture"
	if err := s.do(ctx, http.MethodPost, path, url.Values{}, &intent); err != nil {
		return nil, err
	}
	return &CaptureResult{
		Status:    stripeStatus(intent.Status),
		CaptureID: intent.ID,
		AccountID: intent.Metadata["account_id"],
		PackageID: intent.Metadata["package_id"],
	}, nil
}

func (s *Stripe) Refund(ctx context.Context, ref string, amount *decimal.Decimal, currency string) (*RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", ref)
	if amount != nil {
		units, err := MinorUnits(*amount, currency)
		if err != nil {
			return nil, err
		}
		form.Set("amount", strconv.FormatInt(units, 10))
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/refunds", form, &out); err != nil {
		return nil, err
	}
	return &RefundResult{Status: out.Status}, nil
}

// ParseNotification checks the Stripe-Signature header (HMAC-SHA256 over
// "<timestamp>.<body>") before trusting any field of the event.
func (s *Stripe) ParseNotification(header http.Header, _ url.Values, body []byte) (*Notification, error) {
	if err := s.checkSignature(header.Get("Stripe-Signature"), body); err != nil {
		return nil, err
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object stripeIntent `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed stripe event: %v", ErrValidation, err)
	}
	obj := event.Data.Object
	if obj.ID == "" || obj.Metadata["account_id"] == "" || obj.Metadata["package_id"] == "" {
		return nil, fmt.Errorf("%w: stripe event missing intent metadata", ErrValidation)
	}
	return &Notification{
		TransactionID: obj.ID,
		Completed:     event.Type == "payment_intent.succeeded",
		AccountID:     obj.Metadata["account_id"],
		PackageID:     obj.Metadata["package_id"],
	}, nil
}

const stripeSignatureTolerance = 5 * time.Minute

func (s *Stripe) checkSignature(sigHeader string, body []byte) error {
	if s.webhookSecret == "" || sigHeader == "" {
		return fmt.Errorf("%w: missing stripe signature", ErrValidation)
	}
	var ts string
	var sigs []string
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad stripe signature timestamp", ErrValidation)
	}
	if d := s.now().Sub(time.Unix(sec, 0)); d > stripeSignatureTolerance || d < -stripeSignatureTolerance {
		return fmt.Errorf("%w: stripe signature timestamp out of tolerance", ErrValidation)
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	for _, got := range sigs {
		if hmac.Equal([]byte(want), []byte(got)) {
			return nil
		}
	}
	return fmt.Errorf("%w: stripe signature mismatch", ErrValidation)
}

func (s *Stripe) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: stripe: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: stripe returned %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%w: stripe: %s", ErrValidation, apiErr.Error.Message)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func stripeStatus(s string) PaymentStatus {
	switch s {
	case "succeeded":
		return StatusCompleted
	case "canceled":
		return StatusFailed
	default:
		return StatusPending
	}
}

func fromMinorUnits(units int64, currency string) decimal.Decimal {
	if _, zero := zeroDecimalCurrencies[strings.ToUpper(currency)]; zero {
		return decimal.NewFromInt(units)
	}
	return decimal.NewFromInt(units).Div(decimal.NewFromInt(100))
}
