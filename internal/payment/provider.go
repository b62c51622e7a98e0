// Package payment normalizes external payment gateways behind one
// Provider interface. Orchestration code depends only on this interface,
// never on gateway-specific types.
package payment

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable covers network failures, timeouts and gateway 5xx.
	// The payment state is unknown; callers must not treat it as failed
	// and must re-verify through the idempotent settlement path.
	ErrUnavailable = errors.New("payment provider unavailable")

	// ErrNotCompleted means the gateway reports the payment as not (yet)
	// finished.
	ErrNotCompleted = errors.New("payment not completed")

	// ErrValidation covers bad amounts, unsupported currencies and
	// malformed notifications.
	ErrValidation = errors.New("invalid payment request")
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
	StatusFailed    PaymentStatus = "failed"
)

type CreateParams struct {
	Amount    decimal.Decimal
	Currency  string
	AccountID string
	PackageID string
	Email     string
	ReturnURL string
	CancelURL string
	NotifyURL string
	IPAddress string
}

type CreateResult struct {
	TransactionID string
	// RedirectURL is set for redirect-based gateways (MoMo, PayPal).
	RedirectURL string
	// ClientSecret is set for gateways confirmed client-side (Stripe).
	ClientSecret string
}

// Verification is a read-only view of a payment. AccountID and PackageID
// come from data the adapter itself authenticated: gateway metadata where
// the gateway supports it, otherwise the TOKEN_<accountID>_<nonce>
// transaction-ref convention the adapter generated at create time.
type Verification struct {
	TransactionID string
	Status        PaymentStatus
	Amount        decimal.Decimal
	Currency      string
	AccountID     string
	PackageID     string
}

type CaptureResult struct {
	Status    PaymentStatus
	CaptureID string
	AccountID string
	PackageID string
}

type RefundResult struct {
	Status string
}

// Notification is a verified asynchronous gateway notification.
type Notification struct {
	TransactionID string
	Completed     bool
	AccountID     string
	PackageID     string
}

// Provider adapts one payment gateway. Verify has no ledger side effects;
// Refund never touches token balances — callers decide separately whether
// tokens move.
type Provider interface {
	Name() string
	CreatePayment(ctx context.Context, p CreateParams) (*CreateResult, error)
	Verify(ctx context.Context, transactionID string) (*Verification, error)
	Capture(ctx context.Context, transactionID string) (*CaptureResult, error)
	Refund(ctx context.Context, ref string, amount *decimal.Decimal, currency string) (*RefundResult, error)
	ParseNotification(header http.Header, query url.Values, body []byte) (*Notification, error)
}

// Registry maps gateway names to adapters.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}
