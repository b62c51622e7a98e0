package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aistylehub/tokenledger/internal/catalog"
	"github.com/aistylehub/tokenledger/internal/metrics"
	"github.com/aistylehub/tokenledger/internal/models"
	"github.com/aistylehub/tokenledger/internal/payment"
	repo "github.com/aistylehub/tokenledger/internal/repository"
	"github.com/shopspring/decimal"
)

// PurchaseService runs the purchase flow end to end: payment creation
// with a provider, then settlement through the ledger via either ingress
// path.
type PurchaseService struct {
	providers *payment.Registry
	ledger    *LedgerService
	accounts  repo.Accounts
	purchases repo.Purchases
	audit     repo.AuditEvents
}

func NewPurchaseService(pr *payment.Registry, l *LedgerService, a repo.Accounts, p repo.Purchases, audit repo.AuditEvents) *PurchaseService {
	return &PurchaseService{providers: pr, ledger: l, accounts: a, purchases: p, audit: audit}
}

type InitiateParams struct {
	AccountID string
	Email     string
	PackageID string
	MethodID  string
	BaseURL   string
	IPAddress string
}

type InitiateResult struct {
	TransactionID              string `json:"transaction_id"`
	RequiresRedirect           bool   `json:"requires_redirect,omitempty"`
	PaymentURL                 string `json:"payment_url,omitempty"`
	RequiresClientConfirmation bool   `json:"requires_client_confirmation,omitempty"`
	ClientSecret               string `json:"client_secret,omitempty"`
}

// Initiate creates a payment with the chosen provider and returns the
// opaque transaction reference. No tokens move here.
func (s *PurchaseService) Initiate(ctx context.Context, p InitiateParams) (*InitiateResult, error) {
	if p.PackageID == "" || p.MethodID == "" {
		return nil, fmt.Errorf("%w: packageId and paymentMethodId are required", ErrValidation)
	}
	pkg, ok := catalog.Package(p.PackageID)
	if !ok {
		s.auditAsync(ctx, p.AccountID, models.EventPurchaseFailed, models.LevelWarning,
			map[string]any{"reason": "unknown_package", "package_id": p.PackageID})
		return nil, fmt.Errorf("%w: package %q", ErrNotFound, p.PackageID)
	}
	provider, ok := s.providers.Get(p.MethodID)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported payment method %q", ErrValidation, p.MethodID)
	}

	s.auditAsync(ctx, p.AccountID, models.EventPurchaseInitiated, models.LevelInfo, map[string]any{
		"package_id": pkg.ID,
		"tokens":     pkg.Tokens,
		"amount":     pkg.Price.String(),
		"currency":   pkg.Currency,
		"provider":   provider.Name(),
		"ip":         p.IPAddress,
	})

	created, err := provider.CreatePayment(ctx, payment.CreateParams{
		Amount:    pkg.Price,
		Currency:  pkg.Currency,
		AccountID: p.AccountID,
		PackageID: pkg.ID,
		Email:     p.Email,
		ReturnURL: p.BaseURL + "/api/v1/tokens/callback?provider=" + provider.Name(),
		CancelURL: p.BaseURL + "/tokens?payment=cancelled",
		NotifyURL: p.BaseURL + "/api/v1/tokens/webhook?provider=" + provider.Name(),
		IPAddress: p.IPAddress,
	})
	if err != nil {
		s.auditAsync(ctx, p.AccountID, models.EventPaymentDeclined, models.LevelWarning, map[string]any{
			"package_id": pkg.ID,
			"provider":   provider.Name(),
			"reason":     err.Error(),
		})
		if errors.Is(err, payment.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentDeclined, err)
	}

	metrics.PaymentsCreated.WithLabelValues(provider.Name()).Inc()
	return &InitiateResult{
		TransactionID:              created.TransactionID,
		RequiresRedirect:           created.RedirectURL != "",
		PaymentURL:                 created.RedirectURL,
		RequiresClientConfirmation: created.ClientSecret != "",
		ClientSecret:               created.ClientSecret,
	}, nil
}

type ConfirmResult struct {
	TransactionID  string `json:"transaction_id"`
	TokensAdded    int64  `json:"tokens_added"`
	NewBalance     int64  `json:"new_balance"`
	AlreadySettled bool   `json:"already_settled,omitempty"`
}

// Confirm is the synchronous ingress path: the client reports a finished
// payment, we re-verify with the provider and settle. Replays return the
// recorded result without crediting again.
func (s *PurchaseService) Confirm(ctx context.Context, accountID, providerName, transactionID, packageID string) (*ConfirmResult, error) {
	if transactionID == "" || packageID == "" {
		return nil, fmt.Errorf("%w: transactionId and packageId are required", ErrValidation)
	}
	provider, ok := s.providers.Get(providerName)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrValidation, providerName)
	}

	v, err := provider.Verify(ctx, transactionID)
	if err != nil {
		return nil, providerErr(err)
	}
	verifiedAccount, verifiedPackage := v.AccountID, v.PackageID

	if v.Status != payment.StatusCompleted {
		// Approved-but-uncaptured payments (PayPal) complete on capture.
		cap, err := provider.Capture(ctx, transactionID)
		if err != nil {
			return nil, providerErr(err)
		}
		if cap.Status != payment.StatusCompleted {
			return nil, ErrNotCompleted
		}
		if cap.AccountID != "" {
			verifiedAccount = cap.AccountID
		}
		if cap.PackageID != "" {
			verifiedPackage = cap.PackageID
		}
	}

	// The account comes from provider-verified data; the session only
	// gates access. A mismatch means the credential does not own this
	// payment.
	if verifiedAccount == "" || verifiedAccount != accountID {
		return nil, fmt.Errorf("%w: transaction does not belong to this account", ErrValidation)
	}
	pkg, ok := catalog.Package(packageID)
	if !ok {
		return nil, fmt.Errorf("%w: package %q", ErrNotFound, packageID)
	}
	// Like the account, the package must be provable from provider data.
	// When verification carries no package id, the charged amount is the
	// only verified evidence of what was bought.
	if verifiedPackage != "" {
		if verifiedPackage != packageID {
			return nil, fmt.Errorf("%w: package mismatch", ErrValidation)
		}
	} else if !v.Amount.Equal(pkg.Price) || !strings.EqualFold(v.Currency, pkg.Currency) {
		return nil, fmt.Errorf("%w: paid amount does not match package %q", ErrValidation, packageID)
	}

	res, err := s.ledger.Settle(ctx, verifiedAccount, transactionID, provider.Name(), pkg)
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{
		TransactionID:  transactionID,
		TokensAdded:    res.Purchase.TokensCredited,
		NewBalance:     res.NewBalance,
		AlreadySettled: res.AlreadySettled,
	}, nil
}

// HandleWebhook is the asynchronous ingress path, raw side: the adapter
// authenticates the payload (signature or provider re-query) and the
// verified notification settles. A payload that fails authentication is
// audited and rejected without touching the ledger.
func (s *PurchaseService) HandleWebhook(ctx context.Context, providerName string, header http.Header, query url.Values, body []byte) (*SettleResult, error) {
	provider, ok := s.providers.Get(providerName)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrValidation, providerName)
	}
	n, err := provider.ParseNotification(header, query, body)
	if err != nil {
		metrics.WebhookRejected.WithLabelValues(providerName).Inc()
		s.auditAsync(ctx, "", models.EventWebhookRejected, models.LevelSecurity, map[string]any{
			"provider": providerName,
			"reason":   err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.SettleNotification(ctx, providerName, n)
}

// SettleNotification is the asynchronous ingress path. The notification
// has already passed the adapter's ParseNotification; when the adapter
// could not authenticate the payload locally (empty AccountID) the
// provider is re-queried before anything settles.
func (s *PurchaseService) SettleNotification(ctx context.Context, providerName string, n *payment.Notification) (*SettleResult, error) {
	provider, ok := s.providers.Get(providerName)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrValidation, providerName)
	}

	accountID, packageID := n.AccountID, n.PackageID
	completed := n.Completed
	if accountID == "" {
		v, err := provider.Verify(ctx, n.TransactionID)
		if err != nil {
			return nil, providerErr(err)
		}
		accountID, packageID = v.AccountID, v.PackageID
		completed = v.Status == payment.StatusCompleted
	}

	if !completed {
		return nil, ErrNotCompleted
	}
	if accountID == "" {
		return nil, fmt.Errorf("%w: notification carries no verified account", ErrValidation)
	}
	pkg, ok := catalog.Package(packageID)
	if !ok {
		metrics.WebhookRejected.WithLabelValues(providerName).Inc()
		s.auditAsync(ctx, accountID, models.EventWebhookRejected, models.LevelWarning, map[string]any{
			"provider":       providerName,
			"transaction_id": n.TransactionID,
			"reason":         "unknown_package",
			"package_id":     packageID,
		})
		return nil, fmt.Errorf("%w: package %q", ErrNotFound, packageID)
	}

	return s.ledger.Settle(ctx, accountID, n.TransactionID, providerName, pkg)
}

type RefundParams struct {
	AccountID        string
	Provider         string
	CaptureReference string
	Amount           *decimal.Decimal
	Currency         string
}

// Refund forwards a money refund to the provider. It deliberately leaves
// the token balance alone: whether tokens come back is a separate,
// explicit decision (ChargeService.RefundTokens).
func (s *PurchaseService) Refund(ctx context.Context, p RefundParams) (string, error) {
	if p.CaptureReference == "" {
		return "", fmt.Errorf("%w: captureReference is required", ErrValidation)
	}
	provider, ok := s.providers.Get(p.Provider)
	if !ok {
		return "", fmt.Errorf("%w: unsupported provider %q", ErrValidation, p.Provider)
	}

	res, err := provider.Refund(ctx, p.CaptureReference, p.Amount, p.Currency)
	if err != nil {
		return "", providerErr(err)
	}

	details := map[string]any{
		"provider":          p.Provider,
		"capture_reference": p.CaptureReference,
		"status":            res.Status,
	}
	if p.Amount != nil {
		details["amount"] = p.Amount.String()
		details["currency"] = p.Currency
	}
	s.auditAsync(ctx, p.AccountID, models.EventPaymentVerified, models.LevelInfo, details)
	return res.Status, nil
}

type BalanceSummary struct {
	Balance         int64             `json:"balance"`
	TotalPurchased  int64             `json:"total_purchased"`
	TotalUsed       int64             `json:"total_used"`
	LowBalance      bool              `json:"low_balance"`
	RecentPurchases []models.Purchase `json:"recent_purchases"`
}

func (s *PurchaseService) Balance(ctx context.Context, accountID string) (*BalanceSummary, error) {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	recent, err := s.purchases.ListByAccount(ctx, accountID, 5)
	if err != nil {
		return nil, err
	}
	return &BalanceSummary{
		Balance:         acct.TokenBalance,
		TotalPurchased:  acct.TotalPurchased,
		TotalUsed:       acct.TotalUsed,
		LowBalance:      acct.TokenBalance <= catalog.LowBalanceThreshold,
		RecentPurchases: recent,
	}, nil
}

func (s *PurchaseService) History(ctx context.Context, accountID string, limit int) ([]models.Purchase, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.purchases.ListByAccount(ctx, accountID, limit)
}

func (s *PurchaseService) auditAsync(ctx context.Context, accountID string, t models.AuditEventType, lvl models.AuditLevel, details map[string]any) {
	e := models.AuditEvent{EventType: t, Level: lvl, Details: details}
	if accountID != "" {
		e.AccountID = &accountID
	}
	if s.ledger.wp != nil {
		s.ledger.wp.Submit(func() { _ = s.audit.Append(context.WithoutCancel(ctx), e) })
		return
	}
	_ = s.audit.Append(ctx, e)
}

func providerErr(err error) error {
	switch {
	case errors.Is(err, payment.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	case errors.Is(err, payment.ErrNotCompleted):
		return ErrNotCompleted
	case errors.Is(err, payment.ErrValidation):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	default:
		return err
	}
}
