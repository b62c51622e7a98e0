package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aistylehub/tokenledger/internal/events"
	"github.com/aistylehub/tokenledger/internal/metrics"
	"github.com/aistylehub/tokenledger/internal/models"
	repo "github.com/aistylehub/tokenledger/internal/repository"
	"github.com/aistylehub/tokenledger/internal/worker"
)

// LedgerService is the idempotency guard in front of the purchase ledger.
// Both ingress paths (client confirmation and provider webhook) terminate
// here, and calling Settle any number of times for one provider
// transaction credits tokens exactly once.
type LedgerService struct {
	purchases repo.Purchases
	accounts  repo.Accounts
	bus       events.Publisher
	wp        *worker.Pool
}

func NewLedgerService(p repo.Purchases, a repo.Accounts, bus events.Publisher, wp *worker.Pool) *LedgerService {
	if bus == nil {
		bus = events.Noop{}
	}
	return &LedgerService{purchases: p, accounts: a, bus: bus, wp: wp}
}

type SettleResult struct {
	Purchase       models.Purchase
	AlreadySettled bool
	NewBalance     int64
}

// Settle converts a verified payment into a token credit. The storage
// layer races the insert on the provider_txn_id uniqueness constraint;
// a lost race or a replay returns the existing record unchanged.
func (s *LedgerService) Settle(ctx context.Context, accountID, providerTxnID, provider string, pkg models.Package) (*SettleResult, error) {
	if providerTxnID == "" || accountID == "" {
		return nil, fmt.Errorf("%w: missing transaction or account id", ErrValidation)
	}

	p := models.Purchase{
		AccountID:      accountID,
		ProviderTxnID:  providerTxnID,
		Provider:       provider,
		Amount:         pkg.Price,
		Currency:       pkg.Currency,
		TokensCredited: pkg.Tokens,
		Status:         models.PurchaseCompleted,
	}
	event := models.AuditEvent{
		AccountID: &accountID,
		EventType: models.EventPurchaseCompleted,
		Level:     models.LevelInfo,
		Details: map[string]any{
			"provider":       provider,
			"transaction_id": providerTxnID,
			"package_id":     pkg.ID,
			"tokens_added":   pkg.Tokens,
			"amount":         pkg.Price.String(),
			"currency":       pkg.Currency,
		},
	}

	rec, created, err := s.purchases.Settle(ctx, p, event)
	if err != nil {
		return nil, err
	}

	res := &SettleResult{Purchase: rec, AlreadySettled: !created}
	if created {
		metrics.SettlementsTotal.WithLabelValues(provider).Inc()
		s.publish(events.SubjectSettled, rec)
	} else {
		metrics.DuplicateSettlements.Inc()
	}

	// Balance is read after the settlement commits; under concurrent
	// settlements for different transactions the value is simply the
	// latest committed one.
	acct, err := s.accounts.GetByID(ctx, rec.AccountID)
	if err != nil {
		return nil, err
	}
	res.NewBalance = acct.TokenBalance
	return res, nil
}

func (s *LedgerService) publish(subject string, v any) {
	if s.wp == nil {
		if err := s.bus.Publish(subject, v); err != nil {
			slog.Error("event publish", "subject", subject, "err", err)
		}
		return
	}
	s.wp.Submit(func() {
		if err := s.bus.Publish(subject, v); err != nil {
			slog.Error("event publish", "subject", subject, "err", err)
		}
	})
}
