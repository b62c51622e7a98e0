package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/aistylehub/tokenledger/internal/catalog"
	"github.com/aistylehub/tokenledger/internal/events"
	"github.com/aistylehub/tokenledger/internal/metrics"
	"github.com/aistylehub/tokenledger/internal/models"
	repo "github.com/aistylehub/tokenledger/internal/repository"
)

// ChargeService gates paid operations behind the token balance and
// reconciles the balance with the operation outcome.
//
// Two spending patterns coexist:
//
//   - Preflight + CommitCharge: the historical charge-after-success flow.
//     Because the debit lands after the operation ran, two concurrent
//     requests can both pass Preflight when the balance covers only one;
//     the loser's CommitCharge fails with ErrInsufficientBalance even
//     though its operation already ran. The balance invariant holds, the
//     operation ran unbilled. Accepted and surfaced, not masked.
//
//   - Reserve + CommitReservation/ReleaseReservation: the exact variant.
//     Reserve debits up front, so concurrent callers contend at
//     reservation time and nothing runs unbilled.
type ChargeService struct {
	accounts     repo.Accounts
	balances     repo.Balances
	reservations repo.Reservations
	audit        repo.AuditEvents
	ledger       *LedgerService
}

func NewChargeService(a repo.Accounts, b repo.Balances, r repo.Reservations, audit repo.AuditEvents, l *LedgerService) *ChargeService {
	return &ChargeService{accounts: a, balances: b, reservations: r, audit: audit, ledger: l}
}

type PreflightResult struct {
	Allowed          bool   `json:"allowed"`
	Balance          int64  `json:"balance"`
	Required         int64  `json:"required"`
	Deficit          int64  `json:"deficit,omitempty"`
	SuggestedPackage string `json:"suggested_package,omitempty"`
}

// Preflight is a read-only affordability check used to fail fast before
// expensive external work. It never mutates the balance.
func (s *ChargeService) Preflight(ctx context.Context, accountID string, cost int64) (*PreflightResult, error) {
	if cost <= 0 {
		return nil, fmt.Errorf("%w: cost must be positive", ErrValidation)
	}
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	res := &PreflightResult{
		Allowed:  acct.TokenBalance >= cost,
		Balance:  acct.TokenBalance,
		Required: cost,
	}
	if !res.Allowed {
		res.Deficit = cost - acct.TokenBalance
		if pkg, ok := catalog.SuggestPackage(res.Deficit, "USD"); ok {
			res.SuggestedPackage = pkg.ID
		}
	}
	return res, nil
}

// CommitCharge debits the cost of an operation that already succeeded.
func (s *ChargeService) CommitCharge(ctx context.Context, accountID string, cost int64, operation string, metadata map[string]any) (int64, error) {
	if cost <= 0 {
		return 0, fmt.Errorf("%w: cost must be positive", ErrValidation)
	}

	details := map[string]any{"operation": operation, "tokens": cost}
	for k, v := range metadata {
		details[k] = v
	}
	event := models.AuditEvent{
		AccountID: &accountID,
		EventType: models.EventTokensDebited,
		Level:     models.LevelInfo,
		Details:   details,
	}

	balance, err := s.balances.Debit(ctx, accountID, cost, event)
	if err != nil {
		return 0, s.debitError(ctx, accountID, cost, operation, err)
	}
	metrics.DebitsTotal.Inc()
	s.ledger.publish(events.SubjectDebited, map[string]any{
		"account_id": accountID,
		"operation":  operation,
		"tokens":     cost,
		"balance":    balance,
	})
	return balance, nil
}

// Reserve debits the cost up front and returns a reservation to commit or
// release once the operation's outcome is known.
func (s *ChargeService) Reserve(ctx context.Context, accountID string, cost int64, operation string) (models.Reservation, error) {
	if cost <= 0 {
		return models.Reservation{}, fmt.Errorf("%w: cost must be positive", ErrValidation)
	}
	event := models.AuditEvent{
		AccountID: &accountID,
		EventType: models.EventTokensDebited,
		Level:     models.LevelInfo,
		Details:   map[string]any{"operation": operation, "tokens": cost, "reserved": true},
	}
	res, err := s.reservations.Hold(ctx, accountID, cost, operation, event)
	if err != nil {
		return models.Reservation{}, s.debitError(ctx, accountID, cost, operation, err)
	}
	metrics.DebitsTotal.Inc()
	return res, nil
}

func (s *ChargeService) CommitReservation(ctx context.Context, id string) (models.Reservation, error) {
	res, err := s.reservations.Commit(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return models.Reservation{}, ErrNotFound
	}
	return res, err
}

func (s *ChargeService) ReleaseReservation(ctx context.Context, id string) (models.Reservation, error) {
	var accountID string
	if r, err := s.reservations.Get(ctx, id); err == nil {
		accountID = r.AccountID
	}
	event := models.AuditEvent{
		AccountID: &accountID,
		EventType: models.EventTokensRefunded,
		Level:     models.LevelInfo,
		Details:   map[string]any{"reservation_id": id, "reason": "released"},
	}
	res, err := s.reservations.Release(ctx, id, event)
	if errors.Is(err, repo.ErrNotFound) {
		return models.Reservation{}, ErrNotFound
	}
	return res, err
}

// RefundTokens re-credits tokens after an operation failed post-charge.
// This is the only path that returns tokens; provider-side money refunds
// never touch the balance implicitly.
func (s *ChargeService) RefundTokens(ctx context.Context, accountID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	event := models.AuditEvent{
		AccountID: &accountID,
		EventType: models.EventTokensRefunded,
		Level:     models.LevelInfo,
		Details:   map[string]any{"tokens": amount, "reason": reason},
	}
	balance, err := s.balances.Refund(ctx, accountID, amount, event)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	s.ledger.publish(events.SubjectRefunded, map[string]any{
		"account_id": accountID,
		"tokens":     amount,
		"reason":     reason,
	})
	return balance, nil
}

func (s *ChargeService) debitError(ctx context.Context, accountID string, cost int64, operation string, err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repo.ErrInsufficientBalance):
		metrics.InsufficientBalance.Inc()
		detail := &InsufficientBalanceError{Required: cost}
		if acct, gerr := s.accounts.GetByID(ctx, accountID); gerr == nil {
			detail.Balance = acct.TokenBalance
			detail.Deficit = cost - acct.TokenBalance
			if pkg, ok := catalog.SuggestPackage(detail.Deficit, "USD"); ok {
				detail.SuggestedPackage = pkg.ID
			}
		}
		_ = s.audit.Append(ctx, models.AuditEvent{
			AccountID: &accountID,
			EventType: models.EventInsufficientBalance,
			Level:     models.LevelWarning,
			Details: map[string]any{
				"operation": operation,
				"required":  cost,
				"balance":   detail.Balance,
			},
		})
		return detail
	default:
		return err
	}
}
