package repository

import (
	"context"
	"errors"

	"github.com/aistylehub/tokenledger/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrInsufficientBalance means a debit would have taken the balance
	// below zero; the balance is unchanged.
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrDuplicateEmail = errors.New("email already registered")
)

type Accounts interface {
	Create(ctx context.Context, email, passwordHash, role string) (models.Account, error)
	GetByID(ctx context.Context, id string) (models.Account, error)
	GetByEmail(ctx context.Context, email string) (models.Account, error)
}

// Balances owns every token_balance mutation. Each operation runs in one
// storage transaction together with its audit event, and serializes per
// account via the row update itself.
type Balances interface {
	// Credit unconditionally adds amount and bumps total_purchased.
	Credit(ctx context.Context, accountID string, amount int64, event models.AuditEvent) (newBalance int64, err error)
	// Debit subtracts amount and bumps total_used, failing with
	// ErrInsufficientBalance when the result would be negative.
	Debit(ctx context.Context, accountID string, amount int64, event models.AuditEvent) (newBalance int64, err error)
	// Refund returns previously debited tokens: adds amount back and
	// reduces total_used, keeping total_purchased - total_used = balance.
	Refund(ctx context.Context, accountID string, amount int64, event models.AuditEvent) (newBalance int64, err error)
}

// Purchases is the purchase ledger. Settle is the idempotency guard: the
// insert races on the provider_txn_id uniqueness constraint, and only the
// winner credits tokens.
type Purchases interface {
	// Settle atomically inserts the purchase, credits its tokens and
	// appends the audit event. When a purchase already exists for the
	// provider transaction id it returns that record with created=false
	// and no balance change.
	Settle(ctx context.Context, p models.Purchase, event models.AuditEvent) (rec models.Purchase, created bool, err error)
	GetByProviderTxnID(ctx context.Context, providerTxnID string) (models.Purchase, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Purchase, error)
}

// Reservations implements the two-phase reserve/commit spend pattern.
type Reservations interface {
	// Hold debits amount and records a held reservation atomically.
	Hold(ctx context.Context, accountID string, amount int64, operation string, event models.AuditEvent) (models.Reservation, error)
	// Commit finalizes a held reservation; the debit stands.
	Commit(ctx context.Context, id string) (models.Reservation, error)
	// Release cancels a held reservation and credits the amount back.
	Release(ctx context.Context, id string, event models.AuditEvent) (models.Reservation, error)
	Get(ctx context.Context, id string) (models.Reservation, error)
}

type AuditEvents interface {
	Append(ctx context.Context, e models.AuditEvent) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.AuditEvent, error)
	ListRecent(ctx context.Context, limit int) ([]models.AuditEvent, error)
}
