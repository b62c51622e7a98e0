package postgres

import (
	"context"
	"errors"

	"github.com/aistylehub/tokenledger/internal/models"
	repo "github.com/aistylehub/tokenledger/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type balancesRepo struct{ pool *pgxpool.Pool }

// Credit adds tokens unconditionally. The single UPDATE serializes
// concurrent mutations on the account row, and the audit event commits in
// the same transaction.
func (r *balancesRepo) Credit(ctx context.Context, accountID string, amount int64, event models.AuditEvent) (int64, error) {
	var balance int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		balance, err = creditTx(ctx, tx, accountID, amount)
		if err != nil {
			return err
		}
		return appendEventTx(ctx, tx, event)
	})
	return balance, err
}

// Debit succeeds only when the resulting balance stays non-negative; the
// WHERE clause makes the check and the subtraction one atomic statement.
func (r *balancesRepo) Debit(ctx context.Context, accountID string, amount int64, event models.AuditEvent) (int64, error) {
	var balance int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE accounts
			    SET token_balance = token_balance - $2,
			        total_used = total_used + $2,
			        updated_at = now()
			  WHERE id = $1 AND token_balance >= $2
			  RETURNING token_balance`,
			accountID, amount,
		).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id=$1)`, accountID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return repo.ErrNotFound
			}
			return repo.ErrInsufficientBalance
		}
		if err != nil {
			return err
		}
		return appendEventTx(ctx, tx, event)
	})
	return balance, err
}

// Refund reverses a debit, so it unwinds total_used instead of counting
// as a purchase.
func (r *balancesRepo) Refund(ctx context.Context, accountID string, amount int64, event models.AuditEvent) (int64, error) {
	var balance int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE accounts
			    SET token_balance = token_balance + $2,
			        total_used = total_used - $2,
			        updated_at = now()
			  WHERE id = $1
			  RETURNING token_balance`,
			accountID, amount,
		).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return repo.ErrNotFound
		}
		if err != nil {
			return err
		}
		return appendEventTx(ctx, tx, event)
	})
	return balance, err
}

func creditTx(ctx context.Context, tx pgx.Tx, accountID string, amount int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx,
		`UPDATE accounts
		    SET token_balance = token_balance + $2,
		        total_purchased = total_purchased + $2,
		        updated_at = now()
		  WHERE id = $1
		  RETURNING token_balance`,
		accountID, amount,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, repo.ErrNotFound
	}
	return balance, err
}
