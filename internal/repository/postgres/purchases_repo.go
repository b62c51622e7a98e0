package postgres

import (
	"context"
	"errors"

	"github.com/aistylehub/tokenledger/internal/models"
	repo "github.com/aistylehub/tokenledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type purchasesRepo struct{ pool *pgxpool.Pool }

// Settle inserts under the provider_txn_id uniqueness constraint and
// credits tokens only when the insert wins. Two concurrent callers with
// the same transaction id race on the constraint, not on a read, so
// exactly one of them credits. This must never become check-then-insert.
func (r *purchasesRepo) Settle(ctx context.Context, p models.Purchase, event models.AuditEvent) (models.Purchase, bool, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	created := false
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO purchases(id, account_id, provider_txn_id, provider, amount, currency, tokens_credited, status)
			 VALUES($1,$2,$3,$4,$5::numeric,$6,$7,$8)
			 ON CONFLICT (provider_txn_id) DO NOTHING
			 RETURNING created_at`,
			p.ID, p.AccountID, p.ProviderTxnID, p.Provider,
			p.Amount.String(), p.Currency, p.TokensCredited, p.Status,
		).Scan(&p.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race or a replay: leave the ledger untouched.
			return nil
		}
		if err != nil {
			return err
		}
		created = true
		if _, err := creditTx(ctx, tx, p.AccountID, p.TokensCredited); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, event)
	})
	if err != nil {
		return models.Purchase{}, false, err
	}
	if !created {
		existing, err := r.GetByProviderTxnID(ctx, p.ProviderTxnID)
		return existing, false, err
	}
	return p, true, nil
}

const purchaseColumns = `id, account_id, provider_txn_id, provider, amount::text, currency, tokens_credited, status, created_at`

func (r *purchasesRepo) GetByProviderTxnID(ctx context.Context, providerTxnID string) (models.Purchase, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE provider_txn_id=$1`, providerTxnID)
	return scanPurchase(row)
}

func (r *purchasesRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Purchase, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+purchaseColumns+`
		   FROM purchases
		  WHERE account_id=$1
		  ORDER BY created_at DESC
		  LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPurchase(row pgx.Row) (models.Purchase, error) {
	var p models.Purchase
	var amount string
	err := row.Scan(&p.ID, &p.AccountID, &p.ProviderTxnID, &p.Provider,
		&amount, &p.Currency, &p.TokensCredited, &p.Status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Purchase{}, repo.ErrNotFound
	}
	if err != nil {
		return models.Purchase{}, err
	}
	p.Amount, err = decimal.NewFromString(amount)
	return p, err
}
