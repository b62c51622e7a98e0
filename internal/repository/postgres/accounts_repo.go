package postgres

import (
	"context"
	"errors"

	"github.com/aistylehub/tokenledger/internal/models"
	repo "github.com/aistylehub/tokenledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type accountsRepo struct{ pool *pgxpool.Pool }

const accountColumns = `id, email, password_hash, role, token_balance, total_purchased, total_used, created_at, updated_at`

func (r *accountsRepo) Create(ctx context.Context, email, passwordHash, role string) (models.Account, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts(id, email, password_hash, role) VALUES($1,$2,$3,$4)`,
		id, email, passwordHash, role,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Account{}, repo.ErrDuplicateEmail
		}
		return models.Account{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *accountsRepo) GetByID(ctx context.Context, id string) (models.Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id)
}

func (r *accountsRepo) GetByEmail(ctx context.Context, email string) (models.Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email=$1`, email)
}

func (r *accountsRepo) get(ctx context.Context, query, arg string) (models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.Role,
		&a.TokenBalance, &a.TotalPurchased, &a.TotalUsed,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, repo.ErrNotFound
	}
	return a, err
}
