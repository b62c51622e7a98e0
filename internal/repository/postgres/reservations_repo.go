package postgres

import (
	"context"
	"errors"

	"github.com/aistylehub/tokenledger/internal/models"
	repo "github.com/aistylehub/tokenledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrReservationClosed means the reservation is not in the held state.
var ErrReservationClosed = errors.New("reservation already committed or released")

type reservationsRepo struct{ pool *pgxpool.Pool }

const reservationColumns = `id, account_id, amount, operation, status, created_at, updated_at`

// Hold debits the cost and records the reservation in one transaction, so
// a crash can never leave tokens held without a reservation row.
func (r *reservationsRepo) Hold(ctx context.Context, accountID string, amount int64, operation string, event models.AuditEvent) (models.Reservation, error) {
	res := models.Reservation{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Amount:    amount,
		Operation: operation,
		Status:    models.ReservationHeld,
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE accounts
			    SET token_balance = token_balance - $2,
			        total_used = total_used + $2,
			        updated_at = now()
			  WHERE id = $1 AND token_balance >= $2
			  RETURNING id`,
			accountID, amount,
		).Scan(new(string))
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
		if err := tx.QueryRow(ctx,
			`INSERT INTO reservations(id, account_id, amount, operation, status)
			 VALUES($1,$2,$3,$4,$5)
			 RETURNING created_at, updated_at`,
			res.ID, res.AccountID, res.Amount, res.Operation, res.Status,
		).Scan(&res.CreatedAt, &res.UpdatedAt); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, event)
	})
	if err != nil {
		return models.Reservation{}, err
	}
	return res, nil
}

func (r *reservationsRepo) Commit(ctx context.Context, id string) (models.Reservation, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE reservations
		    SET status=$2, updated_at=now()
		  WHERE id=$1 AND status=$3
		  RETURNING `+reservationColumns,
		id, models.ReservationCommitted, models.ReservationHeld,
	)
	res, err := scanReservation(row)
	if errors.Is(err, repo.ErrNotFound) {
		return r.closedOrMissing(ctx, id)
	}
	return res, err
}

// Release flips the reservation and credits the amount back atomically.
// The status guard makes it safe to call once per reservation only; a
// replay hits ErrReservationClosed instead of double-crediting.
func (r *reservationsRepo) Release(ctx context.Context, id string, event models.AuditEvent) (models.Reservation, error) {
	var res models.Reservation
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE reservations
			    SET status=$2, updated_at=now()
			  WHERE id=$1 AND status=$3
			  RETURNING `+reservationColumns,
			id, models.ReservationReleased, models.ReservationHeld,
		)
		var err error
		res, err = scanReservation(row)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE accounts
			    SET token_balance = token_balance + $2,
			        total_used = total_used - $2,
			        updated_at = now()
			  WHERE id = $1`,
			res.AccountID, res.Amount,
		); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, event)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return r.closedOrMissing(ctx, id)
	}
	if err != nil {
		return models.Reservation{}, err
	}
	return res, nil
}

func (r *reservationsRepo) Get(ctx context.Context, id string) (models.Reservation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id=$1`, id)
	return scanReservation(row)
}

func (r *reservationsRepo) closedOrMissing(ctx context.Context, id string) (models.Reservation, error) {
	res, err := r.Get(ctx, id)
	if err != nil {
		return models.Reservation{}, err
	}
	return res, ErrReservationClosed
}

func scanReservation(row pgx.Row) (models.Reservation, error) {
	var res models.Reservation
	err := row.Scan(&res.ID, &res.AccountID, &res.Amount, &res.Operation,
		&res.Status, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Reservation{}, repo.ErrNotFound
	}
	return res, err
}
