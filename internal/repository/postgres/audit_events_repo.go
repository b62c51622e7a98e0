package postgres

import (
	"context"

	"github.com/aistylehub/tokenledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type auditEventsRepo struct{ pool *pgxpool.Pool }

func (r *auditEventsRepo) Append(ctx context.Context, e models.AuditEvent) error {
	_, err := r.pool.Exec(ctx, appendEventSQL, eventArgs(e)...)
	return err
}

func (r *auditEventsRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.AuditEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, account_id, event_type, level, details, created_at
		   FROM audit_events
		  WHERE account_id=$1
		  ORDER BY created_at DESC
		  LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func (r *auditEventsRepo) ListRecent(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, account_id, event_type, level, details, created_at
		   FROM audit_events
		  ORDER BY created_at DESC
		  LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

const appendEventSQL = `INSERT INTO audit_events(id, account_id, event_type, level, details) VALUES($1,$2,$3,$4,$5)`

func eventArgs(e models.AuditEvent) []any {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	return []any{id, e.AccountID, e.EventType, e.Level, e.Details}
}

// appendEventTx writes an audit event inside a caller-owned transaction,
// so ledger writes and their audit trail commit or abort together.
func appendEventTx(ctx context.Context, tx pgx.Tx, e models.AuditEvent) error {
	_, err := tx.Exec(ctx, appendEventSQL, eventArgs(e)...)
	return err
}

func collectEvents(rows pgx.Rows) ([]models.AuditEvent, error) {
	defer rows.Close()
	var out []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		if err := rows.Scan(&e.ID, &e.AccountID, &e.EventType, &e.Level, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
