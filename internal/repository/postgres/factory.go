package postgres

import (
	repo "github.com/aistylehub/tokenledger/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repositories struct {
	Accounts     repo.Accounts
	Balances     repo.Balances
	Purchases    repo.Purchases
	Reservations repo.Reservations
	AuditEvents  repo.AuditEvents
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Accounts:     &accountsRepo{pool},
		Balances:     &balancesRepo{pool},
		Purchases:    &purchasesRepo{pool},
		Reservations: &reservationsRepo{pool},
		AuditEvents:  &auditEventsRepo{pool},
	}
}
